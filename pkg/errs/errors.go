package errs

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Code 错误分类代码
type Code string

const (
	CodeSchema            Code = "SCHEMA"
	CodeIntegrity         Code = "INTEGRITY"
	CodeUpstreamTransient Code = "UPSTREAM_TRANSIENT"
	CodeUpstreamPermanent Code = "UPSTREAM_PERMANENT"
	CodeNormalization     Code = "NORMALIZATION"
	CodeStoreTransient    Code = "STORE_TRANSIENT"
	CodeDispatch          Code = "DISPATCH"
	CodeCancelled         Code = "CANCELLED"
	CodeDeadline          Code = "DEADLINE"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeNotFound          Code = "NOT_FOUND"
)

// 用于 errors.Is 比较的哨兵错误，按 Code 匹配
var (
	ErrSchema            = New(CodeSchema, "表结构错误")
	ErrIntegrity         = New(CodeIntegrity, "数据完整性约束冲突")
	ErrUpstreamTransient = New(CodeUpstreamTransient, "上游临时错误")
	ErrUpstreamPermanent = New(CodeUpstreamPermanent, "上游永久错误")
	ErrNormalization     = New(CodeNormalization, "数据规范化失败")
	ErrStoreTransient    = New(CodeStoreTransient, "存储临时错误")
	ErrDispatch          = New(CodeDispatch, "任务入队失败")
	ErrCancelled         = New(CodeCancelled, "任务集已取消")
	ErrDeadline          = New(CodeDeadline, "超出执行时限")
	ErrUnauthorized      = New(CodeUnauthorized, "未授权")
	ErrNotFound          = New(CodeNotFound, "记录不存在")
)

// BaseError 基础错误类型
type BaseError struct {
	Code    Code                   `json:"code"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// New 创建新的基础错误
func New(code Code, message string) *BaseError {
	return &BaseError{Code: code, Message: message}
}

// Wrap 包装现有错误
func Wrap(code Code, message string, cause error) *BaseError {
	return &BaseError{Code: code, Message: message, Cause: cause}
}

// Error 实现 error 接口
func (e *BaseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap 支持错误包装
func (e *BaseError) Unwrap() error {
	return e.Cause
}

// Is 按错误代码比较
func (e *BaseError) Is(target error) bool {
	if t, ok := target.(*BaseError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext 附加上下文信息
func (e *BaseError) WithContext(key string, value interface{}) *BaseError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// CodeOf 返回错误链上最外层的错误代码，非 BaseError 返回空串
func CodeOf(err error) Code {
	var be *BaseError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

// Truncate 截断到不超过 n 字节，不拆开多字节字符
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
