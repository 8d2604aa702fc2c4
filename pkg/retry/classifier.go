package retry

import (
	"context"
	"errors"
	"net"
	"strings"

	"QuantSync/pkg/errs"
)

// Class 错误分类
type Class int

const (
	Terminal Class = iota
	Retriable
)

func (c Class) String() string {
	if c == Retriable {
		return "retriable"
	}
	return "terminal"
}

var retriableCodes = map[errs.Code]bool{
	errs.CodeUpstreamTransient: true,
	errs.CodeStoreTransient:    true,
	errs.CodeDeadline:          true,
}

var terminalCodes = map[errs.Code]bool{
	errs.CodeSchema:            true,
	errs.CodeIntegrity:         true,
	errs.CodeUpstreamPermanent: true,
	errs.CodeNormalization:     true,
	errs.CodeCancelled:         true,
	errs.CodeNotFound:          true,
}

// 上游库未分类时按错误信息判断
var retriableMessages = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"no such host",
	"eof",
	"too many requests",
	"rate limit",
	"限流",
	"访问频繁",
}

// Classify 判断错误是否值得重试，无法识别的错误视为程序错误，不重试
func Classify(err error) Class {
	if err == nil {
		return Terminal
	}

	if code := errs.CodeOf(err); code != "" {
		if retriableCodes[code] {
			return Retriable
		}
		if terminalCodes[code] {
			return Terminal
		}
	}

	if errors.Is(err, context.Canceled) {
		return Terminal
	}
	// 单次执行超过硬时限
	if errors.Is(err, context.DeadlineExceeded) {
		return Retriable
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Retriable
	}
	var temp interface{ Temporary() bool }
	if errors.As(err, &temp) && temp.Temporary() {
		return Retriable
	}

	if errs.IsStoreTransient(err) {
		return Retriable
	}

	msg := strings.ToLower(err.Error())
	for _, s := range retriableMessages {
		if strings.Contains(msg, s) {
			return Retriable
		}
	}
	return Terminal
}
