package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsByCode(t *testing.T) {
	err := fmt.Errorf("任务失败: %w", Wrap(CodeUpstreamTransient, "请求失败", errors.New("eof")))

	assert.True(t, errors.Is(err, ErrUpstreamTransient))
	assert.False(t, errors.Is(err, ErrUpstreamPermanent))
	assert.Equal(t, CodeUpstreamTransient, CodeOf(err))
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
	assert.Equal(t, "UPSTREAM_TRANSIENT: 请求失败: eof", errors.Unwrap(err).Error())
}

func TestWithContext(t *testing.T) {
	err := New(CodeNotFound, "任务集不存在").WithContext("job_set_id", "abc")
	assert.Equal(t, "abc", err.Context["job_set_id"])
}

func TestFromStore(t *testing.T) {
	assert.Nil(t, FromStore(nil))

	dup := FromStore(gorm.ErrDuplicatedKey)
	assert.Equal(t, CodeIntegrity, CodeOf(dup))

	pgDeadlock := FromStore(&pgconn.PgError{Code: "40P01"})
	assert.Equal(t, CodeStoreTransient, CodeOf(pgDeadlock))

	pgUnique := FromStore(&pgconn.PgError{Code: "23505"})
	assert.Equal(t, CodeIntegrity, CodeOf(pgUnique))

	locked := FromStore(errors.New("database is locked (5) (SQLITE_BUSY)"))
	assert.Equal(t, CodeStoreTransient, CodeOf(locked))

	// 已分类的错误不再改写
	nf := New(CodeNotFound, "x")
	assert.Same(t, nf, FromStore(nf))

	other := errors.New("syntax error")
	assert.Equal(t, other, FromStore(other))
}

func TestIsAlreadyExists(t *testing.T) {
	assert.True(t, IsAlreadyExists(&pgconn.PgError{Code: "42P07"}))
	assert.True(t, IsAlreadyExists(errors.New("table kline_daily_2024 already exists")))
	assert.False(t, IsAlreadyExists(&pgconn.PgError{Code: "42601"}))
	assert.False(t, IsAlreadyExists(nil))

	// postgres 驱动把 23505 翻译成 gorm.ErrDuplicatedKey
	assert.True(t, IsAlreadyExists(fmt.Errorf("创建分表 kline_daily_2025 失败: %w", gorm.ErrDuplicatedKey)))
	assert.True(t, IsAlreadyExists(&pgconn.PgError{Code: "23505"}))
}

func TestTruncate(t *testing.T) {
	msg := "x" + strings.Repeat("上游拒绝请求", 200)

	cut := Truncate(msg, 2000)
	assert.True(t, utf8.ValidString(cut))
	assert.LessOrEqual(t, len(cut), 2000)
	assert.True(t, strings.HasPrefix(msg, cut))
	assert.Greater(t, len(cut), 2000-utf8.UTFMax)

	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "", Truncate("上", 2))
	assert.Equal(t, "上", Truncate("上游", 4))
}
