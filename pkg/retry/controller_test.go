package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuantSync/pkg/errs"
	"QuantSync/pkg/logger"
)

func fastPolicy(n int) Policy {
	return Policy{MaxAttempts: n, Base: 10 * time.Millisecond, Cap: time.Second, Jitter: 0}
}

func TestBackOffSchedule(t *testing.T) {
	p := DefaultPolicy()
	p.Jitter = 0
	b := p.backOff()

	want := []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second, 80 * time.Second}
	for _, w := range want {
		assert.Equal(t, w, b.NextBackOff())
	}
	// 封顶
	for i := 0; i < 10; i++ {
		b.NextBackOff()
	}
	assert.Equal(t, 30*time.Minute, b.NextBackOff())

	p.Jitter = 0.3
	b = p.backOff()
	first := b.NextBackOff()
	assert.GreaterOrEqual(t, first, 7*time.Second)
	assert.LessOrEqual(t, first, 13*time.Second)
}

func TestDoSucceedsAfterTransient(t *testing.T) {
	logger.Silence()
	c := NewController(fastPolicy(5))

	calls := 0
	var waits []time.Duration
	start := time.Now()
	res := c.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errs.New(errs.CodeUpstreamTransient, "connection reset")
		}
		return nil
	}, Hooks{OnRetry: func(attempt int, err error, wait time.Duration) {
		waits = append(waits, wait)
	}})

	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []time.Duration{20 * time.Millisecond, 40 * time.Millisecond}, waits)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestDoTerminalStopsImmediately(t *testing.T) {
	logger.Silence()
	c := NewController(fastPolicy(5))

	calls := 0
	res := c.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errs.New(errs.CodeUpstreamPermanent, "股票代码不存在")
	}, Hooks{})

	require.Error(t, res.Err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, res.Attempts)
	assert.True(t, errors.Is(res.Err, errs.ErrUpstreamPermanent))
}

func TestDoExhausted(t *testing.T) {
	logger.Silence()
	c := NewController(fastPolicy(3))

	res := c.Do(context.Background(), func(ctx context.Context) error {
		return errs.New(errs.CodeStoreTransient, "database is locked")
	}, Hooks{})

	require.Error(t, res.Err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, errs.CodeStoreTransient, errs.CodeOf(res.Err))
	assert.False(t, res.DeadlineExceeded)
}

func TestDoDeadline(t *testing.T) {
	logger.Silence()
	p := fastPolicy(10)
	p.Base = 100 * time.Millisecond
	p.Deadline = 50 * time.Millisecond
	c := NewController(p)

	res := c.Do(context.Background(), func(ctx context.Context) error {
		return errs.New(errs.CodeUpstreamTransient, "上游超时")
	}, Hooks{})

	require.Error(t, res.Err)
	assert.True(t, res.DeadlineExceeded)
	assert.Equal(t, errs.CodeDeadline, errs.CodeOf(res.Err))
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, Retriable, Classify(res.Err))
}

func TestDoBeforeAttemptAborts(t *testing.T) {
	logger.Silence()
	c := NewController(fastPolicy(5))

	calls := 0
	res := c.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errs.New(errs.CodeUpstreamTransient, "上游超时")
	}, Hooks{BeforeAttempt: func(ctx context.Context, attempt int) error {
		if attempt > 2 {
			return errs.ErrCancelled
		}
		return nil
	}})

	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, res.Attempts)
	assert.True(t, errors.Is(res.Err, errs.ErrCancelled))
}

func TestDoParentCancelled(t *testing.T) {
	logger.Silence()
	c := NewController(Policy{MaxAttempts: 5, Base: time.Second, Cap: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	res := c.Do(ctx, func(ctx context.Context) error {
		return errs.New(errs.CodeUpstreamTransient, "上游超时")
	}, Hooks{})

	require.Error(t, res.Err)
	assert.False(t, res.DeadlineExceeded)
	assert.Equal(t, 1, res.Attempts)
}

func TestWithMaxAttempts(t *testing.T) {
	c := NewController(fastPolicy(5))
	assert.Equal(t, 2, c.WithMaxAttempts(2).Policy().MaxAttempts)
	assert.Equal(t, 1, c.WithMaxAttempts(0).Policy().MaxAttempts)
	assert.Equal(t, 5, c.Policy().MaxAttempts)
}

type tempErr struct{}

func (tempErr) Error() string   { return "busy" }
func (tempErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Class
	}{
		{"空错误", nil, Terminal},
		{"上游临时", errs.New(errs.CodeUpstreamTransient, "x"), Retriable},
		{"存储临时", errs.Wrap(errs.CodeStoreTransient, "x", errors.New("y")), Retriable},
		{"执行超时", errs.ErrDeadline, Retriable},
		{"上游永久", errs.ErrUpstreamPermanent, Terminal},
		{"规范化", errs.ErrNormalization, Terminal},
		{"约束冲突", errs.ErrIntegrity, Terminal},
		{"已取消", errs.ErrCancelled, Terminal},
		{"上下文取消", fmt.Errorf("fetch: %w", context.Canceled), Terminal},
		{"上下文超时", fmt.Errorf("fetch: %w", context.DeadlineExceeded), Retriable},
		{"Temporary", tempErr{}, Retriable},
		{"数据库锁", errors.New("database is locked"), Retriable},
		{"连接拒绝", errors.New("dial tcp: connection refused"), Retriable},
		{"限流", errors.New("访问频繁，请稍后再试"), Retriable},
		{"程序错误", errors.New("nil map"), Terminal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}
