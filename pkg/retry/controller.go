package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"QuantSync/pkg/config"
	"QuantSync/pkg/errs"
	"QuantSync/pkg/logger"
)

// Policy 退避策略
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Cap         time.Duration
	Jitter      float64
	Deadline    time.Duration // 整个重试周期的硬时限，0 表示不限
}

// DefaultPolicy 5 次，5s 起步，30 分钟封顶，±30% 抖动，整个周期 25 分钟截止
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		Base:        5 * time.Second,
		Cap:         30 * time.Minute,
		Jitter:      0.3,
		Deadline:    25 * time.Minute,
	}
}

// PolicyFromConfig 由配置构建策略
func PolicyFromConfig(cfg config.RetryConfig, maxAttempts int) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		Base:        cfg.Base,
		Cap:         cfg.Cap,
		Jitter:      cfg.Jitter,
		Deadline:    cfg.Deadline,
	}
}

// backOff 第 n 次失败后等待 min(cap, base·2^n)，再叠加 ±jitter 的随机抖动
func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.Base * 2,
		RandomizationFactor: p.Jitter,
		Multiplier:          2,
		MaxInterval:         p.Cap,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// Hooks 每次尝试前后的回调
type Hooks struct {
	// BeforeAttempt 返回错误时不再尝试，例如任务集已取消
	BeforeAttempt func(ctx context.Context, attempt int) error
	// OnRetry 失败后进入等待前调用
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Result 一次受控调用的结果
type Result struct {
	Attempts         int
	Err              error
	DeadlineExceeded bool
}

// Controller 重试控制器
type Controller struct {
	policy Policy
	logger *logrus.Entry
}

// NewController 创建重试控制器
func NewController(policy Policy) *Controller {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &Controller{
		policy: policy,
		logger: logger.WithComponent("retry"),
	}
}

// Policy 当前策略
func (c *Controller) Policy() Policy {
	return c.policy
}

// WithMaxAttempts 返回次数上限不同的副本，用于消息重投后按剩余次数继续
func (c *Controller) WithMaxAttempts(n int) *Controller {
	if n <= 0 {
		n = 1
	}
	policy := c.policy
	policy.MaxAttempts = n
	return &Controller{policy: policy, logger: c.logger}
}

// Do 执行 op，可重试错误按策略退避，终止性错误立即返回
func (c *Controller) Do(ctx context.Context, op func(ctx context.Context) error, hooks Hooks) Result {
	dctx := ctx
	if c.policy.Deadline > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, c.policy.Deadline)
		defer cancel()
	}

	attempts := 0
	var lastErr error

	operation := func() error {
		if hooks.BeforeAttempt != nil {
			if err := hooks.BeforeAttempt(dctx, attempts+1); err != nil {
				lastErr = err
				return backoff.Permanent(err)
			}
		}
		attempts++
		err := op(dctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if Classify(err) == Terminal {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempts,
			"wait":    wait.String(),
		}).Warn("可重试错误，等待后重试")
		if hooks.OnRetry != nil {
			hooks.OnRetry(attempts, err, wait)
		}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.policy.backOff(), uint64(c.policy.MaxAttempts-1)), dctx)
	err := backoff.RetryNotify(operation, b, notify)
	if err == nil {
		return Result{Attempts: attempts}
	}

	if errors.Is(dctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		cause := lastErr
		if cause == nil {
			cause = err
		}
		return Result{
			Attempts:         attempts,
			Err:              errs.Wrap(errs.CodeDeadline, "超出重试截止时间", cause),
			DeadlineExceeded: true,
		}
	}
	if lastErr != nil {
		err = lastErr
	}
	return Result{Attempts: attempts, Err: err}
}
