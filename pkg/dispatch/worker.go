package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"QuantSync/pkg/database"
	"QuantSync/pkg/errs"
	"QuantSync/pkg/logger"
	"QuantSync/pkg/retry"
)

// Handler 执行单个任务，必须幂等
type Handler func(ctx context.Context, job Job) (Result, error)

// Limits 单次尝试的时限
type Limits struct {
	Soft time.Duration // 超过后记录告警
	Hard time.Duration // 超过后取消本次尝试，按可重试处理
}

// Worker 从队列取出任务后执行，负责重试与状态流转
type Worker struct {
	jobs       *database.JobDB
	controller *retry.Controller
	handlers   map[Kind]Handler
	limits     Limits
	now        func() time.Time
	logger     *logrus.Entry
}

// NewWorker 创建任务执行器
func NewWorker(jobs *database.JobDB, controller *retry.Controller, limits Limits) *Worker {
	return &Worker{
		jobs:       jobs,
		controller: controller,
		handlers:   make(map[Kind]Handler),
		limits:     limits,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger.WithComponent("worker"),
	}
}

// Register 注册任务处理函数
func (w *Worker) Register(kind Kind, h Handler) {
	w.handlers[kind] = h
}

// Kinds 已注册的任务类型
func (w *Worker) Kinds() []Kind {
	kinds := make([]Kind, 0, len(w.handlers))
	for k := range w.handlers {
		kinds = append(kinds, k)
	}
	return kinds
}

// Process 执行一个任务直到进入终态；返回错误表示记录状态失败，消息应重新投递
func (w *Worker) Process(ctx context.Context, job Job) error {
	log := w.logger.WithFields(logrus.Fields{
		"job_id":     job.ID,
		"job_set_id": job.SetID,
		"kind":       job.Kind,
		"entity":     job.EntityCode,
	})

	rec, err := w.jobs.Get(ctx, job.ID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			log.Warn("任务记录不存在，丢弃消息")
			return nil
		}
		return err
	}
	// 至少一次投递，重复消息直接跳过
	if rec.State.IsTerminal() {
		log.WithField("state", rec.State).Debug("任务已结束，跳过")
		return nil
	}

	cancelled, err := w.jobs.IsCancelled(ctx, job.SetID)
	if err != nil {
		return err
	}
	if cancelled {
		_, err := w.jobs.MarkCancelled(ctx, job.ID, w.now())
		log.Info("任务集已取消，跳过任务")
		return err
	}

	handler, ok := w.handlers[job.Kind]
	if !ok {
		_, err := w.jobs.MarkFailed(ctx, job.ID, rec.Attempts, errs.New(errs.CodeDispatch, "未注册的任务类型: "+string(job.Kind)), w.now())
		return err
	}

	maxAttempts := rec.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = w.controller.Policy().MaxAttempts
	}
	remaining := maxAttempts - rec.Attempts
	if remaining <= 0 {
		_, err := w.jobs.MarkFailed(ctx, job.ID, rec.Attempts, errs.New(errs.CodeDispatch, "已达到最大尝试次数"), w.now())
		return err
	}

	attempt := rec.Attempts
	var result Result
	res := w.controller.WithMaxAttempts(remaining).Do(ctx, func(actx context.Context) error {
		attempt++
		if _, err := w.jobs.MarkRunning(actx, job.ID, attempt, w.now()); err != nil {
			return err
		}
		out, err := w.runAttempt(actx, handler, job, log.WithField("attempt", attempt))
		if err != nil {
			return err
		}
		result = out
		return nil
	}, retry.Hooks{
		BeforeAttempt: func(actx context.Context, n int) error {
			if n == 1 {
				return nil
			}
			cancelled, err := w.jobs.IsCancelled(actx, job.SetID)
			if err != nil {
				log.WithError(err).Warn("读取取消标记失败")
				return nil
			}
			if cancelled {
				return errs.New(errs.CodeCancelled, "任务集已取消")
			}
			return nil
		},
		OnRetry: func(_ int, err error, wait time.Duration) {
			if _, e := w.jobs.MarkRetrying(ctx, job.ID, attempt, err); e != nil {
				log.WithError(e).Warn("记录重试状态失败")
			}
		},
	})

	// 进程退出时不落终态，等待重新投递
	if ctx.Err() != nil {
		return ctx.Err()
	}

	finished := w.now()
	switch {
	case res.Err == nil:
		_, err = w.jobs.MarkSucceeded(ctx, job.ID, attempt, result.Rows, result.Checkpoint, finished)
		log.WithFields(logrus.Fields{"attempts": attempt, "rows": result.Rows}).Info("任务成功")
	case errors.Is(res.Err, errs.ErrCancelled):
		_, err = w.jobs.MarkCancelled(ctx, job.ID, finished)
		log.Info("任务集已取消，停止重试")
	default:
		_, err = w.jobs.MarkFailed(ctx, job.ID, attempt, res.Err, finished)
		log.WithError(res.Err).WithFields(logrus.Fields{
			"attempts": attempt,
			"class":    retry.Classify(res.Err).String(),
		}).Error("任务失败")
	}
	return err
}

func (w *Worker) runAttempt(ctx context.Context, handler Handler, job Job, log *logrus.Entry) (Result, error) {
	hctx, cancel := ctx, context.CancelFunc(func() {})
	if w.limits.Hard > 0 {
		hctx, cancel = context.WithTimeout(ctx, w.limits.Hard)
	}
	defer cancel()

	if w.limits.Soft > 0 {
		start := time.Now()
		timer := time.AfterFunc(w.limits.Soft, func() {
			log.WithField("elapsed", time.Since(start).String()).Warn("任务执行超过软时限")
		})
		defer timer.Stop()
	}

	out, err := handler(hctx, job)
	if err != nil && errors.Is(hctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return out, errs.Wrap(errs.CodeDeadline, "单次执行超过硬时限", err)
	}
	return out, err
}
