package dispatch

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"QuantSync/pkg/database"
	"QuantSync/pkg/logger"
)

// 进程内重新投递次数上限
const inlineRedeliveries = 3

// InlineQueue 进程内队列，每个队列用信号量限制并发；入队不阻塞
type InlineQueue struct {
	ctx    context.Context
	worker *Worker
	limits map[string]int

	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
	wg   sync.WaitGroup

	logger *logrus.Entry
}

// NewInlineQueue ctx 控制队列生命周期，与入队请求无关
func NewInlineQueue(ctx context.Context, worker *Worker, concurrency map[string]int) *InlineQueue {
	return &InlineQueue{
		ctx:    ctx,
		worker: worker,
		limits: concurrency,
		sems:   make(map[string]*semaphore.Weighted),
		logger: logger.WithComponent("dispatch.inline"),
	}
}

func (q *InlineQueue) semaphore(queue string) *semaphore.Weighted {
	q.mu.Lock()
	defer q.mu.Unlock()
	sem, ok := q.sems[queue]
	if !ok {
		n := q.limits[queue]
		if n <= 0 {
			n = 1
		}
		sem = semaphore.NewWeighted(int64(n))
		q.sems[queue] = sem
	}
	return sem
}

func (q *InlineQueue) Enqueue(_ context.Context, job Job) error {
	sem := q.semaphore(job.Kind.Queue())
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if err := sem.Acquire(q.ctx, 1); err != nil {
			return
		}
		defer sem.Release(1)

		for delivery := 1; delivery <= inlineRedeliveries; delivery++ {
			err := q.worker.Process(q.ctx, job)
			if err == nil || q.ctx.Err() != nil {
				return
			}
			q.logger.WithError(err).WithFields(logrus.Fields{
				"job_id":   job.ID,
				"delivery": delivery,
			}).Warn("任务处理失败，重新投递")
		}
	}()
	return nil
}

// Wait 等待已入队任务全部结束
func (q *InlineQueue) Wait() {
	q.wg.Wait()
}

// InlineDispatcher 进程内执行的分发器，用于测试与单机运行
type InlineDispatcher struct {
	*Engine
	queue *InlineQueue
}

func NewInlineDispatcher(ctx context.Context, jobs *database.JobDB, worker *Worker, concurrency map[string]int, maxAttempts int) *InlineDispatcher {
	queue := NewInlineQueue(ctx, worker, concurrency)
	return &InlineDispatcher{
		Engine: NewEngine(jobs, queue, maxAttempts),
		queue:  queue,
	}
}

// Wait 等待已入队任务全部结束
func (d *InlineDispatcher) Wait() {
	d.queue.Wait()
}
