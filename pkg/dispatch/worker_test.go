package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuantSync/pkg/database"
	"QuantSync/pkg/errs"
	"QuantSync/pkg/model"
	"QuantSync/pkg/retry"
	"QuantSync/pkg/testkit"
)

// recordingQueue 只记录入队的任务，由测试手动交给 worker
type recordingQueue struct {
	mu   sync.Mutex
	jobs []Job
	fail error
	// failAfter 成功入队多少个之后开始返回 fail
	failAfter int
}

func (q *recordingQueue) Enqueue(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail != nil && len(q.jobs) >= q.failAfter {
		return q.fail
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func fastController(n int) *retry.Controller {
	return retry.NewController(retry.Policy{MaxAttempts: n, Base: 5 * time.Millisecond, Cap: 50 * time.Millisecond})
}

type fixture struct {
	stores *database.Stores
	queue  *recordingQueue
	engine *Engine
	worker *Worker
}

func newFixture(t *testing.T, maxAttempts int) *fixture {
	t.Helper()
	stores := testkit.NewStores(t)
	queue := &recordingQueue{}
	return &fixture{
		stores: stores,
		queue:  queue,
		engine: NewEngine(stores.Jobs, queue, maxAttempts),
		worker: NewWorker(stores.Jobs, fastController(maxAttempts), Limits{}),
	}
}

func (f *fixture) fanOut(t *testing.T, kind Kind, codes ...string) *model.JobSet {
	t.Helper()
	entities := make([]Entity, len(codes))
	for i, c := range codes {
		entities[i] = Entity{ID: uint(i + 1), Code: c}
	}
	set, err := f.engine.FanOut(context.Background(), FanOutRequest{Kind: kind, Entities: entities, CreatedBy: "test:1"})
	require.NoError(t, err)
	return set
}

func (f *fixture) record(t *testing.T, id string) *model.JobRecord {
	t.Helper()
	rec, err := f.stores.Jobs.Get(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func TestFanOutRecordsPendingJobs(t *testing.T) {
	f := newFixture(t, 5)
	set := f.fanOut(t, KindKlineDaily, "000001", "000002", "000003")

	assert.Equal(t, 3, set.Total)
	require.Len(t, f.queue.jobs, 3)
	for _, job := range f.queue.jobs {
		assert.Equal(t, set.ID, job.SetID)
		rec := f.record(t, job.ID)
		assert.Equal(t, model.JobPending, rec.State)
		assert.Equal(t, QueueKline, rec.Queue)
		assert.Equal(t, 5, rec.MaxAttempts)
		assert.Zero(t, rec.Attempts)
	}

	progress, err := f.engine.Progress(context.Background(), set.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, progress.States[model.JobPending])
	assert.False(t, progress.Done)
}

func TestFanOutEmpty(t *testing.T) {
	f := newFixture(t, 5)
	set := f.fanOut(t, KindStockList)
	assert.Zero(t, set.Total)

	progress, err := f.engine.Progress(context.Background(), set.ID)
	require.NoError(t, err)
	assert.True(t, progress.Done)
}

func TestFanOutEnqueueFailure(t *testing.T) {
	f := newFixture(t, 5)
	f.queue.fail = errors.New("nats: no responders available")

	set, err := f.engine.FanOut(context.Background(), FanOutRequest{
		Kind:     KindIndustryMembers,
		Entities: []Entity{{ID: 1, Code: "BK0475"}},
	})
	require.Error(t, err)
	assert.Equal(t, errs.CodeDispatch, errs.CodeOf(err))
	require.NotNil(t, set)

	var be *errs.BaseError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, set.ID, be.Context["job_set_id"])

	// 未入队的任务已终止，取消时没有可取消的 pending 任务
	n, err := f.engine.Cancel(context.Background(), set.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	progress, err := f.engine.Progress(context.Background(), set.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.States[model.JobFailed])
	assert.True(t, progress.Done)
}

func TestFanOutPartialEnqueue(t *testing.T) {
	f := newFixture(t, 5)
	f.queue.fail = errors.New("nats: timeout")
	f.queue.failAfter = 2

	set, err := f.engine.FanOut(context.Background(), FanOutRequest{
		Kind: KindKlineDaily,
		Entities: []Entity{
			{ID: 1, Code: "000001"}, {ID: 2, Code: "000002"},
			{ID: 3, Code: "000003"}, {ID: 4, Code: "000004"},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "已入队 2/4")
	require.NotNil(t, set)
	require.Len(t, f.queue.jobs, 2)

	sent := map[string]bool{}
	for _, job := range f.queue.jobs {
		sent[job.ID] = true
		assert.Equal(t, model.JobPending, f.record(t, job.ID).State)
	}

	recs, err := f.stores.Jobs.ListBySet(context.Background(), set.ID, model.JobFailed, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, rec := range recs {
		assert.False(t, sent[rec.ID])
		assert.Contains(t, rec.LastError, "nats: timeout")
		assert.NotNil(t, rec.FinishedAt)
	}

	// 已入队的任务照常执行，任务集随之结束
	f.worker.Register(KindKlineDaily, func(ctx context.Context, job Job) (Result, error) {
		return Result{Rows: 1}, nil
	})
	for _, job := range f.queue.jobs {
		require.NoError(t, f.worker.Process(context.Background(), job))
	}
	progress, err := f.engine.Progress(context.Background(), set.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, progress.States[model.JobSucceeded])
	assert.Equal(t, 2, progress.States[model.JobFailed])
	assert.True(t, progress.Done)
}

func TestProcessSuccess(t *testing.T) {
	f := newFixture(t, 5)
	cp := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	f.worker.Register(KindKlineDaily, func(ctx context.Context, job Job) (Result, error) {
		return Result{Rows: 10, Checkpoint: &cp}, nil
	})
	f.fanOut(t, KindKlineDaily, "000001")

	job := f.queue.jobs[0]
	require.NoError(t, f.worker.Process(context.Background(), job))

	rec := f.record(t, job.ID)
	assert.Equal(t, model.JobSucceeded, rec.State)
	assert.Equal(t, 1, rec.Attempts)
	assert.Equal(t, 10, rec.RowsWritten)
	require.NotNil(t, rec.Checkpoint)
	assert.True(t, cp.Equal(*rec.Checkpoint))
	assert.NotNil(t, rec.StartedAt)
	assert.NotNil(t, rec.FinishedAt)
	assert.Empty(t, rec.LastError)
}

func TestProcessRetriesTransient(t *testing.T) {
	f := newFixture(t, 5)
	var calls int32
	f.worker.Register(KindKlineDaily, func(ctx context.Context, job Job) (Result, error) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			return Result{}, errs.New(errs.CodeUpstreamTransient, "connection reset by peer")
		}
		return Result{Rows: 1}, nil
	})
	f.fanOut(t, KindKlineDaily, "000001")

	job := f.queue.jobs[0]
	require.NoError(t, f.worker.Process(context.Background(), job))

	rec := f.record(t, job.ID)
	assert.Equal(t, model.JobSucceeded, rec.State)
	assert.Equal(t, 3, rec.Attempts)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestProcessTerminalFailure(t *testing.T) {
	f := newFixture(t, 5)
	var calls int32
	f.worker.Register(KindKlineDaily, func(ctx context.Context, job Job) (Result, error) {
		atomic.AddInt32(&calls, 1)
		return Result{}, errs.New(errs.CodeUpstreamPermanent, "股票代码不存在")
	})
	f.fanOut(t, KindKlineDaily, "999999")

	job := f.queue.jobs[0]
	require.NoError(t, f.worker.Process(context.Background(), job))

	rec := f.record(t, job.ID)
	assert.Equal(t, model.JobFailed, rec.State)
	assert.Equal(t, 1, rec.Attempts)
	assert.Contains(t, rec.LastError, "UPSTREAM_PERMANENT")
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestProcessExhaustsAttempts(t *testing.T) {
	f := newFixture(t, 3)
	f.worker.Register(KindKlineDaily, func(ctx context.Context, job Job) (Result, error) {
		return Result{}, errs.New(errs.CodeStoreTransient, "database is locked")
	})
	f.fanOut(t, KindKlineDaily, "000001")

	job := f.queue.jobs[0]
	require.NoError(t, f.worker.Process(context.Background(), job))

	rec := f.record(t, job.ID)
	assert.Equal(t, model.JobFailed, rec.State)
	assert.Equal(t, 3, rec.Attempts)
	assert.Contains(t, rec.LastError, "database is locked")
}

func TestProcessRedeliveryOfFinishedJob(t *testing.T) {
	f := newFixture(t, 5)
	var calls int32
	f.worker.Register(KindKlineDaily, func(ctx context.Context, job Job) (Result, error) {
		atomic.AddInt32(&calls, 1)
		return Result{Rows: 1}, nil
	})
	f.fanOut(t, KindKlineDaily, "000001")

	job := f.queue.jobs[0]
	require.NoError(t, f.worker.Process(context.Background(), job))
	require.NoError(t, f.worker.Process(context.Background(), job))

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.Equal(t, 1, f.record(t, job.ID).Attempts)
}

func TestProcessAttemptsAcrossRedelivery(t *testing.T) {
	f := newFixture(t, 3)
	var calls int32
	f.worker.Register(KindKlineDaily, func(ctx context.Context, job Job) (Result, error) {
		atomic.AddInt32(&calls, 1)
		return Result{}, errs.New(errs.CodeUpstreamTransient, "上游超时")
	})
	f.fanOut(t, KindKlineDaily, "000001")
	job := f.queue.jobs[0]

	// 上一次投递已用掉两次尝试后进程退出
	require.NoError(t, f.stores.DB.Model(&model.JobRecord{}).Where("id = ?", job.ID).
		Updates(map[string]interface{}{"state": model.JobRetrying, "attempts": 2}).Error)

	require.NoError(t, f.worker.Process(context.Background(), job))
	rec := f.record(t, job.ID)
	assert.Equal(t, model.JobFailed, rec.State)
	assert.Equal(t, 3, rec.Attempts)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestProcessShutdownLeavesJobOpen(t *testing.T) {
	f := newFixture(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	f.worker.Register(KindKlineDaily, func(hctx context.Context, job Job) (Result, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			cancel()
			<-hctx.Done()
			return Result{}, hctx.Err()
		}
		return Result{Rows: 2}, nil
	})
	f.fanOut(t, KindKlineDaily, "000001")
	job := f.queue.jobs[0]

	err := f.worker.Process(ctx, job)
	assert.ErrorIs(t, err, context.Canceled)
	rec := f.record(t, job.ID)
	assert.Equal(t, model.JobRunning, rec.State)
	assert.Equal(t, 1, rec.Attempts)

	// 重新投递后继续计数
	require.NoError(t, f.worker.Process(context.Background(), job))
	rec = f.record(t, job.ID)
	assert.Equal(t, model.JobSucceeded, rec.State)
	assert.Equal(t, 2, rec.Attempts)
}

func TestProcessCancelledBeforeStart(t *testing.T) {
	f := newFixture(t, 5)
	var calls int32
	f.worker.Register(KindKlineDaily, func(ctx context.Context, job Job) (Result, error) {
		atomic.AddInt32(&calls, 1)
		return Result{}, nil
	})
	set := f.fanOut(t, KindKlineDaily, "000001", "000002")

	n, err := f.engine.Cancel(context.Background(), set.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	for _, job := range f.queue.jobs {
		require.NoError(t, f.worker.Process(context.Background(), job))
		assert.Equal(t, model.JobCancelled, f.record(t, job.ID).State)
	}
	assert.Zero(t, atomic.LoadInt32(&calls))

	progress, err := f.engine.Progress(context.Background(), set.ID)
	require.NoError(t, err)
	assert.True(t, progress.Cancelled)
	assert.True(t, progress.Done)
	assert.Equal(t, 2, progress.States[model.JobCancelled])
}

func TestProcessCancelledBetweenAttempts(t *testing.T) {
	f := newFixture(t, 5)
	var calls int32
	f.worker.Register(KindKlineDaily, func(ctx context.Context, job Job) (Result, error) {
		atomic.AddInt32(&calls, 1)
		_, err := f.stores.Jobs.Cancel(ctx, job.SetID, time.Now().UTC())
		require.NoError(t, err)
		return Result{}, errs.New(errs.CodeUpstreamTransient, "上游超时")
	})
	f.fanOut(t, KindKlineDaily, "000001")
	job := f.queue.jobs[0]

	require.NoError(t, f.worker.Process(context.Background(), job))
	rec := f.record(t, job.ID)
	assert.Equal(t, model.JobCancelled, rec.State)
	assert.Equal(t, 1, rec.Attempts)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestProcessHardLimit(t *testing.T) {
	f := newFixture(t, 2)
	f.worker.limits = Limits{Soft: 5 * time.Millisecond, Hard: 30 * time.Millisecond}
	f.worker.Register(KindKlineDaily, func(ctx context.Context, job Job) (Result, error) {
		<-ctx.Done()
		return Result{}, ctx.Err()
	})
	f.fanOut(t, KindKlineDaily, "000001")
	job := f.queue.jobs[0]

	require.NoError(t, f.worker.Process(context.Background(), job))
	rec := f.record(t, job.ID)
	assert.Equal(t, model.JobFailed, rec.State)
	assert.Equal(t, 2, rec.Attempts)
	assert.Contains(t, rec.LastError, "DEADLINE")
}

func TestProcessUnknownKind(t *testing.T) {
	f := newFixture(t, 5)
	f.fanOut(t, KindConceptList, "concept")
	job := f.queue.jobs[0]

	require.NoError(t, f.worker.Process(context.Background(), job))
	rec := f.record(t, job.ID)
	assert.Equal(t, model.JobFailed, rec.State)
	assert.Contains(t, rec.LastError, "DISPATCH")
}

func TestProcessMissingRecord(t *testing.T) {
	f := newFixture(t, 5)
	err := f.worker.Process(context.Background(), Job{ID: "missing", SetID: "missing", Kind: KindKlineDaily})
	assert.NoError(t, err)
}

func TestInlineDispatcherConcurrency(t *testing.T) {
	stores := testkit.NewStores(t)
	worker := NewWorker(stores.Jobs, fastController(5), Limits{})

	var running, peak int32
	worker.Register(KindKlineDaily, func(ctx context.Context, job Job) (Result, error) {
		n := atomic.AddInt32(&running, 1)
		defer atomic.AddInt32(&running, -1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return Result{Rows: 1}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := NewInlineDispatcher(ctx, stores.Jobs, worker, map[string]int{QueueKline: 2}, 5)

	entities := make([]Entity, 12)
	for i := range entities {
		entities[i] = Entity{ID: uint(i + 1), Code: "code"}
	}
	set, err := d.FanOut(context.Background(), FanOutRequest{Kind: KindKlineDaily, Entities: entities})
	require.NoError(t, err)
	d.Wait()

	progress, err := d.Progress(context.Background(), set.ID)
	require.NoError(t, err)
	assert.True(t, progress.Done)
	assert.Equal(t, 12, progress.States[model.JobSucceeded])
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}
