package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"QuantSync/pkg/database"
	"QuantSync/pkg/errs"
	"QuantSync/pkg/logger"
	"QuantSync/pkg/model"
)

// FanOutRequest 扇出请求
type FanOutRequest struct {
	Kind      Kind
	Entities  []Entity
	Payload   map[string]interface{}
	CreatedBy string
}

// Dispatcher 任务分发器
type Dispatcher interface {
	// FanOut 为每个实体记录一个 pending 任务并入队，返回任务集
	FanOut(ctx context.Context, req FanOutRequest) (*model.JobSet, error)
	// Cancel 取消任务集，返回直接取消的未开始任务数
	Cancel(ctx context.Context, setID string) (int64, error)
	// Progress 任务集进度
	Progress(ctx context.Context, setID string) (*model.JobSetProgress, error)
}

// Queue 任务入队
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
}

// Engine 分发器的公共实现，入队方式由 Queue 决定
type Engine struct {
	jobs        *database.JobDB
	queue       Queue
	maxAttempts int
	logger      *logrus.Entry
}

// NewEngine 创建分发引擎
func NewEngine(jobs *database.JobDB, queue Queue, maxAttempts int) *Engine {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Engine{
		jobs:        jobs,
		queue:       queue,
		maxAttempts: maxAttempts,
		logger:      logger.WithComponent("dispatch"),
	}
}

func (e *Engine) FanOut(ctx context.Context, req FanOutRequest) (*model.JobSet, error) {
	var payload datatypes.JSON
	if len(req.Payload) > 0 {
		data, err := json.Marshal(req.Payload)
		if err != nil {
			return nil, errs.Wrap(errs.CodeDispatch, "序列化任务参数失败", err)
		}
		payload = datatypes.JSON(data)
	}

	set := &model.JobSet{
		ID:        uuid.NewString(),
		Kind:      string(req.Kind),
		Total:     len(req.Entities),
		CreatedBy: req.CreatedBy,
		CreatedAt: time.Now().UTC(),
	}
	records := make([]model.JobRecord, len(req.Entities))
	jobs := make([]Job, len(req.Entities))
	for i, ent := range req.Entities {
		records[i] = model.JobRecord{
			ID:          uuid.NewString(),
			JobSetID:    set.ID,
			Kind:        string(req.Kind),
			Queue:       req.Kind.Queue(),
			EntityID:    ent.ID,
			EntityCode:  ent.Code,
			State:       model.JobPending,
			MaxAttempts: e.maxAttempts,
			Payload:     payload,
		}
		jobs[i] = Job{
			ID:          records[i].ID,
			SetID:       set.ID,
			Kind:        req.Kind,
			EntityID:    ent.ID,
			EntityCode:  ent.Code,
			Payload:     req.Payload,
			MaxAttempts: e.maxAttempts,
		}
	}

	if err := e.jobs.CreateSet(ctx, set, records); err != nil {
		return nil, errs.Wrap(errs.CodeDispatch, "记录任务失败", err)
	}

	for i, job := range jobs {
		if err := e.queue.Enqueue(ctx, job); err != nil {
			e.logger.WithError(err).WithFields(logrus.Fields{
				"job_set_id": set.ID,
				"enqueued":   i,
				"total":      len(jobs),
			}).Error("任务入队失败")
			cause := errs.Wrap(errs.CodeDispatch, fmt.Sprintf("任务入队失败，已入队 %d/%d", i, len(jobs)), err).
				WithContext("job_set_id", set.ID)
			e.failUnsent(set.ID, jobs[i:], cause)
			return set, cause
		}
	}

	e.logger.WithFields(logrus.Fields{
		"job_set_id": set.ID,
		"kind":       req.Kind,
		"total":      set.Total,
	}).Info("任务集已入队")
	return set, nil
}

// failUnsent 未入队的任务不会被任何 worker 领取，直接终止以免任务集永远不结束
func (e *Engine) failUnsent(setID string, unsent []Job, cause error) {
	ids := make([]string, len(unsent))
	for i, job := range unsent {
		ids[i] = job.ID
	}
	// 请求上下文可能已被取消，收尾使用独立的上下文
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	n, err := e.jobs.FailUnsent(ctx, ids, cause, time.Now().UTC())
	if err != nil {
		e.logger.WithError(err).WithField("job_set_id", setID).Error("标记未入队任务失败")
		return
	}
	e.logger.WithFields(logrus.Fields{
		"job_set_id": setID,
		"failed":     n,
	}).Warn("未入队的任务已标记为失败")
}

func (e *Engine) Cancel(ctx context.Context, setID string) (int64, error) {
	n, err := e.jobs.Cancel(ctx, setID, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	e.logger.WithFields(logrus.Fields{
		"job_set_id": setID,
		"cancelled":  n,
	}).Info("任务集已取消")
	return n, nil
}

func (e *Engine) Progress(ctx context.Context, setID string) (*model.JobSetProgress, error) {
	return e.jobs.Progress(ctx, setID)
}
