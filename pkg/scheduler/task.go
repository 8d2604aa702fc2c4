package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"QuantSync/pkg/config"
	"QuantSync/pkg/logger"
	"QuantSync/pkg/model"
	"QuantSync/pkg/service"
)

// 单次提交的超时
const submitTimeout = time.Minute

// Scheduler 定时提交同步任务
type Scheduler struct {
	cron   *cron.Cron
	ops    *service.OpsService
	cfg    config.SchedulerConfig
	logger *logrus.Entry
}

// NewScheduler 创建任务调度器，cron 表达式带秒字段
func NewScheduler(ops *service.OpsService, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		ops:    ops,
		cfg:    cfg,
		logger: logger.WithComponent("scheduler"),
	}
}

type submitFunc func(ctx context.Context, auth service.AuthContext) (*service.FanOutResult, error)

// Setup 注册全部定时任务，返回注册数量
func (s *Scheduler) Setup() (int, error) {
	jobs := []struct {
		name   string
		spec   string
		submit submitFunc
	}{
		{"stock_list", s.cfg.StockList, s.ops.SyncStockList},
		{"industry_list", s.cfg.IndustryList, func(ctx context.Context, a service.AuthContext) (*service.FanOutResult, error) {
			return s.ops.SyncCategoryList(ctx, a, model.KindIndustry)
		}},
		{"concept_list", s.cfg.ConceptList, func(ctx context.Context, a service.AuthContext) (*service.FanOutResult, error) {
			return s.ops.SyncCategoryList(ctx, a, model.KindConcept)
		}},
		{"industry_relation", s.cfg.IndustryRelation, func(ctx context.Context, a service.AuthContext) (*service.FanOutResult, error) {
			return s.ops.SyncRelations(ctx, a, model.KindIndustry)
		}},
		{"concept_relation", s.cfg.ConceptRelation, func(ctx context.Context, a service.AuthContext) (*service.FanOutResult, error) {
			return s.ops.SyncRelations(ctx, a, model.KindConcept)
		}},
		{"kline_daily", s.cfg.KlineDaily, s.ops.SyncKlines},
	}

	registered := 0
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(job.spec, s.wrap(job.name, job.submit)); err != nil {
			return registered, err
		}
		s.logger.WithFields(logrus.Fields{"job": job.name, "spec": job.spec}).Info("注册定时任务")
		registered++
	}
	return registered, nil
}

func (s *Scheduler) wrap(name string, submit submitFunc) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
		defer cancel()

		result, err := submit(ctx, service.SystemAuth("scheduler"))
		if err != nil {
			s.logger.WithError(err).WithField("job", name).Error("提交定时任务失败")
			return
		}
		s.logger.WithFields(logrus.Fields{
			"job":        name,
			"job_set_id": result.JobSetID,
			"total":      result.TotalJobs,
		}).Info("定时任务已提交")
	}
}

// Start 启动调度器
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop 停止调度器，等待正在提交的任务结束
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
