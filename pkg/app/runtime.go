package app

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"QuantSync/pkg/collector"
	"QuantSync/pkg/config"
	"QuantSync/pkg/database"
	"QuantSync/pkg/dispatch"
	"QuantSync/pkg/logger"
	"QuantSync/pkg/messaging"
	"QuantSync/pkg/monitor"
	"QuantSync/pkg/retry"
	"QuantSync/pkg/service"
	"QuantSync/pkg/sharding"
)

// Runtime 进程启动时构建的依赖集合
type Runtime struct {
	Config   *config.Config
	Stores   *database.Stores
	Redis    *redis.Client // 未配置时为 nil
	NATS     *messaging.NATSClient
	Upstream *collector.AKShareAdapter
	Monitor  *monitor.Monitor

	logger *logrus.Entry
}

// LoadConfig 读取配置并初始化日志
func LoadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = config.GetDefaultConfigPath()
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.Log)
	return cfg, nil
}

// New 连接数据库与 redis，构建存储和上游适配器
func New(cfg *config.Config) (*Runtime, error) {
	rt := &Runtime{
		Config:  cfg,
		Monitor: monitor.NewMonitor(nil),
		logger:  logger.WithComponent("app"),
	}

	db, err := database.Open(cfg.Database.Postgres)
	if err != nil {
		return nil, err
	}

	granularity, err := sharding.ParseGranularity(cfg.Sharding.Granularity)
	if err != nil {
		return nil, err
	}
	var routerOpts []sharding.RouterOption
	if cfg.Redis.Addr != "" {
		rt.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rt.Redis.Ping(ctx).Err()
		cancel()
		if err != nil {
			rt.logger.WithError(err).Warn("连接Redis失败，分表缓存仅在进程内生效")
		}
		routerOpts = append(routerOpts, sharding.WithShardCache(sharding.NewRedisShardCache(rt.Redis, cfg.Redis.ShardPrefix)))
		rt.Monitor.Register("redis", func(ctx context.Context) error {
			return rt.Redis.Ping(ctx).Err()
		})
	}
	router := sharding.NewRouter(db, granularity, routerOpts...)

	rt.Stores, err = database.NewStores(db, router, sharding.Options{
		BatchSize:    cfg.Sharding.BatchSize,
		StoreRetries: cfg.Sharding.StoreRetries,
	})
	if err != nil {
		return nil, err
	}
	rt.Monitor.Register("postgres", func(ctx context.Context) error {
		return rt.Stores.Ping()
	})

	rt.Upstream = collector.NewAKShareAdapter(cfg.AKShare)
	rt.Monitor.Register("akshare", monitor.HTTPCheck(cfg.AKShare.BaseURL+"/", 5*time.Second))

	return rt, nil
}

// ConnectNATS 连接任务队列
func (rt *Runtime) ConnectNATS() error {
	if rt.NATS != nil {
		return nil
	}
	client, err := messaging.NewNATSClient(rt.Config.NATS)
	if err != nil {
		return err
	}
	rt.NATS = client
	rt.Monitor.Register("nats", func(ctx context.Context) error {
		if !client.IsConnected() {
			return fmt.Errorf("NATS未连接")
		}
		return nil
	})
	return nil
}

// Dispatcher 基于 NATS 的分发器
func (rt *Runtime) Dispatcher() (*dispatch.QueueDispatcher, error) {
	if err := rt.ConnectNATS(); err != nil {
		return nil, err
	}
	return dispatch.NewQueueDispatcher(rt.Stores.Jobs, rt.NATS, rt.Config.Dispatch.MaxAttempts), nil
}

// OpsService 运维服务
func (rt *Runtime) OpsService() (*service.OpsService, error) {
	d, err := rt.Dispatcher()
	if err != nil {
		return nil, err
	}
	return service.NewOpsService(rt.Stores, d), nil
}

// NewWorker 构建注册了全部同步流程的 worker
func (rt *Runtime) NewWorker() (*dispatch.Worker, error) {
	cfg := rt.Config
	controller := retry.NewController(retry.PolicyFromConfig(cfg.Retry, cfg.Dispatch.MaxAttempts))
	worker := dispatch.NewWorker(rt.Stores.Jobs, controller, dispatch.Limits{
		Soft: cfg.Dispatch.SoftLimit,
		Hard: cfg.Dispatch.HardLimit,
	})
	if err := service.RegisterHandlers(worker, rt.Stores, rt.Upstream, cfg.Ingest); err != nil {
		return nil, err
	}
	return worker, nil
}

// Close 释放连接
func (rt *Runtime) Close() {
	if rt.NATS != nil {
		rt.NATS.Close()
	}
	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil {
			rt.logger.WithError(err).Warn("关闭Redis失败")
		}
	}
	if rt.Stores != nil {
		if err := rt.Stores.Close(); err != nil {
			rt.logger.WithError(err).Warn("关闭数据库失败")
		}
	}
}
