package main

import (
	"os"
	"os/signal"
	"syscall"

	"QuantSync/pkg/app"
	"QuantSync/pkg/logger"
	"QuantSync/pkg/scheduler"
)

func main() {
	cfg, err := app.LoadConfig("")
	if err != nil {
		logger.GetLogger().WithError(err).Fatal("加载配置失败")
	}
	log := logger.WithComponent("main")

	rt, err := app.New(cfg)
	if err != nil {
		log.WithError(err).Fatal("初始化失败")
	}
	defer rt.Close()

	ops, err := rt.OpsService()
	if err != nil {
		log.WithError(err).Fatal("连接任务队列失败")
	}

	s := scheduler.NewScheduler(ops, cfg.Scheduler)
	n, err := s.Setup()
	if err != nil {
		log.WithError(err).Fatal("注册定时任务失败")
	}
	s.Start()
	log.WithField("jobs", n).Info("调度器已启动")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在停止调度器...")
	s.Stop()
}
