package main

import (
	"context"
	"os"
	"time"

	"QuantSync/pkg/api"
	"QuantSync/pkg/app"
	"QuantSync/pkg/logger"
)

func main() {
	cfg, err := app.LoadConfig("")
	if err != nil {
		logger.GetLogger().WithError(err).Fatal("加载配置失败")
	}
	log := logger.WithComponent("main")
	log.Info("启动API服务...")

	rt, err := app.New(cfg)
	if err != nil {
		log.WithError(err).Fatal("初始化失败")
	}
	defer rt.Close()

	ops, err := rt.OpsService()
	if err != nil {
		log.WithError(err).Fatal("连接任务队列失败")
	}

	// token 由登录服务写入 redis
	if rt.Redis == nil {
		log.Fatal("鉴权需要配置 redis.addr")
	}
	verifier := api.NewRedisTokenVerifier(rt.Redis, cfg.Redis.TokenPrefix)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.Monitor.StartChecking(ctx, time.Minute)

	// 创建并启动服务器
	server := api.NewServer(cfg.API)
	server.SetupRoutes(api.NewHandlers(ops, rt.Monitor), api.AuthRequired(cfg.API.APIKey, verifier))
	if err := server.Start(); err != nil {
		log.WithError(err).Error("API服务异常退出")
		rt.Close()
		os.Exit(1)
	}
}
