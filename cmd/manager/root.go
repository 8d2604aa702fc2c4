package main

import (
	"os"

	"github.com/spf13/cobra"

	"QuantSync/pkg/app"
	"QuantSync/pkg/logger"
)

var configPath string

var rootCMD = &cobra.Command{
	Use:   "manager",
	Short: "行情数据同步任务管理工具",
	Long: `管理数据同步任务：启动 worker、提交同步任务、查看进度、取消任务集、
执行数据库迁移与清理历史数据。任何失败以退出码 1 结束。`,
	SilenceUsage: true,
}

// Execute 执行命令，失败时退出码为 1
func Execute() {
	if err := rootCMD.Execute(); err != nil {
		logger.GetLogger().WithError(err).Error("命令执行失败")
		os.Exit(1)
	}
}

func init() {
	rootCMD.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径，默认读取 CONFIG_PATH 或 configs/<APP_ENV>/app.yaml")
	rootCMD.AddCommand(workerCMD, dispatchCMD, statusCMD, cancelCMD, migrateCMD, pruneCMD)
}

// loadRuntime 加载配置并构建依赖
func loadRuntime() (*app.Runtime, error) {
	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return app.New(cfg)
}
