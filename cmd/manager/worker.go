package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"QuantSync/pkg/dispatch"
	"QuantSync/pkg/logger"
)

var workerQueues []string

var workerCMD = &cobra.Command{
	Use:   "worker",
	Short: "启动 worker 消费同步任务",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()
		log := logger.WithComponent("worker")

		if err := rt.ConnectNATS(); err != nil {
			return err
		}
		worker, err := rt.NewWorker()
		if err != nil {
			return err
		}

		queues := rt.Config.Dispatch.Queues
		if len(workerQueues) > 0 {
			selected := make(map[string]int, len(workerQueues))
			for _, q := range workerQueues {
				selected[q] = queues[q]
			}
			queues = selected
		}
		if err := dispatch.Serve(rt.NATS, worker, queues); err != nil {
			return err
		}
		log.WithField("queues", queues).Info("worker已启动")

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info("worker正在退出...")
		return nil
	},
}

func init() {
	workerCMD.Flags().StringSliceVarP(&workerQueues, "queues", "q", nil, "只消费指定队列，如 kline,members")
}
