package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var cancelCMD = &cobra.Command{
	Use:   "cancel [job-set-id]",
	Short: "取消任务集，执行中的任务在下次重试前退出",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		n, err := rt.Stores.Jobs.Cancel(context.Background(), args[0], time.Now().UTC())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "任务集 %s 已取消，%d 个未开始任务被跳过\n", args[0], n)
		return nil
	},
}
