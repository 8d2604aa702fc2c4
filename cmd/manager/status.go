package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"QuantSync/pkg/model"
)

var statusCMD = &cobra.Command{
	Use:   "status [job-set-id]",
	Short: "查看任务集进度",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx := context.Background()
		progress, err := rt.Stores.Jobs.Progress(ctx, args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "任务集: %s  类型: %s  总数: %d  已取消: %v\n",
			progress.JobSetID, progress.Kind, progress.Total, progress.Cancelled)
		for _, state := range []model.JobState{
			model.JobPending, model.JobRunning, model.JobRetrying,
			model.JobSucceeded, model.JobFailed, model.JobCancelled,
		} {
			fmt.Fprintf(out, "  %-10s %d\n", state, progress.States[state])
		}

		failed, err := rt.Stores.Jobs.ListBySet(ctx, args[0], model.JobFailed, 20)
		if err != nil {
			return err
		}
		for _, j := range failed {
			fmt.Fprintf(out, "  失败 %s attempts=%d: %s\n", j.EntityCode, j.Attempts, j.LastError)
		}
		return nil
	},
}
