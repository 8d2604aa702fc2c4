package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var pruneCMD = &cobra.Command{
	Use:   "prune-logs",
	Short: "清理过期的板块快照与已结束的任务记录",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx := context.Background()
		now := time.Now().UTC()
		in := rt.Config.Ingest

		logs, err := rt.Stores.Categories.DeleteLogsBefore(ctx, now.AddDate(0, 0, -in.LogRetentionDays))
		if err != nil {
			return err
		}
		sets, err := rt.Stores.Jobs.PruneBefore(ctx, now.AddDate(0, 0, -in.JobRetentionDays))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "已删除板块快照 %d 条，任务集 %d 个\n", logs, sets)
		return nil
	},
}
