package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"QuantSync/pkg/dispatch"
	"QuantSync/pkg/model"
	"QuantSync/pkg/service"
)

var dispatchCMD = &cobra.Command{
	Use:   "dispatch [kind]",
	Short: "提交同步任务: kline_daily, industry_members, concept_members, stock_list, industry_list, concept_list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := dispatch.ParseKind(args[0])
		if err != nil {
			return err
		}
		rt, err := loadRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		ops, err := rt.OpsService()
		if err != nil {
			return err
		}
		ctx := context.Background()
		auth := service.SystemAuth("cli")

		var result *service.FanOutResult
		switch kind {
		case dispatch.KindKlineDaily:
			result, err = ops.SyncKlines(ctx, auth)
		case dispatch.KindIndustryMembers:
			result, err = ops.SyncRelations(ctx, auth, model.KindIndustry)
		case dispatch.KindConceptMembers:
			result, err = ops.SyncRelations(ctx, auth, model.KindConcept)
		case dispatch.KindStockList:
			result, err = ops.SyncStockList(ctx, auth)
		case dispatch.KindIndustryList:
			result, err = ops.SyncCategoryList(ctx, auth, model.KindIndustry)
		case dispatch.KindConceptList:
			result, err = ops.SyncCategoryList(ctx, auth, model.KindConcept)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "job_set_id=%s total_jobs=%d\n", result.JobSetID, result.TotalJobs)
		return nil
	},
}
