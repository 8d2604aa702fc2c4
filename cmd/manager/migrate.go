package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"QuantSync/pkg/database"
)

var migrateCMD = &cobra.Command{
	Use:   "migrate",
	Short: "创建或更新数据表",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := database.Migrate(rt.Stores.DB); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "数据库迁移完成")
		return nil
	},
}
