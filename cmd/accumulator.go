package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/benefit-engine/internal/model"
)

var (
	accMember string
	accCode   string
	accPeriod string
)

var accumulatorCmd = &cobra.Command{
	Use:   "accumulator",
	Short: "Show a member's usage for one benefit and period",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, cfg, "load")
		if err != nil {
			return err
		}
		defer env.Close()

		rec, err := env.Engine.GetAccumulator(ctx, accMember, accCode, model.PeriodKey(accPeriod))
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), rec)
	},
}

func init() {
	accumulatorCmd.Flags().StringVar(&accMember, "member", "", "member id")
	accumulatorCmd.Flags().StringVar(&accCode, "code", "", "benefit code")
	accumulatorCmd.Flags().StringVar(&accPeriod, "period", "", `period key, e.g. "year:2024" or "lifetime"`)
	_ = accumulatorCmd.MarkFlagRequired("member")
	_ = accumulatorCmd.MarkFlagRequired("code")
	_ = accumulatorCmd.MarkFlagRequired("period")
	rootCmd.AddCommand(accumulatorCmd)
}
