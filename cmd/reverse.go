package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	reverseLine   string
	reverseReason string
)

var reverseCmd = &cobra.Command{
	Use:   "reverse",
	Short: "Reverse the accumulator consumption of a claim line",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, cfg, "adjudicate")
		if err != nil {
			return err
		}
		defer env.Close()

		entry, err := env.Engine.Reverse(ctx, reverseLine, reverseReason)
		if err != nil {
			return err
		}
		zap.L().Info("claim line reversed",
			zap.String("claim_line_id", reverseLine),
			zap.Int64("amount", int64(entry.Delta.Amount)),
			zap.String("key", entry.Key.String()),
		)
		return writeJSON(cmd.OutOrStdout(), entry)
	},
}

func init() {
	reverseCmd.Flags().StringVar(&reverseLine, "line", "", "claim line id to reverse")
	reverseCmd.Flags().StringVar(&reverseReason, "reason", "", "reversal reason recorded on the ledger entry")
	_ = reverseCmd.MarkFlagRequired("line")
	rootCmd.AddCommand(reverseCmd)
}
