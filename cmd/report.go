package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/benefit-engine/internal/model"
	"github.com/sells-group/benefit-engine/internal/report"
	"github.com/sells-group/benefit-engine/internal/store"
)

var (
	reportOut     string
	reportMember  string
	reportClaim   string
	reportOutcome string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export stored adjudication results to an XLSX workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, cfg, "load")
		if err != nil {
			return err
		}
		defer env.Close()

		results, err := env.Store.ListResults(ctx, store.ResultFilter{
			ClaimID:  reportClaim,
			MemberID: reportMember,
			Outcome:  model.Outcome(reportOutcome),
			Limit:    cfg.Report.Limit,
		})
		if err != nil {
			return eris.Wrap(err, "list results")
		}

		f, err := os.Create(reportOut)
		if err != nil {
			return eris.Wrapf(err, "create %s", reportOut)
		}
		if err := report.WriteResults(f, results, report.Options{Locale: cfg.Report.Locale}); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return eris.Wrapf(err, "close %s", reportOut)
		}

		zap.L().Info("report written",
			zap.String("path", reportOut),
			zap.Int("lines", len(results)),
		)
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportOut, "out", "results.xlsx", "output workbook path")
	reportCmd.Flags().StringVar(&reportMember, "member", "", "only results for this member")
	reportCmd.Flags().StringVar(&reportClaim, "claim", "", "only results for this claim")
	reportCmd.Flags().StringVar(&reportOutcome, "outcome", "", "only results with this outcome")
	rootCmd.AddCommand(reportCmd)
}
