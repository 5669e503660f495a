package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/benefit-engine/internal/eligibility"
)

var coverageFile string

var coverageCmd = &cobra.Command{
	Use:   "coverage",
	Short: "Manage member coverage reference data",
}

var coverageLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load member coverages into the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		path := coverageFile
		if path == "" {
			path = cfg.Plan.CoverageFile
		}
		covs, err := eligibility.LoadCoverageFile(path)
		if err != nil {
			return err
		}

		env, err := initEngine(ctx, cfg, "load")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Store.PutCoverages(ctx, covs)
		if err != nil {
			return eris.Wrap(err, "load coverages")
		}
		zap.L().Info("coverages loaded", zap.Int64("coverages", n))
		fmt.Fprintf(cmd.OutOrStdout(), "%d coverages loaded\n", n)
		return nil
	},
}

func init() {
	coverageLoadCmd.Flags().StringVar(&coverageFile, "file", "", "coverage YAML file (default from config plan.coverage_file)")
	coverageCmd.AddCommand(coverageLoadCmd)
	rootCmd.AddCommand(coverageCmd)
}
