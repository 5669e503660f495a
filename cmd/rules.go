package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/benefit-engine/internal/plan"
)

var rulesFile string

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Validate and load plan benefit rules",
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse and validate a rules file without loading it",
	RunE: func(cmd *cobra.Command, args []string) error {
		rules, err := readRules(rulesPath())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d rules valid\n", len(rules))
		return nil
	},
}

var rulesLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load a rules file into the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		rules, err := readRules(rulesPath())
		if err != nil {
			return err
		}

		env, err := initEngine(ctx, cfg, "load")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Store.PutRules(ctx, rules)
		if err != nil {
			return eris.Wrap(err, "load rules")
		}
		zap.L().Info("rules loaded", zap.Int64("rules", n))
		fmt.Fprintf(cmd.OutOrStdout(), "%d rules loaded\n", n)
		return nil
	},
}

func init() {
	rulesCmd.PersistentFlags().StringVar(&rulesFile, "file", "", "rules YAML file (default from config plan.rules_file)")
	rulesCmd.AddCommand(rulesValidateCmd, rulesLoadCmd)
	rootCmd.AddCommand(rulesCmd)
}

func rulesPath() string {
	if rulesFile != "" {
		return rulesFile
	}
	return cfg.Plan.RulesFile
}

func readRules(path string) ([]plan.Rule, error) {
	if path == "" {
		return nil, eris.New("no rules file given (--file or plan.rules_file)")
	}
	return plan.LoadFile(path)
}
