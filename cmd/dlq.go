package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/benefit-engine/internal/events"
	"github.com/sells-group/benefit-engine/internal/resilience"
)

var dlqTopic string

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and replay undelivered adjudication events",
}

var dlqStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the dead letter queue depth",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, cfg, "load")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Store.CountDLQ(ctx)
		if err != nil {
			return eris.Wrap(err, "count dlq")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d events waiting\n", n)
		return nil
	},
}

var dlqReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Redeliver due dead-lettered events to the webhook",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.Events.WebhookURL == "" {
			return eris.New("dlq replay: events.webhook_url is not configured")
		}

		env, err := initEngine(ctx, cfg, "adjudicate")
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := events.Replay(ctx, env.Webhook, env.Store, resilience.DLQFilter{
			Topic: dlqTopic,
			Limit: cfg.Events.DLQReplayBatchSize,
		})
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), stats)
	},
}

func init() {
	dlqReplayCmd.Flags().StringVar(&dlqTopic, "topic", "", "only replay events of this type")
	dlqCmd.AddCommand(dlqStatusCmd, dlqReplayCmd)
	rootCmd.AddCommand(dlqCmd)
}
