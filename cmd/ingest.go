package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nocnoc-data/predize-sync/internal/notify"
	"github.com/nocnoc-data/predize-sync/internal/pipeline"
)

var ingestLookback int

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch tickets, messages, and orders for a window and upsert them into the warehouse",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if ingestLookback > 0 {
			cfg.Sync.LookbackMinutes = ingestLookback
		}

		store, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		client, err := initPredize(ctx)
		if err != nil {
			return err
		}

		notifier := notify.FromURL(cfg.Notify.WebhookURL)
		p := pipeline.New(cfg, client, store, nil, nil, notifier)

		result, err := p.Ingest(ctx)
		if err != nil {
			return err
		}

		zap.L().Info("ingest complete",
			zap.Int64("tickets", result.Tickets),
			zap.Int64("messages", result.Messages),
			zap.Int64("orders", result.Orders),
		)
		return nil
	},
}

func init() {
	ingestCmd.Flags().IntVar(&ingestLookback, "lookback", 0, "override the lookback window in minutes")
	rootCmd.AddCommand(ingestCmd)
}
