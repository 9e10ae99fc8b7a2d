package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nocnoc-data/predize-sync/internal/notify"
	"github.com/nocnoc-data/predize-sync/internal/pipeline"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Reconcile warehouse order rows still missing an internal order id",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		store, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		notifier := notify.FromURL(cfg.Notify.WebhookURL)
		p := pipeline.New(cfg, nil, store, nil, nil, notifier)

		result, err := p.Backfill(ctx)
		if err != nil {
			return err
		}

		zap.L().Info("backfill complete",
			zap.Int("candidates", result.Candidates),
			zap.Int("matched", result.Matched),
			zap.Int64("updated", result.Updated),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(backfillCmd)
}
