package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runLookback int

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the end-to-end sync pipeline for one lookback window",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if runLookback > 0 {
			cfg.Sync.LookbackMinutes = runLookback
		}

		p, closeFn, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		result, err := p.Run(ctx)
		if err != nil {
			return err
		}

		zap.L().Info("run complete",
			zap.Int("fetched", result.Fetched),
			zap.Int("emitted", len(result.Records)),
			zap.Int64("saved", result.Saved),
		)
		return nil
	},
}

func init() {
	runCmd.Flags().IntVar(&runLookback, "lookback", 0, "override the lookback window in minutes")
	rootCmd.AddCommand(runCmd)
}
