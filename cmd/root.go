package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nocnoc-data/predize-sync/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "predize-sync",
	Short: "Predize helpdesk sync pipeline",
	Long:  "Pulls support tickets from the Predize helpdesk, joins them against the orders warehouse, classifies message text with the topic model, and writes filtered results downstream.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
