package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jtheoc80/permit-leads/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "permit-leads",
	Short: "Building-permit ingestion and lead scoring pipeline",
	Long:  "Ingests public building-permit records from government data sources, normalizes them into a canonical schema, syncs them incrementally, and derives scored sales leads.",
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
