package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jobgrid/pipeline-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "jobgrid",
	Short: "Job discovery and scoring pipeline",
	Long:  "Discovers job postings from configured boards, filters and deduplicates them, scores each against a candidate profile via an AI provider, and surfaces the best matches.",
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
