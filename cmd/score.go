package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jobgrid/pipeline-cli/internal/progress"
	"github.com/jobgrid/pipeline-cli/internal/scoring"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score items that have no score yet",
	Long:  "Evaluates every unscored item in the store against the candidate profile, without running discovery.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		gw, err := initGateway()
		if err != nil {
			return err
		}

		items, err := st.GetUnscoredItems(ctx)
		if err != nil {
			return eris.Wrap(err, "list unscored items")
		}
		if len(items) == 0 {
			zap.L().Info("nothing to score")
			return nil
		}

		stage := scoring.NewStage(st, gw, progress.NewTracker(), initSponsors(), cfg.Profile, cfg.Scoring)
		scored, err := stage.Run(ctx, items)
		if err != nil {
			return eris.Wrap(err, "score items")
		}

		zap.L().Info("scoring complete",
			zap.Int("candidates", len(items)),
			zap.Int("scored", scored),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scoreCmd)
}
