package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jobgrid/pipeline-cli/internal/model"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline once",
	Long:  "Discovers, imports, scores and processes job postings in a single foreground run. Ctrl-C cancels the run and drains it to a cancelled state.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Orchestrator.Start(ctx)
		if err != nil {
			return eris.Wrap(err, "start run")
		}

		// The orchestrator runs in the background; follow its progress
		// stream until a terminal step.
		ch, unsubscribe := env.Tracker.Subscribe()
		defer unsubscribe()

		var last model.RunProgress
		for snap := range ch {
			last = snap
			if snap.Step.Terminal() {
				break
			}
		}

		final, err := env.Store.GetRun(cmd.Context(), run.ID)
		if err != nil {
			return eris.Wrap(err, "load run result")
		}

		zap.L().Info("run finished",
			zap.String("run_id", final.ID),
			zap.String("status", string(final.Status)),
			zap.Int("discovered", final.Discovered),
			zap.Int("processed", final.Processed),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(final); err != nil {
			return err
		}

		if last.Step == model.StepFailed {
			return eris.New("run failed: " + last.Error)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
