package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent pipeline runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		runs, err := st.ListRuns(ctx, runsLimit)
		if err != nil {
			return eris.Wrap(err, "list runs")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tDISCOVERED\tPROCESSED\tSTARTED\tDURATION")
		for _, r := range runs {
			duration := "-"
			if r.FinishedAt != nil {
				duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
				r.ID, r.Status, r.Discovered, r.Processed,
				r.StartedAt.Format("2006-01-02 15:04:05"), duration,
			)
		}
		return w.Flush()
	},
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum runs to list")
	rootCmd.AddCommand(runsCmd)
}
