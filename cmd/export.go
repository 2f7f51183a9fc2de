package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jobgrid/pipeline-cli/internal/export"
	"github.com/jobgrid/pipeline-cli/internal/model"
	"github.com/jobgrid/pipeline-cli/internal/store"
)

var (
	exportOut      string
	exportStatus   string
	exportMinScore float64
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export items to an XLSX workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		filter := store.ItemFilter{
			Status:       model.ItemStatus(exportStatus),
			OrderByScore: true,
		}
		if cmd.Flags().Changed("min-score") {
			filter.MinScore = &exportMinScore
		}

		items, err := st.ListItems(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "list items")
		}

		if err := export.SaveXLSX(exportOut, items); err != nil {
			return err
		}

		zap.L().Info("export complete",
			zap.String("path", exportOut),
			zap.Int("items", len(items)),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "jobgrid.xlsx", "output file path")
	exportCmd.Flags().StringVar(&exportStatus, "status", "", "only items with this status")
	exportCmd.Flags().Float64Var(&exportMinScore, "min-score", 0, "only items scoring at or above this value")
	rootCmd.AddCommand(exportCmd)
}
