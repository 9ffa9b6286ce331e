package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/assessment-engine/internal/sheet"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export assessment data to spreadsheets",
}

var exportScoresCmd = &cobra.Command{
	Use:   "scores <assessment-id>",
	Short: "Write the latest scores to an XLSX workbook",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
		ctx := cmd.Context()
		p, err := operator()
		if err != nil {
			return err
		}
		a, err := e.Lifecycle.Get(ctx, p, args[0])
		if err != nil {
			return err
		}
		set, err := e.Lifecycle.Scores(ctx, p, a.ID)
		if err != nil {
			return err
		}
		tpl, err := e.Store.GetTemplate(ctx, a.TemplateID)
		if err != nil {
			return err
		}

		out := exportOut
		if out == "" {
			out = a.ID + "-scores.xlsx"
		}
		f, err := os.Create(out)
		if err != nil {
			return eris.Wrapf(err, "create %s", out)
		}
		defer f.Close() //nolint:errcheck

		if err := sheet.ExportScores(f, tpl, a, set); err != nil {
			return err
		}
		zap.L().Info("scores exported",
			zap.String("assessment_id", a.ID),
			zap.Float64("overall_percentage", set.OverallPercentage),
			zap.String("path", out),
		)
		return nil
	}),
}

func init() {
	exportScoresCmd.Flags().StringVar(&exportOut, "out", "", "output path (default <assessment-id>-scores.xlsx)")
	exportCmd.AddCommand(exportScoresCmd)
	rootCmd.AddCommand(exportCmd)
}
