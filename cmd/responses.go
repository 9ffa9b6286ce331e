package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/assessment-engine/internal/sheet"
)

var importStrict bool

var responsesCmd = &cobra.Command{
	Use:   "responses",
	Short: "Read and write assessment responses",
}

var responsesShowCmd = &cobra.Command{
	Use:   "show <assessment-id>",
	Short: "Print the current responses and progress",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
		p, err := operator()
		if err != nil {
			return err
		}
		snap, err := e.Responses.GetAll(cmd.Context(), p, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), snap)
	}),
}

var responsesImportCmd = &cobra.Command{
	Use:   "import <assessment-id> <file.xlsx>",
	Short: "Bulk upsert responses from a filled response form",
	Args:  cobra.ExactArgs(2),
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
		tpl, err := e.Store.GetTemplate(ctx, a.TemplateID)
		if err != nil {
			return err
		}

		res, err := sheet.ReadResponsesFile(args[1], tpl)
		if err != nil {
			return err
		}
		for _, re := range res.Errors {
			zap.L().Warn("response row rejected",
				zap.Int("row", re.Row),
				zap.String("item_code", re.Code),
				zap.String("reason", re.Reason),
			)
		}
		if importStrict && len(res.Errors) > 0 {
			return eris.Errorf("%d rows rejected; nothing imported", len(res.Errors))
		}
		if len(res.Entries) == 0 {
			return eris.New("no responses to import")
		}

		snap, err := e.Responses.BulkUpsert(ctx, p, a.ID, res.Entries)
		if err != nil {
			return err
		}
		zap.L().Info("responses imported",
			zap.String("assessment_id", a.ID),
			zap.Int("imported", len(res.Entries)),
			zap.Int("rejected", len(res.Errors)),
		)
		return printJSON(cmd.OutOrStdout(), snap)
	}),
}

func init() {
	responsesImportCmd.Flags().BoolVar(&importStrict, "strict", false, "abort if any row is rejected")
	responsesCmd.AddCommand(responsesShowCmd, responsesImportCmd)
	rootCmd.AddCommand(responsesCmd)
}
