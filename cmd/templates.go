package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/assessment-engine/internal/model"
	"github.com/sells-group/assessment-engine/internal/sheet"
	"github.com/sells-group/assessment-engine/internal/template"
)

var formOut string

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Manage assessment templates",
}

var templatesLoadCmd = &cobra.Command{
	Use:   "load <file-or-dir>",
	Short: "Validate and store templates from YAML",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
		info, err := os.Stat(args[0])
		if err != nil {
			return eris.Wrapf(err, "stat %s", args[0])
		}

		var tpls []*model.Template
		if info.IsDir() {
			tpls, err = template.LoadDir(args[0])
		} else {
			var tpl *model.Template
			tpl, err = template.LoadFile(args[0])
			tpls = append(tpls, tpl)
		}
		if err != nil {
			return err
		}

		for _, tpl := range tpls {
			if err := e.Store.SaveTemplate(cmd.Context(), tpl); err != nil {
				return eris.Wrapf(err, "save template %s", tpl.ID)
			}
			zap.L().Info("template stored",
				zap.String("template_id", tpl.ID),
				zap.String("version", tpl.Version),
				zap.Int("themes", len(tpl.Themes)),
				zap.Int("items", tpl.ItemCount()),
			)
		}
		return nil
	}),
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored templates",
	RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
		list, err := e.Store.ListTemplates(cmd.Context())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tVERSION\tTHEMES\tITEMS")
		for _, tpl := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", tpl.ID, tpl.Name, tpl.Version, len(tpl.Themes), tpl.ItemCount())
		}
		return tw.Flush()
	}),
}

var templatesExportCmd = &cobra.Command{
	Use:   "export <template-id>",
	Short: "Print a stored template as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
		tpl, err := e.Store.GetTemplate(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return template.Encode(cmd.OutOrStdout(), tpl)
	}),
}

var templatesFormCmd = &cobra.Command{
	Use:   "form <template-id>",
	Short: "Write a blank XLSX response form for a template",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
		tpl, err := e.Store.GetTemplate(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		f, err := os.Create(formOut)
		if err != nil {
			return eris.Wrapf(err, "create %s", formOut)
		}
		defer f.Close() //nolint:errcheck
		if err := sheet.WriteForm(f, tpl); err != nil {
			return err
		}
		zap.L().Info("response form written", zap.String("template_id", tpl.ID), zap.String("path", formOut))
		return nil
	}),
}

func init() {
	templatesFormCmd.Flags().StringVar(&formOut, "out", "responses.xlsx", "output path")
	templatesCmd.AddCommand(templatesLoadCmd, templatesListCmd, templatesExportCmd, templatesFormCmd)
	rootCmd.AddCommand(templatesCmd)
}
