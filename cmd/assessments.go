package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/assessment-engine/internal/model"
	"github.com/sells-group/assessment-engine/internal/store"
)

var (
	listYear     string
	listStatus   string
	listLimit    int
	listArchived bool
)

var assessmentsCmd = &cobra.Command{
	Use:     "assessments",
	Aliases: []string{"a"},
	Short:   "Inspect and move assessments through their lifecycle",
}

var assessmentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List assessments visible to the operator",
	RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
		p, err := operator()
		if err != nil {
			return err
		}
		filter := store.AssessmentFilter{
			TenantID:        asTenant,
			AcademicYear:    listYear,
			Status:          model.AssessmentStatus(listStatus),
			IncludeArchived: listArchived,
			Limit:           listLimit,
		}
		if filter.Status != "" && !filter.Status.Valid() {
			return eris.Errorf("unknown status %q", listStatus)
		}
		list, err := e.Lifecycle.List(cmd.Context(), p, filter)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTENANT\tYEAR\tSTATUS\tPROGRESS\tSCORE")
		for _, a := range list {
			progress, score := "-", "-"
			if a.Progress != nil {
				progress = fmt.Sprintf("%d%%", *a.Progress)
			}
			if a.OverallScore != nil {
				score = fmt.Sprintf("%.1f", *a.OverallScore)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", a.ID, a.TenantID, a.AcademicYear, a.DisplayStatus, progress, score)
		}
		return tw.Flush()
	}),
}

var assessmentsShowCmd = &cobra.Command{
	Use:   "show <assessment-id>",
	Short: "Print an assessment with its latest scores",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
		p, err := operator()
		if err != nil {
			return err
		}
		a, err := e.Lifecycle.Get(cmd.Context(), p, args[0])
		if err != nil {
			return err
		}
		out := map[string]any{"assessment": a}
		if a.Status.HasScores() {
			set, err := e.Lifecycle.Scores(cmd.Context(), p, a.ID)
			if err != nil {
				return err
			}
			out["scores"] = set
		}
		return printJSON(cmd.OutOrStdout(), out)
	}),
}

var assessmentsCreateCmd = &cobra.Command{
	Use:   "create <template-id> <academic-year>",
	Short: "Start a draft assessment for the operator's tenant",
	Args:  cobra.ExactArgs(2),
	RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
		p, err := operator()
		if err != nil {
			return err
		}
		a, err := e.Lifecycle.Create(cmd.Context(), p, args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), a)
	}),
}

var assessmentsSubmitCmd = &cobra.Command{
	Use:   "submit <assessment-id>",
	Short: "Submit a draft for review",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
		p, err := operator()
		if err != nil {
			return err
		}
		a, err := e.Lifecycle.Submit(cmd.Context(), p, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), a)
	}),
}

var assessmentsStatusCmd = &cobra.Command{
	Use:   "status <assessment-id> <status>",
	Short: "Move a submitted assessment to under_review",
	Args:  cobra.ExactArgs(2),
	RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
		p, err := operator()
		if err != nil {
			return err
		}
		a, err := e.Lifecycle.ChangeStatus(cmd.Context(), p, args[0], model.AssessmentStatus(args[1]))
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), a)
	}),
}

var assessmentsArchiveCmd = &cobra.Command{
	Use:   "archive <assessment-id>",
	Short: "Archive an assessment",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
		p, err := operator()
		if err != nil {
			return err
		}
		if err := e.Lifecycle.Archive(cmd.Context(), p, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "archived %s\n", args[0])
		return nil
	}),
}

var assessmentsReportCmd = &cobra.Command{
	Use:   "report <assessment-id>",
	Short: "Print the latest report",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
		p, err := operator()
		if err != nil {
			return err
		}
		rep, err := e.Lifecycle.Report(cmd.Context(), p, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rep)
	}),
}

var tenantName, tenantCountry string

var tenantsCmd = &cobra.Command{
	Use:   "tenants",
	Short: "Manage tenants",
}

var tenantsUpsertCmd = &cobra.Command{
	Use:   "upsert <tenant-id>",
	Short: "Create or update a tenant",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
		t := model.Tenant{ID: args[0], Name: tenantName, Country: tenantCountry}
		if t.Name == "" {
			t.Name = t.ID
		}
		if err := e.Store.UpsertTenant(cmd.Context(), t); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), t)
	}),
}

func init() {
	assessmentsListCmd.Flags().StringVar(&listYear, "year", "", "academic year filter")
	assessmentsListCmd.Flags().StringVar(&listStatus, "status", "", "status filter")
	assessmentsListCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum rows")
	assessmentsListCmd.Flags().BoolVar(&listArchived, "archived", false, "include archived assessments")
	assessmentsCmd.AddCommand(
		assessmentsListCmd,
		assessmentsShowCmd,
		assessmentsCreateCmd,
		assessmentsSubmitCmd,
		assessmentsStatusCmd,
		assessmentsArchiveCmd,
		assessmentsReportCmd,
	)

	tenantsUpsertCmd.Flags().StringVar(&tenantName, "name", "", "display name (default: the id)")
	tenantsUpsertCmd.Flags().StringVar(&tenantCountry, "country", "", "ISO country code used for benchmarks")
	tenantsCmd.AddCommand(tenantsUpsertCmd)

	rootCmd.AddCommand(assessmentsCmd, tenantsCmd)
}
