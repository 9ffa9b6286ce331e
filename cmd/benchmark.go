package main

import (
	"github.com/spf13/cobra"
)

var benchCountry string

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Compare assessments with their peers",
}

var benchmarkCompareCmd = &cobra.Command{
	Use:   "compare <assessment-id>",
	Short: "Print theme and overall percentiles against the peer group",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
		p, err := operator()
		if err != nil {
			return err
		}
		cmp, err := e.Benchmarks.Compare(cmd.Context(), p, args[0], benchCountry)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), cmp)
	}),
}

func init() {
	benchmarkCompareCmd.Flags().StringVar(&benchCountry, "country", "", "restrict peers to a country")
	benchmarkCmd.AddCommand(benchmarkCompareCmd)
	rootCmd.AddCommand(benchmarkCmd)
}
