package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	rowbatch "github.com/vivaneiona/genkit-rowbatch"
)

func newPreviewCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "preview",
		Short: "Print the prompt rendered for the first row and the run estimate",
		RunE: func(cmd *cobra.Command, _ []string) error {
			job, err := buildJob(v)
			if err != nil {
				return err
			}
			stats, err := rowbatch.NewWithLogger(nil, nil).DryRun(cmd.Context(), job, runOptions(v, job)...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, stats.SamplePrompt)
			fmt.Fprintln(out)
			fmt.Fprintf(out, "rows=%d windows=%d min_duration=%s input_tokens~%d output_tokens~%d\n",
				stats.Rows, stats.RateWindows, stats.MinDuration, stats.TotalInputTokens, stats.TotalOutputTokens)
			return nil
		},
	}
}

func newExplainCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Explain the run as a plan tree with cost estimates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			job, err := buildJob(v)
			if err != nil {
				return err
			}
			pb := rowbatch.NewPlanBuilder().
				WithJob(job).
				WithModel(v.GetString("model")).
				WithPromptName(v.GetString("template-tag")).
				WithRateWindow(v.GetDuration("rate-window"))

			format := rowbatch.FormatType(v.GetString("format"))
			var text string
			if v.GetBool("costs") {
				text, err = pb.ExplainPrettyWithCosts(format, rowbatch.DefaultModelPricing())
			} else {
				text, err = pb.ExplainPretty(format)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().String("format", string(rowbatch.FormatText), "text, json or dot")
	cmd.Flags().Bool("costs", false, "price the plan with the built-in model prices")
	return cmd
}
