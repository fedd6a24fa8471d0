package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dyluth/agora/internal/app"
	"github.com/dyluth/agora/internal/printer"
	"github.com/dyluth/agora/internal/render"
)

var (
	coherenceJSON  bool
	consensusJSON  bool
	insightsOutput string
)

var coherenceCmd = &cobra.Command{
	Use:   "coherence SESSION_ID",
	Short: "Analyze a session's coherence and record the report",
	Long: `Score how focused, balanced and substantive a session's discussion is,
persist the report, and list any issues with suggested actions.

Examples:
  agora coherence <session-id>
  agora coherence <session-id> --json | jq .coherenceScore`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			sid, err := sessionArg(ctx, a, args[0])
			if err != nil {
				return err
			}
			report, err := a.Service.MaintainCoherence(ctx, sid)
			if err != nil {
				return err
			}
			if coherenceJSON {
				return render.JSON(cmd.OutOrStdout(), report)
			}
			render.Coherence(cmd.OutOrStdout(), report)
			return nil
		})
	},
}

var consensusCmd = &cobra.Command{
	Use:   "consensus SESSION_ID PROPOSAL",
	Short: "Build consensus among participants on a proposal",
	Long: `Ask the consensus collaborator whether the session's participants agree
on a proposal, using the session's threshold (or the configured default).

Examples:
  agora consensus <session-id> "Version the API in the URL path"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			sid, err := sessionArg(ctx, a, args[0])
			if err != nil {
				return err
			}
			result, err := a.Service.BuildConsensus(ctx, sid, args[1])
			if err != nil {
				return err
			}
			if consensusJSON {
				return render.JSON(cmd.OutOrStdout(), result)
			}
			render.Consensus(cmd.OutOrStdout(), args[1], result)
			return nil
		})
	},
}

var insightsCmd = &cobra.Command{
	Use:   "insights SESSION_ID",
	Short: "Synthesize emergent insights from a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := render.ParseFormat(insightsOutput)
		if err != nil {
			return printer.Error("invalid output format", err.Error(), []string{"Valid formats: default, jsonl"})
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			sid, err := sessionArg(ctx, a, args[0])
			if err != nil {
				return err
			}
			insights, err := a.Service.SynthesizeInsights(ctx, sid)
			if err != nil {
				return err
			}
			return render.Insights(cmd.OutOrStdout(), format, insights)
		})
	},
}

func init() {
	coherenceCmd.Flags().BoolVar(&coherenceJSON, "json", false, "Print the full report as JSON")
	consensusCmd.Flags().BoolVar(&consensusJSON, "json", false, "Print the result as JSON")
	insightsCmd.Flags().StringVarP(&insightsOutput, "output", "o", "default", "Output format: default or jsonl")

	rootCmd.AddCommand(coherenceCmd, consensusCmd, insightsCmd)
}
