package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/agora/internal/app"
	"github.com/dyluth/agora/internal/printer"
	"github.com/dyluth/agora/internal/registry"
	"github.com/dyluth/agora/internal/render"
	"github.com/dyluth/agora/pkg/coord"
)

var (
	agentID           string
	agentName         string
	agentCapabilities []string
	agentMeta         []string

	discoverCapabilities []string
	discoverStatus       string
	discoverHealth       string
	discoverLimit        int
	discoverOutput       string
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Register, discover and update agents",
}

var agentRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register an agent",
	Long: `Register an agent with its capabilities. The agent starts online.

Re-registering an existing --id replaces the stored agent.

Examples:
  agora agent register --name Researcher --capability search --capability summarize
  agora agent register --id critic-1 --name Critic --capability review --meta team=platform`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		meta, err := parsePairs("meta", agentMeta)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			id, err := a.Service.RegisterAgent(ctx, registry.RegisterRequest{
				ID:           agentID,
				Name:         agentName,
				Capabilities: agentCapabilities,
				Metadata:     meta,
			})
			if err != nil {
				return err
			}
			printer.Success("Registered agent %s\n", agentLabel(id, agentName))
			return nil
		})
	},
}

var agentDiscoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find agents by capability and status",
	Long: `List registered agents. Every --capability must be advertised by a match.

Output Formats:
  default - Human-readable table
  jsonl   - Line-delimited JSON, one agent per line (includes health)

Examples:
  agora agent discover --capability search
  agora agent discover --status online --output=jsonl | jq .name`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := render.ParseFormat(discoverOutput)
		if err != nil {
			return printer.Error("invalid output format", err.Error(), []string{"Valid formats: default, jsonl"})
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			agents, err := a.Service.DiscoverAgents(ctx, registry.DiscoverQuery{
				Capabilities: discoverCapabilities,
				Status:       coord.AgentStatus(discoverStatus),
				Health:       discoverHealth,
				Limit:        discoverLimit,
			})
			if err != nil {
				return err
			}
			return render.Agents(cmd.OutOrStdout(), format, agents, time.Now())
		})
	},
}

var agentShowCmd = &cobra.Command{
	Use:   "show AGENT_ID",
	Short: "Show one agent as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			agent, err := a.Service.GetAgent(ctx, args[0])
			if err != nil {
				return err
			}
			return render.JSON(cmd.OutOrStdout(), agent)
		})
	},
}

var agentStatusCmd = &cobra.Command{
	Use:   "status AGENT_ID STATUS",
	Short: "Set an agent's status (online, offline or busy)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Service.SetAgentStatus(ctx, args[0], coord.AgentStatus(args[1])); err != nil {
				return err
			}
			printer.Success("Agent %s is now %s\n", args[0], args[1])
			return nil
		})
	},
}

func init() {
	agentRegisterCmd.Flags().StringVar(&agentID, "id", "", "Agent id (generated when omitted)")
	agentRegisterCmd.Flags().StringVar(&agentName, "name", "", "Agent display name (required)")
	agentRegisterCmd.Flags().StringSliceVar(&agentCapabilities, "capability", nil, "Advertised capability (repeatable)")
	agentRegisterCmd.Flags().StringArrayVar(&agentMeta, "meta", nil, "Metadata key=value (repeatable)")
	_ = agentRegisterCmd.MarkFlagRequired("name")

	agentDiscoverCmd.Flags().StringSliceVar(&discoverCapabilities, "capability", nil, "Required capability (repeatable)")
	agentDiscoverCmd.Flags().StringVar(&discoverStatus, "status", "", "Filter by status (online, offline, busy)")
	agentDiscoverCmd.Flags().StringVar(&discoverHealth, "health", "", "Filter by health status")
	agentDiscoverCmd.Flags().IntVar(&discoverLimit, "limit", 0, "Maximum agents to return (0 = configured default)")
	agentDiscoverCmd.Flags().StringVarP(&discoverOutput, "output", "o", "default", "Output format: default or jsonl")

	agentCmd.AddCommand(agentRegisterCmd, agentDiscoverCmd, agentShowCmd, agentStatusCmd)
	rootCmd.AddCommand(agentCmd)
}

// agentLabel renders an agent reference for status lines.
func agentLabel(id, name string) string {
	if name == "" {
		return id
	}
	return fmt.Sprintf("%s (%s)", name, id)
}
