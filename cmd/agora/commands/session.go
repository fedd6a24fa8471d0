package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/agora/internal/app"
	"github.com/dyluth/agora/internal/printer"
	"github.com/dyluth/agora/internal/render"
	"github.com/dyluth/agora/internal/session"
	"github.com/dyluth/agora/pkg/coord"
)

var (
	sessionName         string
	sessionParticipants []string
	sessionMode         string
	sessionTopic        string
	sessionMeta         []string

	// Enhanced (business) session settings
	sessionThreshold      float64
	sessionCommMode       string
	sessionDiscussionType string
	sessionFacilitation   string
	sessionInsightTargets []string
	sessionBusiness       []string

	listStatus string
	listOutput string
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Create, inspect and manage sessions",
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a session",
	Long: `Create a session with an initial participant list.

Passing any business flag (--consensus-threshold, --discussion-type,
--facilitation, --communication-mode, --insight-target, --business) creates an
enhanced business session with discussion enabled.

Examples:
  agora session create --name design-review --participant agentA --participant agentB --topic "API design"
  agora session create --name pricing --participant cfo --participant pm \
      --consensus-threshold 0.75 --discussion-type strategic --business quarter=Q3`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		meta, err := parsePairs("meta", sessionMeta)
		if err != nil {
			return err
		}
		business, err := parsePairs("business", sessionBusiness)
		if err != nil {
			return err
		}

		req := session.CreateRequest{
			Name:         sessionName,
			Participants: sessionParticipants,
			Mode:         coord.SessionMode(sessionMode),
			Topic:        sessionTopic,
			Metadata:     meta,
		}

		enhanced := false
		for _, f := range []string{"consensus-threshold", "communication-mode", "discussion-type", "facilitation", "insight-target", "business"} {
			if cmd.Flags().Changed(f) {
				enhanced = true
			}
		}

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			var id string
			var err error
			if enhanced {
				id, err = a.Service.CreateEnhancedSession(ctx, req, coord.EnhancedSettings{
					CommunicationMode:  sessionCommMode,
					DiscussionType:     sessionDiscussionType,
					FacilitationMode:   sessionFacilitation,
					InsightTargets:     sessionInsightTargets,
					ConsensusThreshold: sessionThreshold,
					BusinessContext:    business,
				})
			} else {
				id, err = a.Service.CreateSession(ctx, req)
			}
			if err != nil {
				return err
			}
			printer.Success("Created session %s\n", id)
			return nil
		})
	},
}

var sessionInfoCmd = &cobra.Command{
	Use:   "info SESSION_ID",
	Short: "Show a session as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			sid, err := sessionArg(ctx, a, args[0])
			if err != nil {
				return err
			}
			s, err := a.Service.GetSessionInfo(ctx, sid)
			if err != nil {
				return err
			}
			return render.JSON(cmd.OutOrStdout(), s)
		})
	},
}

var sessionJoinCmd = &cobra.Command{
	Use:   "join SESSION_ID AGENT_ID",
	Short: "Add an agent to an active session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			sid, err := sessionArg(ctx, a, args[0])
			if err != nil {
				return err
			}
			if _, err := a.Service.JoinSession(ctx, sid, args[1]); err != nil {
				return err
			}
			printer.Success("%s joined session %s\n", args[1], sid)
			return nil
		})
	},
}

var sessionLeaveCmd = &cobra.Command{
	Use:   "leave SESSION_ID AGENT_ID",
	Short: "Remove an agent from a session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			sid, err := sessionArg(ctx, a, args[0])
			if err != nil {
				return err
			}
			ok, err := a.Service.LeaveSession(ctx, sid, args[1])
			if err != nil {
				return err
			}
			if !ok {
				printer.Warning("%s is not a participant of session %s\n", args[1], sid)
				return nil
			}
			printer.Success("%s left session %s\n", args[1], sid)
			return nil
		})
	},
}

var sessionConcludeCmd = &cobra.Command{
	Use:   "conclude SESSION_ID",
	Short: "Conclude a session; no further messages are accepted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			sid, err := sessionArg(ctx, a, args[0])
			if err != nil {
				return err
			}
			ok, err := a.Service.ConcludeSession(ctx, sid)
			if err != nil {
				return err
			}
			if !ok {
				printer.Warning("Session %s was already concluded\n", sid)
				return nil
			}
			printer.Success("Concluded session %s\n", sid)
			return nil
		})
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	Long: `List sessions in creation order.

Examples:
  agora session list
  agora session list --status active --output=jsonl`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := render.ParseFormat(listOutput)
		if err != nil {
			return printer.Error("invalid output format", err.Error(), []string{"Valid formats: default, jsonl"})
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			sessions, err := a.Service.ListSessions(ctx, coord.SessionStatus(listStatus))
			if err != nil {
				return err
			}
			return render.Sessions(cmd.OutOrStdout(), format, sessions, time.Now())
		})
	},
}

func init() {
	f := sessionCreateCmd.Flags()
	f.StringVar(&sessionName, "name", "", "Session name (required)")
	f.StringSliceVar(&sessionParticipants, "participant", nil, "Participant agent id (repeatable)")
	f.StringVar(&sessionMode, "mode", "", "collaborative, competitive or hierarchical (default collaborative)")
	f.StringVar(&sessionTopic, "topic", "", "Discussion topic, used for coherence analysis")
	f.StringArrayVar(&sessionMeta, "meta", nil, "Metadata key=value (repeatable)")
	f.Float64Var(&sessionThreshold, "consensus-threshold", 0, "Fraction of participants required for consensus, in (0, 1]")
	f.StringVar(&sessionCommMode, "communication-mode", "", "Business communication mode")
	f.StringVar(&sessionDiscussionType, "discussion-type", "", "Business discussion type")
	f.StringVar(&sessionFacilitation, "facilitation", "", "Facilitation mode")
	f.StringSliceVar(&sessionInsightTargets, "insight-target", nil, "Insight the discussion should surface (repeatable)")
	f.StringArrayVar(&sessionBusiness, "business", nil, "Business context key=value (repeatable)")
	_ = sessionCreateCmd.MarkFlagRequired("name")

	sessionListCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (active or concluded)")
	sessionListCmd.Flags().StringVarP(&listOutput, "output", "o", "default", "Output format: default or jsonl")

	sessionCmd.AddCommand(sessionCreateCmd, sessionInfoCmd, sessionJoinCmd, sessionLeaveCmd, sessionConcludeCmd, sessionListCmd)
	rootCmd.AddCommand(sessionCmd)
}
