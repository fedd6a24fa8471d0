package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/agora/internal/app"
	"github.com/dyluth/agora/internal/filter"
	"github.com/dyluth/agora/internal/messaging"
	"github.com/dyluth/agora/internal/printer"
	"github.com/dyluth/agora/internal/render"
	"github.com/dyluth/agora/internal/timespec"
	"github.com/dyluth/agora/pkg/coord"
	"github.com/dyluth/agora/pkg/fault"
)

var (
	msgFrom string
	msgTo   string
	msgType string
	msgMeta []string

	historyLimit  int
	historyOutput string
	historySince  string
	historyUntil  string
	historyFrom   string
	historyType   string

	routeLevel string
)

// routeSearchLimit bounds how far back route looks for the message id.
const routeSearchLimit = 1000

var sendCmd = &cobra.Command{
	Use:   "send SESSION_ID MESSAGE",
	Short: "Send a message to one participant",
	Long: `Send a message from one session participant to another.

Examples:
  agora send <session-id> "Should we version in the path?" --from agentA --to agentB --type question`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSend(cmd, args, msgTo)
	},
}

var broadcastCmd = &cobra.Command{
	Use:   "broadcast SESSION_ID MESSAGE",
	Short: "Send a message to every participant",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSend(cmd, args, "")
	},
}

func runSend(cmd *cobra.Command, args []string, to string) error {
	meta, err := parsePairs("meta", msgMeta)
	if err != nil {
		return err
	}
	req := messaging.SendRequest{
		FromAgent:   msgFrom,
		ToAgent:     to,
		Content:     args[1],
		MessageType: coord.MessageType(msgType),
		Metadata:    meta,
	}
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		sid, err := sessionArg(ctx, a, args[0])
		if err != nil {
			return err
		}
		req.SessionID = sid

		var id string
		if to == "" {
			id, err = a.Service.BroadcastMessage(ctx, req)
		} else {
			id, err = a.Service.SendMessage(ctx, req)
		}
		if err != nil {
			return err
		}
		printer.Success("Sent message %s\n", id)
		return nil
	})
}

var historyCmd = &cobra.Command{
	Use:   "history SESSION_ID",
	Short: "Show a session's messages, oldest first",
	Long: `Show the most recent messages of a session in chronological order.

Output Formats:
  default - Human-readable table
  jsonl   - Line-delimited JSON, one message per line

Examples:
  agora history <session-id> --limit 20
  agora history <session-id> --since 30m --from "research-*" --type decision
  agora history <session-id> --output=jsonl | jq -r .content

Filters (--since, --until, --from, --type) apply to the --limit most recent messages.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := render.ParseFormat(historyOutput)
		if err != nil {
			return printer.Error("invalid output format", err.Error(), []string{"Valid formats: default, jsonl"})
		}
		now := time.Now()
		since, until, err := timespec.ParseRange(historySince, historyUntil, now)
		if err != nil {
			return printer.Error(
				"invalid time range",
				err.Error(),
				[]string{"Use a duration (--since 1h) or an RFC3339 time (--since 2026-01-05T09:00:00Z)"},
			)
		}
		criteria := filter.Criteria{
			Since:    since,
			Until:    until,
			FromGlob: historyFrom,
			Type:     coord.MessageType(historyType),
		}

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			sid, err := sessionArg(ctx, a, args[0])
			if err != nil {
				return err
			}
			msgs, err := a.Service.GetMessageHistory(ctx, sid, historyLimit)
			if err != nil {
				return err
			}
			return render.Messages(cmd.OutOrStdout(), format, criteria.Apply(msgs), now)
		})
	},
}

var routeCmd = &cobra.Command{
	Use:   "route SESSION_ID MESSAGE_ID",
	Short: "Route an existing message with a priority",
	Long: `Attach a priority to a message already in the session history.
Urgent and critical levels raise an alert event.

Examples:
  agora route <session-id> <message-id> --level critical`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		messageID := args[1]
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			sessionID, err := sessionArg(ctx, a, args[0])
			if err != nil {
				return err
			}
			msgs, err := a.Service.GetMessageHistory(ctx, sessionID, routeSearchLimit)
			if err != nil {
				return err
			}
			var msg *coord.Message
			for i := range msgs {
				if msgs[i].ID == messageID {
					msg = &msgs[i]
					break
				}
			}
			if msg == nil {
				return &fault.Error{Op: "route_with_priority", SessionID: sessionID, Kind: fault.ErrNotFound, Detail: "message " + messageID}
			}

			priority := coord.MessagePriority{Level: coord.PriorityLevel(routeLevel)}
			if err := a.Service.RouteWithPriority(ctx, *msg, priority); err != nil {
				return err
			}
			printer.Success("Routed message %s at %s priority\n", messageID, routeLevel)
			return nil
		})
	},
}

var realtimeCmd = &cobra.Command{
	Use:   "realtime SESSION_ID",
	Short: "Enable real-time mode for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			sid, err := sessionArg(ctx, a, args[0])
			if err != nil {
				return err
			}
			if err := a.Service.EnableRealTimeMode(ctx, sid); err != nil {
				return err
			}
			printer.Success("Real-time mode enabled for session %s\n", sid)
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{sendCmd, broadcastCmd} {
		c.Flags().StringVar(&msgFrom, "from", "", "Sending agent id (required)")
		c.Flags().StringVar(&msgType, "type", "", "update, question, decision, action or insight (default update)")
		c.Flags().StringArrayVar(&msgMeta, "meta", nil, "Metadata key=value (repeatable)")
		_ = c.MarkFlagRequired("from")
	}
	sendCmd.Flags().StringVar(&msgTo, "to", "", "Recipient agent id (required)")
	_ = sendCmd.MarkFlagRequired("to")

	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "Most recent messages to show (0 = default of 100)")
	historyCmd.Flags().StringVarP(&historyOutput, "output", "o", "default", "Output format: default or jsonl")
	historyCmd.Flags().StringVar(&historySince, "since", "", "Only messages after this time (duration or RFC3339)")
	historyCmd.Flags().StringVar(&historyUntil, "until", "", "Only messages before this time (duration or RFC3339)")
	historyCmd.Flags().StringVar(&historyFrom, "from", "", "Only messages from senders matching this glob")
	historyCmd.Flags().StringVar(&historyType, "type", "", "Only messages of this type")

	routeCmd.Flags().StringVar(&routeLevel, "level", string(coord.PriorityNormal), "low, normal, high, urgent or critical")

	rootCmd.AddCommand(sendCmd, broadcastCmd, historyCmd, routeCmd, realtimeCmd)
}
