package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/agora/internal/app"
	"github.com/dyluth/agora/internal/printer"
	"github.com/dyluth/agora/internal/watch"
)

var (
	watchOutputFormat string
	watchSession      string
	watchEvents       []string
	watchUntil        string
	watchTimeout      time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream lifecycle events in real time",
	Long: `Stream lifecycle events (registrations, messages, coherence reports,
consensus rounds...) as any agora process emits them. Requires the Redis store.

Output Formats:
  default - Human-readable output with timestamps and emojis
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Watch everything on the instance
  agora watch

  # Follow one session
  agora watch --session <session-id>

  # Block until a session reaches consensus, for scripts
  agora watch --session <session-id> --until consensus_reached --timeout 5m`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	watchCmd.Flags().StringVar(&watchSession, "session", "", "Only show events for this session")
	watchCmd.Flags().StringSliceVar(&watchEvents, "event", nil, "Only show these event names (repeatable)")
	watchCmd.Flags().StringVar(&watchUntil, "until", "", "Exit after printing the first event with this name")
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", 10*time.Minute, "Give up on --until after this long")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	var outputFormat watch.OutputFormat
	switch watchOutputFormat {
	case "default":
		outputFormat = watch.OutputFormatDefault
	case "json":
		outputFormat = watch.OutputFormatJSON
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, json"},
		)
	}

	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if a.Redis == nil {
			return printer.Error(
				"watch requires the Redis store",
				"Events are relayed over Redis Pub/Sub; the SQLite store has no event channel.",
				[]string{"Run against Redis:\n  agora --redis-url redis://localhost:6379/0 watch"},
			)
		}

		sub, err := a.Redis.SubscribeEvents(ctx)
		if err != nil {
			return fmt.Errorf("failed to subscribe to events: %w", err)
		}
		defer sub.Close()

		filter := watch.Filter{SessionID: watchSession, Names: watchEvents}
		if watchUntil == "" {
			return watch.Stream(ctx, sub, outputFormat, filter, cmd.OutOrStdout())
		}

		filter.Names = []string{watchUntil}
		evt, err := watch.WaitFor(ctx, sub, filter, watchTimeout)
		if err != nil {
			return err
		}
		return watch.Print(cmd.OutOrStdout(), outputFormat, evt)
	})
}
