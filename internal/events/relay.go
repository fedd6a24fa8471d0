package events

import (
	"context"
	"log/slog"

	"github.com/dyluth/agora/pkg/coord"
)

// Publisher forwards events out of process. records.Client implements it over Redis Pub/Sub.
type Publisher interface {
	PublishEvent(ctx context.Context, evt coord.Event) error
}

// Relay returns a catch-all handler that mirrors every event onto pub.
// Relay failures are returned so the bus logs them; they never reach the publisher.
func Relay(pub Publisher, logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, evt coord.Event) error {
		if err := pub.PublishEvent(ctx, evt); err != nil {
			logger.Debug("event relay failed", "event", evt.Name, "error", err)
			return err
		}
		return nil
	}
}
