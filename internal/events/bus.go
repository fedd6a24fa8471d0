// Package events is the in-process event and extension bus.
//
// Publish is synchronous: handlers run on the caller's goroutine in the order they were
// registered, named and catch-all subscribers interleaved. A handler that returns an
// error or panics is logged and skipped; the remaining handlers still run and the
// publisher never sees the failure. Delivery is best-effort and at-most-once.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dyluth/agora/pkg/coord"
)

// Lifecycle event names.
const (
	AgentRegistered        = "agent_registered"
	AgentStatusChanged     = "agent_status_changed"
	SessionCreated         = "session_created"
	BusinessSessionCreated = "business_session_created"
	AgentJoinedSession     = "agent_joined_session"
	AgentLeftSession       = "agent_left_session"
	SessionConcluded       = "session_concluded"
	MessageSent            = "message_sent"
	PriorityMessageRouted  = "priority_message_routed"
	UrgentMessageAlert     = "urgent_message_alert"
	RealtimeModeEnabled    = "realtime_mode_enabled"
	CoherenceMonitored     = "coherence_monitored"
	CoherenceDegraded      = "coherence_degraded"
	ConsensusReached       = "consensus_reached"
	ConsensusNotReached    = "consensus_not_reached"
	InsightsSynthesized    = "insights_synthesized"
	ExtensionRegistered    = "extension_registered"
)

// Handler reacts to a published event. Returned errors are logged, never propagated.
type Handler func(ctx context.Context, evt coord.Event) error

type subscription struct {
	id      uint64
	name    string // empty for catch-all
	handler Handler
}

// Bus is a goroutine-safe synchronous event bus.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	logger *slog.Logger
	now    func() time.Time
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger, now: time.Now}
}

// Subscribe registers a handler for one event name. Returns an unsubscribe function.
func (b *Bus) Subscribe(name string, handler Handler) func() {
	return b.add(name, handler)
}

// SubscribeAll registers a handler that receives every event. Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler Handler) func() {
	return b.add("", handler)
}

func (b *Bus) add(name string, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, name: name, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers evt to every matching handler in registration order.
// A zero Timestamp is stamped with the current time.
func (b *Bus) Publish(ctx context.Context, evt coord.Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = b.now().UTC()
	}

	b.mu.RLock()
	subs := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.name == "" || s.name == evt.Name {
			subs = append(subs, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if err := b.Guard(ctx, evt.Name, func(ctx context.Context) error {
			return s.handler(ctx, evt)
		}); err != nil {
			b.logger.Warn("event handler failed",
				"event", evt.Name,
				"session_id", evt.SessionID,
				"error", err,
			)
		}
	}
}

// Emit is shorthand for publishing a named event for a session.
func (b *Bus) Emit(ctx context.Context, name, sessionID string, data map[string]any) {
	b.Publish(ctx, coord.Event{Name: name, SessionID: sessionID, Data: data})
}

// Guard runs fn, converting a panic into an error. The bus uses it for every handler
// call and the service uses it to apply extensions under the same isolation.
func (b *Bus) Guard(ctx context.Context, label string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("recovered panic",
				"label", label,
				"panic", r,
			)
			err = fmt.Errorf("%s panicked: %v", label, r)
		}
	}()
	return fn(ctx)
}

// Len returns the number of registered handlers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
