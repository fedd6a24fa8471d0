// Package messaging is the session message bus: sending, broadcasting, history
// retrieval and priority signalling.
//
// Messages are immutable once stored. Priority routing and real-time mode are
// recorded as separate records so they never disturb history order.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dyluth/agora/internal/events"
	"github.com/dyluth/agora/pkg/coord"
	"github.com/dyluth/agora/pkg/fault"
	"github.com/dyluth/agora/pkg/records"
)

// DefaultHistoryLimit is the history window when the caller gives no limit.
const DefaultHistoryLimit = 100

const realtimeMarker = "realtime"

// SessionLookup resolves sessions. session.Manager implements it.
type SessionLookup interface {
	GetSessionInfo(ctx context.Context, sessionID string) (*coord.Session, error)
}

// SendRequest is a message to be sent. An empty ToAgent broadcasts.
type SendRequest struct {
	SessionID   string            `json:"sessionId"`
	FromAgent   string            `json:"fromAgent"`
	ToAgent     string            `json:"toAgent,omitempty"`
	Content     string            `json:"message"`
	MessageType coord.MessageType `json:"messageType,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Bus sends and reads session messages.
type Bus struct {
	store    records.Store
	sessions SessionLookup
	bus      *events.Bus
	logger   *slog.Logger
	now      func() time.Time
	ids      *idSource
}

// Option configures a Bus.
type Option func(*Bus)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

// New creates a message Bus.
func New(store records.Store, sessions SessionLookup, bus *events.Bus, logger *slog.Logger, opts ...Option) *Bus {
	b := &Bus{
		store:    store,
		sessions: sessions,
		bus:      bus,
		logger:   logger,
		now:      time.Now,
		ids:      newIDSource(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SendMessage validates membership, stores the message and returns its id.
func (b *Bus) SendMessage(ctx context.Context, req SendRequest) (string, error) {
	return b.send(ctx, "send_message", req)
}

// BroadcastMessage is SendMessage addressed to every participant.
func (b *Bus) BroadcastMessage(ctx context.Context, req SendRequest) (string, error) {
	req.ToAgent = ""
	return b.send(ctx, "broadcast_message", req)
}

func (b *Bus) send(ctx context.Context, op string, req SendRequest) (string, error) {
	switch {
	case req.SessionID == "":
		return "", fault.InvalidArgument(op, "session id cannot be empty")
	case req.FromAgent == "":
		return "", fault.InvalidArgument(op, "sender cannot be empty")
	case req.Content == "":
		return "", fault.InvalidArgument(op, "message content cannot be empty")
	}
	if req.MessageType == "" {
		req.MessageType = coord.MessageUpdate
	}
	if err := req.MessageType.Validate(); err != nil {
		return "", fault.Invalid(op, err)
	}

	s, err := b.sessions.GetSessionInfo(ctx, req.SessionID)
	if err != nil {
		return "", fault.Wrap(op, req.SessionID, err)
	}
	if s.Status == coord.SessionConcluded {
		return "", &fault.Error{Op: op, SessionID: s.ID, Kind: fault.ErrUnauthorized, Detail: "session is concluded"}
	}
	if !s.HasParticipant(req.FromAgent) {
		return "", &fault.Error{Op: op, SessionID: s.ID, Kind: fault.ErrUnauthorized,
			Detail: fmt.Sprintf("agent %q is not a participant", req.FromAgent)}
	}
	if req.ToAgent != "" && !s.HasParticipant(req.ToAgent) {
		return "", &fault.Error{Op: op, SessionID: s.ID, Kind: fault.ErrUnauthorized,
			Detail: fmt.Sprintf("recipient %q is not a participant", req.ToAgent)}
	}

	now := b.now().UTC()
	msg := coord.Message{
		ID:          b.ids.next(now),
		SessionID:   s.ID,
		FromAgent:   req.FromAgent,
		ToAgent:     req.ToAgent,
		Content:     req.Content,
		MessageType: req.MessageType,
		Timestamp:   now,
		Metadata:    req.Metadata,
	}

	rec, err := records.NewRecord(records.KindMessage, msg.ID, msg.Content, msg)
	if err != nil {
		return "", fault.Wrap(op, s.ID, err)
	}
	rec.CreatedAtMs = now.UnixMilli()
	rec.Labels["session_id"] = s.ID
	rec.Labels["message_type"] = string(msg.MessageType)
	rec.Tags = []string{"from:" + msg.FromAgent, "to:" + msg.Recipient()}
	if _, err := b.store.Add(ctx, rec); err != nil {
		return "", fault.Wrap(op, s.ID, err)
	}

	b.logger.Debug("message sent",
		"session_id", s.ID,
		"message_id", msg.ID,
		"from", msg.FromAgent,
		"to", msg.Recipient(),
		"message_type", msg.MessageType,
	)
	b.bus.Emit(ctx, events.MessageSent, s.ID, map[string]any{
		"messageId":   msg.ID,
		"fromAgent":   msg.FromAgent,
		"toAgent":     msg.Recipient(),
		"messageType": string(msg.MessageType),
	})
	return msg.ID, nil
}

// GetMessageHistory returns the most recent limit messages in chronological order,
// ties broken by id. A non-positive limit means DefaultHistoryLimit.
func (b *Bus) GetMessageHistory(ctx context.Context, sessionID string, limit int) ([]coord.Message, error) {
	const op = "get_message_history"
	if sessionID == "" {
		return nil, fault.InvalidArgument(op, "session id cannot be empty")
	}
	if _, err := b.sessions.GetSessionInfo(ctx, sessionID); err != nil {
		return nil, fault.Wrap(op, sessionID, err)
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	recs, err := b.store.Search(ctx, records.Query{
		Kind:   records.KindMessage,
		Labels: map[string]string{"session_id": sessionID},
	})
	if err != nil {
		return nil, fault.Wrap(op, sessionID, err)
	}

	msgs := make([]coord.Message, 0, len(recs))
	for _, rec := range recs {
		var m coord.Message
		if err := rec.Decode(&m); err != nil {
			b.logger.Warn("skipping undecodable message record", "session_id", sessionID, "record_id", rec.ID, "error", err)
			continue
		}
		msgs = append(msgs, m)
	}
	SortMessages(msgs)

	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// SortMessages orders messages by timestamp, ties broken by id.
func SortMessages(msgs []coord.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].Timestamp.Before(msgs[j].Timestamp)
		}
		return msgs[i].ID < msgs[j].ID
	})
}

// RouteWithPriority records a priority routing decision for an already-sent message.
// Only ref.ID and ref.SessionID are trusted: sender, recipient and content come from
// the stored message. Urgent and critical levels also raise an alert event.
func (b *Bus) RouteWithPriority(ctx context.Context, ref coord.Message, priority coord.MessagePriority) error {
	const op = "route_with_priority"
	if ref.ID == "" || ref.SessionID == "" {
		return fault.InvalidArgument(op, "message id and session id are required")
	}
	if err := priority.Level.Validate(); err != nil {
		return fault.Invalid(op, err)
	}
	if _, err := b.sessions.GetSessionInfo(ctx, ref.SessionID); err != nil {
		return fault.Wrap(op, ref.SessionID, err)
	}
	msg, err := b.storedMessage(ctx, op, ref)
	if err != nil {
		return err
	}

	now := b.now().UTC()
	routing := coord.Routing{
		MessageID: msg.ID,
		SessionID: msg.SessionID,
		FromAgent: msg.FromAgent,
		ToAgent:   msg.ToAgent,
		Priority:  priority,
		RoutedAt:  now,
	}
	rec, err := records.NewRecord(records.KindRouting, uuid.New().String(), msg.Content, routing)
	if err != nil {
		return fault.Wrap(op, msg.SessionID, err)
	}
	rec.CreatedAtMs = now.UnixMilli()
	rec.Labels["session_id"] = msg.SessionID
	rec.Labels["message_id"] = msg.ID
	rec.Labels["priority"] = string(priority.Level)
	if _, err := b.store.Add(ctx, rec); err != nil {
		return fault.Wrap(op, msg.SessionID, err)
	}

	data := map[string]any{
		"messageId": msg.ID,
		"fromAgent": msg.FromAgent,
		"toAgent":   msg.Recipient(),
		"priority":  string(priority.Level),
		"routedAt":  now,
	}
	b.bus.Emit(ctx, events.PriorityMessageRouted, msg.SessionID, data)

	if priority.Level.Alerts() {
		b.logger.Warn("urgent message routed",
			"session_id", msg.SessionID,
			"message_id", msg.ID,
			"priority", priority.Level,
		)
		b.bus.Emit(ctx, events.UrgentMessageAlert, msg.SessionID, map[string]any{
			"messageId": msg.ID,
			"fromAgent": msg.FromAgent,
			"priority":  string(priority.Level),
			"content":   msg.Content,
		})
	}
	return nil
}

// storedMessage loads the message ref points at, which must belong to ref.SessionID.
func (b *Bus) storedMessage(ctx context.Context, op string, ref coord.Message) (coord.Message, error) {
	notFound := &fault.Error{Op: op, SessionID: ref.SessionID, Kind: fault.ErrNotFound,
		Detail: fmt.Sprintf("message %q was not sent in this session", ref.ID)}

	rec, err := b.store.Get(ctx, ref.ID)
	if records.IsNotFound(err) {
		return coord.Message{}, notFound
	}
	if err != nil {
		return coord.Message{}, fault.Wrap(op, ref.SessionID, err)
	}
	if rec.Kind != records.KindMessage {
		return coord.Message{}, notFound
	}

	var msg coord.Message
	if err := rec.Decode(&msg); err != nil {
		return coord.Message{}, fault.Wrap(op, ref.SessionID, err)
	}
	if msg.SessionID != ref.SessionID {
		return coord.Message{}, notFound
	}
	return msg, nil
}

// EnableRealTimeMode marks the session for aggressive streaming by downstream consumers.
// Enabling twice is harmless.
func (b *Bus) EnableRealTimeMode(ctx context.Context, sessionID string) error {
	const op = "enable_realtime_mode"
	if sessionID == "" {
		return fault.InvalidArgument(op, "session id cannot be empty")
	}
	if _, err := b.sessions.GetSessionInfo(ctx, sessionID); err != nil {
		return fault.Wrap(op, sessionID, err)
	}

	now := b.now().UTC()
	rec, err := records.NewRecord(records.KindMarker, markerID(sessionID), "real-time mode enabled", map[string]any{
		"sessionId": sessionID,
		"marker":    realtimeMarker,
		"enabledAt": now,
	})
	if err != nil {
		return fault.Wrap(op, sessionID, err)
	}
	rec.CreatedAtMs = now.UnixMilli()
	rec.Labels["session_id"] = sessionID
	rec.Labels["marker"] = realtimeMarker
	if _, err := b.store.Add(ctx, rec); err != nil {
		return fault.Wrap(op, sessionID, err)
	}

	b.logger.Info("real-time mode enabled", "session_id", sessionID)
	b.bus.Emit(ctx, events.RealtimeModeEnabled, sessionID, nil)
	return nil
}

// RealTimeEnabled reports whether EnableRealTimeMode was called for the session.
func (b *Bus) RealTimeEnabled(ctx context.Context, sessionID string) (bool, error) {
	rec, err := b.store.Get(ctx, markerID(sessionID))
	if records.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fault.Wrap("realtime_enabled", sessionID, err)
	}
	return rec.Kind == records.KindMarker, nil
}

func markerID(sessionID string) string {
	return realtimeMarker + ":" + sessionID
}
