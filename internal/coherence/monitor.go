package coherence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dyluth/agora/internal/events"
	"github.com/dyluth/agora/pkg/coord"
	"github.com/dyluth/agora/pkg/fault"
	"github.com/dyluth/agora/pkg/records"
)

// DefaultHistoryLimit bounds how many recent messages MaintainCoherence analyzes.
const DefaultHistoryLimit = 1000

// SessionLookup resolves sessions.
type SessionLookup interface {
	GetSessionInfo(ctx context.Context, sessionID string) (*coord.Session, error)
}

// HistoryReader returns a session's messages in chronological order.
type HistoryReader interface {
	GetMessageHistory(ctx context.Context, sessionID string, limit int) ([]coord.Message, error)
}

// Monitor analyzes sessions on demand and records the outcome.
type Monitor struct {
	store        records.Store
	sessions     SessionLookup
	history      HistoryReader
	bus          *events.Bus
	logger       *slog.Logger
	now          func() time.Time
	historyLimit int
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithHistoryLimit sets how many recent messages are analyzed.
func WithHistoryLimit(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.historyLimit = n
		}
	}
}

// NewMonitor creates a Monitor.
func NewMonitor(store records.Store, sessions SessionLookup, history HistoryReader, bus *events.Bus, logger *slog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		store:        store,
		sessions:     sessions,
		history:      history,
		bus:          bus,
		logger:       logger,
		now:          time.Now,
		historyLimit: DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MaintainCoherence analyzes the session, persists the analysis and emits
// coherence_monitored, plus coherence_degraded when the score falls below DegradedBelow.
func (m *Monitor) MaintainCoherence(ctx context.Context, sessionID string) (*coord.SessionCoherence, error) {
	const op = "maintain_coherence"
	if sessionID == "" {
		return nil, fault.InvalidArgument(op, "session id cannot be empty")
	}

	s, err := m.sessions.GetSessionInfo(ctx, sessionID)
	if err != nil {
		return nil, fault.Wrap(op, sessionID, err)
	}
	msgs, err := m.history.GetMessageHistory(ctx, sessionID, m.historyLimit)
	if err != nil {
		return nil, fault.Wrap(op, sessionID, err)
	}

	now := m.now().UTC()
	result := Analyze(s, msgs, now)

	rec, err := records.NewRecord(records.KindAnalysis, uuid.New().String(), summary(result), result)
	if err != nil {
		return nil, fault.Wrap(op, sessionID, err)
	}
	rec.CreatedAtMs = now.UnixMilli()
	rec.Labels["session_id"] = sessionID
	for _, issue := range result.Issues {
		rec.Tags = append(rec.Tags, "issue:"+string(issue.Type))
	}
	if _, err := m.store.Add(ctx, rec); err != nil {
		return nil, fault.Wrap(op, sessionID, err)
	}

	m.logger.Info("coherence analyzed",
		"session_id", sessionID,
		"coherence_score", result.CoherenceScore,
		"topic_drift", result.TopicDrift,
		"discussion_quality", result.DiscussionQuality,
		"issues", len(result.Issues),
	)
	m.bus.Emit(ctx, events.CoherenceMonitored, sessionID, map[string]any{
		"coherenceScore":    result.CoherenceScore,
		"topicDrift":        result.TopicDrift,
		"discussionQuality": result.DiscussionQuality,
		"issues":            len(result.Issues),
	})

	if result.CoherenceScore < DegradedBelow {
		m.logger.Warn("session coherence degraded", "session_id", sessionID, "coherence_score", result.CoherenceScore)
		m.bus.Emit(ctx, events.CoherenceDegraded, sessionID, map[string]any{
			"coherenceScore":  result.CoherenceScore,
			"recommendations": result.Recommendations,
		})
	}
	return result, nil
}

// History returns the persisted analyses of a session, oldest first.
func (m *Monitor) History(ctx context.Context, sessionID string, limit int) ([]coord.SessionCoherence, error) {
	recs, err := m.store.Search(ctx, records.Query{
		Kind:   records.KindAnalysis,
		Labels: map[string]string{"session_id": sessionID},
		Limit:  limit,
	})
	if err != nil {
		return nil, fault.Wrap("coherence_history", sessionID, err)
	}
	out := make([]coord.SessionCoherence, 0, len(recs))
	for _, rec := range recs {
		var c coord.SessionCoherence
		if err := rec.Decode(&c); err != nil {
			return nil, fault.Wrap("coherence_history", sessionID, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func summary(c *coord.SessionCoherence) string {
	return fmt.Sprintf("coherence %.2f, drift %.2f, quality %.2f, %d issue(s)",
		c.CoherenceScore, c.TopicDrift, c.DiscussionQuality, len(c.Issues))
}
