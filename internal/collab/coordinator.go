package collab

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"github.com/dyluth/agora/internal/config"
	"github.com/dyluth/agora/internal/events"
	"github.com/dyluth/agora/pkg/coord"
	"github.com/dyluth/agora/pkg/fault"
	"github.com/dyluth/agora/pkg/records"
)

// DefaultConsensusThreshold applies to sessions without enhanced settings.
const DefaultConsensusThreshold = 0.66

// DefaultHistoryLimit bounds how many recent turns a collaborator sees.
const DefaultHistoryLimit = 1000

// consensusRecord is the persisted form of a consensus decision.
type consensusRecord struct {
	SessionID string                `json:"sessionId"`
	Proposal  string                `json:"proposal"`
	Result    coord.ConsensusResult `json:"result"`
	DecidedAt time.Time             `json:"decidedAt"`
}

// Coordinator assembles discussion context, calls the collaborators and records
// their results.
type Coordinator struct {
	store     records.Store
	sessions  SessionLookup
	history   HistoryReader
	consensus ConsensusBuilder
	insights  InsightDetector
	bus       *events.Bus
	logger    *slog.Logger

	now              func() time.Time
	defaultThreshold float64
	historyLimit     int
	breakerCfg       config.BreakerConfig
	timeout          time.Duration

	consensusGuard *guard
	insightGuard   *guard
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithBreaker sets the circuit breaker policy shared by both collaborators.
func WithBreaker(cfg config.BreakerConfig) Option {
	return func(c *Coordinator) { c.breakerCfg = cfg }
}

// WithTimeout sets the per-call collaborator timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

// WithDefaultConsensusThreshold sets the threshold for sessions that carry none.
func WithDefaultConsensusThreshold(t float64) Option {
	return func(c *Coordinator) {
		if t > 0 && t <= 1 {
			c.defaultThreshold = t
		}
	}
}

// New creates a Coordinator.
func New(store records.Store, sessions SessionLookup, history HistoryReader, consensus ConsensusBuilder, insights InsightDetector, bus *events.Bus, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:            store,
		sessions:         sessions,
		history:          history,
		consensus:        consensus,
		insights:         insights,
		bus:              bus,
		logger:           logger,
		now:              time.Now,
		defaultThreshold: DefaultConsensusThreshold,
		historyLimit:     DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.consensusGuard = newGuard("consensus", c.breakerCfg, c.timeout, logger)
	c.insightGuard = newGuard("insight", c.breakerCfg, c.timeout, logger)
	return c
}

// BreakerStates reports the state of each collaborator circuit.
func (c *Coordinator) BreakerStates() map[string]gobreaker.State {
	return map[string]gobreaker.State{
		"consensus": c.consensusGuard.State(),
		"insight":   c.insightGuard.State(),
	}
}

// DiscussionContext builds the collaborator view of a session.
func (c *Coordinator) DiscussionContext(ctx context.Context, sessionID string) (*coord.DiscussionContext, error) {
	s, err := c.sessions.GetSessionInfo(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	msgs, err := c.history.GetMessageHistory(ctx, sessionID, c.historyLimit)
	if err != nil {
		return nil, err
	}
	return BuildContext(s, msgs, c.defaultThreshold), nil
}

// BuildContext reshapes a session and its history for collaborators.
func BuildContext(s *coord.Session, msgs []coord.Message, defaultThreshold float64) *coord.DiscussionContext {
	dc := &coord.DiscussionContext{
		SessionID:          s.ID,
		Topic:              s.Topic,
		Mode:               s.Mode,
		Participants:       append([]string(nil), s.Participants...),
		Turns:              make([]coord.DiscussionTurn, 0, len(msgs)),
		ConsensusThreshold: defaultThreshold,
	}
	if s.Enhanced != nil {
		dc.ConsensusThreshold = s.Enhanced.ConsensusThreshold
		dc.InsightTargets = s.Enhanced.InsightTargets
		dc.BusinessContext = s.Enhanced.BusinessContext
	}
	for _, m := range msgs {
		dc.Turns = append(dc.Turns, coord.DiscussionTurn{
			MessageID: m.ID,
			Speaker:   m.FromAgent,
			Addressee: m.ToAgent,
			Content:   m.Content,
			Kind:      m.MessageType,
			Timestamp: m.Timestamp,
		})
	}
	return dc
}

// BuildConsensus asks the consensus collaborator whether the session agrees on proposal.
func (c *Coordinator) BuildConsensus(ctx context.Context, sessionID, proposal string) (*coord.ConsensusResult, error) {
	const op = "build_consensus"
	switch {
	case sessionID == "":
		return nil, fault.InvalidArgument(op, "session id cannot be empty")
	case proposal == "":
		return nil, fault.InvalidArgument(op, "proposal cannot be empty")
	}

	dc, err := c.DiscussionContext(ctx, sessionID)
	if err != nil {
		return nil, fault.Wrap(op, sessionID, err)
	}

	result, err := call(ctx, c.consensusGuard, op, func(ctx context.Context) (*coord.ConsensusResult, error) {
		return c.consensus.BuildConsensus(ctx, dc.Participants, proposal, *dc)
	})
	if err != nil {
		c.logger.Warn("consensus collaborator failed", "session_id", sessionID, "error", err)
		return nil, fault.Wrap(op, sessionID, err)
	}
	if result == nil {
		return nil, fault.Wrap(op, sessionID, fault.Retryable(op, errEmptyResult))
	}
	if result.CompromisesReached == nil {
		result.CompromisesReached = []string{}
	}

	now := c.now().UTC()
	rec, err := records.NewRecord(records.KindConsensus, uuid.New().String(), proposal, consensusRecord{
		SessionID: sessionID,
		Proposal:  proposal,
		Result:    *result,
		DecidedAt: now,
	})
	if err != nil {
		return nil, fault.Wrap(op, sessionID, err)
	}
	rec.CreatedAtMs = now.UnixMilli()
	rec.Labels["session_id"] = sessionID
	rec.Labels["agreed"] = strconv.FormatBool(result.Agreed)
	if _, err := c.store.Add(ctx, rec); err != nil {
		return nil, fault.Wrap(op, sessionID, err)
	}

	name := events.ConsensusNotReached
	if result.Agreed {
		name = events.ConsensusReached
	}
	c.logger.Info("consensus evaluated",
		"session_id", sessionID,
		"agreed", result.Agreed,
		"consensus_level", result.ConsensusLevel,
	)
	c.bus.Emit(ctx, name, sessionID, map[string]any{
		"proposal":           proposal,
		"consensusLevel":     result.ConsensusLevel,
		"compromisesReached": result.CompromisesReached,
	})
	return result, nil
}

// SynthesizeInsights runs both insight detectors and records every insight found.
func (c *Coordinator) SynthesizeInsights(ctx context.Context, sessionID string) ([]coord.EmergentInsight, error) {
	const op = "synthesize_insights"
	if sessionID == "" {
		return nil, fault.InvalidArgument(op, "session id cannot be empty")
	}

	dc, err := c.DiscussionContext(ctx, sessionID)
	if err != nil {
		return nil, fault.Wrap(op, sessionID, err)
	}

	breakthroughs, err := call(ctx, c.insightGuard, op, func(ctx context.Context) ([]coord.Breakthrough, error) {
		return c.insights.DetectBreakthroughMoments(ctx, *dc)
	})
	if err != nil {
		return nil, fault.Wrap(op, sessionID, err)
	}
	connections, err := call(ctx, c.insightGuard, op, func(ctx context.Context) ([]coord.Connection, error) {
		return c.insights.IdentifyNovelConnections(ctx, *dc)
	})
	if err != nil {
		return nil, fault.Wrap(op, sessionID, err)
	}

	now := c.now().UTC()
	insights := Normalize(sessionID, breakthroughs, connections, now)
	for i := range insights {
		if err := c.persistInsight(ctx, &insights[i]); err != nil {
			return nil, fault.Wrap(op, sessionID, err)
		}
	}

	c.logger.Info("insights synthesized",
		"session_id", sessionID,
		"breakthroughs", len(breakthroughs),
		"connections", len(connections),
	)
	c.bus.Emit(ctx, events.InsightsSynthesized, sessionID, map[string]any{
		"breakthroughs": len(breakthroughs),
		"connections":   len(connections),
		"total":         len(insights),
	})
	return insights, nil
}

// Insights returns the insights recorded for a session, oldest first.
func (c *Coordinator) Insights(ctx context.Context, sessionID string) ([]coord.EmergentInsight, error) {
	recs, err := c.store.Search(ctx, records.Query{
		Kind:   records.KindInsight,
		Labels: map[string]string{"session_id": sessionID},
	})
	if err != nil {
		return nil, fault.Wrap("insights", sessionID, err)
	}
	out := make([]coord.EmergentInsight, 0, len(recs))
	for _, rec := range recs {
		var in coord.EmergentInsight
		if err := rec.Decode(&in); err != nil {
			return nil, fault.Wrap("insights", sessionID, err)
		}
		out = append(out, in)
	}
	return out, nil
}

func (c *Coordinator) persistInsight(ctx context.Context, in *coord.EmergentInsight) error {
	rec, err := records.NewRecord(records.KindInsight, in.ID, in.Content, in)
	if err != nil {
		return err
	}
	rec.CreatedAtMs = in.CreatedAt.UnixMilli()
	rec.Labels["session_id"] = in.Metadata["sessionId"]
	rec.Labels["insight_type"] = string(in.Type)
	for _, who := range in.Contributors {
		rec.Tags = append(rec.Tags, "contributor:"+who)
	}
	_, err = c.store.Add(ctx, rec)
	return err
}
