// Package service is the Agora facade: one explicitly constructed value that owns
// the registry, session manager, message bus, coherence monitor and collaborator
// coordinator, traces every operation and accepts extensions.
//
// Construct as many Services per process as needed; nothing is global.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dyluth/agora/internal/coherence"
	"github.com/dyluth/agora/internal/collab"
	"github.com/dyluth/agora/internal/collab/heuristic"
	"github.com/dyluth/agora/internal/config"
	"github.com/dyluth/agora/internal/events"
	"github.com/dyluth/agora/internal/messaging"
	"github.com/dyluth/agora/internal/registry"
	"github.com/dyluth/agora/internal/session"
	"github.com/dyluth/agora/internal/tracer"
	"github.com/dyluth/agora/pkg/coord"
	"github.com/dyluth/agora/pkg/records"
)

// Deps are the Service's collaborators. Store is required; everything else has a default.
type Deps struct {
	Store  records.Store
	Bus    *events.Bus
	Logger *slog.Logger

	// Consensus and Insights default to the heuristic reference collaborators.
	Consensus collab.ConsensusBuilder
	Insights  collab.InsightDetector

	Clock               func() time.Time
	DiscoveryLimit      int
	ConsensusThreshold  float64
	CollaboratorTimeout time.Duration
	Breaker             config.BreakerConfig
}

// Extension plugs extra behavior into a Service, usually by subscribing to events.
type Extension interface {
	Name() string
	Apply(s *Service) error
}

// ExtensionFunc adapts a function to Extension.
type ExtensionFunc struct {
	ExtName string
	Fn      func(s *Service) error
}

func (e ExtensionFunc) Name() string { return e.ExtName }

func (e ExtensionFunc) Apply(s *Service) error { return e.Fn(s) }

// Service is the coordination substrate.
type Service struct {
	store    records.Store
	bus      *events.Bus
	logger   *slog.Logger
	registry *registry.Registry
	sessions *session.Manager
	messages *messaging.Bus
	monitor  *coherence.Monitor
	collab   *collab.Coordinator
}

// New wires a Service from deps.
func New(d Deps) (*Service, error) {
	if d.Store == nil {
		return nil, errors.New("service: store is required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Bus == nil {
		d.Bus = events.New(d.Logger)
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Consensus == nil {
		d.Consensus = heuristic.VoteConsensus{}
	}
	if d.Insights == nil {
		d.Insights = heuristic.CueInsights{}
	}

	reg := registry.New(d.Store, d.Bus, d.Logger.With("component", "registry"),
		registry.WithClock(d.Clock),
		registry.WithDefaultLimit(d.DiscoveryLimit),
	)
	sessions := session.New(d.Store, d.Bus, d.Logger.With("component", "session"),
		session.WithClock(d.Clock),
		session.WithDefaultConsensusThreshold(d.ConsensusThreshold),
	)
	messages := messaging.New(d.Store, sessions, d.Bus, d.Logger.With("component", "messaging"),
		messaging.WithClock(d.Clock),
	)
	monitor := coherence.NewMonitor(d.Store, sessions, messages, d.Bus, d.Logger.With("component", "coherence"),
		coherence.WithClock(d.Clock),
	)
	coordinator := collab.New(d.Store, sessions, messages, d.Consensus, d.Insights, d.Bus, d.Logger.With("component", "collab"),
		collab.WithClock(d.Clock),
		collab.WithBreaker(d.Breaker),
		collab.WithTimeout(d.CollaboratorTimeout),
		collab.WithDefaultConsensusThreshold(d.ConsensusThreshold),
	)

	return &Service{
		store:    d.Store,
		bus:      d.Bus,
		logger:   d.Logger,
		registry: reg,
		sessions: sessions,
		messages: messages,
		monitor:  monitor,
		collab:   coordinator,
	}, nil
}

// Events returns the Service's event bus.
func (s *Service) Events() *events.Bus { return s.bus }

// Logger returns the Service's logger.
func (s *Service) Logger() *slog.Logger { return s.logger }

// Use applies an extension immediately. A failing or panicking extension is logged
// and its error returned; the Service stays usable either way.
func (s *Service) Use(ctx context.Context, ext Extension) error {
	name := ext.Name()
	if err := s.bus.Guard(ctx, "extension "+name, func(context.Context) error {
		return ext.Apply(s)
	}); err != nil {
		s.logger.Error("extension failed", "extension", name, "error", err)
		return err
	}
	s.logger.Info("extension registered", "extension", name)
	s.bus.Emit(ctx, events.ExtensionRegistered, "", map[string]any{"name": name})
	return nil
}

// Ping checks the record store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// BreakerStates reports the collaborator circuit states by name.
func (s *Service) BreakerStates() map[string]string {
	out := make(map[string]string)
	for name, st := range s.collab.BreakerStates() {
		out[name] = st.String()
	}
	return out
}

// RegisterAgent registers or re-registers an agent.
func (s *Service) RegisterAgent(ctx context.Context, req registry.RegisterRequest) (id string, err error) {
	ctx, span := tracer.StartSpan(ctx, "agora.register_agent", tracer.AgentAttr(req.ID))
	defer func() { tracer.End(span, err) }()
	return s.registry.RegisterAgent(ctx, req)
}

// DiscoverAgents finds agents by capability, status and health.
func (s *Service) DiscoverAgents(ctx context.Context, q registry.DiscoverQuery) (agents []coord.AgentWithHealth, err error) {
	ctx, span := tracer.StartSpan(ctx, "agora.discover_agents")
	defer func() { tracer.End(span, err) }()
	return s.registry.DiscoverAgents(ctx, q)
}

// GetAgent returns a registered agent.
func (s *Service) GetAgent(ctx context.Context, agentID string) (agent *coord.Agent, err error) {
	ctx, span := tracer.StartSpan(ctx, "agora.get_agent", tracer.AgentAttr(agentID))
	defer func() { tracer.End(span, err) }()
	return s.registry.GetAgent(ctx, agentID)
}

// SetAgentStatus changes an agent's availability.
func (s *Service) SetAgentStatus(ctx context.Context, agentID string, status coord.AgentStatus) (err error) {
	ctx, span := tracer.StartSpan(ctx, "agora.set_agent_status", tracer.AgentAttr(agentID))
	defer func() { tracer.End(span, err) }()
	return s.registry.SetAgentStatus(ctx, agentID, status)
}

// CreateSession starts a session.
func (s *Service) CreateSession(ctx context.Context, req session.CreateRequest) (id string, err error) {
	ctx, span := tracer.StartSpan(ctx, "agora.create_session")
	defer func() { tracer.End(span, err) }()
	return s.sessions.CreateSession(ctx, req)
}

// CreateEnhancedSession starts a business session with facilitation settings.
func (s *Service) CreateEnhancedSession(ctx context.Context, req session.CreateRequest, settings coord.EnhancedSettings) (id string, err error) {
	ctx, span := tracer.StartSpan(ctx, "agora.create_enhanced_session")
	defer func() { tracer.End(span, err) }()
	return s.sessions.CreateEnhancedSession(ctx, req, settings)
}

// GetSessionInfo returns a session.
func (s *Service) GetSessionInfo(ctx context.Context, sessionID string) (sess *coord.Session, err error) {
	ctx, span := tracer.StartSpan(ctx, "agora.get_session_info", tracer.SessionAttr(sessionID))
	defer func() { tracer.End(span, err) }()
	return s.sessions.GetSessionInfo(ctx, sessionID)
}

// JoinSession adds an agent to a session.
func (s *Service) JoinSession(ctx context.Context, sessionID, agentID string) (ok bool, err error) {
	ctx, span := tracer.StartSpan(ctx, "agora.join_session", tracer.SessionAttr(sessionID), tracer.AgentAttr(agentID))
	defer func() { tracer.End(span, err) }()
	return s.sessions.JoinSession(ctx, sessionID, agentID)
}

// LeaveSession removes an agent from a session.
func (s *Service) LeaveSession(ctx context.Context, sessionID, agentID string) (ok bool, err error) {
	ctx, span := tracer.StartSpan(ctx, "agora.leave_session", tracer.SessionAttr(sessionID), tracer.AgentAttr(agentID))
	defer func() { tracer.End(span, err) }()
	return s.sessions.LeaveSession(ctx, sessionID, agentID)
}

// ConcludeSession closes a session to further messages.
func (s *Service) ConcludeSession(ctx context.Context, sessionID string) (ok bool, err error) {
	ctx, span := tracer.StartSpan(ctx, "agora.conclude_session", tracer.SessionAttr(sessionID))
	defer func() { tracer.End(span, err) }()
	return s.sessions.ConcludeSession(ctx, sessionID)
}

// ListSessions lists sessions, optionally filtered by status.
func (s *Service) ListSessions(ctx context.Context, status coord.SessionStatus) (sessions []*coord.Session, err error) {
	ctx, span := tracer.StartSpan(ctx, "agora.list_sessions")
	defer func() { tracer.End(span, err) }()
	return s.sessions.ListSessions(ctx, status)
}

// SendMessage sends a message within a session.
func (s *Service) SendMessage(ctx context.Context, req messaging.SendRequest) (id string, err error) {
	ctx, span := tracer.StartSpan(ctx, "agora.send_message", tracer.SessionAttr(req.SessionID), tracer.AgentAttr(req.FromAgent))
	defer func() { tracer.End(span, err) }()
	return s.messages.SendMessage(ctx, req)
}

// BroadcastMessage sends a message to every participant.
func (s *Service) BroadcastMessage(ctx context.Context, req messaging.SendRequest) (id string, err error) {
	ctx, span := tracer.StartSpan(ctx, "agora.broadcast_message", tracer.SessionAttr(req.SessionID), tracer.AgentAttr(req.FromAgent))
	defer func() { tracer.End(span, err) }()
	return s.messages.BroadcastMessage(ctx, req)
}

// GetMessageHistory returns recent messages in chronological order.
func (s *Service) GetMessageHistory(ctx context.Context, sessionID string, limit int) (msgs []coord.Message, err error) {
	ctx, span := tracer.StartSpan(ctx, "agora.get_message_history", tracer.SessionAttr(sessionID))
	defer func() { tracer.End(span, err) }()
	return s.messages.GetMessageHistory(ctx, sessionID, limit)
}

// RouteWithPriority signals a message's priority.
func (s *Service) RouteWithPriority(ctx context.Context, msg coord.Message, priority coord.MessagePriority) (err error) {
	ctx, span := tracer.StartSpan(ctx, "agora.route_with_priority", tracer.SessionAttr(msg.SessionID))
	defer func() { tracer.End(span, err) }()
	return s.messages.RouteWithPriority(ctx, msg, priority)
}

// EnableRealTimeMode marks a session for live streaming.
func (s *Service) EnableRealTimeMode(ctx context.Context, sessionID string) (err error) {
	ctx, span := tracer.StartSpan(ctx, "agora.enable_realtime_mode", tracer.SessionAttr(sessionID))
	defer func() { tracer.End(span, err) }()
	return s.messages.EnableRealTimeMode(ctx, sessionID)
}

// RealTimeEnabled reports whether real-time mode is on for a session.
func (s *Service) RealTimeEnabled(ctx context.Context, sessionID string) (bool, error) {
	return s.messages.RealTimeEnabled(ctx, sessionID)
}

// MaintainCoherence analyzes a session's discussion health.
func (s *Service) MaintainCoherence(ctx context.Context, sessionID string) (result *coord.SessionCoherence, err error) {
	ctx, span := tracer.StartSpan(ctx, "agora.maintain_coherence", tracer.SessionAttr(sessionID))
	defer func() { tracer.End(span, err) }()
	return s.monitor.MaintainCoherence(ctx, sessionID)
}

// BuildConsensus evaluates agreement on a proposal.
func (s *Service) BuildConsensus(ctx context.Context, sessionID, proposal string) (result *coord.ConsensusResult, err error) {
	ctx, span := tracer.StartSpan(ctx, "agora.build_consensus", tracer.SessionAttr(sessionID))
	defer func() { tracer.End(span, err) }()
	return s.collab.BuildConsensus(ctx, sessionID, proposal)
}

// SynthesizeInsights extracts emergent insights from a session.
func (s *Service) SynthesizeInsights(ctx context.Context, sessionID string) (insights []coord.EmergentInsight, err error) {
	ctx, span := tracer.StartSpan(ctx, "agora.synthesize_insights", tracer.SessionAttr(sessionID))
	defer func() { tracer.End(span, err) }()
	return s.collab.SynthesizeInsights(ctx, sessionID)
}
