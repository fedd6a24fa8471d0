// Package session owns the session lifecycle: creation, membership and conclusion.
//
// Sessions are stored as records whose id is the session id. Membership changes are
// read-modify-write cycles guarded by the record version: a lost race re-reads and
// retries a bounded number of times before surfacing a retryable error.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dyluth/agora/internal/events"
	"github.com/dyluth/agora/pkg/coord"
	"github.com/dyluth/agora/pkg/fault"
	"github.com/dyluth/agora/pkg/records"
)

// DefaultConsensusThreshold applies to enhanced sessions created without one.
const DefaultConsensusThreshold = 0.66

// maxWriteAttempts bounds the optimistic-concurrency retry loop.
const maxWriteAttempts = 5

const participantTagPrefix = "participant:"

// CreateRequest describes a new session. Mode defaults to collaborative.
type CreateRequest struct {
	Name         string            `json:"name"`
	Participants []string          `json:"participants"`
	Mode         coord.SessionMode `json:"mode,omitempty"`
	Topic        string            `json:"topic,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Manager creates and mutates sessions.
type Manager struct {
	store            records.Store
	bus              *events.Bus
	logger           *slog.Logger
	now              func() time.Time
	defaultThreshold float64
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithDefaultConsensusThreshold sets the threshold applied to enhanced sessions without one.
func WithDefaultConsensusThreshold(t float64) Option {
	return func(m *Manager) {
		if t > 0 && t <= 1 {
			m.defaultThreshold = t
		}
	}
}

// New creates a Manager.
func New(store records.Store, bus *events.Bus, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:            store,
		bus:              bus,
		logger:           logger,
		now:              time.Now,
		defaultThreshold: DefaultConsensusThreshold,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateSession persists a new active session and returns its id.
func (m *Manager) CreateSession(ctx context.Context, req CreateRequest) (string, error) {
	s, err := m.newSession("create_session", req)
	if err != nil {
		return "", err
	}
	if err := m.insert(ctx, s); err != nil {
		return "", fault.Wrap("create_session", s.ID, err)
	}

	m.logger.Info("session created",
		"session_id", s.ID,
		"name", s.Name,
		"participants", s.Participants,
		"mode", s.Mode,
	)
	m.bus.Emit(ctx, events.SessionCreated, s.ID, map[string]any{
		"name":         s.Name,
		"participants": s.Participants,
		"mode":         string(s.Mode),
		"topic":        s.Topic,
	})
	return s.ID, nil
}

// CreateEnhancedSession creates a business session carrying facilitation settings.
// Discussion is always enabled; a zero consensus threshold takes the configured default.
func (m *Manager) CreateEnhancedSession(ctx context.Context, req CreateRequest, settings coord.EnhancedSettings) (string, error) {
	const op = "create_enhanced_session"
	s, err := m.newSession(op, req)
	if err != nil {
		return "", err
	}
	if settings.ConsensusThreshold == 0 {
		settings.ConsensusThreshold = m.defaultThreshold
	}
	if err := settings.Validate(); err != nil {
		return "", fault.Invalid(op, err)
	}
	s.Enhanced = &settings
	s.DiscussionEnabled = true

	if err := m.insert(ctx, s); err != nil {
		return "", fault.Wrap(op, s.ID, err)
	}

	m.logger.Info("business session created",
		"session_id", s.ID,
		"name", s.Name,
		"discussion_type", settings.DiscussionType,
		"consensus_threshold", settings.ConsensusThreshold,
	)
	m.bus.Emit(ctx, events.BusinessSessionCreated, s.ID, map[string]any{
		"name":               s.Name,
		"participants":       s.Participants,
		"mode":               string(s.Mode),
		"communicationMode":  settings.CommunicationMode,
		"discussionType":     settings.DiscussionType,
		"facilitationMode":   settings.FacilitationMode,
		"consensusThreshold": settings.ConsensusThreshold,
	})
	return s.ID, nil
}

func (m *Manager) newSession(op string, req CreateRequest) (*coord.Session, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fault.InvalidArgument(op, "session name cannot be empty")
	}
	participants := uniqueParticipants(req.Participants)
	if len(participants) == 0 {
		return nil, fault.InvalidArgument(op, "session must have at least one participant")
	}
	mode := req.Mode
	if mode == "" {
		mode = coord.ModeCollaborative
	}

	s := &coord.Session{
		ID:           uuid.New().String(),
		Name:         req.Name,
		Participants: participants,
		Mode:         mode,
		Topic:        req.Topic,
		Status:       coord.SessionActive,
		CreatedAt:    m.now().UTC(),
		Metadata:     req.Metadata,
		Messages:     []coord.Message{},
		Version:      1,
	}
	if err := s.Validate(); err != nil {
		return nil, fault.Invalid(op, err)
	}
	return s, nil
}

// GetSessionInfo reads the session record stored under sessionID. Stray records
// carrying the same session_id label are only consulted when that record is missing;
// among those the earliest stored wins and a warning is logged.
func (m *Manager) GetSessionInfo(ctx context.Context, sessionID string) (*coord.Session, error) {
	const op = "get_session_info"
	if sessionID == "" {
		return nil, fault.InvalidArgument(op, "session id cannot be empty")
	}

	rec, err := m.store.Get(ctx, sessionID)
	switch {
	case err == nil && rec.Kind == records.KindSession:
		return decodeSession(rec)
	case err != nil && !records.IsNotFound(err):
		return nil, &fault.Error{Op: op, SessionID: sessionID, Err: err}
	}

	recs, err := m.store.Search(ctx, records.Query{
		Kind:   records.KindSession,
		Labels: map[string]string{"session_id": sessionID},
	})
	if err != nil {
		return nil, &fault.Error{Op: op, SessionID: sessionID, Err: err}
	}
	if len(recs) == 0 {
		return nil, &fault.Error{Op: op, SessionID: sessionID, Kind: fault.ErrNotFound, Detail: "session does not exist"}
	}
	if len(recs) > 1 {
		m.logger.Warn("multiple records share a session id, using the earliest",
			"session_id", sessionID,
			"matches", len(recs),
		)
	}
	return decodeSession(recs[0])
}

// JoinSession adds agentID to the participants. Joining twice is a successful no-op.
func (m *Manager) JoinSession(ctx context.Context, sessionID, agentID string) (bool, error) {
	const op = "join_session"
	if sessionID == "" || agentID == "" {
		return false, fault.InvalidArgument(op, "session id and agent id are required")
	}

	s, changed, err := m.mutate(ctx, op, sessionID, func(s *coord.Session) (bool, error) {
		if s.Status == coord.SessionConcluded {
			return false, fault.Unauthorized(op, "session is concluded")
		}
		if s.HasParticipant(agentID) {
			return false, nil
		}
		s.Participants = append(s.Participants, agentID)
		return true, nil
	})
	if err != nil {
		return false, err
	}

	if changed {
		m.logger.Info("agent joined session", "session_id", sessionID, "agent_id", agentID)
		m.bus.Emit(ctx, events.AgentJoinedSession, sessionID, map[string]any{
			"agentId":      agentID,
			"participants": s.Participants,
		})
	}
	return true, nil
}

// LeaveSession removes agentID from the participants.
// Returns false when the agent was not a participant.
func (m *Manager) LeaveSession(ctx context.Context, sessionID, agentID string) (bool, error) {
	const op = "leave_session"
	if sessionID == "" || agentID == "" {
		return false, fault.InvalidArgument(op, "session id and agent id are required")
	}

	s, changed, err := m.mutate(ctx, op, sessionID, func(s *coord.Session) (bool, error) {
		if s.Status == coord.SessionConcluded {
			return false, fault.Unauthorized(op, "session is concluded")
		}
		if !s.HasParticipant(agentID) {
			return false, nil
		}
		remaining := make([]string, 0, len(s.Participants))
		for _, p := range s.Participants {
			if p != agentID {
				remaining = append(remaining, p)
			}
		}
		s.Participants = remaining
		return true, nil
	})
	if err != nil {
		return false, err
	}

	if changed {
		m.logger.Info("agent left session", "session_id", sessionID, "agent_id", agentID)
		m.bus.Emit(ctx, events.AgentLeftSession, sessionID, map[string]any{
			"agentId":      agentID,
			"participants": s.Participants,
		})
	}
	return changed, nil
}

// ConcludeSession moves an active session to concluded.
// Returns false if it was already concluded.
func (m *Manager) ConcludeSession(ctx context.Context, sessionID string) (bool, error) {
	const op = "conclude_session"
	if sessionID == "" {
		return false, fault.InvalidArgument(op, "session id cannot be empty")
	}

	_, changed, err := m.mutate(ctx, op, sessionID, func(s *coord.Session) (bool, error) {
		if s.Status == coord.SessionConcluded {
			return false, nil
		}
		s.Status = coord.SessionConcluded
		return true, nil
	})
	if err != nil {
		return false, err
	}

	if changed {
		m.logger.Info("session concluded", "session_id", sessionID)
		m.bus.Emit(ctx, events.SessionConcluded, sessionID, nil)
	}
	return changed, nil
}

// ListSessions returns sessions in creation order, optionally filtered by status.
func (m *Manager) ListSessions(ctx context.Context, status coord.SessionStatus) ([]*coord.Session, error) {
	const op = "list_sessions"
	q := records.Query{Kind: records.KindSession}
	if status != "" {
		if err := status.Validate(); err != nil {
			return nil, fault.Invalid(op, err)
		}
		q.Labels = map[string]string{"status": string(status)}
	}

	recs, err := m.store.Search(ctx, q)
	if err != nil {
		return nil, fault.Wrap(op, "", err)
	}

	out := make([]*coord.Session, 0, len(recs))
	for _, rec := range recs {
		s, err := decodeSession(rec)
		if err != nil {
			m.logger.Warn("skipping undecodable session record", "record_id", rec.ID, "error", err)
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// mutate applies fn to the current session and writes it back if fn reports a change.
// Conflicting writes re-read and retry up to maxWriteAttempts times.
func (m *Manager) mutate(ctx context.Context, op, sessionID string, fn func(*coord.Session) (bool, error)) (*coord.Session, bool, error) {
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		rec, err := m.store.Get(ctx, sessionID)
		if records.IsNotFound(err) || (err == nil && rec.Kind != records.KindSession) {
			return nil, false, &fault.Error{Op: op, SessionID: sessionID, Kind: fault.ErrNotFound, Detail: "session does not exist"}
		}
		if err != nil {
			return nil, false, &fault.Error{Op: op, SessionID: sessionID, Err: err}
		}
		s, err := decodeSession(rec)
		if err != nil {
			return nil, false, &fault.Error{Op: op, SessionID: sessionID, Err: err}
		}

		changed, err := fn(s)
		if err != nil {
			return nil, false, fault.Wrap(op, sessionID, err)
		}
		if !changed {
			return s, false, nil
		}

		expected := s.Version
		s.Version = expected + 1
		next, err := sessionRecord(s)
		if err != nil {
			return nil, false, &fault.Error{Op: op, SessionID: sessionID, Err: err}
		}
		err = m.store.Replace(ctx, next, expected)
		if errors.Is(err, fault.ErrConflict) {
			m.logger.Debug("session write conflicted, retrying",
				"session_id", sessionID,
				"op", op,
				"attempt", attempt,
			)
			continue
		}
		if err != nil {
			return nil, false, &fault.Error{Op: op, SessionID: sessionID, Err: err}
		}
		return s, true, nil
	}

	return nil, false, &fault.Error{
		Op:        op,
		SessionID: sessionID,
		Kind:      fault.ErrRetryable,
		Detail:    fmt.Sprintf("session changed concurrently %d times", maxWriteAttempts),
	}
}

func (m *Manager) insert(ctx context.Context, s *coord.Session) error {
	rec, err := sessionRecord(s)
	if err != nil {
		return err
	}
	_, err = m.store.Add(ctx, rec)
	return err
}

func sessionRecord(s *coord.Session) (*records.Record, error) {
	content := s.Name
	if s.Topic != "" {
		content += " " + s.Topic
	}
	rec, err := records.NewRecord(records.KindSession, s.ID, content, s)
	if err != nil {
		return nil, err
	}
	rec.CreatedAtMs = s.CreatedAt.UnixMilli()
	rec.Labels["session_id"] = s.ID
	rec.Labels["status"] = string(s.Status)
	rec.Labels["mode"] = string(s.Mode)
	for _, p := range s.Participants {
		rec.Tags = append(rec.Tags, participantTagPrefix+p)
	}
	return rec, nil
}

func decodeSession(rec *records.Record) (*coord.Session, error) {
	var s coord.Session
	if err := rec.Decode(&s); err != nil {
		return nil, err
	}
	s.Version = rec.Version
	if s.Messages == nil {
		s.Messages = []coord.Message{}
	}
	if s.Participants == nil {
		s.Participants = []string{}
	}
	return &s, nil
}

// uniqueParticipants collapses duplicates and blanks preserving first occurrence.
func uniqueParticipants(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, p := range in {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
