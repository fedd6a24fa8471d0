// Package coord provides the type-safe data model shared by every Agora component:
// agents, sessions, messages, priorities, coherence reports and the collaborator
// contract types. Enum-like string types carry Validate methods so malformed values
// are rejected before anything reaches the record store.
package coord

import (
	"fmt"
	"time"
)

// AgentStatus is the availability of a registered agent.
type AgentStatus string

const (
	AgentOnline  AgentStatus = "online"
	AgentOffline AgentStatus = "offline"
	AgentBusy    AgentStatus = "busy"
)

// Validate checks if the AgentStatus is a valid enum value.
func (s AgentStatus) Validate() error {
	switch s {
	case AgentOnline, AgentOffline, AgentBusy:
		return nil
	default:
		return fmt.Errorf("unknown agent status: %q", s)
	}
}

// Agent is a registered participant in the substrate.
// Agents are never physically deleted; they transition to offline.
type Agent struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Capabilities []string          `json:"capabilities"`
	Status       AgentStatus       `json:"status"`
	LastActive   time.Time         `json:"lastActive"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// HasAll reports whether the agent advertises every one of the given capabilities.
// Capabilities compare by exact string membership.
func (a *Agent) HasAll(capabilities []string) bool {
	have := make(map[string]struct{}, len(a.Capabilities))
	for _, c := range a.Capabilities {
		have[c] = struct{}{}
	}
	for _, want := range capabilities {
		if _, ok := have[want]; !ok {
			return false
		}
	}
	return true
}

// AgentHealth is the synthetic health block attached to discovery results.
type AgentHealth struct {
	Status         string  `json:"status"`
	UptimeMs       int64   `json:"uptimeMs"`
	ResponseTimeMs int64   `json:"responseTimeMs"`
	ErrorRate      float64 `json:"errorRate"`
}

// HealthHealthy is the only health status the registry derives.
const HealthHealthy = "healthy"

// AgentWithHealth is an agent plus its derived health.
type AgentWithHealth struct {
	Agent
	Health AgentHealth `json:"health"`
}

// SessionMode describes how participants collaborate.
type SessionMode string

const (
	ModeCollaborative SessionMode = "collaborative"
	ModeCompetitive   SessionMode = "competitive"
	ModeHierarchical  SessionMode = "hierarchical"
)

// Validate checks if the SessionMode is a valid enum value.
func (m SessionMode) Validate() error {
	switch m {
	case ModeCollaborative, ModeCompetitive, ModeHierarchical:
		return nil
	default:
		return fmt.Errorf("unknown session mode: %q", m)
	}
}

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionConcluded SessionStatus = "concluded"
)

// Validate checks if the SessionStatus is a valid enum value.
func (s SessionStatus) Validate() error {
	switch s {
	case SessionActive, SessionConcluded:
		return nil
	default:
		return fmt.Errorf("unknown session status: %q", s)
	}
}

// Session is a bounded multi-agent discussion.
type Session struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Participants []string          `json:"participants"`
	Mode         SessionMode       `json:"mode"`
	Topic        string            `json:"topic"`
	Status       SessionStatus     `json:"status"`
	CreatedAt    time.Time         `json:"createdAt"`
	Metadata     map[string]string `json:"metadata,omitempty"`

	// Messages is always empty on the stored record; history is read from the message bus.
	Messages []Message `json:"messages"`

	// DiscussionEnabled is forced on for enhanced sessions.
	DiscussionEnabled bool              `json:"discussionEnabled,omitempty"`
	Enhanced          *EnhancedSettings `json:"enhanced,omitempty"`

	// Version increments on every conditional write (join, leave, conclude).
	Version int64 `json:"version"`
}

// HasParticipant reports whether agentID is in the participant list.
func (s *Session) HasParticipant(agentID string) bool {
	for _, p := range s.Participants {
		if p == agentID {
			return true
		}
	}
	return false
}

// Validate checks the session's required fields and enums.
func (s *Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if s.Name == "" {
		return fmt.Errorf("session name cannot be empty")
	}
	if len(s.Participants) == 0 {
		return fmt.Errorf("session must have at least one participant")
	}
	if err := s.Mode.Validate(); err != nil {
		return fmt.Errorf("invalid mode: %w", err)
	}
	if err := s.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}
	if s.Enhanced != nil {
		if err := s.Enhanced.Validate(); err != nil {
			return fmt.Errorf("invalid enhanced settings: %w", err)
		}
	}
	return nil
}

// EnhancedSettings is the facilitation/coordination policy of a business session.
type EnhancedSettings struct {
	CommunicationMode  string             `json:"communicationMode,omitempty"`
	DiscussionType     string             `json:"discussionType,omitempty"`
	FacilitationMode   string             `json:"facilitationMode,omitempty"`
	InsightTargets     []string           `json:"insightTargets,omitempty"`
	ConsensusThreshold float64            `json:"consensusThreshold"`
	QualityTargets     map[string]float64 `json:"qualityTargets,omitempty"`
	BusinessContext    map[string]string  `json:"businessContext,omitempty"`
}

// Validate checks the consensus threshold is a usable fraction.
func (e *EnhancedSettings) Validate() error {
	if e.ConsensusThreshold <= 0 || e.ConsensusThreshold > 1 {
		return fmt.Errorf("consensus threshold must be in (0, 1], got %v", e.ConsensusThreshold)
	}
	return nil
}

// MessageType classifies a message's intent.
type MessageType string

const (
	MessageUpdate   MessageType = "update"
	MessageQuestion MessageType = "question"
	MessageDecision MessageType = "decision"
	MessageAction   MessageType = "action"
	MessageInsight  MessageType = "insight"
)

// Validate checks if the MessageType is a valid enum value.
func (t MessageType) Validate() error {
	switch t {
	case MessageUpdate, MessageQuestion, MessageDecision, MessageAction, MessageInsight:
		return nil
	default:
		return fmt.Errorf("unknown message type: %q", t)
	}
}

// BroadcastTarget is the recipient tag used for messages without a single recipient.
const BroadcastTarget = "all"

// Message is an immutable contribution to a session.
type Message struct {
	ID          string            `json:"id"`
	SessionID   string            `json:"sessionId"`
	FromAgent   string            `json:"fromAgent"`
	ToAgent     string            `json:"toAgent,omitempty"` // empty = broadcast
	Content     string            `json:"content"`
	MessageType MessageType       `json:"messageType"`
	Timestamp   time.Time         `json:"timestamp"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// IsBroadcast reports whether the message has no designated recipient.
func (m *Message) IsBroadcast() bool {
	return m.ToAgent == ""
}

// Recipient returns the recipient tag value: the agent id or BroadcastTarget.
func (m *Message) Recipient() string {
	if m.IsBroadcast() {
		return BroadcastTarget
	}
	return m.ToAgent
}

// PriorityLevel is the urgency attached to a routed message.
type PriorityLevel string

const (
	PriorityLow      PriorityLevel = "low"
	PriorityNormal   PriorityLevel = "normal"
	PriorityHigh     PriorityLevel = "high"
	PriorityUrgent   PriorityLevel = "urgent"
	PriorityCritical PriorityLevel = "critical"
)

// Validate checks if the PriorityLevel is a valid enum value.
func (l PriorityLevel) Validate() error {
	switch l {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent, PriorityCritical:
		return nil
	default:
		return fmt.Errorf("unknown priority level: %q", l)
	}
}

// Alerts reports whether the level raises an urgent alert.
func (l PriorityLevel) Alerts() bool {
	return l == PriorityUrgent || l == PriorityCritical
}

// MessagePriority is attached at routing time. It never changes message identity.
type MessagePriority struct {
	Level PriorityLevel `json:"level"`
}

// Routing is the persisted record of a priority routing decision.
type Routing struct {
	MessageID string          `json:"messageId"`
	SessionID string          `json:"sessionId"`
	FromAgent string          `json:"fromAgent"`
	ToAgent   string          `json:"toAgent,omitempty"`
	Priority  MessagePriority `json:"priority"`
	RoutedAt  time.Time       `json:"routedAt"`
}

// Event is a lifecycle notification published on the event bus and, when the relay
// is enabled, mirrored onto the store's Pub/Sub channel.
type Event struct {
	Name      string         `json:"name"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"sessionId,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}
