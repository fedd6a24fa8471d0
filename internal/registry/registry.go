// Package registry owns agent registration, discovery and availability.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dyluth/agora/internal/events"
	"github.com/dyluth/agora/pkg/coord"
	"github.com/dyluth/agora/pkg/fault"
	"github.com/dyluth/agora/pkg/records"
)

// DefaultDiscoveryLimit caps discovery results when the caller gives no limit.
const DefaultDiscoveryLimit = 50

const capabilityTagPrefix = "capability:"

// agentRecordPrefix keeps caller-chosen agent ids out of the id space of
// sessions, messages and markers.
const agentRecordPrefix = "agent:"

// maxStatusAttempts bounds the read-modify-write loop in SetAgentStatus.
const maxStatusAttempts = 5

// RegisterRequest describes an agent registration. ID is generated when empty.
type RegisterRequest struct {
	ID           string            `json:"id,omitempty"`
	Name         string            `json:"name"`
	Capabilities []string          `json:"capabilities"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// DiscoverQuery filters discovery. Zero values match everything.
type DiscoverQuery struct {
	Capabilities []string          `json:"capabilities,omitempty"`
	Status       coord.AgentStatus `json:"status,omitempty"`
	Health       string            `json:"health,omitempty"`
	Limit        int               `json:"limit,omitempty"`
}

// Registry registers and discovers agents. Agents live only in the record store.
type Registry struct {
	store        records.Store
	bus          *events.Bus
	logger       *slog.Logger
	now          func() time.Time
	defaultLimit int
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithDefaultLimit sets the discovery limit used when a query gives none.
func WithDefaultLimit(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.defaultLimit = n
		}
	}
}

// New creates a Registry.
func New(store records.Store, bus *events.Bus, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		store:        store,
		bus:          bus,
		logger:       logger,
		now:          time.Now,
		defaultLimit: DefaultDiscoveryLimit,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterAgent stores the agent as online and returns its id.
// Re-registering an existing id replaces the previous record wholesale.
func (r *Registry) RegisterAgent(ctx context.Context, req RegisterRequest) (string, error) {
	const op = "register_agent"
	if strings.TrimSpace(req.Name) == "" {
		return "", fault.InvalidArgument(op, "agent name cannot be empty")
	}

	agent := coord.Agent{
		ID:           req.ID,
		Name:         req.Name,
		Capabilities: dedupe(req.Capabilities),
		Status:       coord.AgentOnline,
		LastActive:   r.now().UTC(),
		Metadata:     req.Metadata,
	}
	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}

	if err := r.put(ctx, &agent, 0); err != nil {
		return "", fault.Wrap(op, "", err)
	}

	r.logger.Info("agent registered",
		"agent_id", agent.ID,
		"name", agent.Name,
		"capabilities", agent.Capabilities,
	)
	r.bus.Emit(ctx, events.AgentRegistered, "", map[string]any{
		"agentId":      agent.ID,
		"name":         agent.Name,
		"capabilities": agent.Capabilities,
	})
	return agent.ID, nil
}

// GetAgent returns a registered agent.
func (r *Registry) GetAgent(ctx context.Context, agentID string) (*coord.Agent, error) {
	agent, _, err := r.load(ctx, agentID)
	if err != nil {
		return nil, fault.Wrap("get_agent", "", err)
	}
	return agent, nil
}

// DiscoverAgents returns agents advertising every requested capability, ordered by id.
// An empty result is not an error; store failures are.
func (r *Registry) DiscoverAgents(ctx context.Context, q DiscoverQuery) ([]coord.AgentWithHealth, error) {
	const op = "discover_agents"
	out := []coord.AgentWithHealth{}

	if q.Status != "" {
		if err := q.Status.Validate(); err != nil {
			return nil, fault.Invalid(op, err)
		}
	}
	// Health is synthetic and always healthy, so any other filter matches nothing.
	if q.Health != "" && q.Health != coord.HealthHealthy {
		return out, nil
	}

	query := records.Query{Kind: records.KindAgent}
	for _, c := range dedupe(q.Capabilities) {
		query.Tags = append(query.Tags, capabilityTagPrefix+c)
	}
	if q.Status != "" {
		query.Labels = map[string]string{"status": string(q.Status)}
	}

	recs, err := r.store.Search(ctx, query)
	if err != nil {
		return nil, fault.Wrap(op, "", err)
	}

	now := r.now()
	for _, rec := range recs {
		var agent coord.Agent
		if err := rec.Decode(&agent); err != nil {
			r.logger.Warn("skipping undecodable agent record", "record_id", rec.ID, "error", err)
			continue
		}
		if !agent.HasAll(q.Capabilities) {
			continue
		}
		if q.Status != "" && agent.Status != q.Status {
			continue
		}
		out = append(out, coord.AgentWithHealth{Agent: agent, Health: health(agent, now)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	limit := q.Limit
	if limit <= 0 {
		limit = r.defaultLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SetAgentStatus changes an agent's availability and refreshes lastActive.
func (r *Registry) SetAgentStatus(ctx context.Context, agentID string, status coord.AgentStatus) error {
	const op = "set_agent_status"
	if agentID == "" {
		return fault.InvalidArgument(op, "agent id cannot be empty")
	}
	if err := status.Validate(); err != nil {
		return fault.Invalid(op, err)
	}

	for attempt := 1; attempt <= maxStatusAttempts; attempt++ {
		agent, version, err := r.load(ctx, agentID)
		if err != nil {
			return fault.Wrap(op, "", err)
		}
		previous := agent.Status
		agent.Status = status
		agent.LastActive = r.now().UTC()

		err = r.put(ctx, agent, version)
		if errors.Is(err, fault.ErrConflict) {
			r.logger.Debug("agent status write conflicted, retrying", "agent_id", agentID, "attempt", attempt)
			continue
		}
		if err != nil {
			return fault.Wrap(op, "", err)
		}

		r.bus.Emit(ctx, events.AgentStatusChanged, "", map[string]any{
			"agentId":  agentID,
			"previous": string(previous),
			"status":   string(status),
		})
		return nil
	}
	return fault.Retryable(op, fmt.Errorf("agent %s changed concurrently %d times", agentID, maxStatusAttempts))
}

func (r *Registry) load(ctx context.Context, agentID string) (*coord.Agent, int64, error) {
	rec, err := r.store.Get(ctx, recordID(agentID))
	if records.IsNotFound(err) {
		return nil, 0, fault.NotFound("get_agent", "agent %q", agentID)
	}
	if err != nil {
		return nil, 0, err
	}
	if rec.Kind != records.KindAgent {
		return nil, 0, fault.NotFound("get_agent", "agent %q", agentID)
	}
	var agent coord.Agent
	if err := rec.Decode(&agent); err != nil {
		return nil, 0, err
	}
	return &agent, rec.Version, nil
}

// put writes the agent record. expectedVersion 0 means an unconditional Add.
func (r *Registry) put(ctx context.Context, agent *coord.Agent, expectedVersion int64) error {
	content := agent.Name
	if len(agent.Capabilities) > 0 {
		content += " " + strings.Join(agent.Capabilities, " ")
	}
	rec, err := records.NewRecord(records.KindAgent, recordID(agent.ID), content, agent)
	if err != nil {
		return err
	}
	rec.Labels["agent_id"] = agent.ID
	rec.Labels["status"] = string(agent.Status)
	for _, c := range agent.Capabilities {
		rec.Tags = append(rec.Tags, capabilityTagPrefix+c)
	}

	if expectedVersion == 0 {
		_, err = r.store.Add(ctx, rec)
		return err
	}
	return r.store.Replace(ctx, rec, expectedVersion)
}

func recordID(agentID string) string {
	return agentRecordPrefix + agentID
}

func health(agent coord.Agent, now time.Time) coord.AgentHealth {
	uptime := now.Sub(agent.LastActive).Milliseconds()
	if uptime < 0 {
		uptime = 0
	}
	return coord.AgentHealth{
		Status:         coord.HealthHealthy,
		UptimeMs:       uptime,
		ResponseTimeMs: 0,
		ErrorRate:      0,
	}
}

// dedupe collapses duplicates and blanks, keeping first occurrence. Never returns nil.
func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
