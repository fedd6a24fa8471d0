// Package api exposes the Agora operations as named JSON tools over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/dyluth/agora/internal/messaging"
	"github.com/dyluth/agora/internal/registry"
	"github.com/dyluth/agora/internal/service"
	"github.com/dyluth/agora/internal/session"
	"github.com/dyluth/agora/pkg/coord"
	"github.com/dyluth/agora/pkg/fault"
)

// Tool names.
const (
	ToolRegisterAgent         = "register_agent"
	ToolDiscoverAgents        = "discover_agents"
	ToolSetAgentStatus        = "set_agent_status"
	ToolCreateSession         = "create_session"
	ToolCreateEnhancedSession = "create_enhanced_session"
	ToolJoinSession           = "join_session"
	ToolLeaveSession          = "leave_session"
	ToolConcludeSession       = "conclude_session"
	ToolSendMessage           = "send_message"
	ToolBroadcastMessage      = "broadcast_message"
	ToolGetMessageHistory     = "get_message_history"
	ToolGetSessionInfo        = "get_session_info"
	ToolRouteWithPriority     = "route_with_priority"
	ToolEnableRealtimeMode    = "enable_realtime_mode"
	ToolMaintainCoherence     = "maintain_coherence"
	ToolBuildConsensus        = "build_consensus"
	ToolSynthesizeInsights    = "synthesize_insights"
)

// ToolFunc executes one tool against raw JSON arguments.
type ToolFunc func(ctx context.Context, args json.RawMessage) (any, error)

// Dispatcher maps tool names to Service operations.
type Dispatcher struct {
	svc   *service.Service
	tools map[string]ToolFunc
}

type sessionArgs struct {
	SessionID string `json:"sessionId"`
}

type membershipArgs struct {
	SessionID string `json:"sessionId"`
	AgentID   string `json:"agentId"`
}

type statusArgs struct {
	AgentID string            `json:"agentId"`
	Status  coord.AgentStatus `json:"status"`
}

type enhancedArgs struct {
	session.CreateRequest
	coord.EnhancedSettings
}

type historyArgs struct {
	SessionID string `json:"sessionId"`
	Limit     int    `json:"limit,omitempty"`
}

type routeArgs struct {
	Message  *coord.Message         `json:"message"`
	Priority *coord.MessagePriority `json:"priority"`
}

type consensusArgs struct {
	SessionID string `json:"sessionId"`
	Proposal  string `json:"proposal"`
}

// NewDispatcher builds the tool table for svc.
func NewDispatcher(svc *service.Service) *Dispatcher {
	d := &Dispatcher{svc: svc}
	d.tools = map[string]ToolFunc{
		ToolRegisterAgent: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a registry.RegisterRequest
			if err := decode(ToolRegisterAgent, raw, &a); err != nil {
				return nil, err
			}
			if a.Name == "" || a.Capabilities == nil {
				return nil, fault.InvalidArgument(ToolRegisterAgent, "name and capabilities are required")
			}
			return svc.RegisterAgent(ctx, a)
		},
		ToolDiscoverAgents: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a registry.DiscoverQuery
			if err := decode(ToolDiscoverAgents, raw, &a); err != nil {
				return nil, err
			}
			return svc.DiscoverAgents(ctx, a)
		},
		ToolSetAgentStatus: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a statusArgs
			if err := decode(ToolSetAgentStatus, raw, &a); err != nil {
				return nil, err
			}
			if a.AgentID == "" || a.Status == "" {
				return nil, fault.InvalidArgument(ToolSetAgentStatus, "agentId and status are required")
			}
			if err := svc.SetAgentStatus(ctx, a.AgentID, a.Status); err != nil {
				return nil, err
			}
			return true, nil
		},
		ToolCreateSession: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a session.CreateRequest
			if err := decode(ToolCreateSession, raw, &a); err != nil {
				return nil, err
			}
			return svc.CreateSession(ctx, a)
		},
		ToolCreateEnhancedSession: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a enhancedArgs
			if err := decode(ToolCreateEnhancedSession, raw, &a); err != nil {
				return nil, err
			}
			return svc.CreateEnhancedSession(ctx, a.CreateRequest, a.EnhancedSettings)
		},
		ToolJoinSession: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a membershipArgs
			if err := decodeMembership(ToolJoinSession, raw, &a); err != nil {
				return nil, err
			}
			return svc.JoinSession(ctx, a.SessionID, a.AgentID)
		},
		ToolLeaveSession: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a membershipArgs
			if err := decodeMembership(ToolLeaveSession, raw, &a); err != nil {
				return nil, err
			}
			return svc.LeaveSession(ctx, a.SessionID, a.AgentID)
		},
		ToolConcludeSession: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a sessionArgs
			if err := decodeSession(ToolConcludeSession, raw, &a); err != nil {
				return nil, err
			}
			return svc.ConcludeSession(ctx, a.SessionID)
		},
		ToolSendMessage: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a messaging.SendRequest
			if err := decode(ToolSendMessage, raw, &a); err != nil {
				return nil, err
			}
			if a.ToAgent == "" {
				return nil, fault.InvalidArgument(ToolSendMessage, "toAgent is required; use broadcast_message to address everyone")
			}
			return svc.SendMessage(ctx, a)
		},
		ToolBroadcastMessage: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a messaging.SendRequest
			if err := decode(ToolBroadcastMessage, raw, &a); err != nil {
				return nil, err
			}
			return svc.BroadcastMessage(ctx, a)
		},
		ToolGetMessageHistory: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a historyArgs
			if err := decode(ToolGetMessageHistory, raw, &a); err != nil {
				return nil, err
			}
			return svc.GetMessageHistory(ctx, a.SessionID, a.Limit)
		},
		ToolGetSessionInfo: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a sessionArgs
			if err := decodeSession(ToolGetSessionInfo, raw, &a); err != nil {
				return nil, err
			}
			s, err := svc.GetSessionInfo(ctx, a.SessionID)
			if errors.Is(err, fault.ErrNotFound) {
				return nil, nil
			}
			return s, err
		},
		ToolRouteWithPriority: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a routeArgs
			if err := decode(ToolRouteWithPriority, raw, &a); err != nil {
				return nil, err
			}
			if a.Message == nil || a.Priority == nil {
				return nil, fault.InvalidArgument(ToolRouteWithPriority, "message and priority are required")
			}
			if err := svc.RouteWithPriority(ctx, *a.Message, *a.Priority); err != nil {
				return nil, err
			}
			return true, nil
		},
		ToolEnableRealtimeMode: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a sessionArgs
			if err := decodeSession(ToolEnableRealtimeMode, raw, &a); err != nil {
				return nil, err
			}
			if err := svc.EnableRealTimeMode(ctx, a.SessionID); err != nil {
				return nil, err
			}
			return true, nil
		},
		ToolMaintainCoherence: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a sessionArgs
			if err := decodeSession(ToolMaintainCoherence, raw, &a); err != nil {
				return nil, err
			}
			return svc.MaintainCoherence(ctx, a.SessionID)
		},
		ToolBuildConsensus: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a consensusArgs
			if err := decode(ToolBuildConsensus, raw, &a); err != nil {
				return nil, err
			}
			return svc.BuildConsensus(ctx, a.SessionID, a.Proposal)
		},
		ToolSynthesizeInsights: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a sessionArgs
			if err := decodeSession(ToolSynthesizeInsights, raw, &a); err != nil {
				return nil, err
			}
			return svc.SynthesizeInsights(ctx, a.SessionID)
		},
	}
	return d
}

// Names returns every tool name, sorted.
func (d *Dispatcher) Names() []string {
	names := make([]string, 0, len(d.tools))
	for name := range d.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call runs the named tool.
func (d *Dispatcher) Call(ctx context.Context, name string, args json.RawMessage) (any, error) {
	tool, ok := d.tools[name]
	if !ok {
		return nil, fault.NotFound("call_tool", "unknown tool %q", name)
	}
	return tool(ctx, args)
}

func decode(op string, raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fault.Invalid(op, err)
	}
	return nil
}

func decodeSession(op string, raw json.RawMessage, a *sessionArgs) error {
	if err := decode(op, raw, a); err != nil {
		return err
	}
	if a.SessionID == "" {
		return fault.InvalidArgument(op, "sessionId is required")
	}
	return nil
}

func decodeMembership(op string, raw json.RawMessage, a *membershipArgs) error {
	if err := decode(op, raw, a); err != nil {
		return err
	}
	if a.SessionID == "" || a.AgentID == "" {
		return fault.InvalidArgument(op, "sessionId and agentId are required")
	}
	return nil
}
