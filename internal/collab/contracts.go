// Package collab hands a session's discussion to the consensus and insight
// collaborators and records what they return.
//
// The collaborators themselves are external: anything implementing ConsensusBuilder
// or InsightDetector can be plugged in. Every call runs under a per-call timeout and
// a circuit breaker so a slow or failing collaborator degrades into retryable errors
// instead of stalling callers.
package collab

import (
	"context"

	"github.com/dyluth/agora/pkg/coord"
)

// ConsensusBuilder decides whether participants agree on a proposal.
type ConsensusBuilder interface {
	BuildConsensus(ctx context.Context, participants []string, proposal string, dc coord.DiscussionContext) (*coord.ConsensusResult, error)
}

// InsightDetector finds emergent insights in a discussion.
type InsightDetector interface {
	DetectBreakthroughMoments(ctx context.Context, dc coord.DiscussionContext) ([]coord.Breakthrough, error)
	IdentifyNovelConnections(ctx context.Context, dc coord.DiscussionContext) ([]coord.Connection, error)
}

// SessionLookup resolves sessions.
type SessionLookup interface {
	GetSessionInfo(ctx context.Context, sessionID string) (*coord.Session, error)
}

// HistoryReader returns a session's messages in chronological order.
type HistoryReader interface {
	GetMessageHistory(ctx context.Context, sessionID string, limit int) ([]coord.Message, error)
}
