package coord

import "time"

// IssueType identifies a detected collaboration problem.
type IssueType string

const (
	IssueTopicDrift          IssueType = "topic_drift"
	IssueUnevenParticipation IssueType = "uneven_participation"
	IssueLowQuality          IssueType = "low_quality"
)

// Severity grades an issue.
type Severity string

const (
	SeverityModerate Severity = "moderate"
	SeverityMajor    Severity = "major"
)

// Issue is a single detected problem with its suggested corrective actions.
type Issue struct {
	Type             IssueType `json:"type"`
	Severity         Severity  `json:"severity"`
	Description      string    `json:"description"`
	AffectedAgents   []string  `json:"affectedAgents,omitempty"`
	SuggestedActions []string  `json:"suggestedActions"`
}

// SessionCoherence is the health view of a session, reproducible from its history.
type SessionCoherence struct {
	SessionID             string             `json:"sessionId"`
	CoherenceScore        float64            `json:"coherenceScore"`
	TopicDrift            float64            `json:"topicDrift"`
	ParticipationBalance  map[string]float64 `json:"participationBalance"`
	InsightGenerationRate float64            `json:"insightGenerationRate"`
	DiscussionQuality     float64            `json:"discussionQuality"`
	Issues                []Issue            `json:"issues"`
	Recommendations       []string           `json:"recommendations"`
	MessageCount          int                `json:"messageCount"`
	AnalyzedAt            time.Time          `json:"analyzedAt"`
}

// HasIssue reports whether an issue of the given type was detected.
func (c *SessionCoherence) HasIssue(t IssueType) bool {
	for _, issue := range c.Issues {
		if issue.Type == t {
			return true
		}
	}
	return false
}

// ConsensusResult is returned by the consensus collaborator.
type ConsensusResult struct {
	Agreed             bool     `json:"agreed"`
	ConsensusLevel     float64  `json:"consensusLevel"`
	CompromisesReached []string `json:"compromisesReached"`
}

// InsightType classifies an emergent insight by the detector that produced it.
type InsightType string

const (
	InsightBreakthrough    InsightType = "breakthrough"
	InsightNovelConnection InsightType = "novel_connection"
)

// EmergentInsight is the normalized output of insight synthesis.
type EmergentInsight struct {
	ID             string            `json:"id"`
	Type           InsightType       `json:"type"`
	Content        string            `json:"content"`
	Confidence     float64           `json:"confidence"`
	Contributors   []string          `json:"contributors"`
	Sources        []string          `json:"sources"`
	Implications   []string          `json:"implications"`
	ActionItems    []string          `json:"actionItems"`
	CreatedAt      time.Time         `json:"createdAt"`
	RelevanceScore float64           `json:"relevanceScore"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// DiscussionTurn is a message reshaped for collaborators.
type DiscussionTurn struct {
	MessageID string      `json:"messageId"`
	Speaker   string      `json:"speaker"`
	Addressee string      `json:"addressee,omitempty"`
	Content   string      `json:"content"`
	Kind      MessageType `json:"kind"`
	Timestamp time.Time   `json:"timestamp"`
}

// DiscussionContext is everything a collaborator sees about a session.
type DiscussionContext struct {
	SessionID          string            `json:"sessionId"`
	Topic              string            `json:"topic"`
	Mode               SessionMode       `json:"mode"`
	Participants       []string          `json:"participants"`
	Turns              []DiscussionTurn  `json:"turns"`
	ConsensusThreshold float64           `json:"consensusThreshold"`
	InsightTargets     []string          `json:"insightTargets,omitempty"`
	BusinessContext    map[string]string `json:"businessContext,omitempty"`
}

// Breakthrough is a moment the insight collaborator flagged as a step change.
type Breakthrough struct {
	Description  string   `json:"description"`
	Confidence   float64  `json:"confidence"`
	Contributors []string `json:"contributors"`
	MessageIDs   []string `json:"messageIds"`
	Implications []string `json:"implications,omitempty"`
}

// Connection links ideas from different contributions.
type Connection struct {
	Description  string   `json:"description"`
	Concepts     []string `json:"concepts"`
	Strength     float64  `json:"strength"`
	Contributors []string `json:"contributors"`
	MessageIDs   []string `json:"messageIds"`
	ActionItems  []string `json:"actionItems,omitempty"`
}
