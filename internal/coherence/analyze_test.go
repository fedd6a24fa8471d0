package coherence

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/agora/pkg/coord"
)

var analyzedAt = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

func session(topic string, participants ...string) *coord.Session {
	return &coord.Session{
		ID:           "s1",
		Name:         "review",
		Participants: participants,
		Mode:         coord.ModeCollaborative,
		Topic:        topic,
		Status:       coord.SessionActive,
	}
}

func msg(from, content string) coord.Message {
	return coord.Message{SessionID: "s1", FromAgent: from, Content: content, MessageType: coord.MessageUpdate}
}

func TestAnalyze_Baseline(t *testing.T) {
	got := Analyze(session("API design", "a", "b"), nil, analyzedAt)

	assert.Equal(t, 1.0, got.CoherenceScore)
	assert.Equal(t, 0.0, got.TopicDrift)
	assert.Equal(t, 1.0, got.DiscussionQuality)
	assert.Empty(t, got.Issues)
	assert.NotNil(t, got.Issues)
	assert.Equal(t, map[string]float64{"a": 0, "b": 0}, got.ParticipationBalance)
	assert.Equal(t, []string{RecommendNotStarted}, got.Recommendations)
	assert.Equal(t, analyzedAt, got.AnalyzedAt)
}

func TestAnalyze_TopicDriftGrowsAsDiscussionWanders(t *testing.T) {
	s := session("database migration", "a", "b")
	var msgs []coord.Message
	for i := 0; i < 5; i++ {
		msgs = append(msgs, msg("a", fmt.Sprintf("the Database schema needs step %d", i)))
	}
	early := Analyze(s, msgs, analyzedAt)

	for i := 0; i < 5; i++ {
		msgs = append(msgs, msg("b", fmt.Sprintf("what about lunch plans %d", i)))
	}
	late := Analyze(s, msgs, analyzedAt)

	assert.Equal(t, 0.0, early.TopicDrift)
	assert.Greater(t, late.TopicDrift, early.TopicDrift)
	assert.InDelta(t, 0.5, late.TopicDrift, 1e-9)
	assert.InDelta(t, 0.5, late.CoherenceScore, 1e-9)
}

func TestAnalyze_DriftLooksAtRecentWindow(t *testing.T) {
	s := session("database", "a")
	var msgs []coord.Message
	for i := 0; i < 10; i++ {
		msgs = append(msgs, msg("a", "database work"))
	}
	for i := 0; i < DriftWindow; i++ {
		msgs = append(msgs, msg("a", "unrelated chatter"))
	}

	got := Analyze(s, msgs, analyzedAt)
	assert.InDelta(t, 0.5, got.CoherenceScore, 1e-9)
	assert.Equal(t, 1.0, got.TopicDrift)
	require.True(t, got.HasIssue(coord.IssueTopicDrift))
	assert.Equal(t, coord.SeverityMajor, got.Issues[0].Severity)
}

func TestAnalyze_EmptyTopicIsAlwaysCoherent(t *testing.T) {
	got := Analyze(session("", "a"), []coord.Message{msg("a", "anything at all")}, analyzedAt)
	assert.Equal(t, 1.0, got.CoherenceScore)
	assert.Equal(t, 0.0, got.TopicDrift)
}

func TestAnalyze_ParticipationSumsTo100(t *testing.T) {
	s := session("plan", "a", "b", "c")
	msgs := []coord.Message{
		msg("a", "plan one"),
		msg("a", "plan two"),
		msg("b", "plan three"),
		msg("outsider", "plan four"),
		msg("a", "plan five"),
		msg("b", "plan six"),
		msg("a", "plan seven"),
	}

	got := Analyze(s, msgs, analyzedAt)

	var sum float64
	for _, pct := range got.ParticipationBalance {
		sum += pct
	}
	assert.InDelta(t, 100, sum, 1e-9)
	assert.Equal(t, 0.0, got.ParticipationBalance["c"])
	assert.Contains(t, got.ParticipationBalance, "outsider")
	assert.InDelta(t, 400.0/7, got.ParticipationBalance["a"], 1e-9)
}

func TestAnalyze_UnevenParticipation(t *testing.T) {
	s := session("plan", "a", "b", "c")
	var msgs []coord.Message
	for i := 0; i < 9; i++ {
		msgs = append(msgs, msg("a", "plan detail"))
	}
	msgs = append(msgs, msg("b", "plan detail"))

	got := Analyze(s, msgs, analyzedAt)

	require.True(t, got.HasIssue(coord.IssueUnevenParticipation))
	var issue coord.Issue
	for _, i := range got.Issues {
		if i.Type == coord.IssueUnevenParticipation {
			issue = i
		}
	}
	assert.Equal(t, []string{"c"}, issue.AffectedAgents)
	assert.Contains(t, got.Recommendations, ActionEncourageQuiet)
	assert.Contains(t, got.Recommendations, ActionModerateDominant)
}

func TestAnalyze_InsightRate(t *testing.T) {
	msgs := []coord.Message{
		msg("a", "I just had an IDEA"),
		msg("a", "now I Understand"),
		msg("a", "ok"),
		msg("a", "fine"),
	}
	got := Analyze(session("", "a"), msgs, analyzedAt)
	assert.Equal(t, 0.5, got.InsightGenerationRate)
}

func TestMessageQuality(t *testing.T) {
	long := "this sentence is deliberately written to be longer than fifty characters"

	tests := []struct {
		name string
		msg  coord.Message
		want float64
	}{
		{"plain", msg("a", "ok"), 0.5},
		{"long", msg("a", long), 0.6},
		{"question", msg("a", "why?"), 0.6},
		{"because is case-insensitive", msg("a", "BECAUSE it works"), 0.6},
		{"data", msg("a", "the data says so"), 0.6},
		{"evidence", msg("a", "show evidence"), 0.6},
		{"decision type", coord.Message{Content: "ship it", MessageType: coord.MessageDecision}, 0.7},
		{"insight type", coord.Message{Content: "aha", MessageType: coord.MessageInsight}, 0.7},
		{"capped", coord.Message{Content: long + " because data?", MessageType: coord.MessageInsight}, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, MessageQuality(tt.msg), 1e-9)
		})
	}
}

func TestAnalyze_LowQuality(t *testing.T) {
	got := Analyze(session("", "a"), []coord.Message{msg("a", "ok"), msg("a", "sure")}, analyzedAt)

	require.True(t, got.HasIssue(coord.IssueLowQuality))
	assert.Equal(t, coord.SeverityModerate, got.Issues[0].Severity)
	assert.Equal(t, []string{ActionRequestDetail, ActionAskEvidence}, got.Recommendations)
}

func TestAnalyze_RecommendationsAreDeduplicatedInIssueOrder(t *testing.T) {
	got := Analyze(session("database", "a"), []coord.Message{msg("a", "ok"), msg("a", "sure")}, analyzedAt)

	require.Len(t, got.Issues, 2)
	assert.Equal(t, coord.IssueTopicDrift, got.Issues[0].Type)
	assert.Equal(t, coord.IssueLowQuality, got.Issues[1].Type)
	assert.Equal(t, []string{ActionRefocus, ActionRequestDetail, ActionAskEvidence}, got.Recommendations)
}

func TestAnalyze_HealthyDiscussion(t *testing.T) {
	s := session("API design", "agentA", "agentB")
	msgs := []coord.Message{
		msg("agentA", "I think we should version the API in the path so clients can pin a release"),
		msg("agentB", "Agreed, because clients cannot always set custom headers when calling our API"),
	}

	got := Analyze(s, msgs, analyzedAt)

	assert.InDelta(t, 0.65, got.DiscussionQuality, 1e-9)
	assert.Equal(t, 1.0, got.CoherenceScore)
	assert.Empty(t, got.Issues)
	assert.Equal(t, []string{RecommendProceeding}, got.Recommendations)
}

func TestAnalyze_ShortContributionsScoreBelowThreshold(t *testing.T) {
	s := session("API design", "agentA", "agentB")
	msgs := []coord.Message{
		msg("agentA", "I think we should version the API in the path"),
		msg("agentB", "Agreed, because clients can't always set headers"),
	}

	got := Analyze(s, msgs, analyzedAt)

	assert.InDelta(t, 0.55, got.DiscussionQuality, 1e-9)
	assert.True(t, got.HasIssue(coord.IssueLowQuality))
}
