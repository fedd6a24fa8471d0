// Package coherence measures the health of a session's discussion: how closely it
// tracks the topic, how evenly agents participate and how substantive the
// contributions are. Analyze is pure; Monitor loads history, persists the result
// and raises events.
package coherence

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dyluth/agora/pkg/coord"
)

// Thresholds and constants of the scoring model.
const (
	// DriftWindow is how many recent messages topic drift looks at.
	DriftWindow = 10

	// DegradedBelow is the coherence score under which a session is degraded.
	DegradedBelow = 0.7

	driftIssueAbove      = 0.5
	driftMajorAbove      = 0.8
	participationSpread  = 50.0
	quietUnderPercent    = 10.0
	lowQualityBelow      = 0.6
	lowQualityMajorBelow = 0.4
	qualityBase          = 0.5
	qualityLongerThan    = 50
	qualityCueBonus      = 0.1
	qualityTypeBonus     = 0.2
	maxMessageQuality    = 1.0
)

// Recommendation texts.
const (
	RecommendNotStarted    = "Session has not started yet: no messages to analyze"
	RecommendProceeding    = "Collaboration is proceeding well"
	ActionRefocus          = "Refocus the discussion on the original topic"
	ActionEncourageQuiet   = "Encourage quiet participants to contribute"
	ActionModerateDominant = "Moderate dominant participants"
	ActionRequestDetail    = "Request more detailed contributions"
	ActionAskEvidence      = "Ask participants for supporting evidence"
)

var insightIndicators = []string{"insight", "breakthrough", "realize", "understand", "solution", "idea"}

// Analyze scores a session's message history. It never touches the store and the
// same input always yields the same output, apart from AnalyzedAt which is set to now.
func Analyze(s *coord.Session, msgs []coord.Message, now time.Time) *coord.SessionCoherence {
	out := &coord.SessionCoherence{
		SessionID:            s.ID,
		ParticipationBalance: make(map[string]float64, len(s.Participants)),
		Issues:               []coord.Issue{},
		Recommendations:      []string{},
		MessageCount:         len(msgs),
		AnalyzedAt:           now,
	}
	for _, p := range s.Participants {
		out.ParticipationBalance[p] = 0
	}

	if len(msgs) == 0 {
		out.CoherenceScore = 1
		out.TopicDrift = 0
		out.DiscussionQuality = 1
		out.Recommendations = []string{RecommendNotStarted}
		return out
	}

	words := topicWords(s.Topic)
	out.CoherenceScore = topicCoherence(msgs, words)

	recent := msgs
	if len(recent) > DriftWindow {
		recent = recent[len(recent)-DriftWindow:]
	}
	out.TopicDrift = 1 - topicCoherence(recent, words)

	counts := make(map[string]int)
	for _, m := range msgs {
		counts[m.FromAgent]++
	}
	for agent, n := range counts {
		out.ParticipationBalance[agent] = float64(n) / float64(len(msgs)) * 100
	}

	out.InsightGenerationRate = fraction(msgs, func(m coord.Message) bool {
		return containsAny(strings.ToLower(m.Content), insightIndicators)
	})

	var total float64
	for _, m := range msgs {
		total += MessageQuality(m)
	}
	out.DiscussionQuality = total / float64(len(msgs))

	out.Issues = detectIssues(out)
	out.Recommendations = recommend(out.Issues)
	return out
}

// MessageQuality scores a single message between 0.5 and 1.0.
func MessageQuality(m coord.Message) float64 {
	content := strings.ToLower(m.Content)
	score := qualityBase
	if utf8.RuneCountInString(m.Content) > qualityLongerThan {
		score += qualityCueBonus
	}
	if strings.Contains(content, "?") {
		score += qualityCueBonus
	}
	if strings.Contains(content, "because") {
		score += qualityCueBonus
	}
	if strings.Contains(content, "data") || strings.Contains(content, "evidence") {
		score += qualityCueBonus
	}
	if m.MessageType == coord.MessageInsight || m.MessageType == coord.MessageDecision {
		score += qualityTypeBonus
	}
	if score > maxMessageQuality {
		score = maxMessageQuality
	}
	return score
}

// topicWords splits a topic into lowercase whitespace-delimited words.
func topicWords(topic string) []string {
	return strings.Fields(strings.ToLower(topic))
}

// topicCoherence is the fraction of messages mentioning at least one topic word.
// Without topic words every message counts as on-topic.
func topicCoherence(msgs []coord.Message, words []string) float64 {
	if len(words) == 0 {
		return 1
	}
	return fraction(msgs, func(m coord.Message) bool {
		return containsAny(strings.ToLower(m.Content), words)
	})
}

func fraction(msgs []coord.Message, pred func(coord.Message) bool) float64 {
	if len(msgs) == 0 {
		return 0
	}
	n := 0
	for _, m := range msgs {
		if pred(m) {
			n++
		}
	}
	return float64(n) / float64(len(msgs))
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func detectIssues(c *coord.SessionCoherence) []coord.Issue {
	issues := []coord.Issue{}

	if c.TopicDrift > driftIssueAbove {
		severity := coord.SeverityModerate
		if c.TopicDrift > driftMajorAbove {
			severity = coord.SeverityMajor
		}
		issues = append(issues, coord.Issue{
			Type:             coord.IssueTopicDrift,
			Severity:         severity,
			Description:      fmt.Sprintf("Recent discussion has drifted from the topic (drift %.2f)", c.TopicDrift),
			SuggestedActions: []string{ActionRefocus},
		})
	}

	if spread, quiet := participationSpreadOf(c.ParticipationBalance); spread > participationSpread {
		issues = append(issues, coord.Issue{
			Type:             coord.IssueUnevenParticipation,
			Severity:         coord.SeverityModerate,
			Description:      fmt.Sprintf("Participation is uneven (spread of %.0f percentage points)", spread),
			AffectedAgents:   quiet,
			SuggestedActions: []string{ActionEncourageQuiet, ActionModerateDominant},
		})
	}

	if c.DiscussionQuality < lowQualityBelow {
		severity := coord.SeverityModerate
		if c.DiscussionQuality < lowQualityMajorBelow {
			severity = coord.SeverityMajor
		}
		issues = append(issues, coord.Issue{
			Type:             coord.IssueLowQuality,
			Severity:         severity,
			Description:      fmt.Sprintf("Discussion quality is low (%.2f)", c.DiscussionQuality),
			SuggestedActions: []string{ActionRequestDetail, ActionAskEvidence},
		})
	}
	return issues
}

// participationSpreadOf returns max-min participation and the agents under the quiet
// threshold, sorted.
func participationSpreadOf(balance map[string]float64) (float64, []string) {
	if len(balance) == 0 {
		return 0, nil
	}
	first := true
	var lo, hi float64
	var quiet []string
	for agent, pct := range balance {
		if first || pct < lo {
			lo = pct
		}
		if first || pct > hi {
			hi = pct
		}
		first = false
		if pct < quietUnderPercent {
			quiet = append(quiet, agent)
		}
	}
	sort.Strings(quiet)
	return hi - lo, quiet
}

func recommend(issues []coord.Issue) []string {
	if len(issues) == 0 {
		return []string{RecommendProceeding}
	}
	seen := make(map[string]struct{})
	var out []string
	for _, issue := range issues {
		for _, action := range issue.SuggestedActions {
			if _, ok := seen[action]; ok {
				continue
			}
			seen[action] = struct{}{}
			out = append(out, action)
		}
	}
	return out
}
