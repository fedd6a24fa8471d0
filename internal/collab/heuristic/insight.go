package heuristic

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/dyluth/agora/pkg/coord"
)

var breakthroughCues = []string{"breakthrough", "realize", "realise", "insight", "aha", "key finding"}

// minConceptLength filters short, common words out of concept matching.
const minConceptLength = 5

// CueInsights flags breakthrough turns by vocabulary and links consecutive turns
// from different speakers that share concepts.
type CueInsights struct {
	// MinSharedConcepts is how many concepts two turns must share to be connected.
	// Zero means 2.
	MinSharedConcepts int
}

// DetectBreakthroughMoments implements collab.InsightDetector.
func (CueInsights) DetectBreakthroughMoments(_ context.Context, dc coord.DiscussionContext) ([]coord.Breakthrough, error) {
	out := []coord.Breakthrough{}
	for _, turn := range dc.Turns {
		content := strings.ToLower(turn.Content)
		if !containsAny(content, breakthroughCues) {
			continue
		}
		confidence := 0.6
		if turn.Kind == coord.MessageInsight || turn.Kind == coord.MessageDecision {
			confidence += 0.2
		}
		if containsAny(content, dc.InsightTargets) {
			confidence += 0.1
		}
		out = append(out, coord.Breakthrough{
			Description:  turn.Content,
			Confidence:   confidence,
			Contributors: []string{turn.Speaker},
			MessageIDs:   []string{turn.MessageID},
			Implications: []string{fmt.Sprintf("Revisit the %q discussion in light of this", dc.Topic)},
		})
	}
	return out, nil
}

// IdentifyNovelConnections implements collab.InsightDetector.
func (h CueInsights) IdentifyNovelConnections(_ context.Context, dc coord.DiscussionContext) ([]coord.Connection, error) {
	minShared := h.MinSharedConcepts
	if minShared <= 0 {
		minShared = 2
	}
	topic := concepts(dc.Topic)

	out := []coord.Connection{}
	for i := 1; i < len(dc.Turns); i++ {
		prev, cur := dc.Turns[i-1], dc.Turns[i]
		if prev.Speaker == cur.Speaker {
			continue
		}
		a, b := concepts(prev.Content), concepts(cur.Content)
		var shared []string
		for w := range a {
			if _, ok := b[w]; !ok {
				continue
			}
			if _, onTopic := topic[w]; onTopic {
				continue
			}
			shared = append(shared, w)
		}
		if len(shared) < minShared {
			continue
		}
		sort.Strings(shared)
		strength := float64(len(shared)) / float64(min(len(a), len(b)))
		out = append(out, coord.Connection{
			Description:  fmt.Sprintf("%s and %s both raised %s", prev.Speaker, cur.Speaker, strings.Join(shared, ", ")),
			Concepts:     shared,
			Strength:     strength,
			Contributors: []string{prev.Speaker, cur.Speaker},
			MessageIDs:   []string{prev.MessageID, cur.MessageID},
			ActionItems:  []string{"Explore how " + strings.Join(shared, " and ") + " relate"},
		})
	}
	return out, nil
}

// concepts returns the distinct lowercase words of s that are at least minConceptLength long.
func concepts(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(w)) >= minConceptLength {
			out[w] = struct{}{}
		}
	}
	return out
}
