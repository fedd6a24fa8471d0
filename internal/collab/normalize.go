package collab

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dyluth/agora/pkg/coord"
)

var errEmptyResult = errors.New("collaborator returned no result")

// Normalize turns detector output into EmergentInsights, breakthroughs first.
func Normalize(sessionID string, breakthroughs []coord.Breakthrough, connections []coord.Connection, now time.Time) []coord.EmergentInsight {
	out := make([]coord.EmergentInsight, 0, len(breakthroughs)+len(connections))

	for _, b := range breakthroughs {
		out = append(out, coord.EmergentInsight{
			ID:             uuid.New().String(),
			Type:           coord.InsightBreakthrough,
			Content:        b.Description,
			Confidence:     clamp(b.Confidence),
			Contributors:   orEmpty(b.Contributors),
			Sources:        orEmpty(b.MessageIDs),
			Implications:   orEmpty(b.Implications),
			ActionItems:    []string{},
			CreatedAt:      now,
			RelevanceScore: clamp(b.Confidence),
			Metadata:       map[string]string{"sessionId": sessionID},
		})
	}

	for _, cn := range connections {
		meta := map[string]string{"sessionId": sessionID}
		if len(cn.Concepts) > 0 {
			meta["concepts"] = strings.Join(cn.Concepts, ",")
		}
		out = append(out, coord.EmergentInsight{
			ID:             uuid.New().String(),
			Type:           coord.InsightNovelConnection,
			Content:        cn.Description,
			Confidence:     clamp(cn.Strength),
			Contributors:   orEmpty(cn.Contributors),
			Sources:        orEmpty(cn.MessageIDs),
			Implications:   []string{},
			ActionItems:    orEmpty(cn.ActionItems),
			CreatedAt:      now,
			RelevanceScore: clamp(cn.Strength),
			Metadata:       meta,
		})
	}
	return out
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
