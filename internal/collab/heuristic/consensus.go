// Package heuristic provides deterministic reference collaborators so a daemon can
// answer consensus and insight requests without an external model.
package heuristic

import (
	"context"
	"strings"

	"github.com/dyluth/agora/pkg/coord"
)

var (
	opposeCues     = []string{"disagree", "object", "against", "oppose", "-1", "veto"}
	supportCues    = []string{"agree", "support", "+1", "lgtm", "sounds good", "approve", "yes"}
	compromiseCues = []string{"compromise", "instead", "alternatively", "middle ground"}
)

// VoteConsensus reads each participant's most recent stance. A participant supports
// the proposal when their last turn carries a support cue and no opposition cue.
// Silent participants count against agreement.
type VoteConsensus struct{}

// BuildConsensus implements collab.ConsensusBuilder.
func (VoteConsensus) BuildConsensus(_ context.Context, participants []string, proposal string, dc coord.DiscussionContext) (*coord.ConsensusResult, error) {
	last := make(map[string]string, len(participants))
	compromises := []string{}
	seen := make(map[string]struct{})

	for _, turn := range dc.Turns {
		content := strings.ToLower(turn.Content)
		last[turn.Speaker] = content
		if containsAny(content, compromiseCues) {
			if _, ok := seen[turn.Content]; !ok {
				seen[turn.Content] = struct{}{}
				compromises = append(compromises, turn.Content)
			}
		}
	}

	if len(participants) == 0 {
		return &coord.ConsensusResult{CompromisesReached: compromises}, nil
	}

	support := 0
	for _, p := range participants {
		if stance(last[p]) > 0 {
			support++
		}
	}
	level := float64(support) / float64(len(participants))
	return &coord.ConsensusResult{
		Agreed:             level >= dc.ConsensusThreshold,
		ConsensusLevel:     level,
		CompromisesReached: compromises,
	}, nil
}

// stance is +1 for support, -1 for opposition and 0 otherwise.
func stance(content string) int {
	switch {
	case content == "":
		return 0
	case containsAny(content, opposeCues):
		return -1
	case containsAny(content, supportCues):
		return 1
	default:
		return 0
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
