package matching

import (
	"github.com/netwindsky/LuminaServer-sub000/internal/match"
)

// matchQuick groups around the highest-priority anchor: every later
// candidate with anchor compatibility >= 50 joins until the mode cap.
// An anchor that cannot gather the minimum stays queued.
func matchQuick(cands []*match.MatchRequest, rules match.ModeRules) [][]*match.MatchRequest {
	return greedy(cands, rules, func(anchor, c *match.MatchRequest) bool {
		return Compatibility(anchor, c) >= quickThreshold
	})
}

// greedy walks cands in order, using each unused request as an anchor and
// collecting the candidates accept admits.
func greedy(cands []*match.MatchRequest, rules match.ModeRules, accept func(anchor, c *match.MatchRequest) bool) [][]*match.MatchRequest {
	used := make([]bool, len(cands))
	var groups [][]*match.MatchRequest
	for i, anchor := range cands {
		if used[i] {
			continue
		}
		picked := []int{i}
		for j := i + 1; j < len(cands) && len(picked) < rules.MaxPlayers; j++ {
			if used[j] || !accept(anchor, cands[j]) {
				continue
			}
			picked = append(picked, j)
		}
		if len(picked) < rules.MinPlayers {
			continue
		}
		group := make([]*match.MatchRequest, 0, len(picked))
		for _, k := range picked {
			used[k] = true
			group = append(group, cands[k])
		}
		groups = append(groups, group)
	}
	return groups
}
