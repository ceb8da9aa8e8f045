package matching

import (
	"github.com/elliotchance/pie/v2"

	"github.com/netwindsky/LuminaServer-sub000/internal/match"
)

// matchTournament orders candidates by priority and cuts full brackets of
// BracketSize. Entry order is the only gate; leftovers wait for the next
// round.
func matchTournament(cands []*match.MatchRequest, rules match.ModeRules) [][]*match.MatchRequest {
	ordered := pie.SortUsing(cands, func(a, b *match.MatchRequest) bool {
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.RequestTime.Equal(b.RequestTime) {
			return a.RequestTime.Before(b.RequestTime)
		}
		return a.RequestID < b.RequestID
	})

	size := rules.BracketSize
	var groups [][]*match.MatchRequest
	for len(ordered) >= size {
		groups = append(groups, ordered[:size])
		ordered = ordered[size:]
	}
	return groups
}
