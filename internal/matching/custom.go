package matching

import (
	"github.com/netwindsky/LuminaServer-sub000/internal/match"
)

// matchCustom is QUICK with per-request floors: a candidate joins only if
// the pair clears both the anchor's and its own MinCompatibilityScore.
func matchCustom(cands []*match.MatchRequest, rules match.ModeRules) [][]*match.MatchRequest {
	return greedy(cands, rules, acceptsEachOther)
}
