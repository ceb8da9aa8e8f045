package matching

import (
	"gonum.org/v1/gonum/stat/combin"

	"github.com/netwindsky/LuminaServer-sub000/internal/match"
)

const (
	penaltyCrossPlatform = 20
	penaltyRegion        = 30
	maxSkillPenalty      = 20

	// quickThreshold is the anchor compatibility QUICK requires.
	quickThreshold = 50
)

// Compatibility scores how well two requests fit together, 0-100.
// It is symmetric in its arguments.
func Compatibility(a, b *match.MatchRequest) int {
	score := 100
	if a.Criteria.AllowCrossPlatform != b.Criteria.AllowCrossPlatform {
		score -= penaltyCrossPlatform
	}
	ra, rb := a.Criteria.PreferredRegion, b.Criteria.PreferredRegion
	if ra != "" && rb != "" && ra != rb {
		score -= penaltyRegion
	}
	diff := a.Criteria.SkillRangePercent - b.Criteria.SkillRangePercent
	if diff < 0 {
		diff = -diff
	}
	score -= min(diff, maxSkillPenalty)
	return max(score, 0)
}

// QualityScore is the mean pairwise compatibility of reqs, or 0 with fewer
// than two requests.
func QualityScore(reqs []*match.MatchRequest) float64 {
	if len(reqs) < 2 {
		return 0
	}
	pairs := combin.Combinations(len(reqs), 2)
	total := 0
	for _, p := range pairs {
		total += Compatibility(reqs[p[0]], reqs[p[1]])
	}
	return float64(total) / float64(len(pairs))
}

// acceptsEachOther reports whether both requests clear their own
// compatibility floor against each other.
func acceptsEachOther(a, b *match.MatchRequest) bool {
	c := Compatibility(a, b)
	return c >= a.Criteria.MinCompatibilityScore && c >= b.Criteria.MinCompatibilityScore
}
