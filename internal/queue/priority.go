package queue

import (
	"time"

	"github.com/netwindsky/LuminaServer-sub000/internal/match"
)

const (
	maxWaitBonus  = 100
	maxLevelBonus = 50
)

func basePriority(t match.MatchType) int {
	switch t {
	case match.Tournament:
		return 300
	case match.Ranked:
		return 200
	case match.Quick:
		return 100
	default:
		return 50
	}
}

// criteriaBonus rewards harder-to-satisfy requests so they are not starved
// by lenient ones.
func criteriaBonus(c match.MatchCriteria) int {
	bonus := 0
	switch {
	case c.SkillRangePercent <= 10:
		bonus += 20
	case c.SkillRangePercent <= 20:
		bonus += 10
	}
	switch {
	case c.MinCompatibilityScore >= 80:
		bonus += 20
	case c.MinCompatibilityScore >= 60:
		bonus += 10
	}
	return bonus
}

// ComputePriority evaluates
//
//	base(matchType) + min(waitMinutes*10, 100) + min(level, 50) + criteriaBonus
//
// at now. It is non-decreasing in now for a fixed request.
func ComputePriority(req *match.MatchRequest, now time.Time) int {
	waitMinutes := int(req.Age(now) / time.Minute)
	if waitMinutes < 0 {
		waitMinutes = 0
	}
	level := max(req.PlayerLevel, 0)
	return basePriority(req.MatchType) +
		min(waitMinutes*10, maxWaitBonus) +
		min(level, maxLevelBonus) +
		criteriaBonus(req.Criteria)
}
