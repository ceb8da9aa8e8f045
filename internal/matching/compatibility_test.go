package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/netwindsky/LuminaServer-sub000/internal/match"
)

func reqWith(crit match.MatchCriteria) *match.MatchRequest {
	return &match.MatchRequest{Criteria: crit}
}

func TestCompatibility(t *testing.T) {
	def := match.DefaultCriteria()

	tests := []struct {
		name string
		a, b func(*match.MatchCriteria)
		want int
	}{
		{"identical defaults", nil, nil, 100},
		{"cross platform differs", nil, func(c *match.MatchCriteria) { c.AllowCrossPlatform = false }, 80},
		{"one region unset", func(c *match.MatchCriteria) { c.PreferredRegion = "eu" }, nil, 100},
		{"regions differ", func(c *match.MatchCriteria) { c.PreferredRegion = "eu" }, func(c *match.MatchCriteria) { c.PreferredRegion = "us" }, 70},
		{"skill diff", nil, func(c *match.MatchCriteria) { c.SkillRangePercent = 25 }, 95},
		{"skill diff capped", nil, func(c *match.MatchCriteria) { c.SkillRangePercent = 90 }, 80},
		{"everything differs",
			func(c *match.MatchCriteria) {
				c.PreferredRegion = "eu"
				c.SkillRangePercent = 0
			},
			func(c *match.MatchCriteria) {
				c.PreferredRegion = "ap"
				c.AllowCrossPlatform = false
				c.SkillRangePercent = 100
			}, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ca, cb := def, def
			if tt.a != nil {
				tt.a(&ca)
			}
			if tt.b != nil {
				tt.b(&cb)
			}
			a, b := reqWith(ca), reqWith(cb)
			assert.Equal(t, tt.want, Compatibility(a, b))
			assert.Equal(t, Compatibility(a, b), Compatibility(b, a))
		})
	}
}

func TestCompatibility_Symmetric(t *testing.T) {
	regions := []string{"", "eu", "us"}
	var reqs []*match.MatchRequest
	for _, r := range regions {
		for _, cross := range []bool{true, false} {
			for skill := 0; skill <= 100; skill += 15 {
				reqs = append(reqs, reqWith(match.MatchCriteria{
					SkillRangePercent:  skill,
					AllowCrossPlatform: cross,
					PreferredRegion:    r,
				}))
			}
		}
	}
	for _, a := range reqs {
		for _, b := range reqs {
			c := Compatibility(a, b)
			assert.Equal(t, c, Compatibility(b, a))
			assert.True(t, c >= 0 && c <= 100)
		}
	}
}

func TestQualityScore(t *testing.T) {
	def := match.DefaultCriteria()
	assert.Zero(t, QualityScore(nil))
	assert.Zero(t, QualityScore([]*match.MatchRequest{reqWith(def)}))
	assert.Equal(t, 100.0, QualityScore([]*match.MatchRequest{reqWith(def), reqWith(def), reqWith(def)}))

	other := def
	other.AllowCrossPlatform = false
	// pairs: (def,def)=100, (def,other)=80 twice
	got := QualityScore([]*match.MatchRequest{reqWith(def), reqWith(def), reqWith(other)})
	assert.InDelta(t, 260.0/3, got, 1e-9)
}
