package matching

import (
	"github.com/elliotchance/pie/v2"

	"github.com/netwindsky/LuminaServer-sub000/internal/match"
)

// skillBucketWidth is the number of player levels per RANKED bucket.
const skillBucketWidth = 10

func skillBucket(r *match.MatchRequest) int {
	return r.PlayerLevel / skillBucketWidth
}

// matchRanked buckets candidates by level and slices each bucket, in
// priority order, into groups of min(len(bucket), MaxPlayers). Groups
// below MinPlayers are left queued. Players in different buckets are never
// grouped together.
func matchRanked(cands []*match.MatchRequest, rules match.ModeRules) [][]*match.MatchRequest {
	buckets := make(map[int][]*match.MatchRequest)
	for _, c := range cands {
		b := skillBucket(c)
		buckets[b] = append(buckets[b], c)
	}
	keys := pie.SortUsing(pie.Keys(buckets), func(a, b int) bool { return a > b })

	var groups [][]*match.MatchRequest
	for _, k := range keys {
		bucket := buckets[k]
		for len(bucket) >= rules.MinPlayers {
			n := min(len(bucket), rules.MaxPlayers)
			groups = append(groups, bucket[:n])
			bucket = bucket[n:]
		}
	}
	return groups
}
