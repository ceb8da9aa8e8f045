package match

import (
	"time"

	"github.com/elliotchance/pie/v2"
	"github.com/oklog/ulid/v2"
)

// ResultStatus tracks a MatchResult from creation to its terminal outcome.
type ResultStatus string

const (
	ResultPending   ResultStatus = "PENDING"
	ResultAccepted  ResultStatus = "ACCEPTED"
	ResultRejected  ResultStatus = "REJECTED"
	ResultExpired   ResultStatus = "EXPIRED"
	ResultCompleted ResultStatus = "COMPLETED"
)

// Terminal reports whether no further transition is possible.
func (s ResultStatus) Terminal() bool {
	return s == ResultRejected || s == ResultExpired || s == ResultCompleted
}

// MatchResult is the output of a successful matching round.
type MatchResult struct {
	MatchID           string          `json:"match_id"`
	GameMode          string          `json:"game_mode"`
	MatchType         MatchType       `json:"match_type"`
	Players           []*MatchRequest `json:"players"`
	QualityScore      float64         `json:"quality_score"`
	EstimatedWaitTime time.Duration   `json:"estimated_wait_time"`
	Status            ResultStatus    `json:"status"`
	RoomID            string          `json:"room_id,omitempty"`
	CreateTime        time.Time       `json:"create_time"`
	ExpireTime        time.Time       `json:"expire_time"`
}

// NewMatchResult groups players into a PENDING result. It enforces the
// match validity invariant: at least two players, all in the same game mode
// and match type.
func NewMatchResult(players []*MatchRequest, quality float64, ttl time.Duration) (*MatchResult, error) {
	const op = "match.NewMatchResult"
	if len(players) < 2 {
		return nil, E(op, KindNotEnoughPlayers, nil)
	}
	mode, typ := players[0].GameMode, players[0].MatchType
	seen := make(map[string]struct{}, len(players))
	for _, p := range players {
		if p.GameMode != mode || p.MatchType != typ {
			return nil, Invalid(op, "player %s is in %s, expected %s", p.PlayerID, p.PartitionKey(), PartitionKey(mode, typ))
		}
		if _, dup := seen[p.PlayerID]; dup {
			return nil, Invalid(op, "player %s appears twice", p.PlayerID)
		}
		seen[p.PlayerID] = struct{}{}
	}

	now := time.Now()
	var waited time.Duration
	for _, p := range players {
		waited += p.Age(now)
	}

	return &MatchResult{
		MatchID:           ulid.Make().String(),
		GameMode:          mode,
		MatchType:         typ,
		Players:           players,
		QualityScore:      quality,
		EstimatedWaitTime: waited / time.Duration(len(players)),
		Status:            ResultPending,
		CreateTime:        now,
		ExpireTime:        now.Add(ttl),
	}, nil
}

// PlayerIDs returns the matched player ids in result order.
func (m *MatchResult) PlayerIDs() []string {
	return pie.Map(m.Players, func(r *MatchRequest) string { return r.PlayerID })
}

// Request returns the matched request for playerID, or nil.
func (m *MatchResult) Request(playerID string) *MatchRequest {
	i := pie.FindFirstUsing(m.Players, func(r *MatchRequest) bool { return r.PlayerID == playerID })
	if i < 0 {
		return nil
	}
	return m.Players[i]
}
