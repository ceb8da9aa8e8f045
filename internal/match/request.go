// Package match defines the data shared by the queue, the maker and the
// dispatcher: match requests and their criteria, match results, per-mode
// rules and the error kinds every component reports.
package match

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/copystructure"
)

// MatchType selects the matching algorithm.
type MatchType string

const (
	Quick      MatchType = "QUICK"
	Ranked     MatchType = "RANKED"
	Custom     MatchType = "CUSTOM"
	Tournament MatchType = "TOURNAMENT"
)

// MatchTypes lists every supported type in descending base priority.
var MatchTypes = []MatchType{Tournament, Ranked, Quick, Custom}

// ParseMatchType accepts any casing of a known match type.
func ParseMatchType(s string) (MatchType, bool) {
	t := MatchType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case Quick, Ranked, Custom, Tournament:
		return t, true
	}
	return "", false
}

// RequestStatus is the lifecycle state of a MatchRequest.
type RequestStatus string

const (
	StatusWaiting   RequestStatus = "WAITING"
	StatusMatching  RequestStatus = "MATCHING"
	StatusMatched   RequestStatus = "MATCHED"
	StatusCancelled RequestStatus = "CANCELLED"
	StatusExpired   RequestStatus = "EXPIRED"
)

// Active reports whether the request still occupies the player's queue slot.
func (s RequestStatus) Active() bool {
	return s == StatusWaiting || s == StatusMatching
}

// MatchCriteria holds the per-request constraints the maker evaluates.
type MatchCriteria struct {
	SkillRangePercent     int               `json:"skill_range_percent"`
	MaxWaitTime           time.Duration     `json:"max_wait_time"`
	MinCompatibilityScore int               `json:"min_compatibility_score"`
	AllowCrossPlatform    bool              `json:"allow_cross_platform"`
	PreferredRegion       string            `json:"preferred_region,omitempty"`
	Custom                map[string]string `json:"custom,omitempty"`
}

// DefaultCriteria returns the criteria used when a client supplies none.
func DefaultCriteria() MatchCriteria {
	return MatchCriteria{
		SkillRangePercent:     20,
		MaxWaitTime:           5 * time.Minute,
		MinCompatibilityScore: 50,
		AllowCrossPlatform:    true,
	}
}

// Validate checks the criteria ranges.
func (c MatchCriteria) Validate() error {
	const op = "match.MatchCriteria.Validate"
	if c.SkillRangePercent < 0 || c.SkillRangePercent > 100 {
		return Invalid(op, "skill range %d%% out of [0,100]", c.SkillRangePercent)
	}
	if c.MinCompatibilityScore < 0 || c.MinCompatibilityScore > 100 {
		return Invalid(op, "min compatibility %d out of [0,100]", c.MinCompatibilityScore)
	}
	if c.MaxWaitTime <= 0 {
		return Invalid(op, "max wait time must be positive, got %s", c.MaxWaitTime)
	}
	return nil
}

// MatchRequest is one player's intent to be matched.
type MatchRequest struct {
	RequestID   string            `json:"request_id"`
	PlayerID    string            `json:"player_id"`
	GameMode    string            `json:"game_mode"`
	MatchType   MatchType         `json:"match_type"`
	PlayerLevel int               `json:"player_level"`
	Platform    string            `json:"platform,omitempty"`
	RequestTime time.Time         `json:"request_time"`
	Priority    int               `json:"priority"`
	Status      RequestStatus     `json:"status"`
	Criteria    MatchCriteria     `json:"criteria"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewMatchRequest validates the caller's input and returns a WAITING request
// with a fresh id. Priority is assigned by the queue on enqueue.
func NewMatchRequest(playerID, gameMode string, matchType MatchType, level int, criteria MatchCriteria) (*MatchRequest, error) {
	const op = "match.NewMatchRequest"
	playerID = strings.TrimSpace(playerID)
	gameMode = strings.TrimSpace(gameMode)
	if playerID == "" {
		return nil, Invalid(op, "player id is empty")
	}
	if gameMode == "" {
		return nil, Invalid(op, "game mode is empty")
	}
	if _, ok := ParseMatchType(string(matchType)); !ok {
		return nil, Invalid(op, "unknown match type %q", matchType)
	}
	if level < 0 {
		return nil, Invalid(op, "negative player level %d", level)
	}
	if err := criteria.Validate(); err != nil {
		return nil, err
	}

	return &MatchRequest{
		RequestID:   uuid.New().String(),
		PlayerID:    playerID,
		GameMode:    gameMode,
		MatchType:   matchType,
		PlayerLevel: level,
		RequestTime: time.Now(),
		Status:      StatusWaiting,
		Criteria:    criteria,
	}, nil
}

// PartitionKey returns the queue partition this request belongs to.
func (r *MatchRequest) PartitionKey() string {
	return PartitionKey(r.GameMode, r.MatchType)
}

// Age is how long the request has been waiting at now.
func (r *MatchRequest) Age(now time.Time) time.Duration {
	return now.Sub(r.RequestTime)
}

// Clone returns a deep copy, so algorithms can work on candidates without
// touching the queue's own instances.
func (r *MatchRequest) Clone() *MatchRequest {
	copied, err := copystructure.Copy(r)
	if err != nil {
		// copystructure only fails on unsupported kinds, none of which appear
		// in MatchRequest; fall back to a shallow copy with fresh maps.
		c := *r
		c.Metadata = cloneStrings(r.Metadata)
		c.Criteria.Custom = cloneStrings(r.Criteria.Custom)
		return &c
	}
	return copied.(*MatchRequest)
}

// PartitionKey builds the "gameMode:matchType" partition key.
func PartitionKey(gameMode string, matchType MatchType) string {
	return gameMode + ":" + string(matchType)
}

// SplitPartitionKey is the inverse of PartitionKey.
func SplitPartitionKey(key string) (string, MatchType, bool) {
	i := strings.LastIndex(key, ":")
	if i <= 0 || i == len(key)-1 {
		return "", "", false
	}
	t, ok := ParseMatchType(key[i+1:])
	if !ok {
		return "", "", false
	}
	return key[:i], t, true
}

func cloneStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
