// Package protocol defines the JSON messages exchanged between the gateway
// and the matchmaker. Gateway intents arrive on a single subject and carry a
// "type" discriminator; replies and match events are pushed to the player's
// own subject in the same envelope format.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/netwindsky/LuminaServer-sub000/internal/match"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Gateway -> matchmaker message types.
const (
	TypeEnqueue = "enqueue"
	TypeCancel  = "cancel"
	TypeAccept  = "accept"
	TypeReject  = "reject"
	TypeStatus  = "status"
)

// Matchmaker -> player message types.
const (
	TypeQueued         = "queued"
	TypeCancelled      = "cancelled"
	TypeQueueStatus    = "queue_status"
	TypeQueueError     = "queue_error"
	TypeCooldown       = "cooldown"
	TypeRateLimited    = "rate_limited"
	TypeMatchFound     = "match_found"
	TypeMatchStarted   = "match_started"
	TypeMatchCancelled = "match_cancelled"
)

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the full payload and extracts only the type.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Gateway -> matchmaker
// ---------------------------------------------------------------------------

// CriteriaMsg is the client's view of match criteria. Zero fields fall
// back to the defaults.
type CriteriaMsg struct {
	SkillRangePercent     *int              `json:"skill_range_percent,omitempty"`
	MaxWaitSeconds        int               `json:"max_wait_seconds,omitempty"`
	MinCompatibilityScore *int              `json:"min_compatibility_score,omitempty"`
	AllowCrossPlatform    *bool             `json:"allow_cross_platform,omitempty"`
	PreferredRegion       string            `json:"preferred_region,omitempty"`
	Custom                map[string]string `json:"custom,omitempty"`
}

// ToCriteria merges c onto the default criteria. A nil c yields the
// defaults.
func (c *CriteriaMsg) ToCriteria() match.MatchCriteria {
	crit := match.DefaultCriteria()
	if c == nil {
		return crit
	}
	if c.SkillRangePercent != nil {
		crit.SkillRangePercent = *c.SkillRangePercent
	}
	if c.MaxWaitSeconds > 0 {
		crit.MaxWaitTime = time.Duration(c.MaxWaitSeconds) * time.Second
	}
	if c.MinCompatibilityScore != nil {
		crit.MinCompatibilityScore = *c.MinCompatibilityScore
	}
	if c.AllowCrossPlatform != nil {
		crit.AllowCrossPlatform = *c.AllowCrossPlatform
	}
	crit.PreferredRegion = c.PreferredRegion
	if len(c.Custom) > 0 {
		crit.Custom = c.Custom
	}
	return crit
}

// EnqueueMsg asks to put a player in the queue.
type EnqueueMsg struct {
	Type        string            `json:"type"`
	PlayerID    string            `json:"player_id"`
	GameMode    string            `json:"game_mode"`
	MatchType   string            `json:"match_type"`
	PlayerLevel int               `json:"player_level"`
	Platform    string            `json:"platform,omitempty"`
	Criteria    *CriteriaMsg      `json:"criteria,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Request builds a validated match request from m.
func (m EnqueueMsg) Request() (*match.MatchRequest, error) {
	mt, ok := match.ParseMatchType(m.MatchType)
	if !ok {
		return nil, match.Invalid("protocol.EnqueueMsg", "unknown match type %q", m.MatchType)
	}
	req, err := match.NewMatchRequest(m.PlayerID, m.GameMode, mt, m.PlayerLevel, m.Criteria.ToCriteria())
	if err != nil {
		return nil, err
	}
	req.Platform = m.Platform
	req.Metadata = m.Metadata
	return req, nil
}

// CancelMsg takes a player out of the queue.
type CancelMsg struct {
	Type     string `json:"type"`
	PlayerID string `json:"player_id"`
}

// AcceptMsg accepts a proposed match.
type AcceptMsg struct {
	Type     string `json:"type"`
	PlayerID string `json:"player_id"`
	MatchID  string `json:"match_id"`
}

// RejectMsg declines a proposed match.
type RejectMsg struct {
	Type     string `json:"type"`
	PlayerID string `json:"player_id"`
	MatchID  string `json:"match_id"`
}

// StatusMsg asks for the player's queue state.
type StatusMsg struct {
	Type     string `json:"type"`
	PlayerID string `json:"player_id"`
}

// ---------------------------------------------------------------------------
// Matchmaker -> player
// ---------------------------------------------------------------------------

// QueuedMsg confirms an enqueue.
type QueuedMsg struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Partition string `json:"partition"`
	Priority  int    `json:"priority"`
	QueueSize int    `json:"queue_size"`
}

// CancelledMsg confirms a cancel. Removed is false if the player was not
// queued.
type CancelledMsg struct {
	Type    string `json:"type"`
	Removed bool   `json:"removed"`
}

// QueueStatusMsg reports the player's queue state.
type QueueStatusMsg struct {
	Type        string `json:"type"`
	InQueue     bool   `json:"in_queue"`
	Partition   string `json:"partition,omitempty"`
	Priority    int    `json:"priority,omitempty"`
	WaitSeconds int    `json:"wait_seconds,omitempty"`
}

// QueueErrorMsg reports a failed intent.
type QueueErrorMsg struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// CooldownMsg rejects an enqueue from a player who is on cooldown.
type CooldownMsg struct {
	Type     string `json:"type"`
	Duration int    `json:"duration"`
	Reason   string `json:"reason"`
}

// RateLimitedMsg is sent when the player sends intents too fast.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// MatchFoundMsg proposes a match; the player must accept before
// AcceptDeadline seconds have passed.
type MatchFoundMsg struct {
	Type           string    `json:"type"`
	MatchID        string    `json:"match_id"`
	RoomID         string    `json:"room_id"`
	GameMode       string    `json:"game_mode"`
	MatchType      string    `json:"match_type"`
	Players        []string  `json:"players"`
	QualityScore   float64   `json:"quality_score"`
	AcceptDeadline int       `json:"accept_deadline"`
	ExpireTime     time.Time `json:"expire_time"`
}

// MatchStartedMsg tells a player the room is ready.
type MatchStartedMsg struct {
	Type    string `json:"type"`
	MatchID string `json:"match_id"`
	RoomID  string `json:"room_id"`
}

// MatchCancelledMsg tells a player the match fell through. Requeued is set
// when the player was put back in the queue.
type MatchCancelledMsg struct {
	Type     string `json:"type"`
	MatchID  string `json:"match_id"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	Requeued bool   `json:"requeued"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw gateway bytes into a typed message. It
// returns the message type, the decoded struct and any error. Unknown types
// are errors.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeEnqueue:
		var m EnqueueMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCancel:
		var m CancelMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeAccept:
		var m AcceptMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReject:
		var m RejectMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeStatus:
		var m StatusMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage encodes payload with its "type" field set to msgType.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}

// NewQueueError builds the error reply for err, using its match.Kind as
// the code.
func NewQueueError(err error) QueueErrorMsg {
	kind := match.KindOf(err)
	code := string(kind)
	if code == "" {
		code = "INTERNAL"
	}
	return QueueErrorMsg{
		Type:      TypeQueueError,
		Code:      code,
		Message:   err.Error(),
		Retryable: kind.Retryable(),
	}
}
