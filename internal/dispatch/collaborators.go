package dispatch

import (
	"context"
	"time"

	"github.com/netwindsky/LuminaServer-sub000/internal/match"
	"github.com/netwindsky/LuminaServer-sub000/internal/player"
)

// RoomConfig describes the room to create for a match.
type RoomConfig struct {
	MatchID    string            `json:"match_id"`
	GameMode   string            `json:"game_mode"`
	MatchType  match.MatchType   `json:"match_type"`
	MaxPlayers int               `json:"max_players"`
	PlayerIDs  []string          `json:"player_ids"`
	Ranked     bool              `json:"ranked"`
	Tournament bool              `json:"tournament"`
	Custom     map[string]string `json:"custom,omitempty"`
}

// MatchNotification is pushed to every player of a dispatched match.
type MatchNotification struct {
	MatchID      string          `json:"match_id"`
	RoomID       string          `json:"room_id"`
	GameMode     string          `json:"game_mode"`
	MatchType    match.MatchType `json:"match_type"`
	PlayerIDs    []string        `json:"player_ids"`
	QualityScore float64         `json:"quality_score"`
	ExpireTime   time.Time       `json:"expire_time"`
}

// RoomService creates and removes game rooms.
type RoomService interface {
	CreateRoom(ctx context.Context, cfg RoomConfig) (string, error)
	// RemoveRoom is best effort; its error is only logged.
	RemoveRoom(ctx context.Context, roomID string) error
}

// PlayerDirectory resolves and updates player presence.
type PlayerDirectory interface {
	GetPlayer(ctx context.Context, playerID string) (*player.Player, error)
	IsOnline(ctx context.Context, playerID string) (bool, error)
	BindToRoom(ctx context.Context, playerID, roomID string, status player.Status) error
}

// Notifier pushes match notifications to players.
type Notifier interface {
	PushToPlayer(ctx context.Context, playerID string, n MatchNotification) error
}

// Requeuer puts players whose match fell through back in the queue.
type Requeuer interface {
	Requeue(ctx context.Context, req *match.MatchRequest) error
}

// Penalizer puts players who declined or ignored a match on cooldown.
type Penalizer interface {
	Penalize(ctx context.Context, playerID, reason string) (time.Duration, error)
}

// Outcome is the record of one finished dispatch.
type Outcome struct {
	MatchID      string
	GameMode     string
	MatchType    match.MatchType
	RoomID       string
	Status       SessionStatus
	Reason       string
	PlayerIDs    []string
	Accepted     []string
	QualityScore float64
	CreateTime   time.Time
	FinishTime   time.Time
}

// Recorder stores dispatch outcomes.
type Recorder interface {
	RecordOutcome(ctx context.Context, o Outcome) error
}
