package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/elliotchance/pie/v2"

	"github.com/netwindsky/LuminaServer-sub000/internal/match"
)

// SessionStatus is the state of one dispatch:
//
//	PENDING -> NOTIFYING -> WAITING -> COMPLETED | FAILED | EXPIRED
type SessionStatus string

const (
	StatusPending   SessionStatus = "PENDING"
	StatusNotifying SessionStatus = "NOTIFYING"
	StatusWaiting   SessionStatus = "WAITING"
	StatusCompleted SessionStatus = "COMPLETED"
	StatusFailed    SessionStatus = "FAILED"
	StatusExpired   SessionStatus = "EXPIRED"
)

// Terminal reports whether the session is finished.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

// response is a player's answer to a match.
type response int

const (
	noAnswer response = iota
	accepted
	rejected
)

// session is the live state of one dispatch. The done channel is closed
// once every player accepted or anyone rejected. ctx spans the workflow and
// is cancelled by the sweep or when the dispatcher stops.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	result     *match.MatchResult
	roomID     string
	status     SessionStatus
	reason     string
	responses  map[string]response
	createTime time.Time
	expireTime time.Time

	done      chan struct{}
	closeOnce sync.Once
}

func newSession(ctx context.Context, cancel context.CancelFunc, result *match.MatchResult, now time.Time, timeout time.Duration) *session {
	responses := make(map[string]response, len(result.Players))
	for _, id := range result.PlayerIDs() {
		responses[id] = noAnswer
	}
	return &session{
		ctx:        ctx,
		cancel:     cancel,
		result:     result,
		status:     StatusPending,
		responses:  responses,
		createTime: now,
		expireTime: now.Add(timeout),
		done:       make(chan struct{}),
	}
}

func (s *session) signal() {
	s.closeOnce.Do(func() { close(s.done) })
}

// advance moves a non-terminal session to status. It reports false if the
// session already finished.
func (s *session) advance(status SessionStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return false
	}
	s.status = status
	return true
}

// finish sets a terminal status once; later calls are ignored.
func (s *session) finish(status SessionStatus, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return false
	}
	s.status = status
	s.reason = reason
	s.signal()
	return true
}

func (s *session) setRoom(roomID string, expire time.Time) {
	s.mu.Lock()
	s.roomID = roomID
	s.expireTime = expire
	s.mu.Unlock()
}

func (s *session) deadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expireTime
}

// bounded returns the context for one collaborator call. It ends at the
// current deadline or when the session is cancelled.
func (s *session) bounded() (context.Context, context.CancelFunc) {
	return context.WithDeadline(s.ctx, s.deadline())
}

// respond records a player's answer. Answers are taken while players are
// being notified or waited on and before the deadline; only the first
// answer counts.
func (s *session) respond(playerID string, r response, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusNotifying && s.status != StatusWaiting {
		return false
	}
	if !now.Before(s.expireTime) {
		return false
	}
	prev, ok := s.responses[playerID]
	if !ok || prev != noAnswer {
		return false
	}
	s.responses[playerID] = r
	if r == rejected || s.allAcceptedLocked() {
		s.signal()
	}
	return true
}

func (s *session) allAcceptedLocked() bool {
	for _, r := range s.responses {
		if r != accepted {
			return false
		}
	}
	return true
}

// decide settles the waiting phase: a rejection wins, then full
// acceptance; anything else is a timeout. respond refuses answers past the
// deadline, so full acceptance means every answer arrived in time. Unless
// every player accepted, the session is finished here.
func (s *session) decide() (proceed bool, status SessionStatus, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return false, s.status, s.reason
	}
	if s.allAcceptedLocked() {
		return true, s.status, ""
	}
	status, reason = StatusExpired, "acceptance timed out"
	for _, r := range s.responses {
		if r == rejected {
			status, reason = StatusFailed, "rejected"
			break
		}
	}
	s.status = status
	s.reason = reason
	s.signal()
	return false, status, reason
}

func (s *session) responseOf(playerID string) response {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.responses[playerID]
}

// Snapshot is the persisted and inspectable view of a session.
type Snapshot struct {
	MatchID    string          `json:"match_id"`
	GameMode   string          `json:"game_mode"`
	MatchType  match.MatchType `json:"match_type"`
	RoomID     string          `json:"room_id,omitempty"`
	Status     SessionStatus   `json:"status"`
	Reason     string          `json:"reason,omitempty"`
	PlayerIDs  []string        `json:"player_ids"`
	Accepted   []string        `json:"accepted"`
	Rejected   []string        `json:"rejected"`
	CreateTime time.Time       `json:"create_time"`
	ExpireTime time.Time       `json:"expire_time"`
}

func (s *session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.result.PlayerIDs()
	return Snapshot{
		MatchID:    s.result.MatchID,
		GameMode:   s.result.GameMode,
		MatchType:  s.result.MatchType,
		RoomID:     s.roomID,
		Status:     s.status,
		Reason:     s.reason,
		PlayerIDs:  ids,
		Accepted:   pie.Filter(ids, func(id string) bool { return s.responses[id] == accepted }),
		Rejected:   pie.Filter(ids, func(id string) bool { return s.responses[id] == rejected }),
		CreateTime: s.createTime,
		ExpireTime: s.expireTime,
	}
}
