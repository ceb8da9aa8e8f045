package match

import (
	"errors"
	"fmt"
)

// Kind classifies a matchmaking failure so callers can tell "already queued"
// apart from "not found", capacity problems from collaborator failures, etc.
type Kind string

const (
	KindInvalidRequest      Kind = "INVALID_REQUEST"
	KindPlayerAlreadyQueued Kind = "PLAYER_ALREADY_QUEUED"
	// KindPlayerAlreadyMatched: the player's last request was claimed and
	// its dispatch has not ended yet.
	KindPlayerAlreadyMatched Kind = "PLAYER_ALREADY_MATCHED"
	KindQueueFull            Kind = "QUEUE_FULL"
	KindRequestNotFound      Kind = "REQUEST_NOT_FOUND"
	KindNotEnoughPlayers     Kind = "NOT_ENOUGH_PLAYERS"
	KindPlayerOnCooldown     Kind = "PLAYER_ON_COOLDOWN"
	KindRoomCreateFailed     Kind = "ROOM_CREATE_FAILED"
	KindPlayerOffline        Kind = "PLAYER_OFFLINE"
	KindNotifyFailed         Kind = "NOTIFY_FAILED"
	KindStoreFailure         Kind = "STORE_FAILURE"
	KindCandidateVanished    Kind = "CANDIDATE_VANISHED"
)

// Retryable reports whether a caller may try the same operation again later.
// Capacity and transient collaborator errors are retryable; validation and
// state conflicts are not.
func (k Kind) Retryable() bool {
	switch k {
	case KindQueueFull, KindNotEnoughPlayers, KindStoreFailure, KindCandidateVanished, KindPlayerOnCooldown:
		return true
	default:
		return false
	}
}

// Error is the error type returned by the queue, maker and dispatcher.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so that errors.Is(err, ErrQueueFull) works for any
// *Error carrying the QUEUE_FULL kind, regardless of Op or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidRequest       = &Error{Kind: KindInvalidRequest}
	ErrPlayerAlreadyQueued  = &Error{Kind: KindPlayerAlreadyQueued}
	ErrPlayerAlreadyMatched = &Error{Kind: KindPlayerAlreadyMatched}
	ErrQueueFull            = &Error{Kind: KindQueueFull}
	ErrRequestNotFound      = &Error{Kind: KindRequestNotFound}
	ErrNotEnoughPlayers     = &Error{Kind: KindNotEnoughPlayers}
	ErrPlayerOnCooldown     = &Error{Kind: KindPlayerOnCooldown}
	ErrRoomCreateFailed     = &Error{Kind: KindRoomCreateFailed}
	ErrPlayerOffline        = &Error{Kind: KindPlayerOffline}
	ErrNotifyFailed         = &Error{Kind: KindNotifyFailed}
	ErrStoreFailure         = &Error{Kind: KindStoreFailure}
	ErrCandidateVanished    = &Error{Kind: KindCandidateVanished}
)

// E builds an *Error for op with the given kind and optional cause.
func E(op string, kind Kind, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Invalid is shorthand for an input validation failure.
func Invalid(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidRequest, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return ""
}
