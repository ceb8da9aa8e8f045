// Package penalty keeps matchmaking cooldowns for players who decline or
// ignore a match. Records live in the key-value store with TTL expiry:
//
//	cooldown:<playerId>  reason, ttl = cooldown
//	offense:<playerId>   offense counter, ttl = OffenseWindow
package penalty

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/netwindsky/LuminaServer-sub000/internal/store"
)

// OffenseWindow is how long an offense counts towards escalation. The
// window starts at the first offense and does not slide.
const OffenseWindow = time.Hour

// Reasons recorded with a cooldown.
const (
	ReasonDeclined = "declined"
	ReasonNoAnswer = "no_answer"
)

// DefaultLadder is the cooldown per offense count: 1st, 2nd, 3rd and later.
var DefaultLadder = []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}

// Store manages cooldown records.
type Store struct {
	kv     store.KV
	ladder []time.Duration
}

// NewStore creates a store with DefaultLadder.
func NewStore(kv store.KV) *Store {
	return &Store{kv: kv, ladder: DefaultLadder}
}

// WithLadder replaces the escalation steps. An empty ladder is ignored.
func (s *Store) WithLadder(ladder []time.Duration) *Store {
	if len(ladder) > 0 {
		s.ladder = ladder
	}
	return s
}

// OnCooldown reports whether playerID may not queue right now, with the
// remaining time and reason.
func (s *Store) OnCooldown(ctx context.Context, playerID string) (bool, time.Duration, string, error) {
	key := store.PrefixCooldown + playerID
	reason, err := s.kv.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return false, 0, "", nil
	}
	if err != nil {
		return false, 0, "", err
	}

	ttl, err := s.kv.TTL(ctx, key)
	if err != nil {
		// The record exists; report it even without a remaining time.
		return true, 0, reason, nil
	}
	return true, ttl, reason, nil
}

// SetCooldown puts playerID on cooldown for d.
func (s *Store) SetCooldown(ctx context.Context, playerID string, d time.Duration, reason string) error {
	return s.kv.Set(ctx, store.PrefixCooldown+playerID, reason, d)
}

// Clear lifts a cooldown immediately.
func (s *Store) Clear(ctx context.Context, playerID string) error {
	return s.kv.Del(ctx, store.PrefixCooldown+playerID)
}

func (s *Store) duration(offenses int) time.Duration {
	i := min(max(offenses, 1), len(s.ladder)) - 1
	return s.ladder[i]
}

// Offenses returns the player's offense count in the current window.
func (s *Store) Offenses(ctx context.Context, playerID string) (int, error) {
	raw, err := s.kv.Get(ctx, store.PrefixOffense+playerID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("penalty: offense counter %q: %w", raw, err)
	}
	return n, nil
}

// Penalize records an offense and applies a cooldown that escalates with
// the number of offenses in the window. It returns the cooldown applied.
func (s *Store) Penalize(ctx context.Context, playerID, reason string) (time.Duration, error) {
	count, err := s.kv.Incr(ctx, store.PrefixOffense+playerID, OffenseWindow)
	if err != nil {
		return 0, fmt.Errorf("penalty: count offense: %w", err)
	}
	d := s.duration(int(count))
	if err := s.SetCooldown(ctx, playerID, d, reason); err != nil {
		return 0, fmt.Errorf("penalty: set cooldown: %w", err)
	}
	return d, nil
}
