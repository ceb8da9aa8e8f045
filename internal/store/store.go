// Package store is the key-value contract the matchmaking core needs from its
// shared store, with a Redis implementation and an in-memory one for tests and
// single-process runs.
//
// Key namespaces:
//
//	queue:<gameMode:matchType>  set of request ids in a partition
//	queue:partitions            set of partition keys
//	queue:player:<playerId>     active request id of a player
//	request:<requestId>         JSON-encoded match request
//	dispatch:<matchId>          JSON-encoded dispatch session snapshot
//	stats:<counter>             integer counters
//	cooldown:<playerId>         matchmaking cooldown reason
//	offense:<playerId>          cooldown escalation counter
//	rl:<rule>:<id>              rate limit window counters
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist or has expired.
var ErrNotFound = errors.New("store: key not found")

// KV is the subset of key-value operations the core relies on. Every write
// takes an expiry so a crashed process cannot leave unbounded garbage; a ttl
// of zero means "no expiry" and is only used for counters refreshed elsewhere.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX sets key only if it does not exist and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	// Exists counts how many of keys are live.
	Exists(ctx context.Context, keys ...string) (int64, error)
	SAdd(ctx context.Context, key string, ttl time.Duration, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	// Incr increments key and sets ttl when the counter is created.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// TTL returns the remaining lifetime, or ErrNotFound.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Atomic applies every write fn queues in a single round trip, as one
	// transaction.
	Atomic(ctx context.Context, fn func(b Batch)) error
}

// Batch queues writes for KV.Atomic. Nothing is sent until fn returns.
type Batch interface {
	Set(key, value string, ttl time.Duration)
	Del(keys ...string)
	// DelIfEquals deletes key only while it still holds value.
	DelIfEquals(key, value string)
	SAdd(key string, ttl time.Duration, members ...string)
	SRem(key string, members ...string)
}

// Key prefixes shared by the packages that write to the store.
const (
	PrefixQueue    = "queue:"
	PrefixRequest  = "request:"
	PrefixDispatch = "dispatch:"
	PrefixStats    = "stats:"
	PrefixCooldown = "cooldown:"
	PrefixOffense  = "offense:"
	PrefixRate     = "rl:"
)
