// Package ratelimit provides fixed-window rate limiting over the shared
// key-value store (INCR with expiry set on the first hit). It throttles
// matchmaking intents per player.
package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/netwindsky/LuminaServer-sub000/internal/store"
)

// Rule defines a rate limiting policy: the key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string
	Limit  int
	Window time.Duration
}

var (
	// RuleEnqueue allows 10 enqueue intents per minute per player.
	RuleEnqueue = Rule{Key: store.PrefixRate + "enqueue:", Limit: 10, Window: time.Minute}

	// RuleResponse allows 30 accept/reject/cancel intents per minute per player.
	RuleResponse = Rule{Key: store.PrefixRate + "response:", Limit: 30, Window: time.Minute}
)

// Limiter performs rate limiting checks against the store.
type Limiter struct {
	kv  store.KV
	log *logrus.Entry
}

// NewLimiter creates a Limiter backed by kv.
func NewLimiter(kv store.KV, log *logrus.Entry) *Limiter {
	return &Limiter{kv: kv, log: log.WithField("component", "ratelimit")}
}

// Allow counts one hit for identifier under rule and reports whether it is
// within the limit. Store errors fail open so an outage does not block
// legitimate traffic; the error is still returned.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.kv.Incr(ctx, key, rule.Window)
	if err != nil {
		l.log.WithError(err).WithField("key", key).Warn("incr failed, failing open")
		return true, err
	}
	return int(count) <= rule.Limit, nil
}

// Remaining returns the hits identifier has left in the current window.
// Missing keys and store errors report the full limit.
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := rule.Key + identifier

	raw, err := l.kv.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return rule.Limit, nil
	}
	if err != nil {
		l.log.WithError(err).WithField("key", key).Warn("get failed, failing open")
		return rule.Limit, err
	}
	count, err := strconv.Atoi(raw)
	if err != nil {
		return rule.Limit, err
	}
	return max(rule.Limit-count, 0), nil
}
