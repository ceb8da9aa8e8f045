package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netwindsky/LuminaServer-sub000/internal/store"
)

func TestAllow_LimitAndWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	kv := store.NewMemory()
	kv.SetClock(func() time.Time { return now })
	l := NewLimiter(kv, logrus.NewEntry(logrus.New()))
	rule := Rule{Key: "rl:test:", Limit: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "p1", rule)
		require.NoError(t, err)
		assert.True(t, ok, "hit %d", i+1)
	}
	ok, err := l.Allow(ctx, "p1", rule)
	require.NoError(t, err)
	assert.False(t, ok)

	// Other identifiers have their own counter.
	ok, _ = l.Allow(ctx, "p2", rule)
	assert.True(t, ok)

	now = now.Add(time.Minute + time.Second)
	ok, err = l.Allow(ctx, "p1", rule)
	require.NoError(t, err)
	assert.True(t, ok, "new window")
}

func TestRemaining(t *testing.T) {
	ctx := context.Background()
	l := NewLimiter(store.NewMemory(), logrus.NewEntry(logrus.New()))

	n, err := l.Remaining(ctx, "p1", RuleEnqueue)
	require.NoError(t, err)
	assert.Equal(t, RuleEnqueue.Limit, n)

	for i := 0; i < 12; i++ {
		_, _ = l.Allow(ctx, "p1", RuleEnqueue)
	}
	n, err = l.Remaining(ctx, "p1", RuleEnqueue)
	require.NoError(t, err)
	assert.Zero(t, n)
}
