package store

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseKV runs the same contract checks against any KV implementation.
func exerciseKV(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	_, err := kv.Get(ctx, "test:missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Set(ctx, "test:k", "v", time.Minute))
	v, err := kv.Get(ctx, "test:k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	ttl, err := kv.TTL(ctx, "test:k")
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= time.Minute, "ttl=%s", ttl)

	ok, err := kv.SetNX(ctx, "test:k", "other", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.SAdd(ctx, "test:set", time.Minute, "b", "a"))
	members, err := kv.SMembers(ctx, "test:set")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, members)

	require.NoError(t, kv.SRem(ctx, "test:set", "a", "b"))
	members, err = kv.SMembers(ctx, "test:set")
	require.NoError(t, err)
	assert.Empty(t, members)

	n, err := kv.Incr(ctx, "test:counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = kv.Incr(ctx, "test:counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, kv.Atomic(ctx, func(b Batch) {
		b.Set("test:owner", "r1", time.Minute)
		b.Set("test:body", "{}", time.Minute)
		b.SAdd("test:batch", time.Minute, "r1", "r2")
		b.SRem("test:batch", "r2")
	}))
	members, err = kv.SMembers(ctx, "test:batch")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, members)

	require.NoError(t, kv.Atomic(ctx, func(b Batch) {
		b.DelIfEquals("test:owner", "someone-else")
		b.Del("test:body")
	}))
	owner, err := kv.Get(ctx, "test:owner")
	require.NoError(t, err)
	assert.Equal(t, "r1", owner)
	_, err = kv.Get(ctx, "test:body")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Atomic(ctx, func(b Batch) {
		b.DelIfEquals("test:owner", "r1")
		b.SRem("test:batch", "r1")
	}))
	_, err = kv.Get(ctx, "test:owner")
	assert.ErrorIs(t, err, ErrNotFound)

	live, err := kv.Exists(ctx, "test:k", "test:counter", "test:owner", "test:missing")
	require.NoError(t, err)
	assert.Equal(t, int64(2), live)

	require.NoError(t, kv.Del(ctx, "test:k", "test:counter"))
	_, err = kv.Get(ctx, "test:k")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = kv.TTL(ctx, "test:counter")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_Contract(t *testing.T) {
	exerciseKV(t, NewMemory())
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()
	m.SetClock(func() time.Time { return now })

	require.NoError(t, m.Set(ctx, "k", "v", 10*time.Second))
	require.NoError(t, m.SAdd(ctx, "s", 10*time.Second, "x"))
	assert.Equal(t, []string{"k", "s"}, m.Keys())

	now = now.Add(11 * time.Second)
	_, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
	members, _ := m.SMembers(ctx, "s")
	assert.Empty(t, members)
	assert.Empty(t, m.Keys())

	live, err := m.Exists(ctx, "k", "s")
	require.NoError(t, err)
	assert.Zero(t, live)

	ok, err := m.SetNX(ctx, "k", "again", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemory_IncrWindowDoesNotSlide(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()
	m.SetClock(func() time.Time { return now })

	_, _ = m.Incr(ctx, "c", 10*time.Second)
	now = now.Add(6 * time.Second)
	_, _ = m.Incr(ctx, "c", 10*time.Second)
	now = now.Add(5 * time.Second)

	n, err := m.Incr(ctx, "c", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "counter should have expired 10s after creation")
}

// Integration test against a live Redis; skipped when none is running.
func TestRedis_Contract(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("skipping: Redis not available: %v", err)
	}
	rdb.FlushDB(ctx)
	t.Cleanup(func() {
		rdb.FlushDB(ctx)
		rdb.Close()
	})

	exerciseKV(t, NewRedis(rdb))
}
