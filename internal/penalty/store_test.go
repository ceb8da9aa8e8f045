package penalty

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netwindsky/LuminaServer-sub000/internal/store"
)

func TestOnCooldown_NotSet(t *testing.T) {
	s := NewStore(store.NewMemory())
	on, remaining, reason, err := s.OnCooldown(context.Background(), "p1")
	require.NoError(t, err)
	assert.False(t, on)
	assert.Zero(t, remaining)
	assert.Empty(t, reason)
}

func TestSetCooldownAndClear(t *testing.T) {
	ctx := context.Background()
	s := NewStore(store.NewMemory())

	require.NoError(t, s.SetCooldown(ctx, "p1", 30*time.Second, ReasonDeclined))
	on, remaining, reason, err := s.OnCooldown(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, on)
	assert.Equal(t, ReasonDeclined, reason)
	assert.True(t, remaining > 0 && remaining <= 30*time.Second, "remaining=%s", remaining)

	require.NoError(t, s.Clear(ctx, "p1"))
	on, _, _, err = s.OnCooldown(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, on)
}

func TestPenalize_Escalates(t *testing.T) {
	ctx := context.Background()
	s := NewStore(store.NewMemory())

	var got []time.Duration
	for i := 0; i < 4; i++ {
		d, err := s.Penalize(ctx, "p1", ReasonNoAnswer)
		require.NoError(t, err)
		got = append(got, d)
	}
	assert.Equal(t, []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute, 15 * time.Minute}, got)

	n, err := s.Offenses(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestPenalize_WindowResets(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	kv := store.NewMemory()
	kv.SetClock(func() time.Time { return now })
	s := NewStore(kv).WithLadder([]time.Duration{time.Second, time.Minute})

	d, err := s.Penalize(ctx, "p1", ReasonDeclined)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	now = now.Add(OffenseWindow + time.Second)
	d, err = s.Penalize(ctx, "p1", ReasonDeclined)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d, "offenses outside the window do not count")
}
