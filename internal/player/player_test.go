package player

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestDirectory connects to a local Redis on DB 15. Tests are skipped if
// it is unavailable.
func newTestDirectory(t *testing.T) *Directory {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("skipping: Redis not available: %v", err)
	}
	client.FlushDB(ctx)
	t.Cleanup(func() {
		client.FlushDB(ctx)
		client.Close()
	})
	return NewDirectory(client)
}

func TestOnline(t *testing.T) {
	var nilPlayer *Player
	assert.False(t, nilPlayer.Online())
	assert.False(t, (&Player{Status: StatusOffline}).Online())
	assert.True(t, (&Player{Status: StatusInQueue}).Online())
}

func TestDirectory_RegisterAndBind(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()

	missing, err := d.GetPlayer(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)
	online, err := d.IsOnline(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, online)

	require.NoError(t, d.Register(ctx, &Player{ID: "p1", Name: "Ada", Level: 42, Platform: "pc"}))
	p, err := d.GetPlayer(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, StatusOnline, p.Status)
	assert.Equal(t, 42, p.Level)

	require.NoError(t, d.BindToRoom(ctx, "p1", "room-1", StatusInGame))
	p, err = d.GetPlayer(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "room-1", p.CurrentRoomID)
	assert.Equal(t, StatusInGame, p.Status)

	require.NoError(t, d.UpdateStatus(ctx, "p1", StatusOffline))
	online, err = d.IsOnline(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, online)

	require.NoError(t, d.Remove(ctx, "p1"))
	p, err = d.GetPlayer(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, p)
}
