package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netwindsky/LuminaServer-sub000/internal/dispatch"
	"github.com/netwindsky/LuminaServer-sub000/internal/match"
	"github.com/netwindsky/LuminaServer-sub000/internal/protocol"
)

type capturePub struct {
	mu   sync.Mutex
	sent map[string][][]byte
	err  error
}

func (c *capturePub) PublishToPlayer(playerID string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if c.sent == nil {
		c.sent = map[string][][]byte{}
	}
	c.sent[playerID] = append(c.sent[playerID], data)
	return nil
}

func TestNotifier_PushToPlayer(t *testing.T) {
	pub := &capturePub{}
	n := NewNotifier(pub)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return now }

	err := n.PushToPlayer(context.Background(), "a", dispatch.MatchNotification{
		MatchID:    "m1",
		RoomID:     "r1",
		GameMode:   "2v2",
		MatchType:  match.Ranked,
		PlayerIDs:  []string{"a", "b"},
		ExpireTime: now.Add(30 * time.Second),
	})
	require.NoError(t, err)
	require.Len(t, pub.sent["a"], 1)

	var msg protocol.MatchFoundMsg
	require.NoError(t, json.Unmarshal(pub.sent["a"][0], &msg))
	assert.Equal(t, protocol.TypeMatchFound, msg.Type)
	assert.Equal(t, "m1", msg.MatchID)
	assert.Equal(t, "RANKED", msg.MatchType)
	assert.Equal(t, 30, msg.AcceptDeadline)
	assert.Equal(t, []string{"a", "b"}, msg.Players)
}

func TestNotifier_Errors(t *testing.T) {
	n := NewNotifier(&capturePub{err: errors.New("down")})
	assert.Error(t, n.Send("a", protocol.TypeQueued, protocol.QueuedMsg{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, n.PushToPlayer(ctx, "a", dispatch.MatchNotification{}), context.Canceled)
}

type fakeRequester struct {
	subject string
	body    []byte
	reply   string
	err     error
}

func (f *fakeRequester) Request(_ context.Context, subject string, data []byte) ([]byte, error) {
	f.subject, f.body = subject, data
	return []byte(f.reply), f.err
}

func TestRoomClient(t *testing.T) {
	req := &fakeRequester{reply: `{"room_id":"r9"}`}
	rooms := NewRoomClient(req)

	id, err := rooms.CreateRoom(context.Background(), dispatch.RoomConfig{MatchID: "m1", MaxPlayers: 4})
	require.NoError(t, err)
	assert.Equal(t, "r9", id)
	assert.Equal(t, SubjectRoomCreate, req.subject)
	assert.Contains(t, string(req.body), `"match_id":"m1"`)

	req.reply = `{"error":"no capacity"}`
	_, err = rooms.CreateRoom(context.Background(), dispatch.RoomConfig{})
	assert.ErrorContains(t, err, "no capacity")

	req.reply = `{}`
	_, err = rooms.CreateRoom(context.Background(), dispatch.RoomConfig{})
	assert.Error(t, err)

	req.reply = `{}`
	require.NoError(t, rooms.RemoveRoom(context.Background(), "r9"))
	assert.Equal(t, SubjectRoomRemove, req.subject)
	assert.JSONEq(t, `{"room_id":"r9"}`, string(req.body))

	req.err = errors.New("timeout")
	assert.Error(t, rooms.RemoveRoom(context.Background(), "r9"))
}

func connectNATS(t *testing.T) *NATSClient {
	t.Helper()
	cfg := DefaultNATSConfig()
	cfg.MaxReconnects = 0
	c, err := NewNATSClient(cfg, logrus.NewEntry(logrus.New()))
	if err != nil {
		t.Skipf("NATS not available at %s: %v", cfg.URL, err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestNATSClient_PlayerRoundTrip(t *testing.T) {
	c := connectNATS(t)

	var mu sync.Mutex
	var got []string
	require.NoError(t, c.SubscribePlayer("p1", func(data []byte) {
		mu.Lock()
		got = append(got, string(data))
		mu.Unlock()
	}))
	require.NoError(t, c.Conn().Flush())
	require.NoError(t, c.PublishToPlayer("p1", []byte("hello")))

	g := gomega.NewWithT(t)
	g.Eventually(func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), got...)
	}, 2*time.Second, 10*time.Millisecond).Should(gomega.Equal([]string{"hello"}))

	require.NoError(t, c.UnsubscribePlayer("p1"))
	assert.Error(t, c.UnsubscribePlayer("p1"))
}

func TestNATSClient_RoomRequestReply(t *testing.T) {
	c := connectNATS(t)
	require.NoError(t, c.Subscribe(SubjectRoomCreate, func(msg *nats.Msg) {
		_ = msg.Respond([]byte(`{"room_id":"room-from-nats"}`))
	}))
	require.NoError(t, c.Conn().Flush())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	id, err := NewRoomClient(c).CreateRoom(ctx, dispatch.RoomConfig{MatchID: "m1"})
	require.NoError(t, err)
	assert.Equal(t, "room-from-nats", id)
}
