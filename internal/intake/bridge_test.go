package intake

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netwindsky/LuminaServer-sub000/internal/dispatch"
	"github.com/netwindsky/LuminaServer-sub000/internal/match"
	"github.com/netwindsky/LuminaServer-sub000/internal/penalty"
	"github.com/netwindsky/LuminaServer-sub000/internal/player"
	"github.com/netwindsky/LuminaServer-sub000/internal/protocol"
	"github.com/netwindsky/LuminaServer-sub000/internal/queue"
	"github.com/netwindsky/LuminaServer-sub000/internal/ratelimit"
	"github.com/netwindsky/LuminaServer-sub000/internal/store"
)

type sent struct {
	playerID string
	msgType  string
	payload  interface{}
}

type captureSender struct {
	mu  sync.Mutex
	out []sent
}

func (c *captureSender) Send(playerID, msgType string, payload interface{}) error {
	c.mu.Lock()
	c.out = append(c.out, sent{playerID, msgType, payload})
	c.mu.Unlock()
	return nil
}

func (c *captureSender) last(t *testing.T) sent {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.out)
	return c.out[len(c.out)-1]
}

type fakeResponder struct {
	accepted, rejected []string
	known              string
}

func (f *fakeResponder) HandlePlayerAcceptance(matchID, playerID string) bool {
	if matchID != f.known {
		return false
	}
	f.accepted = append(f.accepted, playerID)
	return true
}

func (f *fakeResponder) HandlePlayerRejection(matchID, playerID string) bool {
	if matchID != f.known {
		return false
	}
	f.rejected = append(f.rejected, playerID)
	return true
}

type fakePresence struct {
	status  map[string]player.Status
	players map[string]*player.Player
}

func (f *fakePresence) GetPlayer(_ context.Context, id string) (*player.Player, error) {
	return f.players[id], nil
}

func (f *fakePresence) UpdateStatus(_ context.Context, id string, s player.Status) error {
	f.status[id] = s
	return nil
}

type fixture struct {
	b         *Bridge
	q         *queue.Queue
	sender    *captureSender
	responder *fakeResponder
	presence  *fakePresence
	penalties *penalty.Store
	triggers  int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logrus.NewEntry(logrus.New())
	kv := store.NewMemory()
	f := &fixture{
		q:         queue.New(nil, queue.Config{}, nil, log),
		sender:    &captureSender{},
		responder: &fakeResponder{known: "m1"},
		presence:  &fakePresence{status: map[string]player.Status{}, players: map[string]*player.Player{}},
		penalties: penalty.NewStore(kv),
	}
	f.b = NewBridge(f.q, f.responder, f.sender, log)
	f.b.Cooldowns = f.penalties
	f.b.Limiter = ratelimit.NewLimiter(kv, log)
	f.b.Presence = f.presence
	f.b.Trigger = func() { f.triggers++ }
	return f
}

func intent(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func enqueueIntent(t *testing.T, playerID string) []byte {
	return intent(t, protocol.EnqueueMsg{
		Type:        protocol.TypeEnqueue,
		PlayerID:    playerID,
		GameMode:    "2v2",
		MatchType:   "QUICK",
		PlayerLevel: 10,
	})
}

func TestHandle_Enqueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.b.Handle(ctx, enqueueIntent(t, "a"))

	got := f.sender.last(t)
	assert.Equal(t, "a", got.playerID)
	assert.Equal(t, protocol.TypeQueued, got.msgType)
	q := got.payload.(protocol.QueuedMsg)
	assert.Equal(t, "2v2:QUICK", q.Partition)
	assert.Equal(t, 1, q.QueueSize)
	assert.Equal(t, 120, q.Priority)
	assert.Equal(t, 1, f.triggers)
	assert.Equal(t, player.StatusInQueue, f.presence.status["a"])

	f.b.Handle(ctx, enqueueIntent(t, "a"))
	got = f.sender.last(t)
	assert.Equal(t, protocol.TypeQueueError, got.msgType)
	assert.Equal(t, string(match.KindPlayerAlreadyQueued), got.payload.(protocol.QueueErrorMsg).Code)
	assert.Equal(t, 1, f.triggers)
}

func TestHandle_EnqueueWhileInGame(t *testing.T) {
	f := newFixture(t)
	f.presence.players["a"] = &player.Player{ID: "a", Status: player.StatusInGame, CurrentRoomID: "r1"}

	f.b.Handle(context.Background(), enqueueIntent(t, "a"))

	got := f.sender.last(t)
	assert.Equal(t, protocol.TypeQueueError, got.msgType)
	e := got.payload.(protocol.QueueErrorMsg)
	assert.Equal(t, string(match.KindPlayerAlreadyMatched), e.Code)
	assert.False(t, e.Retryable)
	assert.Zero(t, f.q.Len())
	assert.Zero(t, f.triggers)
}

func TestHandle_EnqueueWhileClaimed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.b.Handle(ctx, enqueueIntent(t, "a"))
	f.b.Handle(ctx, enqueueIntent(t, "b"))
	cands, err := f.q.GetMatchCandidates(ctx, "2v2", match.Quick, 0)
	require.NoError(t, err)
	_, err = f.q.ClaimCandidates(ctx, cands)
	require.NoError(t, err)

	f.b.Handle(ctx, enqueueIntent(t, "a"))
	got := f.sender.last(t)
	assert.Equal(t, protocol.TypeQueueError, got.msgType)
	assert.Equal(t, string(match.KindPlayerAlreadyMatched), got.payload.(protocol.QueueErrorMsg).Code)

	require.NoError(t, f.q.Release(ctx, "a"))
	f.b.Handle(ctx, enqueueIntent(t, "a"))
	assert.Equal(t, protocol.TypeQueued, f.sender.last(t).msgType)
}

func TestHandle_EnqueueUsesDirectoryLevel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.presence.players["a"] = &player.Player{ID: "a", Status: player.StatusOnline, Level: 42}

	f.b.Handle(ctx, enqueueIntent(t, "a"))
	require.Equal(t, protocol.TypeQueued, f.sender.last(t).msgType)

	req, err := f.q.Lookup(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, 42, req.PlayerLevel)

	f.b.Handle(ctx, enqueueIntent(t, "b"))
	req, err = f.q.Lookup(ctx, "b")
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, 10, req.PlayerLevel, "unknown players keep the level they sent")
}

func TestHandle_EnqueueInvalid(t *testing.T) {
	f := newFixture(t)
	f.b.Handle(context.Background(), intent(t, protocol.EnqueueMsg{
		Type:      protocol.TypeEnqueue,
		PlayerID:  "a",
		GameMode:  "2v2",
		MatchType: "arcade",
	}))
	got := f.sender.last(t)
	assert.Equal(t, protocol.TypeQueueError, got.msgType)
	assert.Equal(t, string(match.KindInvalidRequest), got.payload.(protocol.QueueErrorMsg).Code)
	assert.Zero(t, f.q.Len())
}

func TestHandle_EnqueueOnCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.penalties.SetCooldown(ctx, "a", time.Minute, penalty.ReasonDeclined))

	f.b.Handle(ctx, enqueueIntent(t, "a"))

	got := f.sender.last(t)
	assert.Equal(t, protocol.TypeCooldown, got.msgType)
	c := got.payload.(protocol.CooldownMsg)
	assert.Equal(t, penalty.ReasonDeclined, c.Reason)
	assert.InDelta(t, 60, c.Duration, 1)
	assert.Zero(t, f.q.Len())
}

func TestHandle_EnqueueRateLimited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < ratelimit.RuleEnqueue.Limit; i++ {
		f.b.Handle(ctx, enqueueIntent(t, "a"))
	}
	f.b.Handle(ctx, enqueueIntent(t, "a"))
	got := f.sender.last(t)
	assert.Equal(t, protocol.TypeRateLimited, got.msgType)
	assert.Equal(t, 60, got.payload.(protocol.RateLimitedMsg).RetryAfter)
}

func TestHandle_Cancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.b.Handle(ctx, enqueueIntent(t, "a"))

	f.b.Handle(ctx, intent(t, protocol.CancelMsg{Type: protocol.TypeCancel, PlayerID: "a"}))
	got := f.sender.last(t)
	assert.Equal(t, protocol.TypeCancelled, got.msgType)
	assert.True(t, got.payload.(protocol.CancelledMsg).Removed)
	assert.Equal(t, player.StatusOnline, f.presence.status["a"])
	assert.Zero(t, f.q.Len())

	f.b.Handle(ctx, intent(t, protocol.CancelMsg{Type: protocol.TypeCancel, PlayerID: "a"}))
	assert.False(t, f.sender.last(t).payload.(protocol.CancelledMsg).Removed)
}

func TestHandle_AcceptReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.b.Handle(ctx, intent(t, protocol.AcceptMsg{Type: protocol.TypeAccept, PlayerID: "a", MatchID: "m1"}))
	f.b.Handle(ctx, intent(t, protocol.RejectMsg{Type: protocol.TypeReject, PlayerID: "b", MatchID: "m1"}))
	assert.Equal(t, []string{"a"}, f.responder.accepted)
	assert.Equal(t, []string{"b"}, f.responder.rejected)
	assert.Empty(t, f.sender.out)

	f.b.Handle(ctx, intent(t, protocol.AcceptMsg{Type: protocol.TypeAccept, PlayerID: "a", MatchID: "gone"}))
	got := f.sender.last(t)
	assert.Equal(t, protocol.TypeQueueError, got.msgType)
	assert.Equal(t, string(match.KindRequestNotFound), got.payload.(protocol.QueueErrorMsg).Code)
}

func TestHandle_Status(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.b.Handle(ctx, intent(t, protocol.StatusMsg{Type: protocol.TypeStatus, PlayerID: "a"}))
	assert.False(t, f.sender.last(t).payload.(protocol.QueueStatusMsg).InQueue)

	f.b.Handle(ctx, enqueueIntent(t, "a"))
	f.b.Handle(ctx, intent(t, protocol.StatusMsg{Type: protocol.TypeStatus, PlayerID: "a"}))
	st := f.sender.last(t).payload.(protocol.QueueStatusMsg)
	assert.True(t, st.InQueue)
	assert.Equal(t, "2v2:QUICK", st.Partition)
}

func TestHandle_MalformedDropped(t *testing.T) {
	f := newFixture(t)
	f.b.Handle(context.Background(), []byte(`{"type":"teleport"}`))
	f.b.Handle(context.Background(), []byte(`garbage`))
	assert.Empty(t, f.sender.out)
}

func TestNotifyOutcome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var reqs []*match.MatchRequest
	for _, id := range []string{"a", "b"} {
		req, err := match.NewMatchRequest(id, "2v2", match.Quick, 10, match.DefaultCriteria())
		require.NoError(t, err)
		reqs = append(reqs, req)
	}
	result, err := match.NewMatchResult(reqs, 100, time.Minute)
	require.NoError(t, err)

	f.b.NotifyOutcome(result, dispatch.Result{Success: true, RoomID: "r1", Status: dispatch.StatusCompleted})
	require.Len(t, f.sender.out, 2)
	assert.Equal(t, protocol.MatchStartedMsg{MatchID: result.MatchID, RoomID: "r1"}, f.sender.out[0].payload)

	f.sender.out = nil
	require.NoError(t, f.q.Requeue(ctx, reqs[0].Clone()))
	f.b.NotifyOutcome(result, dispatch.Result{Status: dispatch.StatusExpired, Reason: "acceptance timed out"})
	require.Len(t, f.sender.out, 2)
	assert.True(t, f.sender.out[0].payload.(protocol.MatchCancelledMsg).Requeued)
	assert.False(t, f.sender.out[1].payload.(protocol.MatchCancelledMsg).Requeued)
	assert.Equal(t, "EXPIRED", f.sender.out[1].payload.(protocol.MatchCancelledMsg).Status)
	assert.Equal(t, player.StatusOnline, f.presence.status["b"])
}
