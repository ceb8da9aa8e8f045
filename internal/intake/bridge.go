// Package intake turns gateway intents into queue and dispatcher calls and
// sends every player a reply on their notify subject.
package intake

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/netwindsky/LuminaServer-sub000/internal/dispatch"
	"github.com/netwindsky/LuminaServer-sub000/internal/match"
	"github.com/netwindsky/LuminaServer-sub000/internal/player"
	"github.com/netwindsky/LuminaServer-sub000/internal/protocol"
	"github.com/netwindsky/LuminaServer-sub000/internal/ratelimit"
)

// Queue is the part of the match queue the bridge drives.
type Queue interface {
	Enqueue(ctx context.Context, req *match.MatchRequest) error
	Dequeue(ctx context.Context, playerID string) (bool, error)
	Lookup(ctx context.Context, playerID string) (*match.MatchRequest, error)
	Size(ctx context.Context, gameMode string, matchType match.MatchType) int
}

// Responder receives players' answers to match proposals.
type Responder interface {
	HandlePlayerAcceptance(matchID, playerID string) bool
	HandlePlayerRejection(matchID, playerID string) bool
}

// Cooldowns reports players who may not queue.
type Cooldowns interface {
	OnCooldown(ctx context.Context, playerID string) (bool, time.Duration, string, error)
}

// Sender delivers protocol messages to players.
type Sender interface {
	Send(playerID, msgType string, payload interface{}) error
}

// Presence is the player directory. The bridge reads a player's level and
// status from it and updates the status as they enter and leave the queue.
type Presence interface {
	GetPlayer(ctx context.Context, playerID string) (*player.Player, error)
	UpdateStatus(ctx context.Context, playerID string, status player.Status) error
}

// Subscriber delivers raw intents.
type Subscriber interface {
	SubscribeIntents(group string, handler func(data []byte)) error
}

// Bridge routes intents. Cooldowns, Limiter, Presence and Trigger are
// optional.
type Bridge struct {
	Queue     Queue
	Responder Responder
	Sender    Sender
	Cooldowns Cooldowns
	Limiter   *ratelimit.Limiter
	Presence  Presence
	// Trigger asks the matcher for an immediate round.
	Trigger func()

	log *logrus.Entry
	now func() time.Time
}

// NewBridge creates a bridge; set the optional fields before Start.
func NewBridge(q Queue, r Responder, s Sender, log *logrus.Entry) *Bridge {
	return &Bridge{
		Queue:     q,
		Responder: r,
		Sender:    s,
		log:       log.WithField("component", "intake"),
		now:       time.Now,
	}
}

// Start subscribes to gateway intents within group.
func (b *Bridge) Start(ctx context.Context, sub Subscriber, group string) error {
	return sub.SubscribeIntents(group, func(data []byte) {
		b.Handle(ctx, data)
	})
}

// Handle parses and executes one intent. Malformed intents are logged and
// dropped since there is no player to answer.
func (b *Bridge) Handle(ctx context.Context, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		b.log.WithError(err).WithField("type", msgType).Warn("drop intent")
		return
	}

	switch m := msg.(type) {
	case protocol.EnqueueMsg:
		b.enqueue(ctx, m)
	case protocol.CancelMsg:
		b.cancel(ctx, m)
	case protocol.AcceptMsg:
		b.respond(ctx, m.PlayerID, m.MatchID, true)
	case protocol.RejectMsg:
		b.respond(ctx, m.PlayerID, m.MatchID, false)
	case protocol.StatusMsg:
		b.status(ctx, m)
	}
}

func (b *Bridge) send(playerID, msgType string, payload interface{}) {
	if playerID == "" {
		return
	}
	if err := b.Sender.Send(playerID, msgType, payload); err != nil {
		b.log.WithError(err).WithFields(logrus.Fields{
			"player_id": playerID,
			"type":      msgType,
		}).Warn("reply failed")
	}
}

// allow applies rule to playerID and replies if the player is throttled.
func (b *Bridge) allow(ctx context.Context, playerID string, rule ratelimit.Rule) bool {
	if b.Limiter == nil {
		return true
	}
	ok, _ := b.Limiter.Allow(ctx, playerID, rule)
	if !ok {
		b.send(playerID, protocol.TypeRateLimited, protocol.RateLimitedMsg{
			RetryAfter: int(rule.Window / time.Second),
		})
	}
	return ok
}

func (b *Bridge) enqueue(ctx context.Context, m protocol.EnqueueMsg) {
	if !b.allow(ctx, m.PlayerID, ratelimit.RuleEnqueue) {
		return
	}
	if b.Cooldowns != nil {
		on, remaining, reason, err := b.Cooldowns.OnCooldown(ctx, m.PlayerID)
		if err != nil {
			b.log.WithError(err).WithField("player_id", m.PlayerID).Warn("cooldown check failed")
		}
		if on {
			b.send(m.PlayerID, protocol.TypeCooldown, protocol.CooldownMsg{
				Duration: int(remaining.Round(time.Second) / time.Second),
				Reason:   reason,
			})
			return
		}
	}

	known, err := b.lookupPlayer(ctx, m.PlayerID)
	if err != nil {
		b.log.WithError(err).WithField("player_id", m.PlayerID).Warn("directory lookup failed")
	}
	if known != nil && known.Status == player.StatusInGame {
		err := match.E("intake.enqueue", match.KindPlayerAlreadyMatched, fmt.Errorf("player %s is in room %s", m.PlayerID, known.CurrentRoomID))
		b.log.WithError(err).WithField("player_id", m.PlayerID).Info("enqueue refused")
		b.send(m.PlayerID, protocol.TypeQueueError, protocol.NewQueueError(err))
		return
	}

	req, err := m.Request()
	if err == nil {
		// The directory's level wins over the one the client sent.
		if known != nil {
			req.PlayerLevel = known.Level
		}
		err = b.Queue.Enqueue(ctx, req)
	}
	if err != nil {
		b.log.WithError(err).WithField("player_id", m.PlayerID).Info("enqueue refused")
		b.send(m.PlayerID, protocol.TypeQueueError, protocol.NewQueueError(err))
		return
	}

	b.setPresence(ctx, req.PlayerID, player.StatusInQueue)
	b.send(req.PlayerID, protocol.TypeQueued, protocol.QueuedMsg{
		RequestID: req.RequestID,
		Partition: req.PartitionKey(),
		Priority:  req.Priority,
		QueueSize: b.Queue.Size(ctx, req.GameMode, req.MatchType),
	})
	if b.Trigger != nil {
		b.Trigger()
	}
}

func (b *Bridge) cancel(ctx context.Context, m protocol.CancelMsg) {
	if !b.allow(ctx, m.PlayerID, ratelimit.RuleResponse) {
		return
	}
	removed, err := b.Queue.Dequeue(ctx, m.PlayerID)
	if err != nil {
		b.send(m.PlayerID, protocol.TypeQueueError, protocol.NewQueueError(err))
		return
	}
	if removed {
		b.setPresence(ctx, m.PlayerID, player.StatusOnline)
	}
	b.send(m.PlayerID, protocol.TypeCancelled, protocol.CancelledMsg{Removed: removed})
}

func (b *Bridge) respond(ctx context.Context, playerID, matchID string, accept bool) {
	if !b.allow(ctx, playerID, ratelimit.RuleResponse) {
		return
	}
	var ok bool
	if accept {
		ok = b.Responder.HandlePlayerAcceptance(matchID, playerID)
	} else {
		ok = b.Responder.HandlePlayerRejection(matchID, playerID)
	}
	if !ok {
		b.send(playerID, protocol.TypeQueueError, protocol.QueueErrorMsg{
			Code:    string(match.KindRequestNotFound),
			Message: "match " + matchID + " is not awaiting your answer",
		})
	}
}

func (b *Bridge) status(ctx context.Context, m protocol.StatusMsg) {
	req, err := b.Queue.Lookup(ctx, m.PlayerID)
	if err != nil {
		b.send(m.PlayerID, protocol.TypeQueueError, protocol.NewQueueError(err))
		return
	}
	msg := protocol.QueueStatusMsg{}
	if req != nil {
		msg.InQueue = true
		msg.Partition = req.PartitionKey()
		msg.Priority = req.Priority
		msg.WaitSeconds = int(req.Age(b.now()) / time.Second)
	}
	b.send(m.PlayerID, protocol.TypeQueueStatus, msg)
}

func (b *Bridge) lookupPlayer(ctx context.Context, playerID string) (*player.Player, error) {
	if b.Presence == nil {
		return nil, nil
	}
	return b.Presence.GetPlayer(ctx, playerID)
}

func (b *Bridge) setPresence(ctx context.Context, playerID string, status player.Status) {
	if b.Presence == nil {
		return
	}
	if err := b.Presence.UpdateStatus(ctx, playerID, status); err != nil {
		b.log.WithError(err).WithField("player_id", playerID).Warn("update presence")
	}
}

// NotifyOutcome tells every player of a finished dispatch how it ended.
// It has the shape of a dispatcher finish hook.
func (b *Bridge) NotifyOutcome(result *match.MatchResult, res dispatch.Result) {
	ctx := context.Background()
	for _, id := range result.PlayerIDs() {
		if res.Success {
			b.send(id, protocol.TypeMatchStarted, protocol.MatchStartedMsg{
				MatchID: result.MatchID,
				RoomID:  res.RoomID,
			})
			continue
		}
		req, err := b.Queue.Lookup(ctx, id)
		requeued := err == nil && req != nil
		if !requeued {
			b.setPresence(ctx, id, player.StatusOnline)
		}
		b.send(id, protocol.TypeMatchCancelled, protocol.MatchCancelledMsg{
			MatchID:  result.MatchID,
			Status:   string(res.Status),
			Reason:   res.Reason,
			Requeued: requeued,
		})
	}
}
