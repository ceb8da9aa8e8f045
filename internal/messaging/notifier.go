package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/netwindsky/LuminaServer-sub000/internal/dispatch"
	"github.com/netwindsky/LuminaServer-sub000/internal/protocol"
)

// Publisher is the part of NATSClient the notifier needs.
type Publisher interface {
	PublishToPlayer(playerID string, data []byte) error
}

// Notifier pushes protocol messages to players' notify subjects.
type Notifier struct {
	pub Publisher
	now func() time.Time
}

// NewNotifier creates a notifier on pub.
func NewNotifier(pub Publisher) *Notifier {
	return &Notifier{pub: pub, now: time.Now}
}

// Send encodes payload as msgType and publishes it to playerID.
func (n *Notifier) Send(playerID, msgType string, payload interface{}) error {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		return err
	}
	if err := n.pub.PublishToPlayer(playerID, data); err != nil {
		return fmt.Errorf("messaging: push %s to %s: %w", msgType, playerID, err)
	}
	return nil
}

// PushToPlayer sends a match proposal.
func (n *Notifier) PushToPlayer(ctx context.Context, playerID string, m dispatch.MatchNotification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline := int(m.ExpireTime.Sub(n.now()).Round(time.Second) / time.Second)
	if deadline < 0 {
		deadline = 0
	}
	return n.Send(playerID, protocol.TypeMatchFound, protocol.MatchFoundMsg{
		MatchID:        m.MatchID,
		RoomID:         m.RoomID,
		GameMode:       m.GameMode,
		MatchType:      string(m.MatchType),
		Players:        m.PlayerIDs,
		QualityScore:   m.QualityScore,
		AcceptDeadline: deadline,
		ExpireTime:     m.ExpireTime,
	})
}
