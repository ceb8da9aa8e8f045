// Package messaging provides the NATS client the matchmaker talks to the
// rest of the platform with. Gateways publish player intents on
// match.intent, the matchmaker pushes replies and match events to
// match.notify.<player_id>, and rooms are created through request/reply
// on the room service subjects.
package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// NATS subjects used by the matchmaker.
const (
	SubjectIntent     = "match.intent"
	SubjectNotify     = "match.notify" // + .<player_id>
	SubjectRoomCreate = "room.create"
	SubjectRoomRemove = "room.remove"
)

// NotifySubject is the subject a player's gateway listens on.
func NotifySubject(playerID string) string {
	return SubjectNotify + "." + playerID
}

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	log  *logrus.Entry
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "matcher",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS. It fails if the initial connection does.
func NewNATSClient(config NATSConfig, log *logrus.Entry) (*NATSClient, error) {
	log = log.WithField("component", "nats")
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("disconnected")
			} else {
				log.Warn("disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	log.WithField("url", nc.ConnectedUrl()).Info("connected")

	return &NATSClient{
		conn: nc,
		log:  log,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Conn exposes the underlying connection.
func (c *NATSClient) Conn() *nats.Conn {
	return c.conn
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Request sends data to subject and waits for a single reply or ctx.
func (c *NATSClient) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	msg, err := c.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("nats request %s: %w", subject, err)
	}
	return msg.Data, nil
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	c.track(subject, sub)
	return nil
}

// QueueSubscribe is Subscribe within a queue group, so each message reaches
// only one member of the group.
func (c *NATSClient) QueueSubscribe(subject, group string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.QueueSubscribe(subject, group, handler)
	if err != nil {
		return fmt.Errorf("nats queue subscribe %s: %w", subject, err)
	}
	c.track(subject+"#"+group, sub)
	return nil
}

func (c *NATSClient) track(key string, sub *nats.Subscription) {
	c.mu.Lock()
	if old, ok := c.subs[key]; ok {
		_ = old.Unsubscribe()
	}
	c.subs[key] = sub
	c.mu.Unlock()
}

// SubscribeIntents delivers gateway intents to handler. Matchers sharing a
// group split the intents between them.
func (c *NATSClient) SubscribeIntents(group string, handler func(data []byte)) error {
	return c.QueueSubscribe(SubjectIntent, group, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// PublishIntent publishes a gateway intent.
func (c *NATSClient) PublishIntent(data []byte) error {
	return c.Publish(SubjectIntent, data)
}

// PublishToPlayer publishes data to the player's notify subject.
func (c *NATSClient) PublishToPlayer(playerID string, data []byte) error {
	return c.Publish(NotifySubject(playerID), data)
}

// SubscribePlayer subscribes to a player's notify subject.
func (c *NATSClient) SubscribePlayer(playerID string, handler func(data []byte)) error {
	return c.Subscribe(NotifySubject(playerID), func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// UnsubscribePlayer drops a SubscribePlayer subscription.
func (c *NATSClient) UnsubscribePlayer(playerID string) error {
	return c.unsubscribe(NotifySubject(playerID))
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.log.WithError(err).WithField("subject", subject).Warn("drain subscription")
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		c.log.WithError(err).Warn("drain connection")
	}
	c.log.Info("client closed")
}

func (c *NATSClient) unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}
