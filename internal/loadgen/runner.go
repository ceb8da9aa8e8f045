package loadgen

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/netwindsky/LuminaServer-sub000/internal/messaging"
	"github.com/netwindsky/LuminaServer-sub000/internal/player"
	"github.com/netwindsky/LuminaServer-sub000/internal/protocol"
)

// Bus is the part of the NATS client the runner uses.
type Bus interface {
	Subscribe(subject string, handler func(msg *nats.Msg)) error
	SubscribePlayer(playerID string, handler func(data []byte)) error
	UnsubscribePlayer(playerID string) error
	PublishIntent(data []byte) error
}

// Registrar makes simulated players visible as online.
type Registrar interface {
	Register(ctx context.Context, p *player.Player) error
	Remove(ctx context.Context, playerID string) error
}

// RunConfig describes one load run.
type RunConfig struct {
	Players    int
	GameMode   string
	MatchType  string
	MaxLevel   int
	RejectRate float64
	Ramp       time.Duration
	Timeout    time.Duration
	// ServeRooms answers room requests itself, for runs without a room
	// service.
	ServeRooms bool
	Prefix     string
}

// Runner simulates players against a live matcher.
type Runner struct {
	bus       Bus
	players   Registrar
	cfg       RunConfig
	collector *Collector
	log       *logrus.Entry
	rng       *rand.Rand
	rngMu     sync.Mutex
}

// NewRunner creates a runner.
func NewRunner(bus Bus, players Registrar, cfg RunConfig, collector *Collector, log *logrus.Entry) *Runner {
	if cfg.Prefix == "" {
		cfg.Prefix = "load-" + uuid.NewString()[:8] + "-"
	}
	if cfg.MaxLevel <= 0 {
		cfg.MaxLevel = 50
	}
	return &Runner{
		bus:       bus,
		players:   players,
		cfg:       cfg,
		collector: collector,
		log:       log.WithField("component", "loadgen"),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *Runner) chance(p float64) bool {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return r.rng.Float64() < p
}

func (r *Runner) level() int {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return r.rng.Intn(r.cfg.MaxLevel + 1)
}

// serveRooms answers room create and remove requests with fresh ids.
func (r *Runner) serveRooms() error {
	reply := func(msg *nats.Msg, body messaging.RoomReply) {
		data, _ := json.Marshal(body)
		if err := msg.Respond(data); err != nil {
			r.log.WithError(err).Warn("room reply")
		}
	}
	if err := r.bus.Subscribe(messaging.SubjectRoomCreate, func(msg *nats.Msg) {
		reply(msg, messaging.RoomReply{RoomID: "room-" + uuid.NewString()})
	}); err != nil {
		return err
	}
	return r.bus.Subscribe(messaging.SubjectRoomRemove, func(msg *nats.Msg) {
		reply(msg, messaging.RoomReply{})
	})
}

// Run enqueues every simulated player and waits until each one has been
// seated, gave up or timed out.
func (r *Runner) Run(ctx context.Context) error {
	if r.cfg.ServeRooms {
		if err := r.serveRooms(); err != nil {
			return fmt.Errorf("loadgen: serve rooms: %w", err)
		}
	}

	interval := time.Millisecond
	if r.cfg.Players > 0 && r.cfg.Ramp > 0 {
		interval = max(r.cfg.Ramp/time.Duration(r.cfg.Players), time.Microsecond)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sims := make([]*simPlayer, 0, r.cfg.Players)
	defer func() { r.cleanup(sims) }()

	for i := 0; i < r.cfg.Players; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		sim, err := r.launch(ctx, fmt.Sprintf("%s%d", r.cfg.Prefix, i))
		if err != nil {
			r.collector.AddError()
			r.log.WithError(err).Warn("launch player")
			continue
		}
		sims = append(sims, sim)
	}

	timeout := time.NewTimer(r.cfg.Timeout)
	defer timeout.Stop()
	for _, sim := range sims {
		select {
		case <-sim.done:
		case <-timeout.C:
			r.collector.AddOutcome("timeout")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *Runner) cleanup(sims []*simPlayer) {
	ctx := context.Background()
	for _, sim := range sims {
		_ = r.bus.UnsubscribePlayer(sim.id)
		_ = r.players.Remove(ctx, sim.id)
	}
}

func (r *Runner) launch(ctx context.Context, id string) (*simPlayer, error) {
	lvl := r.level()
	if err := r.players.Register(ctx, &player.Player{ID: id, Name: id, Status: player.StatusOnline, Level: lvl}); err != nil {
		return nil, err
	}
	sim := &simPlayer{id: id, r: r, done: make(chan struct{})}
	if err := r.bus.SubscribePlayer(id, sim.handle); err != nil {
		return nil, err
	}
	data, err := json.Marshal(protocol.EnqueueMsg{
		Type:        protocol.TypeEnqueue,
		PlayerID:    id,
		GameMode:    r.cfg.GameMode,
		MatchType:   r.cfg.MatchType,
		PlayerLevel: lvl,
	})
	if err != nil {
		return nil, err
	}
	sim.mark(func() { sim.enqueuedAt = time.Now() })
	if err := r.bus.PublishIntent(data); err != nil {
		return nil, err
	}
	return sim, nil
}

type simPlayer struct {
	id   string
	r    *Runner
	done chan struct{}
	once sync.Once

	mu         sync.Mutex
	enqueuedAt time.Time
	acceptedAt time.Time
}

func (p *simPlayer) mark(fn func()) {
	p.mu.Lock()
	fn()
	p.mu.Unlock()
}

func (p *simPlayer) since(t *time.Time) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Since(*t)
}

func (p *simPlayer) finish(outcome string) {
	p.once.Do(func() {
		p.r.collector.AddOutcome(outcome)
		close(p.done)
	})
}

func (p *simPlayer) handle(data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		p.r.collector.AddError()
		return
	}

	switch env.Type {
	case protocol.TypeQueued:
		p.r.collector.AddQueued(p.since(&p.enqueuedAt))
	case protocol.TypeMatchFound:
		var m protocol.MatchFoundMsg
		if err := json.Unmarshal(env.Raw, &m); err != nil {
			p.r.collector.AddError()
			return
		}
		p.r.collector.AddMatched(p.since(&p.enqueuedAt))
		p.answer(m.MatchID)
	case protocol.TypeMatchStarted:
		p.r.collector.AddSeated(p.since(&p.acceptedAt))
		p.finish(env.Type)
	case protocol.TypeMatchCancelled:
		var m protocol.MatchCancelledMsg
		if err := json.Unmarshal(env.Raw, &m); err != nil {
			p.r.collector.AddError()
			return
		}
		if m.Requeued {
			p.mark(func() { p.enqueuedAt = time.Now() })
			p.r.collector.AddOutcome("requeued")
			return
		}
		p.finish(env.Type)
	case protocol.TypeQueueError, protocol.TypeCooldown, protocol.TypeRateLimited:
		p.r.collector.AddError()
		p.finish(env.Type)
	}
}

func (p *simPlayer) answer(matchID string) {
	msgType := protocol.TypeAccept
	if p.r.chance(p.r.cfg.RejectRate) {
		msgType = protocol.TypeReject
	}
	p.mark(func() { p.acceptedAt = time.Now() })
	data, err := json.Marshal(protocol.AcceptMsg{Type: msgType, PlayerID: p.id, MatchID: matchID})
	if err != nil {
		p.r.collector.AddError()
		return
	}
	if err := p.r.bus.PublishIntent(data); err != nil {
		p.r.collector.AddError()
	}
}
