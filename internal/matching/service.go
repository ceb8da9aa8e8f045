package matching

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ServiceConfig sets the schedule of the background loops.
type ServiceConfig struct {
	MatchInterval        time.Duration
	AgingInterval        time.Duration
	CleanupInterval      time.Duration
	SessionSweepInterval time.Duration
}

// DefaultServiceConfig returns the production schedule.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		MatchInterval:        5 * time.Second,
		AgingInterval:        60 * time.Second,
		CleanupInterval:      30 * time.Second,
		SessionSweepInterval: 30 * time.Second,
	}
}

// SweepFunc expires overdue state at now and returns how many entries it
// removed.
type SweepFunc func(now time.Time) int

type sweeper struct {
	name string
	fn   SweepFunc
}

// Service runs the maker on a ticker and on demand, and keeps the queue
// healthy with periodic aging and cleanup.
type Service struct {
	maker    *Maker
	queue    Queue
	cfg      ServiceConfig
	log      *logrus.Entry
	trigger  chan struct{}
	sweepers []sweeper

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a stopped service.
func NewService(maker *Maker, queue Queue, cfg ServiceConfig, log *logrus.Entry) *Service {
	def := DefaultServiceConfig()
	if cfg.MatchInterval <= 0 {
		cfg.MatchInterval = def.MatchInterval
	}
	if cfg.AgingInterval <= 0 {
		cfg.AgingInterval = def.AgingInterval
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.SessionSweepInterval <= 0 {
		cfg.SessionSweepInterval = def.SessionSweepInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		maker:   maker,
		queue:   queue,
		cfg:     cfg,
		log:     log.WithField("component", "matcher"),
		trigger: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.AddSweeper("matching_sessions", maker.ExpireSessions)
	return s
}

// AddSweeper registers fn with the session sweep loop. Call before Start.
func (s *Service) AddSweeper(name string, fn SweepFunc) {
	s.sweepers = append(s.sweepers, sweeper{name: name, fn: fn})
}

// Start launches the match and maintenance loops.
func (s *Service) Start() {
	s.wg.Add(2)
	go s.matchLoop()
	go s.maintenanceLoop()
	s.log.WithField("interval", s.cfg.MatchInterval).Info("service started")
}

// Stop ends both loops and waits for an in-flight round to finish.
func (s *Service) Stop() {
	s.cancel()
	s.wg.Wait()
	s.log.Info("service stopped")
}

// Trigger asks for a matching round as soon as possible. Triggers that
// arrive while one is already pending are coalesced.
func (s *Service) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Service) matchLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.MatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		case <-s.trigger:
		}
		s.maker.PerformMatching(s.ctx)
	}
}
