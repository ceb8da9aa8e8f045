// Package matching turns queued match requests into match results.
//
// Each match type has its own algorithm (quick.go, ranked.go, custom.go,
// tournament.go). The Maker runs them per partition, claims the chosen
// requests from the queue, and hands every result to a Forwarder, normally
// the dispatcher. The Service drives the Maker on a schedule.
package matching

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/netwindsky/LuminaServer-sub000/internal/match"
	"github.com/netwindsky/LuminaServer-sub000/internal/metrics"
	"github.com/netwindsky/LuminaServer-sub000/internal/worker"
)

// DefaultSessionTTL is how long a matching session waits to be finalized.
const DefaultSessionTTL = 10 * time.Minute

// Queue is the part of the match queue the maker needs.
type Queue interface {
	Partitions(ctx context.Context) []string
	GetMatchCandidates(ctx context.Context, gameMode string, matchType match.MatchType, count int) ([]*match.MatchRequest, error)
	ClaimCandidates(ctx context.Context, reqs []*match.MatchRequest) ([]*match.MatchRequest, error)
	UpdateQueuePriorities(ctx context.Context) (int, error)
	CleanupExpiredRequests(ctx context.Context) (int, error)
}

type algorithm func(cands []*match.MatchRequest, rules match.ModeRules) [][]*match.MatchRequest

var algorithms = map[match.MatchType]algorithm{
	match.Quick:      matchQuick,
	match.Ranked:     matchRanked,
	match.Custom:     matchCustom,
	match.Tournament: matchTournament,
}

// MatchingSession tracks a result between matching and its dispatch
// outcome.
type MatchingSession struct {
	Result     *match.MatchResult
	Status     match.ResultStatus
	CreateTime time.Time
	ExpireTime time.Time
}

// MakerConfig configures a Maker.
type MakerConfig struct {
	Rules      match.RuleBook
	SessionTTL time.Duration
	// Pool, if set, matches partitions concurrently.
	Pool *worker.Pool
}

// Maker forms matches from queued requests.
type Maker struct {
	queue   Queue
	rules   match.RuleBook
	ttl     time.Duration
	pool    *worker.Pool
	stats   metrics.Sink
	log     *logrus.Entry
	forward Forwarder

	mu       sync.Mutex
	sessions map[string]*MatchingSession
	now      func() time.Time
}

// NewMaker creates a maker over q. Results go nowhere until SetForwarder is
// called.
func NewMaker(q Queue, cfg MakerConfig, stats metrics.Sink, log *logrus.Entry) *Maker {
	if cfg.Rules == nil {
		cfg.Rules = match.DefaultRuleBook()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if stats == nil {
		stats = metrics.Nop{}
	}
	return &Maker{
		queue:    q,
		rules:    cfg.Rules,
		ttl:      cfg.SessionTTL,
		pool:     cfg.Pool,
		stats:    stats,
		log:      log.WithField("component", "matcher"),
		forward:  ForwarderFunc(func(context.Context, *match.MatchResult) {}),
		sessions: make(map[string]*MatchingSession),
		now:      time.Now,
	}
}

// SetForwarder sets the receiver of new results. Call before the first
// round.
func (m *Maker) SetForwarder(f Forwarder) {
	m.forward = f
}

// PerformMatching runs one round over every partition and returns the
// results it formed. A failing partition is logged and skipped.
func (m *Maker) PerformMatching(ctx context.Context) []*match.MatchResult {
	partitions := m.queue.Partitions(ctx)

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []*match.MatchResult
	)
	run := func(partition string) {
		formed, err := m.safeMatchPartition(ctx, partition)
		if err != nil {
			m.stats.PartitionFailed(partition)
			m.log.WithError(err).WithField("partition", partition).Error("matching round failed")
		}
		if len(formed) == 0 {
			return
		}
		mu.Lock()
		results = append(results, formed...)
		mu.Unlock()
	}

	for _, partition := range partitions {
		if ctx.Err() != nil {
			break
		}
		if m.pool == nil {
			run(partition)
			continue
		}
		partition := partition
		wg.Add(1)
		if err := m.pool.Submit(ctx, func() {
			defer wg.Done()
			run(partition)
		}); err != nil {
			wg.Done()
			m.log.WithError(err).WithField("partition", partition).Warn("partition not scheduled")
		}
	}
	wg.Wait()

	if len(results) > 0 {
		m.log.WithFields(logrus.Fields{
			"partitions": len(partitions),
			"matches":    len(results),
		}).Info("matching round complete")
	}
	return results
}

func (m *Maker) safeMatchPartition(ctx context.Context, partition string) (results []*match.MatchResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("matching: panic in %s: %v", partition, r)
		}
	}()
	return m.matchPartition(ctx, partition)
}

// candidateCount is how many requests one round pulls from a partition.
func candidateCount(t match.MatchType, rules match.ModeRules) int {
	n := 2 * rules.MaxPlayers
	if t == match.Tournament {
		n = max(n, 2*rules.BracketSize)
	}
	return n
}

func (m *Maker) matchPartition(ctx context.Context, partition string) ([]*match.MatchResult, error) {
	gameMode, matchType, ok := match.SplitPartitionKey(partition)
	if !ok {
		return nil, fmt.Errorf("matching: malformed partition %q", partition)
	}
	alg, ok := algorithms[matchType]
	if !ok {
		return nil, fmt.Errorf("matching: no algorithm for %s", matchType)
	}
	rules := m.rules.For(gameMode)

	cands, err := m.queue.GetMatchCandidates(ctx, gameMode, matchType, candidateCount(matchType, rules))
	if err != nil {
		return nil, fmt.Errorf("matching: candidates for %s: %w", partition, err)
	}
	if len(cands) < rules.MinPlayers {
		return nil, nil
	}

	var results []*match.MatchResult
	for _, group := range alg(cands, rules) {
		claimed, err := m.queue.ClaimCandidates(ctx, group)
		if errors.Is(err, match.ErrCandidateVanished) {
			m.log.WithField("partition", partition).WithError(err).Debug("group changed before claim")
			continue
		}
		if err != nil {
			return results, fmt.Errorf("matching: claim in %s: %w", partition, err)
		}

		result, err := match.NewMatchResult(claimed, QualityScore(claimed), m.ttl)
		if err != nil {
			return results, fmt.Errorf("matching: build result in %s: %w", partition, err)
		}
		m.track(result)
		m.stats.MatchFormed(partition, len(claimed), result.QualityScore, result.EstimatedWaitTime)
		m.log.WithFields(logrus.Fields{
			"match_id":  result.MatchID,
			"partition": partition,
			"players":   result.PlayerIDs(),
			"quality":   result.QualityScore,
		}).Info("match formed")

		m.forward.Forward(ctx, result)
		results = append(results, result)
	}
	return results, nil
}

func (m *Maker) track(result *match.MatchResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.sessions[result.MatchID] = &MatchingSession{
		Result:     result,
		Status:     match.ResultPending,
		CreateTime: now,
		ExpireTime: now.Add(m.ttl),
	}
}

// Finalize records the dispatch outcome of a match and forgets its session.
// It reports whether the session was known.
func (m *Maker) Finalize(matchID string, status match.ResultStatus) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[matchID]
	if !ok {
		return false
	}
	s.Status = status
	delete(m.sessions, matchID)
	return true
}

// ExpireSessions drops sessions that were never finalized by now and
// returns how many it expired.
func (m *Maker) ExpireSessions(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if now.Before(s.ExpireTime) {
			continue
		}
		s.Status = match.ResultExpired
		delete(m.sessions, id)
		n++
		m.log.WithField("match_id", id).Warn("matching session expired without outcome")
	}
	return n
}

// Session returns a copy of the open session for matchID.
func (m *Maker) Session(matchID string) (MatchingSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[matchID]
	if !ok {
		return MatchingSession{}, false
	}
	return *s, true
}

// OpenSessions is the number of sessions awaiting an outcome.
func (m *Maker) OpenSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
