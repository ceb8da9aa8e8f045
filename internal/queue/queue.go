// Package queue holds waiting match requests, partitioned by game mode and
// match type and ordered by priority.
//
// A Queue keeps an in-memory cache for fast candidate scans and mirrors every
// change into a durable Repository, which is the source of truth across
// restarts. One RWMutex guards both: scans take the read lock, every
// mutation takes the write lock.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/netwindsky/LuminaServer-sub000/internal/match"
	"github.com/netwindsky/LuminaServer-sub000/internal/metrics"
)

// Config tunes queue limits.
type Config struct {
	// PartitionCapacity caps the number of requests per partition.
	PartitionCapacity int
	// GlobalMaxWait removes any request older than this during cleanup,
	// whatever its own criteria say.
	GlobalMaxWait time.Duration
	// BoostInterval is the minimum wait before aging raises a priority.
	BoostInterval time.Duration
	// ClaimTTL bounds how long a claimed player stays marked as matched if
	// the dispatch outcome never releases it.
	ClaimTTL time.Duration
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		PartitionCapacity: 1000,
		GlobalMaxWait:     10 * time.Minute,
		BoostInterval:     time.Minute,
		ClaimTTL:          10 * time.Minute,
	}
}

// Queue is safe for concurrent use.
type Queue struct {
	mu      sync.RWMutex
	cache   *MemoryRepository
	durable Repository
	cfg     Config
	stats   metrics.Sink
	log     *logrus.Entry
	now     func() time.Time

	// pending holds stats recorded under mu, flushed by unlock.
	pending []func(metrics.Sink)
}

// New creates a queue. durable may be nil, in which case the queue lives in
// memory only.
func New(durable Repository, cfg Config, stats metrics.Sink, log *logrus.Entry) *Queue {
	def := DefaultConfig()
	if cfg.PartitionCapacity <= 0 {
		cfg.PartitionCapacity = def.PartitionCapacity
	}
	if cfg.GlobalMaxWait <= 0 {
		cfg.GlobalMaxWait = def.GlobalMaxWait
	}
	if cfg.BoostInterval <= 0 {
		cfg.BoostInterval = def.BoostInterval
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = def.ClaimTTL
	}
	if stats == nil {
		stats = metrics.Nop{}
	}
	return &Queue{
		cache:   NewMemoryRepository(),
		durable: durable,
		cfg:     cfg,
		stats:   stats,
		log:     log.WithField("component", "queue"),
		now:     time.Now,
	}
}

// SetClock replaces the time source. Tests only.
func (q *Queue) SetClock(now func() time.Time) {
	q.mu.Lock()
	q.now = now
	q.mu.Unlock()
}

// emitLocked defers a stats call until the write lock is released.
func (q *Queue) emitLocked(fn func(metrics.Sink)) {
	q.pending = append(q.pending, fn)
}

// unlock releases the write lock, then flushes the stats recorded under it.
func (q *Queue) unlock() {
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()
	for _, fn := range pending {
		fn(q.stats)
	}
}

// Config returns the effective limits.
func (q *Queue) Config() Config { return q.cfg }

func validate(op string, req *match.MatchRequest) error {
	if req == nil {
		return match.Invalid(op, "nil request")
	}
	if req.RequestID == "" {
		return match.Invalid(op, "request id is empty")
	}
	if req.PlayerID == "" {
		return match.Invalid(op, "player id is empty")
	}
	if req.GameMode == "" {
		return match.Invalid(op, "game mode is empty")
	}
	if _, ok := match.ParseMatchType(string(req.MatchType)); !ok {
		return match.Invalid(op, "unknown match type %q", req.MatchType)
	}
	return req.Criteria.Validate()
}

// Enqueue admits req in WAITING state, stamped with the current time and a
// freshly computed priority. The caller's request is updated with the
// assigned status, time and priority.
func (q *Queue) Enqueue(ctx context.Context, req *match.MatchRequest) error {
	const op = "queue.Enqueue"
	if err := validate(op, req); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.unlock()

	matched, err := q.matchedRequestIDLocked(ctx, req.PlayerID)
	if err != nil {
		return match.E(op, match.KindStoreFailure, err)
	}
	if matched != "" {
		return match.E(op, match.KindPlayerAlreadyMatched, fmt.Errorf("player %s was matched with request %s", req.PlayerID, matched))
	}

	now := q.now()
	stored := req.Clone()
	stored.RequestTime = now
	stored.Priority = 0
	if err := q.insertLocked(ctx, op, stored, now); err != nil {
		return err
	}

	req.RequestTime = stored.RequestTime
	req.Priority = stored.Priority
	req.Status = stored.Status
	q.log.WithFields(logrus.Fields{
		"request_id": stored.RequestID,
		"player_id":  stored.PlayerID,
		"partition":  stored.PartitionKey(),
		"priority":   stored.Priority,
	}).Debug("request enqueued")
	return nil
}

// Requeue puts a request back after its match fell through. The wait window
// restarts and the priority it had earned is kept as a floor. The player's
// matched mark is cleared.
func (q *Queue) Requeue(ctx context.Context, req *match.MatchRequest) error {
	const op = "queue.Requeue"
	if err := validate(op, req); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.unlock()

	if err := q.releaseLocked(ctx, req.PlayerID); err != nil {
		return match.E(op, match.KindStoreFailure, err)
	}

	now := q.now()
	stored := req.Clone()
	stored.RequestTime = now
	if err := q.insertLocked(ctx, op, stored, now); err != nil {
		return err
	}
	q.log.WithFields(logrus.Fields{
		"request_id": stored.RequestID,
		"player_id":  stored.PlayerID,
		"priority":   stored.Priority,
	}).Info("request requeued")
	return nil
}

// insertLocked runs the duplicate and capacity checks and writes req to the
// durable repository and the cache. req.Priority acts as a floor.
func (q *Queue) insertLocked(ctx context.Context, op string, req *match.MatchRequest, now time.Time) error {
	existing, err := q.activeRequestIDLocked(ctx, req.PlayerID)
	if err != nil {
		return match.E(op, match.KindStoreFailure, err)
	}
	if existing != "" {
		return match.E(op, match.KindPlayerAlreadyQueued, fmt.Errorf("player %s has request %s", req.PlayerID, existing))
	}

	partition := req.PartitionKey()
	size, err := q.sizeLocked(ctx, partition)
	if err != nil {
		return match.E(op, match.KindStoreFailure, err)
	}
	if size >= q.cfg.PartitionCapacity {
		return match.E(op, match.KindQueueFull, fmt.Errorf("partition %s holds %d requests", partition, size))
	}

	req.Status = match.StatusWaiting
	req.Priority = max(req.Priority, ComputePriority(req, now))

	if q.durable != nil {
		if err := q.durable.Put(ctx, req.Clone(), req.Criteria.MaxWaitTime); err != nil {
			return match.E(op, match.KindStoreFailure, err)
		}
	}
	_ = q.cache.Put(ctx, req, 0)

	q.emitLocked(func(s metrics.Sink) {
		s.RequestEnqueued(partition)
		s.QueueSize(partition, size+1)
	})
	return nil
}

func (q *Queue) activeRequestIDLocked(ctx context.Context, playerID string) (string, error) {
	id, _ := q.cache.ActiveRequestID(ctx, playerID)
	if id != "" || q.durable == nil {
		return id, nil
	}
	return q.durable.ActiveRequestID(ctx, playerID)
}

func (q *Queue) matchedRequestIDLocked(ctx context.Context, playerID string) (string, error) {
	id, _ := q.cache.MatchedRequestID(ctx, playerID)
	if id != "" || q.durable == nil {
		return id, nil
	}
	return q.durable.MatchedRequestID(ctx, playerID)
}

func (q *Queue) releaseLocked(ctx context.Context, playerID string) error {
	_ = q.cache.Release(ctx, playerID)
	if q.durable == nil {
		return nil
	}
	return q.durable.Release(ctx, playerID)
}

// Release clears the matched mark of each player once their dispatch has
// ended, so they may enqueue again.
func (q *Queue) Release(ctx context.Context, playerIDs ...string) error {
	q.mu.Lock()
	defer q.unlock()

	var errs []error
	for _, id := range playerIDs {
		if err := q.releaseLocked(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return match.E("queue.Release", match.KindStoreFailure, err)
	}
	return nil
}

func (q *Queue) sizeLocked(ctx context.Context, partition string) (int, error) {
	size, _ := q.cache.Size(ctx, partition)
	if q.durable == nil {
		return size, nil
	}
	durable, err := q.durable.Size(ctx, partition)
	if err != nil {
		return 0, err
	}
	return max(size, durable), nil
}

// Dequeue cancels the player's request. It reports whether a request was
// removed; dequeuing a player that is not queued is not an error.
func (q *Queue) Dequeue(ctx context.Context, playerID string) (bool, error) {
	const op = "queue.Dequeue"
	if playerID == "" {
		return false, match.Invalid(op, "player id is empty")
	}

	q.mu.Lock()
	defer q.unlock()

	req, err := q.lookupLocked(ctx, playerID)
	if err != nil {
		return false, match.E(op, match.KindStoreFailure, err)
	}
	if req == nil {
		return false, nil
	}
	req.Status = match.StatusCancelled
	if err := q.removeLocked(ctx, req, metrics.ReasonCancelled); err != nil {
		return false, match.E(op, match.KindStoreFailure, err)
	}
	q.log.WithFields(logrus.Fields{
		"request_id": req.RequestID,
		"player_id":  playerID,
	}).Debug("request cancelled")
	return true, nil
}

// lookupLocked finds the player's request in the cache, then in the durable
// repository.
func (q *Queue) lookupLocked(ctx context.Context, playerID string) (*match.MatchRequest, error) {
	if id, _ := q.cache.ActiveRequestID(ctx, playerID); id != "" {
		req, _ := q.cache.Get(ctx, id)
		if req != nil {
			return req, nil
		}
	}
	if q.durable == nil {
		return nil, nil
	}
	id, err := q.durable.ActiveRequestID(ctx, playerID)
	if err != nil || id == "" {
		return nil, err
	}
	return q.durable.Get(ctx, id)
}

// removeLocked drops req from both repositories.
func (q *Queue) removeLocked(ctx context.Context, req *match.MatchRequest, reason string) error {
	_ = q.cache.Remove(ctx, req)
	q.removedLocked(ctx, req.PartitionKey(), reason)
	if q.durable == nil {
		return nil
	}
	return q.durable.Remove(ctx, req)
}

// claimLocked drops req from both repositories and marks its player as
// matched.
func (q *Queue) claimLocked(ctx context.Context, req *match.MatchRequest) error {
	_ = q.cache.Claim(ctx, req, q.cfg.ClaimTTL)
	q.removedLocked(ctx, req.PartitionKey(), metrics.ReasonMatched)
	if q.durable == nil {
		return nil
	}
	return q.durable.Claim(ctx, req, q.cfg.ClaimTTL)
}

func (q *Queue) removedLocked(ctx context.Context, partition, reason string) {
	size, _ := q.cache.Size(ctx, partition)
	q.emitLocked(func(s metrics.Sink) {
		s.RequestRemoved(partition, reason)
		s.QueueSize(partition, size)
	})
}

// Lookup returns a copy of the player's queued request, or nil. A request
// present only in the durable repository is loaded into the cache.
func (q *Queue) Lookup(ctx context.Context, playerID string) (*match.MatchRequest, error) {
	q.mu.RLock()
	if id, _ := q.cache.ActiveRequestID(ctx, playerID); id != "" {
		if req, _ := q.cache.Get(ctx, id); req != nil {
			defer q.mu.RUnlock()
			return req.Clone(), nil
		}
	}
	q.mu.RUnlock()

	if q.durable == nil {
		return nil, nil
	}

	q.mu.Lock()
	defer q.unlock()
	req, err := q.lookupLocked(ctx, playerID)
	if err != nil {
		return nil, match.E("queue.Lookup", match.KindStoreFailure, err)
	}
	if req == nil {
		return nil, nil
	}
	if cached, _ := q.cache.Get(ctx, req.RequestID); cached == nil {
		_ = q.cache.Put(ctx, req, 0)
	}
	return req.Clone(), nil
}

// GetMatchCandidates returns up to count copies of the partition's requests
// in priority order (count <= 0 means all). Requests past their own max wait
// are skipped and expired once the read lock is released.
func (q *Queue) GetMatchCandidates(ctx context.Context, gameMode string, matchType match.MatchType, count int) ([]*match.MatchRequest, error) {
	partition := match.PartitionKey(gameMode, matchType)

	q.mu.RLock()
	now := q.now()
	reqs, _ := q.cache.Scan(ctx, partition)
	var (
		out     []*match.MatchRequest
		expired []*match.MatchRequest
	)
	for _, req := range reqs {
		if req.Age(now) > req.Criteria.MaxWaitTime {
			expired = append(expired, req)
			continue
		}
		if !req.Status.Active() {
			continue
		}
		if count > 0 && len(out) >= count {
			continue
		}
		out = append(out, req.Clone())
	}
	q.mu.RUnlock()

	if len(expired) > 0 {
		if _, err := q.expire(ctx, expired); err != nil {
			q.log.WithError(err).WithField("partition", partition).Warn("failed to evict expired requests")
		}
	}
	return out, nil
}

// expire marks reqs EXPIRED and removes them. Requests that are no longer
// cached were handled by someone else and are skipped.
func (q *Queue) expire(ctx context.Context, reqs []*match.MatchRequest) (int, error) {
	q.mu.Lock()
	defer q.unlock()
	return q.expireLocked(ctx, reqs)
}

func (q *Queue) expireLocked(ctx context.Context, reqs []*match.MatchRequest) (int, error) {
	var (
		n    int
		errs []error
	)
	for _, req := range reqs {
		cur, _ := q.cache.Get(ctx, req.RequestID)
		if cur == nil {
			continue
		}
		cur.Status = match.StatusExpired
		if err := q.removeLocked(ctx, cur, metrics.ReasonExpired); err != nil {
			errs = append(errs, err)
		}
		n++
		q.log.WithFields(logrus.Fields{
			"request_id": cur.RequestID,
			"player_id":  cur.PlayerID,
		}).Info("request expired")
	}
	return n, errors.Join(errs...)
}

// RemoveCandidates removes matched requests from the queue. Requests that
// are already gone are ignored.
func (q *Queue) RemoveCandidates(ctx context.Context, reqs []*match.MatchRequest) error {
	q.mu.Lock()
	defer q.unlock()

	var errs []error
	for _, req := range reqs {
		cur, _ := q.cache.Get(ctx, req.RequestID)
		if cur == nil {
			continue
		}
		cur.Status = match.StatusMatched
		if err := q.removeLocked(ctx, cur, metrics.ReasonMatched); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return match.E("queue.RemoveCandidates", match.KindStoreFailure, err)
	}
	return nil
}

// ClaimCandidates atomically takes reqs out of the queue for a match. Every
// request must still be queued and active; if any has been cancelled,
// expired or claimed meanwhile, nothing is taken and ErrCandidateVanished is
// returned. Claimed requests are returned as MATCHED copies and their players
// are refused by Enqueue until Release or Requeue.
func (q *Queue) ClaimCandidates(ctx context.Context, reqs []*match.MatchRequest) ([]*match.MatchRequest, error) {
	const op = "queue.ClaimCandidates"
	q.mu.Lock()
	defer q.unlock()

	current := make([]*match.MatchRequest, 0, len(reqs))
	for _, req := range reqs {
		cur, _ := q.cache.Get(ctx, req.RequestID)
		if cur == nil || !cur.Status.Active() {
			return nil, match.E(op, match.KindCandidateVanished, fmt.Errorf("request %s of player %s", req.RequestID, req.PlayerID))
		}
		current = append(current, cur)
	}

	claimed := make([]*match.MatchRequest, 0, len(current))
	for _, cur := range current {
		cur.Status = match.StatusMatched
		if err := q.claimLocked(ctx, cur); err != nil {
			// The cache no longer holds the request; the durable copy expires
			// on its own ttl.
			q.log.WithError(err).WithField("request_id", cur.RequestID).Warn("failed to remove claimed request from store")
		}
		claimed = append(claimed, cur.Clone())
	}
	return claimed, nil
}

// UpdateQueuePriorities ages every request that has waited longer than the
// boost interval. Priorities never decrease. It returns how many changed.
func (q *Queue) UpdateQueuePriorities(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.unlock()

	now := q.now()
	partitions, _ := q.cache.Partitions(ctx)
	var (
		updated int
		errs    []error
	)
	for _, partition := range partitions {
		reqs, _ := q.cache.Scan(ctx, partition)
		changed := false
		for _, req := range reqs {
			if req.Age(now) <= q.cfg.BoostInterval {
				continue
			}
			p := max(req.Priority, ComputePriority(req, now))
			if p == req.Priority {
				continue
			}
			req.Priority = p
			changed = true
			updated++
			if q.durable == nil {
				continue
			}
			ttl := req.Criteria.MaxWaitTime - req.Age(now)
			if ttl <= 0 {
				continue
			}
			if err := q.durable.Put(ctx, req.Clone(), ttl); err != nil {
				errs = append(errs, err)
			}
		}
		if changed {
			q.cache.Resort(partition)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return updated, match.E("queue.UpdateQueuePriorities", match.KindStoreFailure, err)
	}
	return updated, nil
}

func (q *Queue) overdue(req *match.MatchRequest, now time.Time) bool {
	age := req.Age(now)
	return age > q.cfg.GlobalMaxWait || age > req.Criteria.MaxWaitTime
}

// CleanupExpiredRequests expires every request older than the global max
// wait or its own max wait, freeing the player's slot. Durable-only
// entries are swept too. It returns how many requests were removed.
func (q *Queue) CleanupExpiredRequests(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.unlock()

	now := q.now()
	var stale []*match.MatchRequest
	partitions, _ := q.cache.Partitions(ctx)
	for _, partition := range partitions {
		reqs, _ := q.cache.Scan(ctx, partition)
		for _, req := range reqs {
			if q.overdue(req, now) {
				stale = append(stale, req)
			}
		}
	}
	removed, err := q.expireLocked(ctx, stale)
	if err != nil {
		return removed, match.E("queue.CleanupExpiredRequests", match.KindStoreFailure, err)
	}

	if q.durable == nil {
		return removed, nil
	}
	partitions, err = q.durable.Partitions(ctx)
	if err != nil {
		return removed, match.E("queue.CleanupExpiredRequests", match.KindStoreFailure, err)
	}
	var errs []error
	for _, partition := range partitions {
		reqs, err := q.durable.Scan(ctx, partition)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, req := range reqs {
			if cached, _ := q.cache.Get(ctx, req.RequestID); cached != nil || !q.overdue(req, now) {
				continue
			}
			if err := q.durable.Remove(ctx, req); err != nil {
				errs = append(errs, err)
				continue
			}
			q.emitLocked(func(s metrics.Sink) { s.RequestRemoved(partition, metrics.ReasonCleanup) })
			removed++
		}
	}
	if err := errors.Join(errs...); err != nil {
		return removed, match.E("queue.CleanupExpiredRequests", match.KindStoreFailure, err)
	}
	if removed > 0 {
		q.log.WithField("removed", removed).Info("expired requests cleaned up")
	}
	return removed, nil
}

// Restore loads the durable repository into the cache. Overdue requests are
// dropped instead. It returns the number of requests restored.
func (q *Queue) Restore(ctx context.Context) (int, error) {
	const op = "queue.Restore"
	if q.durable == nil {
		return 0, nil
	}

	q.mu.Lock()
	defer q.unlock()

	partitions, err := q.durable.Partitions(ctx)
	if err != nil {
		return 0, match.E(op, match.KindStoreFailure, err)
	}
	now := q.now()
	restored := 0
	for _, partition := range partitions {
		reqs, err := q.durable.Scan(ctx, partition)
		if err != nil {
			return restored, match.E(op, match.KindStoreFailure, err)
		}
		for _, req := range reqs {
			if !req.Status.Active() || q.overdue(req, now) {
				if err := q.durable.Remove(ctx, req); err != nil {
					return restored, match.E(op, match.KindStoreFailure, err)
				}
				continue
			}
			_ = q.cache.Put(ctx, req, 0)
			restored++
		}
		size, _ := q.cache.Size(ctx, partition)
		q.emitLocked(func(s metrics.Sink) { s.QueueSize(partition, size) })
	}
	q.log.WithFields(logrus.Fields{
		"partitions": len(partitions),
		"requests":   restored,
	}).Info("queue restored")
	return restored, nil
}

// Partitions lists the non-empty partitions.
func (q *Queue) Partitions(ctx context.Context) []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	keys, _ := q.cache.Partitions(ctx)
	return keys
}

// Size is the number of requests waiting in one partition.
func (q *Queue) Size(ctx context.Context, gameMode string, matchType match.MatchType) int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	n, _ := q.cache.Size(ctx, match.PartitionKey(gameMode, matchType))
	return n
}

// Len is the total number of waiting requests.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.cache.Len()
}
