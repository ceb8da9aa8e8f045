package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/netwindsky/LuminaServer-sub000/internal/match"
)

// Repository stores match requests partitioned by "gameMode:matchType".
// The queue keeps two of them: an in-memory cache and a store-backed copy
// that is the source of truth across restarts.
type Repository interface {
	// Get returns the request with id, or nil if it is not stored.
	Get(ctx context.Context, requestID string) (*match.MatchRequest, error)
	// ActiveRequestID returns the id of the player's queued request, or "".
	ActiveRequestID(ctx context.Context, playerID string) (string, error)
	Put(ctx context.Context, req *match.MatchRequest, ttl time.Duration) error
	Remove(ctx context.Context, req *match.MatchRequest) error
	// Claim removes req for a match and marks its player as matched for ttl.
	Claim(ctx context.Context, req *match.MatchRequest, ttl time.Duration) error
	// MatchedRequestID returns the id of the player's claimed request, or "".
	MatchedRequestID(ctx context.Context, playerID string) (string, error)
	// Release clears the player's matched mark.
	Release(ctx context.Context, playerID string) error
	// Scan returns a partition in priority order.
	Scan(ctx context.Context, partition string) ([]*match.MatchRequest, error)
	Partitions(ctx context.Context) ([]string, error)
	Size(ctx context.Context, partition string) (int, error)
}

// higherPriority orders by priority (high first), then request time (oldest
// first), then id for determinism.
func higherPriority(a, b *match.MatchRequest) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.RequestTime.Equal(b.RequestTime) {
		return a.RequestTime.Before(b.RequestTime)
	}
	return a.RequestID < b.RequestID
}

func sortByPriority(reqs []*match.MatchRequest) {
	sort.SliceStable(reqs, func(i, j int) bool { return higherPriority(reqs[i], reqs[j]) })
}

// MemoryRepository keeps partitions as priority-sorted slices.
type MemoryRepository struct {
	mu         sync.RWMutex
	requests   map[string]*match.MatchRequest
	players    map[string]string
	partitions map[string][]*match.MatchRequest
	matched    map[string]claimMark
}

type claimMark struct {
	requestID string
	until     time.Time // zero: no expiry
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		requests:   make(map[string]*match.MatchRequest),
		players:    make(map[string]string),
		partitions: make(map[string][]*match.MatchRequest),
		matched:    make(map[string]claimMark),
	}
}

func (m *MemoryRepository) Get(_ context.Context, requestID string) (*match.MatchRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests[requestID], nil
}

func (m *MemoryRepository) ActiveRequestID(_ context.Context, playerID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.players[playerID], nil
}

// Put inserts or replaces req. The ttl is not enforced in memory; the queue
// evicts by age.
func (m *MemoryRepository) Put(_ context.Context, req *match.MatchRequest, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := req.PartitionKey()
	if old, ok := m.requests[req.RequestID]; ok {
		m.removeLocked(old)
	}
	m.requests[req.RequestID] = req
	m.players[req.PlayerID] = req.RequestID

	part := m.partitions[key]
	i := sort.Search(len(part), func(i int) bool { return higherPriority(req, part[i]) })
	part = append(part, nil)
	copy(part[i+1:], part[i:])
	part[i] = req
	m.partitions[key] = part
	return nil
}

func (m *MemoryRepository) Remove(_ context.Context, req *match.MatchRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.requests[req.RequestID]; ok {
		m.removeLocked(cur)
	}
	return nil
}

func (m *MemoryRepository) Claim(_ context.Context, req *match.MatchRequest, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.requests[req.RequestID]; ok {
		m.removeLocked(cur)
	}
	mark := claimMark{requestID: req.RequestID}
	if ttl > 0 {
		mark.until = time.Now().Add(ttl)
	}
	m.matched[req.PlayerID] = mark
	return nil
}

func (m *MemoryRepository) MatchedRequestID(_ context.Context, playerID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mark, ok := m.matched[playerID]
	if !ok || (!mark.until.IsZero() && !time.Now().Before(mark.until)) {
		return "", nil
	}
	return mark.requestID, nil
}

func (m *MemoryRepository) Release(_ context.Context, playerID string) error {
	m.mu.Lock()
	delete(m.matched, playerID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryRepository) removeLocked(req *match.MatchRequest) {
	delete(m.requests, req.RequestID)
	if m.players[req.PlayerID] == req.RequestID {
		delete(m.players, req.PlayerID)
	}
	key := req.PartitionKey()
	part := m.partitions[key]
	for i, r := range part {
		if r.RequestID == req.RequestID {
			part = append(part[:i], part[i+1:]...)
			break
		}
	}
	if len(part) == 0 {
		delete(m.partitions, key)
		return
	}
	m.partitions[key] = part
}

// Scan returns a copy of the partition slice; the requests are shared.
func (m *MemoryRepository) Scan(_ context.Context, partition string) ([]*match.MatchRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	part := m.partitions[partition]
	out := make([]*match.MatchRequest, len(part))
	copy(out, part)
	return out, nil
}

func (m *MemoryRepository) Partitions(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.partitions))
	for k := range m.partitions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryRepository) Size(_ context.Context, partition string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.partitions[partition]), nil
}

// Resort restores priority order after priorities were changed in place.
func (m *MemoryRepository) Resort(partition string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sortByPriority(m.partitions[partition])
}

// Len is the total number of stored requests.
func (m *MemoryRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}
