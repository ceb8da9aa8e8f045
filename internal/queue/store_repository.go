package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/netwindsky/LuminaServer-sub000/internal/match"
	"github.com/netwindsky/LuminaServer-sub000/internal/store"
)

const (
	keyPartitions    = store.PrefixQueue + "partitions"
	keyPlayerPrefix  = store.PrefixQueue + "player:"
	keyMatchedPrefix = store.PrefixQueue + "matched:"
)

// StoreRepository persists requests in a store.KV:
//
//	request:<id>               JSON request, ttl = request max wait
//	queue:<gameMode:matchType> set of request ids
//	queue:player:<playerId>    request id (duplicate-enqueue guard)
//	queue:matched:<playerId>   claimed request id, until the dispatch ends
//	queue:partitions           set of partition keys
//
// Every write goes out as one store transaction.
type StoreRepository struct {
	kv store.KV
	// setTTL bounds the life of the partition sets, which hold members with
	// differing request ttls.
	setTTL time.Duration
}

// NewStoreRepository persists into kv; setTTL should be the global max wait.
func NewStoreRepository(kv store.KV, setTTL time.Duration) *StoreRepository {
	return &StoreRepository{kv: kv, setTTL: setTTL}
}

func requestKey(id string) string          { return store.PrefixRequest + id }
func partitionKey(partition string) string { return store.PrefixQueue + partition }

func (s *StoreRepository) Get(ctx context.Context, requestID string) (*match.MatchRequest, error) {
	raw, err := s.kv.Get(ctx, requestKey(requestID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: get request %s: %w", requestID, err)
	}
	var req match.MatchRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return nil, fmt.Errorf("queue: decode request %s: %w", requestID, err)
	}
	return &req, nil
}

func (s *StoreRepository) ActiveRequestID(ctx context.Context, playerID string) (string, error) {
	id, err := s.kv.Get(ctx, keyPlayerPrefix+playerID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("queue: get player %s: %w", playerID, err)
	}
	// The player key can outlive its request only if a write was lost;
	// treat the slot as free in that case.
	req, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if req == nil || !req.Status.Active() {
		return "", nil
	}
	return id, nil
}

func (s *StoreRepository) Put(ctx context.Context, req *match.MatchRequest, ttl time.Duration) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("queue: encode request %s: %w", req.RequestID, err)
	}
	partition := req.PartitionKey()
	err = s.kv.Atomic(ctx, func(b store.Batch) {
		b.Set(requestKey(req.RequestID), string(data), ttl)
		b.Set(keyPlayerPrefix+req.PlayerID, req.RequestID, ttl)
		b.SAdd(partitionKey(partition), s.setTTL, req.RequestID)
		b.SAdd(keyPartitions, s.setTTL, partition)
	})
	if err != nil {
		return fmt.Errorf("queue: put request %s: %w", req.RequestID, err)
	}
	return nil
}

// drop queues the removal of req. The player key is only deleted while it
// still points at req, so a newer request of the same player survives.
func drop(b store.Batch, req *match.MatchRequest) {
	b.SRem(partitionKey(req.PartitionKey()), req.RequestID)
	b.Del(requestKey(req.RequestID))
	b.DelIfEquals(keyPlayerPrefix+req.PlayerID, req.RequestID)
}

func (s *StoreRepository) Remove(ctx context.Context, req *match.MatchRequest) error {
	if err := s.kv.Atomic(ctx, func(b store.Batch) { drop(b, req) }); err != nil {
		return fmt.Errorf("queue: remove request %s: %w", req.RequestID, err)
	}
	return nil
}

func (s *StoreRepository) Claim(ctx context.Context, req *match.MatchRequest, ttl time.Duration) error {
	err := s.kv.Atomic(ctx, func(b store.Batch) {
		drop(b, req)
		b.Set(keyMatchedPrefix+req.PlayerID, req.RequestID, ttl)
	})
	if err != nil {
		return fmt.Errorf("queue: claim request %s: %w", req.RequestID, err)
	}
	return nil
}

func (s *StoreRepository) MatchedRequestID(ctx context.Context, playerID string) (string, error) {
	id, err := s.kv.Get(ctx, keyMatchedPrefix+playerID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("queue: get matched %s: %w", playerID, err)
	}
	return id, nil
}

func (s *StoreRepository) Release(ctx context.Context, playerID string) error {
	if err := s.kv.Del(ctx, keyMatchedPrefix+playerID); err != nil {
		return fmt.Errorf("queue: release %s: %w", playerID, err)
	}
	return nil
}

// Scan loads every member of the partition. Members whose request key has
// expired are pruned from the set as a side effect.
func (s *StoreRepository) Scan(ctx context.Context, partition string) ([]*match.MatchRequest, error) {
	ids, err := s.kv.SMembers(ctx, partitionKey(partition))
	if err != nil {
		return nil, fmt.Errorf("queue: scan %s: %w", partition, err)
	}

	reqs := make([]*match.MatchRequest, 0, len(ids))
	var stale []string
	for _, id := range ids {
		req, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if req == nil {
			stale = append(stale, id)
			continue
		}
		reqs = append(reqs, req)
	}
	if len(stale) > 0 {
		if err := s.kv.SRem(ctx, partitionKey(partition), stale...); err != nil {
			return nil, fmt.Errorf("queue: prune %s: %w", partition, err)
		}
	}
	sortByPriority(reqs)
	return reqs, nil
}

func (s *StoreRepository) Partitions(ctx context.Context) ([]string, error) {
	keys, err := s.kv.SMembers(ctx, keyPartitions)
	if err != nil {
		return nil, fmt.Errorf("queue: list partitions: %w", err)
	}
	return keys, nil
}

// Size counts the members whose request key is still live.
func (s *StoreRepository) Size(ctx context.Context, partition string) (int, error) {
	ids, err := s.kv.SMembers(ctx, partitionKey(partition))
	if err != nil {
		return 0, fmt.Errorf("queue: size %s: %w", partition, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = requestKey(id)
	}
	n, err := s.kv.Exists(ctx, keys...)
	if err != nil {
		return 0, fmt.Errorf("queue: size %s: %w", partition, err)
	}
	return int(n), nil
}
