package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

type memEntry struct {
	value    string
	set      map[string]struct{}
	expireAt time.Time // zero: no expiry
}

// Memory is an in-process KV with the same expiry semantics as Redis.
type Memory struct {
	mu   sync.Mutex
	data map[string]*memEntry
	now  func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]*memEntry), now: time.Now}
}

// SetClock replaces the time source, which lets tests expire keys without
// sleeping.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Keys returns the live keys in sorted order.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if m.live(k) != nil {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// live returns the entry for key, evicting it if expired. Caller holds mu.
func (m *Memory) live(key string) *memEntry {
	e, ok := m.data[key]
	if !ok {
		return nil
	}
	if !e.expireAt.IsZero() && !m.now().Before(e.expireAt) {
		delete(m.data, key)
		return nil
	}
	return e
}

func (m *Memory) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil || e.set != nil {
		return "", ErrNotFound
	}
	return e.value, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(key, value, ttl)
	return nil
}

func (m *Memory) set(key, value string, ttl time.Duration) {
	m.data[key] = &memEntry{value: value, expireAt: m.deadline(ttl)}
}

func (m *Memory) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live(key) != nil {
		return false, nil
	}
	m.data[key] = &memEntry{value: value, expireAt: m.deadline(ttl)}
	return true, nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *Memory) Exists(_ context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if m.live(k) != nil {
			n++
		}
	}
	return n, nil
}

func (m *Memory) SAdd(_ context.Context, key string, ttl time.Duration, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sadd(key, ttl, members)
	return nil
}

func (m *Memory) sadd(key string, ttl time.Duration, members []string) {
	if len(members) == 0 {
		return
	}
	e := m.live(key)
	if e == nil || e.set == nil {
		e = &memEntry{set: make(map[string]struct{})}
		m.data[key] = e
	}
	for _, mem := range members {
		e.set[mem] = struct{}{}
	}
	if ttl > 0 {
		e.expireAt = m.deadline(ttl)
	}
}

func (m *Memory) SRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.srem(key, members)
	return nil
}

func (m *Memory) srem(key string, members []string) {
	e := m.live(key)
	if e == nil || e.set == nil {
		return
	}
	for _, mem := range members {
		delete(e.set, mem)
	}
	if len(e.set) == 0 {
		delete(m.data, key)
	}
}

func (m *Memory) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil || e.set == nil {
		return []string{}, nil
	}
	out := make([]string, 0, len(e.set))
	for mem := range e.set {
		out = append(out, mem)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil {
		e = &memEntry{value: "0", expireAt: m.deadline(ttl)}
		m.data[key] = e
	}
	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, err
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	return n, nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.live(key); e != nil {
		e.expireAt = m.deadline(ttl)
	}
	return nil
}

func (m *Memory) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil {
		return 0, ErrNotFound
	}
	if e.expireAt.IsZero() {
		return 0, nil
	}
	return e.expireAt.Sub(m.now()), nil
}

// Atomic applies the queued writes while holding the store lock, so no
// reader sees part of them.
func (m *Memory) Atomic(_ context.Context, fn func(b Batch)) error {
	b := &memBatch{}
	fn(b)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range b.ops {
		op(m)
	}
	return nil
}

type memBatch struct {
	ops []func(m *Memory)
}

func (b *memBatch) Set(key, value string, ttl time.Duration) {
	b.ops = append(b.ops, func(m *Memory) { m.set(key, value, ttl) })
}

func (b *memBatch) Del(keys ...string) {
	b.ops = append(b.ops, func(m *Memory) {
		for _, k := range keys {
			delete(m.data, k)
		}
	})
}

func (b *memBatch) DelIfEquals(key, value string) {
	b.ops = append(b.ops, func(m *Memory) {
		if e := m.live(key); e != nil && e.set == nil && e.value == value {
			delete(m.data, key)
		}
	})
}

func (b *memBatch) SAdd(key string, ttl time.Duration, members ...string) {
	b.ops = append(b.ops, func(m *Memory) { m.sadd(key, ttl, members) })
}

func (b *memBatch) SRem(key string, members ...string) {
	b.ops = append(b.ops, func(m *Memory) { m.srem(key, members) })
}
