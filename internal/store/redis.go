package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis implements KV on a go-redis client.
type Redis struct {
	rdb *redis.Client
}

// NewRedis wraps an existing client.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

// Connect dials addr/db and verifies the connection with a ping.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("store: redis connection to %s failed: %w", addr, err)
	}
	return rdb, nil
}

// Client exposes the underlying client for packages that need hashes.
func (r *Redis) Client() *redis.Client {
	return r.rdb
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.rdb.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.rdb.SetNX(ctx, key, value, ttl).Result()
}

func (r *Redis) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.rdb.Del(ctx, keys...).Err()
}

func (r *Redis) Exists(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return r.rdb.Exists(ctx, keys...).Result()
}

func members(ms []string) []interface{} {
	args := make([]interface{}, len(ms))
	for i, m := range ms {
		args[i] = m
	}
	return args
}

func (r *Redis) SAdd(ctx context.Context, key string, ttl time.Duration, ms ...string) error {
	if len(ms) == 0 {
		return nil
	}
	pipe := r.rdb.Pipeline()
	pipe.SAdd(ctx, key, members(ms)...)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) SRem(ctx context.Context, key string, ms ...string) error {
	if len(ms) == 0 {
		return nil
	}
	return r.rdb.SRem(ctx, key, members(ms)...).Err()
}

func (r *Redis) SMembers(ctx context.Context, key string) ([]string, error) {
	return r.rdb.SMembers(ctx, key).Result()
}

func (r *Redis) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	// Set the expiry only on creation so the window does not slide.
	if count == 1 && ttl > 0 {
		if err := r.rdb.Expire(ctx, key, ttl).Err(); err != nil {
			r.rdb.Del(ctx, key)
			return 0, err
		}
	}
	return count, nil
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.rdb.Expire(ctx, key, ttl).Err()
}

func (r *Redis) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := r.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	// -2: missing key, -1: no expiry.
	if d == -2 || d == -2*time.Second {
		return 0, ErrNotFound
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

var delIfEquals = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// Atomic sends the queued writes as one MULTI/EXEC transaction.
func (r *Redis) Atomic(ctx context.Context, fn func(b Batch)) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		fn(redisBatch{ctx: ctx, pipe: pipe})
		return nil
	})
	return err
}

type redisBatch struct {
	ctx  context.Context
	pipe redis.Pipeliner
}

func (b redisBatch) Set(key, value string, ttl time.Duration) {
	b.pipe.Set(b.ctx, key, value, ttl)
}

func (b redisBatch) Del(keys ...string) {
	if len(keys) > 0 {
		b.pipe.Del(b.ctx, keys...)
	}
}

func (b redisBatch) DelIfEquals(key, value string) {
	delIfEquals.Eval(b.ctx, b.pipe, []string{key}, value)
}

func (b redisBatch) SAdd(key string, ttl time.Duration, ms ...string) {
	if len(ms) == 0 {
		return
	}
	b.pipe.SAdd(b.ctx, key, members(ms)...)
	if ttl > 0 {
		b.pipe.Expire(b.ctx, key, ttl)
	}
}

func (b redisBatch) SRem(key string, ms ...string) {
	if len(ms) > 0 {
		b.pipe.SRem(b.ctx, key, members(ms)...)
	}
}
