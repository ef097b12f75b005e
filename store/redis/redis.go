// Package redis implements the counting store on Redis hashes: one hash per
// collection, one field per counter. Counters move with HINCRBY, so
// concurrent increments from any number of processes never lose updates.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hickeroar/storebayes/store"
)

// BackendName is the name the backend registers under.
const BackendName = "redis"

func init() {
	store.Register(BackendName, func(ctx context.Context, opts store.Options) (store.CountingStore, error) {
		s, err := Open(ctx, opts.URL)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

// Store is a Redis-backed counting store.
type Store struct {
	rdb     *goredis.Client
	breaker *CircuitBreakerHook
}

var (
	_ store.CountingStore    = (*Store)(nil)
	_ store.MultiIncrementer = (*Store)(nil)
)

// Open connects to the Redis server at redisURL (e.g. "redis://localhost:6379/0")
// and verifies the connection.
func Open(ctx context.Context, redisURL string) (*Store, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("%w: redis URL is required", store.ErrConfiguration)
	}
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse redis URL: %v", store.ErrConfiguration, err)
	}

	s := New(goredis.NewClient(opts))
	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing client and installs the metrics and circuit breaker
// hooks on it.
func New(rdb *goredis.Client) *Store {
	breaker := NewCircuitBreakerHook()
	rdb.AddHook(&MetricsHook{})
	rdb.AddHook(breaker)
	return &Store{rdb: rdb, breaker: breaker}
}

// Ping verifies the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return store.Unavailable("ping", s.rdb.Ping(ctx).Err())
}

// Breaker exposes the circuit breaker hook for monitoring.
func (s *Store) Breaker() *CircuitBreakerHook {
	return s.breaker
}

// Increment runs HINCRBY.
func (s *Store) Increment(ctx context.Context, collection, key string, delta int64) (int64, error) {
	v, err := s.rdb.HIncrBy(ctx, collection, key, delta).Result()
	if err != nil {
		return 0, store.Unavailable("hincrby", err)
	}
	return v, nil
}

// IncrementMany sends one HINCRBY per delta in a single non-transactional
// pipeline.
func (s *Store) IncrementMany(ctx context.Context, deltas []store.Delta) error {
	if len(deltas) == 0 {
		return nil
	}
	pipe := s.rdb.Pipeline()
	for _, d := range deltas {
		pipe.HIncrBy(ctx, d.Collection, d.Key, d.By)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return store.Unavailable("pipeline hincrby", err)
	}
	return nil
}

// Exists runs HEXISTS.
func (s *Store) Exists(ctx context.Context, collection, key string) (bool, error) {
	ok, err := s.rdb.HExists(ctx, collection, key).Result()
	if err != nil {
		return false, store.Unavailable("hexists", err)
	}
	return ok, nil
}

// Get runs HGET.
func (s *Store) Get(ctx context.Context, collection, key string) (int64, bool, error) {
	raw, err := s.rdb.HGet(ctx, collection, key).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, store.Unavailable("hget", err)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse counter %s/%s: %w", collection, key, err)
	}
	return v, true, nil
}

// MultiGet runs a single HMGET for all keys.
func (s *Store) MultiGet(ctx context.Context, collection string, keys []string) (map[string]int64, error) {
	out := make(map[string]int64, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	values, err := s.rdb.HMGet(ctx, collection, keys...).Result()
	if err != nil {
		return nil, store.Unavailable("hmget", err)
	}

	for i, raw := range values {
		if raw == nil {
			continue
		}
		str, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected hmget value type %T for %s/%s", raw, collection, keys[i])
		}
		v, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse counter %s/%s: %w", collection, keys[i], err)
		}
		out[keys[i]] = v
	}
	return out, nil
}

// Keys runs HKEYS.
func (s *Store) Keys(ctx context.Context, collection string) ([]string, error) {
	keys, err := s.rdb.HKeys(ctx, collection).Result()
	if err != nil {
		return nil, store.Unavailable("hkeys", err)
	}
	return keys, nil
}

// Len runs HLEN.
func (s *Store) Len(ctx context.Context, collection string) (int64, error) {
	n, err := s.rdb.HLen(ctx, collection).Result()
	if err != nil {
		return 0, store.Unavailable("hlen", err)
	}
	return n, nil
}

// Remove runs HDEL.
func (s *Store) Remove(ctx context.Context, collection, key string) (int64, error) {
	n, err := s.rdb.HDel(ctx, collection, key).Result()
	if err != nil {
		return 0, store.Unavailable("hdel", err)
	}
	return n, nil
}

// Drop deletes the hashes backing the collections.
func (s *Store) Drop(ctx context.Context, collections ...string) error {
	if len(collections) == 0 {
		return nil
	}
	return store.Unavailable("del", s.rdb.Del(ctx, collections...).Err())
}

// Close closes the Redis connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}
