// Package memory is an in-process counting store. Data lives only as long as
// the process; use it for tests and single-node deployments that export
// snapshots.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/hickeroar/storebayes/store"
)

// BackendName is the name the backend registers under.
const BackendName = "memory"

func init() {
	store.Register(BackendName, func(context.Context, store.Options) (store.CountingStore, error) {
		return New(), nil
	})
}

type collection struct {
	values map[string]int64
	order  []string
}

// Store keeps counters in maps guarded by a single mutex. Keys are listed in
// the order they were first created.
type Store struct {
	mu          sync.Mutex
	collections map[string]*collection
}

var (
	_ store.CountingStore    = (*Store)(nil)
	_ store.MultiIncrementer = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{collections: make(map[string]*collection)}
}

func (s *Store) collection(name string, create bool) *collection {
	c, ok := s.collections[name]
	if !ok && create {
		c = &collection{values: make(map[string]int64)}
		s.collections[name] = c
	}
	return c
}

func (s *Store) incrementLocked(name, key string, delta int64) int64 {
	c := s.collection(name, true)
	v, ok := c.values[key]
	if !ok {
		c.order = append(c.order, key)
	}
	v += delta
	c.values[key] = v
	return v
}

// Increment adds delta to a counter.
func (s *Store) Increment(_ context.Context, name, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incrementLocked(name, key, delta), nil
}

// IncrementMany applies all deltas under one lock.
func (s *Store) IncrementMany(_ context.Context, deltas []store.Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range deltas {
		s.incrementLocked(d.Collection, d.Key, d.By)
	}
	return nil
}

// Exists reports whether a counter exists.
func (s *Store) Exists(_ context.Context, name, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collection(name, false)
	if c == nil {
		return false, nil
	}
	_, ok := c.values[key]
	return ok, nil
}

// Get returns a counter value.
func (s *Store) Get(_ context.Context, name, key string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collection(name, false)
	if c == nil {
		return 0, false, nil
	}
	v, ok := c.values[key]
	return v, ok, nil
}

// MultiGet returns the values of the keys that exist.
func (s *Store) MultiGet(_ context.Context, name string, keys []string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(keys))
	c := s.collection(name, false)
	if c == nil {
		return out, nil
	}
	for _, key := range keys {
		if v, ok := c.values[key]; ok {
			out[key] = v
		}
	}
	return out, nil
}

// Keys lists the keys of a collection in creation order.
func (s *Store) Keys(_ context.Context, name string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collection(name, false)
	if c == nil {
		return []string{}, nil
	}
	return slices.Clone(c.order), nil
}

// Len returns the number of keys in a collection.
func (s *Store) Len(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collection(name, false)
	if c == nil {
		return 0, nil
	}
	return int64(len(c.values)), nil
}

// Remove deletes a key.
func (s *Store) Remove(_ context.Context, name, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collection(name, false)
	if c == nil {
		return 0, nil
	}
	if _, ok := c.values[key]; !ok {
		return 0, nil
	}
	delete(c.values, key)
	c.order = slices.DeleteFunc(c.order, func(k string) bool { return k == key })
	return 1, nil
}

// Drop deletes collections.
func (s *Store) Drop(_ context.Context, names ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		delete(s.collections, name)
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
