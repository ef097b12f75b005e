// Package store defines the counting store the classifier keeps its word and
// category tallies in, plus a registry of named backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrUnavailable marks backend connectivity and timeout faults.
	ErrUnavailable = errors.New("store unavailable")
	// ErrConfiguration marks missing or invalid construction parameters.
	ErrConfiguration = errors.New("invalid store configuration")
)

// CountingStore holds integer counters grouped into named collections.
// Implementations must be safe for concurrent use, and Increment must never
// lose an update made concurrently to the same key.
type CountingStore interface {
	// Increment adds delta to the counter, creating it at zero first.
	Increment(ctx context.Context, collection, key string, delta int64) (int64, error)
	Exists(ctx context.Context, collection, key string) (bool, error)
	// Get reports the counter value and whether it exists.
	Get(ctx context.Context, collection, key string) (int64, bool, error)
	// MultiGet reads many counters at once. Absent keys are left out of the map.
	MultiGet(ctx context.Context, collection string, keys []string) (map[string]int64, error)
	// Keys lists the members of a collection.
	Keys(ctx context.Context, collection string) ([]string, error)
	Len(ctx context.Context, collection string) (int64, error)
	// Remove deletes a counter and returns how many were removed (0 or 1).
	Remove(ctx context.Context, collection, key string) (int64, error)
	// Drop deletes whole collections.
	Drop(ctx context.Context, collections ...string) error
	Close() error
}

// Delta is one counter adjustment.
type Delta struct {
	Collection string
	Key        string
	By         int64
}

// MultiIncrementer is implemented by backends that can apply several deltas
// in one round trip. Deltas are applied best-effort; a fault part way through
// may leave earlier deltas applied.
type MultiIncrementer interface {
	IncrementMany(ctx context.Context, deltas []Delta) error
}

// ApplyDeltas applies deltas through IncrementMany when the store supports
// it and falls back to one Increment per delta otherwise.
func ApplyDeltas(ctx context.Context, s CountingStore, deltas []Delta) error {
	if len(deltas) == 0 {
		return nil
	}
	if m, ok := s.(MultiIncrementer); ok {
		return m.IncrementMany(ctx, deltas)
	}
	for _, d := range deltas {
		if _, err := s.Increment(ctx, d.Collection, d.Key, d.By); err != nil {
			return err
		}
	}
	return nil
}

// UnavailableError wraps a backend fault. It matches ErrUnavailable.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("store unavailable: %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrUnavailable.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

// Unavailable wraps err as an UnavailableError for op. A nil err stays nil.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &UnavailableError{Op: op, Err: err}
}

// Options selects and configures a backend.
type Options struct {
	Backend string // registered backend name, e.g. "memory", "redis", "bolt"
	URL     string // connection URL for network backends
	Path    string // file path for embedded backends
}

// Opener constructs a backend from options.
type Opener func(ctx context.Context, opts Options) (CountingStore, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Opener)
)

// Register makes a backend available to Open under name. It panics on a
// duplicate or empty name.
func Register(name string, opener Opener) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if name == "" || opener == nil {
		panic("store: Register requires a name and an opener")
	}
	if _, dup := registry[name]; dup {
		panic("store: Register called twice for backend " + name)
	}
	registry[name] = opener
}

// Backends returns the registered backend names in sorted order.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open constructs the backend named by opts.Backend.
func Open(ctx context.Context, opts Options) (CountingStore, error) {
	if opts.Backend == "" {
		return nil, fmt.Errorf("%w: backend is required", ErrConfiguration)
	}

	registryMu.RLock()
	opener, ok := registry[opts.Backend]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown backend %q (registered: %v)", ErrConfiguration, opts.Backend, Backends())
	}

	return opener(ctx, opts)
}
