// Package bolt implements the counting store on an embedded bbolt file: one
// bucket per collection, counters stored as decimal strings. bbolt allows a
// single writer at a time, so increments are serialized by the write lock.
package bolt

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hickeroar/storebayes/store"
)

// BackendName is the name the backend registers under.
const BackendName = "bolt"

var errCorruptCounter = errors.New("corrupt counter value")

func init() {
	store.Register(BackendName, func(_ context.Context, opts store.Options) (store.CountingStore, error) {
		s, err := Open(opts.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

// Store is a bbolt-backed counting store.
type Store struct {
	db *bolt.DB
}

var (
	_ store.CountingStore    = (*Store)(nil)
	_ store.MultiIncrementer = (*Store)(nil)
)

// Open opens or creates the database file at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: bolt path is required", store.ErrConfiguration)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, store.Unavailable("open", err)
	}
	return &Store{db: db}, nil
}

func parseCounter(collection string, key, raw []byte) (int64, error) {
	v, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w %s/%s: %v", errCorruptCounter, collection, key, err)
	}
	return v, nil
}

func wrap(op string, err error) error {
	if err == nil || errors.Is(err, errCorruptCounter) {
		return err
	}
	return store.Unavailable(op, err)
}

func increment(tx *bolt.Tx, collection, key string, delta int64) (int64, error) {
	bucket, err := tx.CreateBucketIfNotExists([]byte(collection))
	if err != nil {
		return 0, fmt.Errorf("getting %q bucket: %w", collection, err)
	}

	var v int64
	if raw := bucket.Get([]byte(key)); raw != nil {
		if v, err = parseCounter(collection, []byte(key), raw); err != nil {
			return 0, err
		}
	}
	v += delta

	if err := bucket.Put([]byte(key), strconv.AppendInt(nil, v, 10)); err != nil {
		return 0, fmt.Errorf("writing %s/%s: %w", collection, key, err)
	}
	return v, nil
}

// Increment adds delta inside a write transaction.
func (s *Store) Increment(_ context.Context, collection, key string, delta int64) (int64, error) {
	var v int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		v, err = increment(tx, collection, key, delta)
		return err
	})
	if err != nil {
		return 0, wrap("increment", err)
	}
	return v, nil
}

// IncrementMany applies every delta in one write transaction.
func (s *Store) IncrementMany(_ context.Context, deltas []store.Delta) error {
	if len(deltas) == 0 {
		return nil
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, d := range deltas {
			if _, err := increment(tx, d.Collection, d.Key, d.By); err != nil {
				return err
			}
		}
		return nil
	})
	return wrap("increment many", err)
}

// Exists reports whether the key is present.
func (s *Store) Exists(_ context.Context, collection, key string) (bool, error) {
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		if bucket := tx.Bucket([]byte(collection)); bucket != nil {
			ok = bucket.Get([]byte(key)) != nil
		}
		return nil
	})
	return ok, wrap("exists", err)
}

// Get returns a counter value.
func (s *Store) Get(_ context.Context, collection, key string) (int64, bool, error) {
	var (
		v  int64
		ok bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return nil
		}
		raw := bucket.Get([]byte(key))
		if raw == nil {
			return nil
		}
		var err error
		v, err = parseCounter(collection, []byte(key), raw)
		ok = err == nil
		return err
	})
	if err != nil {
		return 0, false, wrap("get", err)
	}
	return v, ok, nil
}

// MultiGet reads all keys in one read transaction.
func (s *Store) MultiGet(_ context.Context, collection string, keys []string) (map[string]int64, error) {
	out := make(map[string]int64, len(keys))
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return nil
		}
		for _, key := range keys {
			raw := bucket.Get([]byte(key))
			if raw == nil {
				continue
			}
			v, err := parseCounter(collection, []byte(key), raw)
			if err != nil {
				return err
			}
			out[key] = v
		}
		return nil
	})
	if err != nil {
		return nil, wrap("multi get", err)
	}
	return out, nil
}

// Keys lists the keys of a collection in byte order.
func (s *Store) Keys(_ context.Context, collection string) ([]string, error) {
	keys := []string{}
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, wrap("keys", err)
	}
	return keys, nil
}

// Len returns the number of keys in a collection.
func (s *Store) Len(_ context.Context, collection string) (int64, error) {
	var n int64
	err := s.db.View(func(tx *bolt.Tx) error {
		if bucket := tx.Bucket([]byte(collection)); bucket != nil {
			n = int64(bucket.Stats().KeyN)
		}
		return nil
	})
	return n, wrap("len", err)
}

// Remove deletes a key.
func (s *Store) Remove(_ context.Context, collection, key string) (int64, error) {
	var n int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil || bucket.Get([]byte(key)) == nil {
			return nil
		}
		n = 1
		return bucket.Delete([]byte(key))
	})
	if err != nil {
		return 0, wrap("remove", err)
	}
	return n, nil
}

// Drop deletes the buckets backing the collections.
func (s *Store) Drop(_ context.Context, collections ...string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range collections {
			if err := tx.DeleteBucket([]byte(name)); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
				return fmt.Errorf("deleting %q bucket: %w", name, err)
			}
		}
		return nil
	})
	return wrap("drop", err)
}

// Close closes the database file.
func (s *Store) Close() error {
	return s.db.Close()
}
