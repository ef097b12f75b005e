package bayes

import (
	"context"
	"errors"
	"testing"

	"github.com/hickeroar/storebayes/store"
	"github.com/hickeroar/storebayes/store/memory"
)

// newTestClassifier returns a classifier on a fresh in-memory store.
func newTestClassifier(t testing.TB, cfg Config) (*Classifier, *memory.Store) {
	t.Helper()
	s := memory.New()
	c, err := New(s, cfg)
	if err != nil {
		t.Fatalf("unexpected error creating classifier: %v", err)
	}
	return c, s
}

// mustTrain trains text into category or fails the test.
func mustTrain(t testing.TB, c *Classifier, category, text string) {
	t.Helper()
	if err := c.Train(context.Background(), text, category); err != nil {
		t.Fatalf("train %q: %v", category, err)
	}
}

// counter reads a raw counter from the store.
func counter(t testing.TB, s store.CountingStore, collection, key string) int64 {
	t.Helper()
	v, _, err := s.Get(context.Background(), collection, key)
	if err != nil {
		t.Fatalf("get %s/%s: %v", collection, key, err)
	}
	return v
}

// flakyStore wraps a store and fails every call once broken is set.
type flakyStore struct {
	store.CountingStore
	broken bool
}

var errDown = store.Unavailable("test", errors.New("connection refused"))

func (f *flakyStore) Increment(ctx context.Context, collection, key string, delta int64) (int64, error) {
	if f.broken {
		return 0, errDown
	}
	return f.CountingStore.Increment(ctx, collection, key, delta)
}

func (f *flakyStore) Exists(ctx context.Context, collection, key string) (bool, error) {
	if f.broken {
		return false, errDown
	}
	return f.CountingStore.Exists(ctx, collection, key)
}

func (f *flakyStore) MultiGet(ctx context.Context, collection string, keys []string) (map[string]int64, error) {
	if f.broken {
		return nil, errDown
	}
	return f.CountingStore.MultiGet(ctx, collection, keys)
}

func (f *flakyStore) Keys(ctx context.Context, collection string) ([]string, error) {
	if f.broken {
		return nil, errDown
	}
	return f.CountingStore.Keys(ctx, collection)
}
