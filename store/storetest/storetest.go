// Package storetest holds the behaviour every counting store backend must
// share. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hickeroar/storebayes/store"
)

// Factory returns an empty store. The test owns closing it.
type Factory func(t *testing.T) store.CountingStore

// Run executes the shared backend tests as subtests.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.CountingStore)
	}{
		{"IncrementCreatesAndAdds", testIncrementCreatesAndAdds},
		{"IncrementNegative", testIncrementNegative},
		{"ExistsAndGet", testExistsAndGet},
		{"MultiGetOmitsAbsent", testMultiGetOmitsAbsent},
		{"KeysAndLen", testKeysAndLen},
		{"Remove", testRemove},
		{"Drop", testDrop},
		{"IncrementMany", testIncrementMany},
		{"CollectionsAreIsolated", testCollectionsAreIsolated},
		{"ConcurrentIncrementsAreNotLost", testConcurrentIncrements},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tc.fn(t, s)
		})
	}
}

func testIncrementCreatesAndAdds(t *testing.T, s store.CountingStore) {
	ctx := context.Background()

	v, err := s.Increment(ctx, "words", "apple", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = s.Increment(ctx, "words", "apple", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)
}

func testIncrementNegative(t *testing.T, s store.CountingStore) {
	ctx := context.Background()

	_, err := s.Increment(ctx, "words", "apple", 3)
	require.NoError(t, err)

	v, err := s.Increment(ctx, "words", "apple", -3)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	ok, err := s.Exists(ctx, "words", "apple")
	require.NoError(t, err)
	assert.True(t, ok, "a counter at zero still exists")

	v, err = s.Increment(ctx, "words", "pear", -2)
	require.NoError(t, err)
	assert.Equal(t, int64(-2), v)
}

func testExistsAndGet(t *testing.T, s store.CountingStore) {
	ctx := context.Background()

	ok, err := s.Exists(ctx, "words", "apple")
	require.NoError(t, err)
	assert.False(t, ok)

	_, found, err := s.Get(ctx, "words", "apple")
	require.NoError(t, err)
	assert.False(t, found)

	_, err = s.Increment(ctx, "words", "apple", 7)
	require.NoError(t, err)

	ok, err = s.Exists(ctx, "words", "apple")
	require.NoError(t, err)
	assert.True(t, ok)

	v, found, err := s.Get(ctx, "words", "apple")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(7), v)
}

func testMultiGetOmitsAbsent(t *testing.T, s store.CountingStore) {
	ctx := context.Background()

	_, err := s.Increment(ctx, "words", "apple", 2)
	require.NoError(t, err)
	_, err = s.Increment(ctx, "words", "banana", 3)
	require.NoError(t, err)

	got, err := s.MultiGet(ctx, "words", []string{"banana", "missing", "apple", "banana"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"apple": 2, "banana": 3}, got)

	got, err = s.MultiGet(ctx, "words", nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.MultiGet(ctx, "nothing-here", []string{"apple"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testKeysAndLen(t *testing.T, s store.CountingStore) {
	ctx := context.Background()

	keys, err := s.Keys(ctx, "sets")
	require.NoError(t, err)
	assert.Empty(t, keys)

	n, err := s.Len(ctx, "sets")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	for _, name := range []string{"fruit", "vehicle", "fruit"} {
		_, err := s.Increment(ctx, "sets", name, 1)
		require.NoError(t, err)
	}

	keys, err = s.Keys(ctx, "sets")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"fruit", "vehicle"}, keys)

	n, err = s.Len(ctx, "sets")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func testRemove(t *testing.T, s store.CountingStore) {
	ctx := context.Background()

	_, err := s.Increment(ctx, "blacklist", "spam", 1)
	require.NoError(t, err)

	n, err := s.Remove(ctx, "blacklist", "spam")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.Remove(ctx, "blacklist", "spam")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	ok, err := s.Exists(ctx, "blacklist", "spam")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testDrop(t *testing.T, s store.CountingStore) {
	ctx := context.Background()

	_, err := s.Increment(ctx, "words", "apple", 1)
	require.NoError(t, err)
	_, err = s.Increment(ctx, "sets", "fruit", 1)
	require.NoError(t, err)

	require.NoError(t, s.Drop(ctx, "words", "never-created"))

	n, err := s.Len(ctx, "words")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = s.Len(ctx, "sets")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func testIncrementMany(t *testing.T, s store.CountingStore) {
	ctx := context.Background()

	deltas := []store.Delta{
		{Collection: "words", Key: "apple", By: 2},
		{Collection: "words", Key: "apple", By: 1},
		{Collection: "sets", Key: "fruit", By: 3},
	}
	require.NoError(t, store.ApplyDeltas(ctx, s, deltas))

	v, _, err := s.Get(ctx, "words", "apple")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	v, _, err = s.Get(ctx, "sets", "fruit")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
}

func testCollectionsAreIsolated(t *testing.T, s store.CountingStore) {
	ctx := context.Background()

	_, err := s.Increment(ctx, "a", "key", 1)
	require.NoError(t, err)

	ok, err := s.Exists(ctx, "b", "key")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testConcurrentIncrements(t *testing.T, s store.CountingStore) {
	ctx := context.Background()
	const workers, perWorker = 8, 25

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if _, err := s.Increment(ctx, "words", "apple", 1); err != nil {
					errs <- fmt.Errorf("increment: %w", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	v, _, err := s.Get(ctx, "words", "apple")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker), v)
}
