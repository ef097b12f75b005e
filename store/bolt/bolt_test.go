package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/hickeroar/storebayes/store"
	"github.com/hickeroar/storebayes/store/storetest"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "counts.db"))
	require.NoError(t, err)
	return s
}

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.CountingStore { return openTemp(t) })
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("")
	assert.True(t, errors.Is(err, store.ErrConfiguration))

	_, err = store.Open(context.Background(), store.Options{Backend: BackendName})
	assert.True(t, errors.Is(err, store.ErrConfiguration))
}

func TestCountsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "counts.db")

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.Increment(ctx, "words", "apple", 6)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	v, ok, err := s.Get(ctx, "words", "apple")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(6), v)
}

func TestCorruptCounterIsNotUnavailable(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	defer s.Close()

	require.NoError(t, s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte("words"))
		if err != nil {
			return err
		}
		return bucket.Put([]byte("apple"), []byte("not-a-number"))
	}))

	_, _, err := s.Get(ctx, "words", "apple")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errCorruptCounter))
	assert.False(t, errors.Is(err, store.ErrUnavailable))
}

func TestClosedDatabaseIsUnavailable(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.Close())

	_, err := s.Increment(context.Background(), "words", "apple", 1)
	assert.True(t, errors.Is(err, store.ErrUnavailable))
}
