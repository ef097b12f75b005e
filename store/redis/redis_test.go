package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hickeroar/storebayes/store"
	"github.com/hickeroar/storebayes/store/storetest"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := New(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	return s, mr
}

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.CountingStore {
		s, _ := setupTestStore(t)
		return s
	})
}

func TestCountersAreHashFields(t *testing.T) {
	ctx := context.Background()
	s, mr := setupTestStore(t)
	defer s.Close()

	_, err := s.Increment(ctx, "nbc-ns-nbc-words", "apple", 3)
	require.NoError(t, err)

	assert.Equal(t, "3", mr.HGet("nbc-ns-nbc-words", "apple"))
}

func TestNonIntegerFieldIsReportedAsParseError(t *testing.T) {
	ctx := context.Background()
	s, mr := setupTestStore(t)
	defer s.Close()

	mr.HSet("words", "apple", "lots")

	_, _, err := s.Get(ctx, "words", "apple")
	require.Error(t, err)
	assert.False(t, errors.Is(err, store.ErrUnavailable))

	_, err = s.MultiGet(ctx, "words", []string{"apple"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, store.ErrUnavailable))
}

func TestServerDownIsUnavailable(t *testing.T) {
	ctx := context.Background()
	s, mr := setupTestStore(t)
	defer s.Close()

	mr.Close()

	_, err := s.Increment(ctx, "words", "apple", 1)
	assert.True(t, errors.Is(err, store.ErrUnavailable))

	_, err = s.MultiGet(ctx, "words", []string{"apple"})
	assert.True(t, errors.Is(err, store.ErrUnavailable))

	err = s.IncrementMany(ctx, []store.Delta{{Collection: "words", Key: "apple", By: 1}})
	assert.True(t, errors.Is(err, store.ErrUnavailable))
}

func TestOpenValidatesURLAndConnection(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, "")
	assert.True(t, errors.Is(err, store.ErrConfiguration))

	_, err = Open(ctx, "not a url")
	assert.True(t, errors.Is(err, store.ErrConfiguration))

	mr := miniredis.RunT(t)
	s, err := store.Open(ctx, store.Options{Backend: BackendName, URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	addr := mr.Addr()
	mr.Close()
	_, err = Open(ctx, "redis://"+addr)
	assert.True(t, errors.Is(err, store.ErrUnavailable))
}
