package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerHook_NormalOperation(t *testing.T) {
	hook := NewCircuitBreakerHook()
	assert.Equal(t, gobreaker.StateClosed, hook.State())

	ctx := context.Background()
	processHook := hook.ProcessHook(func(ctx context.Context, cmd goredis.Cmder) error {
		return nil
	})
	for i := 0; i < 10; i++ {
		assert.NoError(t, processHook(ctx, goredis.NewStringCmd(ctx, "hget", "words", "apple")))
	}

	assert.Equal(t, gobreaker.StateClosed, hook.State())
	counts := hook.Counts()
	assert.Equal(t, uint32(10), counts.Requests)
	assert.Equal(t, uint32(10), counts.TotalSuccesses)
}

func TestCircuitBreakerHook_NilIsSuccess(t *testing.T) {
	hook := NewCircuitBreakerHook()
	ctx := context.Background()

	processHook := hook.ProcessHook(func(ctx context.Context, cmd goredis.Cmder) error {
		return goredis.Nil
	})
	for i := 0; i < 10; i++ {
		err := processHook(ctx, goredis.NewStringCmd(ctx, "hget", "words", "missing"))
		assert.True(t, errors.Is(err, goredis.Nil))
	}

	assert.Equal(t, gobreaker.StateClosed, hook.State())
	assert.Equal(t, uint32(0), hook.Counts().TotalFailures)
}

func TestCircuitBreakerHook_TransientFailures(t *testing.T) {
	hook := NewCircuitBreakerHook()
	ctx := context.Background()

	processHook := hook.ProcessHook(func(ctx context.Context, cmd goredis.Cmder) error {
		return errors.New("connection refused")
	})
	for i := 0; i < 2; i++ {
		err := processHook(ctx, goredis.NewStringCmd(ctx, "hget", "words", "apple"))
		require.Error(t, err)
		assert.False(t, errors.Is(err, gobreaker.ErrOpenState))
	}

	assert.Equal(t, gobreaker.StateClosed, hook.State())
}

func TestCircuitBreakerHook_OpensAfterSustainedFailures(t *testing.T) {
	hook := newCircuitBreakerHook(10*time.Second, time.Hour)
	ctx := context.Background()

	failing := hook.ProcessHook(func(ctx context.Context, cmd goredis.Cmder) error {
		return errors.New("connection refused")
	})
	for i := 0; i < 5; i++ {
		_ = failing(ctx, goredis.NewIntCmd(ctx, "hincrby", "words", "apple", 1))
	}
	assert.Equal(t, gobreaker.StateOpen, hook.State())

	called := false
	guarded := hook.ProcessHook(func(ctx context.Context, cmd goredis.Cmder) error {
		called = true
		return nil
	})
	cmd := goredis.NewIntCmd(ctx, "hincrby", "words", "apple", 1)
	err := guarded(ctx, cmd)

	assert.False(t, called, "open breaker must not reach redis")
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.True(t, errors.Is(cmd.Err(), gobreaker.ErrOpenState))

	pipeline := hook.ProcessPipelineHook(func(ctx context.Context, cmds []goredis.Cmder) error {
		called = true
		return nil
	})
	err = pipeline(ctx, []goredis.Cmder{cmd})
	assert.False(t, called)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
}

func TestCircuitBreakerHook_HalfOpenRecovers(t *testing.T) {
	hook := newCircuitBreakerHook(10*time.Second, 10*time.Millisecond)
	ctx := context.Background()

	failing := hook.ProcessHook(func(ctx context.Context, cmd goredis.Cmder) error {
		return errors.New("connection refused")
	})
	for i := 0; i < 5; i++ {
		_ = failing(ctx, goredis.NewStringCmd(ctx, "hget", "words", "apple"))
	}
	require.Equal(t, gobreaker.StateOpen, hook.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, gobreaker.StateHalfOpen, hook.State())

	ok := hook.ProcessHook(func(ctx context.Context, cmd goredis.Cmder) error { return nil })
	require.NoError(t, ok(ctx, goredis.NewStringCmd(ctx, "hget", "words", "apple")))
	assert.Equal(t, gobreaker.StateClosed, hook.State())
}
