package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("down")

func fail(context.Context) error    { return errDown }
func succeed(context.Context) error { return nil }

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC)
	var transitions []string
	cb := New("cache",
		WithFailureThreshold(2),
		WithSuccessThreshold(1),
		WithTimeout(10*time.Second),
		WithClock(func() time.Time { return now }),
		WithOnStateChange(func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}),
	)
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	assert.True(t, cb.IsClosed())
	assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	require.True(t, cb.IsOpen())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	now = now.Add(11 * time.Second)
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.True(t, cb.IsClosed())

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
	// Closing starts a new generation.
	assert.Zero(t, cb.Counts().Requests)
}

func TestCircuitBreaker_SnapshotRetryAt(t *testing.T) {
	now := time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC)
	cb := New("cache", WithFailureThreshold(1), WithTimeout(5*time.Second), WithClock(func() time.Time { return now }))

	_ = cb.Execute(context.Background(), fail)
	snap := cb.Snapshot()
	assert.Equal(t, StateOpen, snap.State)
	assert.Equal(t, now.Add(5*time.Second), snap.RetryAt)
	assert.Zero(t, snap.Counts.Requests)
}

func TestCircuitBreaker_HalfOpenProbeBudget(t *testing.T) {
	now := time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC)
	cb := New("cache",
		WithFailureThreshold(1),
		WithSuccessThreshold(1),
		WithTimeout(time.Second),
		WithClock(func() time.Time { return now }),
	)
	_ = cb.Execute(context.Background(), fail)
	now = now.Add(2 * time.Second)

	done, err := cb.Allow()
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, cb.State())

	_, err = cb.Allow()
	assert.ErrorIs(t, err, ErrTooManyRequests)
	assert.True(t, Rejected(err))

	done(nil)
	done(errDown) // second report is ignored
	assert.True(t, cb.IsClosed())
}

func TestCircuitBreaker_ReadyToTrip(t *testing.T) {
	cb := New("cache", WithReadyToTrip(func(c Counts) bool {
		return c.Requests >= 4 && c.TotalFailures*2 >= c.Requests
	}))
	ctx := context.Background()

	_ = cb.Execute(ctx, succeed)
	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, succeed)
	assert.True(t, cb.IsClosed())
	_ = cb.Execute(ctx, fail)
	assert.True(t, cb.IsOpen())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC)
	cb := New("cache", WithFailureThreshold(1), WithTimeout(time.Second), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	require.True(t, cb.IsOpen())

	now = now.Add(2 * time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	assert.True(t, cb.IsOpen())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Counts().TotalFailures)
}

func TestCircuitBreaker_IsFailureFilter(t *testing.T) {
	miss := errors.New("miss")
	cb := New("cache", WithFailureThreshold(1), WithIsFailure(func(err error) bool { return !errors.Is(err, miss) }))

	for range 3 {
		assert.ErrorIs(t, cb.Execute(context.Background(), func(context.Context) error { return miss }), miss)
	}
	assert.True(t, cb.IsClosed())
}

func TestCircuitBreaker_ExecuteWithFallback(t *testing.T) {
	cb := New("cache", WithFailureThreshold(1))
	_ = cb.Execute(context.Background(), fail)

	err := cb.ExecuteWithFallback(context.Background(), succeed, func(err error) error {
		assert.ErrorIs(t, err, ErrCircuitOpen)
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, "cache", cb.Name())
}
