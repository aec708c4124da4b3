package projections

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jornada-hub/jornada/internal/application/query"
)

func TestLocalProgressCache(t *testing.T) {
	c, err := NewLocalProgressCache(2, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Get(ctx, "u-1")
	assert.ErrorIs(t, err, query.ErrCacheMiss)

	require.NoError(t, c.Set(ctx, &query.ProgressView{UserID: "u-1"}, 0))
	view, err := c.Get(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "u-1", view.UserID)

	require.NoError(t, c.Invalidate(ctx, "u-1"))
	_, err = c.Get(ctx, "u-1")
	assert.ErrorIs(t, err, query.ErrCacheMiss)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(2), misses)
}

func TestLocalProgressCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, err := NewLocalProgressCache(2, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, c.Set(ctx, &query.ProgressView{UserID: id}, 0))
	}
	assert.Equal(t, 2, c.Len())

	_, err = c.Get(ctx, "a")
	assert.ErrorIs(t, err, query.ErrCacheMiss)
	_, err = c.Get(ctx, "c")
	assert.NoError(t, err)
}

func TestLocalProgressCache_Expires(t *testing.T) {
	c, err := NewLocalProgressCache(10, time.Minute)
	require.NoError(t, err)
	now := time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC)
	c.clock = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, &query.ProgressView{UserID: "u-1"}, 10*time.Second))

	now = now.Add(9 * time.Second)
	_, err = c.Get(ctx, "u-1")
	assert.NoError(t, err)

	now = now.Add(time.Second)
	_, err = c.Get(ctx, "u-1")
	assert.ErrorIs(t, err, query.ErrCacheMiss)
	assert.Equal(t, 0, c.Len())
}

func TestTieredProgressCache(t *testing.T) {
	local, err := NewLocalProgressCache(10, time.Minute)
	require.NoError(t, err)
	shared, err := NewLocalProgressCache(10, time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	assert.Same(t, local, NewTieredProgressCache(local, nil))

	tiered := NewTieredProgressCache(local, shared)
	require.NoError(t, shared.Set(ctx, &query.ProgressView{UserID: "u-1"}, 0))

	_, err = tiered.Get(ctx, "u-1")
	require.NoError(t, err)
	_, err = local.Get(ctx, "u-1")
	assert.NoError(t, err, "shared hit refills the local tier")

	require.NoError(t, tiered.Invalidate(ctx, "u-1"))
	_, err = local.Get(ctx, "u-1")
	assert.ErrorIs(t, err, query.ErrCacheMiss)
	_, err = shared.Get(ctx, "u-1")
	assert.ErrorIs(t, err, query.ErrCacheMiss)
}
