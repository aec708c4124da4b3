package query

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jornada-hub/jornada/internal/application/progression"
	"github.com/jornada-hub/jornada/internal/domain/activity"
	"github.com/jornada-hub/jornada/internal/domain/shared"
	"github.com/jornada-hub/jornada/internal/infrastructure/catalog"
	"github.com/jornada-hub/jornada/internal/infrastructure/persistence/memory"
	"github.com/jornada-hub/jornada/pkg/timeutil"
)

type nopPublisher struct{}

func (nopPublisher) Publish(shared.Event) error { return nil }

type mapCache struct {
	mu    sync.Mutex
	views map[string]*ProgressView
	gets  int
	err   error
}

func newMapCache() *mapCache { return &mapCache{views: map[string]*ProgressView{}} }

func (c *mapCache) Get(_ context.Context, userID string) (*ProgressView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.err != nil {
		return nil, c.err
	}
	v, ok := c.views[userID]
	if !ok {
		return nil, ErrCacheMiss
	}
	return v, nil
}

func (c *mapCache) Set(_ context.Context, view *ProgressView, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.views[view.UserID] = view
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.views, userID)
	return nil
}

type fixture struct {
	store  *memory.Store
	engine *progression.Engine
	cat    *catalog.Catalog
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.NewStore(),
		cat:   catalog.MustDefault(),
		now:   timeutil.DateTime(2024, 5, 20, 10, 0, 0),
	}
	f.engine = progression.NewEngine(f.store, f.cat.Phases, f.cat.Badges, nopPublisher{}, progression.Config{
		Clock: func() time.Time { return f.now },
	})
	_, err := f.engine.RegisterMember(context.Background(), progression.RegisterMemberInput{UserID: "u-1", DisplayName: "Ana"})
	require.NoError(t, err)
	return f
}

func (f *fixture) record(t *testing.T, id string, kind activity.Type, points int, period activity.Period) {
	t.Helper()
	_, err := f.engine.RecordCompletion(context.Background(), progression.RecordCompletionInput{
		CompletionID: id,
		UserID:       "u-1",
		ActivityID:   id,
		ActivityType: kind,
		Points:       activity.IntPtr(points),
		Period:       period,
	})
	require.NoError(t, err)
}

func (f *fixture) progress(cache ProgressCache) *GetProgressHandler {
	return NewGetProgressHandler(f.store, f.cat.Phases, f.cat.Badges, cache, GetProgressConfig{
		Clock: func() time.Time { return f.now },
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

func TestGetProgress_View(t *testing.T) {
	f := newFixture(t)
	f.record(t, "c-1", activity.TypeMission, 40, activity.PeriodDaily)
	f.record(t, "c-2", activity.TypeBook, 20, activity.PeriodSpecial)

	view, err := f.progress(nil).Handle(context.Background(), GetProgressQuery{UserID: "u-1"})
	require.NoError(t, err)

	assert.Equal(t, "Ana", view.DisplayName)
	assert.Equal(t, 60, view.Stats.Points)
	assert.Equal(t, 1, view.Stats.MissionsCompleted)
	assert.Equal(t, 1, view.Stats.BooksCompleted)

	assert.Equal(t, "Nascente", view.Phase.Name)
	require.NotNil(t, view.NextPhase)
	assert.Equal(t, "Riacho", view.NextPhase.Name)
	require.NotNil(t, view.PointsToNext)
	assert.Equal(t, 90, *view.PointsToNext)
	assert.InDelta(t, 0.1, view.PhaseProgress, 0.001)

	ids := make([]string, 0, len(view.Badges))
	for _, b := range view.Badges {
		ids = append(ids, b.ID)
	}
	assert.Equal(t, []string{"first_mission", "first_book"}, ids)

	require.Len(t, view.PhaseHistory, 1)
	assert.Equal(t, "Gota", view.PhaseHistory[0].From)
	assert.Equal(t, "Nascente", view.PhaseHistory[0].To)
}

func TestGetProgress_TopPhase(t *testing.T) {
	f := newFixture(t)
	f.record(t, "c-1", activity.TypeCourse, 2500, activity.PeriodSpecial)

	view, err := f.progress(nil).Handle(context.Background(), GetProgressQuery{UserID: "u-1"})
	require.NoError(t, err)

	assert.Equal(t, "Oceano", view.Phase.Name)
	assert.Nil(t, view.Phase.MaxPoints)
	assert.Nil(t, view.NextPhase)
	assert.Nil(t, view.PointsToNext)
	assert.Equal(t, 1.0, view.PhaseProgress)
}

func TestGetProgress_CacheAside(t *testing.T) {
	f := newFixture(t)
	cache := newMapCache()
	handler := f.progress(cache)
	ctx := context.Background()

	first, err := handler.Handle(ctx, GetProgressQuery{UserID: "u-1"})
	require.NoError(t, err)
	assert.Equal(t, 0, first.Stats.Points)

	f.record(t, "c-1", activity.TypeMission, 10, activity.PeriodDaily)

	stale, err := handler.Handle(ctx, GetProgressQuery{UserID: "u-1"})
	require.NoError(t, err)
	assert.Same(t, first, stale)

	fresh, err := handler.Handle(ctx, GetProgressQuery{UserID: "u-1", SkipCache: true})
	require.NoError(t, err)
	assert.Equal(t, 10, fresh.Stats.Points)

	require.NoError(t, cache.Invalidate(ctx, "u-1"))
	again, err := handler.Handle(ctx, GetProgressQuery{UserID: "u-1"})
	require.NoError(t, err)
	assert.Equal(t, 10, again.Stats.Points)
}

func TestGetProgress_BrokenCacheFallsBack(t *testing.T) {
	f := newFixture(t)
	cache := newMapCache()
	cache.err = errors.New("connection refused")

	view, err := f.progress(cache).Handle(context.Background(), GetProgressQuery{UserID: "u-1"})
	require.NoError(t, err)
	assert.Equal(t, "Gota", view.Phase.Name)
}

func TestGetProgress_Errors(t *testing.T) {
	f := newFixture(t)
	handler := f.progress(nil)

	_, err := handler.Handle(context.Background(), GetProgressQuery{})
	assert.True(t, shared.IsValidation(err))

	_, err = handler.Handle(context.Background(), GetProgressQuery{UserID: "ghost"})
	assert.True(t, shared.IsNotFound(err))
}

// ══════════════════════════════════════════════════════════════════════════════
// AVAILABILITY & CATALOG
// ══════════════════════════════════════════════════════════════════════════════

func TestCheckAvailability(t *testing.T) {
	f := newFixture(t)
	f.record(t, "weekly", activity.TypeMission, 5, activity.PeriodWeekly)

	handler := NewCheckAvailabilityHandler(f.store, func() time.Time { return f.now })
	ctx := context.Background()

	a, err := handler.Handle(ctx, CheckAvailabilityQuery{UserID: "u-1", ActivityID: "weekly"})
	require.NoError(t, err)
	assert.False(t, a.Available)
	require.NotNil(t, a.UnlocksAt)
	assert.True(t, a.UnlocksAt.Equal(f.now.Add(6*timeutil.Day)))

	a, err = handler.Handle(ctx, CheckAvailabilityQuery{UserID: "u-1", ActivityID: "weekly", At: f.now.Add(6 * timeutil.Day)})
	require.NoError(t, err)
	assert.True(t, a.Available)

	a, err = handler.Handle(ctx, CheckAvailabilityQuery{UserID: "u-1", ActivityID: "never-done"})
	require.NoError(t, err)
	assert.True(t, a.Available)
	assert.Nil(t, a.LastCompleted)

	_, err = handler.Handle(ctx, CheckAvailabilityQuery{UserID: "u-1"})
	assert.True(t, shared.IsValidation(err))
}

func TestCatalogHandler(t *testing.T) {
	c := catalog.MustDefault()
	h := NewCatalogHandler(c.Phases, c.Badges)

	phases := h.Phases()
	require.Len(t, phases, 7)
	assert.Equal(t, "Gota", phases[0].Name)
	require.NotNil(t, phases[0].MaxPoints)
	assert.Equal(t, 49, *phases[0].MaxPoints)
	assert.Nil(t, phases[6].MaxPoints)

	badges := h.Badges()
	require.Equal(t, c.Badges.Len(), len(badges))
	assert.Equal(t, "first_mission", badges[0].ID)
	last := badges[len(badges)-1]
	assert.Equal(t, "all_star", last.ID)
	assert.True(t, last.Compound)
	assert.Equal(t, "all(books>=5, courses>=3, consecutive_days>=30)", last.Requirement)

	badges[0].ID = "mutated"
	assert.Equal(t, "first_mission", h.Badges()[0].ID)
}
