package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jornada-hub/jornada/internal/application/progression"
	"github.com/jornada-hub/jornada/internal/domain/activity"
	"github.com/jornada-hub/jornada/internal/infrastructure/catalog"
	"github.com/jornada-hub/jornada/internal/infrastructure/persistence/memory"
	"github.com/jornada-hub/jornada/pkg/timeutil"
)

func newEngine(store *memory.Store) *progression.Engine {
	c := catalog.MustDefault()
	now := timeutil.DateTime(2024, 5, 20, 10, 0, 0)
	return progression.NewEngine(store, c.Phases, c.Badges, nil, progression.Config{
		Clock: func() time.Time { return now },
	})
}

func TestReconcileProfilesJob_RepairsDriftAcrossPages(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	engine := newEngine(store)

	for i := 1; i <= 5; i++ {
		_, err := engine.RegisterMember(ctx, progression.RegisterMemberInput{UserID: fmt.Sprintf("u-%d", i)})
		require.NoError(t, err)
	}
	// Written behind the engine's back, so the cached profile drifts.
	_, err := store.InsertCompletion(ctx, activity.Completion{
		UserID: "u-4", ActivityID: "m", ActivityType: activity.TypeMission,
		Points: activity.IntPtr(160), CompletedAt: timeutil.DateTime(2024, 5, 20, 9, 0, 0),
	})
	require.NoError(t, err)

	job := NewReconcileProfilesJob(store, engine, nil, ReconcileProfilesConfig{BatchSize: 2, Concurrency: 2})
	assert.Equal(t, "reconcile_profiles", job.Name())
	assert.Nil(t, job.LastStats())

	require.NoError(t, job.Run(ctx))

	stats := job.LastStats()
	require.NotNil(t, stats)
	assert.Equal(t, 5, stats.Scanned)
	assert.Equal(t, 1, stats.Repaired)
	assert.Equal(t, 1, stats.PhaseChanges)
	assert.Equal(t, 2, stats.BadgesGranted)
	assert.Zero(t, stats.Failed)

	p, err := store.ReadProfile(ctx, "u-4")
	require.NoError(t, err)
	assert.Equal(t, 160, p.Points)
	assert.Equal(t, "Riacho", p.Phase)

	require.NoError(t, job.Run(ctx))
	assert.Zero(t, job.LastStats().Repaired)
}

type flakyReconciler struct {
	failFor map[string]bool
	inner   Reconciler
}

func (r flakyReconciler) Reconcile(ctx context.Context, userID string) (*progression.ReconcileOutcome, error) {
	if r.failFor[userID] {
		return nil, errors.New("store down")
	}
	return r.inner.Reconcile(ctx, userID)
}

func TestReconcileProfilesJob_FailureRate(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	engine := newEngine(store)
	for i := 1; i <= 4; i++ {
		_, err := engine.RegisterMember(ctx, progression.RegisterMemberInput{UserID: fmt.Sprintf("u-%d", i)})
		require.NoError(t, err)
	}

	tolerant := NewReconcileProfilesJob(store, flakyReconciler{failFor: map[string]bool{"u-2": true}, inner: engine}, nil,
		ReconcileProfilesConfig{MaxFailureRate: 0.5})
	require.NoError(t, tolerant.Run(ctx))
	assert.Equal(t, 1, tolerant.LastStats().Failed)
	assert.Equal(t, "u-2", tolerant.LastStats().Errors[0].UserID)

	strict := NewReconcileProfilesJob(store, flakyReconciler{failFor: map[string]bool{"u-1": true, "u-3": true}, inner: engine}, nil,
		ReconcileProfilesConfig{MaxFailureRate: 0.25})
	assert.Error(t, strict.Run(ctx))
}

type failingLister struct{}

func (failingLister) ListProfileIDs(context.Context, string, int) ([]string, error) {
	return nil, errors.New("store down")
}

func TestReconcileProfilesJob_ListFailure(t *testing.T) {
	job := NewReconcileProfilesJob(failingLister{}, nil, nil, ReconcileProfilesConfig{})
	assert.Error(t, job.Run(context.Background()))
	assert.Nil(t, job.LastStats())
}
