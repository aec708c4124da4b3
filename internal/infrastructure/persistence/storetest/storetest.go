// Package storetest holds the behavioural checks every member.Store
// implementation must pass. Driver packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jornada-hub/jornada/internal/domain/activity"
	"github.com/jornada-hub/jornada/internal/domain/member"
	"github.com/jornada-hub/jornada/internal/domain/shared"
	"github.com/jornada-hub/jornada/pkg/timeutil"
)

// Factory returns an empty store. The store is closed by Run.
type Factory func(t *testing.T) member.Store

var base = timeutil.DateTime(2024, 5, 20, 9, 0, 0)

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s member.Store)
	}{
		{"ProfileLifecycle", testProfileLifecycle},
		{"UpdateProfileVersionConflict", testUpdateProfileConflict},
		{"CompletionsNewestFirst", testCompletionsOrder},
		{"CompletionIDs", testCompletionIDs},
		{"DeleteCompletion", testDeleteCompletion},
		{"PhaseChangesIdempotent", testPhaseChanges},
		{"EarnedBadgeUnique", testEarnedBadges},
		{"ListProfileIDsPages", testListProfileIDs},
		{"WithinTxCommits", testTxCommit},
		{"WithinTxRollsBack", testTxRollback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func seedProfile(t *testing.T, s member.Store, id string) member.Profile {
	t.Helper()
	p := member.Profile{ID: id, DisplayName: "Member " + id, Phase: "Gota", CreatedAt: base, UpdatedAt: base}
	require.NoError(t, s.CreateProfile(context.Background(), p))
	got, err := s.ReadProfile(context.Background(), id)
	require.NoError(t, err)
	return got
}

func completion(userID, activityID string, kind activity.Type, points int, at time.Time) activity.Completion {
	return activity.Completion{
		UserID:       userID,
		ActivityID:   activityID,
		ActivityType: kind,
		Points:       activity.IntPtr(points),
		Period:       activity.PeriodWeekly,
		School:       "Escola Central",
		Comment:      "feito",
		CompletedAt:  at,
	}
}

func testProfileLifecycle(t *testing.T, s member.Store) {
	ctx := context.Background()

	_, err := s.ReadProfile(ctx, "ghost")
	assert.ErrorIs(t, err, shared.ErrProfileNotFound)
	assert.True(t, shared.IsNotFound(err))

	p := seedProfile(t, s, "u-1")
	assert.Equal(t, int64(1), p.Version)
	assert.Equal(t, "Member u-1", p.DisplayName)
	assert.Zero(t, p.Points)
	assert.Nil(t, p.LastLoginDate)

	err = s.CreateProfile(ctx, member.Profile{ID: "u-1", Phase: "Gota"})
	assert.ErrorIs(t, err, shared.ErrProfileAlreadyExists)

	login := base.Add(time.Hour)
	u := member.UpdateFrom(p, base.Add(2*time.Hour))
	u.Points = 120
	u.Phase = "Nascente"
	u.ConsecutiveDays = 3
	u.LastLoginDate = &login

	updated, err := s.UpdateProfile(ctx, "u-1", u)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	got, err := s.ReadProfile(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, 120, got.Points)
	assert.Equal(t, "Nascente", got.Phase)
	assert.Equal(t, 3, got.ConsecutiveDays)
	require.NotNil(t, got.LastLoginDate)
	assert.True(t, login.Equal(*got.LastLoginDate))
	assert.Equal(t, int64(2), got.Version)

	_, err = s.UpdateProfile(ctx, "ghost", member.ProfileUpdate{Phase: "Gota"})
	assert.ErrorIs(t, err, shared.ErrProfileNotFound)
}

func testUpdateProfileConflict(t *testing.T, s member.Store) {
	ctx := context.Background()
	p := seedProfile(t, s, "u-1")

	stale := member.UpdateFrom(p, base)
	stale.ExpectedVersion = p.Version + 5

	_, err := s.UpdateProfile(ctx, "u-1", stale)
	assert.ErrorIs(t, err, shared.ErrProfileConflict)
	assert.True(t, shared.IsConflict(err))
}

func testCompletionsOrder(t *testing.T, s member.Store) {
	ctx := context.Background()
	seedProfile(t, s, "u-1")
	seedProfile(t, s, "u-2")

	for i, a := range []string{"a", "b", "a"} {
		_, err := s.InsertCompletion(ctx, completion("u-1", a, activity.TypeMission, 10, base.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}
	_, err := s.InsertCompletion(ctx, completion("u-2", "a", activity.TypeBook, 10, base))
	require.NoError(t, err)

	all, err := s.QueryCompletions(ctx, "u-1", "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].CompletedAt.Equal(base.Add(2*time.Hour)))
	assert.True(t, all[2].CompletedAt.Equal(base))
	assert.Equal(t, activity.PeriodWeekly, all[0].Period)
	assert.Equal(t, "Escola Central", all[0].School)
	assert.Equal(t, 10, all[0].PointsValue())

	onlyA, err := s.QueryCompletions(ctx, "u-1", "a")
	require.NoError(t, err)
	assert.Len(t, onlyA, 2)

	none, err := s.QueryCompletions(ctx, "u-3", "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testCompletionIDs(t *testing.T, s member.Store) {
	ctx := context.Background()
	seedProfile(t, s, "u-1")

	generated, err := s.InsertCompletion(ctx, completion("u-1", "a", activity.TypeMission, 1, base))
	require.NoError(t, err)
	assert.NotEmpty(t, generated)

	c := completion("u-1", "a", activity.TypeMission, 1, base)
	c.ID = "fixed-id"
	id, err := s.InsertCompletion(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", id)

	_, err = s.InsertCompletion(ctx, c)
	assert.ErrorIs(t, err, shared.ErrCompletionIDConflict)
	assert.True(t, shared.IsConflict(err))
}

func testDeleteCompletion(t *testing.T, s member.Store) {
	ctx := context.Background()
	seedProfile(t, s, "u-1")
	seedProfile(t, s, "u-2")

	id, err := s.InsertCompletion(ctx, completion("u-1", "a", activity.TypeMission, 1, base))
	require.NoError(t, err)

	assert.ErrorIs(t, s.DeleteCompletion(ctx, "u-2", id), shared.ErrCompletionNotFound)
	require.NoError(t, s.DeleteCompletion(ctx, "u-1", id))
	assert.ErrorIs(t, s.DeleteCompletion(ctx, "u-1", id), shared.ErrCompletionNotFound)

	left, err := s.QueryCompletions(ctx, "u-1", "")
	require.NoError(t, err)
	assert.Empty(t, left)
}

func testPhaseChanges(t *testing.T, s member.Store) {
	ctx := context.Background()
	seedProfile(t, s, "u-1")

	first := member.NewPhaseChange("u-1", "Gota", "Nascente", 55, "c-1", 1, base)
	second := member.NewPhaseChange("u-1", "Nascente", "Riacho", 160, "c-2", 2, base.Add(time.Hour))

	require.NoError(t, s.InsertPhaseChange(ctx, first))
	require.NoError(t, s.InsertPhaseChange(ctx, first))
	require.NoError(t, s.InsertPhaseChange(ctx, second))

	got, err := s.QueryPhaseChanges(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Nascente", got[0].ToPhase)
	assert.Equal(t, "Riacho", got[1].ToPhase)
	assert.Equal(t, 160, got[1].Points)
	assert.Equal(t, "c-2", got[1].CompletionID)
}

func testEarnedBadges(t *testing.T, s member.Store) {
	ctx := context.Background()
	seedProfile(t, s, "u-1")
	seedProfile(t, s, "u-2")

	require.NoError(t, s.InsertEarnedBadge(ctx, member.EarnedBadge{UserID: "u-1", BadgeID: "first_book", EarnedAt: base}))
	require.NoError(t, s.InsertEarnedBadge(ctx, member.EarnedBadge{UserID: "u-2", BadgeID: "first_book", EarnedAt: base}))

	err := s.InsertEarnedBadge(ctx, member.EarnedBadge{UserID: "u-1", BadgeID: "first_book", EarnedAt: base.Add(time.Hour)})
	assert.ErrorIs(t, err, shared.ErrBadgeAlreadyEarned)
	assert.True(t, shared.IsConflict(err))

	ids, err := s.QueryEarnedBadgeIDs(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, member.EarnedSet{"first_book": {}}, ids)

	earned, err := s.QueryEarnedBadges(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, earned, 1)
	assert.True(t, earned[0].EarnedAt.Equal(base))
}

func testListProfileIDs(t *testing.T, s member.Store) {
	ctx := context.Background()
	for i := 5; i >= 1; i-- {
		seedProfile(t, s, fmt.Sprintf("u-%d", i))
	}

	page, err := s.ListProfileIDs(ctx, "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"u-1", "u-2"}, page)

	page, err = s.ListProfileIDs(ctx, "u-2", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"u-3", "u-4"}, page)

	page, err = s.ListProfileIDs(ctx, "u-4", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"u-5"}, page)
}

func testTxCommit(t *testing.T, s member.Store) {
	ctx := context.Background()
	p := seedProfile(t, s, "u-1")

	err := s.WithinTx(ctx, func(tx member.Store) error {
		if _, err := tx.InsertCompletion(ctx, completion("u-1", "a", activity.TypeBook, 30, base)); err != nil {
			return err
		}
		u := member.UpdateFrom(p, base)
		u.Points = 30
		if _, err := tx.UpdateProfile(ctx, "u-1", u); err != nil {
			return err
		}
		return tx.InsertEarnedBadge(ctx, member.EarnedBadge{UserID: "u-1", BadgeID: "first_book", EarnedAt: base})
	})
	require.NoError(t, err)

	got, err := s.ReadProfile(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, 30, got.Points)

	history, err := s.QueryCompletions(ctx, "u-1", "")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func testTxRollback(t *testing.T, s member.Store) {
	ctx := context.Background()
	p := seedProfile(t, s, "u-1")
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(tx member.Store) error {
		if _, err := tx.InsertCompletion(ctx, completion("u-1", "a", activity.TypeBook, 30, base)); err != nil {
			return err
		}
		u := member.UpdateFrom(p, base)
		u.Points = 30
		if _, err := tx.UpdateProfile(ctx, "u-1", u); err != nil {
			return err
		}
		// A duplicate badge inside a transaction must not poison it.
		if err := tx.InsertEarnedBadge(ctx, member.EarnedBadge{UserID: "u-1", BadgeID: "b", EarnedAt: base}); err != nil {
			return err
		}
		if err := tx.InsertEarnedBadge(ctx, member.EarnedBadge{UserID: "u-1", BadgeID: "b", EarnedAt: base}); !errors.Is(err, shared.ErrBadgeAlreadyEarned) {
			return fmt.Errorf("expected duplicate badge error, got %v", err)
		}
		if _, err := tx.ReadProfile(ctx, "u-1"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.ReadProfile(ctx, "u-1")
	require.NoError(t, err)
	assert.Zero(t, got.Points)
	assert.Equal(t, int64(1), got.Version)

	history, err := s.QueryCompletions(ctx, "u-1", "")
	require.NoError(t, err)
	assert.Empty(t, history)

	ids, err := s.QueryEarnedBadgeIDs(ctx, "u-1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}
