package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jornada-hub/jornada/internal/domain/member"
	"github.com/jornada-hub/jornada/internal/domain/shared"
	"github.com/jornada-hub/jornada/internal/infrastructure/persistence/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) member.Store {
		return NewStore()
	})
}

func TestStore_InjectFault(t *testing.T) {
	s := NewStore()
	s.InjectFault(func(op string) error {
		if op == "ReadProfile" {
			return errors.New("connection reset")
		}
		return nil
	})

	_, err := s.ReadProfile(context.Background(), "u-1")
	assert.True(t, shared.IsStoreUnavailable(err))

	s.InjectFault(nil)
	_, err = s.ReadProfile(context.Background(), "u-1")
	assert.True(t, shared.IsNotFound(err))
}

func TestStore_ConcurrentBadgeGrantsInsertOnce(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithinTx(ctx, func(tx member.Store) error {
				return tx.InsertEarnedBadge(ctx, member.EarnedBadge{UserID: "u-1", BadgeID: "first_book"})
			})
			if err == nil {
				mu.Lock()
				inserted++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, shared.ErrBadgeAlreadyEarned)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, inserted)
	earned, err := s.QueryEarnedBadges(ctx, "u-1")
	require.NoError(t, err)
	assert.Len(t, earned, 1)
}

func TestStore_NestedWithinTxReusesView(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	err := s.WithinTx(ctx, func(tx member.Store) error {
		return tx.WithinTx(ctx, func(inner member.Store) error {
			return inner.CreateProfile(ctx, member.Profile{ID: "u-1", Phase: "Gota"})
		})
	})
	require.NoError(t, err)

	_, err = s.ReadProfile(ctx, "u-1")
	assert.NoError(t, err)
}
