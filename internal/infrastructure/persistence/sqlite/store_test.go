package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jornada-hub/jornada/internal/domain/member"
	"github.com/jornada-hub/jornada/internal/infrastructure/persistence/storetest"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "jornada.db"))
	require.NoError(t, err)
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) member.Store {
		return openTempStore(t)
	})
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "  ")
	assert.Error(t, err)
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jornada.db")
	ctx := context.Background()

	first, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, first.CreateProfile(ctx, member.Profile{ID: "u-1", Phase: "Gota"}))
	require.NoError(t, first.Close())

	second, err := Open(ctx, path)
	require.NoError(t, err)
	defer second.Close()

	p, err := second.ReadProfile(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Version)

	var applied int
	require.NoError(t, second.db.QueryRow("SELECT COUNT(*) FROM "+migrationTable).Scan(&applied))
	assert.Equal(t, 2, applied)
}

func TestUpSection(t *testing.T) {
	assert.Equal(t, "\nCREATE x;\n", upSection("-- +migrate Up\nCREATE x;\n-- +migrate Down\nDROP x;"))
	assert.Equal(t, "CREATE y;", upSection("CREATE y;"))
}
