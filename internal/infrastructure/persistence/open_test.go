package persistence

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jornada-hub/jornada/internal/infrastructure/persistence/memory"
	"github.com/jornada-hub/jornada/internal/infrastructure/persistence/sqlite"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Options{})
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, s)

	s, err = Open(ctx, Options{Driver: "SQLite", SQLitePath: filepath.Join(t.TempDir(), "j.db")})
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Store{}, s)
	assert.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Close())
}

func TestOpen_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, Options{Driver: "mongo"})
	assert.ErrorIs(t, err, ErrUnknownDriver)

	_, err = Open(ctx, Options{Driver: DriverSQLite})
	assert.Error(t, err)

	_, err = Open(ctx, Options{Driver: DriverPostgres})
	assert.Error(t, err)
}
