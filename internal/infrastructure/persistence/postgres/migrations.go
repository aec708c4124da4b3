package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration is one versioned schema change.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator applies migrations and records them in schema_migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
}

// NewMigrator creates a migrator with the embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn, migrations: Migrations()}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.conn.Pool().Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.conn.Pool().Query(ctx, "SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[int]time.Time)
	for rows.Next() {
		var (
			version   int
			appliedAt time.Time
		)
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		out[version] = appliedAt
	}
	return out, rows.Err()
}

// Migrate applies all pending migrations, each in its own transaction.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if _, done := applied[mig.Version]; done {
			continue
		}
		err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: version %d (%s): %v", ErrMigrationFailed, mig.Version, mig.Name, err)
		}
	}
	return nil
}

// Rollback reverts the last applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	last := 0
	for v := range applied {
		if v > last {
			last = v
		}
	}
	if last == 0 {
		return nil
	}

	for _, mig := range m.migrations {
		if mig.Version != last {
			continue
		}
		return m.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.DownSQL); err != nil {
				return fmt.Errorf("failed to roll back migration %d: %w", last, err)
			}
			_, err := tx.Exec(ctx, "DELETE FROM schema_migrations WHERE version = $1", last)
			return err
		})
	}
	return fmt.Errorf("%w: unknown migration %d", ErrMigrationFailed, last)
}

// Status lists every migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Migration, len(m.migrations))
	copy(out, m.migrations)
	for i := range out {
		if at, ok := applied[out[i].Version]; ok {
			out[i].IsApplied = true
			out[i].AppliedAt = at
		}
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EMBEDDED MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Migrations returns all embedded migrations in version order.
func Migrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_profiles", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_progress_log", UpSQL: migration002Up, DownSQL: migration002Down},
	}
}

const migration001Up = `
CREATE TABLE IF NOT EXISTS profiles (
    id               TEXT PRIMARY KEY,
    display_name     TEXT NOT NULL DEFAULT '',
    points           INTEGER NOT NULL DEFAULT 0,
    phase            TEXT NOT NULL,
    consecutive_days INTEGER NOT NULL DEFAULT 0,
    last_login_date  TIMESTAMPTZ,
    version          BIGINT NOT NULL DEFAULT 1,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CONSTRAINT profiles_points_non_negative CHECK (points >= 0),
    CONSTRAINT profiles_streak_non_negative CHECK (consecutive_days >= 0)
);
`

const migration001Down = `
DROP TABLE IF EXISTS profiles;
`

const migration002Up = `
CREATE TABLE IF NOT EXISTS completions (
    seq           BIGSERIAL UNIQUE,
    id            TEXT PRIMARY KEY,
    user_id       TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
    activity_id   TEXT NOT NULL,
    activity_type TEXT NOT NULL,
    points        INTEGER,
    period        TEXT NOT NULL DEFAULT '',
    school        TEXT NOT NULL DEFAULT '',
    comment       TEXT NOT NULL DEFAULT '',
    completed_at  TIMESTAMPTZ NOT NULL,

    CONSTRAINT completions_valid_type CHECK (activity_type IN ('mission', 'book', 'course')),
    CONSTRAINT completions_points_non_negative CHECK (points IS NULL OR points >= 0)
);

CREATE INDEX IF NOT EXISTS idx_completions_user_time ON completions(user_id, completed_at DESC);
CREATE INDEX IF NOT EXISTS idx_completions_user_activity ON completions(user_id, activity_id, completed_at DESC);

CREATE TABLE IF NOT EXISTS phase_changes (
    seq           BIGSERIAL UNIQUE,
    id            TEXT PRIMARY KEY,
    user_id       TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
    from_phase    TEXT NOT NULL,
    to_phase      TEXT NOT NULL,
    points        INTEGER NOT NULL,
    completion_id TEXT NOT NULL DEFAULT '',
    changed_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_phase_changes_user ON phase_changes(user_id, seq);

CREATE TABLE IF NOT EXISTS earned_badges (
    seq       BIGSERIAL UNIQUE,
    user_id   TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
    badge_id  TEXT NOT NULL,
    earned_at TIMESTAMPTZ NOT NULL,

    PRIMARY KEY (user_id, badge_id)
);
`

const migration002Down = `
DROP TABLE IF EXISTS earned_badges;
DROP TABLE IF EXISTS phase_changes;
DROP TABLE IF EXISTS completions;
`
