// Package sqlite implements member.Store on an embedded SQLite database. It
// backs single-node deployments that do not run PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/jornada-hub/jornada/internal/domain/activity"
	"github.com/jornada-hub/jornada/internal/domain/member"
	"github.com/jornada-hub/jornada/internal/domain/shared"
	"github.com/jornada-hub/jornada/internal/infrastructure/persistence/sqlite/migrations"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store persists member progress in SQLite.
type Store struct {
	db   *sql.DB
	q    querier
	inTx bool
}

var _ member.Store = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the database file at path and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; transactions serialize on the single connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db, q: db}, nil
}

func sqliteCode(err error) int {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()
	}
	return 0
}

func isUniqueViolation(err error) bool {
	switch sqliteCode(err) {
	case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	return sqliteCode(err) == sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY
}

func fail(op string, err error) error {
	return shared.Unavailable(op, err)
}

// WithinTx implements member.Store. Nested calls join the open transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(tx member.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fail("WithinTx", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Store{db: s.db, q: tx, inTx: true}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fail("WithinTx", err)
	}
	return nil
}

// Ping implements member.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fail("Ping", err)
	}
	return nil
}

// Close implements member.Store. Closing a transactional view is a no-op.
func (s *Store) Close() error {
	if s.inTx || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ─────────────────────────────────────────────────────────────────────────────
// Completions
// ─────────────────────────────────────────────────────────────────────────────

const completionColumns = `id, user_id, activity_id, activity_type, points, period, school, comment, completed_at`

// InsertCompletion implements activity.CompletionRepository.
func (s *Store) InsertCompletion(ctx context.Context, c activity.Completion) (string, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	var points sql.NullInt64
	if c.Points != nil {
		points = sql.NullInt64{Int64: int64(*c.Points), Valid: true}
	}

	res, err := s.q.ExecContext(ctx, `
		INSERT INTO completions (`+completionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		c.ID, c.UserID, c.ActivityID, string(c.ActivityType), points,
		string(c.Period), c.School, c.Comment, toMillis(c.CompletedAt),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return "", shared.ErrProfileNotFound
		}
		return "", fail("InsertCompletion", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return "", fail("InsertCompletion", err)
	} else if n == 0 {
		return "", shared.ErrCompletionIDConflict
	}
	return c.ID, nil
}

// DeleteCompletion implements activity.CompletionRepository.
func (s *Store) DeleteCompletion(ctx context.Context, userID, completionID string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM completions WHERE id = ? AND user_id = ?`, completionID, userID)
	if err != nil {
		return fail("DeleteCompletion", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fail("DeleteCompletion", err)
	} else if n == 0 {
		return shared.ErrCompletionNotFound
	}
	return nil
}

// QueryCompletions implements activity.CompletionRepository.
func (s *Store) QueryCompletions(ctx context.Context, userID, activityID string) ([]activity.Completion, error) {
	query := `SELECT ` + completionColumns + ` FROM completions WHERE user_id = ?`
	args := []any{userID}
	if activityID != "" {
		query += ` AND activity_id = ?`
		args = append(args, activityID)
	}
	query += ` ORDER BY completed_at DESC, seq ASC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fail("QueryCompletions", err)
	}
	defer rows.Close()

	var out []activity.Completion
	for rows.Next() {
		var (
			c            activity.Completion
			kind, period string
			points       sql.NullInt64
			completedAt  int64
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.ActivityID, &kind, &points,
			&period, &c.School, &c.Comment, &completedAt); err != nil {
			return nil, fail("QueryCompletions", err)
		}
		c.ActivityType = activity.Type(kind)
		c.Period = activity.Period(period)
		if points.Valid {
			c.Points = activity.IntPtr(int(points.Int64))
		}
		c.CompletedAt = fromMillis(completedAt)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("QueryCompletions", err)
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Profiles
// ─────────────────────────────────────────────────────────────────────────────

const profileColumns = `id, display_name, points, phase, consecutive_days, last_login_date, version, created_at, updated_at`

func scanProfile(row interface{ Scan(...any) error }) (member.Profile, error) {
	var (
		p                    member.Profile
		lastLogin            sql.NullInt64
		createdAt, updatedAt int64
	)
	if err := row.Scan(&p.ID, &p.DisplayName, &p.Points, &p.Phase, &p.ConsecutiveDays,
		&lastLogin, &p.Version, &createdAt, &updatedAt); err != nil {
		return member.Profile{}, err
	}
	if lastLogin.Valid {
		at := fromMillis(lastLogin.Int64)
		p.LastLoginDate = &at
	}
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return p, nil
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

// CreateProfile implements member.ProfileRepository.
func (s *Store) CreateProfile(ctx context.Context, p member.Profile) error {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO profiles (`+profileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		p.ID, p.DisplayName, p.Points, p.Phase, p.ConsecutiveDays, nullMillis(p.LastLoginDate),
		toMillis(p.CreatedAt), toMillis(p.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return shared.ErrProfileAlreadyExists
		}
		return fail("CreateProfile", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fail("CreateProfile", err)
	} else if n == 0 {
		return shared.ErrProfileAlreadyExists
	}
	return nil
}

// ReadProfile implements member.ProfileRepository.
func (s *Store) ReadProfile(ctx context.Context, userID string) (member.Profile, error) {
	p, err := scanProfile(s.q.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = ?`, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return member.Profile{}, shared.ErrProfileNotFound
		}
		return member.Profile{}, fail("ReadProfile", err)
	}
	return p, nil
}

// UpdateProfile implements member.ProfileRepository.
func (s *Store) UpdateProfile(ctx context.Context, userID string, u member.ProfileUpdate) (member.Profile, error) {
	p, err := scanProfile(s.q.QueryRowContext(ctx, `
		UPDATE profiles
		SET points = ?, phase = ?, consecutive_days = ?, last_login_date = ?,
		    version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
		RETURNING `+profileColumns,
		u.Points, u.Phase, u.ConsecutiveDays, nullMillis(u.LastLoginDate), toMillis(u.At),
		userID, u.ExpectedVersion,
	))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return member.Profile{}, fail("UpdateProfile", err)
	}

	var exists int
	if err := s.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM profiles WHERE id = ?)`, userID).Scan(&exists); err != nil {
		return member.Profile{}, fail("UpdateProfile", err)
	}
	if exists == 0 {
		return member.Profile{}, shared.ErrProfileNotFound
	}
	return member.Profile{}, shared.ErrProfileConflict
}

// ListProfileIDs implements member.ProfileRepository.
func (s *Store) ListProfileIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.q.QueryContext(ctx, `SELECT id FROM profiles WHERE id > ? ORDER BY id LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fail("ListProfileIDs", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fail("ListProfileIDs", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("ListProfileIDs", err)
	}
	return ids, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Phase history
// ─────────────────────────────────────────────────────────────────────────────

// InsertPhaseChange implements member.PhaseHistoryRepository.
func (s *Store) InsertPhaseChange(ctx context.Context, c member.PhaseChange) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO phase_changes (id, user_id, from_phase, to_phase, points, completion_id, changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		c.ID, c.UserID, c.FromPhase, c.ToPhase, c.Points, c.CompletionID, toMillis(c.ChangedAt),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return shared.ErrProfileNotFound
		}
		return fail("InsertPhaseChange", err)
	}
	return nil
}

// QueryPhaseChanges implements member.PhaseHistoryRepository.
func (s *Store) QueryPhaseChanges(ctx context.Context, userID string) ([]member.PhaseChange, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, user_id, from_phase, to_phase, points, completion_id, changed_at
		FROM phase_changes WHERE user_id = ? ORDER BY seq`, userID)
	if err != nil {
		return nil, fail("QueryPhaseChanges", err)
	}
	defer rows.Close()

	var out []member.PhaseChange
	for rows.Next() {
		var (
			c         member.PhaseChange
			changedAt int64
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.FromPhase, &c.ToPhase, &c.Points, &c.CompletionID, &changedAt); err != nil {
			return nil, fail("QueryPhaseChanges", err)
		}
		c.ChangedAt = fromMillis(changedAt)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("QueryPhaseChanges", err)
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Badges
// ─────────────────────────────────────────────────────────────────────────────

// QueryEarnedBadgeIDs implements member.BadgeRepository.
func (s *Store) QueryEarnedBadgeIDs(ctx context.Context, userID string) (member.EarnedSet, error) {
	earned, err := s.QueryEarnedBadges(ctx, userID)
	if err != nil {
		return nil, err
	}
	set := make(member.EarnedSet, len(earned))
	for _, b := range earned {
		set.Add(b.BadgeID)
	}
	return set, nil
}

// QueryEarnedBadges implements member.BadgeRepository.
func (s *Store) QueryEarnedBadges(ctx context.Context, userID string) ([]member.EarnedBadge, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT user_id, badge_id, earned_at
		FROM earned_badges WHERE user_id = ? ORDER BY seq`, userID)
	if err != nil {
		return nil, fail("QueryEarnedBadges", err)
	}
	defer rows.Close()

	var out []member.EarnedBadge
	for rows.Next() {
		var (
			b        member.EarnedBadge
			earnedAt int64
		)
		if err := rows.Scan(&b.UserID, &b.BadgeID, &earnedAt); err != nil {
			return nil, fail("QueryEarnedBadges", err)
		}
		b.EarnedAt = fromMillis(earnedAt)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("QueryEarnedBadges", err)
	}
	return out, nil
}

// InsertEarnedBadge implements member.BadgeRepository.
func (s *Store) InsertEarnedBadge(ctx context.Context, b member.EarnedBadge) error {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO earned_badges (user_id, badge_id, earned_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, badge_id) DO NOTHING`,
		b.UserID, b.BadgeID, toMillis(b.EarnedAt),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return shared.ErrProfileNotFound
		}
		return fail("InsertEarnedBadge", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fail("InsertEarnedBadge", err)
	} else if n == 0 {
		return shared.ErrBadgeAlreadyEarned
	}
	return nil
}
