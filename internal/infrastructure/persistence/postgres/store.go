package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jornada-hub/jornada/internal/domain/activity"
	"github.com/jornada-hub/jornada/internal/domain/member"
	"github.com/jornada-hub/jornada/internal/domain/shared"
)

// Store implements member.Store on PostgreSQL.
//
// Inserts that can collide use ON CONFLICT DO NOTHING and inspect the affected
// row count, so a duplicate inside a transaction never aborts it.
type Store struct {
	conn *Connection
	q    Querier
	inTx bool
}

var _ member.Store = (*Store)(nil)

// NewStore creates a store on an open connection. The schema must already be
// migrated.
func NewStore(conn *Connection) *Store {
	return &Store{conn: conn, q: conn.Pool()}
}

// Open connects, applies pending migrations and returns the store.
func Open(ctx context.Context, databaseURL string, settings PoolSettings) (*Store, error) {
	conn, err := Connect(ctx, databaseURL, settings)
	if err != nil {
		return nil, err
	}
	if err := NewMigrator(conn).Migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return NewStore(conn), nil
}

// Connection returns the underlying connection.
func (s *Store) Connection() *Connection {
	return s.conn
}

func (s *Store) fail(op string, err error) error {
	if IsSerializationFailure(err) {
		return shared.WrapError("store", op, shared.ErrConflict, "transaction aborted", err)
	}
	return shared.Unavailable(op, err)
}

// WithinTx implements member.Store. Nested calls join the open transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(tx member.Store) error) (err error) {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return s.fail("WithinTx", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(&Store{conn: s.conn, q: tx, inTx: true}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return s.fail("WithinTx", err)
	}
	return nil
}

// Ping implements member.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.conn.Ping(ctx); err != nil {
		return shared.Unavailable("Ping", err)
	}
	return nil
}

// Close implements member.Store. Closing a transactional view is a no-op.
func (s *Store) Close() error {
	if !s.inTx {
		s.conn.Close()
	}
	return nil
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

	tag, err := s.q.Exec(ctx, `
		INSERT INTO completions (`+completionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		c.ID, c.UserID, c.ActivityID, string(c.ActivityType), c.Points,
		string(c.Period), c.School, c.Comment, c.CompletedAt,
	)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return "", shared.ErrProfileNotFound
		}
		return "", s.fail("InsertCompletion", err)
	}
	if tag.RowsAffected() == 0 {
		return "", shared.ErrCompletionIDConflict
	}
	return c.ID, nil
}

// DeleteCompletion implements activity.CompletionRepository.
func (s *Store) DeleteCompletion(ctx context.Context, userID, completionID string) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM completions WHERE id = $1 AND user_id = $2`, completionID, userID)
	if err != nil {
		return s.fail("DeleteCompletion", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrCompletionNotFound
	}
	return nil
}

// QueryCompletions implements activity.CompletionRepository. Ties on
// completed_at keep insertion order.
func (s *Store) QueryCompletions(ctx context.Context, userID, activityID string) ([]activity.Completion, error) {
	query := `SELECT ` + completionColumns + ` FROM completions WHERE user_id = $1`
	args := []interface{}{userID}
	if activityID != "" {
		query += ` AND activity_id = $2`
		args = append(args, activityID)
	}
	query += ` ORDER BY completed_at DESC, seq ASC`

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, s.fail("QueryCompletions", err)
	}
	defer rows.Close()

	var out []activity.Completion
	for rows.Next() {
		var (
			c            activity.Completion
			kind, period string
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.ActivityID, &kind, &c.Points,
			&period, &c.School, &c.Comment, &c.CompletedAt); err != nil {
			return nil, s.fail("QueryCompletions", err)
		}
		c.ActivityType = activity.Type(kind)
		c.Period = activity.Period(period)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("QueryCompletions", err)
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Profiles
// ─────────────────────────────────────────────────────────────────────────────

const profileColumns = `id, display_name, points, phase, consecutive_days, last_login_date, version, created_at, updated_at`

func scanProfile(row pgx.Row) (member.Profile, error) {
	var p member.Profile
	err := row.Scan(&p.ID, &p.DisplayName, &p.Points, &p.Phase, &p.ConsecutiveDays,
		&p.LastLoginDate, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// CreateProfile implements member.ProfileRepository.
func (s *Store) CreateProfile(ctx context.Context, p member.Profile) error {
	tag, err := s.q.Exec(ctx, `
		INSERT INTO profiles (`+profileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		p.ID, p.DisplayName, p.Points, p.Phase, p.ConsecutiveDays, p.LastLoginDate,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return s.fail("CreateProfile", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrProfileAlreadyExists
	}
	return nil
}

// ReadProfile implements member.ProfileRepository. Inside a transaction the
// row stays locked until commit.
func (s *Store) ReadProfile(ctx context.Context, userID string) (member.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`
	if s.inTx {
		query += ` FOR UPDATE`
	}

	p, err := scanProfile(s.q.QueryRow(ctx, query, userID))
	if err != nil {
		if IsNoRows(err) {
			return member.Profile{}, shared.ErrProfileNotFound
		}
		return member.Profile{}, s.fail("ReadProfile", err)
	}
	return p, nil
}

// UpdateProfile implements member.ProfileRepository.
func (s *Store) UpdateProfile(ctx context.Context, userID string, u member.ProfileUpdate) (member.Profile, error) {
	p, err := scanProfile(s.q.QueryRow(ctx, `
		UPDATE profiles
		SET points = $3, phase = $4, consecutive_days = $5, last_login_date = $6,
		    version = version + 1, updated_at = $7
		WHERE id = $1 AND version = $2
		RETURNING `+profileColumns,
		userID, u.ExpectedVersion, u.Points, u.Phase, u.ConsecutiveDays, u.LastLoginDate, u.At,
	))
	if err == nil {
		return p, nil
	}
	if !IsNoRows(err) {
		return member.Profile{}, s.fail("UpdateProfile", err)
	}

	var exists bool
	if err := s.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM profiles WHERE id = $1)`, userID).Scan(&exists); err != nil {
		return member.Profile{}, s.fail("UpdateProfile", err)
	}
	if !exists {
		return member.Profile{}, shared.ErrProfileNotFound
	}
	return member.Profile{}, shared.ErrProfileConflict
}

// ListProfileIDs implements member.ProfileRepository.
func (s *Store) ListProfileIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	query := `SELECT id FROM profiles WHERE id > $1 ORDER BY id`
	args := []interface{}{afterID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, s.fail("ListProfileIDs", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, s.fail("ListProfileIDs", err)
	}
	return ids, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Phase history
// ─────────────────────────────────────────────────────────────────────────────

// InsertPhaseChange implements member.PhaseHistoryRepository.
func (s *Store) InsertPhaseChange(ctx context.Context, c member.PhaseChange) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO phase_changes (id, user_id, from_phase, to_phase, points, completion_id, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		c.ID, c.UserID, c.FromPhase, c.ToPhase, c.Points, c.CompletionID, c.ChangedAt,
	)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return shared.ErrProfileNotFound
		}
		return s.fail("InsertPhaseChange", err)
	}
	return nil
}

// QueryPhaseChanges implements member.PhaseHistoryRepository.
func (s *Store) QueryPhaseChanges(ctx context.Context, userID string) ([]member.PhaseChange, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, user_id, from_phase, to_phase, points, completion_id, changed_at
		FROM phase_changes WHERE user_id = $1 ORDER BY seq`, userID)
	if err != nil {
		return nil, s.fail("QueryPhaseChanges", err)
	}
	defer rows.Close()

	var out []member.PhaseChange
	for rows.Next() {
		var c member.PhaseChange
		if err := rows.Scan(&c.ID, &c.UserID, &c.FromPhase, &c.ToPhase, &c.Points, &c.CompletionID, &c.ChangedAt); err != nil {
			return nil, s.fail("QueryPhaseChanges", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("QueryPhaseChanges", err)
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Badges
// ─────────────────────────────────────────────────────────────────────────────

// QueryEarnedBadgeIDs implements member.BadgeRepository.
func (s *Store) QueryEarnedBadgeIDs(ctx context.Context, userID string) (member.EarnedSet, error) {
	rows, err := s.q.Query(ctx, `SELECT badge_id FROM earned_badges WHERE user_id = $1`, userID)
	if err != nil {
		return nil, s.fail("QueryEarnedBadgeIDs", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, s.fail("QueryEarnedBadgeIDs", err)
	}

	set := make(member.EarnedSet, len(ids))
	for _, id := range ids {
		set.Add(id)
	}
	return set, nil
}

// QueryEarnedBadges implements member.BadgeRepository.
func (s *Store) QueryEarnedBadges(ctx context.Context, userID string) ([]member.EarnedBadge, error) {
	rows, err := s.q.Query(ctx, `
		SELECT user_id, badge_id, earned_at
		FROM earned_badges WHERE user_id = $1 ORDER BY seq`, userID)
	if err != nil {
		return nil, s.fail("QueryEarnedBadges", err)
	}
	defer rows.Close()

	var out []member.EarnedBadge
	for rows.Next() {
		var b member.EarnedBadge
		if err := rows.Scan(&b.UserID, &b.BadgeID, &b.EarnedAt); err != nil {
			return nil, s.fail("QueryEarnedBadges", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("QueryEarnedBadges", err)
	}
	return out, nil
}

// InsertEarnedBadge implements member.BadgeRepository.
func (s *Store) InsertEarnedBadge(ctx context.Context, b member.EarnedBadge) error {
	tag, err := s.q.Exec(ctx, `
		INSERT INTO earned_badges (user_id, badge_id, earned_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, badge_id) DO NOTHING`,
		b.UserID, b.BadgeID, b.EarnedAt,
	)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return shared.ErrProfileNotFound
		}
		return s.fail("InsertEarnedBadge", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrBadgeAlreadyEarned
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Health
// ─────────────────────────────────────────────────────────────────────────────

// HealthStatus describes the database for readiness probes.
type HealthStatus struct {
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	Pool      PoolStats     `json:"pool"`
	Migration int           `json:"migration"`
	Error     string        `json:"error,omitempty"`
}

// Health pings the database and reports the latest applied migration.
func (s *Store) Health(ctx context.Context) HealthStatus {
	start := time.Now()
	status := HealthStatus{Pool: s.conn.Stats()}

	if err := s.conn.Ping(ctx); err != nil {
		status.Error = err.Error()
		status.Latency = time.Since(start)
		return status
	}
	status.Latency = time.Since(start)

	err := s.conn.Pool().QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&status.Migration)
	if err != nil {
		status.Error = fmt.Sprintf("schema_migrations: %v", err)
		return status
	}
	status.Healthy = true
	return status
}
