// Package memory implements member.Store in process memory. It backs tests and
// single-process development runs.
//
// Transactions are serialized: WithinTx works on a copy of the data and swaps
// it in on success, so a failed transaction leaves nothing behind.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/jornada-hub/jornada/internal/domain/activity"
	"github.com/jornada-hub/jornada/internal/domain/member"
	"github.com/jornada-hub/jornada/internal/domain/shared"
)

type data struct {
	profiles     map[string]member.Profile
	completions  map[string][]activity.Completion
	completionBy map[string]string
	phaseChanges map[string][]member.PhaseChange
	phaseIDs     map[string]struct{}
	badges       map[string][]member.EarnedBadge
}

func newData() *data {
	return &data{
		profiles:     make(map[string]member.Profile),
		completions:  make(map[string][]activity.Completion),
		completionBy: make(map[string]string),
		phaseChanges: make(map[string][]member.PhaseChange),
		phaseIDs:     make(map[string]struct{}),
		badges:       make(map[string][]member.EarnedBadge),
	}
}

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.profiles {
		c.profiles[k] = v
	}
	for k, v := range d.completions {
		c.completions[k] = append([]activity.Completion(nil), v...)
	}
	for k, v := range d.completionBy {
		c.completionBy[k] = v
	}
	for k, v := range d.phaseChanges {
		c.phaseChanges[k] = append([]member.PhaseChange(nil), v...)
	}
	for k := range d.phaseIDs {
		c.phaseIDs[k] = struct{}{}
	}
	for k, v := range d.badges {
		c.badges[k] = append([]member.EarnedBadge(nil), v...)
	}
	return c
}

// Store is an in-memory member.Store.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data *data
	view bool

	faultMu sync.RWMutex
	fault   func(op string) error
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{data: newData()}
}

var _ member.Store = (*Store)(nil)

// InjectFault makes every operation call fn first and fail with its error
// when it returns one. Pass nil to clear.
func (s *Store) InjectFault(fn func(op string) error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.fault = fn
}

func (s *Store) check(op string) error {
	s.faultMu.RLock()
	fn := s.fault
	s.faultMu.RUnlock()
	if fn == nil {
		return nil
	}
	if err := fn(op); err != nil {
		return shared.Unavailable(op, err)
	}
	return nil
}

func (s *Store) read(op string, fn func(d *data) error) error {
	if err := s.check(op); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.data)
}

func (s *Store) write(op string, fn func(d *data) error) error {
	if err := s.check(op); err != nil {
		return err
	}
	if !s.view {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

// WithinTx runs fn on a private copy and publishes it when fn succeeds.
func (s *Store) WithinTx(ctx context.Context, fn func(tx member.Store) error) error {
	if s.view {
		return fn(s)
	}
	if err := s.check("WithinTx"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return shared.Unavailable("WithinTx", err)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()

	tx := &Store{data: snapshot, view: true}
	s.faultMu.RLock()
	tx.fault = s.fault
	s.faultMu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = tx.data
	s.mu.Unlock()
	return nil
}

// Ping implements member.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.check("Ping")
}

// Close implements member.Store.
func (s *Store) Close() error {
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Completions
// ─────────────────────────────────────────────────────────────────────────────

// InsertCompletion implements activity.CompletionRepository.
func (s *Store) InsertCompletion(ctx context.Context, c activity.Completion) (string, error) {
	err := s.write("InsertCompletion", func(d *data) error {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if _, taken := d.completionBy[c.ID]; taken {
			return shared.ErrCompletionIDConflict
		}
		if c.Points != nil {
			c.Points = activity.IntPtr(*c.Points)
		}
		d.completions[c.UserID] = append(d.completions[c.UserID], c)
		d.completionBy[c.ID] = c.UserID
		return nil
	})
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

// DeleteCompletion implements activity.CompletionRepository.
func (s *Store) DeleteCompletion(ctx context.Context, userID, completionID string) error {
	return s.write("DeleteCompletion", func(d *data) error {
		if owner, ok := d.completionBy[completionID]; !ok || owner != userID {
			return shared.ErrCompletionNotFound
		}
		list := d.completions[userID]
		out := make([]activity.Completion, 0, len(list))
		for _, c := range list {
			if c.ID != completionID {
				out = append(out, c)
			}
		}
		d.completions[userID] = out
		delete(d.completionBy, completionID)
		return nil
	})
}

// QueryCompletions implements activity.CompletionRepository.
func (s *Store) QueryCompletions(ctx context.Context, userID, activityID string) ([]activity.Completion, error) {
	var out []activity.Completion
	err := s.read("QueryCompletions", func(d *data) error {
		for _, c := range d.completions[userID] {
			if activityID == "" || c.ActivityID == activityID {
				out = append(out, c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CompletedAt.After(out[j].CompletedAt)
	})
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Profiles
// ─────────────────────────────────────────────────────────────────────────────

// CreateProfile implements member.ProfileRepository.
func (s *Store) CreateProfile(ctx context.Context, p member.Profile) error {
	return s.write("CreateProfile", func(d *data) error {
		if _, exists := d.profiles[p.ID]; exists {
			return shared.ErrProfileAlreadyExists
		}
		p.Version = 1
		d.profiles[p.ID] = p
		return nil
	})
}

// ReadProfile implements member.ProfileRepository.
func (s *Store) ReadProfile(ctx context.Context, userID string) (member.Profile, error) {
	var p member.Profile
	err := s.read("ReadProfile", func(d *data) error {
		found, ok := d.profiles[userID]
		if !ok {
			return shared.ErrProfileNotFound
		}
		p = found
		return nil
	})
	return p, err
}

// UpdateProfile implements member.ProfileRepository.
func (s *Store) UpdateProfile(ctx context.Context, userID string, u member.ProfileUpdate) (member.Profile, error) {
	var updated member.Profile
	err := s.write("UpdateProfile", func(d *data) error {
		current, ok := d.profiles[userID]
		if !ok {
			return shared.ErrProfileNotFound
		}
		if current.Version != u.ExpectedVersion {
			return shared.ErrProfileConflict
		}
		updated = u.Apply(current)
		d.profiles[userID] = updated
		return nil
	})
	return updated, err
}

// ListProfileIDs implements member.ProfileRepository.
func (s *Store) ListProfileIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	var ids []string
	err := s.read("ListProfileIDs", func(d *data) error {
		for id := range d.profiles {
			if id > afterID {
				ids = append(ids, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Phase history
// ─────────────────────────────────────────────────────────────────────────────

// InsertPhaseChange implements member.PhaseHistoryRepository.
func (s *Store) InsertPhaseChange(ctx context.Context, c member.PhaseChange) error {
	return s.write("InsertPhaseChange", func(d *data) error {
		if _, dup := d.phaseIDs[c.ID]; dup {
			return nil
		}
		d.phaseIDs[c.ID] = struct{}{}
		d.phaseChanges[c.UserID] = append(d.phaseChanges[c.UserID], c)
		return nil
	})
}

// QueryPhaseChanges implements member.PhaseHistoryRepository.
func (s *Store) QueryPhaseChanges(ctx context.Context, userID string) ([]member.PhaseChange, error) {
	var out []member.PhaseChange
	err := s.read("QueryPhaseChanges", func(d *data) error {
		out = append(out, d.phaseChanges[userID]...)
		return nil
	})
	return out, err
}

// ─────────────────────────────────────────────────────────────────────────────
// Badges
// ─────────────────────────────────────────────────────────────────────────────

// QueryEarnedBadgeIDs implements member.BadgeRepository.
func (s *Store) QueryEarnedBadgeIDs(ctx context.Context, userID string) (member.EarnedSet, error) {
	set := member.EarnedSet{}
	err := s.read("QueryEarnedBadgeIDs", func(d *data) error {
		for _, b := range d.badges[userID] {
			set.Add(b.BadgeID)
		}
		return nil
	})
	return set, err
}

// QueryEarnedBadges implements member.BadgeRepository.
func (s *Store) QueryEarnedBadges(ctx context.Context, userID string) ([]member.EarnedBadge, error) {
	var out []member.EarnedBadge
	err := s.read("QueryEarnedBadges", func(d *data) error {
		out = append(out, d.badges[userID]...)
		return nil
	})
	return out, err
}

// InsertEarnedBadge implements member.BadgeRepository.
func (s *Store) InsertEarnedBadge(ctx context.Context, b member.EarnedBadge) error {
	return s.write("InsertEarnedBadge", func(d *data) error {
		for _, existing := range d.badges[b.UserID] {
			if existing.BadgeID == b.BadgeID {
				return shared.ErrBadgeAlreadyEarned
			}
		}
		d.badges[b.UserID] = append(d.badges[b.UserID], b)
		return nil
	})
}
