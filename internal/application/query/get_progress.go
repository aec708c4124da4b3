package query

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jornada-hub/jornada/internal/domain/badge"
	"github.com/jornada-hub/jornada/internal/domain/member"
	"github.com/jornada-hub/jornada/internal/domain/phase"
	"github.com/jornada-hub/jornada/internal/domain/shared"
	"github.com/jornada-hub/jornada/pkg/logger"
	"github.com/jornada-hub/jornada/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS QUERY
// Everything a member's progress screen shows: stats, phase, the distance to
// the next phase, earned badges and the phase history.
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressQuery contains the parameters of the progress query.
type GetProgressQuery struct {
	UserID string

	// SkipCache forces a read from the store.
	SkipCache bool
}

// EarnedBadgeDTO is a badge the member holds.
type EarnedBadgeDTO struct {
	BadgeDTO
	EarnedAt time.Time `json:"earned_at"`
}

// PhaseChangeDTO is one entry of the phase history.
type PhaseChangeDTO struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Points    int       `json:"points"`
	ChangedAt time.Time `json:"changed_at"`
}

// ProgressView is the rendered progress of one member.
type ProgressView struct {
	UserID      string       `json:"user_id"`
	DisplayName string       `json:"display_name"`
	Stats       member.Stats `json:"stats"`

	// ─────────────────────────────────────────────────────────────────────────
	// Phase
	// ─────────────────────────────────────────────────────────────────────────

	Phase     PhaseDTO  `json:"phase"`
	NextPhase *PhaseDTO `json:"next_phase,omitempty"`

	// PointsToNext is nil at the top tier.
	PointsToNext *int `json:"points_to_next,omitempty"`

	// PhaseProgress goes from 0 to 1 inside the current phase.
	PhaseProgress float64 `json:"phase_progress"`

	// ─────────────────────────────────────────────────────────────────────────
	// History
	// ─────────────────────────────────────────────────────────────────────────

	// Badges are listed in catalog order.
	Badges       []EarnedBadgeDTO `json:"badges"`
	PhaseHistory []PhaseChangeDTO `json:"phase_history"`

	LastLoginDate *time.Time `json:"last_login_date,omitempty"`
	GeneratedAt   time.Time  `json:"generated_at"`
}

// GetProgressConfig configures the handler.
type GetProgressConfig struct {
	// CacheTTL is passed to the cache. Zero uses the cache default.
	CacheTTL time.Duration
	Clock    func() time.Time
	Logger   *logger.Logger
}

// GetProgressHandler serves progress views, cache-aside.
type GetProgressHandler struct {
	reader ProgressReader
	phases *phase.Table
	badges *badge.Catalog
	cache  ProgressCache
	ttl    time.Duration
	clock  func() time.Time
	log    *logger.Logger
}

// NewGetProgressHandler creates a new handler. cache may be nil.
func NewGetProgressHandler(
	reader ProgressReader,
	phases *phase.Table,
	badges *badge.Catalog,
	cache ProgressCache,
	config GetProgressConfig,
) *GetProgressHandler {
	if config.Clock == nil {
		config.Clock = timeutil.Now
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	return &GetProgressHandler{
		reader: reader,
		phases: phases,
		badges: badges,
		cache:  cache,
		ttl:    config.CacheTTL,
		clock:  config.Clock,
		log:    config.Logger.With(logger.Component("query.get_progress")),
	}
}

// Handle executes the query.
func (h *GetProgressHandler) Handle(ctx context.Context, q GetProgressQuery) (*ProgressView, error) {
	userID := strings.TrimSpace(q.UserID)
	if userID == "" {
		return nil, shared.ErrInvalidUserID
	}

	if h.cache != nil && !q.SkipCache {
		view, err := h.cache.Get(ctx, userID)
		switch {
		case err == nil:
			return view, nil
		case !errors.Is(err, ErrCacheMiss):
			// A broken cache degrades to a store read.
			h.log.Warn("progress cache read failed", logger.UserID(userID), logger.Err(err))
		}
	}

	view, err := h.build(ctx, userID)
	if err != nil {
		return nil, err
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, view, h.ttl); err != nil {
			h.log.Warn("progress cache write failed", logger.UserID(userID), logger.Err(err))
		}
	}
	return view, nil
}

func (h *GetProgressHandler) build(ctx context.Context, userID string) (*ProgressView, error) {
	profile, err := h.reader.ReadProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	history, err := h.reader.QueryCompletions(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	earned, err := h.reader.QueryEarnedBadges(ctx, userID)
	if err != nil {
		return nil, err
	}
	changes, err := h.reader.QueryPhaseChanges(ctx, userID)
	if err != nil {
		return nil, err
	}

	stats := member.Aggregate(history, profile)
	current := h.phases.Resolve(stats.Points)

	view := &ProgressView{
		UserID:        profile.ID,
		DisplayName:   profile.DisplayName,
		Stats:         stats,
		Phase:         NewPhaseDTO(current),
		PhaseProgress: phaseProgress(current, stats.Points),
		Badges:        h.earnedBadges(earned),
		PhaseHistory:  make([]PhaseChangeDTO, 0, len(changes)),
		LastLoginDate: profile.LastLoginDate,
		GeneratedAt:   h.clock(),
	}
	if next, ok := h.phases.Next(current.Name); ok {
		dto := NewPhaseDTO(next)
		view.NextPhase = &dto
		missing, _ := h.phases.PointsToNext(stats.Points)
		view.PointsToNext = &missing
	}
	for _, c := range changes {
		view.PhaseHistory = append(view.PhaseHistory, PhaseChangeDTO{
			From:      c.FromPhase,
			To:        c.ToPhase,
			Points:    c.Points,
			ChangedAt: c.ChangedAt,
		})
	}
	return view, nil
}

// earnedBadges orders held badges by catalog position. Badges that were
// removed from the catalog keep their ID and go last.
func (h *GetProgressHandler) earnedBadges(earned []member.EarnedBadge) []EarnedBadgeDTO {
	at := make(map[string]time.Time, len(earned))
	for _, e := range earned {
		at[e.BadgeID] = e.EarnedAt
	}

	out := make([]EarnedBadgeDTO, 0, len(earned))
	for _, b := range h.badges.Badges() {
		if when, ok := at[b.ID]; ok {
			out = append(out, EarnedBadgeDTO{BadgeDTO: NewBadgeDTO(b), EarnedAt: when})
			delete(at, b.ID)
		}
	}
	for _, e := range earned {
		if _, orphan := at[e.BadgeID]; orphan {
			out = append(out, EarnedBadgeDTO{BadgeDTO: BadgeDTO{ID: e.BadgeID, Name: e.BadgeID}, EarnedAt: e.EarnedAt})
		}
	}
	return out
}

func phaseProgress(p phase.Phase, points int) float64 {
	if p.IsTop() {
		return 1
	}
	span := p.MaxPoints - p.MinPoints + 1
	if span <= 0 {
		return 0
	}
	return float64(points-p.MinPoints) / float64(span)
}
