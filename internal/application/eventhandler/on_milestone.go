package eventhandler

import (
	"sync"

	"github.com/jornada-hub/jornada/internal/domain/shared"
	"github.com/jornada-hub/jornada/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON MILESTONE HANDLER
// Records phase changes and earned badges as an audit trail in the logs and
// keeps per-process counters for the health endpoint.
// ═══════════════════════════════════════════════════════════════════════════

// MilestoneCounts is a snapshot of the counters.
type MilestoneCounts struct {
	PhaseChanges  int64            `json:"phase_changes"`
	BadgesEarned  int64            `json:"badges_earned"`
	BadgesByID    map[string]int64 `json:"badges_by_id"`
	StreaksBroken int64            `json:"streaks_broken"`
}

// OnMilestoneHandler logs milestones.
type OnMilestoneHandler struct {
	log *logger.Logger

	mu     sync.Mutex
	counts MilestoneCounts
}

// NewOnMilestoneHandler creates the handler.
func NewOnMilestoneHandler(log *logger.Logger) *OnMilestoneHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &OnMilestoneHandler{
		log:    log.With(logger.Component("on_milestone")),
		counts: MilestoneCounts{BadgesByID: make(map[string]int64)},
	}
}

// Register subscribes the handler to the milestone events.
func (h *OnMilestoneHandler) Register(sub shared.EventSubscriber) error {
	for _, t := range []shared.EventType{
		shared.EventPhaseChanged,
		shared.EventBadgeEarned,
		shared.EventStreakUpdated,
	} {
		if err := sub.Subscribe(t, h.Handle); err != nil {
			return err
		}
	}
	return nil
}

// Handle implements shared.EventHandler.
func (h *OnMilestoneHandler) Handle(event shared.Event) error {
	switch e := event.(type) {
	case shared.PhaseChangedEvent:
		h.mu.Lock()
		h.counts.PhaseChanges++
		h.mu.Unlock()
		h.log.Info("phase changed",
			logger.UserID(e.AggregateID()),
			logger.String("from", e.FromPhase),
			logger.PhaseName(e.ToPhase),
			logger.Points(e.Points),
		)
	case shared.BadgeEarnedEvent:
		h.mu.Lock()
		h.counts.BadgesEarned++
		h.counts.BadgesByID[e.BadgeID]++
		h.mu.Unlock()
		h.log.Info("badge earned",
			logger.UserID(e.AggregateID()),
			logger.BadgeID(e.BadgeID),
			logger.String("badge_name", e.BadgeName),
		)
	case shared.StreakUpdatedEvent:
		if !e.Broken {
			return nil
		}
		h.mu.Lock()
		h.counts.StreaksBroken++
		h.mu.Unlock()
		h.log.Debug("streak broken",
			logger.UserID(e.AggregateID()),
			logger.Int("previous", e.PreviousStreak),
		)
	}
	return nil
}

// Counts returns a copy of the counters.
func (h *OnMilestoneHandler) Counts() MilestoneCounts {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.counts
	out.BadgesByID = make(map[string]int64, len(h.counts.BadgesByID))
	for k, v := range h.counts.BadgesByID {
		out.BadgesByID[k] = v
	}
	return out
}
