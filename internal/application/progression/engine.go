// Package progression contains the Progression Engine: the orchestrator that
// turns completions and logins into point totals, phase transitions and badge
// grants.
//
// Every mutating operation runs as one store transaction:
//
//	Read Profile → Read History → Mutate Log → Recompute Stats →
//	Resolve Phases → Record Phase Change → Update Profile → Grant Badges
//
// Events are published only after the transaction commits. The engine holds no
// mutable state of its own and never retries; callers decide whether to rerun
// an operation that failed with a conflict or an unavailable store.
package progression

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jornada-hub/jornada/internal/domain/badge"
	"github.com/jornada-hub/jornada/internal/domain/member"
	"github.com/jornada-hub/jornada/internal/domain/phase"
	"github.com/jornada-hub/jornada/internal/domain/shared"
	"github.com/jornada-hub/jornada/pkg/logger"
	"github.com/jornada-hub/jornada/pkg/timeutil"
)

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	// GenerateID generates a new unique ID.
	GenerateID() string
}

// UUIDGenerator issues random UUIDs.
type UUIDGenerator struct{}

// GenerateID implements IDGenerator.
func (UUIDGenerator) GenerateID() string {
	return uuid.NewString()
}

// Config contains the engine's optional collaborators.
type Config struct {
	// Clock returns the current time. Defaults to timeutil.Now.
	Clock func() time.Time

	// IDs issues completion IDs. Defaults to UUIDGenerator.
	IDs IDGenerator

	// Logger defaults to a no-op logger.
	Logger *logger.Logger
}

// Engine is the progression orchestrator.
type Engine struct {
	store  member.Store
	phases *phase.Table
	badges *badge.Catalog
	events shared.EventPublisher

	clock func() time.Time
	ids   IDGenerator
	log   *logger.Logger
}

// NewEngine creates an engine. events may be nil.
func NewEngine(
	store member.Store,
	phases *phase.Table,
	badges *badge.Catalog,
	events shared.EventPublisher,
	config Config,
) *Engine {
	e := &Engine{
		store:  store,
		phases: phases,
		badges: badges,
		events: events,
		clock:  config.Clock,
		ids:    config.IDs,
		log:    config.Logger,
	}
	if e.clock == nil {
		e.clock = timeutil.Now
	}
	if e.ids == nil {
		e.ids = UUIDGenerator{}
	}
	if e.log == nil {
		e.log = logger.Nop()
	}
	e.log = e.log.With(logger.Component("progression"))
	return e
}

// Phases returns the phase table the engine resolves against.
func (e *Engine) Phases() *phase.Table {
	return e.phases
}

// Badges returns the badge catalog the engine grants from.
func (e *Engine) Badges() *badge.Catalog {
	return e.badges
}

// ══════════════════════════════════════════════════════════════════════════════
// FLOW ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// Step names a stage of an engine operation.
type Step string

const (
	StepValidate      Step = "validate"
	StepReadProfile   Step = "read_profile"
	StepReadHistory   Step = "read_history"
	StepMutateLog     Step = "mutate_log"
	StepRecordPhase   Step = "record_phase_change"
	StepUpdateProfile Step = "update_profile"
	StepGrantBadges   Step = "grant_badges"
	StepCommit        Step = "commit"
	StepPublishEvents Step = "publish_events"
	StepCreateProfile Step = "create_profile"
	StepComplete      Step = "complete"
)

// FlowError reports the step at which an engine operation failed. It unwraps
// to the store or domain error, so shared.IsConflict and friends still apply.
type FlowError struct {
	Operation string
	Step      Step
	UserID    string
	Cause     error
}

// Error implements the error interface.
func (e *FlowError) Error() string {
	return fmt.Sprintf("%s failed at step '%s' for user %s: %v", e.Operation, e.Step, e.UserID, e.Cause)
}

// Unwrap returns the underlying error.
func (e *FlowError) Unwrap() error {
	return e.Cause
}

func flowError(op string, step Step, userID string, err error) error {
	return &FlowError{Operation: op, Step: step, UserID: userID, Cause: err}
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENTS
// ══════════════════════════════════════════════════════════════════════════════

// publish sends events after commit. Failures are logged; the state they
// describe is already durable and the read side can be rebuilt from the store.
func (e *Engine) publish(events []shared.Event) {
	if e.events == nil {
		return
	}
	for _, ev := range events {
		if err := e.events.Publish(ev); err != nil {
			e.log.Warn("failed to publish event",
				logger.String("event_type", string(ev.EventType())),
				logger.UserID(ev.AggregateID()),
				logger.Err(err),
			)
		}
	}
}

func (e *Engine) settlementEvents(s *settlement) []shared.Event {
	var events []shared.Event
	if s.phaseChange != nil {
		events = append(events, shared.PhaseChangedEvent{
			BaseEvent: shared.NewBaseEvent(shared.EventPhaseChanged, s.userID, s.at),
			FromPhase: s.phaseChange.FromPhase,
			ToPhase:   s.phaseChange.ToPhase,
			Points:    s.phaseChange.Points,
		})
	}
	for _, b := range s.newBadges {
		events = append(events, shared.BadgeEarnedEvent{
			BaseEvent: shared.NewBaseEvent(shared.EventBadgeEarned, s.userID, s.at),
			BadgeID:   b.ID,
			BadgeName: b.Name,
		})
	}
	return events
}
