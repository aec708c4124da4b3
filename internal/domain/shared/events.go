package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each event is published after the store transaction
// that produced it has committed.
const (
	// Member events
	EventMemberRegistered EventType = "member.registered"

	// Progress events
	EventCompletionRecorded EventType = "progress.completion_recorded"
	EventCompletionReverted EventType = "progress.completion_reverted"
	EventPhaseChanged       EventType = "progress.phase_changed"
	EventBadgeEarned        EventType = "progress.badge_earned"
	EventStreakUpdated      EventType = "progress.streak_updated"
	EventProfileReconciled  EventType = "progress.reconciled"
)

// ProgressEventTypes lists every event that changes what a member's progress looks like.
var ProgressEventTypes = []EventType{
	EventMemberRegistered,
	EventCompletionRecorded,
	EventCompletionReverted,
	EventPhaseChanged,
	EventBadgeEarned,
	EventStreakUpdated,
	EventProfileReconciled,
}

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the member the event belongs to.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// MemberRegisteredEvent is emitted when a profile is created.
type MemberRegisteredEvent struct {
	BaseEvent
	DisplayName string `json:"display_name"`
	Phase       string `json:"phase"`
}

// Payload implements Event interface.
func (e MemberRegisteredEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"display_name": e.DisplayName,
		"phase":        e.Phase,
	}
}

// CompletionEvent is emitted when a completion is recorded or reverted.
type CompletionEvent struct {
	BaseEvent
	CompletionID string `json:"completion_id"`
	ActivityID   string `json:"activity_id"`
	ActivityType string `json:"activity_type"`
	Points       int    `json:"points"`
	TotalPoints  int    `json:"total_points"`
}

// Payload implements Event interface.
func (e CompletionEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"completion_id": e.CompletionID,
		"activity_id":   e.ActivityID,
		"activity_type": e.ActivityType,
		"points":        e.Points,
		"total_points":  e.TotalPoints,
	}
}

// PhaseChangedEvent is emitted when a member moves to another phase.
type PhaseChangedEvent struct {
	BaseEvent
	FromPhase string `json:"from_phase"`
	ToPhase   string `json:"to_phase"`
	Points    int    `json:"points"`
}

// Payload implements Event interface.
func (e PhaseChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"from_phase": e.FromPhase,
		"to_phase":   e.ToPhase,
		"points":     e.Points,
	}
}

// BadgeEarnedEvent is emitted once per newly granted badge.
type BadgeEarnedEvent struct {
	BaseEvent
	BadgeID   string `json:"badge_id"`
	BadgeName string `json:"badge_name"`
}

// Payload implements Event interface.
func (e BadgeEarnedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"badge_id":   e.BadgeID,
		"badge_name": e.BadgeName,
	}
}

// StreakUpdatedEvent is emitted when a login is recorded.
type StreakUpdatedEvent struct {
	BaseEvent
	PreviousStreak int  `json:"previous_streak"`
	Streak         int  `json:"streak"`
	Broken         bool `json:"broken"`
}

// Payload implements Event interface.
func (e StreakUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"previous_streak": e.PreviousStreak,
		"streak":          e.Streak,
		"broken":          e.Broken,
	}
}

// ProfileReconciledEvent is emitted when reconciliation rewrote a drifted profile.
type ProfileReconciledEvent struct {
	BaseEvent
	Points   int      `json:"points"`
	Phase    string   `json:"phase"`
	Warnings []string `json:"warnings"`
}

// Payload implements Event interface.
func (e ProfileReconciledEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"points":   e.Points,
		"phase":    e.Phase,
		"warnings": e.Warnings,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Bus contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
