package messaging

import (
	"sync"
	"time"

	"github.com/jornada-hub/jornada/internal/domain/shared"
)

// EventBusMetrics tracks event bus activity.
type EventBusMetrics struct {
	mu sync.RWMutex

	published        map[shared.EventType]int64
	handlerRuns      int64
	handlerSuccesses int64
	handlerDuration  time.Duration
	since            time.Time
}

// NewEventBusMetrics creates a new metrics tracker.
func NewEventBusMetrics() *EventBusMetrics {
	return &EventBusMetrics{
		published: make(map[shared.EventType]int64),
		since:     time.Now(),
	}
}

// RecordPublish counts a published event. A nil tracker ignores it.
func (m *EventBusMetrics) RecordPublish(eventType shared.EventType) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[eventType]++
}

// RecordHandlerExecution counts one handler run. A nil tracker ignores it.
func (m *EventBusMetrics) RecordHandlerExecution(_ shared.EventType, duration time.Duration, success bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlerRuns++
	m.handlerDuration += duration
	if success {
		m.handlerSuccesses++
	}
}

// EventBusMetricsSnapshot is a point-in-time copy of the metrics.
type EventBusMetricsSnapshot struct {
	Published              map[shared.EventType]int64 `json:"published"`
	TotalPublished         int64                      `json:"total_published"`
	HandlerRuns            int64                      `json:"handler_runs"`
	HandlerFailures        int64                      `json:"handler_failures"`
	HandlerSuccessRate     float64                    `json:"handler_success_rate"`
	AverageHandlerDuration time.Duration              `json:"average_handler_duration"`
	Since                  time.Time                  `json:"since"`
}

// Snapshot returns a copy of the current metrics.
func (m *EventBusMetrics) Snapshot() EventBusMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := EventBusMetricsSnapshot{
		Published:          make(map[shared.EventType]int64, len(m.published)),
		HandlerRuns:        m.handlerRuns,
		HandlerFailures:    m.handlerRuns - m.handlerSuccesses,
		HandlerSuccessRate: 1,
		Since:              m.since,
	}
	for t, n := range m.published {
		s.Published[t] = n
		s.TotalPublished += n
	}
	if m.handlerRuns > 0 {
		s.HandlerSuccessRate = float64(m.handlerSuccesses) / float64(m.handlerRuns)
		s.AverageHandlerDuration = m.handlerDuration / time.Duration(m.handlerRuns)
	}
	return s
}
