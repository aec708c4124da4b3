// Package eventhandler contains domain event handlers.
// They run after the store transaction has committed and only produce side
// effects such as cache invalidation and logging. A failing handler never
// affects the operation that published the event.
package eventhandler

import (
	"context"
	"fmt"
	"time"

	"github.com/jornada-hub/jornada/internal/application/query"
	"github.com/jornada-hub/jornada/internal/domain/shared"
	"github.com/jornada-hub/jornada/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON PROGRESS CHANGED HANDLER
// Drops the cached progress view of a member whenever their progress moves.
// ═══════════════════════════════════════════════════════════════════════════

// ProgressChangedConfig contains the handler configuration.
type ProgressChangedConfig struct {
	// Timeout bounds one invalidation call.
	Timeout time.Duration
}

// DefaultProgressChangedConfig returns the default configuration.
func DefaultProgressChangedConfig() ProgressChangedConfig {
	return ProgressChangedConfig{Timeout: 2 * time.Second}
}

// OnProgressChangedHandler invalidates progress caches.
type OnProgressChangedHandler struct {
	caches []query.ProgressCache
	log    *logger.Logger
	config ProgressChangedConfig
}

// NewOnProgressChangedHandler creates the handler. Nil caches are ignored.
func NewOnProgressChangedHandler(log *logger.Logger, config ProgressChangedConfig, caches ...query.ProgressCache) *OnProgressChangedHandler {
	if log == nil {
		log = logger.Nop()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultProgressChangedConfig().Timeout
	}
	h := &OnProgressChangedHandler{
		log:    log.With(logger.Component("on_progress_changed")),
		config: config,
	}
	for _, c := range caches {
		if c != nil {
			h.caches = append(h.caches, c)
		}
	}
	return h
}

// Register subscribes the handler to every progress event.
func (h *OnProgressChangedHandler) Register(sub shared.EventSubscriber) error {
	for _, t := range shared.ProgressEventTypes {
		if err := sub.Subscribe(t, h.Handle); err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
	}
	return nil
}

// Handle implements shared.EventHandler.
func (h *OnProgressChangedHandler) Handle(event shared.Event) error {
	userID := event.AggregateID()
	if userID == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var firstErr error
	for _, c := range h.caches {
		if err := c.Invalidate(ctx, userID); err != nil {
			h.log.Warn("failed to invalidate progress cache",
				logger.UserID(userID),
				logger.String("event_type", string(event.EventType())),
				logger.Err(err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
