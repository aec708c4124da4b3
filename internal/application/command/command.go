// Package command contains write operations (CQRS - Commands).
//
// Handlers sit between transports and the progression engine. They own the
// concerns the engine leaves to its callers: the cool-down precondition and
// the retry policy for conflicts and unavailable stores.
package command

import (
	"context"
	"errors"
	"time"

	"github.com/jornada-hub/jornada/internal/application/progression"
	"github.com/jornada-hub/jornada/internal/domain/member"
	"github.com/jornada-hub/jornada/internal/domain/shared"
	"github.com/jornada-hub/jornada/pkg/logger"
	"github.com/jornada-hub/jornada/pkg/retry"
	"github.com/jornada-hub/jornada/pkg/timeutil"
)

// Engine is the subset of the progression engine the commands drive.
type Engine interface {
	RegisterMember(ctx context.Context, input progression.RegisterMemberInput) (*member.Profile, error)
	RecordCompletion(ctx context.Context, input progression.RecordCompletionInput) (*progression.Outcome, error)
	RevertCompletion(ctx context.Context, userID, completionID string) (*progression.Outcome, error)
	RecordLogin(ctx context.Context, userID string, at time.Time) (*progression.LoginOutcome, error)
}

var _ Engine = (*progression.Engine)(nil)

// Options holds the collaborators shared by every handler.
type Options struct {
	// Retrier reruns engine calls that failed with a retryable error.
	// Defaults to DefaultRetrier.
	Retrier *retry.Retrier

	// Clock defaults to timeutil.Now.
	Clock func() time.Time

	// Logger defaults to a no-op logger.
	Logger *logger.Logger
}

func (o Options) withDefaults() Options {
	if o.Retrier == nil {
		o.Retrier = DefaultRetrier()
	}
	if o.Clock == nil {
		o.Clock = timeutil.Now
	}
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
	return o
}

// ShouldRetry reports whether a failed engine call can be rerun as a whole.
// A reused completion ID is a conflict that a rerun cannot resolve.
func ShouldRetry(err error) bool {
	if errors.Is(err, shared.ErrCompletionIDConflict) {
		return false
	}
	return shared.IsRetryable(err)
}

// DefaultRetrier retries conflicts and unavailable stores a few times with
// exponential backoff.
func DefaultRetrier() *retry.Retrier {
	return retry.StoreRetrier(ShouldRetry)
}
