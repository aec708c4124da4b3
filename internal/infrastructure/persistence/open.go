// Package persistence selects and opens the member.Store backend.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jornada-hub/jornada/internal/domain/member"
	"github.com/jornada-hub/jornada/internal/infrastructure/persistence/memory"
	"github.com/jornada-hub/jornada/internal/infrastructure/persistence/postgres"
	"github.com/jornada-hub/jornada/internal/infrastructure/persistence/sqlite"
	"github.com/jornada-hub/jornada/pkg/logger"
	"github.com/jornada-hub/jornada/pkg/retry"
)

// Supported drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrUnknownDriver is returned for a driver name Open does not support.
var ErrUnknownDriver = errors.New("persistence: unknown driver")

// Options selects and configures the backend.
type Options struct {
	Driver      string
	DatabaseURL string
	SQLitePath  string
	Pool        postgres.PoolSettings

	// ConnectAttempts bounds how often a failed connection is retried.
	ConnectAttempts int
	ConnectDelay    time.Duration

	Logger *logger.Logger
}

// Open builds the store named by opts.Driver. Network backends are retried
// with exponential backoff while the database comes up.
func Open(ctx context.Context, opts Options) (member.Store, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("persistence"), logger.String("driver", opts.Driver))

	attempts := opts.ConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := opts.ConnectDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	retryOpts := []retry.Option{
		retry.WithMaxAttempts(attempts),
		retry.WithInitialDelay(delay),
		retry.WithMaxDelay(10 * delay),
		retry.WithRetryIf(func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}),
		retry.WithOnRetry(func(attempt int, err error, wait time.Duration) {
			log.Warn("store not ready, retrying",
				logger.Int("attempt", attempt), logger.Duration("wait", wait), logger.Err(err))
		}),
	}

	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", DriverMemory:
		log.Info("using in-memory store")
		return memory.NewStore(), nil

	case DriverSQLite:
		if opts.SQLitePath == "" {
			return nil, fmt.Errorf("persistence: sqlite path is required")
		}
		store, err := retry.DoWithData(ctx, func(ctx context.Context) (*sqlite.Store, error) {
			return sqlite.Open(ctx, opts.SQLitePath)
		}, retryOpts...)
		if err != nil {
			return nil, err
		}
		log.Info("sqlite store opened", logger.String("path", opts.SQLitePath))
		return store, nil

	case DriverPostgres:
		if opts.DatabaseURL == "" {
			return nil, fmt.Errorf("persistence: database url is required")
		}
		store, err := retry.DoWithData(ctx, func(ctx context.Context) (*postgres.Store, error) {
			return postgres.Open(ctx, opts.DatabaseURL, opts.Pool)
		}, retryOpts...)
		if err != nil {
			return nil, err
		}
		log.Info("postgres store opened", logger.Any("pool", store.Connection().Stats()))
		return store, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
}
