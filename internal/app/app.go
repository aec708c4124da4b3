// Package app wires the configuration into a running object graph shared by
// the server and worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jornada-hub/jornada/config"
	"github.com/jornada-hub/jornada/internal/application/command"
	"github.com/jornada-hub/jornada/internal/application/eventhandler"
	"github.com/jornada-hub/jornada/internal/application/progression"
	"github.com/jornada-hub/jornada/internal/application/query"
	"github.com/jornada-hub/jornada/internal/domain/member"
	"github.com/jornada-hub/jornada/internal/domain/shared"
	"github.com/jornada-hub/jornada/internal/infrastructure/catalog"
	"github.com/jornada-hub/jornada/internal/infrastructure/messaging"
	"github.com/jornada-hub/jornada/internal/infrastructure/persistence"
	"github.com/jornada-hub/jornada/internal/infrastructure/persistence/postgres"
	"github.com/jornada-hub/jornada/internal/infrastructure/persistence/projections"
	"github.com/jornada-hub/jornada/internal/infrastructure/persistence/redis"
	"github.com/jornada-hub/jornada/internal/infrastructure/scheduler"
	"github.com/jornada-hub/jornada/internal/infrastructure/scheduler/jobs"
	"github.com/jornada-hub/jornada/internal/interface/http/handlers"
	"github.com/jornada-hub/jornada/pkg/circuitbreaker"
	"github.com/jornada-hub/jornada/pkg/logger"
	"github.com/jornada-hub/jornada/pkg/retry"
)

// EventBus is a bus the application owns and closes.
type EventBus interface {
	shared.EventBus
	Close() error
}

// App holds every long-lived component.
type App struct {
	Config  *config.Config
	Log     *logger.Logger
	Catalog *catalog.Catalog
	Store   member.Store
	Redis   *redis.Cache
	Bus     EventBus
	Engine  *progression.Engine

	Dispatcher *messaging.Dispatcher
	Milestones *eventhandler.OnMilestoneHandler

	ProgressCache query.ProgressCache
	Breaker       *circuitbreaker.CircuitBreaker

	RegisterMember    *command.RegisterMemberHandler
	RecordCompletion  *command.RecordCompletionHandler
	RevertCompletion  *command.RevertCompletionHandler
	RecordLogin       *command.RecordLoginHandler
	GetProgress       *query.GetProgressHandler
	CheckAvailability *query.CheckAvailabilityHandler
	CatalogQuery      *query.CatalogHandler

	closers []func() error
}

// NewLogger builds the service logger from the observability settings.
func NewLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	opts.Format = cfg.Observability.LogFormat
	return logger.New(opts).With(
		logger.String("service", cfg.App.Name),
		logger.String("version", cfg.App.Version),
		logger.String("env", string(cfg.App.Environment)),
	)
}

// Build opens every backend named by cfg. On error, whatever was opened is
// closed again.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (_ *App, err error) {
	a := &App{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 1. Catalog
	// ─────────────────────────────────────────────────────────────────────────
	a.Catalog, err = catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	log.Info("catalog loaded",
		logger.String("source", a.Catalog.Source),
		logger.Int("phases", len(a.Catalog.Phases.Phases())),
		logger.Int("badges", a.Catalog.Badges.Len()),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. Store
	// ─────────────────────────────────────────────────────────────────────────
	a.Store, err = persistence.Open(ctx, persistence.Options{
		Driver:      cfg.Store.Driver,
		DatabaseURL: cfg.Store.DatabaseURL,
		SQLitePath:  cfg.Store.SQLitePath,
		Pool: postgres.PoolSettings{
			MaxConns:        cfg.Store.MaxConns,
			MinConns:        cfg.Store.MinConns,
			MaxConnLifetime: cfg.Store.ConnMaxLifetime,
			MaxConnIdleTime: cfg.Store.ConnMaxIdleTime,
		},
		ConnectAttempts: cfg.Store.ConnectAttempts,
		ConnectDelay:    cfg.Store.ConnectDelay,
		Logger:          log,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, a.Store.Close)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. Redis (optional)
	// ─────────────────────────────────────────────────────────────────────────
	if !cfg.Redis.Disabled {
		a.Redis, err = redis.NewCache(ctx, redis.Config{
			URL:          cfg.Redis.URL,
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   redis.DefaultConfig().MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			// Redis only backs caching and fan-out; run without it.
			log.Warn("redis unavailable, continuing without it", logger.Err(err))
			a.Redis = nil
			err = nil
		} else {
			a.closers = append(a.closers, a.Redis.Close)
			log.Info("redis connected")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. Event bus and handlers
	// ─────────────────────────────────────────────────────────────────────────
	if err = a.buildEvents(); err != nil {
		return nil, err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. Progress cache
	// ─────────────────────────────────────────────────────────────────────────
	if err = a.buildProgressCache(); err != nil {
		return nil, err
	}
	onProgress := eventhandler.NewOnProgressChangedHandler(log, eventhandler.DefaultProgressChangedConfig(), a.ProgressCache)
	if err = onProgress.Register(a.Dispatcher); err != nil {
		return nil, fmt.Errorf("register progress handler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. Engine, commands and queries
	// ─────────────────────────────────────────────────────────────────────────
	a.Engine = progression.NewEngine(a.Store, a.Catalog.Phases, a.Catalog.Badges, a.Bus, progression.Config{Logger: log})

	opts := command.Options{Retrier: NewCommandRetrier(cfg.Retry, log), Logger: log}
	a.RegisterMember = command.NewRegisterMemberHandler(a.Engine, opts)
	a.RecordCompletion = command.NewRecordCompletionHandler(a.Engine, a.Store, opts)
	a.RevertCompletion = command.NewRevertCompletionHandler(a.Engine, opts)
	a.RecordLogin = command.NewRecordLoginHandler(a.Engine, opts)

	a.GetProgress = query.NewGetProgressHandler(a.Store, a.Catalog.Phases, a.Catalog.Badges, a.ProgressCache, query.GetProgressConfig{Logger: log})
	a.CheckAvailability = query.NewCheckAvailabilityHandler(a.Store, nil)
	a.CatalogQuery = query.NewCatalogHandler(a.Catalog.Phases, a.Catalog.Badges)

	return a, nil
}

func (a *App) buildEvents() error {
	cfg, log := a.Config, a.Log
	local := messaging.DefaultInMemoryEventBusConfig()
	local.Logger = log

	if a.Redis != nil && cfg.Features.IsEnabled(config.FeatureEventsRemote) {
		bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         messaging.NewGoRedisClient(a.Redis.Client()),
			Channel:        cfg.Redis.Channel,
			LocalBusConfig: local,
			Logger:         log,
		})
		if err != nil {
			return fmt.Errorf("start redis event bus: %w", err)
		}
		a.Bus = bus
		log.Info("events fan out over redis", logger.String("channel", cfg.Redis.Channel))
	} else {
		a.Bus = messaging.NewInMemoryEventBus(local)
	}
	a.closers = append(a.closers, a.Bus.Close)

	dispatcherCfg := messaging.DefaultDispatcherConfig(a.Bus)
	dispatcherCfg.Logger = log
	dispatcher, err := messaging.NewDispatcher(dispatcherCfg)
	if err != nil {
		return err
	}
	dispatcher.Use(messaging.LoggingMiddleware(log))
	a.Dispatcher = dispatcher

	a.Milestones = eventhandler.NewOnMilestoneHandler(log)
	if err := a.Milestones.Register(dispatcher); err != nil {
		return fmt.Errorf("register milestone handler: %w", err)
	}
	return nil
}

func (a *App) buildProgressCache() error {
	cfg, log := a.Config, a.Log

	var local, remote query.ProgressCache
	if cfg.Features.IsEnabled(config.FeatureCacheLocal) && cfg.Cache.LocalSize > 0 {
		c, err := projections.NewLocalProgressCache(cfg.Cache.LocalSize, cfg.Cache.LocalTTL)
		if err != nil {
			return fmt.Errorf("local progress cache: %w", err)
		}
		local = c
	}
	if a.Redis != nil && cfg.Features.IsEnabled(config.FeatureCacheShared) {
		a.Breaker = circuitbreaker.CacheBreaker(func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		}, redis.IsCacheFailure)
		remote = redis.NewProgressCache(a.Redis, cfg.Cache.SharedTTL, a.Breaker)
	}

	switch {
	case local != nil:
		a.ProgressCache = projections.NewTieredProgressCache(local, remote)
	case remote != nil:
		a.ProgressCache = remote
	}
	return nil
}

// NewCommandRetrier builds the command retry policy.
func NewCommandRetrier(cfg config.RetryConfig, log *logger.Logger) *retry.Retrier {
	return retry.New(
		retry.WithMaxAttempts(cfg.MaxAttempts),
		retry.WithInitialDelay(cfg.InitialDelay),
		retry.WithMaxDelay(cfg.MaxDelay),
		retry.WithJitter(0.2),
		retry.WithRetryIf(command.ShouldRetry),
		retry.WithOnRetry(func(attempt int, err error, wait time.Duration) {
			log.Debug("retrying command", logger.Int("attempt", attempt), logger.Duration("wait", wait), logger.Err(err))
		}),
	)
}

// HealthChecker returns probes for every backend. The store is critical;
// Redis only degrades the service.
func (a *App) HealthChecker() *handlers.CompositeHealthChecker {
	checker := handlers.NewCompositeHealthChecker(a.Config.App.Version)
	checker.AddCheck("store", a.Store.Ping, true)
	if a.Redis != nil {
		checker.AddCheck("redis", a.Redis.Ping, false)
	}
	if a.Breaker != nil {
		checker.AddCheck("progress_cache", func(context.Context) error {
			snap := a.Breaker.Snapshot()
			switch snap.State {
			case circuitbreaker.StateClosed:
				return nil
			case circuitbreaker.StateOpen:
				return fmt.Errorf("circuit open until %s", snap.RetryAt.Format(time.RFC3339))
			default:
				return fmt.Errorf("circuit %s", snap.State)
			}
		}, false)
	}
	return checker
}

// NewScheduler registers the background jobs enabled in the configuration.
func (a *App) NewScheduler() (*scheduler.Scheduler, error) {
	cfg := a.Config
	s := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:         a.Log,
		Timezone:       cfg.App.Location,
		MaxHistorySize: cfg.Scheduler.HistorySize,
	})

	if cfg.Features.IsEnabled(config.FeatureReconcileJob) {
		schedule, err := scheduler.ParseSchedule(cfg.Scheduler.ReconcileSchedule)
		if err != nil {
			return nil, fmt.Errorf("reconcile schedule: %w", err)
		}
		job := jobs.NewReconcileProfilesJob(a.Store, a.Engine, a.Log, jobs.ReconcileProfilesConfig{
			Concurrency:    cfg.Scheduler.ReconcileConcurrency,
			BatchSize:      cfg.Scheduler.ReconcileBatchSize,
			Timeout:        cfg.Scheduler.ReconcileTimeout,
			MaxFailureRate: cfg.Scheduler.MaxFailureRate,
		})
		if err := s.Register(job, schedule); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
