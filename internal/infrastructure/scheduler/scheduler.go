// Package scheduler runs background jobs on interval or cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jornada-hub/jornada/pkg/logger"
)

// Job is a unit of background work.
type Job interface {
	Name() string
	Description() string

	// Run is cancelled when the scheduler stops.
	Run(ctx context.Context) error
}

// Schedule yields the activation times of a job.
type Schedule interface {
	Next(after time.Time) time.Time
	String() string
}

// JobResult describes one execution.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Success     bool
	Manual      bool
	Error       error
}

var (
	ErrNilJob                  = errors.New("job cannot be nil")
	ErrNilSchedule             = errors.New("schedule cannot be nil")
	ErrJobAlreadyExists        = errors.New("job already exists")
	ErrJobNotFound             = errors.New("job not found")
	ErrJobBusy                 = errors.New("job is already running")
	ErrJobPanicked             = errors.New("job panicked")
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("scheduler is not running")
)

// SchedulerConfig configures a Scheduler. Zero values take defaults.
type SchedulerConfig struct {
	Logger *logger.Logger

	// Timezone schedules are evaluated in. Defaults to UTC.
	Timezone *time.Location

	// MaxHistorySize bounds the results returned by History. Defaults to 100.
	MaxHistorySize int

	Clock func() time.Time
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{Timezone: time.UTC, MaxHistorySize: 100}
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Scheduler gives every job its own timer goroutine. A job never overlaps
// with itself: an activation that finds it busy (a manual run, usually) is
// skipped.
type Scheduler struct {
	log   *logger.Logger
	loc   *time.Location
	clock func() time.Time
	keep  int

	mu      sync.Mutex
	entries map[string]*entry
	results []JobResult

	runCtx    context.Context // nil while stopped
	cancel    context.CancelFunc
	loops     sync.WaitGroup
	startedAt time.Time
}

type entry struct {
	job      Job
	schedule Schedule

	// Guarded by Scheduler.mu.
	disabled bool
	busy     bool
	next     time.Time
	last     time.Time
	runs     int64
	failures int64
	latest   *JobResult

	// wake makes the loop recompute its timer.
	wake chan struct{}
}

func NewScheduler(config SchedulerConfig) *Scheduler {
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	if config.Timezone == nil {
		config.Timezone = time.UTC
	}
	if config.MaxHistorySize <= 0 {
		config.MaxHistorySize = 100
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &Scheduler{
		log:     config.Logger.Named("scheduler"),
		loc:     config.Timezone,
		clock:   config.Clock,
		keep:    config.MaxHistorySize,
		entries: make(map[string]*entry),
	}
}

func (s *Scheduler) now() time.Time { return s.clock().In(s.loc) }

// Register adds a job. Jobs registered while the scheduler runs start
// immediately.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	switch {
	case job == nil:
		return ErrNilJob
	case schedule == nil:
		return ErrNilSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, dup := s.entries[name]; dup {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}
	e := &entry{
		job:      job,
		schedule: schedule,
		next:     schedule.Next(s.now()),
		wake:     make(chan struct{}, 1),
	}
	s.entries[name] = e
	if s.runCtx != nil {
		s.spawn(e)
	}

	s.log.Debug("job registered",
		logger.String("job", name),
		logger.String("schedule", schedule.String()),
		logger.Time("next_run", e.next),
	)
	return nil
}

// SetEnabled pauses or resumes a job's schedule. Manual runs are unaffected.
func (s *Scheduler) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	e.disabled = !enabled
	if enabled {
		e.next = e.schedule.Next(s.now())
	}
	select {
	case e.wake <- struct{}{}:
	default:
	}
	s.log.Info("job toggled", logger.String("job", name), logger.Bool("enabled", enabled))
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start launches one loop per job. Loops end when ctx is cancelled or Stop
// is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runCtx != nil {
		return ErrSchedulerAlreadyRunning
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.startedAt = s.clock()
	for _, e := range s.entries {
		s.spawn(e)
	}
	s.log.Info("scheduler started", logger.Int("jobs", len(s.entries)))
	return nil
}

// Stop cancels the loops and waits for in-flight runs to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.runCtx == nil {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.cancel()
	s.runCtx, s.cancel = nil, nil
	s.mu.Unlock()

	s.loops.Wait()
	s.log.Info("scheduler stopped", logger.Duration("uptime", s.clock().Sub(s.startedAt)))
	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCtx != nil
}

// spawn must be called with mu held.
func (s *Scheduler) spawn(e *entry) {
	ctx := s.runCtx
	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		s.loop(ctx, e)
	}()
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	for {
		var (
			timer *time.Timer
			fire  <-chan time.Time
		)
		if wait, ok := s.untilNext(e); ok {
			timer = time.NewTimer(wait)
			fire = timer.C
		}

		fired := false
		select {
		case <-ctx.Done():
		case <-e.wake:
		case <-fire:
			fired = true
		}
		if timer != nil {
			timer.Stop()
		}
		if ctx.Err() != nil {
			return
		}

		if fired && s.claim(e) {
			s.execute(ctx, e, false)
		}
	}
}

func (s *Scheduler) untilNext(e *entry) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.disabled || e.next.IsZero() {
		return 0, false
	}
	return max(e.next.Sub(s.now()), 0), true
}

// claim marks a due job busy and advances its schedule.
func (s *Scheduler) claim(e *entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e.disabled || now.Before(e.next) {
		return false
	}
	e.next = e.schedule.Next(now)
	if e.busy {
		s.log.Warn("skipping activation, job still running", logger.String("job", e.job.Name()))
		return false
	}
	e.busy = true
	return true
}

// ══════════════════════════════════════════════════════════════════════════════
// EXECUTION
// ══════════════════════════════════════════════════════════════════════════════

// RunNow executes a job immediately regardless of its schedule. The returned
// error is the job's own.
func (s *Scheduler) RunNow(ctx context.Context, name string) (*JobResult, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	switch {
	case !ok:
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	case e.busy:
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobBusy, name)
	}
	e.busy = true
	s.mu.Unlock()

	result := s.execute(ctx, e, true)
	return &result, result.Error
}

func (s *Scheduler) execute(ctx context.Context, e *entry, manual bool) JobResult {
	name := e.job.Name()
	log := s.log.With(logger.String("job", name), logger.Bool("manual", manual))
	log.Info("job started")

	result := JobResult{JobName: name, Manual: manual, StartedAt: s.clock()}
	result.Error = runGuarded(ctx, e.job)
	result.CompletedAt = s.clock()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	result.Success = result.Error == nil

	s.mu.Lock()
	e.busy = false
	e.last = result.StartedAt
	e.runs++
	if !result.Success {
		e.failures++
	}
	e.latest = &result
	s.results = append(s.results, result)
	if over := len(s.results) - s.keep; over > 0 {
		s.results = slices.Delete(s.results, 0, over)
	}
	s.mu.Unlock()

	if result.Success {
		log.Info("job completed", logger.Duration("duration", result.Duration))
	} else {
		log.Error("job failed", logger.Duration("duration", result.Duration), logger.Err(result.Error))
	}
	return result
}

func runGuarded(ctx context.Context, job Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanicked, p)
		}
	}()
	return job.Run(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// INTROSPECTION
// ══════════════════════════════════════════════════════════════════════════════

// JobInfo describes a registered job.
type JobInfo struct {
	Name        string
	Description string
	Enabled     bool
	Running     bool
	Schedule    string
	LastRun     time.Time
	NextRun     time.Time
	RunCount    int64
	FailCount   int64
	LastResult  *JobResult
}

// ListJobs returns the registered jobs ordered by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.entries))
	for name, e := range s.entries {
		out = append(out, JobInfo{
			Name:        name,
			Description: e.job.Description(),
			Enabled:     !e.disabled,
			Running:     e.busy,
			Schedule:    e.schedule.String(),
			LastRun:     e.last,
			NextRun:     e.next,
			RunCount:    e.runs,
			FailCount:   e.failures,
			LastResult:  e.latest,
		})
	}
	slices.SortFunc(out, func(a, b JobInfo) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// History returns up to limit recent results, oldest first. A non-positive
// limit returns everything kept.
func (s *Scheduler) History(limit int) []JobResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.results) {
		limit = len(s.results)
	}
	return slices.Clone(s.results[len(s.results)-limit:])
}

// Summary aggregates every execution since the scheduler was created.
type Summary struct {
	Executions    int64
	Failures      int64
	FailuresByJob map[string]int64
}

// SuccessRate is 1 when nothing has run yet.
func (s Summary) SuccessRate() float64 {
	if s.Executions == 0 {
		return 1
	}
	return float64(s.Executions-s.Failures) / float64(s.Executions)
}

func (s *Scheduler) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{FailuresByJob: make(map[string]int64)}
	for name, e := range s.entries {
		sum.Executions += e.runs
		sum.Failures += e.failures
		if e.failures > 0 {
			sum.FailuresByJob[name] = e.failures
		}
	}
	return sum
}
