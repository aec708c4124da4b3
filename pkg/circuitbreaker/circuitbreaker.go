// Package circuitbreaker stops calls to an optional dependency (the shared
// Redis cache) while that dependency keeps failing, so requests fall back to
// the store instead of waiting on timeouts.
//
// The breaker moves through three states:
//
//	closed ──(ReadyToTrip)──▶ open ──(Timeout elapsed)──▶ half-open
//	   ▲                                                     │
//	   └──────────(SuccessThreshold probes succeed)──────────┘
//
// A failed probe in half-open reopens the circuit and restarts the timeout.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the position of the breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

var (
	// ErrCircuitOpen rejects calls while the circuit is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTooManyRequests rejects calls beyond the half-open probe budget.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Rejected reports whether err came from the breaker rather than the call.
func Rejected(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests)
}

// Counts are the outcomes of the current generation. A generation starts on
// every state change and on Reset.
type Counts struct {
	Requests             int
	TotalSuccesses       int
	TotalFailures        int
	ConsecutiveSuccesses int
	ConsecutiveFailures  int
}

// Config holds circuit breaker configuration.
type Config struct {
	Name string

	// ReadyToTrip decides, after a failure in the closed state, whether to
	// open. Defaults to FailureThreshold consecutive failures.
	ReadyToTrip      func(Counts) bool
	FailureThreshold int

	// SuccessThreshold probes must succeed in half-open to close again.
	SuccessThreshold int

	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration

	// MaxHalfOpenRequests bounds concurrent probes.
	MaxHalfOpenRequests int

	OnStateChange func(name string, from, to State)

	// IsFailure filters errors that say nothing about the dependency's
	// health. Nil counts every error.
	IsFailure func(error) bool

	Clock func() time.Time
}

// DefaultConfig returns the defaults used by New.
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		MaxHalfOpenRequests: 1,
		Clock:               time.Now,
	}
}

// Option configures a breaker.
type Option func(*Config)

func WithFailureThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.FailureThreshold = n
		}
	}
}

func WithSuccessThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.SuccessThreshold = n
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Timeout = d
		}
	}
}

func WithMaxHalfOpenRequests(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxHalfOpenRequests = n
		}
	}
}

// WithReadyToTrip replaces the consecutive-failure trip rule.
func WithReadyToTrip(fn func(Counts) bool) Option {
	return func(c *Config) { c.ReadyToTrip = fn }
}

func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(c *Config) { c.OnStateChange = fn }
}

func WithIsFailure(fn func(error) bool) Option {
	return func(c *Config) { c.IsFailure = fn }
}

func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		if now != nil {
			c.Clock = now
		}
	}
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	config Config

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	inFlight int // half-open probes not yet finished
}

// New creates a closed breaker.
func New(name string, opts ...Option) *CircuitBreaker {
	config := DefaultConfig(name)
	for _, opt := range opts {
		opt(&config)
	}
	if config.ReadyToTrip == nil {
		threshold := config.FailureThreshold
		config.ReadyToTrip = func(c Counts) bool { return c.ConsecutiveFailures >= threshold }
	}
	return &CircuitBreaker{config: config}
}

// CacheBreaker returns the breaker guarding the shared progress cache: three
// straight failures open it and one good probe after 15s closes it.
func CacheBreaker(onStateChange func(name string, from, to State), isFailure func(error) bool) *CircuitBreaker {
	return New(
		"progress-cache",
		WithFailureThreshold(3),
		WithSuccessThreshold(1),
		WithTimeout(15*time.Second),
		WithOnStateChange(onStateChange),
		WithIsFailure(isFailure),
	)
}

// ══════════════════════════════════════════════════════════════════════════════
// EXECUTION
// ══════════════════════════════════════════════════════════════════════════════

// Allow reserves a call. On success the caller must report the outcome
// through done exactly once.
func (cb *CircuitBreaker) Allow() (done func(err error), err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.config.Clock().Sub(cb.openedAt) < cb.config.Timeout {
			return nil, ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
	}

	probe := cb.state == StateHalfOpen
	if probe {
		if cb.inFlight >= cb.config.MaxHalfOpenRequests {
			return nil, ErrTooManyRequests
		}
		cb.inFlight++
	}

	var once sync.Once
	return func(err error) {
		once.Do(func() { cb.record(probe, err) })
	}, nil
}

// Execute runs fn unless the circuit rejects it.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	done, err := cb.Allow()
	if err != nil {
		return err
	}
	err = fn(ctx)
	done(err)
	return err
}

// ExecuteWithFallback runs fallback instead of fn when the circuit rejects
// the call.
func (cb *CircuitBreaker) ExecuteWithFallback(ctx context.Context, fn func(context.Context) error, fallback func(error) error) error {
	err := cb.Execute(ctx, fn)
	if Rejected(err) {
		return fallback(err)
	}
	return err
}

func (cb *CircuitBreaker) record(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.inFlight--
		if cb.state != StateHalfOpen {
			// Another probe already decided the outcome.
			return
		}
	}

	failed := err != nil
	if failed && cb.config.IsFailure != nil {
		failed = cb.config.IsFailure(err)
	}

	cb.counts.Requests++
	if failed {
		cb.counts.TotalFailures++
		cb.counts.ConsecutiveFailures++
		cb.counts.ConsecutiveSuccesses = 0
	} else {
		cb.counts.TotalSuccesses++
		cb.counts.ConsecutiveSuccesses++
		cb.counts.ConsecutiveFailures = 0
	}

	switch {
	case cb.state == StateClosed && failed && cb.config.ReadyToTrip(cb.counts):
		cb.transition(StateOpen)
	case cb.state == StateHalfOpen && failed:
		cb.transition(StateOpen)
	case cb.state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.config.SuccessThreshold:
		cb.transition(StateClosed)
	}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.counts = Counts{}
	if to == StateOpen {
		cb.openedAt = cb.config.Clock()
	}
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, from, to)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// INSPECTION
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot is a consistent view of the breaker.
type Snapshot struct {
	Name   string
	State  State
	Counts Counts

	// RetryAt is when an open circuit lets the next probe through.
	RetryAt time.Time
}

// Snapshot returns the current state and counts.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	s := Snapshot{Name: cb.config.Name, State: cb.state, Counts: cb.counts}
	if cb.state == StateOpen {
		s.RetryAt = cb.openedAt.Add(cb.config.Timeout)
	}
	return s
}

func (cb *CircuitBreaker) State() State { return cb.Snapshot().State }

func (cb *CircuitBreaker) Counts() Counts { return cb.Snapshot().Counts }

func (cb *CircuitBreaker) Name() string { return cb.config.Name }

func (cb *CircuitBreaker) IsOpen() bool { return cb.State() == StateOpen }

func (cb *CircuitBreaker) IsClosed() bool { return cb.State() == StateClosed }

// Reset closes the circuit and starts a new generation without notifying
// OnStateChange.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.counts = Counts{}
	cb.inFlight = 0
}
