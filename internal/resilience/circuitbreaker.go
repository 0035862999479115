// Package resilience provides circuit breaker and collaborator failover
// primitives.
//
// The central type is [CircuitBreaker], a three-state breaker
// (closed, open, half-open) that keeps a slow or failing suggestion backend
// from stalling every reading session. [FallbackGroup] pairs several
// instances of a collaborator type with one breaker each so that a failing
// primary is bypassed in favour of healthy fallbacks. [SuggesterFallback]
// applies this to stutter suggestions.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has elapsed since the breaker tripped.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successful probes close the breaker; one failed probe re-opens it.
	StateHalfOpen
)

// String returns the name used in logs and metrics.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels the breaker in logs, metrics and state-change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that trips a closed
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is both the number of concurrent probes allowed while
	// half-open and the number of successful probes that close the breaker.
	// Default: 3.
	HalfOpenMax int

	// IsFailure classifies the error returned by a call. Errors it rejects
	// count as neither failure nor success. Default: [DefaultIsFailure].
	IsFailure func(error) bool

	// OnStateChange is called after every state change, outside the
	// breaker's lock. May be nil.
	OnStateChange func(name string, from, to State)

	// Now returns the current time. Default: time.Now.
	Now func() time.Time
}

// DefaultIsFailure treats every error except caller cancellation as a
// failure. A suggestion request abandoned because a newer transcript
// superseded it says nothing about the backend's health.
func DefaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// CircuitBreaker guards calls to one backend.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	isFailure     func(error) bool
	onStateChange func(name string, from, to State)
	now           func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probes    int
	successes int
}

// transition is a state change waiting to be reported.
type transition struct{ from, to State }

// NewCircuitBreaker creates a closed [CircuitBreaker]. Zero-value config
// fields are replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = DefaultIsFailure
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		isFailure:     cfg.IsFailure,
		onStateChange: cfg.OnStateChange,
		now:           cfg.Now,
	}
}

// Execute runs fn if the breaker allows it and records the outcome. It
// returns [ErrCircuitOpen] without calling fn while the breaker is open or
// the half-open probe budget is in use.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.acquire()
	if err != nil {
		return err
	}
	err = fn()
	cb.release(probe, err)
	return err
}

// acquire admits one call. probe reports whether it counts against the
// half-open budget.
func (cb *CircuitBreaker) acquire() (probe bool, err error) {
	cb.mu.Lock()
	var changes []transition
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		changes = append(changes, cb.setState(StateHalfOpen))
	}
	switch cb.state {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		if cb.probes >= cb.halfOpenMax {
			err = ErrCircuitOpen
		} else {
			cb.probes++
			probe = true
		}
	}
	cb.mu.Unlock()

	cb.report(changes)
	return probe, err
}

// release records the outcome of an admitted call.
func (cb *CircuitBreaker) release(probe bool, err error) {
	cb.mu.Lock()
	var changes []transition
	switch {
	case err == nil && probe:
		cb.successes++
		if cb.state == StateHalfOpen && cb.successes >= cb.halfOpenMax {
			changes = append(changes, cb.setState(StateClosed))
		}
	case err == nil:
		cb.failures = 0
	case !cb.isFailure(err):
		// Unclassified errors hand their probe slot back.
		if probe {
			cb.probes--
		}
	case probe:
		if cb.state == StateHalfOpen {
			changes = append(changes, cb.trip())
		}
	default:
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.maxFailures {
			changes = append(changes, cb.trip())
		}
	}
	cb.mu.Unlock()

	cb.report(changes)
}

// trip opens the breaker. Must be called with cb.mu held.
func (cb *CircuitBreaker) trip() transition {
	cb.openedAt = cb.now()
	return cb.setState(StateOpen)
}

// setState switches state and clears the counters of the new state. Must be
// called with cb.mu held.
func (cb *CircuitBreaker) setState(to State) transition {
	t := transition{from: cb.state, to: to}
	cb.state = to
	cb.failures = 0
	cb.probes = 0
	cb.successes = 0
	return t
}

// report logs changes and forwards them to the state-change callback.
func (cb *CircuitBreaker) report(changes []transition) {
	for _, t := range changes {
		if t.from == t.to {
			continue
		}
		level := slog.LevelInfo
		if t.to == StateOpen {
			level = slog.LevelWarn
		}
		slog.Log(context.Background(), level, "circuit breaker state change",
			"name", cb.name, "from", t.from.String(), "to", t.to.String())
		if cb.onStateChange != nil {
			cb.onStateChange(cb.name, t.from, t.to)
		}
	}
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Name returns the breaker's label.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	t := cb.setState(StateClosed)
	cb.mu.Unlock()

	cb.report([]transition{t})
}
