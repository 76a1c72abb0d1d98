// Package resilience keeps the license gate's background calls from
// hammering authorities that are down.
//
// [CircuitBreaker] guards a single authority: after enough consecutive
// failures it rejects calls for a cooldown, then lets a few probes through
// before trusting the authority again. [FallbackGroup] gives each of several
// endpoints its own breaker and tries them in order, and [AuthorityFallback]
// applies it to license.Authority.
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
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is a [CircuitBreaker]'s operating mode.
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the cooldown
	// has passed.
	StateOpen

	// StateHalfOpen lets up to Probes calls through. One failure reopens
	// the breaker; Probes successes close it.
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
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values use the
// defaults noted per field.
type CircuitBreakerConfig struct {
	// Name labels the breaker in logs and state change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens a closed
	// breaker. Default: 5.
	MaxFailures int

	// Cooldown is how long an open breaker rejects calls. Default: 30s.
	Cooldown time.Duration

	// Probes is the number of calls admitted while half-open. Default: 3.
	Probes int

	// OnStateChange, when set, is called after every transition with the
	// breaker's lock released.
	OnStateChange func(name string, from, to State)

	// Now returns the current time. Default: time.Now.
	Now func() time.Time
}

func (c *CircuitBreakerConfig) setDefaults() {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.Probes <= 0 {
		c.Probes = 3
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// CircuitBreaker is a three-state circuit breaker.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	state     State
	failures  int // consecutive, while closed
	openedAt  time.Time
	admitted  int // probes let through, while half-open
	succeeded int // probes that succeeded, while half-open
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cfg.setDefaults()
	return &CircuitBreaker{cfg: cfg}
}

// transition records a state change. Callers hold cb.mu and pass the
// result to notify after unlocking.
type transition struct{ from, to State }

// Execute calls fn unless the breaker rejects it, and feeds the outcome
// back into the breaker. A rejected call returns [ErrCircuitOpen].
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, t, err := cb.admit()
	cb.notify(t)
	if err != nil {
		return err
	}
	err = fn()
	cb.notify(cb.record(probe, err))
	return err
}

// State returns the breaker's state. An open breaker whose cooldown has
// passed reports [StateHalfOpen]; the switch itself happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cooledDown() {
		return StateHalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) admit() (probe bool, t *transition, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen {
		if !cb.cooledDown() {
			return false, nil, ErrCircuitOpen
		}
		t = cb.set(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.admitted >= cb.cfg.Probes {
			return false, t, ErrCircuitOpen
		}
		cb.admitted++
		return true, t, nil
	}
	return false, t, nil
}

func (cb *CircuitBreaker) record(probe bool, err error) *transition {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case probe && cb.state != StateHalfOpen:
		// Another probe already decided the outcome.
		return nil
	case probe && err != nil:
		return cb.set(StateOpen)
	case probe:
		cb.succeeded++
		if cb.succeeded >= cb.cfg.Probes {
			return cb.set(StateClosed)
		}
	case err != nil:
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures {
			return cb.set(StateOpen)
		}
	default:
		cb.failures = 0
	}
	return nil
}

// set switches state and resets the counters of the new state. Callers
// hold cb.mu.
func (cb *CircuitBreaker) set(to State) *transition {
	t := &transition{from: cb.state, to: to}
	cb.state = to
	switch to {
	case StateOpen:
		cb.openedAt = cb.cfg.Now()
	case StateHalfOpen:
		cb.admitted, cb.succeeded = 0, 0
	case StateClosed:
		cb.failures = 0
	}
	return t
}

func (cb *CircuitBreaker) cooledDown() bool {
	return cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.Cooldown
}

func (cb *CircuitBreaker) notify(t *transition) {
	if t == nil {
		return
	}
	level := slog.LevelInfo
	if t.to == StateOpen {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "circuit breaker state changed",
		"name", cb.cfg.Name, "from", t.from.String(), "to", t.to.String())
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, t.from, t.to)
	}
}
