package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no endpoint of a [FallbackGroup] succeeded.
var ErrAllFailed = errors.New("resilience: all endpoints failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for every endpoint's breaker. Name is
	// set per endpoint.
	CircuitBreaker CircuitBreakerConfig

	// Final reports errors that answer the request rather than indicate a
	// broken endpoint. They end the failover, are returned unwrapped and
	// count as a success for the breaker. Nil treats every error as an
	// endpoint failure.
	Final func(error) bool
}

type endpoint[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup tries equivalent endpoints in registration order, skipping
// those whose breaker is open. It is safe for concurrent use once all
// endpoints are added.
type FallbackGroup[T any] struct {
	cfg       FallbackConfig
	endpoints []endpoint[T]
}

// NewFallbackGroup returns a group with primary as its preferred endpoint.
func NewFallbackGroup[T any](primary T, name string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(name, primary)
	return fg
}

// AddFallback appends an endpoint tried after all earlier ones.
func (fg *FallbackGroup[T]) AddFallback(name string, v T) {
	bc := fg.cfg.CircuitBreaker
	bc.Name = name
	fg.endpoints = append(fg.endpoints, endpoint[T]{name: name, value: v, breaker: NewCircuitBreaker(bc)})
}

// Execute calls fn with each endpoint until one succeeds or answers with a
// final error. When every endpoint fails the last failure is returned
// wrapped in [ErrAllFailed].
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	var last error
	for _, ep := range fg.endpoints {
		var answer error
		err := ep.breaker.Execute(func() error {
			err := fn(ep.value)
			if err != nil && fg.cfg.Final != nil && fg.cfg.Final(err) {
				answer = err
				return nil
			}
			return err
		})
		switch {
		case answer != nil:
			return answer
		case err == nil:
			return nil
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("endpoint skipped, circuit open", "endpoint", ep.name)
		default:
			slog.Warn("endpoint failed, trying next", "endpoint", ep.name, "err", err)
		}
		last = err
	}
	return fmt.Errorf("%w: %w", ErrAllFailed, last)
}

// States returns each endpoint's breaker state by name.
func (fg *FallbackGroup[T]) States() map[string]State {
	out := make(map[string]State, len(fg.endpoints))
	for _, ep := range fg.endpoints {
		out[ep.name] = ep.breaker.State()
	}
	return out
}
