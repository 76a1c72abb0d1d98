package enhance

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/MrWong99/clearvox/internal/gate"
)

// LicenseMode reports whether the license gate currently allows enhancement.
type LicenseMode int

const (
	// LicenseEnhancing allows enhancement.
	LicenseEnhancing LicenseMode = LicenseMode(gate.Enhancing)

	// LicenseBypassPendingAuth passes audio through until authorization
	// succeeds.
	LicenseBypassPendingAuth LicenseMode = LicenseMode(gate.BypassPendingAuth)

	// LicenseBypassPendingTelemetry passes audio through until a usage
	// report succeeds.
	LicenseBypassPendingTelemetry LicenseMode = LicenseMode(gate.BypassPendingTelemetry)
)

// String returns a snake_case label for m.
func (m LicenseMode) String() string { return gate.Mode(m).String() }

// shared is the state a processor exposes to its contexts. Every field is
// accessed atomically or is immutable after construction.
type shared struct {
	model *Model
	gate  *gate.Gate

	params [numParams]atomicFloat32
	vad    [numVadParams]atomicFloat32
	window float64 // native window in seconds

	speech       atomic.Bool
	delay        atomic.Int64
	resetPending atomic.Bool
	closed       atomic.Bool
}

func newShared(m *Model, g *gate.Gate) *shared {
	s := &shared{
		model:  m,
		gate:   g,
		window: m.info.Window.Seconds(),
	}
	for p := range numParams {
		v := p.Default()
		if fixed, ok := m.fixed(p); ok {
			v = fixed
		}
		s.params[p].Store(v)
	}
	for p := range numVadParams {
		s.vad[p].Store(s.roundVad(p, p.Default()))
	}
	s.delay.Store(int64(m.nativeDelay()))
	return s
}

func (s *shared) setParameter(p Parameter, v float32) error {
	if s.closed.Load() {
		return ErrProcessorClosed
	}
	if !p.valid() {
		return fmt.Errorf("%w: unknown parameter %d", ErrInvalidArgument, int(p))
	}
	if _, ok := s.model.fixed(p); ok {
		return fmt.Errorf("%w: %s", ErrParameterFixed, p)
	}
	if err := p.check(v); err != nil {
		return err
	}
	s.params[p].Store(v)
	return nil
}

func (s *shared) parameter(p Parameter) (float32, error) {
	if !p.valid() {
		return 0, fmt.Errorf("%w: unknown parameter %d", ErrInvalidArgument, int(p))
	}
	return s.params[p].Load(), nil
}

func (s *shared) setVadParameter(p VadParameter, v float32) error {
	if s.closed.Load() {
		return ErrProcessorClosed
	}
	if !p.valid() {
		return fmt.Errorf("%w: unknown vad parameter %d", ErrInvalidArgument, int(p))
	}
	lo, hi := p.bounds(s.window)
	if math.IsNaN(float64(v)) || v < lo || v > hi {
		return fmt.Errorf("%w: %s=%v outside [%v, %v]", ErrParameterOutOfRange, p, v, lo, hi)
	}
	s.vad[p].Store(s.roundVad(p, v))
	return nil
}

// roundVad snaps duration parameters to whole native windows.
func (s *shared) roundVad(p VadParameter, v float32) float32 {
	if !p.isDuration() {
		return v
	}
	return float32(float64(windowsFor(v, s.window)) * s.window)
}

// ProcessorContext is a thread-safe handle for tuning a [Processor] from
// any goroutine. It never blocks the audio path. Any number of contexts may
// exist; dropping one has no effect on the processor.
type ProcessorContext struct {
	s *shared
}

// SetParameter sets p to v. A failed call changes nothing; errors are checked
// in this order:
//
//   - ErrProcessorClosed after [Processor.Close]
//   - ErrInvalidArgument for an unknown parameter
//   - ErrParameterFixed when the model pins p
//   - ErrParameterOutOfRange for NaN or values outside [Parameter.Range]
//
// The audio goroutine reads Bypass, EnhancementLevel and VoiceGain once at
// the start of each process call. A value set while a call is running takes
// effect from the next call, for every window of it.
func (c *ProcessorContext) SetParameter(p Parameter, v float32) error {
	return c.s.setParameter(p, v)
}

// Parameter returns the current value of p.
func (c *ProcessorContext) Parameter(p Parameter) (float32, error) {
	return c.s.parameter(p)
}

// Reset asks the audio goroutine to clear all stream state at the start of
// its next process call. Configuration and parameters are kept.
func (c *ProcessorContext) Reset() error {
	if c.s.closed.Load() {
		return ErrProcessorClosed
	}
	c.s.resetPending.Store(true)
	return nil
}

// OutputDelay returns the total delay of the processor output in frames at
// the configured sample rate. Before initialization it reports the delay of
// the model's optimal configuration.
func (c *ProcessorContext) OutputDelay() int {
	return int(c.s.delay.Load())
}

// LicenseMode returns the current license gate verdict.
func (c *ProcessorContext) LicenseMode() LicenseMode {
	return LicenseMode(c.s.gate.Mode())
}
