package app

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/MrWong99/clearvox/pkg/enhance"
)

// Tuning holds the enhancement and VAD parameter values every new or
// reconfigured stream receives. A zero Tuning leaves engine defaults alone.
type Tuning struct {
	Parameters map[enhance.Parameter]float32
	VAD        map[enhance.VadParameter]float32
}

// ParseTuning resolves configuration names to engine parameters.
func ParseTuning(params, vad map[string]float32) (Tuning, error) {
	t := Tuning{
		Parameters: make(map[enhance.Parameter]float32, len(params)),
		VAD:        make(map[enhance.VadParameter]float32, len(vad)),
	}
	var errs []error
	for name, v := range params {
		p, err := enhance.ParseParameter(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		t.Parameters[p] = v
	}
	for name, v := range vad {
		p, err := enhance.ParseVadParameter(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		t.VAD[p] = v
	}
	if err := errors.Join(errs...); err != nil {
		return Tuning{}, fmt.Errorf("app: tuning: %w", err)
	}
	return t, nil
}

// Equal reports whether t and o hold the same values.
func (t Tuning) Equal(o Tuning) bool {
	return maps.Equal(t.Parameters, o.Parameters) && maps.Equal(t.VAD, o.VAD)
}

// restoring returns t extended with the engine default of every parameter
// prev sets and t does not, so applying it to a stream tuned with prev
// leaves no stale value behind.
func (t Tuning) restoring(prev Tuning) Tuning {
	out := Tuning{
		Parameters: maps.Clone(t.Parameters),
		VAD:        maps.Clone(t.VAD),
	}
	if out.Parameters == nil {
		out.Parameters = make(map[enhance.Parameter]float32)
	}
	if out.VAD == nil {
		out.VAD = make(map[enhance.VadParameter]float32)
	}
	for p := range prev.Parameters {
		if _, ok := out.Parameters[p]; !ok {
			out.Parameters[p] = p.Default()
		}
	}
	for p := range prev.VAD {
		if _, ok := out.VAD[p]; !ok {
			out.VAD[p] = p.Default()
		}
	}
	return out
}

// Apply sets every value in t on p. Parameters pinned by the model are
// skipped. All other failures are collected and returned together; values
// that could be set stay set.
func (t Tuning) Apply(p *enhance.Processor) error {
	ctx := p.Context()
	vad := p.VadContext()

	var errs []error
	for param, v := range t.Parameters {
		err := ctx.SetParameter(param, v)
		switch {
		case err == nil:
		case errors.Is(err, enhance.ErrParameterFixed):
			slog.Debug("parameter fixed by model, skipping", "processor", p.ID(), "parameter", param)
		default:
			errs = append(errs, err)
		}
	}
	for param, v := range t.VAD {
		if err := vad.SetParameter(param, v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
