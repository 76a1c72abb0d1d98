// Package mock provides a deterministic test double for enhance.Kernel.
//
// A Kernel scales every sample by Factory.Scale and delays it by the model's
// DelayWindows, so tests can predict the exact output of a processor.
// Use Factory.PanicOn to make the Nth Enhance call panic and Factory.Err to
// make kernel creation fail.
//
// Example:
//
//	f := &mock.Factory{Scale: 2}
//	model, _ := enhance.NewModel(info, nil, f.New)
//	// ... process audio ...
//	k := f.Last()
//	fmt.Println(k.EnhanceCount(), k.ResetCount())
package mock

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/clearvox/internal/reframe"
	"github.com/MrWong99/clearvox/pkg/enhance"
)

// Factory creates Kernels and records every configuration it was asked for.
type Factory struct {
	mu sync.Mutex

	// Scale multiplies every delayed sample. Zero is treated as 1.
	Scale float32

	// PanicOn makes the Nth Enhance call of every kernel panic (1-based).
	// Zero never panics.
	PanicOn int64

	// Err, if non-nil, is returned by New instead of a kernel.
	Err error

	// Configs records the config of every New call in order.
	Configs []enhance.KernelConfig

	// Kernels records every kernel created in order.
	Kernels []*Kernel
}

// New implements enhance.KernelFactory.
func (f *Factory) New(cfg enhance.KernelConfig) (enhance.Kernel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Configs = append(f.Configs, cfg)
	if f.Err != nil {
		return nil, f.Err
	}
	scale := f.Scale
	if scale == 0 {
		scale = 1
	}
	k := &Kernel{
		scale:   scale,
		panicOn: f.PanicOn,
		line:    reframe.NewDelayLine(cfg.DelayWindows, cfg.Channels, cfg.WindowFrames),
		out:     make([][]float32, cfg.Channels),
	}
	for ch := range k.out {
		k.out[ch] = make([]float32, cfg.WindowFrames)
	}
	f.Kernels = append(f.Kernels, k)
	return k, nil
}

// SetErr changes Err. Thread-safe.
func (f *Factory) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Err = err
}

// Last returns the most recently created kernel, or nil.
func (f *Factory) Last() *Kernel {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Kernels) == 0 {
		return nil
	}
	return f.Kernels[len(f.Kernels)-1]
}

// Count returns how many kernels were created.
func (f *Factory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Kernels)
}

// Kernel is a mock implementation of enhance.Kernel.
type Kernel struct {
	scale   float32
	panicOn int64
	line    *reframe.DelayLine
	out     [][]float32

	enhances atomic.Int64
	resets   atomic.Int64
}

// Enhance delays window by the configured number of windows and scales it.
func (k *Kernel) Enhance(window [][]float32) {
	n := k.enhances.Add(1)
	if k.panicOn > 0 && n == k.panicOn {
		panic(fmt.Sprintf("mock kernel: induced panic on call %d", n))
	}
	k.line.Shift(window, k.out)
	for ch, w := range window {
		for i, v := range k.out[ch][:len(w)] {
			w[i] = v * k.scale
		}
	}
}

// Reset clears the delayed audio.
func (k *Kernel) Reset() {
	k.resets.Add(1)
	k.line.Reset()
}

// EnhanceCount returns how many windows were enhanced.
func (k *Kernel) EnhanceCount() int64 { return k.enhances.Load() }

// ResetCount returns how many times Reset was called.
func (k *Kernel) ResetCount() int64 { return k.resets.Load() }

// Ensure Kernel implements enhance.Kernel at compile time.
var _ enhance.Kernel = (*Kernel)(nil)
