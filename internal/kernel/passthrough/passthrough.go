// Package passthrough is an identity enhancement kernel. It only applies the
// model's declared delay, which makes it useful for checking delay
// compensation end to end.
package passthrough

import (
	"fmt"

	"github.com/MrWong99/clearvox/internal/reframe"
	"github.com/MrWong99/clearvox/pkg/enhance"
)

// Name is the registry name of this kernel.
const Name = "passthrough"

// Kernel delays its input by the configured number of windows.
type Kernel struct {
	line *reframe.DelayLine
	out  [][]float32
}

// New implements enhance.KernelFactory. Weights are ignored.
func New(cfg enhance.KernelConfig) (enhance.Kernel, error) {
	if cfg.Channels <= 0 || cfg.WindowFrames <= 0 {
		return nil, fmt.Errorf("passthrough: invalid config channels=%d window=%d", cfg.Channels, cfg.WindowFrames)
	}
	k := &Kernel{
		line: reframe.NewDelayLine(cfg.DelayWindows, cfg.Channels, cfg.WindowFrames),
		out:  make([][]float32, cfg.Channels),
	}
	for ch := range k.out {
		k.out[ch] = make([]float32, cfg.WindowFrames)
	}
	return k, nil
}

// Enhance implements enhance.Kernel.
func (k *Kernel) Enhance(window [][]float32) {
	k.line.Shift(window, k.out)
	for ch := range window {
		copy(window[ch], k.out[ch])
	}
}

// Reset implements enhance.Kernel.
func (k *Kernel) Reset() { k.line.Reset() }
