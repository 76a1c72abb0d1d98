// Package noisegate implements a look-ahead noise gate kernel.
//
// Windows whose RMS stays below the threshold are attenuated to the floor
// gain. The gate sees DelayWindows windows into the future, so it opens
// before a speech onset reaches the output. A hold period keeps it open
// through short pauses. Gain changes are ramped across one window to avoid
// clicks.
//
// The kernel's weights are an optional 12-byte little-endian blob of three
// float32 values: threshold, floor and hold (in windows). See [Params.Encode].
package noisegate

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/MrWong99/clearvox/internal/reframe"
	"github.com/MrWong99/clearvox/pkg/enhance"
)

// Name is the registry name of this kernel.
const Name = "noisegate"

const weightsSize = 12

// Params tune the gate.
type Params struct {
	// Threshold is the RMS level below which audio is attenuated.
	Threshold float32

	// Floor is the linear gain applied while the gate is closed.
	Floor float32

	// Hold is the number of windows the gate stays open after the signal
	// drops below the threshold.
	Hold int
}

// DefaultParams gate at about -40 dBFS, attenuate by about 30 dB and hold
// for 20 windows.
var DefaultParams = Params{Threshold: 0.01, Floor: 0.03, Hold: 20}

// Encode returns p as a model weight blob aligned for [enhance.NewModel].
func (p Params) Encode() []byte {
	b := enhance.AlignedBuffer(weightsSize)
	binary.LittleEndian.PutUint32(b[0:], math.Float32bits(p.Threshold))
	binary.LittleEndian.PutUint32(b[4:], math.Float32bits(p.Floor))
	binary.LittleEndian.PutUint32(b[8:], math.Float32bits(float32(p.Hold)))
	return b
}

// DecodeParams parses a weight blob. An empty blob yields [DefaultParams].
func DecodeParams(b []byte) (Params, error) {
	if len(b) == 0 {
		return DefaultParams, nil
	}
	if len(b) != weightsSize {
		return Params{}, fmt.Errorf("noisegate: weights are %d bytes, want 0 or %d", len(b), weightsSize)
	}
	p := Params{
		Threshold: math.Float32frombits(binary.LittleEndian.Uint32(b[0:])),
		Floor:     math.Float32frombits(binary.LittleEndian.Uint32(b[4:])),
		Hold:      int(math.Float32frombits(binary.LittleEndian.Uint32(b[8:]))),
	}
	if err := p.validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

func (p Params) validate() error {
	switch {
	case !(p.Threshold >= 0 && p.Threshold <= 1):
		return fmt.Errorf("noisegate: threshold %v outside [0, 1]", p.Threshold)
	case !(p.Floor >= 0 && p.Floor <= 1):
		return fmt.Errorf("noisegate: floor %v outside [0, 1]", p.Floor)
	case p.Hold < 0:
		return fmt.Errorf("noisegate: negative hold %d", p.Hold)
	}
	return nil
}

// Gate is the kernel state for one stream.
type Gate struct {
	p Params

	line   *reframe.DelayLine
	out    [][]float32
	levels []float32 // RMS of the output window and the windows after it
	next   int

	remaining int
	gain      float32
}

// New implements enhance.KernelFactory.
func New(cfg enhance.KernelConfig) (enhance.Kernel, error) {
	if cfg.Channels <= 0 || cfg.WindowFrames <= 0 {
		return nil, fmt.Errorf("noisegate: invalid config channels=%d window=%d", cfg.Channels, cfg.WindowFrames)
	}
	p, err := DecodeParams(cfg.Weights)
	if err != nil {
		return nil, err
	}
	g := &Gate{
		p:      p,
		line:   reframe.NewDelayLine(cfg.DelayWindows, cfg.Channels, cfg.WindowFrames),
		out:    make([][]float32, cfg.Channels),
		levels: make([]float32, cfg.DelayWindows+1),
		gain:   p.Floor,
	}
	for ch := range g.out {
		g.out[ch] = make([]float32, cfg.WindowFrames)
	}
	return g, nil
}

// Params returns the gate's tuning.
func (g *Gate) Params() Params { return g.p }

// Gain returns the gain applied at the end of the last window.
func (g *Gate) Gain() float32 { return g.gain }

// Enhance implements enhance.Kernel.
func (g *Gate) Enhance(window [][]float32) {
	g.levels[g.next] = rms(window)
	g.next = (g.next + 1) % len(g.levels)

	open := false
	for _, l := range g.levels {
		if l >= g.p.Threshold {
			open = true
			break
		}
	}
	target := g.p.Floor
	switch {
	case open:
		g.remaining = g.p.Hold
		target = 1
	case g.remaining > 0:
		g.remaining--
		target = 1
	}

	g.line.Shift(window, g.out)
	from := g.gain
	for ch, w := range window {
		n := float32(len(w))
		for i, v := range g.out[ch] {
			gain := from + (target-from)*float32(i+1)/n
			w[i] = v * gain
		}
	}
	g.gain = target
}

// Reset implements enhance.Kernel.
func (g *Gate) Reset() {
	g.line.Reset()
	clear(g.levels)
	g.next = 0
	g.remaining = 0
	g.gain = g.p.Floor
}

// rms is the root mean square over every channel of window.
func rms(window [][]float32) float32 {
	var sum float64
	n := 0
	for _, ch := range window {
		for _, v := range ch {
			sum += float64(v) * float64(v)
		}
		n += len(ch)
	}
	if n == 0 {
		return 0
	}
	return float32(math.Sqrt(sum / float64(n)))
}
