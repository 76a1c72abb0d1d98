// Package reframe adapts arbitrary caller buffer sizes to the fixed window
// length an enhancement kernel operates on.
//
// A [Reframer] accumulates incoming frames into windows of the native length,
// hands every complete window to a [WindowFunc] and releases processed frames
// through an output FIFO that was prefilled with silence. The prefill is the
// extra delay [Delay] reports; it is the smallest amount that guarantees every
// call can be answered with exactly as many frames as it supplied.
//
// When the caller's buffer size is a whole multiple of the window no extra
// delay is needed and windows are processed in place.
//
// A Reframer is owned by a single goroutine. All buffers are allocated by
// [New]; [Reframer.Process] does not allocate.
package reframe

import "fmt"

// WindowFunc receives one native window per channel. It may modify the
// samples in place; the modified samples become the reframer output.
type WindowFunc func(window [][]float32)

// Config describes the stream a [Reframer] serves.
type Config struct {
	// Channels is the number of planar channels in every call.
	Channels int

	// Window is the native window length in frames.
	Window int

	// Frames is the configured frames per call. In variable mode it is the
	// upper bound.
	Frames int

	// Variable allows any call size from 0 up to Frames.
	Variable bool
}

// Reframer converts between caller-sized buffers and native windows.
type Reframer struct {
	cfg   Config
	delay int
	fn    WindowFunc

	// inPlace is set when every call is a whole number of windows.
	inPlace bool
	views   [][]float32

	acc  [][]float32 // partial input window per channel
	fill int
	out  *ring
}

// Delay returns the extra latency in frames introduced by reframing a stream
// of frames-sized calls into window-sized blocks.
//
// Fixed sizes need window - gcd(frames, window) frames of prefill: the largest
// residue k*frames mod window ever reaches. Variable sizes need a full window
// because the split of the stream into calls is unknown.
func Delay(window, frames int, variable bool) int {
	if window <= 0 {
		return 0
	}
	if variable {
		return window
	}
	return window - gcd(frames, window)
}

// New creates a [Reframer] for cfg that calls fn for every complete window.
func New(cfg Config, fn WindowFunc) (*Reframer, error) {
	if cfg.Channels <= 0 || cfg.Window <= 0 || cfg.Frames <= 0 {
		return nil, fmt.Errorf("reframe: invalid config channels=%d window=%d frames=%d",
			cfg.Channels, cfg.Window, cfg.Frames)
	}
	if fn == nil {
		return nil, fmt.Errorf("reframe: window func is nil")
	}
	r := &Reframer{
		cfg:   cfg,
		delay: Delay(cfg.Window, cfg.Frames, cfg.Variable),
		fn:    fn,
		views: make([][]float32, cfg.Channels),
	}
	r.inPlace = r.delay == 0
	if !r.inPlace {
		r.acc = make([][]float32, cfg.Channels)
		for ch := range r.acc {
			r.acc[ch] = make([]float32, cfg.Window)
		}
		r.out = newRing(cfg.Channels, r.delay+cfg.Frames+cfg.Window)
		r.out.pushSilence(r.delay)
	}
	return r, nil
}

// Delay returns the extra latency of this reframer in frames.
func (r *Reframer) Delay() int { return r.delay }

// Config returns the configuration r was built with.
func (r *Reframer) Config() Config { return r.cfg }

// Process feeds frames samples of every channel in buf through the reframer
// and overwrites buf[ch][:frames] with the same number of output samples.
// Callers validate that len(buf) equals the configured channel count and that
// frames does not exceed the configured maximum.
func (r *Reframer) Process(buf [][]float32, frames int) {
	if frames <= 0 {
		return
	}
	if r.inPlace {
		r.processInPlace(buf, frames)
		return
	}

	n := r.cfg.Window
	for pos := 0; pos < frames; {
		take := min(n-r.fill, frames-pos)
		for ch := range r.acc {
			copy(r.acc[ch][r.fill:r.fill+take], buf[ch][pos:pos+take])
		}
		r.fill += take
		pos += take
		if r.fill == n {
			r.fn(r.acc)
			r.out.push(r.acc, n)
			r.fill = 0
		}
	}
	r.out.pop(buf, frames)
}

func (r *Reframer) processInPlace(buf [][]float32, frames int) {
	n := r.cfg.Window
	for off := 0; off+n <= frames; off += n {
		for ch := range r.views {
			r.views[ch] = buf[ch][off : off+n]
		}
		r.fn(r.views)
	}
	clear(r.views)
}

// Reset discards buffered audio and restores the silent prefill, so the
// delay is unchanged.
func (r *Reframer) Reset() {
	if r.inPlace {
		return
	}
	r.fill = 0
	for ch := range r.acc {
		clear(r.acc[ch])
	}
	r.out.reset()
	r.out.pushSilence(r.delay)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}
