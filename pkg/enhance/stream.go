package enhance

import (
	"fmt"
	"time"

	"github.com/MrWong99/clearvox/internal/gate"
	"github.com/MrWong99/clearvox/internal/reframe"
)

// bypassThreshold is the ParamBypass value from which audio passes through.
const bypassThreshold = 0.5

// stream is everything built by one successful Initialize. It is only
// touched by the audio goroutine.
type stream struct {
	p     *Processor
	cfg   ProcessorConfig
	delay int

	kernel   Kernel
	reframer *reframe.Reframer
	dryLine  *reframe.DelayLine
	dry      [][]float32

	// views and scratch back the interleaved and sequential layouts.
	views   [][]float32
	scratch [][]float32

	vad vadState

	// per-call snapshot
	bypass bool
	level  float32
	gain   float32

	// bypassed is the state of the previous window, kept across calls.
	bypassed bool
	fault    any
	// warmup counts the windows left before a freshly reset kernel's output
	// lines up with the dry delay line again.
	warmup int
}

func newStream(p *Processor, cfg ProcessorConfig) (*stream, error) {
	m := p.model
	window := m.OptimalNumFrames(cfg.SampleRate)
	k, err := m.newKernel(cfg.SampleRate, cfg.NumChannels, window)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAudioConfigUnsupported, err)
	}
	s := &stream{
		p:       p,
		cfg:     cfg,
		kernel:  k,
		dryLine: reframe.NewDelayLine(m.info.DelayWindows, cfg.NumChannels, window),
		dry:     make([][]float32, cfg.NumChannels),
		views:   make([][]float32, cfg.NumChannels),
		scratch: make([][]float32, cfg.NumChannels),
	}
	for ch := range cfg.NumChannels {
		s.dry[ch] = make([]float32, window)
		s.scratch[ch] = make([]float32, cfg.NumFrames)
	}
	s.reframer, err = reframe.New(reframe.Config{
		Channels: cfg.NumChannels,
		Window:   window,
		Frames:   cfg.NumFrames,
		Variable: cfg.AllowVariableFrames,
	}, s.processWindow)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	s.delay = m.info.DelayWindows*window + s.reframer.Delay()
	return s, nil
}

// scratchViews returns planar buffers of frames frames for deinterleaving.
func (s *stream) scratchViews(frames int) [][]float32 {
	for ch := range s.views {
		s.views[ch] = s.scratch[ch][:frames]
	}
	return s.views
}

// begin snapshots the shared parameters for one process call.
func (s *stream) begin(mode gate.Mode) {
	sh := s.p.shared
	s.level = sh.params[ParamEnhancementLevel].Load()
	s.gain = sh.params[ParamVoiceGain].Load()
	s.bypass = mode != gate.Enhancing ||
		sh.params[ParamBypass].Load() >= bypassThreshold ||
		s.level == 0
	s.vad.snapshot(sh)
}

// duration converts a call size to stream time.
func (s *stream) duration(frames int) time.Duration {
	return time.Duration(frames) * time.Second / time.Duration(s.cfg.SampleRate)
}

// processWindow runs once per native window from inside the reframer.
func (s *stream) processWindow(window [][]float32) {
	s.dryLine.Shift(window, s.dry)

	if s.bypass != s.bypassed {
		s.kernel.Reset()
		s.bypassed = s.bypass
		s.warmup = s.p.model.info.DelayWindows
	}

	if s.bypass {
		for ch := range window {
			copy(window[ch], s.dry[ch])
		}
		s.p.stats.bypassed.Add(1)
	} else if s.enhance(window) {
		if s.warmup > 0 {
			// The kernel is still flushing the silence it was reset to.
			s.warmup--
			for ch := range window {
				copy(window[ch], s.dry[ch])
			}
		} else {
			blend(window, s.dry, s.level, s.gain)
		}
		s.p.stats.enhanced.Add(1)
	} else {
		s.p.stats.bypassed.Add(1)
	}

	s.p.shared.speech.Store(s.vad.update(meanSquare(window)))
}

// enhance runs the kernel and contains any panic it raises. On failure the
// window carries the dry signal and the kernel is reset, so the following
// windows carry the dry signal until it has warmed up again.
func (s *stream) enhance(window [][]float32) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			if s.fault == nil {
				s.fault = r
			}
			for ch := range window {
				copy(window[ch], s.dry[ch])
			}
			s.kernel.Reset()
			s.warmup = s.p.model.info.DelayWindows
			ok = false
		}
	}()
	s.kernel.Enhance(window)
	return true
}

// blend mixes the gained wet signal in wet with dry by level and stores the
// result in wet.
func blend(wet, dry [][]float32, level, gain float32) {
	lg := level * gain
	dl := 1 - level
	for ch := range wet {
		w, d := wet[ch], dry[ch][:len(wet[ch])]
		for i := range w {
			w[i] = dl*d[i] + lg*w[i]
		}
	}
}

// reset returns every buffer and detector to its initial silent state.
func (s *stream) reset() {
	s.reframer.Reset()
	s.dryLine.Reset()
	s.kernel.Reset()
	s.warmup = 0
	s.vad.reset()
	s.fault = nil
	s.p.shared.speech.Store(false)
}
