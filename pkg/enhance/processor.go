// Package enhance is the clearvox speech enhancement engine.
//
// A [Model] is loaded once and shared. Each audio stream gets a [Processor]
// created from the model and a license key; after [Processor.Initialize] the
// stream's audio goroutine feeds buffers through [Processor.ProcessPlanar],
// [Processor.ProcessInterleaved] or [Processor.ProcessSequential], which
// enhance in place with a constant, queryable delay.
//
// Control happens from other goroutines through [ProcessorContext]
// (parameters, reset, delay) and [VadContext] (voice activity). These
// handles only touch atomics, so the audio path never waits on them.
//
// When the license cannot be verified the processor keeps producing audio:
// the input passes through with the same delay and process calls return
// [ErrEnhancementNotAllowed].
package enhance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/clearvox/internal/gate"
	"github.com/MrWong99/clearvox/internal/observe"
	"github.com/MrWong99/clearvox/pkg/audio"
	"github.com/MrWong99/clearvox/pkg/license"
)

// Option configures a [Processor] at construction.
type Option func(*options)

type options struct {
	authority      license.Authority
	gate           gate.Config
	metrics        *observe.Metrics
	flushInterval  time.Duration
	onLicenseModes func(from, to LicenseMode)
}

// WithAuthority sets the license authority online keys are checked against.
// Without one, online keys are never authorized and the processor bypasses
// after the authorization grace period.
func WithAuthority(a license.Authority) Option {
	return func(o *options) { o.authority = a }
}

// WithLicenseTimeouts overrides the authorization grace period (default
// 10s) and the telemetry timeout (default 5m).
func WithLicenseTimeouts(auth, telemetry time.Duration) Option {
	return func(o *options) {
		o.gate.AuthTimeout = auth
		o.gate.TelemetryTimeout = telemetry
	}
}

// WithReportInterval sets how often usage is reported (default 1m) and how
// long to wait between failed license requests (default 2s).
func WithReportInterval(report, retry time.Duration) Option {
	return func(o *options) {
		o.gate.ReportInterval = report
		o.gate.RetryInterval = retry
	}
}

// WithRequestTimeout bounds every license authority request (default 5s).
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.gate.RequestTimeout = d }
}

// WithClock replaces time.Now for license timing.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.gate.Now = now }
}

// WithMetrics records into m instead of observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLicenseObserver calls fn from a background goroutine whenever the
// license mode changes.
func WithLicenseObserver(fn func(from, to LicenseMode)) Option {
	return func(o *options) { o.onLicenseModes = fn }
}

// stats are counted on the audio path and flushed to OTel in the
// background.
type stats struct {
	enhanced   atomic.Int64
	bypassed   atomic.Int64
	ok         atomic.Int64
	notAllowed atomic.Int64
	failed     atomic.Int64
	rejected   atomic.Int64
	audio      atomic.Int64 // nanoseconds
}

// Processor enhances one audio stream. Initialize, the process calls and
// Reset must be driven by a single goroutine; use [Processor.Context] and
// [Processor.VadContext] from anywhere else.
type Processor struct {
	id      string
	model   *Model
	gate    *gate.Gate
	shared  *shared
	metrics *observe.Metrics
	stats   stats

	stream *stream

	cancel    context.CancelFunc
	group     *errgroup.Group
	closeOnce sync.Once
}

// NewProcessor creates a processor for model, licensed by key. It starts the
// license workers immediately; call [Processor.Close] to stop them.
func NewProcessor(model *Model, key string, opts ...Option) (*Processor, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: model is nil", ErrInvalidArgument)
	}
	k, err := license.ParseKey(key)
	if err != nil {
		return nil, fmt.Errorf("enhance: %w", err)
	}

	o := options{flushInterval: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}

	p := &Processor{
		id:      uuid.NewString(),
		model:   model,
		metrics: o.metrics,
	}
	gcfg := o.gate
	gcfg.InstanceID = p.id
	gcfg.Metrics = o.metrics
	if fn := o.onLicenseModes; fn != nil {
		gcfg.OnChange = func(from, to gate.Mode) { fn(LicenseMode(from), LicenseMode(to)) }
	}
	p.gate = gate.New(k, o.authority, gcfg)
	p.shared = newShared(model, p.gate)

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	p.group = g
	g.Go(func() error { return p.gate.Run(gctx) })
	g.Go(func() error { return p.flushLoop(gctx, o.flushInterval) })

	p.metrics.ActiveProcessors.Add(ctx, 1)
	slog.Debug("processor created", "id", p.id, "model", model.ID(), "license", k)
	return p, nil
}

// ID returns the processor's instance identifier, also sent with usage
// reports.
func (p *Processor) ID() string { return p.id }

// Model returns the model p was created from.
func (p *Processor) Model() *Model { return p.model }

// Context returns a new thread-safe control handle.
func (p *Processor) Context() *ProcessorContext {
	return &ProcessorContext{s: p.shared}
}

// VadContext returns a new thread-safe voice activity handle.
func (p *Processor) VadContext() *VadContext {
	return &VadContext{s: p.shared}
}

// Config returns the active configuration and whether p is initialized.
func (p *Processor) Config() (ProcessorConfig, bool) {
	if p.stream == nil {
		return ProcessorConfig{}, false
	}
	return p.stream.cfg, true
}

// OutputDelay returns the total output delay in frames; see
// [ProcessorContext.OutputDelay].
func (p *Processor) OutputDelay() int {
	return int(p.shared.delay.Load())
}

// Initialize (re)configures p for cfg and clears all stream state. The new
// configuration is built completely before it replaces the old one, so a
// failed call leaves the previous configuration in effect.
func (p *Processor) Initialize(cfg ProcessorConfig) error {
	if p.shared.closed.Load() {
		return ErrProcessorClosed
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	s, err := newStream(p, cfg)
	if err != nil {
		return err
	}
	p.stream = s
	p.shared.resetPending.Store(false)
	p.shared.speech.Store(false)
	p.shared.delay.Store(int64(s.delay))
	slog.Debug("processor initialized",
		"id", p.id,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.NumChannels,
		"frames", cfg.NumFrames,
		"variable", cfg.AllowVariableFrames,
		"delay_frames", s.delay,
	)
	return nil
}

// Reset clears buffered audio, kernel state and voice activity history.
// Configuration and parameters are kept; the delay is unchanged. It is a
// no-op before initialization.
func (p *Processor) Reset() error {
	if p.shared.closed.Load() {
		return ErrProcessorClosed
	}
	p.shared.resetPending.Store(false)
	if p.stream != nil {
		p.stream.reset()
	}
	return nil
}

// ProcessPlanar enhances buf in place, one slice per channel. All slices
// must have the same length.
func (p *Processor) ProcessPlanar(buf [][]float32) error {
	s, err := p.ready()
	if err != nil {
		return err
	}
	if len(buf) > MaxChannels {
		p.stats.rejected.Add(1)
		return fmt.Errorf("%w: %d channels, limit %d", ErrChannelLimitExceeded, len(buf), MaxChannels)
	}
	if len(buf) != s.cfg.NumChannels {
		p.stats.rejected.Add(1)
		return fmt.Errorf("%w: %d channels, want %d", ErrAudioConfigMismatch, len(buf), s.cfg.NumChannels)
	}
	frames := len(buf[0])
	for ch := 1; ch < len(buf); ch++ {
		if len(buf[ch]) != frames {
			p.stats.rejected.Add(1)
			return fmt.Errorf("%w: channel %d has %d frames, channel 0 has %d", ErrAudioConfigMismatch, ch, len(buf[ch]), frames)
		}
	}
	if err := s.cfg.checkFrames(frames); err != nil {
		p.stats.rejected.Add(1)
		return err
	}
	return p.run(s, buf, frames)
}

// ProcessInterleaved enhances buf in place, frame by frame with channels
// interleaved.
func (p *Processor) ProcessInterleaved(buf []float32) error {
	s, frames, err := p.readyFlat(buf)
	if err != nil {
		return err
	}
	planar := s.scratchViews(frames)
	audio.Deinterleave(planar, buf)
	err = p.run(s, planar, frames)
	audio.Interleave(buf, planar)
	return err
}

// ProcessSequential enhances buf in place, holding all frames of channel 0
// followed by all frames of channel 1 and so on.
func (p *Processor) ProcessSequential(buf []float32) error {
	s, frames, err := p.readyFlat(buf)
	if err != nil {
		return err
	}
	return p.run(s, audio.SequentialViews(s.views, buf, frames), frames)
}

func (p *Processor) ready() (*stream, error) {
	if p.shared.closed.Load() {
		return nil, ErrProcessorClosed
	}
	if p.stream == nil {
		return nil, ErrNotInitialized
	}
	return p.stream, nil
}

func (p *Processor) readyFlat(buf []float32) (*stream, int, error) {
	s, err := p.ready()
	if err != nil {
		return nil, 0, err
	}
	ch := s.cfg.NumChannels
	if len(buf)%ch != 0 {
		p.stats.rejected.Add(1)
		return nil, 0, fmt.Errorf("%w: %d samples is not a multiple of %d channels", ErrAudioConfigMismatch, len(buf), ch)
	}
	frames := len(buf) / ch
	if err := s.cfg.checkFrames(frames); err != nil {
		p.stats.rejected.Add(1)
		return nil, 0, err
	}
	return s, frames, nil
}

// run is the shared tail of every process call.
func (p *Processor) run(s *stream, buf [][]float32, frames int) error {
	if p.shared.resetPending.Load() && p.shared.resetPending.CompareAndSwap(true, false) {
		s.reset()
	}
	mode := p.gate.Mode()
	s.begin(mode)
	s.reframer.Process(buf, frames)

	d := s.duration(frames)
	p.gate.AddUsage(d)
	p.stats.audio.Add(int64(d))

	if s.fault != nil {
		fault := s.fault
		s.fault = nil
		p.stats.failed.Add(1)
		slog.Error("enhancement kernel failed, passing audio through", "id", p.id, "panic", fault)
		return ErrInternal
	}
	if mode != gate.Enhancing {
		p.stats.notAllowed.Add(1)
		return ErrEnhancementNotAllowed
	}
	p.stats.ok.Add(1)
	return nil
}

// Close stops the license workers, flushes metrics and makes every context
// inert. It is safe to call more than once.
func (p *Processor) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.shared.closed.Store(true)
		p.cancel()
		err = p.group.Wait()
		ctx := context.Background()
		p.flush(ctx)
		p.metrics.ActiveProcessors.Add(ctx, -1)
		slog.Debug("processor closed", "id", p.id)
	})
	return err
}

func (p *Processor) flushLoop(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.flush(ctx)
		}
	}
}

// flush moves the audio-path counters into OTel instruments.
func (p *Processor) flush(ctx context.Context) {
	m := p.metrics
	m.RecordWindows(ctx, p.stats.enhanced.Swap(0), p.stats.bypassed.Swap(0))
	m.RecordProcessCalls(ctx, "ok", p.stats.ok.Swap(0))
	m.RecordProcessCalls(ctx, "not_allowed", p.stats.notAllowed.Swap(0))
	m.RecordProcessCalls(ctx, "internal_error", p.stats.failed.Swap(0))
	m.RecordProcessCalls(ctx, "rejected", p.stats.rejected.Swap(0))
	m.RecordAudio(ctx, time.Duration(p.stats.audio.Swap(0)))
}
