// Package app wires the clearvox engine into a running application.
//
// The App struct owns the full lifecycle: New loads the model and builds the
// license authority chain from the config, NewProcessor hands out tuned
// processors, ApplyConfig hot-reloads tuning and log level into live
// sessions, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithAuthority,
// WithMetrics, WithProcessorOptions). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/clearvox/internal/config"
	"github.com/MrWong99/clearvox/internal/health"
	"github.com/MrWong99/clearvox/internal/observe"
	"github.com/MrWong99/clearvox/internal/resilience"
	"github.com/MrWong99/clearvox/pkg/enhance"
	"github.com/MrWong99/clearvox/pkg/license"
)

// App owns the shared model, the license authority and all stream sessions.
type App struct {
	cfg       atomic.Pointer[config.Config]
	tuning    atomic.Pointer[Tuning]
	model     *enhance.Model
	authority license.Authority
	metrics   *observe.Metrics
	level     *slog.LevelVar
	extraOpts []enhance.Option
	procOpts  []enhance.Option
	sessions  *SessionManager

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithAuthority injects a license authority instead of building one from
// the configured authorities.
func WithAuthority(a license.Authority) Option {
	return func(app *App) { app.authority = a }
}

// WithMetrics records into m instead of observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(app *App) { app.metrics = m }
}

// WithLevelVar lets [App.ApplyConfig] change the log level at runtime.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(app *App) { app.level = lv }
}

// WithProcessorOptions appends opts to the options every processor is
// created with, e.g. a fake clock in tests.
func WithProcessorOptions(opts ...enhance.Option) Option {
	return func(app *App) { app.extraOpts = append(app.extraOpts, opts...) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. Kernels and authority types are looked up in
// reg.
func New(cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.cfg.Store(cfg)

	// ── 1. Model ─────────────────────────────────────────────────────────
	model, err := LoadModel(cfg.Model, reg)
	if err != nil {
		return nil, fmt.Errorf("app: load model: %w", err)
	}
	a.model = model

	// ── 2. License authority ─────────────────────────────────────────────
	if a.authority == nil && len(cfg.License.Authorities) > 0 {
		a.authority, err = BuildAuthority(cfg.License, reg)
		if err != nil {
			return nil, fmt.Errorf("app: build authority: %w", err)
		}
	}

	// ── 3. Tuning ────────────────────────────────────────────────────────
	t, err := ParseTuning(cfg.Parameters, cfg.VAD)
	if err != nil {
		return nil, err
	}
	a.tuning.Store(&t)

	// ── 4. Processor options ─────────────────────────────────────────────
	a.procOpts = a.processorOptions(cfg.License)

	// ── 5. Sessions ──────────────────────────────────────────────────────
	a.sessions = NewSessionManager(SessionManagerConfig{
		MaxSessions:  cfg.Server.MaxStreams,
		NewProcessor: a.NewProcessor,
		Metrics:      a.metrics,
	})
	a.closers = append(a.closers, a.sessions.StopAll)

	info := model.Info()
	slog.Info("model loaded",
		"id", info.ID,
		"kernel", cfg.Model.Kernel,
		"sample_rate", info.SampleRate,
		"window", info.Window,
		"delay_windows", info.DelayWindows,
	)
	return a, nil
}

// LoadModel builds an [enhance.Model] from mc. The weights file, if any, is
// read into an aligned buffer.
func LoadModel(mc config.ModelConfig, reg *config.Registry) (*enhance.Model, error) {
	factory, err := reg.Kernel(mc.Kernel)
	if err != nil {
		return nil, err
	}

	var weights []byte
	if mc.Weights != "" {
		raw, err := os.ReadFile(mc.Weights)
		if err != nil {
			return nil, fmt.Errorf("read weights: %w", err)
		}
		weights = enhance.AlignedBuffer(len(raw))
		copy(weights, raw)
	}

	fixed := make(map[enhance.Parameter]float32, len(mc.FixedParameters))
	for name, v := range mc.FixedParameters {
		p, err := enhance.ParseParameter(name)
		if err != nil {
			return nil, fmt.Errorf("fixed parameter: %w", err)
		}
		fixed[p] = v
	}

	version := mc.Version
	if version == 0 {
		version = enhance.CompatibleModelVersion()
	}

	return enhance.NewModel(enhance.ModelInfo{
		ID:              mc.ID,
		SampleRate:      mc.SampleRate,
		Window:          mc.Window,
		DelayWindows:    mc.DelayWindows,
		Version:         version,
		FixedParameters: fixed,
	}, weights, factory)
}

// BuildAuthority creates the configured authorities in failover order. A
// single authority is returned as is; several are wrapped in a
// [resilience.AuthorityFallback].
func BuildAuthority(lc config.LicenseConfig, reg *config.Registry) (license.Authority, error) {
	if len(lc.Authorities) == 0 {
		return nil, errors.New("no authorities configured")
	}
	var fb *resilience.AuthorityFallback
	var first license.Authority
	for i, entry := range lc.Authorities {
		a, err := reg.CreateAuthority(entry)
		if err != nil {
			return nil, fmt.Errorf("authority %d (%s): %w", i, authorityName(entry, i), err)
		}
		switch i {
		case 0:
			first = a
		case 1:
			fb = resilience.NewAuthorityFallback(first, authorityName(lc.Authorities[0], 0), resilience.FallbackConfig{})
			fallthrough
		default:
			fb.AddFallback(authorityName(entry, i), a)
		}
		slog.Info("license authority created", "name", authorityName(entry, i), "type", entry.Type, "url", entry.URL)
	}
	if fb != nil {
		return fb, nil
	}
	return first, nil
}

func authorityName(e config.AuthorityEntry, i int) string {
	if e.Name != "" {
		return e.Name
	}
	return fmt.Sprintf("authority-%d", i)
}

// processorOptions turns the license timings into processor options. Zero
// durations keep the engine defaults.
func (a *App) processorOptions(lc config.LicenseConfig) []enhance.Option {
	opts := []enhance.Option{
		enhance.WithMetrics(a.metrics),
		enhance.WithLicenseTimeouts(lc.AuthTimeout, lc.TelemetryTimeout),
		enhance.WithReportInterval(lc.ReportInterval, lc.RetryInterval),
		enhance.WithRequestTimeout(lc.RequestTimeout),
	}
	if a.authority != nil {
		opts = append(opts, enhance.WithAuthority(a.authority))
	}
	return append(opts, a.extraOpts...)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Model returns the shared model.
func (a *App) Model() *enhance.Model { return a.model }

// Config returns the running config.
func (a *App) Config() *config.Config { return a.cfg.Load() }

// Tuning returns the tuning new sessions receive.
func (a *App) Tuning() Tuning { return *a.tuning.Load() }

// Sessions returns the stream session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Metrics returns the metric instruments the app records into.
func (a *App) Metrics() *observe.Metrics { return a.metrics }

// NewProcessor creates a processor licensed with the configured key and
// applies the current tuning. The caller owns the processor and must close
// it.
func (a *App) NewProcessor() (*enhance.Processor, error) {
	p, err := enhance.NewProcessor(a.model, a.cfg.Load().License.Key, a.procOpts...)
	if err != nil {
		return nil, err
	}
	if err := a.tuning.Load().Apply(p); err != nil {
		slog.Warn("tuning not fully applied", "processor", p.ID(), "err", err)
	}
	return p, nil
}

// Checkers returns readiness checks for the health endpoints.
func (a *App) Checkers() []health.Checker {
	return []health.Checker{
		{Name: "model", Check: func(context.Context) error {
			if a.model == nil {
				return errors.New("not loaded")
			}
			return nil
		}},
		{Name: "sessions", Check: func(context.Context) error {
			if limit := a.sessions.Max(); limit > 0 && a.sessions.Count() >= limit {
				return fmt.Errorf("at capacity (%d)", limit)
			}
			return nil
		}},
		{Name: "authorities", Check: a.checkAuthorities},
	}
}

// checkAuthorities fails when every authority's circuit is open. A single
// authority or an injected one has no breaker state and always passes.
func (a *App) checkAuthorities(context.Context) error {
	fb, ok := a.authority.(*resilience.AuthorityFallback)
	if !ok {
		return nil
	}
	states := fb.States()
	for _, s := range states {
		if s != resilience.StateOpen {
			return nil
		}
	}
	return fmt.Errorf("all %d authorities unavailable", len(states))
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of next: log level and
// tuning, the latter to every live session. A parameter dropped from the
// tuning returns to its engine default on live sessions. Sections that need a restart are
// logged and otherwise ignored. It returns the computed diff.
func (a *App) ApplyConfig(next *config.Config) config.ConfigDiff {
	cur := a.cfg.Load()
	d := config.Diff(cur, next)
	if !d.Changed() {
		return d
	}

	updated := *cur
	if d.LogLevelChanged {
		updated.Server.LogLevel = d.NewLogLevel
		if a.level != nil {
			a.level.Set(d.NewLogLevel.Level())
		}
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	if d.ParametersChanged || d.VADChanged {
		t, err := ParseTuning(next.Parameters, next.VAD)
		if err != nil {
			slog.Error("config reload: invalid tuning, keeping current values", "err", err)
		} else {
			updated.Parameters = next.Parameters
			updated.VAD = next.VAD
			live := t.restoring(*a.tuning.Load())
			a.tuning.Store(&t)
			a.sessions.Each(func(s *Session) {
				if err := live.Apply(s.Processor()); err != nil {
					slog.Warn("config reload: tuning not fully applied", "session_id", s.Info().SessionID, "err", err)
				}
			})
			slog.Info("tuning reloaded", "sessions", a.sessions.Count())
		}
	}

	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart to take effect", "sections", d.RestartRequired)
	}
	a.cfg.Store(&updated)
	return d
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// AddCloser registers fn to run during Shutdown, after the ones already
// registered.
func (a *App) AddCloser(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Shutdown runs the closers in registration order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers), "sessions", a.sessions.Count())

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(ctx); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
