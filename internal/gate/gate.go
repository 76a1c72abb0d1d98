// Package gate implements the license gate that decides, window by window,
// whether a processor may enhance audio or must pass it through.
//
// The decision is a pure function of a few atomics and the clock, so the
// real-time audio path can call [Gate.Mode] without locks, allocation or
// I/O. Authorization and usage reporting run in [Gate.Run] on background
// goroutines; they only ever move the atomics forward.
//
// Timeline for an online key:
//
//   - From creation until AuthTimeout the gate is in grace and enhances even
//     without an authorization.
//   - After AuthTimeout without a successful authorization it bypasses with
//     [BypassPendingAuth] until one succeeds.
//   - Once authorized, usage is reported every ReportInterval. If no report
//     succeeds for TelemetryTimeout it bypasses with [BypassPendingTelemetry]
//     until one succeeds.
//   - A key the authority rejects as invalid or expired bypasses with
//     [BypassPendingAuth] at once, grace or not, and is retried with
//     exponential backoff until an authorization succeeds.
//
// Offline keys are authorized at construction and never report.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/clearvox/internal/observe"
	"github.com/MrWong99/clearvox/internal/resilience"
	"github.com/MrWong99/clearvox/pkg/license"
)

// Mode is the gate's current verdict.
type Mode int32

const (
	// Enhancing allows enhancement.
	Enhancing Mode = iota

	// BypassPendingAuth passes audio through until authorization succeeds.
	BypassPendingAuth

	// BypassPendingTelemetry passes audio through until a usage report
	// succeeds.
	BypassPendingTelemetry
)

// String returns the metric and log label of m.
func (m Mode) String() string {
	switch m {
	case Enhancing:
		return "enhancing"
	case BypassPendingAuth:
		return "bypass_pending_auth"
	case BypassPendingTelemetry:
		return "bypass_pending_telemetry"
	default:
		return "unknown"
	}
}

// Config tunes a [Gate]. Zero-value fields are replaced with defaults.
type Config struct {
	// AuthTimeout is the grace period before an unauthorized gate bypasses.
	// Default: 10s.
	AuthTimeout time.Duration

	// TelemetryTimeout is how long an authorized online gate may go without a
	// successful usage report. Default: 5m.
	TelemetryTimeout time.Duration

	// ReportInterval is the usage reporting period. Default: 1m.
	ReportInterval time.Duration

	// RetryInterval is the delay between failed attempts. Default: 2s.
	RetryInterval time.Duration

	// RequestTimeout bounds every authority call. Default: 5s.
	RequestTimeout time.Duration

	// MaxBackoff caps the wait between attempts after the authority
	// rejected the key. The wait starts at RetryInterval and doubles.
	// Default: 5m.
	MaxBackoff time.Duration

	// WatchInterval is how often mode transitions are checked for logging
	// and metrics. Default: 1s.
	WatchInterval time.Duration

	// InstanceID is sent with usage reports.
	InstanceID string

	// Now returns the current time. Default: time.Now.
	Now func() time.Time

	// Metrics receives request and transition metrics. Default:
	// observe.DefaultMetrics().
	Metrics *observe.Metrics

	// OnChange, if set, is called from the watch loop after every mode
	// transition.
	OnChange func(from, to Mode)
}

func (c *Config) setDefaults() {
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 10 * time.Second
	}
	if c.TelemetryTimeout <= 0 {
		c.TelemetryTimeout = 5 * time.Minute
	}
	if c.ReportInterval <= 0 {
		c.ReportInterval = time.Minute
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 2 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Minute
	}
	c.MaxBackoff = max(c.MaxBackoff, c.RetryInterval)
	if c.WatchInterval <= 0 {
		c.WatchInterval = time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Metrics == nil {
		c.Metrics = observe.DefaultMetrics()
	}
}

// Gate tracks authorization and telemetry state for one processor.
type Gate struct {
	key     license.Key
	auth    license.Authority
	cfg     Config
	breaker *resilience.CircuitBreaker

	created    int64 // unix nanos
	authorized atomic.Bool
	rejected   atomic.Bool  // the authority's last verdict refused the key
	lastReport atomic.Int64 // unix nanos of last success, or of authorization
	pending    atomic.Int64 // unreported audio in nanoseconds
	observed   atomic.Int32 // last Mode seen by the watch loop
}

// New creates a gate for key. A nil authority behaves as one that is never
// reachable.
func New(key license.Key, auth license.Authority, cfg Config) *Gate {
	cfg.setDefaults()
	g := &Gate{
		key:  key,
		auth: auth,
		cfg:  cfg,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:        "license",
			MaxFailures: 3,
			Cooldown:    cfg.RetryInterval * 5,
			Probes:      1,
			Now:         cfg.Now,
			OnStateChange: func(name string, _, to resilience.State) {
				cfg.Metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		}),
	}
	now := cfg.Now().UnixNano()
	g.created = now
	g.lastReport.Store(now)
	if !key.Online() {
		g.authorized.Store(true)
	}
	return g
}

// Mode returns the gate's verdict for the current instant. It is safe to
// call from the audio path.
func (g *Gate) Mode() Mode {
	if g.rejected.Load() {
		return BypassPendingAuth
	}
	now := g.cfg.Now().UnixNano()
	if !g.authorized.Load() {
		if now-g.created >= int64(g.cfg.AuthTimeout) {
			return BypassPendingAuth
		}
		return Enhancing
	}
	if g.key.Online() && now-g.lastReport.Load() >= int64(g.cfg.TelemetryTimeout) {
		return BypassPendingTelemetry
	}
	return Enhancing
}

// Authorized reports whether an authorization has succeeded.
func (g *Gate) Authorized() bool { return g.authorized.Load() }

// Rejected reports whether the authority refused the key on its last answer.
func (g *Gate) Rejected() bool { return g.rejected.Load() }

// AddUsage accumulates processed audio for the next report. Safe to call
// from the audio path.
func (g *Gate) AddUsage(d time.Duration) {
	if g.key.Online() {
		g.pending.Add(int64(d))
	}
}

// Run drives authorization, reporting and transition logging until ctx is
// cancelled. It always returns nil on cancellation.
func (g *Gate) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return g.authorizeLoop(ctx) })
	eg.Go(func() error { return g.watchLoop(ctx) })
	return eg.Wait()
}

func (g *Gate) authorizeLoop(ctx context.Context) error {
	if !g.key.Online() {
		return nil
	}
	for {
		backoff := g.cfg.RetryInterval
		for !g.authorized.Load() {
			err := g.attemptAuthorize(ctx)
			if err == nil {
				break
			}
			wait := g.cfg.RetryInterval
			if license.IsRejection(err) {
				wait = backoff
				backoff = min(2*backoff, g.cfg.MaxBackoff)
				observe.Logger(ctx).Warn("license rejected by authority", "key", g.key, "err", err, "retry_in", wait)
			} else {
				observe.Logger(ctx).Debug("license authorization failed", "key", g.key, "err", err)
			}
			if !sleep(ctx, wait) {
				return nil
			}
		}
		if !g.reportLoop(ctx) {
			return nil
		}
	}
}

// reportLoop reports usage until ctx is cancelled, returning false, or
// until the authority rejects the key, returning true.
func (g *Gate) reportLoop(ctx context.Context) bool {
	wait := g.cfg.ReportInterval
	for {
		if !sleep(ctx, wait) {
			// Best-effort final report with a fresh context.
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.cfg.RequestTimeout)
			_ = g.attemptReport(fctx)
			cancel()
			return false
		}
		err := g.attemptReport(ctx)
		switch {
		case err == nil:
			wait = g.cfg.ReportInterval
		case license.IsRejection(err):
			slog.Warn("license revoked during reporting", "key", g.key, "err", err)
			return true
		default:
			slog.Warn("license usage report failed", "key", g.key, "err", err)
			wait = g.cfg.RetryInterval
		}
	}
}

func (g *Gate) watchLoop(ctx context.Context) error {
	ticker := time.NewTicker(g.cfg.WatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g.checkTransition(ctx)
		}
	}
}

// checkTransition compares the current mode with the last observed one and
// logs, counts and notifies a change.
func (g *Gate) checkTransition(ctx context.Context) {
	cur := g.Mode()
	prev := Mode(g.observed.Swap(int32(cur)))
	if prev == cur {
		return
	}
	if cur == Enhancing {
		slog.Info("license gate enhancing", "from", prev, "key", g.key)
	} else {
		slog.Warn("license gate bypassing", "mode", cur, "key", g.key)
	}
	g.cfg.Metrics.RecordLicenseTransition(ctx, cur.String())
	if g.cfg.OnChange != nil {
		g.cfg.OnChange(prev, cur)
	}
}

// attemptAuthorize performs one authorization call.
func (g *Gate) attemptAuthorize(ctx context.Context) error {
	err := g.call(ctx, "authorize", func(ctx context.Context) error {
		return g.auth.Authorize(ctx, g.key)
	})
	if err != nil {
		if license.IsRejection(err) {
			g.rejected.Store(true)
		}
		return err
	}
	g.lastReport.Store(g.cfg.Now().UnixNano())
	g.rejected.Store(false)
	g.authorized.Store(true)
	slog.Info("license authorized", "key", g.key)
	return nil
}

// attemptReport sends the pending usage. On failure the usage is kept for
// the next attempt.
func (g *Gate) attemptReport(ctx context.Context) error {
	audio := g.pending.Swap(0)
	u := license.Usage{
		InstanceID: g.cfg.InstanceID,
		Audio:      time.Duration(audio),
		At:         g.cfg.Now(),
	}
	err := g.call(ctx, "report", func(ctx context.Context) error {
		return g.auth.ReportUsage(ctx, g.key, u)
	})
	if err != nil {
		g.pending.Add(audio)
		if license.IsRejection(err) {
			g.rejected.Store(true)
			g.authorized.Store(false)
		}
		return err
	}
	g.lastReport.Store(g.cfg.Now().UnixNano())
	return nil
}

// call runs fn through the breaker with a per-request timeout, a span and
// request metrics.
func (g *Gate) call(ctx context.Context, kind string, fn func(context.Context) error) error {
	ctx, span := observe.StartSpan(ctx, "license."+kind,
		trace.WithAttributes(attribute.String("license.class", string(g.key.Class))),
	)
	defer span.End()

	start := time.Now()
	// Rejections count as successes for the breaker.
	var verdict error
	err := g.breaker.Execute(func() error {
		if g.auth == nil {
			return license.ErrUnreachable
		}
		rctx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
		defer cancel()
		err := fn(rctx)
		if license.IsRejection(err) {
			verdict = err
			return nil
		}
		return err
	})
	if verdict != nil {
		err = verdict
	}

	status := "ok"
	switch {
	case err == nil:
	case verdict != nil:
		status = "rejected"
	case errors.Is(err, resilience.ErrCircuitOpen):
		status = "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		status = "timeout"
	default:
		status = "error"
	}
	g.cfg.Metrics.RecordLicenseRequest(ctx, kind, status, time.Since(start))

	if err != nil {
		observe.FailSpan(span, err)
		return fmt.Errorf("gate: %s: %w", kind, err)
	}
	return nil
}

// sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
