// Package observe provides application-wide observability primitives for
// clearvox: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
//
// The real-time audio path never records into OTel instruments directly.
// Processors count into atomics and flush the deltas from a background
// goroutine through the Record helpers below.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all clearvox metrics.
const meterName = "github.com/MrWong99/clearvox"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Audio path (flushed from atomics) ---

	// WindowsProcessed counts native windows. Use with attribute:
	//   attribute.String("mode", "enhanced"|"bypassed")
	WindowsProcessed metric.Int64Counter

	// ProcessCalls counts process calls. Use with attribute:
	//   attribute.String("status", ...)
	ProcessCalls metric.Int64Counter

	// AudioProcessed accumulates processed audio duration in seconds.
	AudioProcessed metric.Float64Counter

	// --- License gate ---

	// LicenseRequests counts authority calls. Use with attributes:
	//   attribute.String("kind", "authorize"|"report"), attribute.String("status", ...)
	LicenseRequests metric.Int64Counter

	// LicenseRequestDuration tracks authority call latency.
	LicenseRequestDuration metric.Float64Histogram

	// LicenseTransitions counts gate mode changes. Use with attribute:
	//   attribute.String("mode", ...)
	LicenseTransitions metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Attributes:
	// breaker and state.
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveProcessors tracks the number of open processors.
	ActiveProcessors metric.Int64UpDownCounter

	// ActiveStreams tracks the number of live streaming sessions.
	ActiveStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request time, including the lifetime
	// of websocket streams. Attributes: method, route (the matched mux
	// pattern) and status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// authority round trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Audio path.
	if met.WindowsProcessed, err = m.Int64Counter("clearvox.windows.processed",
		metric.WithDescription("Native windows processed by mode."),
	); err != nil {
		return nil, err
	}
	if met.ProcessCalls, err = m.Int64Counter("clearvox.process.calls",
		metric.WithDescription("Process calls by status."),
	); err != nil {
		return nil, err
	}
	if met.AudioProcessed, err = m.Float64Counter("clearvox.audio.processed",
		metric.WithDescription("Duration of audio processed."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// License gate.
	if met.LicenseRequests, err = m.Int64Counter("clearvox.license.requests",
		metric.WithDescription("License authority requests by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.LicenseRequestDuration, err = m.Float64Histogram("clearvox.license.request.duration",
		metric.WithDescription("Latency of license authority requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LicenseTransitions, err = m.Int64Counter("clearvox.license.transitions",
		metric.WithDescription("License gate mode transitions by target mode."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("clearvox.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by target state."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveProcessors, err = m.Int64UpDownCounter("clearvox.active_processors",
		metric.WithDescription("Number of open processors."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("clearvox.active_streams",
		metric.WithDescription("Number of live streaming sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("clearvox.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordWindows adds enhanced and bypassed window counts.
func (m *Metrics) RecordWindows(ctx context.Context, enhanced, bypassed int64) {
	if enhanced > 0 {
		m.WindowsProcessed.Add(ctx, enhanced, metric.WithAttributes(attribute.String("mode", "enhanced")))
	}
	if bypassed > 0 {
		m.WindowsProcessed.Add(ctx, bypassed, metric.WithAttributes(attribute.String("mode", "bypassed")))
	}
}

// RecordProcessCalls adds n process calls that ended with status.
func (m *Metrics) RecordProcessCalls(ctx context.Context, status string, n int64) {
	if n <= 0 {
		return
	}
	m.ProcessCalls.Add(ctx, n, metric.WithAttributes(attribute.String("status", status)))
}

// RecordAudio adds processed audio duration.
func (m *Metrics) RecordAudio(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	m.AudioProcessed.Add(ctx, d.Seconds())
}

// RecordLicenseRequest records one authority call of the given kind.
func (m *Metrics) RecordLicenseRequest(ctx context.Context, kind, status string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	)
	m.LicenseRequests.Add(ctx, 1, attrs)
	m.LicenseRequestDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordLicenseTransition records a gate change into mode.
func (m *Metrics) RecordLicenseTransition(ctx context.Context, mode string) {
	m.LicenseTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordBreakerTransition records breaker entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", breaker),
		attribute.String("state", state),
	))
}
