package app_test

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/clearvox/internal/app"
	"github.com/MrWong99/clearvox/internal/config"
	"github.com/MrWong99/clearvox/internal/observe"
)

// testConfig returns a minimal config with a passthrough model for tests.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: "127.0.0.1:0",
			LogLevel:   config.LogInfo,
		},
		License: config.LicenseConfig{Key: "1.offline.test"},
		Model: config.ModelConfig{
			ID:           "passthrough-48k",
			Kernel:       "passthrough",
			SampleRate:   48000,
			Window:       10 * time.Millisecond,
			DelayWindows: 1,
		},
	}
}

func testRegistry() *config.Registry {
	reg := config.NewRegistry()
	app.RegisterBuiltins(reg)
	return reg
}

func testMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func newApp(t *testing.T, cfg *config.Config, opts ...app.Option) *app.App {
	t.Helper()
	if len(opts) == 0 {
		m, _ := testMetrics(t)
		opts = append(opts, app.WithMetrics(m))
	}
	a, err := app.New(cfg, testRegistry(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

// activeStreams reads the current value of the active streams gauge.
func activeStreams(t *testing.T, reader *sdkmetric.ManualReader) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "clearvox.active_streams" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("active_streams data is %T", m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}
