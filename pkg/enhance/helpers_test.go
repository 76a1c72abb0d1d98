package enhance_test

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/clearvox/internal/observe"
	"github.com/MrWong99/clearvox/pkg/enhance"
	"github.com/MrWong99/clearvox/pkg/enhance/mock"
)

const (
	testRate   = 48000
	testWindow = 480 // 10ms at 48kHz

	offlineKey = "1.offline.test"
	onlineKey  = "1.online.test"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func testInfo(delayWindows int) enhance.ModelInfo {
	return enhance.ModelInfo{
		ID:           "test-48khz",
		SampleRate:   testRate,
		Window:       10 * time.Millisecond,
		DelayWindows: delayWindows,
		Version:      enhance.CompatibleModelVersion(),
	}
}

func newModel(t *testing.T, f *mock.Factory, delayWindows int) *enhance.Model {
	t.Helper()
	m, err := enhance.NewModel(testInfo(delayWindows), nil, f.New)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	return m
}

func newProcessor(t *testing.T, m *enhance.Model, opts ...enhance.Option) *enhance.Processor {
	t.Helper()
	return newProcessorKey(t, m, offlineKey, opts...)
}

func newProcessorKey(t *testing.T, m *enhance.Model, key string, opts ...enhance.Option) *enhance.Processor {
	t.Helper()
	opts = append([]enhance.Option{enhance.WithMetrics(testMetrics(t))}, opts...)
	p, err := enhance.NewProcessor(m, key, opts...)
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func initialize(t *testing.T, p *enhance.Processor, cfg enhance.ProcessorConfig) {
	t.Helper()
	if err := p.Initialize(cfg); err != nil {
		t.Fatalf("Initialize(%+v): %v", cfg, err)
	}
}

// signal returns a deterministic multichannel test tone with no zeros.
func signal(channels, frames int) [][]float32 {
	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
		for i := range out[ch] {
			out[ch][i] = 0.25 + 0.5*float32(math.Sin(float64(i)*0.01*float64(ch+1)))
		}
	}
	return out
}

// runPlanar feeds in through p in calls of the given sizes, cycling through
// sizes, and returns the concatenated output and per-call errors.
func runPlanar(t *testing.T, p *enhance.Processor, in [][]float32, sizes []int) ([][]float32, []error) {
	t.Helper()
	total := len(in[0])
	out := make([][]float32, len(in))
	for ch := range out {
		out[ch] = make([]float32, 0, total)
	}
	var errs []error
	buf := make([][]float32, len(in))
	for pos, call := 0, 0; pos < total; call++ {
		n := min(sizes[call%len(sizes)], total-pos)
		for ch := range buf {
			buf[ch] = append(buf[ch][:0], in[ch][pos:pos+n]...)
		}
		errs = append(errs, p.ProcessPlanar(buf))
		for ch := range out {
			out[ch] = append(out[ch], buf[ch]...)
		}
		pos += n
	}
	return out, errs
}

// assertDelayed checks that out[i] == scale*in[i-delay] for every sample.
func assertDelayed(t *testing.T, in, out [][]float32, delay int, scale float32) {
	t.Helper()
	for ch := range in {
		for i := range out[ch] {
			var want float32
			if i >= delay {
				want = in[ch][i-delay] * scale
			}
			if out[ch][i] != want {
				t.Fatalf("channel %d sample %d = %v, want %v (delay %d)", ch, i, out[ch][i], want, delay)
			}
		}
	}
}

// fakeClock is a manually advanced clock safe for concurrent reads.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
