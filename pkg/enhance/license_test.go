package enhance_test

import (
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/clearvox/pkg/enhance"
	"github.com/MrWong99/clearvox/pkg/enhance/mock"
	"github.com/MrWong99/clearvox/pkg/license"
	licensemock "github.com/MrWong99/clearvox/pkg/license/mock"
)

func TestProcessor_LicenseRejectionBypassesWithoutGrace(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	auth := &licensemock.Authority{AuthorizeErr: license.ErrLicenseInvalid}
	p := newProcessorKey(t, newModel(t, &mock.Factory{Scale: 2}, 1), onlineKey,
		enhance.WithAuthority(auth),
		enhance.WithClock(clock.Now),
		enhance.WithReportInterval(time.Minute, 5*time.Millisecond),
		enhance.WithRequestTimeout(time.Second),
	)
	initialize(t, p, enhance.ProcessorConfig{SampleRate: testRate, NumChannels: 1, NumFrames: testWindow})
	ctx := p.Context()

	// The clock never moves, so only the verdict can end the grace period.
	deadline := time.Now().Add(5 * time.Second)
	for ctx.LicenseMode() != enhance.LicenseBypassPendingAuth {
		if time.Now().After(deadline) {
			t.Fatalf("LicenseMode() = %v after rejection, want %v", ctx.LicenseMode(), enhance.LicenseBypassPendingAuth)
		}
		time.Sleep(5 * time.Millisecond)
	}

	in := signal(1, testWindow)
	buf := [][]float32{slices.Clone(in[0])}
	if err := p.ProcessPlanar(buf); !errors.Is(err, enhance.ErrEnhancementNotAllowed) {
		t.Errorf("process after rejection: %v, want ErrEnhancementNotAllowed", err)
	}
}

func TestProcessor_LicenseTimeoutBypasses(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	auth := &licensemock.Authority{AuthorizeErr: license.ErrUnreachable}
	p := newProcessorKey(t, newModel(t, &mock.Factory{Scale: 2}, 1), onlineKey,
		enhance.WithAuthority(auth),
		enhance.WithClock(clock.Now),
		enhance.WithReportInterval(time.Minute, 5*time.Millisecond),
		enhance.WithRequestTimeout(time.Second),
	)
	initialize(t, p, enhance.ProcessorConfig{SampleRate: testRate, NumChannels: 1, NumFrames: testWindow})
	ctx := p.Context()

	in := signal(1, testWindow*8)
	process := func(c int) ([]float32, error) {
		buf := [][]float32{slices.Clone(in[0][c*testWindow : (c+1)*testWindow])}
		err := p.ProcessPlanar(buf)
		return buf[0], err
	}
	check := func(c int, got []float32, scale float32) {
		t.Helper()
		for j, v := range got {
			i := c*testWindow + j
			var want float32
			if i >= testWindow {
				want = in[0][i-testWindow] * scale
			}
			if v != want {
				t.Fatalf("call %d sample %d = %v, want %v", c, j, v, want)
			}
		}
	}

	// Within the grace period audio is enhanced.
	for c := range 2 {
		out, err := process(c)
		if err != nil {
			t.Fatalf("call %d during grace: %v", c, err)
		}
		check(c, out, 2)
	}

	clock.Advance(10 * time.Second)
	if got := ctx.LicenseMode(); got != enhance.LicenseBypassPendingAuth {
		t.Fatalf("LicenseMode() = %v, want %v", got, enhance.LicenseBypassPendingAuth)
	}
	for c := 2; c < 4; c++ {
		out, err := process(c)
		if !errors.Is(err, enhance.ErrEnhancementNotAllowed) {
			t.Fatalf("call %d err = %v, want ErrEnhancementNotAllowed", c, err)
		}
		check(c, out, 1)
	}
	if got := p.OutputDelay(); got != testWindow {
		t.Errorf("OutputDelay() = %d during bypass, want %d", got, testWindow)
	}

	auth.SetAuthorizeErr(nil)
	deadline := time.Now().Add(5 * time.Second)
	for ctx.LicenseMode() != enhance.LicenseEnhancing {
		if time.Now().After(deadline) {
			t.Fatal("license never recovered after authority came back")
		}
		clock.Advance(100 * time.Millisecond)
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := process(4); err != nil {
		t.Errorf("process after recovery: %v", err)
	}
	if auth.AuthorizeCount() == 0 {
		t.Error("authority was never asked")
	}
}

func TestProcessor_NoAuthorityBypassesAfterGrace(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	p := newProcessorKey(t, newModel(t, &mock.Factory{}, 0), onlineKey, enhance.WithClock(clock.Now))
	initialize(t, p, enhance.ProcessorConfig{SampleRate: testRate, NumChannels: 1, NumFrames: testWindow})

	buf := [][]float32{make([]float32, testWindow)}
	if err := p.ProcessPlanar(buf); err != nil {
		t.Fatalf("during grace: %v", err)
	}
	clock.Advance(10*time.Second - time.Nanosecond)
	if err := p.ProcessPlanar(buf); err != nil {
		t.Fatalf("just before timeout: %v", err)
	}
	clock.Advance(time.Nanosecond)
	if err := p.ProcessPlanar(buf); !errors.Is(err, enhance.ErrEnhancementNotAllowed) {
		t.Fatalf("at timeout: err = %v, want ErrEnhancementNotAllowed", err)
	}
}

func TestProcessor_UsageReported(t *testing.T) {
	t.Parallel()
	auth := &licensemock.Authority{}
	p, err := enhance.NewProcessor(newModel(t, &mock.Factory{}, 0), onlineKey,
		enhance.WithAuthority(auth),
		enhance.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatal(err)
	}
	initialize(t, p, enhance.ProcessorConfig{SampleRate: testRate, NumChannels: 1, NumFrames: testWindow})

	deadline := time.Now().Add(5 * time.Second)
	for auth.AuthorizeCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("authorization never attempted")
		}
		time.Sleep(5 * time.Millisecond)
	}
	buf := [][]float32{make([]float32, testWindow)}
	for range 100 {
		if err := p.ProcessPlanar(buf); err != nil {
			t.Fatal(err)
		}
	}
	// Close sends a final report with the accumulated second of audio.
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	var total time.Duration
	for _, u := range auth.Reports() {
		total += u.Audio
		if u.InstanceID != p.ID() {
			t.Errorf("report instance = %q, want %q", u.InstanceID, p.ID())
		}
	}
	if total != time.Second {
		t.Errorf("reported %v of audio, want 1s", total)
	}
}

func TestProcessor_LicenseObserver(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	var (
		mu    sync.Mutex
		modes []enhance.LicenseMode
	)
	p := newProcessorKey(t, newModel(t, &mock.Factory{}, 0), onlineKey,
		enhance.WithClock(clock.Now),
		enhance.WithLicenseObserver(func(_, to enhance.LicenseMode) {
			mu.Lock()
			defer mu.Unlock()
			modes = append(modes, to)
		}),
	)
	clock.Advance(time.Minute)
	if p.Context().LicenseMode() != enhance.LicenseBypassPendingAuth {
		t.Fatal("gate did not bypass")
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := len(modes)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("observer never notified")
		}
		time.Sleep(10 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if modes[0] != enhance.LicenseBypassPendingAuth {
		t.Errorf("first notification = %v, want %v", modes[0], enhance.LicenseBypassPendingAuth)
	}
}
