package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/clearvox/internal/app"
	"github.com/MrWong99/clearvox/internal/kernel/passthrough"
	"github.com/MrWong99/clearvox/pkg/enhance"
)

// newTestSessionManager returns a manager creating offline passthrough
// processors.
func newTestSessionManager(t *testing.T, maxSessions int) (*app.SessionManager, *enhance.Model) {
	t.Helper()
	model, err := enhance.NewModel(enhance.ModelInfo{
		ID:         "passthrough-16k",
		SampleRate: 16000,
		Window:     10 * time.Millisecond,
		Version:    enhance.CompatibleModelVersion(),
	}, nil, passthrough.New)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	m, _ := testMetrics(t)
	sm := app.NewSessionManager(app.SessionManagerConfig{
		MaxSessions: maxSessions,
		NewProcessor: func() (*enhance.Processor, error) {
			return enhance.NewProcessor(model, "1.offline.test", enhance.WithMetrics(m))
		},
		Metrics: m,
	})
	t.Cleanup(func() { _ = sm.StopAll(context.Background()) })
	return sm, model
}

func TestSessionManager_StartStop(t *testing.T) {
	t.Parallel()

	sm, model := newTestSessionManager(t, 0)
	ctx := context.Background()

	s, err := sm.Start(ctx, model.OptimalConfig(), "10.0.0.1:5000")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	info := s.Info()
	if info.SessionID == "" || info.SessionID != s.Processor().ID() {
		t.Errorf("session id = %q, processor id = %q", info.SessionID, s.Processor().ID())
	}
	if info.Remote != "10.0.0.1:5000" {
		t.Errorf("remote = %q", info.Remote)
	}
	if info.StartedAt.IsZero() {
		t.Error("StartedAt not set")
	}
	if _, ok := s.Processor().Config(); !ok {
		t.Error("processor not initialized")
	}

	got, ok := sm.Get(info.SessionID)
	if !ok || got != s {
		t.Fatal("Get did not return the started session")
	}
	if sm.Count() != 1 {
		t.Errorf("Count = %d, want 1", sm.Count())
	}

	if err := sm.Stop(ctx, info.SessionID); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sm.Count() != 0 {
		t.Errorf("Count = %d after stop", sm.Count())
	}
	if err := s.Processor().ProcessPlanar([][]float32{make([]float32, 160)}); !errors.Is(err, enhance.ErrProcessorClosed) {
		t.Errorf("process after stop = %v, want ErrProcessorClosed", err)
	}
}

func TestSessionManager_StopUnknown(t *testing.T) {
	t.Parallel()

	sm, _ := newTestSessionManager(t, 0)
	if err := sm.Stop(context.Background(), "nope"); !errors.Is(err, app.ErrSessionNotFound) {
		t.Fatalf("Stop = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionManager_Limit(t *testing.T) {
	t.Parallel()

	sm, model := newTestSessionManager(t, 2)
	ctx := context.Background()
	for i := range 2 {
		if _, err := sm.Start(ctx, model.OptimalConfig(), ""); err != nil {
			t.Fatalf("Start %d: %v", i, err)
		}
	}
	if _, err := sm.Start(ctx, model.OptimalConfig(), ""); !errors.Is(err, app.ErrTooManySessions) {
		t.Fatalf("third Start = %v, want ErrTooManySessions", err)
	}
	if sm.Max() != 2 {
		t.Errorf("Max = %d, want 2", sm.Max())
	}
}

func TestSessionManager_InitializeFailure(t *testing.T) {
	t.Parallel()

	sm, _ := newTestSessionManager(t, 0)
	_, err := sm.Start(context.Background(), enhance.ProcessorConfig{SampleRate: 1, NumChannels: 1, NumFrames: 1}, "")
	if !errors.Is(err, enhance.ErrAudioConfigUnsupported) {
		t.Fatalf("Start = %v, want ErrAudioConfigUnsupported", err)
	}
	if sm.Count() != 0 {
		t.Errorf("failed session was registered")
	}
}

func TestSessionManager_ProcessorFailure(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("no processors today")
	sm := app.NewSessionManager(app.SessionManagerConfig{
		NewProcessor: func() (*enhance.Processor, error) { return nil, wantErr },
	})
	if _, err := sm.Start(context.Background(), enhance.ProcessorConfig{}, ""); !errors.Is(err, wantErr) {
		t.Fatalf("Start = %v, want %v", err, wantErr)
	}
}

func TestSessionManager_ListAndEach(t *testing.T) {
	t.Parallel()

	sm, model := newTestSessionManager(t, 0)
	ctx := context.Background()
	var ids []string
	for range 3 {
		s, err := sm.Start(ctx, model.OptimalConfig(), "")
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		ids = append(ids, s.Info().SessionID)
	}

	list := sm.List()
	if len(list) != 3 {
		t.Fatalf("List len = %d, want 3", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i].StartedAt.Before(list[i-1].StartedAt) {
			t.Errorf("List not ordered by start time: %v", list)
		}
	}

	seen := map[string]bool{}
	sm.Each(func(s *app.Session) {
		seen[s.Info().SessionID] = true
		// Calling back into the manager must not deadlock.
		_ = sm.Count()
	})
	for _, id := range ids {
		if !seen[id] {
			t.Errorf("Each skipped %s", id)
		}
	}
}

func TestSessionManager_StopAll(t *testing.T) {
	t.Parallel()

	sm, model := newTestSessionManager(t, 0)
	ctx := context.Background()
	var sessions []*app.Session
	for range 3 {
		s, err := sm.Start(ctx, model.OptimalConfig(), "")
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		sessions = append(sessions, s)
	}
	if err := sm.StopAll(ctx); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	if sm.Count() != 0 {
		t.Errorf("Count = %d after StopAll", sm.Count())
	}
	for _, s := range sessions {
		if err := s.Processor().Context().Reset(); !errors.Is(err, enhance.ErrProcessorClosed) {
			t.Errorf("session %s not closed", s.Info().SessionID)
		}
	}
}

func TestSessionManager_ActiveStreamsMetric(t *testing.T) {
	t.Parallel()

	m, reader := testMetrics(t)
	model, err := enhance.NewModel(enhance.ModelInfo{
		ID:         "passthrough-16k",
		SampleRate: 16000,
		Window:     10 * time.Millisecond,
		Version:    enhance.CompatibleModelVersion(),
	}, nil, passthrough.New)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	sm := app.NewSessionManager(app.SessionManagerConfig{
		NewProcessor: func() (*enhance.Processor, error) {
			return enhance.NewProcessor(model, "1.offline.test", enhance.WithMetrics(m))
		},
		Metrics: m,
	})
	ctx := context.Background()

	a, err := sm.Start(ctx, model.OptimalConfig(), "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := sm.Start(ctx, model.OptimalConfig(), ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := activeStreams(t, reader); got != 2 {
		t.Errorf("active streams = %d, want 2", got)
	}
	if err := sm.Stop(ctx, a.Info().SessionID); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := activeStreams(t, reader); got != 1 {
		t.Errorf("active streams = %d, want 1", got)
	}
	_ = sm.StopAll(ctx)
}

func TestSessionManager_ConcurrentStartStop(t *testing.T) {
	t.Parallel()

	sm, model := newTestSessionManager(t, 4)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				s, err := sm.Start(ctx, model.OptimalConfig(), "")
				if errors.Is(err, app.ErrTooManySessions) {
					continue
				}
				if err != nil {
					t.Errorf("Start: %v", err)
					return
				}
				if err := sm.Stop(ctx, s.Info().SessionID); err != nil {
					t.Errorf("Stop: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	if sm.Count() != 0 {
		t.Errorf("Count = %d, want 0", sm.Count())
	}
}
