package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/clearvox/internal/observe"
	"github.com/MrWong99/clearvox/pkg/enhance"
)

var (
	// ErrTooManySessions is returned by [SessionManager.Start] when the
	// configured session limit is reached.
	ErrTooManySessions = errors.New("app: too many sessions")

	// ErrSessionNotFound is returned for unknown session IDs.
	ErrSessionNotFound = errors.New("app: session not found")
)

// SessionInfo holds metadata about a live stream session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session. It equals the
	// processor's instance ID.
	SessionID string

	// StartedAt is when the session was started.
	StartedAt time.Time

	// Remote describes the peer, e.g. its network address.
	Remote string

	// Config is the stream's processor configuration.
	Config enhance.ProcessorConfig
}

// Session is one live stream: an initialized processor plus its metadata.
// The processor must only be driven by the goroutine that owns the stream;
// the manager touches it through its contexts only.
type Session struct {
	info SessionInfo
	proc *enhance.Processor
}

// Info returns the session metadata.
func (s *Session) Info() SessionInfo { return s.info }

// Processor returns the session's processor.
func (s *Session) Processor() *enhance.Processor { return s.proc }

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	// MaxSessions caps concurrent sessions. 0 means unlimited.
	MaxSessions int

	// NewProcessor creates an uninitialized processor for a new session.
	NewProcessor func() (*enhance.Processor, error)

	// Metrics receives the active session gauge. Nil uses the defaults.
	Metrics *observe.Metrics
}

// SessionManager manages the lifecycle of stream sessions. All exported
// methods are safe for concurrent use.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	max          int
	newProcessor func() (*enhance.Processor, error)
	metrics      *observe.Metrics
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &SessionManager{
		sessions:     make(map[string]*Session),
		max:          cfg.MaxSessions,
		newProcessor: cfg.NewProcessor,
		metrics:      m,
	}
}

// Start creates a processor, initializes it with pcfg and registers the
// session. On any failure the processor is closed again.
func (sm *SessionManager) Start(ctx context.Context, pcfg enhance.ProcessorConfig, remote string) (*Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.max > 0 && len(sm.sessions) >= sm.max {
		return nil, fmt.Errorf("%w: limit %d", ErrTooManySessions, sm.max)
	}

	proc, err := sm.newProcessor()
	if err != nil {
		return nil, fmt.Errorf("app: create processor: %w", err)
	}
	if err := proc.Initialize(pcfg); err != nil {
		_ = proc.Close()
		return nil, fmt.Errorf("app: initialize processor: %w", err)
	}

	s := &Session{
		info: SessionInfo{
			SessionID: proc.ID(),
			StartedAt: time.Now().UTC(),
			Remote:    remote,
			Config:    pcfg,
		},
		proc: proc,
	}
	sm.sessions[s.info.SessionID] = s
	sm.metrics.ActiveStreams.Add(ctx, 1)

	slog.Info("session started",
		"session_id", s.info.SessionID,
		"remote", remote,
		"sample_rate", pcfg.SampleRate,
		"channels", pcfg.NumChannels,
		"frames", pcfg.NumFrames,
		"variable", pcfg.AllowVariableFrames,
		"delay", proc.OutputDelay(),
	)
	return s, nil
}

// Stop ends the session with the given ID and closes its processor.
func (sm *SessionManager) Stop(ctx context.Context, id string) error {
	sm.mu.Lock()
	s, ok := sm.sessions[id]
	if ok {
		delete(sm.sessions, id)
	}
	sm.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sm.close(ctx, s)
}

// StopAll ends every session. It returns the joined close errors.
func (sm *SessionManager) StopAll(ctx context.Context) error {
	sm.mu.Lock()
	all := sm.sessions
	sm.sessions = make(map[string]*Session)
	sm.mu.Unlock()

	var errs []error
	for _, s := range all {
		errs = append(errs, sm.close(ctx, s))
	}
	return errors.Join(errs...)
}

func (sm *SessionManager) close(ctx context.Context, s *Session) error {
	sm.metrics.ActiveStreams.Add(ctx, -1)
	err := s.proc.Close()
	if err != nil {
		slog.Warn("session: close error", "session_id", s.info.SessionID, "err", err)
	}
	slog.Info("session stopped",
		"session_id", s.info.SessionID,
		"duration", time.Since(s.info.StartedAt).Round(time.Millisecond),
	)
	return err
}

// Get returns the session with the given ID.
func (sm *SessionManager) Get(id string) (*Session, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s, ok := sm.sessions[id]
	return s, ok
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// Max returns the session limit. 0 means unlimited.
func (sm *SessionManager) Max() int { return sm.max }

// List returns metadata of all live sessions, oldest first.
func (sm *SessionManager) List() []SessionInfo {
	sm.mu.Lock()
	infos := make([]SessionInfo, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		infos = append(infos, s.info)
	}
	sm.mu.Unlock()

	slices.SortFunc(infos, func(a, b SessionInfo) int {
		return cmp.Or(a.StartedAt.Compare(b.StartedAt), cmp.Compare(a.SessionID, b.SessionID))
	})
	return infos
}

// Each calls fn for every live session. fn runs without the manager lock
// held, so it may call back into the manager.
func (sm *SessionManager) Each(fn func(*Session)) {
	sm.mu.Lock()
	snapshot := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		snapshot = append(snapshot, s)
	}
	sm.mu.Unlock()

	for _, s := range snapshot {
		fn(s)
	}
}
