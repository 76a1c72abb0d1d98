// Package server exposes the enhancement engine over HTTP.
//
// Routes:
//
//	GET /v1/stream    websocket stream session, see [Server.handleStream]
//	GET /v1/sessions  JSON list of live sessions
//	GET /healthz      liveness
//	GET /readyz       readiness (model loaded, session capacity left)
//	GET /metrics      Prometheus scrape endpoint
//
// Every request passes through [observe.Middleware] for tracing, request
// metrics and access logging.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/clearvox/internal/app"
	"github.com/MrWong99/clearvox/internal/health"
	"github.com/MrWong99/clearvox/internal/observe"
)

// DefaultListenAddr is used when server.listen_addr is empty.
const DefaultListenAddr = ":8080"

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// Server serves the stream, health and metrics endpoints for one [app.App].
type Server struct {
	app     *app.App
	health  *health.Handler
	accept  *websocket.AcceptOptions
	handler http.Handler
}

// Option is a functional option for New.
type Option func(*Server)

// WithAcceptOptions sets the websocket accept options, e.g. allowed origin
// patterns for browser clients.
func WithAcceptOptions(o *websocket.AcceptOptions) Option {
	return func(s *Server) { s.accept = o }
}

// New creates a Server for a.
func New(a *app.App, opts ...Option) *Server {
	s := &Server{
		app:    a,
		health: health.New(a.Checkers()...),
	}
	for _, o := range opts {
		o(s)
	}

	mux := http.NewServeMux()
	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	mux.HandleFunc("GET /v1/sessions", s.handleSessions)
	s.handler = observe.Middleware(a.Metrics(),
		observe.WithQuietRoutes("GET /healthz", "GET /readyz", "GET /metrics"),
	)(mux)
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Health returns the health handler so callers can add checkers.
func (s *Server) Health() *health.Handler { return s.health }

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := s.app.Config().Server.ListenAddr
	if addr == "" {
		addr = DefaultListenAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %q: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully. Stream sessions observe ctx and end with it. Serve always
// closes ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ErrorLog:          slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
	}

	tls := s.app.Config().Server.TLS
	errCh := make(chan error, 1)
	go func() {
		if tls != nil {
			errCh <- srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- srv.Serve(ln)
	}()
	slog.Info("server listening", "addr", ln.Addr().String(), "tls", tls != nil)

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// sessionJSON is one entry of the /v1/sessions response.
type sessionJSON struct {
	ID         string    `json:"id"`
	Remote     string    `json:"remote"`
	StartedAt  time.Time `json:"started_at"`
	SampleRate int       `json:"sample_rate"`
	Channels   int       `json:"channels"`
	Frames     int       `json:"frames"`
	Variable   bool      `json:"variable"`
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	infos := s.app.Sessions().List()
	out := make([]sessionJSON, 0, len(infos))
	for _, info := range infos {
		out = append(out, sessionJSON{
			ID:         info.SessionID,
			Remote:     info.Remote,
			StartedAt:  info.StartedAt,
			SampleRate: info.Config.SampleRate,
			Channels:   info.Config.NumChannels,
			Frames:     info.Config.NumFrames,
			Variable:   info.Config.AllowVariableFrames,
		})
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(out)
}
