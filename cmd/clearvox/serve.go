package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/clearvox/internal/app"
	"github.com/MrWong99/clearvox/internal/config"
	"github.com/MrWong99/clearvox/internal/observe"
	"github.com/MrWong99/clearvox/internal/server"
)

// shutdownTimeout bounds the graceful shutdown after a signal.
const shutdownTimeout = 15 * time.Second

func newServeCmd(f *rootFlags) *cobra.Command {
	var reloadInterval time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the stream enhancement server",
		Long: `Run the stream enhancement server.

Clients open a websocket on /v1/stream and exchange interleaved PCM frames.
Parameters, VAD settings and the log level are reloaded from the config file
while the server runs; other changes need a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, f, reloadInterval)
		},
	}
	cmd.Flags().DurationVar(&reloadInterval, "reload-interval", 5*time.Second, "config file polling interval")
	return cmd
}

func runServe(ctx context.Context, f *rootFlags, reloadInterval time.Duration) error {
	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := f.loadConfig()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", f.configPath)
		}
		return err
	}

	slog.Info("clearvox starting",
		"version", version,
		"config", f.configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	// ── Application ───────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	app.RegisterBuiltins(reg)

	application, err := app.New(cfg, reg, app.WithLevelVar(f.level))
	if err != nil {
		_ = otelShutdown(context.Background())
		return err
	}

	// ── Config hot-reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(f.configPath, func(_, next *config.Config, _ config.ConfigDiff) {
		application.ApplyConfig(next)
	}, config.WithInterval(reloadInterval))
	if err != nil {
		slog.Warn("config hot-reload disabled", "err", err)
	} else {
		application.AddCloser(func(context.Context) error {
			watcher.Stop()
			return nil
		})
	}
	application.AddCloser(otelShutdown)

	// ── Serve ─────────────────────────────────────────────────────────────────
	srv := server.New(application)
	slog.Info("server ready, press Ctrl+C to shut down")
	serveErr := srv.ListenAndServe(ctx)
	if serveErr != nil {
		slog.Error("server error", "err", serveErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		return errors.Join(serveErr, fmt.Errorf("shutdown: %w", err))
	}
	slog.Info("goodbye")
	return serveErr
}
