// Command clearvox runs the clearvox speech enhancement engine.
//
// Usage:
//
//	clearvox [--config config.yaml] <command> [args]
//
// Commands:
//
//	serve    - stream enhancement server (websocket, health, metrics)
//	enhance  - enhance WAV files offline
//	info     - print engine and model information
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/clearvox/internal/config"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd(os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "clearvox:", err)
		os.Exit(1)
	}
}

// rootFlags holds the persistent flags shared by every subcommand.
type rootFlags struct {
	configPath string
	level      *slog.LevelVar
	logOut     io.Writer
}

func newRootCmd(logOut io.Writer) *cobra.Command {
	f := &rootFlags{level: new(slog.LevelVar), logOut: logOut}

	cmd := &cobra.Command{
		Use:           "clearvox",
		Short:         "Real-time speech enhancement engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRun: func(*cobra.Command, []string) {
			slog.SetDefault(newLogger(f.logOut, f.level))
		},
	}
	cmd.PersistentFlags().StringVar(&f.configPath, "config", "config.yaml", "path to the YAML configuration file")

	cmd.AddCommand(
		newServeCmd(f),
		newEnhanceCmd(f),
		newInfoCmd(f),
	)
	return cmd
}

// loadConfig reads the config file and applies its log level.
func (f *rootFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	f.level.Set(cfg.Server.LogLevel.Level())
	return cfg, nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
