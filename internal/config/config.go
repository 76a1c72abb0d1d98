// Package config provides the configuration schema, loader, watcher and
// kernel registry for the clearvox enhancement server and CLI.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to its slog level. Unset or unknown levels map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	License   LicenseConfig   `yaml:"license"`
	Model     ModelConfig     `yaml:"model"`
	Processor ProcessorConfig `yaml:"processor"`

	// Parameters maps enhancement parameter names (bypass,
	// enhancement_level, voice_gain) to their initial values. Changes are
	// applied to live streams without restart.
	Parameters map[string]float32 `yaml:"parameters"`

	// VAD maps voice activity parameter names (speech_hold_duration,
	// sensitivity, minimum_speech_duration) to their initial values.
	// Changes are applied to live streams without restart.
	VAD map[string]float32 `yaml:"vad"`
}

// ServerConfig holds network and logging settings for the stream server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// MaxStreams caps concurrent streaming sessions. 0 means unlimited.
	MaxStreams int `yaml:"max_streams"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// LicenseConfig holds the license key and the gate's timing policy. Zero
// durations use the engine defaults.
type LicenseConfig struct {
	// Key is the license key in "<version>.<class>.<secret>" form.
	Key string `yaml:"key"`

	// AuthTimeout is how long processing continues without a successful
	// authorization. Default 10s.
	AuthTimeout time.Duration `yaml:"auth_timeout"`

	// TelemetryTimeout is how long processing continues without a successful
	// usage report. Default 5m.
	TelemetryTimeout time.Duration `yaml:"telemetry_timeout"`

	// ReportInterval is the usage reporting period. Default 1m.
	ReportInterval time.Duration `yaml:"report_interval"`

	// RetryInterval is the wait between failed license requests. Default 2s.
	RetryInterval time.Duration `yaml:"retry_interval"`

	// RequestTimeout bounds each license request. Default 5s.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Authorities lists license authorities in failover order. Online keys
	// need at least one.
	Authorities []AuthorityEntry `yaml:"authorities"`
}

// AuthorityEntry configures one license authority. The Type field is used
// to look up the constructor in the [Registry].
type AuthorityEntry struct {
	// Name labels the authority in logs and metrics.
	Name string `yaml:"name"`

	// Type selects the registered implementation (e.g., "http").
	Type string `yaml:"type"`

	// URL is the authority's base endpoint.
	URL string `yaml:"url"`

	// Token is sent as a Bearer token when set.
	Token string `yaml:"token"`
}

// ModelConfig describes the enhancement model to load.
type ModelConfig struct {
	// ID names the model.
	ID string `yaml:"id"`

	// Kernel selects the registered kernel implementation (e.g.,
	// "noisegate", "passthrough").
	Kernel string `yaml:"kernel"`

	// SampleRate is the model's native rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// Window is the native window duration (e.g., 10ms).
	Window time.Duration `yaml:"window"`

	// DelayWindows is the kernel's algorithmic delay in windows.
	DelayWindows int `yaml:"delay_windows"`

	// Version is the model format version. 0 means the engine's version.
	Version int `yaml:"version"`

	// Weights is the path of the weight blob. Empty means no weights.
	Weights string `yaml:"weights"`

	// FixedParameters pins enhancement parameters by name.
	FixedParameters map[string]float32 `yaml:"fixed_parameters"`
}

// ProcessorConfig is the default stream configuration. Streams may override
// channels, frames and variable mode per connection.
type ProcessorConfig struct {
	// SampleRate in Hz. 0 uses the model's rate.
	SampleRate int `yaml:"sample_rate"`

	// Channels per stream. Default 1.
	Channels int `yaml:"channels"`

	// Frames per call. 0 uses the model's native window.
	Frames int `yaml:"frames"`

	// VariableFrames accepts any call size up to Frames.
	VariableFrames bool `yaml:"variable_frames"`
}
