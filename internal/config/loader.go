package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/clearvox/pkg/enhance"
	"github.com/MrWong99/clearvox/pkg/license"
)

// ValidKernelNames lists the kernels shipped with clearvox.
// Used by [Validate] to warn about unrecognised kernel names.
var ValidKernelNames = []string{"noisegate", "passthrough"}

// ValidAuthorityTypes lists the license authority implementations shipped
// with clearvox.
var ValidAuthorityTypes = []string{"http"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxStreams < 0 {
		errs = append(errs, fmt.Errorf("server.max_streams %d must not be negative", cfg.Server.MaxStreams))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// License
	errs = append(errs, validateLicense(&cfg.License)...)

	// Model
	m := cfg.Model
	if m.ID == "" {
		errs = append(errs, errors.New("model.id is required"))
	}
	if m.Kernel == "" {
		errs = append(errs, errors.New("model.kernel is required"))
	} else if !slices.Contains(ValidKernelNames, m.Kernel) {
		slog.Warn("unknown kernel name, may be a typo or third-party kernel",
			"name", m.Kernel,
			"known", ValidKernelNames,
		)
	}
	if m.SampleRate < enhance.MinSampleRate || m.SampleRate > enhance.MaxSampleRate {
		errs = append(errs, fmt.Errorf("model.sample_rate %d is out of range [%d, %d]", m.SampleRate, enhance.MinSampleRate, enhance.MaxSampleRate))
	}
	if m.Window <= 0 {
		errs = append(errs, fmt.Errorf("model.window %v must be positive", m.Window))
	}
	if m.DelayWindows < 0 {
		errs = append(errs, fmt.Errorf("model.delay_windows %d must not be negative", m.DelayWindows))
	}
	for name, v := range m.FixedParameters {
		errs = append(errs, validateParameter("model.fixed_parameters", name, v))
	}

	// Processor
	p := cfg.Processor
	if p.SampleRate != 0 && (p.SampleRate < enhance.MinSampleRate || p.SampleRate > enhance.MaxSampleRate) {
		errs = append(errs, fmt.Errorf("processor.sample_rate %d is out of range [%d, %d]", p.SampleRate, enhance.MinSampleRate, enhance.MaxSampleRate))
	}
	if p.Channels < 0 || p.Channels > enhance.MaxChannels {
		errs = append(errs, fmt.Errorf("processor.channels %d is out of range [1, %d]", p.Channels, enhance.MaxChannels))
	}
	if p.Frames < 0 {
		errs = append(errs, fmt.Errorf("processor.frames %d must not be negative", p.Frames))
	}

	// Tuning
	for name, v := range cfg.Parameters {
		errs = append(errs, validateParameter("parameters", name, v))
	}
	for name, v := range cfg.VAD {
		if _, err := enhance.ParseVadParameter(name); err != nil {
			errs = append(errs, fmt.Errorf("vad.%s is not a known parameter", name))
			continue
		}
		if v < 0 {
			errs = append(errs, fmt.Errorf("vad.%s %v must not be negative", name, v))
		}
	}

	return errors.Join(errs...)
}

func validateLicense(l *LicenseConfig) []error {
	var errs []error
	key, err := license.ParseKey(l.Key)
	if err != nil {
		return append(errs, fmt.Errorf("license.key: %w", err))
	}
	for name, d := range map[string]int64{
		"auth_timeout":      int64(l.AuthTimeout),
		"telemetry_timeout": int64(l.TelemetryTimeout),
		"report_interval":   int64(l.ReportInterval),
		"retry_interval":    int64(l.RetryInterval),
		"request_timeout":   int64(l.RequestTimeout),
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("license.%s must not be negative", name))
		}
	}
	if key.Online() && len(l.Authorities) == 0 {
		slog.Warn("online license key without authorities; processing will bypass after the authorization timeout")
	}
	for i, a := range l.Authorities {
		prefix := fmt.Sprintf("license.authorities[%d]", i)
		if a.Type == "" {
			errs = append(errs, fmt.Errorf("%s.type is required", prefix))
		} else if !slices.Contains(ValidAuthorityTypes, a.Type) {
			slog.Warn("unknown authority type, may be a typo or third-party authority",
				"type", a.Type,
				"known", ValidAuthorityTypes,
			)
		}
		if a.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required", prefix))
		}
	}
	return errs
}

func validateParameter(section, name string, v float32) error {
	p, err := enhance.ParseParameter(name)
	if err != nil {
		return fmt.Errorf("%s.%s is not a known parameter", section, name)
	}
	lo, hi := p.Range()
	if !(v >= lo && v <= hi) {
		return fmt.Errorf("%s.%s %v is out of range [%v, %v]", section, name, v, lo, hi)
	}
	return nil
}
