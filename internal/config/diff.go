package config

import "maps"

// ConfigDiff describes what changed between two configs.
// Parameters, VAD and log level can be applied to a running server; every
// other change needs a restart.
type ConfigDiff struct {
	ParametersChanged bool
	VADChanged        bool
	LogLevelChanged   bool
	NewLogLevel       LogLevel

	// RestartRequired lists the sections that changed but cannot be
	// hot-reloaded (e.g. "model", "license").
	RestartRequired []string
}

// Changed reports whether d holds any change.
func (d ConfigDiff) Changed() bool {
	return d.ParametersChanged || d.VADChanged || d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.ParametersChanged = !maps.Equal(old.Parameters, new.Parameters)
	d.VADChanged = !maps.Equal(old.VAD, new.VAD)

	if !sameServer(old.Server, new.Server) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !sameLicense(old.License, new.License) {
		d.RestartRequired = append(d.RestartRequired, "license")
	}
	if !sameModel(old.Model, new.Model) {
		d.RestartRequired = append(d.RestartRequired, "model")
	}
	if old.Processor != new.Processor {
		d.RestartRequired = append(d.RestartRequired, "processor")
	}
	return d
}

func sameServer(a, b ServerConfig) bool {
	if a.ListenAddr != b.ListenAddr || a.MaxStreams != b.MaxStreams {
		return false
	}
	if (a.TLS == nil) != (b.TLS == nil) {
		return false
	}
	return a.TLS == nil || *a.TLS == *b.TLS
}

func sameLicense(a, b LicenseConfig) bool {
	if len(a.Authorities) != len(b.Authorities) {
		return false
	}
	for i := range a.Authorities {
		if a.Authorities[i] != b.Authorities[i] {
			return false
		}
	}
	return a.Key == b.Key &&
		a.AuthTimeout == b.AuthTimeout &&
		a.TelemetryTimeout == b.TelemetryTimeout &&
		a.ReportInterval == b.ReportInterval &&
		a.RetryInterval == b.RetryInterval &&
		a.RequestTimeout == b.RequestTimeout
}

func sameModel(a, b ModelConfig) bool {
	if !maps.Equal(a.FixedParameters, b.FixedParameters) {
		return false
	}
	return a.ID == b.ID &&
		a.Kernel == b.Kernel &&
		a.SampleRate == b.SampleRate &&
		a.Window == b.Window &&
		a.DelayWindows == b.DelayWindows &&
		a.Version == b.Version &&
		a.Weights == b.Weights
}
