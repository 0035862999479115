package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Hot-reloadable changes are reported field by field; everything else is
// listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	RateChanged bool
	NewRate     int

	// PassagesChanged is true if a passage was added, removed or edited, or
	// the default passage changed. Affects sessions created afterwards.
	PassagesChanged bool

	// RestartRequired names the changed settings that only take effect after
	// a restart.
	RestartRequired []string
}

// Changed reports whether d holds any change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.RateChanged || d.PassagesChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Reading.RateCPM != new.Reading.RateCPM {
		d.RateChanged = true
		d.NewRate = new.Reading.RateCPM
	}

	if old.Reading.DefaultPassage != new.Reading.DefaultPassage ||
		!slices.Equal(old.Reading.Passages, new.Reading.Passages) {
		d.PassagesChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server.tls")
	}
	if old.Reading.RateStepCPM != new.Reading.RateStepCPM {
		d.RestartRequired = append(d.RestartRequired, "reading.rate_step_cpm")
	}
	if old.Matcher != new.Matcher {
		d.RestartRequired = append(d.RestartRequired, "matcher")
	}
	if old.Debounce != new.Debounce {
		d.RestartRequired = append(d.RestartRequired, "debounce")
	}
	if !entryEqual(old.Recognizer.ProviderEntry, new.Recognizer.ProviderEntry) ||
		old.Recognizer.Language != new.Recognizer.Language ||
		old.Recognizer.SampleRate != new.Recognizer.SampleRate {
		d.RestartRequired = append(d.RestartRequired, "recognizer")
	}
	if !stutterEqual(old.Stutter, new.Stutter) {
		d.RestartRequired = append(d.RestartRequired, "stutter")
	}

	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// entryEqual compares provider entries, ignoring Options.
func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL &&
		a.Model == b.Model && a.Timeout == b.Timeout
}

func stutterEqual(a, b StutterConfig) bool {
	if !entryEqual(a.ProviderEntry, b.ProviderEntry) || a.MaxWords != b.MaxWords {
		return false
	}
	if a.Fallback == nil || b.Fallback == nil {
		return a.Fallback == nil && b.Fallback == nil
	}
	return entryEqual(*a.Fallback, *b.Fallback)
}
