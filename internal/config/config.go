// Package config provides the configuration schema, loader, hot-reload watcher
// and provider registry for the FlowSpeak reading server.
package config

import (
	"slices"
	"time"
)

// LogLevel controls log verbosity for the FlowSpeak server.
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

// Config is the root configuration structure for FlowSpeak.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Reading    ReadingConfig    `yaml:"reading"`
	Matcher    MatcherConfig    `yaml:"matcher"`
	Debounce   DebounceConfig   `yaml:"debounce"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Stutter    StutterConfig    `yaml:"stutter"`
}

// ServerConfig holds network and logging settings for the FlowSpeak server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ReadingConfig lists the passages a reader can choose from and the
// auto-highlight pacing.
type ReadingConfig struct {
	// DefaultPassage names the passage loaded into new sessions. Defaults to
	// the first passage.
	DefaultPassage string `yaml:"default_passage"`

	// Passages are the selectable reference texts. When empty, a built-in
	// passage named "zoo" is used.
	Passages []Passage `yaml:"passages"`

	// RateCPM is the initial auto-highlight rate in characters per minute,
	// within [50, 500]. Default: 150.
	RateCPM int `yaml:"rate_cpm"`

	// RateStepCPM is the increment used by the rate buttons. Default: 25.
	RateStepCPM int `yaml:"rate_step_cpm"`
}

// Passage is a named reference text.
type Passage struct {
	Name string `yaml:"name"`
	Text string `yaml:"text"`
}

// Passage returns the passage called name.
func (r *ReadingConfig) Passage(name string) (Passage, bool) {
	i := slices.IndexFunc(r.Passages, func(p Passage) bool { return p.Name == name })
	if i < 0 {
		return Passage{}, false
	}
	return r.Passages[i], true
}

// Names returns the passage names in configuration order.
func (r *ReadingConfig) Names() []string {
	names := make([]string, len(r.Passages))
	for i, p := range r.Passages {
		names[i] = p.Name
	}
	return names
}

// MatcherConfig tunes the forward matcher.
type MatcherConfig struct {
	// WindowWords is how many trailing spoken words are considered. Default: 5.
	WindowWords int `yaml:"window_words"`

	// MinAnchorLen is the shortest anchor word, in characters, that may move
	// the cursor. Default: 3.
	MinAnchorLen int `yaml:"min_anchor_len"`

	// Phonetic configures the sound-alike fallback for misrecognized words.
	Phonetic PhoneticConfig `yaml:"phonetic"`
}

// PhoneticConfig configures the phonetic fallback of the matcher.
type PhoneticConfig struct {
	// Enabled turns the fallback on. Default: false.
	Enabled bool `yaml:"enabled"`

	// Threshold is the minimum Jaro-Winkler similarity in (0, 1].
	// Default: 0.85.
	Threshold float64 `yaml:"threshold"`

	// LookaheadWords is how many passage words past the cursor are
	// considered. Default: 8.
	LookaheadWords int `yaml:"lookahead_words"`
}

// DebounceConfig controls how often interim fragments are matched.
type DebounceConfig struct {
	// InterimDelay is the quiet period before an interim fragment is
	// matched. Default: 50ms.
	InterimDelay time.Duration `yaml:"interim_delay"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "deepgram", "http").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint. For the "http"
	// stutter backend it is the full endpoint URL.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "nova-3", "gpt-4o-mini").
	Model string `yaml:"model"`

	// Timeout bounds a single request. Zero uses the provider default.
	Timeout time.Duration `yaml:"timeout"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// RecognizerConfig selects the server-side speech recognizer. An empty Name
// means clients run their own recognizer and push fragments.
type RecognizerConfig struct {
	ProviderEntry `yaml:",inline"`

	// Language is the BCP-47 recognition language. Default: "en".
	Language string `yaml:"language"`

	// SampleRate is the PCM rate sent to the recognizer in Hz. Default: 16000.
	SampleRate int `yaml:"sample_rate"`
}

// StutterConfig selects the next-word suggestion backend. An empty Name
// disables suggestions.
type StutterConfig struct {
	ProviderEntry `yaml:",inline"`

	// MaxWords caps the number of suggestions. Default: 5.
	MaxWords int `yaml:"max_words"`

	// Fallback is tried when the primary backend fails or its circuit is
	// open. May be nil.
	Fallback *ProviderEntry `yaml:"fallback"`
}
