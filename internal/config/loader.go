package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied by [ApplyDefaults].
const (
	DefaultListenAddr     = ":8080"
	DefaultPassageName    = "zoo"
	DefaultRateCPM        = 150
	DefaultRateStepCPM    = 25
	DefaultWindowWords    = 5
	DefaultMinAnchorLen   = 3
	DefaultPhoneticScore  = 0.85
	DefaultLookaheadWords = 8
	DefaultInterimDelay   = 50 * time.Millisecond
	DefaultLanguage       = "en"
	DefaultSampleRate     = 16000
	DefaultMaxWords       = 5

	minRateCPM = 50
	maxRateCPM = 500
)

// DefaultPassageText is the passage used when none is configured.
const DefaultPassageText = "It was a bright, sunny morning when Jack and his family decided to visit the zoo. " +
	"Jack had been looking forward to this day for weeks. He loved animals and was excited to see them up close. " +
	"His mom packed a picnic lunch, and they all got into the car to drive to the zoo. " +
	"When they arrived, Jack could see many people already walking around. " +
	"The zoo was full of families, children, and even some school groups. " +
	"The first stop was the lion exhibit. Jack could hear the lions roaring from a distance. " +
	"As they got closer, he saw the large, powerful animals resting in the shade. He was amazed at how big they were. " +
	"Next, they went to see the monkeys. The monkeys were jumping from tree to tree and making funny noises. " +
	"Jack laughed as he watched them swing around so easily. " +
	"His little sister, Emma, pointed at the baby monkey and said it was the cutest thing she had ever seen. " +
	"After the monkeys, Jack and his family walked to the elephant enclosure. " +
	"The elephants were eating leaves and using their trunks to grab food. " +
	"Jack was fascinated by how long their trunks were and how gently they ate. He thought the elephants looked very wise. " +
	"Later, they visited the penguin exhibit. The penguins were swimming in the water and waddling on the ground. " +
	"Jack liked how fast they could swim, and he watched them slide on their bellies with excitement. " +
	"At the end of the day, Jack and his family sat on a bench and ate their lunch. " +
	"They talked about their favorite animals. Jack couldn't wait to tell his friends about his visit to the zoo."

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"recognizer": {"deepgram", "whisper"},
	"stutter": {
		"http", "openai", "anthropic", "gemini", "ollama",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	},
}

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

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. An empty document yields the default config.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field of cfg with its default value.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if len(cfg.Reading.Passages) == 0 {
		cfg.Reading.Passages = []Passage{{Name: DefaultPassageName, Text: DefaultPassageText}}
	}
	if cfg.Reading.DefaultPassage == "" {
		cfg.Reading.DefaultPassage = cfg.Reading.Passages[0].Name
	}
	if cfg.Reading.RateCPM == 0 {
		cfg.Reading.RateCPM = DefaultRateCPM
	}
	if cfg.Reading.RateStepCPM == 0 {
		cfg.Reading.RateStepCPM = DefaultRateStepCPM
	}

	if cfg.Matcher.WindowWords == 0 {
		cfg.Matcher.WindowWords = DefaultWindowWords
	}
	if cfg.Matcher.MinAnchorLen == 0 {
		cfg.Matcher.MinAnchorLen = DefaultMinAnchorLen
	}
	if cfg.Matcher.Phonetic.Threshold == 0 {
		cfg.Matcher.Phonetic.Threshold = DefaultPhoneticScore
	}
	if cfg.Matcher.Phonetic.LookaheadWords == 0 {
		cfg.Matcher.Phonetic.LookaheadWords = DefaultLookaheadWords
	}

	if cfg.Debounce.InterimDelay == 0 {
		cfg.Debounce.InterimDelay = DefaultInterimDelay
	}

	if cfg.Recognizer.Language == "" {
		cfg.Recognizer.Language = DefaultLanguage
	}
	if cfg.Recognizer.SampleRate == 0 {
		cfg.Recognizer.SampleRate = DefaultSampleRate
	}

	if cfg.Stutter.MaxWords == 0 {
		cfg.Stutter.MaxWords = DefaultMaxWords
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Passages
	seen := make(map[string]int, len(cfg.Reading.Passages))
	for i, p := range cfg.Reading.Passages {
		prefix := fmt.Sprintf("reading.passages[%d]", i)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := seen[p.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of reading.passages[%d]", prefix, p.Name, prev))
			}
			seen[p.Name] = i
		}
		if strings.TrimSpace(p.Text) == "" {
			errs = append(errs, fmt.Errorf("%s.text must not be empty", prefix))
		}
	}
	if cfg.Reading.DefaultPassage != "" {
		if _, ok := cfg.Reading.Passage(cfg.Reading.DefaultPassage); !ok {
			errs = append(errs, fmt.Errorf("reading.default_passage %q does not name a configured passage", cfg.Reading.DefaultPassage))
		}
	}
	if r := cfg.Reading.RateCPM; r < minRateCPM || r > maxRateCPM {
		errs = append(errs, fmt.Errorf("reading.rate_cpm %d is out of range [%d, %d]", r, minRateCPM, maxRateCPM))
	}
	if cfg.Reading.RateStepCPM < 0 {
		errs = append(errs, fmt.Errorf("reading.rate_step_cpm %d must be positive", cfg.Reading.RateStepCPM))
	}

	// Matcher
	if cfg.Matcher.WindowWords < 0 {
		errs = append(errs, fmt.Errorf("matcher.window_words %d must be positive", cfg.Matcher.WindowWords))
	}
	if cfg.Matcher.MinAnchorLen < 0 {
		errs = append(errs, fmt.Errorf("matcher.min_anchor_len %d must be positive", cfg.Matcher.MinAnchorLen))
	}
	if th := cfg.Matcher.Phonetic.Threshold; th < 0 || th > 1 {
		errs = append(errs, fmt.Errorf("matcher.phonetic.threshold %.2f is out of range (0, 1]", th))
	}
	if cfg.Matcher.Phonetic.LookaheadWords < 0 {
		errs = append(errs, fmt.Errorf("matcher.phonetic.lookahead_words %d must be positive", cfg.Matcher.Phonetic.LookaheadWords))
	}

	if cfg.Debounce.InterimDelay < 0 {
		errs = append(errs, fmt.Errorf("debounce.interim_delay %s must be positive", cfg.Debounce.InterimDelay))
	}

	// Recognizer
	if name := cfg.Recognizer.Name; name != "" {
		validateProviderName("recognizer", name)
		switch {
		case name == "deepgram" && cfg.Recognizer.APIKey == "":
			errs = append(errs, errors.New("recognizer: deepgram requires api_key"))
		case name == "whisper" && cfg.Recognizer.BaseURL == "":
			errs = append(errs, errors.New("recognizer: whisper requires base_url"))
		}
		if cfg.Recognizer.Timeout < 0 {
			errs = append(errs, fmt.Errorf("recognizer.timeout %s must be positive", cfg.Recognizer.Timeout))
		}
	}
	if cfg.Recognizer.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("recognizer.sample_rate %d must be positive", cfg.Recognizer.SampleRate))
	}

	// Stutter suggestions
	if cfg.Stutter.Name != "" {
		errs = append(errs, validateStutterEntry("stutter", cfg.Stutter.ProviderEntry)...)
	}
	if fb := cfg.Stutter.Fallback; fb != nil {
		if cfg.Stutter.Name == "" {
			errs = append(errs, errors.New("stutter.fallback requires a primary stutter backend"))
		}
		if fb.Name == "" {
			errs = append(errs, errors.New("stutter.fallback.name is required"))
		} else {
			errs = append(errs, validateStutterEntry("stutter.fallback", *fb)...)
		}
	}
	if cfg.Stutter.MaxWords < 0 {
		errs = append(errs, fmt.Errorf("stutter.max_words %d must be positive", cfg.Stutter.MaxWords))
	}

	return errors.Join(errs...)
}

// validateStutterEntry checks the fields a suggestion backend needs.
func validateStutterEntry(prefix string, e ProviderEntry) []error {
	validateProviderName("stutter", e.Name)
	var errs []error
	switch e.Name {
	case "http":
		if e.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s: backend %q requires base_url", prefix, e.Name))
		}
	case "openai":
		if e.APIKey == "" {
			errs = append(errs, fmt.Errorf("%s: backend %q requires api_key", prefix, e.Name))
		}
	case "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile":
		if e.Model == "" {
			errs = append(errs, fmt.Errorf("%s: backend %q requires model", prefix, e.Name))
		}
	}
	if e.Timeout < 0 {
		errs = append(errs, fmt.Errorf("%s.timeout %s must be positive", prefix, e.Timeout))
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
