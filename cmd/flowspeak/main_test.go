package main

import (
	"errors"
	"log/slog"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/flowspeak/internal/config"
	"github.com/MrWong99/flowspeak/internal/observe"
	"github.com/MrWong99/flowspeak/internal/resilience"
	"github.com/MrWong99/flowspeak/pkg/provider/stt/deepgram"
	"github.com/MrWong99/flowspeak/pkg/provider/stt/whisper"
)

func loadConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestBuildProviders_None(t *testing.T) {
	t.Parallel()

	cfg := loadConfig(t, "")
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	ps, err := buildProviders(cfg, reg, testMetrics(t))
	if err != nil {
		t.Fatal(err)
	}
	if ps.Recognizer != nil || ps.Suggester != nil {
		t.Errorf("providers = %+v, want none", ps)
	}
}

func TestBuildProviders_All(t *testing.T) {
	t.Parallel()

	cfg := loadConfig(t, `
recognizer:
  name: deepgram
  api_key: dg-key
  model: nova-3
stutter:
  name: http
  base_url: http://localhost:5500/api/process-speech
  timeout: 2s
  fallback:
    name: openai
    api_key: sk-test
    options:
      max_retries: 1
`)
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	ps, err := buildProviders(cfg, reg, testMetrics(t))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ps.Recognizer.(*deepgram.Provider); !ok {
		t.Errorf("recognizer = %T, want *deepgram.Provider", ps.Recognizer)
	}
	group, ok := ps.Suggester.(*resilience.SuggesterFallback)
	if !ok {
		t.Fatalf("suggester = %T, want *resilience.SuggesterFallback", ps.Suggester)
	}
	status := group.Status()
	if len(status) != 2 || status[0].Name != "http" || status[1].Name != "openai" {
		t.Errorf("backends = %+v, want http then openai", status)
	}
}

func TestBuildProviders_MultiProviderFallback(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"anthropic", "gemini", "ollama"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cfg := loadConfig(t, `
stutter:
  name: http
  base_url: http://localhost:5500/api/process-speech
  fallback:
    name: `+name+`
    api_key: test-key
    model: test-model
`)
			reg := config.NewRegistry()
			registerBuiltinProviders(reg, cfg)

			ps, err := buildProviders(cfg, reg, testMetrics(t))
			if err != nil {
				t.Fatal(err)
			}
			group, ok := ps.Suggester.(*resilience.SuggesterFallback)
			if !ok {
				t.Fatalf("suggester = %T, want *resilience.SuggesterFallback", ps.Suggester)
			}
			status := group.Status()
			if len(status) != 2 || status[1].Name != name {
				t.Errorf("backends = %+v, want http then %s", status, name)
			}
		})
	}
}

func TestBuildProviders_Whisper(t *testing.T) {
	t.Parallel()

	cfg := loadConfig(t, `
recognizer:
  name: whisper
  base_url: http://localhost:8081
  timeout: 10s
  options:
    silence_ms: 400
    interim_ms: 800
`)
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	ps, err := buildProviders(cfg, reg, testMetrics(t))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ps.Recognizer.(*whisper.Provider); !ok {
		t.Errorf("recognizer = %T, want *whisper.Provider", ps.Recognizer)
	}
}

func TestBuildProviders_UnregisteredName(t *testing.T) {
	t.Parallel()

	cfg := loadConfig(t, `
stutter:
  name: carrier-pigeon
`)
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	_, err := buildProviders(cfg, reg, testMetrics(t))
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	for in, want := range map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	} {
		if got := slogLevel(in); got != want {
			t.Errorf("slogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestOptInt(t *testing.T) {
	t.Parallel()

	opts := map[string]any{"a": 3, "b": int64(4), "c": 5.0, "d": "6"}
	for key, want := range map[string]int{"a": 3, "b": 4, "c": 5} {
		if got, ok := optInt(opts, key); !ok || got != want {
			t.Errorf("optInt(%q) = %d, %v", key, got, ok)
		}
	}
	if _, ok := optInt(opts, "d"); ok {
		t.Error("optInt accepted a string")
	}
	if _, ok := optInt(nil, "a"); ok {
		t.Error("optInt on nil map reported ok")
	}
}
