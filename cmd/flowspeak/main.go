// Command flowspeak is the main entry point for the FlowSpeak reading server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/flowspeak/internal/app"
	"github.com/MrWong99/flowspeak/internal/config"
	"github.com/MrWong99/flowspeak/internal/observe"
	"github.com/MrWong99/flowspeak/internal/resilience"
	"github.com/MrWong99/flowspeak/internal/stutter"
	"github.com/MrWong99/flowspeak/internal/stutter/llmsuggest"
	"github.com/MrWong99/flowspeak/pkg/provider/stt"
	"github.com/MrWong99/flowspeak/pkg/provider/stt/deepgram"
	"github.com/MrWong99/flowspeak/pkg/provider/stt/whisper"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "flowspeak: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "flowspeak: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("flowspeak starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	providers, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(cfg, providers,
		app.WithMetrics(metrics),
		app.WithCloser(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return shutdownTelemetry(ctx)
		}),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(_, newCfg *config.Config) {
		d := application.ApplyConfig(newCfg)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "log_level", d.NewLogLevel)
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		_ = application.Shutdown(context.Background())
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…", "sessions", application.Sessions().Count())

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Suggestion backends read their word limit from cfg.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	// ── Recognizer ────────────────────────────────────────────────────────────

	reg.RegisterRecognizer("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []deepgram.Option{
			deepgram.WithModel(entry.Model),
			deepgram.WithEndpoint(entry.BaseURL),
			deepgram.WithLanguage(cfg.Recognizer.Language),
			deepgram.WithSampleRate(cfg.Recognizer.SampleRate),
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterRecognizer("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []whisper.Option{
			whisper.WithModel(entry.Model),
			whisper.WithLanguage(cfg.Recognizer.Language),
			whisper.WithSampleRate(cfg.Recognizer.SampleRate),
			whisper.WithTimeout(entry.Timeout),
		}
		if ms, ok := optInt(entry.Options, "silence_ms"); ok {
			opts = append(opts, whisper.WithSilence(time.Duration(ms)*time.Millisecond))
		}
		if ms, ok := optInt(entry.Options, "interim_ms"); ok {
			opts = append(opts, whisper.WithInterimInterval(time.Duration(ms)*time.Millisecond))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	// ── Stutter suggestions ───────────────────────────────────────────────────

	reg.RegisterSuggester("http", func(entry config.ProviderEntry) (stutter.Suggester, error) {
		return stutter.NewClient(entry.BaseURL,
			stutter.WithTimeout(entry.Timeout),
			stutter.WithMaxWords(cfg.Stutter.MaxWords),
		)
	})

	reg.RegisterSuggester("openai", func(entry config.ProviderEntry) (stutter.Suggester, error) {
		opts := []llmsuggest.Option{
			llmsuggest.WithBaseURL(entry.BaseURL),
			llmsuggest.WithTimeout(entry.Timeout),
			llmsuggest.WithMaxWords(cfg.Stutter.MaxWords),
		}
		if n, ok := optInt(entry.Options, "max_retries"); ok {
			opts = append(opts, llmsuggest.WithMaxRetries(n))
		}
		return llmsuggest.New(entry.APIKey, entry.Model, opts...)
	})

	// Every other chat provider goes through any-llm-go. The "openai" name
	// stays with the native client above.
	for _, providerName := range llmsuggest.MultiProviderNames {
		if providerName == "openai" {
			continue
		}
		reg.RegisterSuggester(providerName, func(entry config.ProviderEntry) (stutter.Suggester, error) {
			return llmsuggest.NewMultiProvider(providerName, entry.APIKey, entry.Model,
				llmsuggest.WithBaseURL(entry.BaseURL),
				llmsuggest.WithTimeout(entry.Timeout),
				llmsuggest.WithMaxWords(cfg.Stutter.MaxWords),
			)
		})
	}

	for _, kind := range []string{"recognizer", "suggester"} {
		for _, name := range reg.Names(kind) {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates the collaborators named in cfg using the
// registry. Suggestion backends are wrapped in a circuit-breaking fallback
// group so a failing backend is skipped.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Recognizer.Name; name != "" {
		p, err := reg.CreateRecognizer(cfg.Recognizer.ProviderEntry)
		if err != nil {
			return nil, fmt.Errorf("create recognizer %q: %w", name, err)
		}
		ps.Recognizer = p
		slog.Info("provider created", "kind", "recognizer", "name", name)
	} else {
		slog.Info("no recognizer configured, browsers send their own fragments")
	}

	if name := cfg.Stutter.Name; name != "" {
		primary, err := reg.CreateSuggester(cfg.Stutter.ProviderEntry)
		if err != nil {
			return nil, fmt.Errorf("create stutter backend %q: %w", name, err)
		}
		group := resilience.NewSuggesterFallback(primary, name, resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{Name: "stutter"},
		}, metrics)
		slog.Info("provider created", "kind", "stutter", "name", name)

		if fb := cfg.Stutter.Fallback; fb != nil {
			s, err := reg.CreateSuggester(*fb)
			if err != nil {
				return nil, fmt.Errorf("create stutter fallback %q: %w", fb.Name, err)
			}
			group.AddFallback(fb.Name, s)
			slog.Info("provider created", "kind", "stutter-fallback", "name", fb.Name)
		}
		ps.Suggester = group
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       FlowSpeak startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Recognizer", cfg.Recognizer.Name, cfg.Recognizer.Model)
	printProvider("Stutter", cfg.Stutter.Name, cfg.Stutter.Model)
	if fb := cfg.Stutter.Fallback; fb != nil {
		printProvider("Fallback", fb.Name, fb.Model)
	}
	fmt.Printf("║  Passages        : %-19d ║\n", len(cfg.Reading.Passages))
	fmt.Printf("║  Default passage : %-19s ║\n", truncate(cfg.Reading.DefaultPassage))
	fmt.Printf("║  Rate (cpm)      : %-19d ║\n", cfg.Reading.RateCPM)
	fmt.Printf("║  Listen addr     : %-19s ║\n", truncate(cfg.Server.ListenAddr))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, truncate(value))
}

func truncate(s string) string {
	if len(s) > 19 {
		return s[:16] + "…"
	}
	return s
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optInt extracts an integer value from a provider Options map[string]any.
func optInt(opts map[string]any, key string) (int, bool) {
	v, ok := opts[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
