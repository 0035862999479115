// Package app wires all FlowSpeak subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject test doubles through [Providers] and the functional
// options. When an option is not provided, New uses the global
// observability defaults.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/flowspeak/internal/config"
	"github.com/MrWong99/flowspeak/internal/health"
	"github.com/MrWong99/flowspeak/internal/observe"
	"github.com/MrWong99/flowspeak/internal/server"
	"github.com/MrWong99/flowspeak/internal/stutter"
	"github.com/MrWong99/flowspeak/pkg/provider/stt"
)

// readHeaderTimeout bounds how long a client may take to send request headers.
const readHeaderTimeout = 10 * time.Second

// Providers holds one interface value per collaborator slot. Nil means the
// collaborator is not configured. Populated by main.go via the config registry.
type Providers struct {
	// Recognizer transcribes audio streamed from the browser. When nil,
	// browsers run their own recognizer and send fragments.
	Recognizer stt.Provider

	// Suggester proposes next words after each final fragment. May be nil.
	Suggester stutter.Suggester
}

// App owns all subsystem lifetimes and serves the reading sessions.
type App struct {
	mu  sync.Mutex
	cfg *config.Config

	providers *Providers
	metrics   *observe.Metrics
	metricsH  http.Handler
	serverOps []server.Option

	manager *SessionManager
	health  *health.Handler
	handler http.Handler
	srv     *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler replaces the /metrics handler. Default: promhttp.Handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsH = h }
}

// WithServerOptions passes options to the websocket handler.
func WithServerOptions(opts ...server.Option) Option {
	return func(a *App) { a.serverOps = append(a.serverOps, opts...) }
}

// WithCloser registers fn to run during Shutdown, after all sessions closed.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsH == nil {
		a.metricsH = promhttp.Handler()
	}

	// ── 1. Sessions ──────────────────────────────────────────────────────
	a.manager = NewSessionManager(SessionManagerConfig{
		Config:    cfg,
		Providers: providers,
		Metrics:   a.metrics,
	})
	if _, err := a.manager.Passage(cfg.Reading.DefaultPassage); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	// ── 2. Health ────────────────────────────────────────────────────────
	a.health = health.New(a.checkers()...)

	// ── 3. HTTP routes ───────────────────────────────────────────────────
	mux := http.NewServeMux()
	a.health.Register(mux)
	server.New(a.manager, append([]server.Option{server.WithMetrics(a.metrics)}, a.serverOps...)...).Register(mux)
	mux.Handle("GET /metrics", a.metricsH)
	a.handler = observe.Middleware(a.metrics)(mux)

	a.srv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return a, nil
}

// checkers builds the readiness checks.
func (a *App) checkers() []health.Checker {
	checks := []health.Checker{{
		Name: "passages",
		Check: func(context.Context) error {
			_, def := a.manager.Passages()
			_, err := a.manager.Passage(def)
			return err
		},
	}}
	if av, ok := a.providers.Suggester.(health.Availability); ok {
		checks = append(checks, health.AvailabilityChecker("stutter", av))
	}
	return checks
}

// Handler returns the root HTTP handler with all routes and middleware.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.manager }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves HTTP until ctx is
// cancelled, then returns ctx.Err(). Call Shutdown afterwards to drain.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.srv.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.srv.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is like Run but accepts connections on ln.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.mu.Lock()
	tls := a.cfg.Server.TLS
	a.mu.Unlock()

	serveErr := make(chan error, 1)
	go func() {
		var err error
		if tls != nil {
			err = a.srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.srv.Serve(ln)
		}
		serveErr <- err
	}()

	slog.Info("http server listening", "addr", ln.Addr().String(), "tls", tls != nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfig makes cfg current and pushes its hot-reloadable changes to the
// live sessions. It returns what changed so the caller can handle the rest,
// such as the log level.
func (a *App) ApplyConfig(cfg *config.Config) config.ConfigDiff {
	a.mu.Lock()
	d := config.Diff(a.cfg, cfg)
	a.cfg = cfg
	a.mu.Unlock()

	if !d.Changed() {
		return d
	}
	a.manager.UpdateConfig(cfg, d)
	if d.PassagesChanged {
		names, def := a.manager.Passages()
		slog.Info("passages updated", "passages", names, "default", def)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart to take effect", "settings", d.RestartRequired)
	}
	return d
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown marks the server as draining, stops accepting requests, closes
// every live session and then runs the registered closers. It is safe to
// call more than once; later calls return nil.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		a.health.SetDraining(true)

		if err := a.srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := a.manager.CloseAll(); err != nil {
			errs = append(errs, err)
		}
		for _, c := range a.closers {
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("app: shutdown: %w", err)
	}
	return nil
}
