package app

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/flowspeak/internal/align"
	"github.com/MrWong99/flowspeak/internal/config"
	"github.com/MrWong99/flowspeak/internal/observe"
	"github.com/MrWong99/flowspeak/internal/session"
	"github.com/MrWong99/flowspeak/internal/transcript/phonetic"
	"github.com/MrWong99/flowspeak/pkg/provider/stt"
)

// ErrUnknownPassage is returned by [SessionManager.Passage] for a name that
// is not configured.
var ErrUnknownPassage = errors.New("app: unknown passage")

// SessionManager creates reading sessions from the current configuration and
// tracks them until they close. Many sessions may be live at once, one per
// connected reader. All exported methods are safe for concurrent use.
type SessionManager struct {
	mu        sync.Mutex
	cfg       *config.Config
	sessions  map[string]*session.Session
	providers *Providers
	metrics   *observe.Metrics
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Config    *config.Config
	Providers *Providers
	Metrics   *observe.Metrics
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	if cfg.Providers == nil {
		cfg.Providers = &Providers{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &SessionManager{
		cfg:       cfg.Config,
		sessions:  make(map[string]*session.Session),
		providers: cfg.Providers,
		metrics:   cfg.Metrics,
	}
}

// Open starts a session over the default passage. extra options are applied
// after the ones derived from the configuration, so callers can attach
// callbacks and a microphone. The session is forgotten once it closes.
func (sm *SessionManager) Open(extra ...session.Option) (*session.Session, error) {
	sm.mu.Lock()
	cfg := sm.cfg
	sm.mu.Unlock()

	p, ok := cfg.Reading.Passage(cfg.Reading.DefaultPassage)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPassage, cfg.Reading.DefaultPassage)
	}

	opts := append(sm.sessionOptions(cfg), extra...)
	s, err := session.New(p.Text, opts...)
	if err != nil {
		return nil, fmt.Errorf("app: open session: %w", err)
	}

	sm.mu.Lock()
	sm.sessions[s.ID()] = s
	sm.mu.Unlock()

	go func() {
		<-s.Done()
		sm.mu.Lock()
		delete(sm.sessions, s.ID())
		sm.mu.Unlock()
	}()

	slog.Info("session opened", "session_id", s.ID(), "passage", p.Name)
	return s, nil
}

// sessionOptions translates cfg into session options.
func (sm *SessionManager) sessionOptions(cfg *config.Config) []session.Option {
	matcherOpts := []align.Option{align.WithMinAnchorLen(cfg.Matcher.MinAnchorLen)}
	if ph := cfg.Matcher.Phonetic; ph.Enabled {
		scorer := phonetic.New(phonetic.WithPhoneticThreshold(ph.Threshold))
		matcherOpts = append(matcherOpts, align.WithPhoneticFallback(scorer, ph.LookaheadWords))
	}

	opts := []session.Option{
		session.WithMetrics(sm.metrics),
		session.WithRate(cfg.Reading.RateCPM),
		session.WithRateStep(cfg.Reading.RateStepCPM),
		session.WithWindow(cfg.Matcher.WindowWords),
		session.WithGateDelay(cfg.Debounce.InterimDelay),
		session.WithMatcherOptions(matcherOpts...),
	}
	if sm.providers.Recognizer != nil {
		opts = append(opts, session.WithRecognizer(sm.providers.Recognizer, stt.StreamConfig{
			SampleRate: cfg.Recognizer.SampleRate,
			Channels:   1,
			Language:   cfg.Recognizer.Language,
		}))
	}
	if sm.providers.Suggester != nil {
		opts = append(opts, session.WithSuggester(sm.providers.Suggester))
	}
	return opts
}

// Passage returns the text of the passage called name.
func (sm *SessionManager) Passage(name string) (string, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	p, ok := sm.cfg.Reading.Passage(name)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPassage, name)
	}
	return p.Text, nil
}

// Passages returns the configured passage names and the default one.
func (sm *SessionManager) Passages() (names []string, def string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.cfg.Reading.Names(), sm.cfg.Reading.DefaultPassage
}

// Get returns the live session with the given ID.
func (sm *SessionManager) Get(id string) (*session.Session, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s, ok := sm.sessions[id]
	return s, ok
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// UpdateConfig swaps in cfg for sessions opened from now on and applies the
// hot-reloadable parts of d to the live ones.
func (sm *SessionManager) UpdateConfig(cfg *config.Config, d config.ConfigDiff) {
	sm.mu.Lock()
	sm.cfg = cfg
	live := sm.live()
	sm.mu.Unlock()

	if !d.RateChanged {
		return
	}
	for _, s := range live {
		if _, err := s.SetRate(d.NewRate); err != nil && !errors.Is(err, session.ErrClosed) {
			slog.Warn("failed to apply rate", "session_id", s.ID(), "err", err)
		}
	}
	slog.Info("auto-highlight rate updated", "rate_cpm", d.NewRate, "sessions", len(live))
}

// CloseAll closes every live session.
func (sm *SessionManager) CloseAll() error {
	sm.mu.Lock()
	live := sm.live()
	sm.mu.Unlock()

	var errs []error
	for _, s := range live {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session %s: %w", s.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// live copies the session set. Callers hold sm.mu.
func (sm *SessionManager) live() []*session.Session {
	out := make([]*session.Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		out = append(out, s)
	}
	return out
}
