// Package session implements the alignment session: the state machine that
// owns the read cursor of one reader working through one passage.
//
// A [Session] has exactly one driver at a time. In [SpeechDriven] mode,
// recognized speech fragments are matched against the passage and move the
// cursor forward. In [TimerDriven] mode (auto-highlight) a ticker advances
// the cursor one character per period. In [Idle] mode nothing moves it.
//
// Every state change runs on a single goroutine owned by the session.
// Commands, recognizer fragments, debounced interim matches and ticks are all
// delivered to that goroutine, so the cursor never needs a lock. Each driver
// start and stop bumps an epoch; asynchronous events produced under an older
// epoch are discarded, which guarantees that nothing moves the cursor after a
// stop command has returned.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/MrWong99/flowspeak/internal/align"
	"github.com/MrWong99/flowspeak/internal/gate"
	"github.com/MrWong99/flowspeak/internal/highlight"
	"github.com/MrWong99/flowspeak/internal/observe"
	"github.com/MrWong99/flowspeak/internal/stutter"
	"github.com/MrWong99/flowspeak/internal/textindex"
	"github.com/MrWong99/flowspeak/internal/transcript"
	"github.com/MrWong99/flowspeak/pkg/audio"
	"github.com/MrWong99/flowspeak/pkg/provider/stt"
)

// DefaultWindow is the number of trailing spoken words handed to the matcher.
const DefaultWindow = 5

// Sentinel errors returned by session commands.
var (
	// ErrClosed is returned by commands issued after [Session.Close].
	ErrClosed = errors.New("session: closed")

	// ErrRecognizerUnavailable is wrapped by StartRecording when the speech
	// recognizer cannot be started.
	ErrRecognizerUnavailable = errors.New("session: recognizer unavailable")

	// ErrMicrophoneUnavailable is wrapped by StartRecording when no audio
	// stream can be acquired for the recognizer.
	ErrMicrophoneUnavailable = errors.New("session: microphone unavailable")

	// ErrRecognizerEnded is reported through the error callback when the
	// recognizer stream closes while recording.
	ErrRecognizerEnded = errors.New("session: recognizer stream ended")

	// ErrMicrophoneEnded is reported through the error callback when the
	// microphone stream closes while recording.
	ErrMicrophoneEnded = errors.New("session: microphone stream ended")
)

// Snapshot is a point-in-time copy of a session's observable state.
type Snapshot struct {
	ID         string         `json:"id"`
	Mode       string         `json:"mode"`
	Cursor     int            `json:"cursor"`
	Origin     int            `json:"origin"`
	Rate       int            `json:"rate_cpm"`
	Transcript string         `json:"transcript"`
	Elapsed    time.Duration  `json:"elapsed"`
	View       highlight.View `json:"view"`
}

// Option is a functional option for [New].
type Option func(*Session)

// WithID sets the session ID. Default: a fresh xid.
func WithID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// WithLogger sets the logger. Default: slog.Default tagged with the session ID.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithRecognizer makes StartRecording stream microphone audio to p. A nil
// cfg.Keywords is filled with vocabulary hints from the passage.
func WithRecognizer(p stt.Provider, cfg stt.StreamConfig) Option {
	return func(s *Session) {
		s.recognizer = p
		s.streamCfg = cfg
	}
}

// WithMicrophone sets the audio source feeding the recognizer.
func WithMicrophone(src audio.Source) Option {
	return func(s *Session) { s.mic = src }
}

// WithSuggester enables next-word suggestions after every final fragment.
func WithSuggester(sg stutter.Suggester) Option {
	return func(s *Session) { s.suggester = sg }
}

// WithOnUpdate registers a callback invoked after every state change. It runs
// on the session goroutine and must not block or call Session methods.
func WithOnUpdate(fn func(Snapshot)) Option {
	return func(s *Session) { s.onUpdate = fn }
}

// WithOnSuggestions registers a callback for suggestion results. Same rules
// as [WithOnUpdate].
func WithOnSuggestions(fn func(*stutter.Suggestions)) Option {
	return func(s *Session) { s.onSuggestions = fn }
}

// WithOnError registers a callback for driver failures that happen outside a
// command, such as the recognizer disconnecting. Same rules as
// [WithOnUpdate].
func WithOnError(fn func(error)) Option {
	return func(s *Session) { s.onError = fn }
}

// WithTicker replaces the auto-highlight ticker factory.
func WithTicker(fn TickerFunc) Option {
	return func(s *Session) {
		if fn != nil {
			s.newTicker = fn
		}
	}
}

// WithGateDelay sets the interim debounce delay. Default: [gate.DefaultDelay].
func WithGateDelay(d time.Duration) Option {
	return func(s *Session) { s.gateDelay = d }
}

// WithWindow sets how many trailing words are passed to the matcher.
func WithWindow(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.window = n
		}
	}
}

// WithRate sets the initial auto-highlight rate in characters per minute.
func WithRate(cpm int) Option {
	return func(s *Session) { s.rate = ClampRate(cpm) }
}

// WithRateStep sets the default step used by the server for rate buttons.
func WithRateStep(cpm int) Option {
	return func(s *Session) {
		if cpm > 0 {
			s.rateStep = cpm
		}
	}
}

// WithMatcherOptions passes options to every matcher the session builds.
func WithMatcherOptions(opts ...align.Option) Option {
	return func(s *Session) { s.matcherOpts = append(s.matcherOpts, opts...) }
}

// Session is a live alignment session. Create one with [New] and release it
// with [Session.Close]. All exported methods are safe for concurrent use.
type Session struct {
	id        string
	log       *slog.Logger
	metrics   *observe.Metrics
	now       func() time.Time
	newTicker TickerFunc
	gateDelay time.Duration
	window    int
	rateStep  int

	matcherOpts []align.Option
	recognizer  stt.Provider
	streamCfg   stt.StreamConfig
	mic         audio.Source
	suggester   stutter.Suggester

	onUpdate      func(Snapshot)
	onSuggestions func(*stutter.Suggestions)
	onError       func(error)

	requests  chan request
	events    chan event
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	async     sync.WaitGroup

	// Loop-owned state. Only touched from the session goroutine.
	index   *textindex.Index
	matcher *align.Matcher
	mode    Mode
	cursor  int
	origin  int
	rate    int
	buf     transcript.Buffer
	gate    *gate.Gate
	epoch   uint64

	ticker Ticker
	tickC  <-chan time.Time

	speech *speechDriver

	startedAt time.Time
	elapsed   time.Duration

	baseCtx       context.Context
	cancelBase    context.CancelFunc
	cancelSuggest context.CancelFunc

	// last is written by the loop before done is closed.
	last Snapshot
}

// New creates a session over text and starts its goroutine. The session
// starts Idle with the cursor at 0.
func New(text string, opts ...Option) (*Session, error) {
	idx, err := textindex.Build(text)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	s := &Session{
		id:        xid.New().String(),
		now:       time.Now,
		newTicker: NewTimeTicker,
		window:    DefaultWindow,
		rate:      DefaultRate,
		rateStep:  DefaultRateStep,
		requests:  make(chan request),
		events:    make(chan event, 32),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = observe.SessionLogger(context.Background(), s.id)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.gate = gate.New(s.gateDelay)
	s.setIndex(idx)
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	s.metrics.ActiveSessions.Add(context.Background(), 1)
	go s.run()
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// RateStep returns the configured rate adjustment step.
func (s *Session) RateStep() int { return s.rateStep }

// StartRecording switches to speech-driven mode, resetting the cursor, the
// search origin and the transcript. An active auto-highlight is stopped
// first. When a recognizer is configured, the microphone stream and the
// recognizer stream are opened here; ctx bounds their setup. On failure the
// session is left Idle and every acquired resource is released.
func (s *Session) StartRecording(ctx context.Context) error {
	return s.exec(func() error { return s.startRecording(ctx) })
}

// StopRecording stops the speech driver and returns to Idle. It is a no-op
// unless the session is recording.
func (s *Session) StopRecording() error {
	return s.exec(func() error {
		if s.mode != SpeechDriven {
			return nil
		}
		s.stopSpeech()
		s.setMode(Idle)
		s.notify()
		return nil
	})
}

// StartAutoHighlight switches to timer-driven mode. A running recording is
// stopped first and the cursor is kept; from Idle the cursor restarts at 0.
func (s *Session) StartAutoHighlight() error {
	return s.exec(s.startAutoHighlight)
}

// StopAutoHighlight stops the timer and returns to Idle. It is a no-op unless
// auto-highlight is running.
func (s *Session) StopAutoHighlight() error {
	return s.exec(func() error {
		if s.mode != TimerDriven {
			return nil
		}
		s.stopTimer()
		s.setMode(Idle)
		s.notify()
		return nil
	})
}

// AdjustRate changes the auto-highlight rate by delta characters per minute,
// clamped to [MinRate, MaxRate], and returns the new rate. A running timer
// picks up the new period from its next tick without losing progress.
func (s *Session) AdjustRate(delta int) (int, error) {
	var rate int
	err := s.exec(func() error {
		rate = s.setRate(s.rate + delta)
		return nil
	})
	return rate, err
}

// SetRate sets the auto-highlight rate, clamped to [MinRate, MaxRate], and
// returns the applied rate.
func (s *Session) SetRate(cpm int) (int, error) {
	var rate int
	err := s.exec(func() error {
		rate = s.setRate(cpm)
		return nil
	})
	return rate, err
}

// SelectText replaces the passage. Any running driver is stopped and the
// session returns to Idle with the cursor at 0. An empty text is rejected and
// the current passage is kept.
func (s *Session) SelectText(text string) error {
	idx, err := textindex.Build(text)
	if err != nil {
		return fmt.Errorf("session: select text: %w", err)
	}
	return s.exec(func() error {
		s.stopDrivers()
		s.setIndex(idx)
		s.reset()
		s.setMode(Idle)
		s.notify()
		return nil
	})
}

// Fragment feeds one recognized fragment, for clients that run their own
// recognizer. Fragments are ignored unless the session is recording.
func (s *Session) Fragment(text string, isFinal bool) error {
	return s.exec(func() error {
		s.handleFragment(text, isFinal, false)
		return nil
	})
}

// Snapshot returns the current state. After Close it returns the final state.
func (s *Session) Snapshot() Snapshot {
	var snap Snapshot
	if err := s.exec(func() error {
		snap = s.snapshot()
		return nil
	}); err != nil {
		<-s.done
		return s.last
	}
	return snap
}

// Close stops every driver, releases the recognizer and microphone and ends
// the session goroutine. Close is idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)
	})
	<-s.done
	s.async.Wait()
	return nil
}

// Done returns a channel closed once the session has shut down.
func (s *Session) Done() <-chan struct{} { return s.done }

// exec runs fn on the session goroutine and returns its error.
func (s *Session) exec(fn func() error) error {
	req := request{fn: fn, result: make(chan error, 1)}
	select {
	case s.requests <- req:
	case <-s.done:
		return ErrClosed
	}
	return <-req.result
}

// setIndex installs a new passage index and matcher.
func (s *Session) setIndex(idx *textindex.Index) {
	s.index = idx
	s.matcher = align.New(idx, s.matcherOpts...)
}

// reset clears cursor, origin, transcript and the elapsed counter.
func (s *Session) reset() {
	s.cursor = 0
	s.origin = 0
	s.buf.Reset()
	s.elapsed = 0
	s.startedAt = time.Time{}
}

// setMode records a mode change.
func (s *Session) setMode(m Mode) {
	if m == s.mode {
		return
	}
	s.log.Debug("session: mode change", "from", s.mode, "to", m, "cursor", s.cursor)
	s.metrics.RecordModeTransition(context.Background(), s.mode.String(), m.String())
	s.mode = m
}

// snapshot builds a [Snapshot] of the loop state.
func (s *Session) snapshot() Snapshot {
	elapsed := s.elapsed
	if s.mode == SpeechDriven && !s.startedAt.IsZero() {
		elapsed = s.now().Sub(s.startedAt)
	}
	return Snapshot{
		ID:         s.id,
		Mode:       s.mode.String(),
		Cursor:     s.cursor,
		Origin:     s.origin,
		Rate:       s.rate,
		Transcript: s.buf.Text(),
		Elapsed:    elapsed,
		View:       highlight.Project(s.index.Text(), s.cursor),
	}
}

// notify invokes the update callback with the current state.
func (s *Session) notify() {
	if s.onUpdate != nil {
		s.onUpdate(s.snapshot())
	}
}

// fail reports an asynchronous driver failure.
func (s *Session) fail(err error) {
	s.log.Warn("session: driver failed", "err", err, "cursor", s.cursor)
	if s.onError != nil {
		s.onError(err)
	}
}
