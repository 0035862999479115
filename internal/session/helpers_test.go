package session

import (
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/flowspeak/internal/observe"
)

// fakeTicker is a [Ticker] driven by hand through tick.
type fakeTicker struct {
	c chan time.Time

	mu      sync.Mutex
	periods []time.Duration
	stopped bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.c }

func (f *fakeTicker) Reset(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.periods = append(f.periods, d)
}

func (f *fakeTicker) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeTicker) Stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func (f *fakeTicker) Periods() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.periods...)
}

// tick delivers one tick and returns once the session goroutine took it.
func (f *fakeTicker) tick(t *testing.T) {
	t.Helper()
	select {
	case f.c <- time.Now():
	case <-time.After(2 * time.Second):
		t.Fatal("tick not consumed")
	}
}

// tickers records every fakeTicker a session creates.
type tickers struct {
	mu  sync.Mutex
	all []*fakeTicker
}

func (ts *tickers) factory(d time.Duration) Ticker {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ft := &fakeTicker{c: make(chan time.Time), periods: []time.Duration{d}}
	ts.all = append(ts.all, ft)
	return ft
}

func (ts *tickers) last(t *testing.T) *fakeTicker {
	t.Helper()
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.all) == 0 {
		t.Fatal("no ticker created")
	}
	return ts.all[len(ts.all)-1]
}

func (ts *tickers) count() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.all)
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func withClock(c *fakeClock) Option {
	return func(s *Session) { s.now = c.Now }
}

func newTestMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// newTestSession creates a session that is closed when the test ends.
func newTestSession(t *testing.T, text string, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithMetrics(newTestMetrics(t))}, opts...)
	s, err := New(text, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func mustNil(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
