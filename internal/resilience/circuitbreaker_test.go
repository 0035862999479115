package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newBreaker(clock *fakeClock, log *changeLog, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.Name == "" {
		cfg.Name = "http"
	}
	cfg.Now = clock.Now
	cfg.OnStateChange = log.record
	return NewCircuitBreaker(cfg)
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "http"})
	if cb.maxFailures != 5 || cb.resetTimeout != 30*time.Second || cb.halfOpenMax != 3 {
		t.Errorf("defaults = %d/%v/%d, want 5/30s/3", cb.maxFailures, cb.resetTimeout, cb.halfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
	if cb.Name() != "http" {
		t.Errorf("Name() = %q", cb.Name())
	}
}

func TestCircuitBreaker_Trips(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		calls []func() error
		want  State
	}{
		{"below limit", []func() error{fail, fail}, StateClosed},
		{"at limit", []func() error{fail, fail, fail}, StateOpen},
		{"success resets count", []func() error{fail, fail, succeed, fail, fail}, StateClosed},
		{"cancellation ignored", []func() error{
			func() error { return context.Canceled }, fail, fail,
			func() error { return context.Canceled },
		}, StateClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cb := newBreaker(newFakeClock(), &changeLog{}, CircuitBreakerConfig{MaxFailures: 3})
			for _, fn := range tt.calls {
				_ = cb.Execute(fn)
			}
			if got := cb.State(); got != tt.want {
				t.Errorf("state = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCircuitBreaker_OpenRejects(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cb := newBreaker(clock, &changeLog{}, CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Minute})
	_ = cb.Execute(fail)

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("Execute on open breaker = %v (called %v), want ErrCircuitOpen", err, called)
	}

	clock.Advance(59 * time.Second)
	if cb.State() != StateOpen {
		t.Errorf("state before timeout = %v, want open", cb.State())
	}
	clock.Advance(time.Second)
	if cb.State() != StateHalfOpen {
		t.Errorf("state after timeout = %v, want half-open", cb.State())
	}
}

func TestCircuitBreaker_Recovery(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	log := &changeLog{}
	cb := newBreaker(clock, log, CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Minute, HalfOpenMax: 2})

	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	clock.Advance(time.Minute)

	// A failed probe re-opens for another full timeout.
	if err := cb.Execute(fail); !errors.Is(err, errTest) {
		t.Fatalf("probe err = %v", err)
	}
	if err := cb.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("after failed probe err = %v, want ErrCircuitOpen", err)
	}

	clock.Advance(time.Minute)
	for i := range 2 {
		if err := cb.Execute(succeed); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after successful probes", cb.State())
	}

	want := []string{
		"http:closed->open",
		"http:open->half-open",
		"http:half-open->open",
		"http:open->half-open",
		"http:half-open->closed",
	}
	if diff := cmp.Diff(want, log.get()); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
}

func TestCircuitBreaker_HalfOpenProbeBudget(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cb := newBreaker(clock, &changeLog{}, CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Second, HalfOpenMax: 1})
	_ = cb.Execute(fail)
	clock.Advance(time.Second)

	inFlight := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = cb.Execute(func() error {
			close(inFlight)
			<-release
			return nil
		})
	}()
	<-inFlight

	if err := cb.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	wg.Wait()

	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_UnclassifiedProbeReturnsSlot(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cb := newBreaker(clock, &changeLog{}, CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Second, HalfOpenMax: 1})
	_ = cb.Execute(fail)
	clock.Advance(time.Second)

	if err := cb.Execute(func() error { return context.Canceled }); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if err := cb.Execute(succeed); err != nil {
		t.Fatalf("probe after cancelled probe: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_CustomIsFailure(t *testing.T) {
	t.Parallel()

	cb := newBreaker(newFakeClock(), &changeLog{}, CircuitBreakerConfig{
		MaxFailures: 1,
		IsFailure:   func(err error) bool { return !errors.Is(err, errTest) },
	})

	_ = cb.Execute(fail)
	if got := cb.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed for an ignored error", got)
	}
	_ = cb.Execute(func() error { return errors.New("boom") })
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()

	log := &changeLog{}
	cb := newBreaker(newFakeClock(), log, CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	_ = cb.Execute(fail)

	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after reset", cb.State())
	}
	if err := cb.Execute(succeed); err != nil {
		t.Fatalf("Execute after reset: %v", err)
	}
	// Resetting a closed breaker reports nothing.
	cb.Reset()

	want := []string{"http:closed->open", "http:open->closed"}
	if diff := cmp.Diff(want, log.get()); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(99):     "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
