package resilience

import (
	"context"
	"time"

	"github.com/MrWong99/flowspeak/internal/observe"
	"github.com/MrWong99/flowspeak/internal/stutter"
)

// SuggesterFallback implements [stutter.Suggester] with automatic failover
// across suggestion backends. Each backend has its own circuit breaker; when
// the primary fails or its breaker is open, the next healthy fallback is
// tried.
type SuggesterFallback struct {
	group   *FallbackGroup[stutter.Suggester]
	metrics *observe.Metrics
}

// Compile-time interface assertion.
var _ stutter.Suggester = (*SuggesterFallback)(nil)

// NewSuggesterFallback creates a [SuggesterFallback] with primary as the
// preferred backend. Breaker state changes are counted in metrics before any
// OnStateChange callback in cfg runs. A nil metrics uses
// [observe.DefaultMetrics].
func NewSuggesterFallback(primary stutter.Suggester, primaryName string, cfg FallbackConfig, metrics *observe.Metrics) *SuggesterFallback {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	next := cfg.CircuitBreaker.OnStateChange
	cfg.CircuitBreaker.OnStateChange = func(name string, from, to State) {
		metrics.RecordBreakerTransition(context.Background(), name, to.String())
		if next != nil {
			next(name, from, to)
		}
	}
	return &SuggesterFallback{
		group:   NewFallbackGroup(primary, primaryName, cfg),
		metrics: metrics,
	}
}

// AddFallback registers an additional suggestion backend.
func (f *SuggesterFallback) AddFallback(name string, s stutter.Suggester) {
	f.group.AddFallback(name, s)
}

// Suggest asks the first healthy backend for continuations of transcript.
// An empty transcript is rejected without touching any breaker.
func (f *SuggesterFallback) Suggest(ctx context.Context, transcript string) (*stutter.Suggestions, error) {
	if len(transcript) == 0 {
		return nil, stutter.ErrEmptyTranscript
	}
	return ExecuteNamed(f.group, func(name string, s stutter.Suggester) (*stutter.Suggestions, error) {
		start := time.Now()
		out, err := s.Suggest(ctx, transcript)
		f.metrics.RecordProviderDuration(ctx, name, "stutter", time.Since(start))
		if err != nil {
			f.metrics.RecordProviderRequest(ctx, name, "stutter", "error")
			f.metrics.RecordProviderError(ctx, name, "stutter")
			return nil, err
		}
		f.metrics.RecordProviderRequest(ctx, name, "stutter", "ok")
		return out, nil
	})
}

// Status returns the breaker state of each backend.
func (f *SuggesterFallback) Status() []EntryStatus {
	return f.group.Status()
}

// Available reports whether any backend would accept a request.
func (f *SuggesterFallback) Available() bool {
	return f.group.Available()
}
