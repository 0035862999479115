// Package observe provides application-wide observability primitives for
// FlowSpeak: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all FlowSpeak metrics.
const meterName = "github.com/MrWong99/flowspeak"

// Match outcomes recorded by [Metrics.RecordMatch].
const (
	OutcomeMatched = "matched"
	OutcomeNoMatch = "no_match"
	OutcomeSkipped = "skipped"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// MatchDuration tracks the time spent in a single forward-match call.
	MatchDuration metric.Float64Histogram

	// ProviderDuration tracks external collaborator latency (recognizer
	// stream setup, stutter suggestions). Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderDuration metric.Float64Histogram

	// --- Counters ---

	// Fragments counts recognized-speech fragments. Use with attribute:
	//   attribute.String("kind", "interim"|"final")
	Fragments metric.Int64Counter

	// Matches counts forward-match attempts. Use with attribute:
	//   attribute.String("outcome", "matched"|"no_match"|"skipped")
	Matches metric.Int64Counter

	// Ticks counts auto-highlight timer advances.
	Ticks metric.Int64Counter

	// ModeTransitions counts session mode changes. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	ModeTransitions metric.Int64Counter

	// ProviderRequests counts collaborator calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// AudioFramesDropped counts microphone frames discarded before reaching
	// the recognizer.
	AudioFramesDropped metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes of
	// collaborator backends. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts collaborator errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live reading sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveRecordings tracks the number of sessions currently driven by
	// speech.
	ActiveRecordings metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// collaborator calls.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// matchBuckets covers in-memory string scans, which finish in microseconds.
var matchBuckets = []float64{
	0.00001, 0.000025, 0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.005, 0.01,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.MatchDuration, err = m.Float64Histogram("flowspeak.match.duration",
		metric.WithDescription("Latency of a forward match over the reference text."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(matchBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderDuration, err = m.Float64Histogram("flowspeak.provider.duration",
		metric.WithDescription("Latency of external collaborator calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Fragments, err = m.Int64Counter("flowspeak.fragments",
		metric.WithDescription("Total recognized-speech fragments by kind."),
	); err != nil {
		return nil, err
	}
	if met.Matches, err = m.Int64Counter("flowspeak.matches",
		metric.WithDescription("Total forward-match attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Ticks, err = m.Int64Counter("flowspeak.autohighlight.ticks",
		metric.WithDescription("Total auto-highlight cursor advances."),
	); err != nil {
		return nil, err
	}
	if met.ModeTransitions, err = m.Int64Counter("flowspeak.session.mode_transitions",
		metric.WithDescription("Total session mode changes by source and target mode."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("flowspeak.provider.requests",
		metric.WithDescription("Total collaborator requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.AudioFramesDropped, err = m.Int64Counter("flowspeak.audio.frames_dropped",
		metric.WithDescription("Total microphone frames dropped before recognition."),
	); err != nil {
		return nil, err
	}

	if met.BreakerTransitions, err = m.Int64Counter("flowspeak.provider.breaker_transitions",
		metric.WithDescription("Total circuit breaker state changes by provider and target state."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("flowspeak.provider.errors",
		metric.WithDescription("Total collaborator errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("flowspeak.active_sessions",
		metric.WithDescription("Number of live reading sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRecordings, err = m.Int64UpDownCounter("flowspeak.active_recordings",
		metric.WithDescription("Number of sessions currently driven by speech."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("flowspeak.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFragment counts one recognized fragment.
func (m *Metrics) RecordFragment(ctx context.Context, final bool) {
	kind := "interim"
	if final {
		kind = "final"
	}
	m.Fragments.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordMatch counts one match attempt with its outcome and records its
// duration.
func (m *Metrics) RecordMatch(ctx context.Context, outcome string, d time.Duration) {
	m.Matches.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.MatchDuration.Record(ctx, d.Seconds())
}

// RecordTick counts one auto-highlight advance.
func (m *Metrics) RecordTick(ctx context.Context) {
	m.Ticks.Add(ctx, 1)
}

// RecordModeTransition counts one session mode change.
func (m *Metrics) RecordModeTransition(ctx context.Context, from, to string) {
	m.ModeTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordProviderDuration records the latency of one collaborator call.
func (m *Metrics) RecordProviderDuration(ctx context.Context, provider, kind string, d time.Duration) {
	m.ProviderDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordBreakerTransition counts one circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("to", to),
		),
	)
}
