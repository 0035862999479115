package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumByAttr returns the value of the int64 sum data point carrying key=value.
func sumByAttr(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, key, value)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"flowspeak.match.duration", m.MatchDuration},
		{"flowspeak.provider.duration", m.ProviderDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.0001)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestRecordFragment(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFragment(ctx, false)
	m.RecordFragment(ctx, false)
	m.RecordFragment(ctx, true)

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "flowspeak.fragments", "kind", "interim"); got != 2 {
		t.Errorf("interim fragments = %d, want 2", got)
	}
	if got := sumByAttr(t, rm, "flowspeak.fragments", "kind", "final"); got != 1 {
		t.Errorf("final fragments = %d, want 1", got)
	}
}

func TestRecordMatch(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordMatch(ctx, OutcomeMatched, 20*time.Microsecond)
	m.RecordMatch(ctx, OutcomeNoMatch, 40*time.Microsecond)
	m.RecordMatch(ctx, OutcomeMatched, 10*time.Microsecond)

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "flowspeak.matches", "outcome", OutcomeMatched); got != 2 {
		t.Errorf("matched = %d, want 2", got)
	}
	hist, ok := findMetric(rm, "flowspeak.match.duration").Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatal("match duration histogram missing")
	}
	if got := hist.DataPoints[0].Count; got != 3 {
		t.Errorf("duration samples = %d, want 3", got)
	}
}

func TestRecordModeTransition(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordModeTransition(ctx, "idle", "speech")
	m.RecordModeTransition(ctx, "speech", "timer")

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "flowspeak.session.mode_transitions", "to", "timer"); got != 1 {
		t.Errorf("transitions to timer = %d, want 1", got)
	}
}

func TestProviderCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "http", "stutter", "ok")
	m.RecordProviderRequest(ctx, "http", "stutter", "ok")
	m.RecordProviderRequest(ctx, "http", "stutter", "error")
	m.RecordProviderError(ctx, "deepgram", "stt")
	m.RecordProviderDuration(ctx, "http", "stutter", 120*time.Millisecond)

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "flowspeak.provider.requests", "status", "ok"); got != 2 {
		t.Errorf("ok requests = %d, want 2", got)
	}
	if got := sumByAttr(t, rm, "flowspeak.provider.errors", "provider", "deepgram"); got != 1 {
		t.Errorf("deepgram errors = %d, want 1", got)
	}
}

func TestRecordBreakerTransition(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordBreakerTransition(ctx, "http", "open")
	m.RecordBreakerTransition(ctx, "http", "half-open")
	m.RecordBreakerTransition(ctx, "openai", "open")

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "flowspeak.provider.breaker_transitions", "to", "open"); got != 2 {
		t.Errorf("transitions to open = %d, want 2", got)
	}
	if got := sumByAttr(t, rm, "flowspeak.provider.breaker_transitions", "provider", "http"); got != 2 {
		t.Errorf("http transitions = %d, want 2", got)
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveRecordings.Add(ctx, 1)
	m.ActiveRecordings.Add(ctx, -1)
	m.RecordTick(ctx)

	rm := collect(t, reader)

	gauges := []struct {
		name string
		want int64
	}{
		{"flowspeak.active_sessions", 2},
		{"flowspeak.active_recordings", 0},
		{"flowspeak.autohighlight.ticks", 1},
	}

	for _, tc := range gauges {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not a sum", tc.name)
			}
			if len(sum.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := sum.DataPoints[0].Value; got != tc.want {
				t.Errorf("gauge value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/healthz"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "flowspeak.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
