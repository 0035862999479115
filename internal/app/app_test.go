package app_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/flowspeak/internal/app"
	"github.com/MrWong99/flowspeak/internal/config"
	"github.com/MrWong99/flowspeak/internal/observe"
	"github.com/MrWong99/flowspeak/internal/stutter"
	stuttermock "github.com/MrWong99/flowspeak/internal/stutter/mock"
)

const testYAML = `
server:
  listen_addr: "127.0.0.1:0"
reading:
  default_passage: cat
  passages:
    - name: cat
      text: "the cat sat on the mat"
    - name: elephants
      text: "The elephants wandered slowly toward the river"
  rate_cpm: 120
`

// testConfig parses yaml, or testYAML when yaml is empty.
func testConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	if yaml == "" {
		yaml = testYAML
	}
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
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newTestApp(t *testing.T, cfg *config.Config, providers *app.Providers, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{
		app.WithMetrics(testMetrics(t)),
		app.WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, "# metrics\n")
		})),
	}, opts...)
	a, err := app.New(cfg, providers, opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestNew_RequiresConfig(t *testing.T) {
	t.Parallel()

	if _, err := app.New(nil, nil); err == nil {
		t.Error("New(nil) returned no error")
	}
}

func TestNew_UnknownDefaultPassage(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "")
	cfg.Reading.DefaultPassage = "missing"
	_, err := app.New(cfg, nil, app.WithMetrics(testMetrics(t)))
	if !errors.Is(err, app.ErrUnknownPassage) {
		t.Errorf("err = %v, want ErrUnknownPassage", err)
	}
}

func TestApp_Routes(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(t, ""), nil)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/healthz", http.StatusOK, `"status":"ok"`},
		{"/readyz", http.StatusOK, `"passages":"ok"`},
		{"/api/passages", http.StatusOK, `"passages":["cat","elephants"]`},
		{"/metrics", http.StatusOK, "# metrics"},
		{"/nope", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		status, body := get(t, srv.URL+tt.path)
		if status != tt.wantStatus {
			t.Errorf("GET %s = %d, want %d", tt.path, status, tt.wantStatus)
		}
		if !strings.Contains(body, tt.wantBody) {
			t.Errorf("GET %s body = %q, want it to contain %q", tt.path, body, tt.wantBody)
		}
	}
}

// flakySuggester reports availability like resilience.SuggesterFallback.
type flakySuggester struct {
	stuttermock.Suggester
	available atomic.Bool
}

func (f *flakySuggester) Available() bool { return f.available.Load() }

var _ stutter.Suggester = (*flakySuggester)(nil)

func TestApp_ReadyzTracksSuggester(t *testing.T) {
	t.Parallel()

	sg := &flakySuggester{}
	a := newTestApp(t, testConfig(t, ""), &app.Providers{Suggester: sg})
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	status, body := get(t, srv.URL+"/readyz")
	if status != http.StatusServiceUnavailable || !strings.Contains(body, `"stutter":"fail`) {
		t.Errorf("readyz with every backend down = %d %s", status, body)
	}

	sg.available.Store(true)
	if status, body := get(t, srv.URL+"/readyz"); status != http.StatusOK {
		t.Errorf("readyz = %d %s, want 200", status, body)
	}
}

func TestApp_ApplyConfig(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(t, ""), nil)
	s, err := a.Sessions().Open()
	if err != nil {
		t.Fatal(err)
	}
	if got := s.Snapshot().Rate; got != 120 {
		t.Fatalf("initial rate = %d, want 120", got)
	}

	next := testConfig(t, strings.Replace(testYAML, "rate_cpm: 120", "rate_cpm: 300", 1)+`
matcher:
  window_words: 3
`)
	d := a.ApplyConfig(next)
	if !d.RateChanged || d.NewRate != 300 {
		t.Errorf("diff = %+v, want rate change to 300", d)
	}
	if len(d.RestartRequired) != 1 || d.RestartRequired[0] != "matcher" {
		t.Errorf("RestartRequired = %v, want [matcher]", d.RestartRequired)
	}
	if got := s.Snapshot().Rate; got != 300 {
		t.Errorf("live session rate = %d, want 300", got)
	}

	// Applying the same config again changes nothing.
	if d := a.ApplyConfig(next); d.Changed() {
		t.Errorf("second apply reported %+v", d)
	}
}

func TestApp_ApplyConfigPassages(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(t, ""), nil)
	next := testConfig(t, strings.Replace(testYAML, "default_passage: cat", "default_passage: elephants", 1))
	if d := a.ApplyConfig(next); !d.PassagesChanged {
		t.Fatalf("diff = %+v, want passages changed", d)
	}

	s, err := a.Sessions().Open()
	if err != nil {
		t.Fatal(err)
	}
	if got := s.Snapshot().View.Unspoken; !strings.HasPrefix(got, "The elephants") {
		t.Errorf("new session passage = %q, want the elephants passage", got)
	}
}

func TestApp_ShutdownClosesSessions(t *testing.T) {
	t.Parallel()

	var closed atomic.Int32
	a := newTestApp(t, testConfig(t, ""), nil, app.WithCloser(func() error {
		closed.Add(1)
		return nil
	}))
	s, err := a.Sessions().Open()
	if err != nil {
		t.Fatal(err)
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case <-s.Done():
	default:
		t.Error("session still running after shutdown")
	}
	if closed.Load() != 1 {
		t.Errorf("closer ran %d times, want 1", closed.Load())
	}

	// Draining: readiness fails while liveness still passes.
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz after shutdown = %d, want 503", rec.Code)
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
	if closed.Load() != 1 {
		t.Error("closer ran again on second Shutdown")
	}
}

func TestApp_Serve(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(t, ""), nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	if status, _ := get(t, "http://"+ln.Addr().String()+"/healthz"); status != http.StatusOK {
		t.Errorf("healthz = %d, want 200", status)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}
