package config_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/flowspeak/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)
	d := config.Diff(cfg, cfg)
	if d.Changed() {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff_HotReloadable(t *testing.T) {
	t.Parallel()
	old := mustLoad(t, sampleYAML)
	new := mustLoad(t, sampleYAML)
	new.Server.LogLevel = config.LogWarn
	new.Reading.RateCPM = 250
	new.Reading.Passages[1].Text = "The dog sat on the mat."

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogWarn {
		t.Errorf("log level diff = %v/%q", d.LogLevelChanged, d.NewLogLevel)
	}
	if !d.RateChanged || d.NewRate != 250 {
		t.Errorf("rate diff = %v/%d", d.RateChanged, d.NewRate)
	}
	if !d.PassagesChanged {
		t.Error("expected PassagesChanged=true")
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
}

func TestDiff_DefaultPassageChanged(t *testing.T) {
	t.Parallel()
	old := mustLoad(t, sampleYAML)
	new := mustLoad(t, sampleYAML)
	new.Reading.DefaultPassage = "zoo"

	if d := config.Diff(old, new); !d.PassagesChanged {
		t.Error("expected PassagesChanged=true for new default passage")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old := mustLoad(t, sampleYAML)
	new := mustLoad(t, sampleYAML)
	new.Server.ListenAddr = ":7070"
	new.Server.TLS = &config.TLSConfig{CertFile: "c", KeyFile: "k"}
	new.Reading.RateStepCPM = 50
	new.Matcher.Phonetic.Enabled = false
	new.Debounce.InterimDelay *= 2
	new.Recognizer.APIKey = "rotated"
	new.Stutter.Fallback = nil

	d := config.Diff(old, new)
	want := []string{
		"server.listen_addr",
		"server.tls",
		"reading.rate_step_cpm",
		"matcher",
		"debounce",
		"recognizer",
		"stutter",
	}
	if diff := cmp.Diff(want, d.RestartRequired); diff != "" {
		t.Errorf("RestartRequired mismatch (-want +got):\n%s", diff)
	}
	if d.RateChanged || d.LogLevelChanged || d.PassagesChanged {
		t.Errorf("unexpected hot-reload changes: %+v", d)
	}
}

func TestDiff_StutterFallbackEdited(t *testing.T) {
	t.Parallel()
	old := mustLoad(t, sampleYAML)
	new := mustLoad(t, sampleYAML)
	new.Stutter.Fallback.Model = "gpt-4o"

	d := config.Diff(old, new)
	if diff := cmp.Diff([]string{"stutter"}, d.RestartRequired); diff != "" {
		t.Errorf("RestartRequired mismatch (-want +got):\n%s", diff)
	}
}
