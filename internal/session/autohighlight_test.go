package session

import (
	"context"
	"strings"
	"testing"
	"time"

	audiomock "github.com/MrWong99/flowspeak/pkg/audio/mock"
	sttmock "github.com/MrWong99/flowspeak/pkg/provider/stt/mock"
)

func TestPeriodAndClamp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cpm        int
		wantRate   int
		wantPeriod time.Duration
	}{
		{150, 150, 400 * time.Millisecond},
		{10, 50, 1200 * time.Millisecond},
		{1000, 500, 120 * time.Millisecond},
		{175, 175, time.Minute / 175},
	}
	for _, tt := range tests {
		if got := ClampRate(tt.cpm); got != tt.wantRate {
			t.Errorf("ClampRate(%d) = %d, want %d", tt.cpm, got, tt.wantRate)
		}
		if got := Period(tt.cpm); got != tt.wantPeriod {
			t.Errorf("Period(%d) = %v, want %v", tt.cpm, got, tt.wantPeriod)
		}
	}
}

func TestMode_String(t *testing.T) {
	t.Parallel()

	for m, want := range map[Mode]string{Idle: "idle", SpeechDriven: "speech", TimerDriven: "timer", Mode(9): "unknown"} {
		if got := m.String(); got != want {
			t.Errorf("Mode(%d).String() = %q, want %q", int(m), got, want)
		}
	}
}

func TestAutoHighlight_RunsToEnd(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("abcde ", 50)
	ts := &tickers{}
	s := newTestSession(t, text, WithTicker(ts.factory))

	mustNil(t, s.StartAutoHighlight())
	tk := ts.last(t)
	if got := tk.Periods()[0]; got != 400*time.Millisecond {
		t.Errorf("period = %v, want 400ms at 150 cpm", got)
	}

	for i := 1; i <= len(text); i++ {
		tk.tick(t)
		if i == 150 {
			if snap := s.Snapshot(); snap.Cursor != 150 || snap.Mode != "timer" {
				t.Fatalf("halfway: %+v", snap)
			}
		}
	}

	snap := s.Snapshot()
	if snap.Cursor != len(text) {
		t.Errorf("cursor = %d, want %d", snap.Cursor, len(text))
	}
	if snap.Mode != "idle" {
		t.Errorf("mode = %s, want idle at end of text", snap.Mode)
	}
	if !tk.Stopped() {
		t.Error("ticker not stopped at end of text")
	}
	if !snap.View.Complete() {
		t.Error("view not complete at end of text")
	}

	// Restarting from the end begins a fresh pass.
	mustNil(t, s.StartAutoHighlight())
	if snap := s.Snapshot(); snap.Cursor != 0 || snap.Mode != "timer" {
		t.Errorf("restart: %+v", snap)
	}
}

func TestAutoHighlight_MultiByteRunes(t *testing.T) {
	t.Parallel()

	ts := &tickers{}
	s := newTestSession(t, "héllo", WithTicker(ts.factory))
	mustNil(t, s.StartAutoHighlight())
	tk := ts.last(t)

	want := []int{1, 3, 4, 5, 6}
	for _, w := range want {
		tk.tick(t)
		if got := s.Snapshot().Cursor; got != w {
			t.Fatalf("cursor = %d, want %d", got, w)
		}
	}
	if s.Snapshot().Mode != "idle" {
		t.Error("expected idle at end of text")
	}
}

func TestAutoHighlight_Rate(t *testing.T) {
	t.Parallel()

	ts := &tickers{}
	s := newTestSession(t, catText, WithTicker(ts.factory), WithRate(100))
	if got := s.Snapshot().Rate; got != 100 {
		t.Fatalf("initial rate = %d, want 100", got)
	}

	rate, err := s.AdjustRate(DefaultRateStep)
	mustNil(t, err)
	if rate != 125 {
		t.Errorf("AdjustRate = %d, want 125", rate)
	}

	mustNil(t, s.StartAutoHighlight())
	tk := ts.last(t)
	tk.tick(t)
	tk.tick(t)

	rate, err = s.AdjustRate(50)
	mustNil(t, err)
	if rate != 175 {
		t.Errorf("AdjustRate = %d, want 175", rate)
	}
	periods := tk.Periods()
	if got := periods[len(periods)-1]; got != time.Minute/175 {
		t.Errorf("ticker reset to %v, want %v", got, time.Minute/175)
	}
	if got := s.Snapshot().Cursor; got != 2 {
		t.Errorf("rate change lost progress: cursor = %d, want 2", got)
	}

	if rate, _ := s.AdjustRate(10_000); rate != MaxRate {
		t.Errorf("rate = %d, want clamped %d", rate, MaxRate)
	}
	if rate, _ := s.SetRate(1); rate != MinRate {
		t.Errorf("rate = %d, want clamped %d", rate, MinRate)
	}
	if rate, _ := s.AdjustRate(-DefaultRateStep); rate != MinRate {
		t.Errorf("rate = %d, want %d", rate, MinRate)
	}
}

func TestAutoHighlight_StopAndResume(t *testing.T) {
	t.Parallel()

	ts := &tickers{}
	s := newTestSession(t, catText, WithTicker(ts.factory))

	mustNil(t, s.StartAutoHighlight())
	tk := ts.last(t)
	for range 4 {
		tk.tick(t)
	}
	mustNil(t, s.StopAutoHighlight())
	if snap := s.Snapshot(); snap.Cursor != 4 || snap.Mode != "idle" {
		t.Errorf("after stop: %+v", snap)
	}
	if !tk.Stopped() {
		t.Error("ticker not stopped")
	}

	// Stopping twice is harmless.
	mustNil(t, s.StopAutoHighlight())

	// From Idle the highlight starts over.
	mustNil(t, s.StartAutoHighlight())
	if got := s.Snapshot().Cursor; got != 0 {
		t.Errorf("cursor = %d after restart from idle, want 0", got)
	}
	if ts.count() != 2 {
		t.Errorf("tickers created = %d, want 2", ts.count())
	}
}

func TestDrivers_MutualExclusion(t *testing.T) {
	t.Parallel()

	ts := &tickers{}
	handle := sttmock.NewSession()
	mic := &audiomock.Source{}
	s := newTestSession(t, catText,
		WithTicker(ts.factory),
		WithRecognizer(&sttmock.Provider{Session: handle}, recognizerCfg()),
		WithMicrophone(mic),
	)

	// Timer, then speech: the timer stops and the cursor resets.
	mustNil(t, s.StartAutoHighlight())
	timer := ts.last(t)
	for range 5 {
		timer.tick(t)
	}
	mustNil(t, s.StartRecording(context.Background()))
	if !timer.Stopped() {
		t.Error("timer still running after start recording")
	}
	if snap := s.Snapshot(); snap.Mode != "speech" || snap.Cursor != 0 {
		t.Errorf("after start recording: %+v", snap)
	}

	mustNil(t, s.Fragment("the cat", true))

	// Speech, then timer: the recording stops and the cursor is kept.
	mustNil(t, s.StartAutoHighlight())
	if handle.Closes() == 0 || !mic.AllClosed() {
		t.Error("speech driver not released when auto-highlight started")
	}
	snap := s.Snapshot()
	if snap.Mode != "timer" || snap.Cursor != 7 {
		t.Errorf("after start auto-highlight: %+v", snap)
	}
	ts.last(t).tick(t)
	if got := s.Snapshot().Cursor; got != 8 {
		t.Errorf("cursor = %d, want 8", got)
	}

	// Fragments are ignored while the timer drives.
	mustNil(t, s.Fragment("the mat", true))
	if got := s.Snapshot().Cursor; got != 8 {
		t.Errorf("fragment moved timer-driven cursor to %d", got)
	}
}
