package stutter_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/flowspeak/internal/stutter"
)

func TestClean(t *testing.T) {
	t.Parallel()

	raw := stutter.Suggestions{
		Words: []string{" zoo ", "park", "zoo", "3", "##ing", "lake", "farm", "garden", "beach"},
		FollowOns: map[string][]string{
			"zoo":    {"today", "."},
			"park":   {"!"},
			"beach":  {"house"},
			"absent": {"word"},
		},
	}
	got := stutter.Clean(raw, 5)
	want := &stutter.Suggestions{
		Words:     []string{"zoo", "park", "lake", "farm", "garden"},
		FollowOns: map[string][]string{"zoo": {"today"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Clean mismatch (-want +got):\n%s", diff)
	}
	if got.Empty() {
		t.Error("Empty() = true for non-empty suggestions")
	}
	if !stutter.Clean(stutter.Suggestions{}, 0).Empty() {
		t.Error("Empty() = false for cleaned empty input")
	}
}

func TestNewClient_EmptyURL(t *testing.T) {
	t.Parallel()

	if _, err := stutter.NewClient(""); err == nil {
		t.Error("expected error for empty URL")
	}
}

func TestClient_Suggest(t *testing.T) {
	t.Parallel()

	var gotSpeech string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		var req struct {
			Speech string `json:"speech"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotSpeech = req.Speech
		_, _ = w.Write([]byte(`{"top1_words": ["zoo", "park", "##s"], "combinations": {"zoo": ["today", "and"], "park": []}}`))
	}))
	defer srv.Close()

	c, err := stutter.NewClient(srv.URL + "/api/process-speech")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	got, err := c.Suggest(context.Background(), "  we went to the  ")
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}

	if gotSpeech != "we went to the" {
		t.Errorf("speech = %q, want trimmed transcript", gotSpeech)
	}
	want := &stutter.Suggestions{
		Words:     []string{"zoo", "park"},
		FollowOns: map[string][]string{"zoo": {"today", "and"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Suggest mismatch (-want +got):\n%s", diff)
	}
}

func TestClient_Errors(t *testing.T) {
	t.Parallel()

	t.Run("empty transcript", func(t *testing.T) {
		t.Parallel()
		c, _ := stutter.NewClient("http://127.0.0.1:1")
		if _, err := c.Suggest(context.Background(), " "); !errors.Is(err, stutter.ErrEmptyTranscript) {
			t.Errorf("err = %v, want ErrEmptyTranscript", err)
		}
	})

	t.Run("server error", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "model not loaded", http.StatusInternalServerError)
		}))
		defer srv.Close()
		c, _ := stutter.NewClient(srv.URL)
		if _, err := c.Suggest(context.Background(), "hello"); err == nil {
			t.Error("expected error for 500 response")
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"top1_words": [`))
		}))
		defer srv.Close()
		c, _ := stutter.NewClient(srv.URL)
		if _, err := c.Suggest(context.Background(), "hello"); err == nil {
			t.Error("expected decode error")
		}
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		c, _ := stutter.NewClient(srv.URL, stutter.WithTimeout(20*time.Millisecond))
		if _, err := c.Suggest(context.Background(), "hello"); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("err = %v, want context.DeadlineExceeded", err)
		}
	})
}
