package audio_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/flowspeak/pkg/audio"
)

func TestPipe_DeliversToOpenStream(t *testing.T) {
	t.Parallel()

	p := audio.NewPipe(4)
	if p.Push(audio.Frame{Data: []byte{1, 2}}) {
		t.Error("Push with no open stream reported delivery")
	}

	s, err := p.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !p.Active() {
		t.Error("Active() = false with an open stream")
	}
	if !p.Push(audio.Frame{Data: []byte{3, 4}}) {
		t.Fatal("Push to open stream was dropped")
	}
	got := <-s.Frames()
	if got.Data[0] != 3 {
		t.Errorf("frame data = %v, want [3 4]", got.Data)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, ok := <-s.Frames(); ok {
		t.Error("Frames still open after Close")
	}
	if p.Active() {
		t.Error("Active() = true after Close")
	}
	if p.Push(audio.Frame{}) {
		t.Error("Push after Close reported delivery")
	}
}

func TestPipe_SingleStream(t *testing.T) {
	t.Parallel()

	p := audio.NewPipe(0)
	s, err := p.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := p.Open(context.Background()); !errors.Is(err, audio.ErrBusy) {
		t.Fatalf("second Open error = %v, want ErrBusy", err)
	}
	_ = s.Close()
	s2, err := p.Open(context.Background())
	if err != nil {
		t.Fatalf("Open after Close: %v", err)
	}
	_ = s2.Close()
}

func TestPipe_DropsWhenFull(t *testing.T) {
	t.Parallel()

	p := audio.NewPipe(1)
	s, err := p.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	p.Push(audio.Frame{})
	if p.Push(audio.Frame{}) {
		t.Error("Push into a full buffer reported delivery")
	}
	if got := p.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
}

func TestPipe_OpenCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := audio.NewPipe(1).Open(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Open error = %v, want context.Canceled", err)
	}
}
