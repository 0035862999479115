// Package mock provides in-memory implementations of [audio.Source] and
// [audio.Stream] for use in unit tests.
//
// All mocks are safe for concurrent use. They record calls so tests can
// assert that every opened stream was closed.
//
// Typical usage:
//
//	stream := mock.NewStream(8)
//	src := &mock.Source{Stream: stream}
//	stream.FramesCh <- audio.Frame{Data: pcm, SampleRate: 16000, Channels: 1}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/flowspeak/pkg/audio"
)

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// Stream is returned by Open. If nil, Open returns a fresh Stream.
	Stream *Stream

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// OpenCalls is the number of Open invocations.
	OpenCalls int

	opened []*Stream
}

var _ audio.Source = (*Source)(nil)

// Open records the call and returns Stream or OpenErr.
func (s *Source) Open(_ context.Context) (audio.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCalls++
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	st := s.Stream
	if st == nil {
		st = NewStream(16)
	}
	s.opened = append(s.opened, st)
	return st, nil
}

// OpenCount returns the number of Open calls. Thread-safe.
func (s *Source) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.OpenCalls
}

// AllClosed reports whether every stream handed out by Open has been closed.
func (s *Source) AllClosed() bool {
	s.mu.Lock()
	streams := append([]*Stream(nil), s.opened...)
	s.mu.Unlock()
	for _, st := range streams {
		if st.Closes() == 0 {
			return false
		}
	}
	return true
}

// Stream is a mock implementation of [audio.Stream]. Tests send frames on
// FramesCh before Close.
type Stream struct {
	mu sync.Mutex

	// FramesCh is the channel returned by Frames.
	FramesCh chan audio.Frame

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	closeCalls int
}

var _ audio.Stream = (*Stream)(nil)

// NewStream returns a Stream with the given frame buffer.
func NewStream(buffer int) *Stream {
	return &Stream{FramesCh: make(chan audio.Frame, buffer)}
}

// Frames returns FramesCh.
func (s *Stream) Frames() <-chan audio.Frame { return s.FramesCh }

// Close records the call and closes FramesCh on first use.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	if s.closeCalls == 1 {
		close(s.FramesCh)
	}
	return s.CloseErr
}

// Closes returns the number of Close calls. Thread-safe.
func (s *Stream) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}
