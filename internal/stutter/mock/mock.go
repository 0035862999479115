// Package mock provides a test double for stutter.Suggester.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/flowspeak/internal/stutter"
)

// Suggester is a mock implementation of stutter.Suggester. It records every
// transcript it is asked about and returns Result, Err.
type Suggester struct {
	mu sync.Mutex

	// Result is returned by Suggest when Err is nil.
	Result *stutter.Suggestions

	// Err, if non-nil, is returned by Suggest.
	Err error

	// Block, if non-nil, makes Suggest wait until it is closed or ctx ends.
	Block chan struct{}

	// Calls records the transcript of every Suggest call.
	Calls []string
}

var _ stutter.Suggester = (*Suggester)(nil)

// Suggest records the call and returns Result, Err.
func (s *Suggester) Suggest(ctx context.Context, transcript string) (*stutter.Suggestions, error) {
	s.mu.Lock()
	s.Calls = append(s.Calls, transcript)
	block := s.Block
	result, err := s.Result, s.Err
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return result, err
}

// CallCount returns the number of Suggest calls. Thread-safe.
func (s *Suggester) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

// LastCall returns the most recent transcript, or "" when never called.
func (s *Suggester) LastCall() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Calls) == 0 {
		return ""
	}
	return s.Calls[len(s.Calls)-1]
}
