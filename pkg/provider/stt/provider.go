// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram)
// and exposes a uniform streaming interface. The central abstraction is
// SessionHandle: once opened, a session accepts raw PCM audio frames and emits
// two streams of Transcript values: low-latency partials that the recognizer
// may still revise, and authoritative finals that are never revised.
//
// Implementations must be safe for concurrent use. Audio input and transcript
// output channels are goroutine-safe by construction.
package stt

import (
	"context"
	"errors"
	"time"
)

// ErrNotSupported is returned by optional SessionHandle methods the provider
// does not implement.
var ErrNotSupported = errors.New("stt: operation not supported by provider")

// Transcript is a single recognition result. Both partial (interim) and final
// results use this type.
type Transcript struct {
	// Text is the recognized speech for the current utterance.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or partial
	// (interim) result.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the
	// provider does not report confidence.
	Confidence float64

	// Timestamp marks when the utterance started, relative to stream start.
	Timestamp time.Duration
}

// KeywordBoost is a vocabulary hint that increases the recognition
// probability of an uncommon word, such as a name in the reading passage.
type KeywordBoost struct {
	// Keyword is the text to boost (e.g., "penguins").
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}

// StreamConfig describes the audio format and recognition hints for a new STT
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Common value: 16000.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string lets the provider pick its default.
	Language string

	// Keywords is a list of vocabulary hints, typically drawn from the passage
	// being read.
	Keywords []KeywordBoost
}

// SessionHandle represents an open STT streaming session. It is an interface so
// that test code can provide mock implementations without requiring a live provider
// connection.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio bytes to the provider. The
	// chunk should match the SampleRate and Channels agreed in StreamConfig.
	// Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel of interim results. The channel is
	// closed when the session ends.
	Partials() <-chan Transcript

	// Finals returns a read-only channel of final results. The channel is
	// closed when the session ends.
	Finals() <-chan Transcript

	// Close terminates the session and releases all associated resources.
	// After Close returns, the Partials and Finals channels will be closed.
	// Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new streaming transcription session. The caller owns
	// the returned SessionHandle and must call Close when done.
	//
	// Returns an error if the provider cannot establish the session (e.g.,
	// authentication failure, unsupported configuration, or ctx already
	// cancelled).
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
