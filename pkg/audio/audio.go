// Package audio defines the microphone abstraction used by reading sessions.
//
// A [Source] is opened once per recording and yields a [Stream] of PCM
// [Frame] values. The stream must be closed on every exit path; closing it
// releases the underlying capture device or network feed. Frames are fed to
// the speech recognizer unchanged apart from format conversion, and their
// amplitude can be summarised with [Levels] for a visualiser.
//
// This package lives under pkg/ because capture backends outside this module
// are expected to implement [Source].
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrBusy is returned by [Source.Open] when the source only supports one
// stream and it is already open.
var ErrBusy = errors.New("audio: source already has an open stream")

// Frame is a chunk of little-endian int16 PCM audio.
type Frame struct {
	// Data holds the interleaved samples.
	Data []byte

	// SampleRate in Hz (e.g., 48000 from a browser, 16000 for recognition).
	SampleRate int

	// Channels is 1 for mono and 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Stream is an open microphone. Frames closes when the stream ends, either
// because Close was called or because the source went away.
//
// Implementations must be safe for concurrent use.
type Stream interface {
	// Frames returns the channel of captured frames.
	Frames() <-chan Frame

	// Close stops capture and closes the Frames channel. It is safe to call
	// Close more than once; subsequent calls return nil.
	Close() error
}

// Source acquires microphone streams.
type Source interface {
	// Open starts capture. ctx governs the acquisition only; the returned
	// Stream lives until Close.
	Open(ctx context.Context) (Stream, error)
}
