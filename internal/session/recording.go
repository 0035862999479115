package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/flowspeak/pkg/audio"
	"github.com/MrWong99/flowspeak/pkg/provider/stt"
)

// Vocabulary hints sent to the recognizer when none are configured.
const (
	keywordMinLen = 4
	keywordLimit  = 50
	keywordBoost  = 1.5
)

// speechDriver holds the resources of one recording. With no recognizer
// configured only stop is set and fragments arrive through Session.Fragment.
type speechDriver struct {
	stop       chan struct{}
	sampleRate int
	handle     stt.SessionHandle
	stream     audio.Stream
	partials   <-chan stt.Transcript
	finals     <-chan stt.Transcript
	pumps      sync.WaitGroup
}

// startRecording opens the speech driver and enters SpeechDriven mode.
func (s *Session) startRecording(ctx context.Context) error {
	if s.mode == SpeechDriven {
		return nil
	}
	s.stopDrivers()

	d := &speechDriver{stop: make(chan struct{})}
	if s.recognizer != nil {
		if err := s.openRecognizer(ctx, d); err != nil {
			s.setMode(Idle)
			s.notify()
			return err
		}
	}

	s.reset()
	s.epoch++
	s.speech = d
	s.startedAt = s.now()
	s.setMode(SpeechDriven)
	s.metrics.ActiveRecordings.Add(context.Background(), 1)

	if d.stream != nil {
		d.pumps.Add(1)
		go s.pumpAudio(d, s.epoch)
	}
	s.notify()
	return nil
}

// openRecognizer acquires the microphone stream and then the recognizer
// stream. On failure everything acquired so far is released.
func (s *Session) openRecognizer(ctx context.Context, d *speechDriver) error {
	if s.mic == nil {
		return fmt.Errorf("session: start recording: %w", ErrMicrophoneUnavailable)
	}
	stream, err := s.mic.Open(ctx)
	if err != nil {
		return fmt.Errorf("session: start recording: %w: %w", ErrMicrophoneUnavailable, err)
	}

	cfg := s.streamCfg
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	if cfg.Keywords == nil {
		for _, w := range s.index.Vocabulary(keywordMinLen, keywordLimit) {
			cfg.Keywords = append(cfg.Keywords, stt.KeywordBoost{Keyword: w, Boost: keywordBoost})
		}
	}

	start := time.Now()
	handle, err := s.recognizer.StartStream(ctx, cfg)
	s.metrics.RecordProviderDuration(ctx, "recognizer", "stream", time.Since(start))
	if err != nil {
		s.metrics.RecordProviderRequest(ctx, "recognizer", "stream", "error")
		s.metrics.RecordProviderError(ctx, "recognizer", "stream")
		if cerr := stream.Close(); cerr != nil {
			s.log.Warn("session: close microphone stream", "err", cerr)
		}
		return fmt.Errorf("session: start recording: %w: %w", ErrRecognizerUnavailable, err)
	}
	s.metrics.RecordProviderRequest(ctx, "recognizer", "stream", "ok")

	d.stream = stream
	d.handle = handle
	d.partials = handle.Partials()
	d.finals = handle.Finals()
	d.sampleRate = cfg.SampleRate
	return nil
}

// pumpAudio forwards microphone frames to the recognizer until the stream
// ends or the driver stops.
func (s *Session) pumpAudio(d *speechDriver, epoch uint64) {
	defer d.pumps.Done()

	conv := &audio.Converter{SampleRate: d.sampleRate}
	for frame := range d.stream.Frames() {
		if conv.SampleRate > 0 {
			frame = conv.Convert(frame)
		}
		if len(frame.Data) == 0 {
			continue
		}
		if err := d.handle.SendAudio(frame.Data); err != nil {
			s.post(event{kind: evDriverError, epoch: epoch, err: fmt.Errorf("session: send audio: %w", err)}, d.stop)
			return
		}
	}

	select {
	case <-d.stop:
	default:
		s.post(event{kind: evDriverError, epoch: epoch, err: ErrMicrophoneEnded}, d.stop)
	}
}

// stopSpeech releases the speech driver. It blocks until the audio pump has
// exited so no fragment or audio chunk outlives the call.
func (s *Session) stopSpeech() {
	d := s.speech
	if d == nil {
		return
	}
	s.speech = nil
	s.gate.Cancel()
	s.epoch++
	close(d.stop)

	if d.stream != nil {
		if err := d.stream.Close(); err != nil {
			s.log.Warn("session: close microphone stream", "err", err)
		}
	}
	d.pumps.Wait()
	if d.handle != nil {
		if err := d.handle.Close(); err != nil {
			s.log.Warn("session: close recognizer stream", "err", err)
		}
	}

	if !s.startedAt.IsZero() {
		s.elapsed = s.now().Sub(s.startedAt)
		s.startedAt = time.Time{}
	}
	s.metrics.ActiveRecordings.Add(context.Background(), -1)
}

// recognizerEnded handles the recognizer closing its transcript channels
// while recording.
func (s *Session) recognizerEnded() {
	s.stopSpeech()
	s.setMode(Idle)
	s.fail(ErrRecognizerEnded)
	s.notify()
}

// driverStop returns the stop channel of the running speech driver.
func (s *Session) driverStop() <-chan struct{} {
	if s.speech == nil {
		return nil
	}
	return s.speech.stop
}
