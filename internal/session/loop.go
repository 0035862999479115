package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrWong99/flowspeak/internal/observe"
	"github.com/MrWong99/flowspeak/internal/stutter"
	"github.com/MrWong99/flowspeak/internal/transcript"
	"github.com/MrWong99/flowspeak/pkg/provider/stt"
)

// request is a command executed on the session goroutine.
type request struct {
	fn     func() error
	result chan error
}

type eventKind int

const (
	evInterimMatch eventKind = iota
	evSuggestions
	evDriverError
)

// event is an asynchronous input produced off the session goroutine. It is
// applied only if epoch still matches the session's epoch.
type event struct {
	kind  eventKind
	epoch uint64
	words []string
	sugg  *stutter.Suggestions
	err   error
}

// run is the session goroutine.
func (s *Session) run() {
	defer close(s.done)
	defer s.metrics.ActiveSessions.Add(context.Background(), -1)

	for {
		var partials, finals <-chan stt.Transcript
		if s.speech != nil {
			partials, finals = s.speech.partials, s.speech.finals
		}

		select {
		case <-s.quit:
			s.stopDrivers()
			s.setMode(Idle)
			s.cancelBase()
			s.last = s.snapshot()
			return

		case req := <-s.requests:
			req.result <- req.fn()

		case ev := <-s.events:
			s.handleEvent(ev)

		case <-s.tickC:
			s.tick()

		case tr, ok := <-partials:
			if !ok {
				s.recognizerEnded()
				continue
			}
			s.handleFragment(tr.Text, false, true)

		case tr, ok := <-finals:
			if !ok {
				s.recognizerEnded()
				continue
			}
			s.handleFragment(tr.Text, true, true)
		}
	}
}

// post delivers ev to the session goroutine unless the session shuts down or
// stop is closed first.
func (s *Session) post(ev event, stop <-chan struct{}) {
	select {
	case s.events <- ev:
	case <-stop:
	case <-s.done:
	}
}

func (s *Session) handleEvent(ev event) {
	if ev.epoch != s.epoch {
		return
	}
	switch ev.kind {
	case evInterimMatch:
		s.match(ev.words)
	case evSuggestions:
		if ev.err != nil {
			if !errors.Is(ev.err, context.Canceled) {
				s.log.Warn("session: suggestions failed", "err", ev.err)
			}
			return
		}
		if s.onSuggestions != nil && ev.sugg != nil {
			s.onSuggestions(ev.sugg)
		}
	case evDriverError:
		if s.mode != SpeechDriven {
			return
		}
		s.stopSpeech()
		s.setMode(Idle)
		s.fail(ev.err)
		s.notify()
	}
}

// handleFragment applies one recognized fragment. Interim fragments are
// debounced; final fragments are matched immediately against the confirmed
// transcript. Fragments from the server-side recognizer arrive punctuated
// and have punctuation around each word stripped before matching.
func (s *Session) handleFragment(text string, isFinal, recognized bool) {
	if s.mode != SpeechDriven || strings.TrimSpace(text) == "" {
		return
	}
	ctx := context.Background()
	s.metrics.RecordFragment(ctx, isFinal)

	if !isFinal {
		s.buf.SetInterim(text)
		words := s.searchWords(s.buf.Text(), recognized)
		epoch := s.epoch
		stop := s.driverStop()
		s.gate.Submit(func() {
			s.post(event{kind: evInterimMatch, epoch: epoch, words: words}, stop)
		})
		return
	}

	s.gate.Cancel()
	s.buf.AppendFinal(text)
	confirmed := s.buf.Confirmed()
	if !s.match(s.searchWords(confirmed, recognized)) {
		s.notify()
	}
	s.suggest(confirmed)
}

// searchWords returns the trailing window of normalized words of text.
func (s *Session) searchWords(text string, recognized bool) []string {
	tokens := transcript.Normalize(text)
	if recognized {
		tokens = transcript.StripPunctuation(tokens)
	}
	return transcript.LastWords(tokens, s.window)
}

// match runs the matcher from the search origin and advances the cursor on
// success. It reports whether the cursor moved.
func (s *Session) match(words []string) bool {
	start := time.Now()
	pos, ok := s.matcher.Match(words, s.origin)
	outcome := observe.OutcomeNoMatch
	switch {
	case len(words) == 0:
		outcome = observe.OutcomeSkipped
	case ok:
		outcome = observe.OutcomeMatched
	}
	s.metrics.RecordMatch(context.Background(), outcome, time.Since(start))
	if !ok {
		return false
	}

	s.cursor = max(s.cursor, pos)
	s.origin = s.cursor
	s.log.Debug("session: matched", "words", words, "cursor", s.cursor)
	s.notify()
	return true
}

// suggest requests next-word suggestions for the confirmed transcript,
// cancelling any request still in flight.
func (s *Session) suggest(confirmed string) {
	if s.suggester == nil || strings.TrimSpace(confirmed) == "" {
		return
	}
	if s.cancelSuggest != nil {
		s.cancelSuggest()
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.cancelSuggest = cancel
	epoch := s.epoch
	sg := s.suggester

	s.async.Add(1)
	go func() {
		defer s.async.Done()
		defer cancel()
		res, err := sg.Suggest(ctx, confirmed)
		s.post(event{kind: evSuggestions, epoch: epoch, sugg: res, err: err}, ctx.Done())
	}()
}

// tick advances the cursor by one character while auto-highlighting.
func (s *Session) tick() {
	if s.mode != TimerDriven {
		return
	}
	s.metrics.RecordTick(context.Background())
	s.cursor = s.index.NextRuneBoundary(s.cursor)
	if s.cursor >= s.index.Len() {
		s.cursor = s.index.Len()
		s.stopTimer()
		s.setMode(Idle)
	}
	s.notify()
}

func (s *Session) startAutoHighlight() error {
	switch s.mode {
	case TimerDriven:
		return nil
	case SpeechDriven:
		s.stopSpeech()
	case Idle:
		s.cursor = 0
	}
	if s.cursor >= s.index.Len() {
		s.setMode(Idle)
		s.notify()
		return nil
	}
	s.epoch++
	s.ticker = s.newTicker(Period(s.rate))
	s.tickC = s.ticker.C()
	s.setMode(TimerDriven)
	s.notify()
	return nil
}

// setRate applies a clamped rate and returns it.
func (s *Session) setRate(cpm int) int {
	rate := ClampRate(cpm)
	if rate == s.rate {
		return rate
	}
	s.rate = rate
	if s.ticker != nil {
		s.ticker.Reset(Period(rate))
	}
	s.notify()
	return rate
}

// stopTimer stops the auto-highlight ticker.
func (s *Session) stopTimer() {
	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	s.ticker = nil
	s.tickC = nil
	s.epoch++
}

// stopDrivers stops whichever driver is running and cancels pending work.
func (s *Session) stopDrivers() {
	s.stopTimer()
	s.stopSpeech()
	s.gate.Cancel()
	if s.cancelSuggest != nil {
		s.cancelSuggest()
		s.cancelSuggest = nil
	}
}
