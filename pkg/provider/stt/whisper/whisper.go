// Package whisper provides a recognizer backed by a whisper.cpp server.
//
// whisper.cpp transcribes whole clips, so the session buffers PCM, splits it
// into utterances on silence and POSTs each utterance to the server's
// /inference endpoint. While an utterance is still growing, the pending audio
// is re-transcribed every interim interval and the result is emitted as a
// partial. A reader who never pauses still sees the highlight follow along;
// the final for the utterance is emitted once silence closes it.
//
// Passage keywords from [stt.StreamConfig] are sent as the whisper prompt,
// which biases decoding towards the words being read.
//
//	p, err := whisper.New("http://localhost:8081", whisper.WithLanguage("en"))
//	handle, err := p.StartStream(ctx, cfg)
package whisper

import (
	"bytes"
	"cmp"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/flowspeak/pkg/audio"
	"github.com/MrWong99/flowspeak/pkg/provider/stt"
)

const (
	bitsPerSample = 16

	defaultLanguage     = "en"
	defaultSampleRate   = 16000
	defaultSilenceLevel = 0.01
	defaultSilence      = 500 * time.Millisecond
	defaultInterim      = time.Second
	defaultMaxUtterance = 10 * time.Second
	defaultTimeout      = 30 * time.Second

	// maxPromptWords caps the keyword prompt; whisper truncates long prompts.
	maxPromptWords = 48
)

var _ stt.Provider = (*Provider)(nil)

// ErrClosed is returned by SendAudio after the session has been closed.
var ErrClosed = errors.New("whisper: session is closed")

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model name forwarded to the server. Empty uses the
// model the server was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default recognition language. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		if lang != "" {
			p.language = lang
		}
	}
}

// WithSampleRate sets the default sample rate in Hz. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		if rate > 0 {
			p.sampleRate = rate
		}
	}
}

// WithSilenceLevel sets the normalised RMS level in (0, 1) below which a
// chunk counts as silence. Defaults to 0.01.
func WithSilenceLevel(level float64) Option {
	return func(p *Provider) {
		if level > 0 && level < 1 {
			p.silenceLevel = level
		}
	}
}

// WithSilence sets how much trailing silence closes an utterance.
// Defaults to 500ms.
func WithSilence(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.silence = d
		}
	}
}

// WithInterimInterval sets how much new speech accumulates between interim
// transcriptions. Zero or negative disables interims. Defaults to 1s.
func WithInterimInterval(d time.Duration) Option {
	return func(p *Provider) { p.interim = d }
}

// WithMaxUtterance caps the audio of a single utterance. Continuous speech
// past the cap is finalised without waiting for silence. Defaults to 10s.
func WithMaxUtterance(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.maxUtterance = d
		}
	}
}

// WithTimeout bounds a single inference request. Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.httpClient = &http.Client{Timeout: d}
		}
	}
}

// Provider implements stt.Provider on top of a whisper.cpp HTTP server.
// Each session owns its buffer and goroutine, so sessions may run
// concurrently.
type Provider struct {
	serverURL    string
	model        string
	language     string
	sampleRate   int
	silenceLevel float64
	silence      time.Duration
	interim      time.Duration
	maxUtterance time.Duration
	httpClient   *http.Client
}

// New creates a Provider for the whisper.cpp server at serverURL
// (e.g. "http://localhost:8081").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: server URL must not be empty")
	}
	p := &Provider{
		serverURL:    strings.TrimRight(serverURL, "/"),
		language:     defaultLanguage,
		sampleRate:   defaultSampleRate,
		silenceLevel: defaultSilenceLevel,
		silence:      defaultSilence,
		interim:      defaultInterim,
		maxUtterance: defaultMaxUtterance,
		httpClient:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a transcription session. No request is made until the
// first utterance has been buffered.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: start stream: %w", err)
	}

	format := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	if format.SampleRate <= 0 {
		format.SampleRate = p.sampleRate
	}
	if format.Channels <= 0 {
		format.Channels = 1
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}

	s := &session{
		p:        p,
		format:   format,
		language: lang,
		prompt:   Prompt(cfg.Keywords),
		audioCh:  make(chan []byte, 256),
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop(ctx)
	return s, nil
}

// Prompt joins keyword hints into a whisper initial prompt, strongest boost
// first, keeping at most 48 words.
func Prompt(keywords []stt.KeywordBoost) string {
	if len(keywords) == 0 {
		return ""
	}
	sorted := slices.Clone(keywords)
	slices.SortStableFunc(sorted, func(a, b stt.KeywordBoost) int {
		return cmp.Compare(b.Boost, a.Boost)
	})
	words := make([]string, 0, min(len(sorted), maxPromptWords))
	for _, k := range sorted {
		if k.Keyword == "" {
			continue
		}
		words = append(words, k.Keyword)
		if len(words) == maxPromptWords {
			break
		}
	}
	return strings.Join(words, ", ")
}

// session implements stt.SessionHandle. Buffer state is owned by loop.
type session struct {
	p        *Provider
	format   audio.Format
	language string
	prompt   string

	audioCh  chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// utterance is the speech buffered since the last final.
type utterance struct {
	pcm        []byte
	start      time.Duration
	silence    time.Duration
	sinceInter time.Duration
	speech     bool
}

func (u *utterance) reset() { *u = utterance{} }

// SendAudio queues a chunk of 16-bit little-endian PCM in the stream format.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// Partials returns interim transcriptions of the growing utterance.
func (s *session) Partials() <-chan stt.Transcript { return s.partials }

// Finals returns one transcript per completed utterance.
func (s *session) Finals() <-chan stt.Transcript { return s.finals }

// Close transcribes audio already queued, then closes both channels.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

func (s *session) loop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	var u utterance
	var pos time.Duration

	for {
		select {
		case <-ctx.Done():
			s.drain(&u, &pos)
			return
		case <-s.done:
			s.drain(&u, &pos)
			return
		case chunk := <-s.audioCh:
			s.consume(ctx, &u, &pos, chunk)
		}
	}
}

// drain processes audio queued before Close and finalises what is left.
// The caller's ctx may already be cancelled, so it runs on a fresh one.
func (s *session) drain(u *utterance, pos *time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), s.p.httpClient.Timeout)
	defer cancel()
	for {
		select {
		case chunk := <-s.audioCh:
			s.consume(ctx, u, pos, chunk)
		default:
			s.finalize(ctx, u)
			return
		}
	}
}

// consume appends chunk to the utterance and runs any transcription it
// triggers. pos is the stream position at the start of chunk.
func (s *session) consume(ctx context.Context, u *utterance, pos *time.Duration, chunk []byte) {
	d := s.duration(chunk)
	start := *pos
	*pos += d

	if s.silent(chunk) {
		if !u.speech {
			return
		}
		u.pcm = append(u.pcm, chunk...)
		u.silence += d
		if u.silence >= s.p.silence {
			s.finalize(ctx, u)
		}
		return
	}

	if !u.speech {
		u.speech = true
		u.start = start
	}
	u.pcm = append(u.pcm, chunk...)
	u.silence = 0
	u.sinceInter += d

	switch {
	case s.duration(u.pcm) >= s.p.maxUtterance:
		s.finalize(ctx, u)
	case s.p.interim > 0 && u.sinceInter >= s.p.interim:
		u.sinceInter = 0
		if text := s.transcribe(ctx, u.pcm); text != "" {
			emit(s.partials, stt.Transcript{Text: text, Timestamp: u.start})
		}
	}
}

// finalize transcribes u as a final and resets it.
func (s *session) finalize(ctx context.Context, u *utterance) {
	defer u.reset()
	if !u.speech || len(u.pcm) == 0 {
		return
	}
	if text := s.transcribe(ctx, u.pcm); text != "" {
		emit(s.finals, stt.Transcript{Text: text, IsFinal: true, Timestamp: u.start})
	}
}

// emit never blocks so that shutdown cannot stall on a slow reader.
func emit(ch chan stt.Transcript, t stt.Transcript) {
	select {
	case ch <- t:
	default:
		slog.Warn("whisper: transcript dropped, consumer is behind", "final", t.IsFinal)
	}
}

func (s *session) transcribe(ctx context.Context, pcm []byte) string {
	text, err := s.infer(ctx, pcm)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("whisper: inference failed", "err", err)
		}
		return ""
	}
	return strings.TrimSpace(text)
}

func (s *session) silent(chunk []byte) bool {
	lv := audio.Levels(audio.Frame{Data: chunk, SampleRate: s.format.SampleRate, Channels: s.format.Channels}, 1)
	return len(lv) == 0 || lv[0] < s.p.silenceLevel
}

func (s *session) duration(pcm []byte) time.Duration {
	bytesPerSec := s.format.SampleRate * s.format.Channels * bitsPerSample / 8
	if bytesPerSec <= 0 {
		return 0
	}
	return time.Duration(len(pcm)) * time.Second / time.Duration(bytesPerSec)
}

// infer uploads pcm as a WAV file and returns the recognised text.
func (s *session) infer(ctx context.Context, pcm []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(EncodeWAV(pcm, s.format)); err != nil {
		return "", fmt.Errorf("whisper: write wav: %w", err)
	}
	fields := [][2]string{
		{"response_format", "json"},
		{"language", s.language},
		{"model", s.p.model},
		{"prompt", s.prompt},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return "", fmt.Errorf("whisper: write field %s: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: inference request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("whisper: server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("whisper: decode response: %w", err)
	}
	return result.Text, nil
}

// EncodeWAV wraps 16-bit little-endian PCM in a RIFF/WAVE container.
func EncodeWAV(pcm []byte, f audio.Format) []byte {
	byteRate := f.SampleRate * f.Channels * bitsPerSample / 8
	blockAlign := f.Channels * bitsPerSample / 8

	buf := make([]byte, 44+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}
