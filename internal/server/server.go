// Package server exposes reading sessions to browsers over HTTP.
//
// Each websocket connection on /ws owns one alignment session. Text messages
// carry JSON commands and recognized fragments; binary messages carry PCM
// microphone audio for the server-side recognizer. The server pushes state
// updates, next-word suggestions, audio levels and errors back as JSON.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/rs/xid"

	"github.com/MrWong99/flowspeak/internal/observe"
	"github.com/MrWong99/flowspeak/internal/session"
	"github.com/MrWong99/flowspeak/internal/stutter"
	"github.com/MrWong99/flowspeak/pkg/audio"
)

// Defaults applied by [New].
const (
	DefaultSampleRate = 48000
	DefaultLevelBands = 16
	DefaultSendBuffer = 64
	DefaultReadLimit  = 1 << 20
)

// ErrUnknownMessage is reported to the client for a message type the server
// does not understand.
var ErrUnknownMessage = errors.New("server: unknown message type")

// Sessions opens reading sessions and resolves passage names.
// It is satisfied by app.SessionManager.
type Sessions interface {
	// Open starts a session over the default passage with extra options.
	Open(extra ...session.Option) (*session.Session, error)

	// Passage returns the text of a configured passage.
	Passage(name string) (string, error)

	// Passages lists the configured passage names and the default one.
	Passages() (names []string, def string)
}

// Option is a functional option for [New].
type Option func(*Handler)

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithOriginPatterns lists the host patterns allowed to open a websocket from
// another origin. Same-origin requests are always accepted.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) { h.origins = patterns }
}

// WithLevelBands sets how many amplitude bands are reported per audio frame.
// Zero disables level messages. Default: [DefaultLevelBands].
func WithLevelBands(n int) Option {
	return func(h *Handler) { h.bands = max(n, 0) }
}

// WithSendBuffer sets how many outbound messages may queue per connection
// before further ones are dropped. Default: [DefaultSendBuffer].
func WithSendBuffer(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// Handler serves the reader-facing HTTP surface.
type Handler struct {
	sessions   Sessions
	metrics    *observe.Metrics
	origins    []string
	bands      int
	sendBuffer int
}

// New creates a [Handler] that opens sessions through sessions.
func New(sessions Sessions, opts ...Option) *Handler {
	h := &Handler{
		sessions:   sessions,
		bands:      DefaultLevelBands,
		sendBuffer: DefaultSendBuffer,
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// Register adds the /ws and /api/passages routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", h.ServeWS)
	mux.HandleFunc("GET /api/passages", h.Passages)
}

// Passages lists the configured passages.
func (h *Handler) Passages(w http.ResponseWriter, _ *http.Request) {
	names, def := h.sessions.Passages()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(struct {
		Passages []string `json:"passages"`
		Default  string   `json:"default"`
	}{names, def}); err != nil {
		slog.Warn("failed to write passages", "err", err)
	}
}

// ServeWS upgrades the request to a websocket and runs one reading session
// until either side closes. The optional sample_rate and channels query
// parameters describe the binary audio the client will send.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	format, err := parseFormat(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Warn("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer ws.CloseNow()
	ws.SetReadLimit(DefaultReadLimit)

	// The logger is fixed before the session exists; its callbacks may run
	// as soon as Open returns.
	id := xid.New().String()
	c := newConn(h, ws, format, observe.SessionLogger(r.Context(), id))
	sess, err := h.sessions.Open(
		session.WithID(id),
		session.WithLogger(c.log),
		session.WithMicrophone(c.pipe),
		session.WithOnUpdate(func(s session.Snapshot) { c.send(newUpdate(s)) }),
		session.WithOnSuggestions(func(sg *stutter.Suggestions) { c.send(newSuggestions(sg)) }),
		session.WithOnError(func(err error) { c.send(newError(err)) }),
	)
	if err != nil {
		slog.Error("failed to open session", "err", err)
		ws.Close(websocket.StatusInternalError, "session unavailable")
		return
	}
	defer sess.Close()
	c.attach(sess)

	c.log.Info("reader connected", "remote", r.RemoteAddr, "sample_rate", format.SampleRate, "channels", format.Channels)
	err = c.run(r.Context())
	switch {
	case errors.Is(err, errSessionClosed):
		ws.Close(websocket.StatusGoingAway, "session closed")
	case websocket.CloseStatus(err) == websocket.StatusNormalClosure,
		websocket.CloseStatus(err) == websocket.StatusGoingAway:
		ws.Close(websocket.StatusNormalClosure, "")
	default:
		c.log.Warn("connection ended", "err", err)
	}
	c.log.Info("reader disconnected", "cursor", sess.Snapshot().Cursor)
}

// parseFormat reads the audio format from the query string.
func parseFormat(r *http.Request) (audio.Format, error) {
	f := audio.Format{SampleRate: DefaultSampleRate, Channels: 1}
	q := r.URL.Query()
	if v := q.Get("sample_rate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, fmt.Errorf("server: invalid sample_rate %q", v)
		}
		f.SampleRate = n
	}
	if v := q.Get("channels"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || (n != 1 && n != 2) {
			return f, fmt.Errorf("server: invalid channels %q: must be 1 or 2", v)
		}
		f.Channels = n
	}
	return f, nil
}
