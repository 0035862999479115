package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/flowspeak/internal/session"
	"github.com/MrWong99/flowspeak/pkg/audio"
)

// errSessionClosed ends a connection whose session was closed by the server.
var errSessionClosed = errors.New("server: session closed")

// conn is one reader's websocket connection and the session it drives.
//
// State updates bypass the outbound queue: only the latest one is kept and
// the writer sends it before anything queued. A reader that falls behind
// loses intermediate states and level meters but always sees the current
// state.
type conn struct {
	h      *Handler
	ws     *websocket.Conn
	format audio.Format
	pipe   *audio.Pipe
	out    chan any
	log    *slog.Logger

	mu      sync.Mutex
	latest  *updateMessage
	updated chan struct{}

	// Set by attach before run starts.
	sess  *session.Session
	hello helloMessage
}

func newConn(h *Handler, ws *websocket.Conn, format audio.Format, log *slog.Logger) *conn {
	return &conn{
		h:       h,
		ws:      ws,
		format:  format,
		pipe:    audio.NewPipe(0),
		out:     make(chan any, h.sendBuffer),
		log:     log,
		updated: make(chan struct{}, 1),
	}
}

// attach binds the session, prepares the greeting and queues the initial
// state.
func (c *conn) attach(sess *session.Session) {
	c.sess = sess
	names, def := c.h.sessions.Passages()
	c.hello = helloMessage{
		Type:           msgHello,
		SessionID:      sess.ID(),
		Passages:       names,
		DefaultPassage: def,
		RateStep:       sess.RateStep(),
	}
	c.send(newUpdate(sess.Snapshot()))
}

// send queues m for the writer. It never blocks. An update replaces any
// update not yet written; other messages are dropped while the queue is
// full. Session callbacks call it from the session goroutine.
func (c *conn) send(m any) {
	if u, ok := m.(updateMessage); ok {
		c.mu.Lock()
		c.latest = &u
		c.mu.Unlock()
		select {
		case c.updated <- struct{}{}:
		default:
		}
		return
	}
	select {
	case c.out <- m:
	default:
		c.log.Debug("outbound queue full, dropping message", "type", fmt.Sprintf("%T", m))
	}
}

// takeUpdate returns the pending update, if any, and clears it.
func (c *conn) takeUpdate() *updateMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	u := c.latest
	c.latest = nil
	return u
}

// run pumps messages in both directions until the client goes away, the
// session closes or ctx ends.
func (c *conn) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readLoop(ctx) })
	g.Go(func() error { return c.writeLoop(ctx) })
	g.Go(func() error {
		select {
		case <-c.sess.Done():
			return errSessionClosed
		case <-ctx.Done():
			return nil
		}
	})
	return g.Wait()
}

func (c *conn) readLoop(ctx context.Context) error {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return err
		}
		switch typ {
		case websocket.MessageBinary:
			c.handleAudio(ctx, data)
		case websocket.MessageText:
			c.handleText(ctx, data)
		}
	}
}

func (c *conn) writeLoop(ctx context.Context) error {
	if err := c.write(ctx, c.hello); err != nil {
		return err
	}
	for {
		// Pending state goes out before queued messages.
		select {
		case <-c.updated:
			if err := c.writeUpdate(ctx); err != nil {
				return err
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.updated:
			if err := c.writeUpdate(ctx); err != nil {
				return err
			}
		case m := <-c.out:
			if err := c.write(ctx, m); err != nil {
				return err
			}
		}
	}
}

func (c *conn) writeUpdate(ctx context.Context) error {
	u := c.takeUpdate()
	if u == nil {
		return nil
	}
	return c.write(ctx, *u)
}

func (c *conn) write(ctx context.Context, m any) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("server: encode %T: %w", m, err)
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// handleAudio feeds a PCM frame to the recording, if any, and reports its
// levels. Frames received while not recording are discarded by the pipe.
func (c *conn) handleAudio(ctx context.Context, data []byte) {
	frame := audio.Frame{Data: data, SampleRate: c.format.SampleRate, Channels: c.format.Channels}
	if !c.pipe.Push(frame) && c.pipe.Active() {
		c.h.metrics.AudioFramesDropped.Add(ctx, 1)
	}
	if c.h.bands == 0 {
		return
	}
	if lv := audio.Levels(frame, c.h.bands); lv != nil {
		c.send(levelsMessage{Type: msgLevels, Levels: lv})
	}
}

// handleText decodes and applies one command. Failures are reported to the
// client and never end the connection.
func (c *conn) handleText(ctx context.Context, data []byte) {
	var m clientMessage
	if err := json.Unmarshal(data, &m); err != nil {
		c.send(newError(fmt.Errorf("server: decode message: %w", err)))
		return
	}
	if err := c.dispatch(ctx, m); err != nil {
		c.log.Debug("command failed", "type", m.Type, "err", err)
		c.send(newError(err))
	}
}

func (c *conn) dispatch(ctx context.Context, m clientMessage) error {
	switch m.Type {
	case msgFragment:
		return c.sess.Fragment(m.Text, m.Final)
	case msgStartRecording:
		return c.sess.StartRecording(ctx)
	case msgStopRecording:
		return c.sess.StopRecording()
	case msgStartAuto:
		return c.sess.StartAutoHighlight()
	case msgStopAuto:
		return c.sess.StopAutoHighlight()
	case msgRate:
		switch {
		case m.Delta != 0:
			_, err := c.sess.AdjustRate(m.Delta)
			return err
		case m.RateCPM != 0:
			_, err := c.sess.SetRate(m.RateCPM)
			return err
		}
		return errors.New("server: rate requires delta or rate_cpm")
	case msgSelect:
		text := m.Text
		if m.Passage != "" {
			var err error
			if text, err = c.h.sessions.Passage(m.Passage); err != nil {
				return err
			}
		}
		return c.sess.SelectText(text)
	}
	return fmt.Errorf("%w %q", ErrUnknownMessage, m.Type)
}
