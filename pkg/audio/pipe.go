package audio

import (
	"context"
	"sync"
)

// defaultPipeBuffer is the frame buffer of a stream opened on a [Pipe].
const defaultPipeBuffer = 64

// Pipe is a [Source] fed by [Pipe.Push]. It adapts audio that arrives from
// elsewhere, such as PCM frames a browser sends over a websocket, to the
// [Source] interface. At most one stream is open at a time; frames pushed
// while no stream is open are discarded.
type Pipe struct {
	buffer int

	mu      sync.Mutex
	current *pipeStream
	dropped int
}

var _ Source = (*Pipe)(nil)

// NewPipe returns a [Pipe] whose streams buffer up to buffer frames.
// Non-positive values use a default.
func NewPipe(buffer int) *Pipe {
	if buffer <= 0 {
		buffer = defaultPipeBuffer
	}
	return &Pipe{buffer: buffer}
}

// Open starts a new stream. It returns [ErrBusy] if a stream is already open.
func (p *Pipe) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		return nil, ErrBusy
	}
	s := &pipeStream{pipe: p, frames: make(chan Frame, p.buffer)}
	p.current = s
	return s, nil
}

// Push delivers frame to the open stream. It never blocks: when no stream is
// open or the stream's buffer is full the frame is dropped and Push returns
// false.
func (p *Pipe) Push(frame Frame) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return false
	}
	select {
	case p.current.frames <- frame:
		return true
	default:
		p.dropped++
		return false
	}
}

// Active reports whether a stream is currently open.
func (p *Pipe) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil
}

// Dropped returns the number of frames discarded because a stream's buffer
// was full.
func (p *Pipe) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

type pipeStream struct {
	pipe   *Pipe
	frames chan Frame
	once   sync.Once
}

func (s *pipeStream) Frames() <-chan Frame { return s.frames }

func (s *pipeStream) Close() error {
	s.once.Do(func() {
		s.pipe.mu.Lock()
		defer s.pipe.mu.Unlock()
		if s.pipe.current == s {
			s.pipe.current = nil
		}
		close(s.frames)
	})
	return nil
}
