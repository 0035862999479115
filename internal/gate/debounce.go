// Package gate provides the cancel-and-reschedule debounce used to throttle
// interim recognizer fragments.
//
// Interim hypotheses can arrive far faster than matching them is useful. A
// [Gate] keeps at most one pending call: every [Gate.Submit] cancels the
// previous one and schedules the new function after a short fixed delay.
// Only the most recent submission within a quiet period ever runs.
package gate

import (
	"sync"
	"time"
)

// DefaultDelay is the debounce delay used when none is configured.
const DefaultDelay = 50 * time.Millisecond

// Gate is a single-slot debouncer. The zero value is not usable; create
// instances with [New]. All methods are safe for concurrent use.
type Gate struct {
	delay time.Duration

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

// New creates a [Gate] with the given delay. Non-positive delays fall back to
// [DefaultDelay].
func New(delay time.Duration) *Gate {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Gate{delay: delay}
}

// Delay returns the configured debounce delay.
func (g *Gate) Delay() time.Duration { return g.delay }

// Submit cancels any pending call and schedules fn to run after the delay on
// its own goroutine.
func (g *Gate) Submit(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.timer != nil {
		g.timer.Stop()
	}
	g.gen++
	gen := g.gen
	g.timer = time.AfterFunc(g.delay, func() {
		g.mu.Lock()
		// A timer that fired concurrently with Submit or Cancel is stale.
		if gen != g.gen || g.timer == nil {
			g.mu.Unlock()
			return
		}
		g.timer = nil
		g.mu.Unlock()
		fn()
	})
}

// Cancel drops the pending call, if any. It reports whether a call was
// pending.
func (g *Gate) Cancel() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.timer == nil {
		return false
	}
	g.timer.Stop()
	g.timer = nil
	g.gen++
	return true
}

// Pending reports whether a call is scheduled and has not started.
func (g *Gate) Pending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.timer != nil
}
