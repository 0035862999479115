package session

import "time"

// Mode identifies which driver currently moves the cursor.
type Mode int

const (
	// Idle means no driver is active; the cursor is frozen.
	Idle Mode = iota

	// SpeechDriven means recognized speech moves the cursor.
	SpeechDriven

	// TimerDriven means the auto-highlight timer moves the cursor.
	TimerDriven
)

// String returns the lower-case name used in logs, metrics and the wire
// protocol.
func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case SpeechDriven:
		return "speech"
	case TimerDriven:
		return "timer"
	default:
		return "unknown"
	}
}

// Auto-highlight rate bounds in characters per minute.
const (
	MinRate         = 50
	MaxRate         = 500
	DefaultRate     = 150
	DefaultRateStep = 25
)

// ClampRate limits cpm to [MinRate, MaxRate].
func ClampRate(cpm int) int {
	return min(max(cpm, MinRate), MaxRate)
}

// Period returns the auto-highlight tick interval for cpm after clamping.
func Period(cpm int) time.Duration {
	return time.Minute / time.Duration(ClampRate(cpm))
}

// Ticker delivers auto-highlight ticks. It mirrors the parts of
// [time.Ticker] the session uses so tests can drive ticks by hand.
type Ticker interface {
	C() <-chan time.Time
	Reset(d time.Duration)
	Stop()
}

// TickerFunc creates a running [Ticker] with period d.
type TickerFunc func(d time.Duration) Ticker

// NewTimeTicker is the default [TickerFunc], backed by [time.Ticker].
func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{time.NewTicker(d)}
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time   { return t.t.C }
func (t timeTicker) Reset(d time.Duration) { t.t.Reset(d) }
func (t timeTicker) Stop()                 { t.t.Stop() }
