package server

import (
	"github.com/MrWong99/flowspeak/internal/session"
	"github.com/MrWong99/flowspeak/internal/stutter"
)

// Client message types.
const (
	msgFragment       = "fragment"
	msgStartRecording = "start_recording"
	msgStopRecording  = "stop_recording"
	msgStartAuto      = "start_auto"
	msgStopAuto       = "stop_auto"
	msgRate           = "rate"
	msgSelect         = "select"
)

// Server message types.
const (
	msgHello       = "hello"
	msgUpdate      = "update"
	msgSuggestions = "suggestions"
	msgLevels      = "levels"
	msgError       = "error"
)

// clientMessage is any JSON text message a reader's browser sends. Fields
// not used by a type are ignored.
type clientMessage struct {
	Type string `json:"type"`

	// fragment
	Text  string `json:"text"`
	Final bool   `json:"final"`

	// rate: Delta adjusts, RateCPM sets. Delta wins when both are present.
	Delta   int `json:"delta"`
	RateCPM int `json:"rate_cpm"`

	// select: Passage names a configured passage; Text supplies a custom one.
	Passage string `json:"passage"`
}

type helloMessage struct {
	Type           string   `json:"type"`
	SessionID      string   `json:"session_id"`
	Passages       []string `json:"passages"`
	DefaultPassage string   `json:"default_passage"`
	RateStep       int      `json:"rate_step_cpm"`
}

type updateMessage struct {
	Type           string  `json:"type"`
	Mode           string  `json:"mode"`
	Cursor         int     `json:"cursor"`
	Length         int     `json:"length"`
	Spoken         string  `json:"spoken"`
	Unspoken       string  `json:"unspoken"`
	ScrollFraction float64 `json:"scroll_fraction"`
	RateCPM        int     `json:"rate_cpm"`
	ElapsedSeconds int     `json:"elapsed_seconds"`
	Transcript     string  `json:"transcript"`
}

func newUpdate(snap session.Snapshot) updateMessage {
	return updateMessage{
		Type:           msgUpdate,
		Mode:           snap.Mode,
		Cursor:         snap.View.Cursor,
		Length:         snap.View.Length,
		Spoken:         snap.View.Spoken,
		Unspoken:       snap.View.Unspoken,
		ScrollFraction: snap.View.ScrollFraction,
		RateCPM:        snap.Rate,
		ElapsedSeconds: int(snap.Elapsed.Seconds()),
		Transcript:     snap.Transcript,
	}
}

type suggestionsMessage struct {
	Type      string              `json:"type"`
	Words     []string            `json:"words"`
	FollowOns map[string][]string `json:"follow_ons,omitempty"`
}

func newSuggestions(sg *stutter.Suggestions) suggestionsMessage {
	return suggestionsMessage{Type: msgSuggestions, Words: sg.Words, FollowOns: sg.FollowOns}
}

type levelsMessage struct {
	Type   string    `json:"type"`
	Levels []float64 `json:"levels"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newError(err error) errorMessage {
	return errorMessage{Type: msgError, Message: err.Error()}
}
