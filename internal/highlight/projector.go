// Package highlight projects a read cursor onto the reference passage for
// display: the text already read, the text still to read, and where the
// viewport should scroll to keep the cursor in view.
//
// Everything here is a pure function of the passage and the cursor.
package highlight

import "unicode/utf8"

// View is the display projection of a cursor.
type View struct {
	// Spoken is the passage prefix up to the cursor.
	Spoken string `json:"spoken"`

	// Unspoken is the remainder of the passage.
	Unspoken string `json:"unspoken"`

	// Cursor is the clamped cursor offset.
	Cursor int `json:"cursor"`

	// Length is the passage length in bytes.
	Length int `json:"length"`

	// ScrollFraction is Cursor/Length in [0, 1]; 0 for an empty passage.
	ScrollFraction float64 `json:"scroll_fraction"`
}

// Project splits text at cursor. The cursor is clamped into [0, len(text)]
// and moved back to the start of the rune it falls inside, so the two spans
// are always valid UTF-8.
func Project(text string, cursor int) View {
	cursor = clamp(cursor, 0, len(text))
	for cursor > 0 && cursor < len(text) && !utf8.RuneStart(text[cursor]) {
		cursor--
	}
	v := View{
		Spoken:   text[:cursor],
		Unspoken: text[cursor:],
		Cursor:   cursor,
		Length:   len(text),
	}
	if len(text) > 0 {
		v.ScrollFraction = float64(cursor) / float64(len(text))
	}
	return v
}

// ScrollTop maps the view's scroll fraction onto a scrollable container of
// contentHeight whose visible area is viewportHeight, centring the cursor
// position. The result is never negative.
func (v View) ScrollTop(contentHeight, viewportHeight float64) float64 {
	top := v.ScrollFraction*contentHeight - viewportHeight/2
	if top < 0 {
		return 0
	}
	return top
}

// Complete reports whether the cursor has reached the end of the passage.
func (v View) Complete() bool {
	return v.Length > 0 && v.Cursor >= v.Length
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
