package transcript

import "strings"

// Buffer holds the confirmed transcript of a recording session plus the
// interim hypothesis the recognizer is currently revising.
//
// Confirmed text only ever grows until [Buffer.Reset]. Buffer is not safe for
// concurrent use; the owning session serializes access.
type Buffer struct {
	confirmed strings.Builder
	interim   string
}

// AppendFinal appends a final fragment to the confirmed text and clears the
// interim suffix. Empty fragments are ignored.
func (b *Buffer) AppendFinal(fragment string) {
	fragment = strings.TrimSpace(fragment)
	b.interim = ""
	if fragment == "" {
		return
	}
	if b.confirmed.Len() > 0 {
		b.confirmed.WriteByte(' ')
	}
	b.confirmed.WriteString(fragment)
}

// SetInterim replaces the interim suffix.
func (b *Buffer) SetInterim(fragment string) {
	b.interim = strings.TrimSpace(fragment)
}

// Confirmed returns the confirmed text only.
func (b *Buffer) Confirmed() string {
	return b.confirmed.String()
}

// Interim returns the current interim suffix.
func (b *Buffer) Interim() string {
	return b.interim
}

// Text returns the confirmed text followed by the interim suffix.
func (b *Buffer) Text() string {
	c := b.confirmed.String()
	switch {
	case b.interim == "":
		return c
	case c == "":
		return b.interim
	default:
		return c + " " + b.interim
	}
}

// Reset clears the buffer for a new recording session.
func (b *Buffer) Reset() {
	b.confirmed.Reset()
	b.interim = ""
}
