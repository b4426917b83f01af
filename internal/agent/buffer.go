package agent

import "strings"

// Buffer accumulates streamed text deltas up to a byte ceiling. Once full it
// stops appending, preserving the oldest content so an aborted turn still
// recovers the beginning of the answer.
type Buffer struct {
	limit     int
	b         strings.Builder
	truncated bool
}

func NewBuffer(limit int) *Buffer {
	return &Buffer{limit: limit}
}

// Append adds s, clipping at the ceiling.
func (b *Buffer) Append(s string) {
	if b.truncated || s == "" {
		return
	}
	remaining := b.limit - b.b.Len()
	if remaining <= 0 {
		b.truncated = true
		return
	}
	if len(s) > remaining {
		// Back the cut up to a rune start so the clip never splits a
		// UTF-8 sequence.
		cut := remaining
		for cut > 0 && !isRuneStart(s[cut]) {
			cut--
		}
		b.b.WriteString(s[:cut])
		b.truncated = true
		return
	}
	b.b.WriteString(s)
}

// String returns everything accumulated so far.
func (b *Buffer) String() string { return b.b.String() }

// Len returns the accumulated byte count.
func (b *Buffer) Len() int { return b.b.Len() }

// Truncated reports whether the ceiling was hit.
func (b *Buffer) Truncated() bool { return b.truncated }
