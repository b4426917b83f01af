package agent

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestBuffer_AppendBelowCeiling(t *testing.T) {
	b := NewBuffer(32)
	b.Append("hello ")
	b.Append("world")
	if got := b.String(); got != "hello world" {
		t.Errorf("String() = %q", got)
	}
	if b.Truncated() {
		t.Error("Truncated() = true below the ceiling")
	}
}

func TestBuffer_ClipsAtCeilingKeepingOldest(t *testing.T) {
	b := NewBuffer(10)
	b.Append("12345")
	b.Append("6789AB") // crosses the ceiling mid-delta
	b.Append("never")  // past the ceiling, dropped entirely

	if got := b.String(); got != "123456789A" {
		t.Errorf("String() = %q, want the oldest 10 bytes", got)
	}
	if !b.Truncated() {
		t.Error("Truncated() = false after the ceiling was hit")
	}
	if b.Len() != 10 {
		t.Errorf("Len() = %d, want 10", b.Len())
	}
}

func TestBuffer_ClipNeverSplitsRune(t *testing.T) {
	// Ceiling 8 lands mid-"é" (2 bytes each, starting at offset 7): the
	// clip must back up to the rune start.
	b := NewBuffer(8)
	b.Append("partial")
	b.Append("ééé")

	got := b.String()
	if !utf8.ValidString(got) {
		t.Fatalf("buffered partial is invalid UTF-8: %q", got)
	}
	if got != "partial" {
		t.Errorf("String() = %q, want %q", got, "partial")
	}
	if !b.Truncated() {
		t.Error("Truncated() = false after the ceiling was hit")
	}
}

func TestBuffer_ExactFit(t *testing.T) {
	b := NewBuffer(5)
	b.Append("12345")
	if b.Truncated() {
		t.Error("exact fit marked truncated")
	}
	b.Append("6")
	if !b.Truncated() || b.String() != "12345" {
		t.Errorf("after overflow: truncated=%v content=%q", b.Truncated(), b.String())
	}
}

func TestBuffer_EmptyAppendsIgnored(t *testing.T) {
	b := NewBuffer(4)
	for i := 0; i < 100; i++ {
		b.Append("")
	}
	if b.Len() != 0 || b.Truncated() {
		t.Errorf("empty appends changed state: len=%d truncated=%v", b.Len(), b.Truncated())
	}
}

func TestBuffer_LargeStream(t *testing.T) {
	b := NewBuffer(64)
	for i := 0; i < 1000; i++ {
		b.Append("chunk ")
	}
	if b.Len() != 64 {
		t.Errorf("Len() = %d, want the 64-byte ceiling", b.Len())
	}
	if !strings.HasPrefix(b.String(), "chunk chunk ") {
		t.Errorf("oldest content lost: %q", b.String())
	}
}
