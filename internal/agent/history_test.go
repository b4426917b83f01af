package agent

import (
	"fmt"
	"testing"

	"github.com/parleyhq/parley/internal/providers"
)

func numberedHistory(system bool, n int) []providers.Message {
	var msgs []providers.Message
	if system {
		msgs = append(msgs, providers.Message{Role: "system", Content: "preface"})
	}
	for i := 0; i < n; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		msgs = append(msgs, providers.Message{Role: role, Content: fmt.Sprintf("m%d", i)})
	}
	return msgs
}

func TestPruneHistory(t *testing.T) {
	tests := []struct {
		name      string
		system    bool
		count     int
		keep      int
		wantLen   int
		wantFirst string
		wantLast  string
	}{
		{"under cap untouched", false, 5, 10, 5, "m0", "m4"},
		{"over cap keeps newest", false, 30, 10, 10, "m20", "m29"},
		{"system preface survives pruning", true, 30, 10, 11, "preface", "m29"},
		{"system not double counted", true, 10, 10, 11, "preface", "m9"},
		{"exact cap", false, 10, 10, 10, "m0", "m9"},
		{"zero keep passes through", false, 7, 0, 7, "m0", "m6"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pruneHistory(numberedHistory(tt.system, tt.count), tt.keep)
			if len(got) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(got), tt.wantLen)
			}
			if got[0].Content != tt.wantFirst {
				t.Errorf("first = %q, want %q", got[0].Content, tt.wantFirst)
			}
			if got[len(got)-1].Content != tt.wantLast {
				t.Errorf("last = %q, want %q", got[len(got)-1].Content, tt.wantLast)
			}
		})
	}
}

func TestPruneHistory_Empty(t *testing.T) {
	if got := pruneHistory(nil, 5); len(got) != 0 {
		t.Errorf("pruned nil history to %d messages", len(got))
	}
}

func TestTruncateForStorage(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{"under limit", "hello", 10, "hello"},
		{"exact limit", "hello", 5, "hello"},
		{"ascii clip", "hello world", 5, "hello"},
		{"zero limit passes through", "hello", 0, "hello"},
		{"multibyte boundary respected", "héllo", 2, "h"}, // é is 2 bytes starting at index 1
		{"multibyte whole rune kept", "héllo", 3, "hé"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncateForStorage(tt.in, tt.limit); got != tt.want {
				t.Errorf("truncateForStorage(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
			}
		})
	}
}
