package agent

import "github.com/parleyhq/parley/internal/providers"

// pruneHistory keeps the system preface (when the history opens with one)
// plus the most recent keep messages. Used with two different caps: a looser
// one when the turn's context is first assembled, and a tighter one before
// each reasoning step so tool-call loops cannot grow the context unboundedly.
func pruneHistory(msgs []providers.Message, keep int) []providers.Message {
	if keep <= 0 || len(msgs) == 0 {
		return msgs
	}

	var system *providers.Message
	rest := msgs
	if msgs[0].Role == "system" {
		system = &msgs[0]
		rest = msgs[1:]
	}

	if len(rest) > keep {
		rest = rest[len(rest)-keep:]
	}

	if system == nil {
		return rest
	}
	out := make([]providers.Message, 0, len(rest)+1)
	out = append(out, *system)
	out = append(out, rest...)
	return out
}

// truncateForStorage clips content to the persistence ceiling on a rune
// boundary so stored messages never split a UTF-8 sequence.
func truncateForStorage(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
