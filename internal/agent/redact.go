package agent

import (
	"regexp"
	"strings"
)

const redactedMark = "[redacted]"

// secretShapedPatterns match substrings that look like credentials regardless
// of whether we know their value: provider key prefixes, bearer headers, and
// long high-entropy runs.
var secretShapedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{8,}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/-]{8,}=*`),
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password)["']?\s*[:=]\s*["']?[^\s"']{6,}`),
	regexp.MustCompile(`\b[A-Fa-f0-9]{40,}\b`),
	regexp.MustCompile(`\b[A-Za-z0-9+/]{48,}={0,2}\b`),
}

// Redactor strips known secret values and secret-shaped substrings from text
// bound for logs. Every error message the turn pipeline logs goes through
// this before it reaches any sink.
type Redactor struct {
	known []string
}

// NewRedactor builds a redactor over the explicitly known secrets (API keys,
// master secret, decrypted credentials). Empty values are ignored.
func NewRedactor(known ...string) *Redactor {
	r := &Redactor{}
	for _, k := range known {
		if k != "" {
			r.known = append(r.known, k)
		}
	}
	return r
}

// AddKnown registers more secret values discovered after construction, such
// as per-turn decrypted tool-server credentials.
func (r *Redactor) AddKnown(values ...string) {
	for _, v := range values {
		if v != "" {
			r.known = append(r.known, v)
		}
	}
}

// Redact returns s with known secrets and secret-shaped substrings replaced.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}
	for _, k := range r.known {
		s = strings.ReplaceAll(s, k, redactedMark)
	}
	for _, p := range secretShapedPatterns {
		s = p.ReplaceAllString(s, redactedMark)
	}
	return s
}

// RedactError is a convenience for logging error values.
func (r *Redactor) RedactError(err error) string {
	if err == nil {
		return ""
	}
	return r.Redact(err.Error())
}
