// Package redact strips sensitive values from log output and container
// output before it leaves the process boundary.
//
// The hub access token is forwarded into every space container, and space
// applications are free to print their environment. Every line that my-spaces
// writes, whether its own log line or a forwarded container line, goes
// through a Redactor holding the token.
//
// Redaction is best-effort: it operates on string representations and relies
// on callers to pass the right set of sensitive terms.
package redact

import (
	"strings"
)

const placeholder = "[REDACTED]"

// minLength is the shortest value that will be redacted. Shorter values are
// skipped to avoid spurious redaction of common substrings.
const minLength = 4

// String replaces every occurrence of each sensitive value in s with
// [REDACTED].
//
// Example:
//
//	safe := redact.String(logLine, hubToken)
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < minLength {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Redactor redacts a fixed set of values. The zero value redacts nothing.
type Redactor struct {
	replacer *strings.Replacer
}

// NewRedactor builds a Redactor for the given values. Values shorter than
// four characters are ignored.
func NewRedactor(sensitiveValues ...string) *Redactor {
	var pairs []string
	for _, v := range sensitiveValues {
		if len(v) < minLength {
			continue
		}
		pairs = append(pairs, v, placeholder)
	}
	if len(pairs) == 0 {
		return &Redactor{}
	}
	return &Redactor{replacer: strings.NewReplacer(pairs...)}
}

// String returns s with all configured values replaced.
func (r *Redactor) String(s string) string {
	if r == nil || r.replacer == nil {
		return s
	}
	return r.replacer.Replace(s)
}
