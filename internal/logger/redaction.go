package logger

import (
	"io"
	"regexp"
)

// redactionRule pairs a pattern with its replacement template. Rules that
// need to keep surrounding structure (JSON keys, cookie names) use capture
// groups in the template.
type redactionRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Redactor redacts captured credentials and API secrets from log output.
// It runs at the writer level so nothing above it can leak a raw value.
type Redactor struct {
	rules []redactionRule
}

// NewRedactor creates a new redactor with default patterns
func NewRedactor() *Redactor {
	return &Redactor{
		rules: []redactionRule{
			// li_at session cookie, JSON form
			{regexp.MustCompile(`("li_at"\s*:\s*")[^"]+(")`), `${1}[REDACTED]${2}`},

			// li_at session cookie, header / key=value form
			{regexp.MustCompile(`(li_at=)[^;\s"&]+`), `${1}[REDACTED]`},

			// Cookie values in logged JSON
			{regexp.MustCompile(`("value"\s*:\s*")[^"]+(")`), `${1}[REDACTED]${2}`},

			// Browserbase API keys
			{regexp.MustCompile(`bb_[a-zA-Z0-9_-]{16,}`), `[REDACTED]`},
			{regexp.MustCompile(`(?i)(x-bb-api-key["\s:=]+)[^\s",}]+`), `${1}[REDACTED]`},

			// Bearer tokens
			{regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`), `Bearer [REDACTED]`},

			// Passwords
			{regexp.MustCompile(`password["\s:=]+[^\s"]+`), `[REDACTED]`},
			{regexp.MustCompile(`pwd["\s:=]+[^\s"]+`), `[REDACTED]`},

			// Auth tokens
			{regexp.MustCompile(`token["\s:=]+[a-zA-Z0-9._-]{20,}`), `[REDACTED]`},

			// Generic secrets
			{regexp.MustCompile(`secret["\s:=]+[^\s"]+`), `[REDACTED]`},
		},
	}
}

// AddPattern adds a custom redaction pattern that replaces the whole match
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, redactionRule{pattern: re, replacement: "[REDACTED]"})
	return nil
}

// Redact redacts sensitive information from a string
func (r *Redactor) Redact(s string) string {
	result := s
	for _, rule := range r.rules {
		result = rule.pattern.ReplaceAllString(result, rule.replacement)
	}
	return result
}

// Wrap wraps an io.Writer to redact sensitive information
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

// redactingWriter is an io.Writer that redacts sensitive information
type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

func (w *redactingWriter) Write(p []byte) (n int, err error) {
	redacted := w.redactor.Redact(string(p))
	return w.writer.Write([]byte(redacted))
}
