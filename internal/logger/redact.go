package logger

import (
	"bytes"
	"io"
	"regexp"
)

// RedactWriter wraps an io.Writer and masks sensitive values before writing.
// It redacts redis passwords, webhook signing secrets, and signature headers
// from log lines.
type RedactWriter struct {
	w          io.Writer
	patterns   []*regexp.Regexp
	redactWith string
}

var defaultPatterns = []*regexp.Regexp{
	// Password in key=value or "key":"value" form
	regexp.MustCompile(`(?i)(redis_password["'\s:=]+)\S+`),
	regexp.MustCompile(`(?i)(password["'\s:=]+)\S+`),
	// Webhook signing secrets
	regexp.MustCompile(`(?i)(webhook[_-]?secret["'\s:=]+)\S+`),
	regexp.MustCompile(`(?i)(secret["'\s:=]+)\S+`),
	// Computed signatures leak secret-derived material
	regexp.MustCompile(`(?i)(X-Webhook-Signature["'\s:=]+)\S+`),
	regexp.MustCompile(`(sha256=)[0-9a-fA-F]{16,}`),
	// Bearer tokens in Authorization headers
	regexp.MustCompile(`(?i)(Bearer\s+)[A-Za-z0-9\-_\.]+`),
}

// NewRedactWriter returns a RedactWriter that applies all default sensitive patterns.
func NewRedactWriter(w io.Writer) *RedactWriter {
	return &RedactWriter{
		w:          w,
		patterns:   defaultPatterns,
		redactWith: "[REDACTED]",
	}
}

// Write applies all redaction patterns before forwarding to the underlying writer.
func (r *RedactWriter) Write(p []byte) (int, error) {
	sanitized := p
	for _, re := range r.patterns {
		sanitized = re.ReplaceAll(sanitized, appendRedacted(re, r.redactWith))
	}
	n, err := r.w.Write(sanitized)
	// Return original length so callers don't get short-write errors
	// even if redaction changed the byte count.
	if n > len(sanitized) {
		n = len(sanitized)
	}
	if err != nil {
		return n, err
	}
	return len(p), nil
}

// appendRedacted builds a replacement []byte that keeps capture group $1 + redactWith.
func appendRedacted(re *regexp.Regexp, redact string) []byte {
	// All our patterns have exactly one capture group for the key/prefix.
	var buf bytes.Buffer
	buf.WriteString("${1}")
	buf.WriteString(redact)
	return buf.Bytes()
}
