package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

// Redactor masks credentials before log lines reach a sink
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor creates a redactor covering provider keys and bearer tokens.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			// anthropic before openai, the openai pattern would eat the prefix
			regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`),
			regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),
			regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`),
			regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`),
			regexp.MustCompile(`(?i)(api[_-]?key|x-api-key)["\s:=]+[^\s",]+`),
		},
	}
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact masks every match in s
func (r *Redactor) Redact(s string) string {
	for _, p := range r.patterns {
		s = p.ReplaceAllString(s, redacted)
	}
	return s
}

// Wrap returns a writer that redacts before forwarding to w
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{next: w, redactor: r}
}

type redactingWriter struct {
	next     io.Writer
	redactor *Redactor
}

// Write reports len(p) on success so zerolog does not treat shortened
// output as a short write.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.next.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
