// Package logging provides zerolog helpers that keep provider keys and
// transport credentials out of log output.
package logging

import (
	"io"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// RedactedValue is the replacement string for sensitive data.
const RedactedValue = "[REDACTED]"

// sensitivePatterns match credential formats storyloom handles: provider API
// keys, bearer tokens and NATS credentials.
var sensitivePatterns = []*regexp.Regexp{ //nolint:gochecknoglobals // compiled once
	// OpenAI and OpenAI-compatible keys (sk-..., sk-proj-...)
	regexp.MustCompile(`sk-(?:proj-)?[a-zA-Z0-9_-]{20,}`),

	// Bearer tokens
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._~+/-]{20,}=*`),

	// Authorization headers
	regexp.MustCompile(`(?i)authorization\s*[:=]\s*["']?[a-zA-Z0-9._-]{20,}["']?`),

	// key=value style API keys
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*["']?([a-zA-Z0-9_-]{16,})["']?`),

	// NATS nkey seeds (SU..., SA..., SO...)
	regexp.MustCompile(`\bS[UAO][A-Z2-7]{54,}\b`),

	// NATS user JWTs inside .creds files
	regexp.MustCompile(`-----BEGIN NATS USER JWT-----[\s\S]*?------END NATS USER JWT------`),
	regexp.MustCompile(`-----BEGIN USER NKEY SEED-----[\s\S]*?------END USER NKEY SEED------`),

	// secret=..., password=..., token=...
	regexp.MustCompile(`(?i)(secret|password|passwd|credential|token)\s*[:=]\s*["']?[^\s"']{8,}["']?`),
}

// urlCredentials matches user:password@ in nats://, redis:// and similar URLs.
var urlCredentials = regexp.MustCompile(`(?i)([a-z][a-z0-9+.-]*://)[^\s:/@]*:[^\s@/]+@`) //nolint:gochecknoglobals // compiled once

// sensitiveFieldNames are field names whose values are always redacted.
var sensitiveFieldNames = []string{ //nolint:gochecknoglobals // shared lookup table
	"api_key",
	"apikey",
	"api-key",
	"openai_api_key",
	"authorization",
	"bearer",
	"password",
	"passwd",
	"secret",
	"credential",
	"credentials",
	"creds",
	"nkey_seed",
	"user_jwt",
	"auth_token",
	"access_token",
}

// SensitiveDataHook flags log events whose message carries sensitive data.
// Zerolog hooks cannot rewrite the message, so the actual redaction happens
// in FilteringWriter on the way to disk; the hook marks the event so the
// leak can be traced to its call site.
type SensitiveDataHook struct{}

// NewSensitiveDataHook creates a SensitiveDataHook.
func NewSensitiveDataHook() *SensitiveDataHook {
	return &SensitiveDataHook{}
}

// Run implements zerolog.Hook.
func (h *SensitiveDataHook) Run(e *zerolog.Event, _ zerolog.Level, msg string) {
	if ContainsSensitiveData(msg) {
		e.Bool("contains_filtered_data", true)
	}
}

// ContainsSensitiveData reports whether s matches any sensitive pattern.
func ContainsSensitiveData(s string) bool {
	if urlCredentials.MatchString(s) {
		return true
	}
	for _, pattern := range sensitivePatterns {
		if pattern.MatchString(s) {
			return true
		}
	}
	return false
}

// FilterSensitiveValue replaces every sensitive match in value with
// [REDACTED]. URL credentials keep their scheme so the target stays readable.
func FilterSensitiveValue(value string) string {
	result := urlCredentials.ReplaceAllString(value, "${1}"+RedactedValue+"@")
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllString(result, RedactedValue)
	}
	return result
}

// IsSensitiveFieldName reports whether a field name indicates sensitive data.
func IsSensitiveFieldName(fieldName string) bool {
	lowerName := strings.ToLower(fieldName)
	for _, sensitive := range sensitiveFieldNames {
		if strings.Contains(lowerName, sensitive) {
			return true
		}
	}
	return false
}

// SafeValue returns [REDACTED] for sensitive field names and the filtered
// value otherwise.
//
//	logger.Info().Str("url", logging.SafeValue("url", natsURL)).Msg("connecting")
func SafeValue(fieldName, value string) string {
	if IsSensitiveFieldName(fieldName) {
		return RedactedValue
	}
	return FilterSensitiveValue(value)
}

// FilteringWriter wraps an io.Writer and redacts sensitive data from
// everything written through it.
type FilteringWriter struct {
	w io.Writer
}

// NewFilteringWriter wraps w.
func NewFilteringWriter(w io.Writer) *FilteringWriter {
	return &FilteringWriter{w: w}
}

// Write implements io.Writer. It reports the original length so callers do
// not see a short write when redaction changes the size.
func (fw *FilteringWriter) Write(p []byte) (int, error) {
	if _, err := fw.w.Write([]byte(FilterSensitiveValue(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
