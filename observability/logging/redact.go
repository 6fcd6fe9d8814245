package logging

import (
	"log/slog"
	"net/http"
	"slices"
	"strings"
)

// RedactedValue replaces sensitive values in log records.
const RedactedValue = "[REDACTED]"

// plainKeys may be logged verbatim by MaskField.
var plainKeys = []string{
	"component",
	"env",
	"error",
	"message",
	"method",
	"reason",
	"service",
	"severity",
	"status",
	"timestamp",
}

// IsAllowlisted reports whether key is logged without masking.
func IsAllowlisted(key string) bool {
	return slices.Contains(plainKeys, strings.ToLower(strings.TrimSpace(key)))
}

// MaskValue hides non-empty values. Empty values pass through so a missing
// credential stays distinguishable from a wrong one.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField builds an attribute whose value is masked unless key is allowlisted.
func MaskField(key, value string) slog.Attr {
	if IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, MaskValue(value))
}

// MaskHeaders groups the named request headers that are present, each masked.
func MaskHeaders(h http.Header, names ...string) slog.Attr {
	attrs := make([]any, 0, len(names))
	for _, name := range names {
		if value := h.Get(name); value != "" {
			attrs = append(attrs, slog.String(http.CanonicalHeaderKey(name), MaskValue(value)))
		}
	}
	return slog.Group("headers", attrs...)
}
