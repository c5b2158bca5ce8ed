package logging

import (
	"log/slog"
	"sort"
	"strings"
)

// RedactedValue is the placeholder written in place of sensitive log values.
const RedactedValue = "[REDACTED]"

// Keys the node emits that are safe to log verbatim. Everything passed to
// MaskField under any other key is masked: keystore paths, token material and
// signer details all stay out of the logs.
var redactionAllowlist = map[string]struct{}{
	"service":   {},
	"env":       {},
	"message":   {},
	"severity":  {},
	"timestamp": {},
	"error":     {},
	"reason":    {},
	"component": {},
	"module":    {},
	"network":   {},
	"route":     {},
	"order":     {},
	"trade":     {},
}

// IsAllowlisted reports whether the key is exempt from redaction.
func IsAllowlisted(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	_, ok := redactionAllowlist[normalized]
	return ok
}

// RedactionAllowlist returns a sorted copy of the keys logged without
// masking.
func RedactionAllowlist() []string {
	keys := make([]string, 0, len(redactionAllowlist))
	for key := range redactionAllowlist {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MaskValue masks non-empty values. Empty values pass through so absent
// fields stay recognisable in the output.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField builds a slog.Attr whose value is masked unless the key is
// allowlisted. The original key casing is preserved.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
