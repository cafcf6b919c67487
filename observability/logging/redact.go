package logging

import (
	"log/slog"
	"sort"
	"strings"
)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

// Keys that carry public ledger data and may be logged verbatim.
var redactionAllowlist = map[string]struct{}{
	"service":     {},
	"env":         {},
	"message":     {},
	"severity":    {},
	"timestamp":   {},
	"error":       {},
	"code":        {},
	"address":     {},
	"listing":     {},
	"seller":      {},
	"buyer":       {},
	"asset":       {},
	"program":     {},
	"hash":        {},
	"instruction": {},
	"backend":     {},
}

// IsAllowlisted reports whether key may be logged without masking.
func IsAllowlisted(key string) bool {
	_, ok := redactionAllowlist[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// RedactionAllowlist returns the allowlisted keys, sorted.
func RedactionAllowlist() []string {
	keys := make([]string, 0, len(redactionAllowlist))
	for key := range redactionAllowlist {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MaskField returns a slog.Attr that hides value unless key is allowlisted.
// Empty values pass through.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
