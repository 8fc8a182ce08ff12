// Package logutil keeps secrets and oversized page text out of log output.
package logutil

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

const redacted = "[REDACTED]"

// sensitiveFragments match normalized keys (lowercase, no '-' or '_').
var sensitiveFragments = []string{"token", "secret", "password", "apikey", "accesskey", "cookie"}

// IsSensitiveLogField returns true when a key likely contains sensitive data.
func IsSensitiveLogField(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	normalized = strings.NewReplacer("-", "", "_", "").Replace(normalized)
	if normalized == "authorization" || strings.HasSuffix(normalized, "pass") {
		return true
	}
	for _, frag := range sensitiveFragments {
		if strings.Contains(normalized, frag) {
			return true
		}
	}
	return false
}

// RedactValue redacts a value when the key looks sensitive.
func RedactValue(key, value string) string {
	if IsSensitiveLogField(key) && value != "" {
		return redacted
	}
	return value
}

// SummaryLines renders fields as sorted KEY=value lines with secrets
// redacted and empty values marked.
func SummaryLines(fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		v := fields[k]
		if v == "" {
			lines = append(lines, k+"=<empty>")
			continue
		}
		lines = append(lines, fmt.Sprintf("%s=%q", k, RedactValue(k, v)))
	}
	return lines
}

// TruncateForLog returns a single-line preview of at most maxChars runes.
func TruncateForLog(value string, maxChars int) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	normalized := strings.NewReplacer("\r", "", "\n", "\\n").Replace(trimmed)
	if maxChars <= 0 || utf8.RuneCountInString(normalized) <= maxChars {
		return normalized
	}
	runes := []rune(normalized)
	return string(runes[:maxChars]) + "... [truncated]"
}
