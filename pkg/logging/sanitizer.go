package logging

import (
	"regexp"
	"strings"
)

const (
	// MaxBodyLogLength is the maximum length of a vendor response body to log
	MaxBodyLogLength = 500
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// Pattern to match bearer tokens (three base64url segments separated by dots)
	bearerPattern = regexp.MustCompile(`Bearer\s+[A-Za-z0-9-_]+\.[A-Za-z0-9-_]+\.[A-Za-z0-9-_]*`)

	// Pattern to match secret-bearing key=value pairs in query strings and bodies
	secretPairPattern = regexp.MustCompile(`(?i)(client_secret|secret|password|token)=[^;&\s"]+`)

	// sensitiveKeys are field names whose values must never reach a log line.
	sensitiveKeys = []string{"authorization", "token", "secret", "password", "credential", "key"}
)

// SanitizeError sanitizes error messages that might contain sensitive data.
// Use this before logging any error from Dataverse or token operations.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeString(err.Error())
}

// SanitizeString removes bearer tokens and secret key=value pairs.
func SanitizeString(s string) string {
	sanitized := bearerPattern.ReplaceAllString(s, "Bearer "+RedactedText)
	sanitized = secretPairPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	return sanitized
}

// IsSensitiveKey reports whether a field name looks like it carries a secret.
func IsSensitiveKey(name string) bool {
	lower := strings.ToLower(name)
	for _, k := range sensitiveKeys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// SanitizeFields redacts sensitive entries and truncates long values in a
// map destined for a log line. The input map is not modified.
func SanitizeFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if IsSensitiveKey(k) {
			out[k] = RedactedText
			continue
		}
		if s, ok := v.(string); ok && len(s) > MaxBodyLogLength {
			out[k] = s[:MaxBodyLogLength] + "..."
		} else {
			out[k] = v
		}
	}
	return out
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
