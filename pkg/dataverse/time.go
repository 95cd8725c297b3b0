package dataverse

import (
	"fmt"
	"strings"
	"time"
)

// ParseISO parses an ISO-8601 instant as produced by Dataverse. Accepts a
// trailing Z or an explicit offset, with or without fractional seconds, and
// treats a missing offset as UTC. The result is always in UTC.
func ParseISO(value string) (time.Time, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, fmt.Errorf("empty datetime")
	}

	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime: %q", value)
}

// FormatISO renders an instant the way slot ids and vendor payloads expect:
// UTC, second precision, Z suffix. All timestamps are canonicalized through
// this single formatter so identical instants compare equal as strings.
func FormatISO(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z")
}
