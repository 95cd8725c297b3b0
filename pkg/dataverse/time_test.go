package dataverse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseISOAcceptsVendorVariants(t *testing.T) {
	want := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)

	for _, in := range []string{
		"2026-01-15T09:00:00Z",
		"2026-01-15T09:00:00+00:00",
		"2026-01-15T09:00:00.000Z",
		"2026-01-15T09:00:00",
	} {
		got, err := ParseISO(in)
		require.NoError(t, err, "input %s", in)
		assert.True(t, want.Equal(got), "input %s parsed to %s", in, got)
	}
}

func TestParseISONormalizesOffsetsToUTC(t *testing.T) {
	got, err := ParseISO("2026-06-15T10:00:00+01:00")
	require.NoError(t, err)
	assert.Equal(t, "2026-06-15T09:00:00Z", FormatISO(got))
}

func TestParseISORejectsGarbage(t *testing.T) {
	_, err := ParseISO("next tuesday")
	assert.Error(t, err)
	_, err = ParseISO("")
	assert.Error(t, err)
}

func TestFormatISOSecondPrecisionUTC(t *testing.T) {
	in := time.Date(2026, 1, 15, 9, 30, 45, 999_000_000, time.FixedZone("CET", 3600))
	assert.Equal(t, "2026-01-15T08:30:45Z", FormatISO(in))
}
