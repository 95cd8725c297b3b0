package scheduling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func london(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)
	return loc
}

func TestResolveWindowToday(t *testing.T) {
	loc := london(t)
	// Thursday 2026-01-15, mid-morning.
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	start, end, label := ResolveWindow("today", now, loc, 8, 18)

	assert.Equal(t, "today", label)
	assert.Equal(t, now, start, "start floors at now once the day has begun")
	assert.Equal(t, time.Date(2026, 1, 15, 18, 0, 0, 0, time.UTC), end)
}

func TestResolveWindowTodayAfterHoursRollsToTomorrow(t *testing.T) {
	loc := london(t)
	now := time.Date(2026, 1, 15, 19, 0, 0, 0, time.UTC)

	start, end, _ := ResolveWindow("today", now, loc, 8, 18)

	assert.Equal(t, time.Date(2026, 1, 16, 8, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 1, 16, 18, 0, 0, 0, time.UTC), end)
}

func TestResolveWindowTomorrowSkipsWeekend(t *testing.T) {
	loc := london(t)
	// Friday 2026-01-16; "tomorrow" is Saturday, pushed to Monday.
	now := time.Date(2026, 1, 16, 10, 0, 0, 0, time.UTC)

	start, _, _ := ResolveWindow("tomorrow", now, loc, 8, 18)

	assert.Equal(t, time.Monday, start.In(loc).Weekday())
	assert.Equal(t, time.Date(2026, 1, 19, 8, 0, 0, 0, time.UTC), start)
}

func TestResolveWindowMidday(t *testing.T) {
	loc := london(t)
	now := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)

	start, end, label := ResolveWindow("midday", now, loc, 8, 18)

	assert.Equal(t, "midday", label)
	assert.Equal(t, time.Date(2026, 1, 15, 11, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 1, 15, 14, 0, 0, 0, time.UTC), end)
}

func TestResolveWindowMiddayAfterLunchRollsForward(t *testing.T) {
	loc := london(t)
	now := time.Date(2026, 1, 15, 15, 0, 0, 0, time.UTC)

	start, _, _ := ResolveWindow("midday", now, loc, 8, 18)

	assert.Equal(t, time.Date(2026, 1, 16, 11, 0, 0, 0, time.UTC), start)
}

func TestResolveWindowThreeWorkingDays(t *testing.T) {
	loc := london(t)
	// Thursday; three working days are Thu, Fri, Mon.
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	start, end, label := ResolveWindow("next 3 working days", now, loc, 8, 18)

	assert.Equal(t, "next 3 working days", label)
	assert.Equal(t, now, start)
	assert.Equal(t, time.Date(2026, 1, 19, 18, 0, 0, 0, time.UTC), end)
}

func TestResolveWindowDefaultsToFiveWorkingDays(t *testing.T) {
	loc := london(t)
	// Thursday; five working days end the following Wednesday.
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	_, end, label := ResolveWindow("", now, loc, 8, 18)
	assert.Equal(t, "next 5 working days", label)
	assert.Equal(t, time.Date(2026, 1, 21, 18, 0, 0, 0, time.UTC), end)

	_, endUnknown, labelUnknown := ResolveWindow("whenever suits", now, loc, 8, 18)
	assert.Equal(t, "next 5 working days", labelUnknown)
	assert.Equal(t, end, endUnknown)
}

func TestResolveWindowThisWeek(t *testing.T) {
	loc := london(t)
	// Tuesday 2026-01-13.
	now := time.Date(2026, 1, 13, 10, 0, 0, 0, time.UTC)

	start, end, label := ResolveWindow("this week", now, loc, 8, 18)

	assert.Equal(t, "this week", label)
	assert.Equal(t, now, start)
	assert.Equal(t, time.Date(2026, 1, 16, 18, 0, 0, 0, time.UTC), end)
}
