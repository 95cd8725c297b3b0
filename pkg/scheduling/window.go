package scheduling

import (
	"strings"
	"time"
)

// Window phrase resolution. Customers say "tomorrow" or "next week", not
// ISO timestamps; this maps the supported phrases onto a concrete UTC
// search window anchored to local civil time.

const (
	middayStartHour  = 11
	middayEndHour    = 14
	afterHoursCutoff = 18
)

// ResolveWindow maps a natural-language window phrase onto [start, end) in
// UTC. Unrecognized or empty phrases get the default window of the next
// five working days; the returned label is the phrase that was actually
// applied so callers can echo the interpretation back.
func ResolveWindow(phrase string, now time.Time, loc *time.Location, openHour, closeHour int) (start, end time.Time, label string) {
	p := strings.ToLower(strings.TrimSpace(phrase))
	local := now.In(loc)

	switch {
	case p == "today":
		// After hours "today" means tomorrow; there is nothing left to book.
		day := local
		if local.Hour() >= afterHoursCutoff {
			day = day.AddDate(0, 0, 1)
		}
		return dayWindow(day, openHour, closeHour, loc, now, "today")

	case p == "tomorrow":
		return dayWindow(local.AddDate(0, 0, 1), openHour, closeHour, loc, now, "tomorrow")

	case p == "this week":
		// Through Friday close; already past Friday close means next week.
		day := local
		for day.Weekday() != time.Friday {
			day = day.AddDate(0, 0, 1)
		}
		endT := atHour(day, closeHour, loc)
		if !endT.After(now) {
			return workingDayWindow(local, 5, openHour, closeHour, loc, now, "next week")
		}
		s := now
		if open := atHour(local, openHour, loc); s.Before(open) {
			s = open
		}
		return s.UTC(), endT.UTC(), "this week"

	case p == "midday" || p == "around midday" || p == "lunchtime":
		day := local
		if local.Hour() >= middayEndHour {
			day = day.AddDate(0, 0, 1)
		}
		day = skipWeekend(day)
		return atHour(day, middayStartHour, loc).UTC(), atHour(day, middayEndHour, loc).UTC(), "midday"

	case strings.Contains(p, "3 working days") || strings.Contains(p, "three working days"):
		return workingDayWindow(local, 3, openHour, closeHour, loc, now, "next 3 working days")

	default:
		return workingDayWindow(local, 5, openHour, closeHour, loc, now, "next 5 working days")
	}
}

// dayWindow is one business day, floored at now when the day is today.
func dayWindow(day time.Time, openHour, closeHour int, loc *time.Location, now time.Time, label string) (time.Time, time.Time, string) {
	day = skipWeekend(day)
	s := atHour(day, openHour, loc)
	e := atHour(day, closeHour, loc)
	if s.Before(now) {
		s = now
	}
	if !e.After(s) {
		day = skipWeekend(day.AddDate(0, 0, 1))
		s = atHour(day, openHour, loc)
		e = atHour(day, closeHour, loc)
	}
	return s.UTC(), e.UTC(), label
}

// workingDayWindow spans n working days starting from the first bookable
// day, skipping weekends, ending at the nth day's close.
func workingDayWindow(local time.Time, n, openHour, closeHour int, loc *time.Location, now time.Time, label string) (time.Time, time.Time, string) {
	first := local
	if local.Hour() >= afterHoursCutoff {
		first = first.AddDate(0, 0, 1)
	}
	first = skipWeekend(first)

	last := first
	for i := 1; i < n; i++ {
		last = skipWeekend(last.AddDate(0, 0, 1))
	}

	s := atHour(first, openHour, loc)
	if s.Before(now) {
		s = now
	}
	return s.UTC(), atHour(last, closeHour, loc).UTC(), label
}

func skipWeekend(day time.Time) time.Time {
	for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
		day = day.AddDate(0, 0, 1)
	}
	return day
}

func atHour(day time.Time, hour int, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, loc)
}
