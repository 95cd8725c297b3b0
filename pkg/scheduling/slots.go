package scheduling

import (
	"fmt"
	"sort"
	"time"

	"github.com/fieldline-inc/fieldline-engine/pkg/dataverse"
)

// Policy holds the customer-facing slot rules: how soon a visit can start,
// the offer granularity, and the local business hours everything is clipped
// to. Hours are civil time in Location, so the rules survive DST shifts.
type Policy struct {
	LeadTime    time.Duration
	Granularity time.Duration
	OpenHour    int
	CloseHour   int
	MaxSlots    int
	Location    *time.Location
	Now         func() time.Time
}

func (p Policy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

// Apply turns raw vendor slots into the customer offer list. Steps, in
// order: drop slots shorter than the visit, clamp starts below the lead-time
// floor, round starts up to the granularity grid in local civil time, clip
// to business hours, dedupe identical starts keeping the tightest fit, then
// sort, truncate and number.
func (p Policy) Apply(raw []RawSlot, visit time.Duration) []Slot {
	earliest := p.now().Add(p.LeadTime)

	candidates := make([]RawSlot, 0, len(raw))
	for _, s := range raw {
		if s.End.Sub(s.Start) < visit {
			continue
		}

		start := s.Start
		if start.Before(earliest) {
			start = earliest
		}
		start = p.ceilToGrid(start)

		start, ok := p.clipToBusinessHours(start, visit)
		if !ok {
			continue
		}
		if start.Add(visit).After(s.End) {
			continue
		}

		candidates = append(candidates, RawSlot{
			ResourceID:   s.ResourceID,
			ResourceName: s.ResourceName,
			Start:        start,
			End:          s.End,
			Raw:          s.Raw,
		})
	}

	candidates = dedupeByStart(candidates)
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Start.Before(candidates[j].Start)
	})
	if p.MaxSlots > 0 && len(candidates) > p.MaxSlots {
		candidates = candidates[:p.MaxSlots]
	}

	out := make([]Slot, 0, len(candidates))
	for i, s := range candidates {
		end := s.Start.Add(visit)
		out = append(out, Slot{
			SlotNumber: i + 1,
			SlotID:     MakeSlotID(s.ResourceID, s.Start, end),
			Start:      dataverse.FormatISO(s.Start),
			End:        dataverse.FormatISO(end),
			ResourceID: s.ResourceID,
			Display:    fmt.Sprintf("%s to %s", formatLocal(s.Start, p.Location), formatLocal(end, p.Location)),
		})
	}
	return out
}

// ceilToGrid rounds t up to the next granularity boundary of the local
// civil day. Rounding in local time matters: a UTC-grid 09:00 start is
// 10:00 local in summer, and customers are offered local clock times.
func (p Policy) ceilToGrid(t time.Time) time.Time {
	local := t.In(p.Location)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, p.Location)
	elapsed := local.Sub(midnight)
	rounded := elapsed.Truncate(p.Granularity)
	if rounded < elapsed {
		rounded += p.Granularity
	}
	return midnight.Add(rounded).UTC()
}

// clipToBusinessHours moves a before-open start to the same day's opening,
// re-rounded so opening time itself lands on the grid. A visit that cannot
// finish by that day's close is discarded; slots never spill into the
// following business day.
func (p Policy) clipToBusinessHours(start time.Time, visit time.Duration) (time.Time, bool) {
	local := start.In(p.Location)
	open := time.Date(local.Year(), local.Month(), local.Day(), p.OpenHour, 0, 0, 0, p.Location)
	if local.Before(open) {
		start = p.ceilToGrid(open.UTC())
		local = start.In(p.Location)
	}
	close := time.Date(local.Year(), local.Month(), local.Day(), p.CloseHour, 0, 0, 0, p.Location)
	if local.Add(visit).After(close) {
		return time.Time{}, false
	}
	return start, true
}

// dedupeByStart keeps one slot per distinct start instant, preferring the
// tightest fit (smallest raw window) so the chosen resource is the one with
// the least slack. Instants are compared, not strings, so "Z" and "+00:00"
// renderings of the same moment collapse.
func dedupeByStart(slots []RawSlot) []RawSlot {
	best := make(map[int64]RawSlot, len(slots))
	for _, s := range slots {
		key := s.Start.Unix()
		cur, ok := best[key]
		if !ok {
			best[key] = s
			continue
		}
		if s.End.Sub(s.Start) < cur.End.Sub(cur.Start) {
			best[key] = s
		}
	}
	out := make([]RawSlot, 0, len(best))
	for _, s := range best {
		out = append(out, s)
	}
	return out
}

func formatLocal(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("Mon 2 Jan 15:04")
}
