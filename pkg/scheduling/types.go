// Package scheduling implements the field-service scheduling core:
// availability normalization across the org's action variants, customer
// slot policy, and the idempotent case → work order → requirement → booking
// chain.
package scheduling

import (
	"fmt"
	"strings"
	"time"

	"github.com/fieldline-inc/fieldline-engine/pkg/dataverse"
)

// UnknownResource is the sentinel resource identity for vendor responses
// that return time slots without saying who would serve them.
const UnknownResource = "unknown"

// RawSlot is a normalized vendor availability slot before customer policy
// is applied.
type RawSlot struct {
	ResourceID   string         `json:"resource_id"`
	ResourceName string         `json:"resource_name,omitempty"`
	Start        time.Time      `json:"start"`
	End          time.Time      `json:"end"`
	Raw          map[string]any `json:"-"`
}

// SlotID derives the composite slot handle passed between search and book.
func (s RawSlot) SlotID() string {
	return MakeSlotID(s.ResourceID, s.Start, s.End)
}

// Concrete reports whether the slot names an actual resource.
func (s RawSlot) Concrete() bool {
	return s.ResourceID != "" && !strings.EqualFold(s.ResourceID, UnknownResource)
}

// Slot is a customer-presentable slot after post-processing.
type Slot struct {
	SlotNumber int    `json:"slot_number"`
	SlotID     string `json:"slot_id"`
	Start      string `json:"start"`
	End        string `json:"end"`
	ResourceID string `json:"resource_id"`
	Display    string `json:"display"`
}

// MakeSlotID builds the pipe-delimited composite key
// <resourceID>|<startISO>|<endISO>.
func MakeSlotID(resourceID string, start, end time.Time) string {
	if strings.TrimSpace(resourceID) == "" {
		resourceID = UnknownResource
	}
	return fmt.Sprintf("%s|%s|%s", resourceID, dataverse.FormatISO(start), dataverse.FormatISO(end))
}

// ParseSlotID is the inverse of MakeSlotID.
func ParseSlotID(slotID string) (resourceID string, start, end time.Time, err error) {
	parts := strings.SplitN(slotID, "|", 3)
	if len(parts) != 3 {
		return "", time.Time{}, time.Time{}, fmt.Errorf("invalid slot_id %q: expected <resource>|<start>|<end>", slotID)
	}
	start, err = dataverse.ParseISO(parts[1])
	if err != nil {
		return "", time.Time{}, time.Time{}, fmt.Errorf("invalid slot_id start: %w", err)
	}
	end, err = dataverse.ParseISO(parts[2])
	if err != nil {
		return "", time.Time{}, time.Time{}, fmt.Errorf("invalid slot_id end: %w", err)
	}
	return strings.TrimSpace(parts[0]), start, end, nil
}

// ParseWindowID splits the <startISO>|<endISO> handle returned by
// availability searches.
func ParseWindowID(windowID string) (start, end time.Time, err error) {
	parts := strings.SplitN(windowID, "|", 2)
	if len(parts) != 2 {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid window_id %q: expected <windowStartIso>|<windowEndIso>", windowID)
	}
	start, err = dataverse.ParseISO(parts[0])
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid window start: %w", err)
	}
	end, err = dataverse.ParseISO(parts[1])
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid window end: %w", err)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid window: end must be after start")
	}
	return start, end, nil
}

// RecordRef is an id-only reference to a created vendor record.
type RecordRef struct {
	ID string `json:"id"`
}

// TimeRange is a start/end pair rendered in canonical ISO form.
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// NewTimeRange renders a range canonically.
func NewTimeRange(start, end time.Time) TimeRange {
	return TimeRange{Start: dataverse.FormatISO(start), End: dataverse.FormatISO(end)}
}

// SearchResult is the structured outcome of an availability search.
type SearchResult struct {
	Status    string         `json:"status"`
	Action    string         `json:"action,omitempty"`
	Count     int            `json:"count"`
	Slots     []Slot         `json:"slots"`
	Message   string         `json:"message,omitempty"`
	Attempted []string       `json:"attempted_actions,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// ScheduleResult is the structured outcome of the booking chain. On failure
// it still carries whatever prefix of the chain was durably created so a
// caller can resume without duplicating records.
type ScheduleResult struct {
	Status           string         `json:"status"`
	IdempotentReplay bool           `json:"idempotent_replay,omitempty"`
	Case             *RecordRef     `json:"case,omitempty"`
	WorkOrder        *RecordRef     `json:"work_order,omitempty"`
	Requirement      *RecordRef     `json:"requirement,omitempty"`
	Booking          *BookingRef    `json:"booking,omitempty"`
	Requested        *TimeRange     `json:"requested,omitempty"`
	Window           *TimeRange     `json:"window,omitempty"`
	Message          string         `json:"message,omitempty"`
	Details          map[string]any `json:"details,omitempty"`
}

// BookingRef references a created booking together with its confirmed
// schedule.
type BookingRef struct {
	ID    string `json:"id"`
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// BookResult is the structured outcome of booking a requirement into a
// concrete slot.
type BookResult struct {
	Status       string         `json:"status"`
	Booking      *BookingRef    `json:"booking,omitempty"`
	SelectedSlot string         `json:"selected_slot,omitempty"`
	Fallback     *FallbackNote  `json:"availability_fallback,omitempty"`
	Requirement  *RecordRef     `json:"requirement,omitempty"`
	Requested    *TimeRange     `json:"requested,omitempty"`
	Message      string         `json:"message,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// FallbackNote records that a generic availability search selected the
// booked resource after the requirement-scoped search came back empty.
type FallbackNote struct {
	Used   bool   `json:"used"`
	Action string `json:"action,omitempty"`
	Note   string `json:"note,omitempty"`
}
