package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fieldline-inc/fieldline-engine/pkg/config"
	"github.com/fieldline-inc/fieldline-engine/pkg/dataverse"
	"github.com/fieldline-inc/fieldline-engine/pkg/logging"
	"github.com/fieldline-inc/fieldline-engine/pkg/retry"
)

const (
	defaultVisitMinutes = 60
	defaultMaxSlots     = 10
	// rawSlotCeiling bounds how many slots we ask the vendor for before
	// customer policy trims the list.
	rawSlotCeiling      = 50
	maxSearchResources  = 8
	bookingStatusName   = "Scheduled"
)

// Service is the caller-facing scheduling orchestrator. Its three
// operations never return an error: every reachable failure is mapped to a
// structured result so the transport layer has nothing to translate.
type Service struct {
	gateway     Gateway
	normalizer  *Normalizer
	policy      Policy
	cache       *availabilityCache
	store       IdempotencyStore
	cfg         config.SchedulingConfig
	allowWrites bool
	location    *time.Location
	logger      *zap.Logger
	now         func() time.Time
}

// NewService wires the scheduling core from configuration.
func NewService(gateway Gateway, store IdempotencyStore, cfg config.SchedulingConfig, allowWrites bool, logger *zap.Logger) (*Service, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	now := func() time.Time { return time.Now().UTC() }
	return &Service{
		gateway:    gateway,
		normalizer: NewNormalizer(gateway, logger),
		policy: Policy{
			LeadTime:    cfg.LeadTime(),
			Granularity: cfg.Granularity(),
			OpenHour:    cfg.BusinessOpenHour,
			CloseHour:   cfg.BusinessCloseHour,
			Location:    loc,
			Now:         now,
		},
		cache:       newAvailabilityCache(cfg.AvailabilityCacheTTL()),
		store:       store,
		cfg:         cfg,
		allowWrites: allowWrites,
		location:    loc,
		logger:      logger,
		now:         now,
	}, nil
}

// WritesAllowed reports the write gate state; transport layers use it to
// refuse record mutations before touching the network.
func (s *Service) WritesAllowed() bool { return s.allowWrites }

// Location returns the deployment's local civil timezone.
func (s *Service) Location() *time.Location { return s.location }

// ResolveWindow maps a customer phrase onto a concrete UTC window using the
// deployment's business hours.
func (s *Service) ResolveWindow(phrase string) (start, end time.Time, label string) {
	return ResolveWindow(phrase, s.now(), s.location, s.cfg.BusinessOpenHour, s.cfg.BusinessCloseHour)
}

// ParsePreferredStart accepts an ISO datetime or a bare HH:MM meaning
// "today, local time".
func (s *Service) ParsePreferredStart(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("preferred start is required")
	}
	if t, err := dataverse.ParseISO(raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse("15:04", raw); err == nil {
		local := s.now().In(s.location)
		return time.Date(local.Year(), local.Month(), local.Day(), t.Hour(), t.Minute(), 0, 0, s.location).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("preferred start %q: expected ISO datetime or HH:MM", raw)
}

// SearchRequest describes one availability search.
type SearchRequest struct {
	RequirementID   string
	WindowStart     time.Time
	WindowEnd       time.Time
	DurationMinutes int
	MaxSlots        int
}

func (r SearchRequest) visit() time.Duration {
	if r.DurationMinutes <= 0 {
		return defaultVisitMinutes * time.Minute
	}
	return time.Duration(r.DurationMinutes) * time.Minute
}

func (r SearchRequest) maxSlots() int {
	if r.MaxSlots <= 0 {
		return defaultMaxSlots
	}
	return r.MaxSlots
}

// SearchAvailability runs the normalizer and customer policy. When a
// requirement-scoped search fails outright, a generic search is substituted
// as an explicitly-labelled preview: its action is tagged
// "fallback:<action>" and both diagnostic reports ride along, so the
// downgrade is never silent.
func (s *Service) SearchAvailability(ctx context.Context, req SearchRequest) *SearchResult {
	if !req.WindowEnd.After(req.WindowStart) {
		return &SearchResult{Status: "error", Message: "window end must be after window start"}
	}

	visit := req.visit()
	q := AvailabilityQuery{
		RequirementID:  req.RequirementID,
		WindowStart:    req.WindowStart,
		WindowEnd:      req.WindowEnd,
		Duration:       visit,
		MaxTimeSlots:   rawSlotCeiling,
		MaxResources:   maxSearchResources,
		OnlyResourceID: s.cfg.PinnedResourceID,
	}

	if cached, ok := s.cache.get(q, req.maxSlots()); ok {
		return cached
	}

	raw := s.normalizer.Search(ctx, q)

	var result *SearchResult
	switch {
	case raw.OK():
		result = s.searchSuccess(req, raw, raw.Action, visit, nil)

	case req.RequirementID != "":
		generic := q
		generic.RequirementID = ""
		preview := s.normalizer.Search(ctx, generic)
		if preview.OK() {
			result = s.searchSuccess(req, preview, "fallback:"+preview.Action, visit, map[string]any{
				"requirement_search": raw.Diagnostics,
				"generic_search":     preview.Diagnostics,
			})
			result.Attempted = append(raw.Attempted, preview.Attempted...)
			result.Message = "Requirement-scoped search returned nothing; showing generic availability as a preview. These slots are not confirmed for this requirement."
		} else {
			result = &SearchResult{
				Status:    "error",
				Message:   raw.Message,
				Attempted: append(raw.Attempted, preview.Attempted...),
				Details: map[string]any{
					"requirement_search": raw.Diagnostics,
					"generic_search":     preview.Diagnostics,
				},
			}
		}

	default:
		result = &SearchResult{
			Status:    "error",
			Message:   raw.Message,
			Attempted: raw.Attempted,
			Details:   map[string]any{"diagnostics": raw.Diagnostics},
		}
	}

	s.cache.put(q, req.maxSlots(), result)
	return result
}

func (s *Service) searchSuccess(req SearchRequest, raw *RawAvailability, action string, visit time.Duration, details map[string]any) *SearchResult {
	policy := s.policy
	policy.MaxSlots = req.maxSlots()
	slots := policy.Apply(raw.Slots, visit)

	if details == nil {
		details = map[string]any{}
	}
	details["window_id"] = fmt.Sprintf("%s|%s", dataverse.FormatISO(req.WindowStart), dataverse.FormatISO(req.WindowEnd))

	result := &SearchResult{
		Status:    "ok",
		Action:    action,
		Count:     len(slots),
		Slots:     slots,
		Attempted: raw.Attempted,
		Details:   details,
	}
	if len(slots) == 0 {
		result.Message = "The engineer has no free slots in that window after applying business hours and lead time."
	}
	return result
}

// ScheduleInput describes one end-to-end scheduling request.
type ScheduleInput struct {
	ContactID       string
	WindowStart     time.Time
	WindowEnd       time.Time
	PreferredStart  time.Time
	DurationMinutes int
	Priority        string
	CreateCase      bool
	Scenario        string
	CaseTitle       string
	CaseDescription string
}

func (in ScheduleInput) visit() time.Duration {
	if in.DurationMinutes <= 0 {
		return defaultVisitMinutes * time.Minute
	}
	return time.Duration(in.DurationMinutes) * time.Minute
}

// ScheduleRequest drives the create-or-reuse chain: case, work order,
// wait for the platform-created requirement, constrain it, resolve a
// concrete slot, book, verify, persist. Any step failure returns the
// prefix of the chain already created so the caller can resume without
// duplicating records.
func (s *Service) ScheduleRequest(ctx context.Context, in ScheduleInput) *ScheduleResult {
	if !s.allowWrites {
		return &ScheduleResult{
			Status:  "blocked",
			Message: "Writes are disabled for this environment (DATAVERSE_ALLOW_WRITES=false). No records were created.",
		}
	}
	if strings.TrimSpace(in.ContactID) == "" {
		return &ScheduleResult{Status: "error", Message: "contact_id is required"}
	}

	visit := in.visit()
	start := in.PreferredStart
	end := start.Add(visit)
	if start.Before(in.WindowStart) || end.After(in.WindowEnd) {
		return &ScheduleResult{
			Status:    "error",
			Message:   "Preferred start is outside the selected window.",
			Requested: ref(NewTimeRange(start, end)),
			Window:    ref(NewTimeRange(in.WindowStart, in.WindowEnd)),
		}
	}

	scenario := in.Scenario
	if scenario == "" {
		scenario = s.cfg.JobName
	}
	key := RequestKey(s.gateway.EnvironmentID(), scenario, in.ContactID, in.WindowStart, in.WindowEnd, start, visit)

	if result := s.tryReplay(ctx, key, in, start, end); result != nil {
		return result
	}

	out := &ScheduleResult{
		Requested: ref(NewTimeRange(start, end)),
		Window:    ref(NewTimeRange(in.WindowStart, in.WindowEnd)),
	}

	if in.CreateCase {
		title := in.CaseTitle
		if title == "" {
			title = scenario
		}
		caseID, err := s.gateway.CreateCaseForContact(ctx, in.ContactID, title, in.CaseDescription, in.Priority, "web")
		if err != nil {
			return s.chainFailure(out, "creating the case failed", err, "")
		}
		out.Case = &RecordRef{ID: caseID}
	}

	caseID := ""
	if out.Case != nil {
		caseID = out.Case.ID
	}
	workOrderID, err := s.gateway.CreateWorkOrder(ctx, caseID, scenario, in.Priority)
	if err != nil {
		return s.chainFailure(out, "creating the work order failed", err, "")
	}
	out.WorkOrder = &RecordRef{ID: workOrderID}

	requirementID, err := s.waitForRequirement(ctx, workOrderID)
	if err != nil {
		return s.chainFailure(out, "no resource requirement appeared for the work order", err,
			"retry booking against this existing work order once the platform has created its requirement")
	}
	out.Requirement = &RecordRef{ID: requirementID}

	if err := s.constrainRequirement(ctx, requirementID, start, end, visit); err != nil {
		return s.chainFailure(out, "updating the requirement's time window failed", err,
			"retry booking against this existing requirement")
	}

	slot, fallback, diags := s.resolveConcreteSlot(ctx, requirementID, start, end, visit)
	if slot == nil {
		res := s.chainFailure(out, "no concrete resource is available for the requested time", nil,
			"retry with a different preferred start, or book this requirement directly")
		res.Details["availability"] = diags
		return res
	}
	if fallback != nil {
		s.logger.Info("booking resource selected via generic availability fallback",
			zap.String("action", fallback.Action))
	}

	bookingID, err := s.gateway.CreateBooking(ctx, dataverse.BookingRequest{
		ResourceID:    slot.ResourceID,
		RequirementID: requirementID,
		WorkOrderID:   workOrderID,
		StartUTC:      dataverse.FormatISO(start),
		EndUTC:        dataverse.FormatISO(end),
		StatusName:    bookingStatusName,
		Name:          scenario,
	})
	if err != nil {
		res := s.chainFailure(out, "creating the booking failed", err,
			"retry booking against this existing requirement")
		if bookingID != "" {
			res.Booking = &BookingRef{ID: bookingID}
			res.Message = "The booking record was created but linking it to the requirement or work order failed."
		}
		return res
	}

	booking, err := s.gateway.GetBooking(ctx, bookingID)
	if err != nil {
		res := s.chainFailure(out, "the booking was created but could not be verified", err,
			"fetch the booking by id to confirm it exists before retrying")
		res.Booking = &BookingRef{ID: bookingID}
		return res
	}
	out.Booking = bookingRefFromRecord(bookingID, booking)

	rec := IdempotencyRecord{
		BookingID:     bookingID,
		WorkOrderID:   workOrderID,
		RequirementID: requirementID,
		CaseID:        caseID,
		Start:         dataverse.FormatISO(start),
		End:           dataverse.FormatISO(end),
		CreatedAt:     s.now(),
	}
	if err := s.store.Put(key, rec); err != nil {
		// The booking exists; losing replay protection is reported, not fatal.
		s.logger.Warn("failed to persist idempotency record", zap.String("error", logging.SanitizeError(err)))
		out.Details = map[string]any{"idempotency": "record could not be persisted; an identical retry may create a duplicate chain"}
	}

	out.Status = "ok"
	return out
}

// tryReplay returns the cached chain when the idempotency store holds a
// still-valid booking for this key. A stale entry (booking gone from the
// vendor store) is discarded and nil is returned so the caller proceeds
// fresh.
func (s *Service) tryReplay(ctx context.Context, key string, in ScheduleInput, start, end time.Time) *ScheduleResult {
	rec, ok, err := s.store.Get(key)
	if err != nil {
		s.logger.Warn("idempotency store read failed", zap.String("error", logging.SanitizeError(err)))
		return nil
	}
	if !ok {
		return nil
	}

	booking, err := s.gateway.GetBooking(ctx, rec.BookingID)
	if err != nil {
		if dataverse.IsNotFound(err) {
			s.logger.Info("stale idempotency record, booking no longer exists",
				zap.String("booking_id", rec.BookingID))
			if delErr := s.store.Delete(key); delErr != nil {
				s.logger.Warn("failed to drop stale idempotency record", zap.String("error", logging.SanitizeError(delErr)))
			}
			return nil
		}
		return &ScheduleResult{
			Status:  "error",
			Message: "A prior booking exists for this request but could not be re-verified.",
			Booking: &BookingRef{ID: rec.BookingID},
			Details: map[string]any{"verify_error": logging.SanitizeError(err)},
		}
	}

	out := &ScheduleResult{
		Status:           "ok",
		IdempotentReplay: true,
		Booking:          bookingRefFromRecord(rec.BookingID, booking),
		Requested:        ref(NewTimeRange(start, end)),
		Window:           ref(NewTimeRange(in.WindowStart, in.WindowEnd)),
		Message:          "This request was already booked; returning the existing booking.",
	}
	if rec.CaseID != "" {
		out.Case = &RecordRef{ID: rec.CaseID}
	}
	if rec.WorkOrderID != "" {
		out.WorkOrder = &RecordRef{ID: rec.WorkOrderID}
	}
	if rec.RequirementID != "" {
		out.Requirement = &RecordRef{ID: rec.RequirementID}
	}
	return out
}

// waitForRequirement polls for the platform-auto-created requirement on a
// fresh work order. Leftover requirements from prior partial runs carry this
// system's own job name, so a differently-named one is preferred; otherwise
// the oldest wins.
func (s *Service) waitForRequirement(ctx context.Context, workOrderID string) (string, error) {
	return retry.Poll(ctx, s.cfg.RequirementPollTimeout(), s.cfg.RequirementPollInterval(),
		func(ctx context.Context) (string, error) {
			items, err := s.gateway.ListRequirementsForWorkOrder(ctx, workOrderID, 10)
			if err != nil {
				return "", err
			}
			if len(items) == 0 {
				return "", retry.ErrPollPending
			}

			pick := items[0]
			for _, item := range items {
				name, _ := item["msdyn_name"].(string)
				if !strings.EqualFold(strings.TrimSpace(name), s.cfg.JobName) {
					pick = item
					break
				}
			}
			id, _ := pick["msdyn_resourcerequirementid"].(string)
			if id == "" {
				return "", retry.ErrPollPending
			}
			return id, nil
		})
}

// constrainRequirement narrows the requirement's window and location to the
// requested appointment so the vendor's own scheduling surfaces agree with
// the booking.
func (s *Service) constrainRequirement(ctx context.Context, requirementID string, start, end time.Time, visit time.Duration) error {
	fields := map[string]any{
		"msdyn_fromdate":              dataverse.FormatISO(start),
		"msdyn_todate":                dataverse.FormatISO(end),
		"msdyn_duration":              int(visit.Minutes()),
		"msdyn_timewindowstart":       dataverse.FormatISO(start),
		"msdyn_timewindowend":         dataverse.FormatISO(end),
		"msdyn_timezonefortimewindow": s.cfg.TimeWindowTimezoneCode,
		"msdyn_worklocation":          s.cfg.WorkLocationCode,
		"msdyn_latitude":              s.cfg.Latitude,
		"msdyn_longitude":             s.cfg.Longitude,
	}
	return s.gateway.UpdateRequirement(ctx, requirementID, fields)
}

// resolveConcreteSlot finds an actual resource for the exact requested
// interval. The requirement-scoped search is authoritative; when it yields
// no concrete slot a generic search is used as a last resort, preferring an
// exact time match over the first concrete slot. A pinned resource is the
// final fallback.
func (s *Service) resolveConcreteSlot(ctx context.Context, requirementID string, start, end time.Time, visit time.Duration) (*RawSlot, *FallbackNote, map[string]any) {
	diags := map[string]any{}

	q := AvailabilityQuery{
		RequirementID:  requirementID,
		WindowStart:    start,
		WindowEnd:      end,
		Duration:       visit,
		MaxTimeSlots:   rawSlotCeiling,
		MaxResources:   maxSearchResources,
		OnlyResourceID: s.cfg.PinnedResourceID,
	}
	raw := s.normalizer.Search(ctx, q)
	diags["requirement_search"] = raw.Diagnostics
	if slot := pickSlot(raw.Slots, start); slot != nil {
		return slot, nil, diags
	}

	generic := q
	generic.RequirementID = ""
	preview := s.normalizer.Search(ctx, generic)
	diags["generic_search"] = preview.Diagnostics
	if slot := pickSlot(preview.Slots, start); slot != nil {
		return slot, &FallbackNote{
			Used:   true,
			Action: preview.Action,
			Note:   "resource selected via generic availability after the requirement-scoped search returned no concrete slot",
		}, diags
	}

	if s.cfg.PinnedResourceID != "" {
		slot := &RawSlot{ResourceID: s.cfg.PinnedResourceID, ResourceName: s.cfg.ResourceName, Start: start, End: end}
		return slot, &FallbackNote{
			Used: true,
			Note: "no availability action returned a concrete slot; using the configured pinned resource",
		}, diags
	}

	return nil, nil, diags
}

// pickSlot prefers a concrete slot starting exactly at the requested
// instant, else the first concrete slot.
func pickSlot(slots []RawSlot, start time.Time) *RawSlot {
	var first *RawSlot
	for i := range slots {
		s := slots[i]
		if !s.Concrete() {
			continue
		}
		if s.Start.Equal(start) {
			return &s
		}
		if first == nil {
			first = &s
		}
	}
	return first
}

// BookInput describes booking an existing requirement into a slot.
type BookInput struct {
	RequirementID string
	ScheduleStart time.Time
	ScheduleEnd   time.Time
	WorkOrderID   string
	Name          string
}

// BookRequirement books an existing requirement into the exact requested
// interval.
func (s *Service) BookRequirement(ctx context.Context, in BookInput) *BookResult {
	if !s.allowWrites {
		return &BookResult{
			Status:  "blocked",
			Message: "Writes are disabled for this environment (DATAVERSE_ALLOW_WRITES=false). No records were created.",
		}
	}
	if strings.TrimSpace(in.RequirementID) == "" {
		return &BookResult{Status: "error", Message: "requirement_id is required"}
	}
	if !in.ScheduleEnd.After(in.ScheduleStart) {
		return &BookResult{Status: "error", Message: "schedule end must be after schedule start"}
	}

	visit := in.ScheduleEnd.Sub(in.ScheduleStart)
	out := &BookResult{
		Requirement: &RecordRef{ID: in.RequirementID},
		Requested:   ref(NewTimeRange(in.ScheduleStart, in.ScheduleEnd)),
	}

	slot, fallback, diags := s.resolveConcreteSlot(ctx, in.RequirementID, in.ScheduleStart, in.ScheduleEnd, visit)
	if slot == nil {
		out.Status = "error"
		out.Message = "No concrete resource is available for the requested time."
		out.Details = map[string]any{"availability": diags}
		return out
	}
	out.SelectedSlot = slot.SlotID()
	out.Fallback = fallback

	name := in.Name
	if name == "" {
		name = s.cfg.JobName
	}
	bookingID, err := s.gateway.CreateBooking(ctx, dataverse.BookingRequest{
		ResourceID:    slot.ResourceID,
		RequirementID: in.RequirementID,
		WorkOrderID:   in.WorkOrderID,
		StartUTC:      dataverse.FormatISO(in.ScheduleStart),
		EndUTC:        dataverse.FormatISO(in.ScheduleEnd),
		StatusName:    bookingStatusName,
		Name:          name,
	})
	if err != nil {
		out.Status = "error"
		out.Message = "Creating the booking failed."
		out.Details = map[string]any{"error": logging.SanitizeError(err)}
		if bookingID != "" {
			out.Booking = &BookingRef{ID: bookingID}
			out.Message = "The booking record was created but linking it failed."
		}
		return out
	}

	booking, err := s.gateway.GetBooking(ctx, bookingID)
	if err != nil {
		out.Status = "error"
		out.Message = "The booking was created but could not be verified."
		out.Booking = &BookingRef{ID: bookingID}
		out.Details = map[string]any{"error": logging.SanitizeError(err)}
		return out
	}

	out.Status = "ok"
	out.Booking = bookingRefFromRecord(bookingID, booking)
	return out
}

func (s *Service) chainFailure(out *ScheduleResult, message string, err error, nextStep string) *ScheduleResult {
	out.Status = "error"
	out.Message = message
	out.Details = map[string]any{}
	if err != nil {
		out.Details["error"] = logging.SanitizeError(err)
	}
	if nextStep != "" {
		out.Details["next_step"] = nextStep
	}
	return out
}

func bookingRefFromRecord(bookingID string, record map[string]any) *BookingRef {
	ref := &BookingRef{ID: bookingID}
	if record != nil {
		ref.Start, _ = record["starttime"].(string)
		ref.End, _ = record["endtime"].(string)
	}
	return ref
}

func ref(r TimeRange) *TimeRange { return &r }
