package scheduling

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fieldline-inc/fieldline-engine/pkg/config"
	"github.com/fieldline-inc/fieldline-engine/pkg/dataverse"
)

func testSchedulingConfig(t *testing.T) config.SchedulingConfig {
	t.Helper()
	return config.SchedulingConfig{
		JobName:                        "Boiler Repair",
		ResourceName:                   "Field Engineer",
		LeadTimeMinutes:                30,
		GranularityMinutes:             30,
		BusinessOpenHour:               8,
		BusinessCloseHour:              18,
		Timezone:                       "Europe/London",
		AvailabilityCacheTTLSeconds:    180,
		RequirementPollTimeoutSeconds:  1,
		RequirementPollIntervalSeconds: 0,
		IdempotencyFile:                filepath.Join(t.TempDir(), "idempotency.json"),
		WorkLocationCode:               690970000,
		TimeWindowTimezoneCode:         85,
	}
}

func newTestService(t *testing.T, gw Gateway, cfg config.SchedulingConfig, allowWrites bool) *Service {
	t.Helper()
	store, err := NewFileStore(cfg.IdempotencyFile)
	require.NoError(t, err)

	svc, err := NewService(gw, store, cfg, allowWrites, zap.NewNop())
	require.NoError(t, err)

	now := time.Date(2026, 1, 15, 7, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	svc.policy.Now = svc.now
	return svc
}

func scheduleInput() ScheduleInput {
	return ScheduleInput{
		ContactID:       "contact-1",
		WindowStart:     time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC),
		WindowEnd:       time.Date(2026, 1, 15, 18, 0, 0, 0, time.UTC),
		PreferredStart:  time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC),
		DurationMinutes: 120,
		Priority:        "normal",
		CreateCase:      true,
	}
}

// availableGateway scripts the requirement-based search to return a
// concrete slot covering the requested interval.
func availableGateway() *fakeGateway {
	gw := newFakeGateway()
	gw.actions[actionSearchAvailability] = true
	gw.invoke = func(action string, payload map[string]any) (map[string]any, error) {
		return timeSlotResponse("r1", "2026-01-15T09:00:00Z", "2026-01-15T11:00:00Z"), nil
	}
	return gw
}

func TestScheduleRequestHappyPath(t *testing.T) {
	gw := availableGateway()
	svc := newTestService(t, gw, testSchedulingConfig(t), true)

	result := svc.ScheduleRequest(context.Background(), scheduleInput())

	require.Equal(t, "ok", result.Status, "message: %s details: %v", result.Message, result.Details)
	assert.False(t, result.IdempotentReplay)
	require.NotNil(t, result.Case)
	require.NotNil(t, result.WorkOrder)
	require.NotNil(t, result.Requirement)
	require.NotNil(t, result.Booking)
	assert.Equal(t, "booking-1", result.Booking.ID)
	assert.Equal(t, "2026-01-15T09:00:00Z", result.Requested.Start)
	assert.Equal(t, "2026-01-15T11:00:00Z", result.Requested.End)
}

func TestScheduleRequestIdempotentReplay(t *testing.T) {
	gw := availableGateway()
	workOrders := 0
	gw.createWorkOrder = func() (string, error) {
		workOrders++
		return "wo-1", nil
	}
	svc := newTestService(t, gw, testSchedulingConfig(t), true)

	first := svc.ScheduleRequest(context.Background(), scheduleInput())
	require.Equal(t, "ok", first.Status)

	second := svc.ScheduleRequest(context.Background(), scheduleInput())
	require.Equal(t, "ok", second.Status)
	assert.True(t, second.IdempotentReplay)
	assert.Equal(t, first.Booking.ID, second.Booking.ID)
	assert.Equal(t, 1, workOrders, "replay must not create a second chain")
}

func TestScheduleRequestStaleReplayCreatesFreshChain(t *testing.T) {
	gw := availableGateway()
	bookings := 0
	gw.createBooking = func(req dataverse.BookingRequest) (string, error) {
		bookings++
		if bookings == 1 {
			return "booking-1", nil
		}
		return "booking-2", nil
	}
	deleted := false
	gw.getBooking = func(id string) (map[string]any, error) {
		if deleted && id == "booking-1" {
			return nil, &dataverse.NotFoundError{Path: "bookableresourcebookings(booking-1)"}
		}
		return map[string]any{
			"bookableresourcebookingid": id,
			"starttime":                 "2026-01-15T09:00:00Z",
			"endtime":                   "2026-01-15T11:00:00Z",
		}, nil
	}
	svc := newTestService(t, gw, testSchedulingConfig(t), true)

	first := svc.ScheduleRequest(context.Background(), scheduleInput())
	require.Equal(t, "ok", first.Status)
	require.Equal(t, "booking-1", first.Booking.ID)

	// The booking disappears from the vendor store between calls.
	deleted = true

	second := svc.ScheduleRequest(context.Background(), scheduleInput())
	require.Equal(t, "ok", second.Status, "message: %s details: %v", second.Message, second.Details)
	assert.False(t, second.IdempotentReplay)
	assert.Equal(t, "booking-2", second.Booking.ID)
	assert.Equal(t, 2, bookings)
}

func TestScheduleRequestBlockedWithoutNetworkCalls(t *testing.T) {
	gw := availableGateway()
	svc := newTestService(t, gw, testSchedulingConfig(t), false)

	result := svc.ScheduleRequest(context.Background(), scheduleInput())

	assert.Equal(t, "blocked", result.Status)
	assert.Zero(t, gw.networkCalls)
}

func TestBookRequirementBlockedWithoutNetworkCalls(t *testing.T) {
	gw := availableGateway()
	svc := newTestService(t, gw, testSchedulingConfig(t), false)

	result := svc.BookRequirement(context.Background(), BookInput{
		RequirementID: "req-1",
		ScheduleStart: time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC),
		ScheduleEnd:   time.Date(2026, 1, 15, 11, 0, 0, 0, time.UTC),
	})

	assert.Equal(t, "blocked", result.Status)
	assert.Zero(t, gw.networkCalls)
}

func TestScheduleRequestRejectsStartOutsideWindow(t *testing.T) {
	gw := availableGateway()
	svc := newTestService(t, gw, testSchedulingConfig(t), true)

	in := scheduleInput()
	in.PreferredStart = time.Date(2026, 1, 15, 17, 30, 0, 0, time.UTC) // +2h runs past the window

	result := svc.ScheduleRequest(context.Background(), in)

	assert.Equal(t, "error", result.Status)
	assert.Contains(t, result.Message, "outside the selected window")
	assert.Zero(t, gw.networkCalls)
}

func TestScheduleRequestPreservesChainPrefixOnPollTimeout(t *testing.T) {
	gw := availableGateway()
	gw.requirements = func() ([]map[string]any, error) {
		return nil, nil
	}
	svc := newTestService(t, gw, testSchedulingConfig(t), true)

	result := svc.ScheduleRequest(context.Background(), scheduleInput())

	require.Equal(t, "error", result.Status)
	require.NotNil(t, result.Case)
	require.NotNil(t, result.WorkOrder)
	assert.Nil(t, result.Requirement)
	assert.Contains(t, result.Details["next_step"], "existing work order")
}

func TestScheduleRequestPrefersForeignNamedRequirement(t *testing.T) {
	gw := availableGateway()
	gw.requirements = func() ([]map[string]any, error) {
		return []map[string]any{
			{"msdyn_resourcerequirementid": "req-old", "msdyn_name": "Boiler Repair"},
			{"msdyn_resourcerequirementid": "req-auto", "msdyn_name": "Work Order 00042"},
		}, nil
	}
	svc := newTestService(t, gw, testSchedulingConfig(t), true)

	result := svc.ScheduleRequest(context.Background(), scheduleInput())

	require.Equal(t, "ok", result.Status)
	assert.Equal(t, "req-auto", result.Requirement.ID)
}

func TestSearchAvailabilityTagsGenericFallback(t *testing.T) {
	gw := newFakeGateway()
	gw.actions[actionSearchAvailability] = true
	gw.actions[actionSearchAvailabilityV2] = true
	gw.actions[actionRequirementGroup] = true
	gw.invoke = func(action string, payload map[string]any) (map[string]any, error) {
		if action == actionRequirementGroup {
			return timeSlotResponse("r1", "2026-01-15T09:00:00Z", "2026-01-15T18:00:00Z"), nil
		}
		return map[string]any{"TimeSlots": []any{}}, nil
	}
	svc := newTestService(t, gw, testSchedulingConfig(t), true)

	result := svc.SearchAvailability(context.Background(), SearchRequest{
		RequirementID:   "req-1",
		WindowStart:     time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC),
		WindowEnd:       time.Date(2026, 1, 15, 18, 0, 0, 0, time.UTC),
		DurationMinutes: 120,
	})

	require.Equal(t, "ok", result.Status)
	assert.True(t, strings.HasPrefix(result.Action, "fallback:"), "action was %q", result.Action)
	assert.Equal(t, "fallback:"+actionRequirementGroup, result.Action)
	assert.Contains(t, result.Details, "requirement_search")
	assert.Contains(t, result.Details, "generic_search")
	assert.NotEmpty(t, result.Message)
}

func TestSearchAvailabilityServesRepeatQueriesFromCache(t *testing.T) {
	gw := availableGateway()
	svc := newTestService(t, gw, testSchedulingConfig(t), true)

	req := SearchRequest{
		WindowStart:     time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC),
		WindowEnd:       time.Date(2026, 1, 15, 18, 0, 0, 0, time.UTC),
		DurationMinutes: 60,
	}
	// Generic path: no requirement-group action scripted, so enable it.
	gw.actions[actionRequirementGroup] = true

	first := svc.SearchAvailability(context.Background(), req)
	require.Equal(t, "ok", first.Status)
	callsAfterFirst := gw.networkCalls

	second := svc.SearchAvailability(context.Background(), req)
	require.Equal(t, "ok", second.Status)
	assert.Equal(t, callsAfterFirst, gw.networkCalls, "second identical search must be served from cache")
}

func TestSearchAvailabilityCacheHonorsSlotCap(t *testing.T) {
	gw := newFakeGateway()
	gw.actions[actionRequirementGroup] = true
	gw.invoke = func(action string, payload map[string]any) (map[string]any, error) {
		return map[string]any{
			"TimeSlots": []any{
				map[string]any{"StartTime": "2026-01-15T09:00:00Z", "EndTime": "2026-01-15T11:00:00Z", "ResourceId": "r1"},
				map[string]any{"StartTime": "2026-01-15T11:00:00Z", "EndTime": "2026-01-15T13:00:00Z", "ResourceId": "r1"},
				map[string]any{"StartTime": "2026-01-15T13:00:00Z", "EndTime": "2026-01-15T15:00:00Z", "ResourceId": "r1"},
			},
		}, nil
	}
	svc := newTestService(t, gw, testSchedulingConfig(t), true)

	req := SearchRequest{
		WindowStart:     time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC),
		WindowEnd:       time.Date(2026, 1, 15, 18, 0, 0, 0, time.UTC),
		DurationMinutes: 60,
		MaxSlots:        1,
	}
	first := svc.SearchAvailability(context.Background(), req)
	require.Equal(t, "ok", first.Status)
	require.Len(t, first.Slots, 1)

	req.MaxSlots = 10
	second := svc.SearchAvailability(context.Background(), req)
	require.Equal(t, "ok", second.Status)
	assert.Len(t, second.Slots, 3, "a wider slot cap must not be served a narrower caller's cached result")

	callsAfterSecond := gw.networkCalls
	third := svc.SearchAvailability(context.Background(), req)
	require.Equal(t, "ok", third.Status)
	assert.Equal(t, callsAfterSecond, gw.networkCalls, "a repeat with the same cap is served from cache")
}

func TestSearchAvailabilityRejectsInvertedWindow(t *testing.T) {
	gw := newFakeGateway()
	svc := newTestService(t, gw, testSchedulingConfig(t), true)

	result := svc.SearchAvailability(context.Background(), SearchRequest{
		WindowStart: time.Date(2026, 1, 15, 18, 0, 0, 0, time.UTC),
		WindowEnd:   time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC),
	})

	assert.Equal(t, "error", result.Status)
	assert.Zero(t, gw.networkCalls)
}

func TestParsePreferredStartAcceptsBareClockTime(t *testing.T) {
	gw := newFakeGateway()
	svc := newTestService(t, gw, testSchedulingConfig(t), true)

	got, err := svc.ParsePreferredStart("14:30")
	require.NoError(t, err)
	// now is fixed at 2026-01-15T07:00Z; January London local == UTC.
	assert.Equal(t, time.Date(2026, 1, 15, 14, 30, 0, 0, time.UTC), got)

	got, err = svc.ParsePreferredStart("2026-01-15T09:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC), got)

	_, err = svc.ParsePreferredStart("next tuesday")
	assert.Error(t, err)
}

func TestResolveConcreteSlotUsesGenericSearchAsLastResort(t *testing.T) {
	gw := newFakeGateway()
	// Requirement-scoped search returns only an anonymous slot; the generic
	// search knows the actual engineer.
	gw.actions[actionSearchAvailability] = true
	gw.actions[actionRequirementGroup] = true
	gw.invoke = func(action string, payload map[string]any) (map[string]any, error) {
		if action == actionRequirementGroup {
			return timeSlotResponse("r7", "2026-01-15T09:00:00Z", "2026-01-15T11:00:00Z"), nil
		}
		return map[string]any{
			"TimeSlots": []any{
				map[string]any{"StartTime": "2026-01-15T09:00:00Z", "EndTime": "2026-01-15T11:00:00Z"},
			},
		}, nil
	}
	svc := newTestService(t, gw, testSchedulingConfig(t), true)

	result := svc.BookRequirement(context.Background(), BookInput{
		RequirementID: "req-1",
		ScheduleStart: time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC),
		ScheduleEnd:   time.Date(2026, 1, 15, 11, 0, 0, 0, time.UTC),
	})

	require.Equal(t, "ok", result.Status, "message: %s details: %v", result.Message, result.Details)
	require.NotNil(t, result.Fallback)
	assert.True(t, result.Fallback.Used)
	assert.Equal(t, "r7", strings.SplitN(result.SelectedSlot, "|", 2)[0])
}
