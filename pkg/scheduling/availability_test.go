package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fieldline-inc/fieldline-engine/pkg/dataverse"
)

// fakeGateway is a scriptable Gateway. Every call increments networkCalls
// so the write-gate tests can assert nothing went out.
type fakeGateway struct {
	networkCalls int

	actions      map[string]bool
	invoke       func(action string, payload map[string]any) (map[string]any, error)
	boardSetting string
	boardErr     error
	metadataID   string
	metadataErr  error

	createCase      func() (string, error)
	createWorkOrder func() (string, error)
	requirements    func() ([]map[string]any, error)
	updateReqErr    error
	createBooking   func(req dataverse.BookingRequest) (string, error)
	getBooking      func(id string) (map[string]any, error)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		actions:      map[string]bool{},
		boardSetting: "board-1",
		metadataID:   "meta-1",
	}
}

func (f *fakeGateway) EnvironmentID() string { return "test-org|v9.2" }

func (f *fakeGateway) ProbeActionExists(ctx context.Context, action string) bool {
	f.networkCalls++
	return f.actions[action]
}

func (f *fakeGateway) InvokeAction(ctx context.Context, action string, payload map[string]any) (map[string]any, error) {
	f.networkCalls++
	if f.invoke == nil {
		return nil, fmt.Errorf("no invoke scripted for %s", action)
	}
	return f.invoke(action, payload)
}

func (f *fakeGateway) GetScheduleBoardSettingID(ctx context.Context) (string, error) {
	f.networkCalls++
	return f.boardSetting, f.boardErr
}

func (f *fakeGateway) GetBookingSetupMetadataID(ctx context.Context) (string, error) {
	f.networkCalls++
	return f.metadataID, f.metadataErr
}

func (f *fakeGateway) CreateCaseForContact(ctx context.Context, contactID, title, description, priority, origin string) (string, error) {
	f.networkCalls++
	if f.createCase == nil {
		return "case-1", nil
	}
	return f.createCase()
}

func (f *fakeGateway) CreateWorkOrder(ctx context.Context, caseID, summary, priority string) (string, error) {
	f.networkCalls++
	if f.createWorkOrder == nil {
		return "wo-1", nil
	}
	return f.createWorkOrder()
}

func (f *fakeGateway) ListRequirementsForWorkOrder(ctx context.Context, workOrderID string, top int) ([]map[string]any, error) {
	f.networkCalls++
	if f.requirements == nil {
		return []map[string]any{{"msdyn_resourcerequirementid": "req-1", "msdyn_name": "auto"}}, nil
	}
	return f.requirements()
}

func (f *fakeGateway) UpdateRequirement(ctx context.Context, requirementID string, fields map[string]any) error {
	f.networkCalls++
	return f.updateReqErr
}

func (f *fakeGateway) CreateBooking(ctx context.Context, req dataverse.BookingRequest) (string, error) {
	f.networkCalls++
	if f.createBooking == nil {
		return "booking-1", nil
	}
	return f.createBooking(req)
}

func (f *fakeGateway) GetBooking(ctx context.Context, bookingID string) (map[string]any, error) {
	f.networkCalls++
	if f.getBooking == nil {
		return map[string]any{
			"bookableresourcebookingid": bookingID,
			"starttime":                 "2026-01-15T09:00:00Z",
			"endtime":                   "2026-01-15T11:00:00Z",
		}, nil
	}
	return f.getBooking(bookingID)
}

func timeSlotResponse(resourceID, start, end string) map[string]any {
	return map[string]any{
		"TimeSlots": []any{
			map[string]any{
				"StartTime":  start,
				"EndTime":    end,
				"ResourceId": resourceID,
			},
		},
	}
}

func testQuery(requirementID string) AvailabilityQuery {
	return AvailabilityQuery{
		RequirementID: requirementID,
		WindowStart:   time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC),
		WindowEnd:     time.Date(2026, 1, 15, 18, 0, 0, 0, time.UTC),
		Duration:      2 * time.Hour,
		MaxTimeSlots:  10,
	}
}

func TestNormalizerFallsBackToV2WhenLegacyAbsent(t *testing.T) {
	gw := newFakeGateway()
	gw.actions[actionSearchAvailabilityV2] = true
	gw.invoke = func(action string, payload map[string]any) (map[string]any, error) {
		require.Equal(t, actionSearchAvailabilityV2, action)
		return timeSlotResponse("r1", "2026-01-15T09:00:00Z", "2026-01-15T18:00:00Z"), nil
	}

	n := NewNormalizer(gw, zap.NewNop())
	result := n.Search(context.Background(), testQuery("req-1"))

	require.True(t, result.OK())
	assert.Equal(t, actionSearchAvailabilityV2, result.Action)
	assert.Equal(t, []string{actionSearchAvailability, actionSearchAvailabilityV2}, result.Attempted)
	assert.Contains(t, result.Diagnostics, actionSearchAvailability)
	require.Len(t, result.Slots, 1)
	assert.Equal(t, "r1", result.Slots[0].ResourceID)
}

func TestNormalizerDoesNotSilentlyDowngradeRequirementSearch(t *testing.T) {
	gw := newFakeGateway()
	gw.actions[actionSearchAvailability] = true
	gw.actions[actionSearchAvailabilityV2] = true
	// Both requirement actions exist but return nothing; the generic actions
	// would succeed, and must not be consulted.
	gw.actions[actionRequirementGroup] = true
	gw.invoke = func(action string, payload map[string]any) (map[string]any, error) {
		if action == actionRequirementGroup {
			return timeSlotResponse("r1", "2026-01-15T09:00:00Z", "2026-01-15T18:00:00Z"), nil
		}
		return map[string]any{"TimeSlots": []any{}}, nil
	}

	n := NewNormalizer(gw, zap.NewNop())
	result := n.Search(context.Background(), testQuery("req-1"))

	assert.Equal(t, "error", result.Status)
	assert.Equal(t, []string{actionSearchAvailability, actionSearchAvailabilityV2}, result.Attempted)
	assert.NotContains(t, result.Attempted, actionRequirementGroup)
}

func TestNormalizerRequirementSearchNeedsBoardSettings(t *testing.T) {
	gw := newFakeGateway()
	gw.boardSetting = ""
	gw.boardErr = fmt.Errorf("no schedule board settings record")

	n := NewNormalizer(gw, zap.NewNop())
	result := n.Search(context.Background(), testQuery("req-1"))

	assert.Equal(t, "error", result.Status)
	assert.Empty(t, result.Attempted)
	assert.Contains(t, result.Diagnostics, "schedule_board_settings")
}

func TestNormalizerGenericPathFallsBackToPipeline(t *testing.T) {
	gw := newFakeGateway()
	gw.actions[actionFPSPipeline] = true
	outBag, err := json.Marshal(map[string]any{
		"Resources": []any{
			map[string]any{
				"ResourceId":   "r9",
				"ResourceName": "Engineer Nine",
				"Slots": []any{
					map[string]any{"Start": "2026-01-15T10:00:00Z", "End": "2026-01-15T14:00:00Z"},
				},
			},
		},
	})
	require.NoError(t, err)
	gw.invoke = func(action string, payload map[string]any) (map[string]any, error) {
		require.Equal(t, actionFPSPipeline, action)
		// The pipeline takes a double-encoded InBag.
		inBag, ok := payload["InBag"].(string)
		require.True(t, ok)
		var decoded map[string]any
		require.NoError(t, json.Unmarshal([]byte(inBag), &decoded))
		return map[string]any{"OutBag": string(outBag)}, nil
	}

	n := NewNormalizer(gw, zap.NewNop())
	result := n.Search(context.Background(), testQuery(""))

	require.True(t, result.OK())
	assert.Equal(t, actionFPSPipeline, result.Action)
	assert.Equal(t, []string{actionRequirementGroup, actionFPSPipeline}, result.Attempted)
	require.Len(t, result.Slots, 1)
	assert.Equal(t, "r9", result.Slots[0].ResourceID)
	assert.Equal(t, "Engineer Nine", result.Slots[0].ResourceName)
}

func TestNormalizerTreatsPlaceholderStubsAsNoSlots(t *testing.T) {
	gw := newFakeGateway()
	gw.actions[actionSearchAvailability] = true
	gw.invoke = func(action string, payload map[string]any) (map[string]any, error) {
		return map[string]any{
			"TimeSlots": []any{
				map[string]any{"@odata.type": "#Microsoft.Dynamics.CRM.expando"},
				map[string]any{"@odata.type": "#Microsoft.Dynamics.CRM.expando"},
			},
		}, nil
	}

	n := NewNormalizer(gw, zap.NewNop())
	result := n.Search(context.Background(), testQuery("req-1"))

	assert.Equal(t, "error", result.Status)
	assert.Equal(t, "returned no usable slots", result.Diagnostics[actionSearchAvailability])
}

func TestNormalizerFiltersPinnedResourceSilently(t *testing.T) {
	gw := newFakeGateway()
	gw.actions[actionSearchAvailability] = true
	gw.invoke = func(action string, payload map[string]any) (map[string]any, error) {
		return map[string]any{
			"TimeSlots": []any{
				map[string]any{"StartTime": "2026-01-15T09:00:00Z", "EndTime": "2026-01-15T12:00:00Z", "ResourceId": "other"},
				map[string]any{"StartTime": "2026-01-15T13:00:00Z", "EndTime": "2026-01-15T16:00:00Z", "ResourceId": "PINNED"},
			},
		}, nil
	}

	q := testQuery("req-1")
	q.OnlyResourceID = "pinned"

	n := NewNormalizer(gw, zap.NewNop())
	result := n.Search(context.Background(), q)

	require.True(t, result.OK())
	require.Len(t, result.Slots, 1)
	assert.Equal(t, "PINNED", result.Slots[0].ResourceID)
}

func TestNormalizerAccumulatesDiagnosticsPerAction(t *testing.T) {
	gw := newFakeGateway()
	gw.actions[actionSearchAvailability] = true
	gw.actions[actionSearchAvailabilityV2] = true
	gw.invoke = func(action string, payload map[string]any) (map[string]any, error) {
		return nil, fmt.Errorf("%s: status 403: permission denied", action)
	}

	n := NewNormalizer(gw, zap.NewNop())
	result := n.Search(context.Background(), testQuery("req-1"))

	assert.Equal(t, "error", result.Status)
	assert.Contains(t, result.Diagnostics[actionSearchAvailability], "403")
	assert.Contains(t, result.Diagnostics[actionSearchAvailabilityV2], "403")
}

func TestSlotFromMapHandlesNestedResource(t *testing.T) {
	slot, ok := slotFromMap(map[string]any{
		"Start": "2026-01-15T09:00:00Z",
		"End":   "2026-01-15T11:00:00Z",
		"Resource": map[string]any{
			"bookableresourceid": "r5",
			"name":               "Engineer Five",
		},
	})

	require.True(t, ok)
	assert.Equal(t, "r5", slot.ResourceID)
	assert.Equal(t, "Engineer Five", slot.ResourceName)
}

func TestSlotFromMapDefaultsUnknownResource(t *testing.T) {
	slot, ok := slotFromMap(map[string]any{
		"Start": "2026-01-15T09:00:00Z",
		"End":   "2026-01-15T11:00:00Z",
	})

	require.True(t, ok)
	assert.Equal(t, UnknownResource, slot.ResourceID)
	assert.False(t, slot.Concrete())
}
