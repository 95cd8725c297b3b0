package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fieldline-inc/fieldline-engine/pkg/dataverse"
	"github.com/fieldline-inc/fieldline-engine/pkg/jsonutil"
	"github.com/fieldline-inc/fieldline-engine/pkg/logging"
)

// Gateway is the slice of the Dataverse client the scheduling core needs.
// *dataverse.Client satisfies it; tests use fakes.
type Gateway interface {
	EnvironmentID() string
	ProbeActionExists(ctx context.Context, action string) bool
	InvokeAction(ctx context.Context, action string, payload map[string]any) (map[string]any, error)
	GetScheduleBoardSettingID(ctx context.Context) (string, error)
	GetBookingSetupMetadataID(ctx context.Context) (string, error)
	CreateCaseForContact(ctx context.Context, contactID, title, description, priority, origin string) (string, error)
	CreateWorkOrder(ctx context.Context, caseID, summary, priority string) (string, error)
	ListRequirementsForWorkOrder(ctx context.Context, workOrderID string, top int) ([]map[string]any, error)
	UpdateRequirement(ctx context.Context, requirementID string, fields map[string]any) error
	CreateBooking(ctx context.Context, req dataverse.BookingRequest) (string, error)
	GetBooking(ctx context.Context, bookingID string) (map[string]any, error)
}

// Vendor availability actions, in the priority order the normalizer tries
// them. Which of these exist varies per org.
const (
	actionSearchAvailability   = "msdyn_SearchResourceAvailability"
	actionSearchAvailabilityV2 = "msdyn_SearchResourceAvailabilityV2"
	actionRequirementGroup     = "msdyn_SearchResourceAvailabilityForRequirementGroup"
	actionFPSPipeline          = "msdyn_fspp_GetResourceAvailability"
)

// AvailabilityQuery describes one availability search.
type AvailabilityQuery struct {
	// RequirementID scopes the search to a specific requirement. Empty means
	// a generic self-service browse.
	RequirementID string
	WindowStart   time.Time
	WindowEnd     time.Time
	Duration      time.Duration
	MaxTimeSlots  int
	MaxResources  int
	// OnlyResourceID, when set, silently drops slots for other resources.
	OnlyResourceID string
}

// RawAvailability is the normalizer outcome before customer policy.
type RawAvailability struct {
	Status    string
	Action    string
	Message   string
	Attempted []string
	// Diagnostics maps each attempted action to what went wrong with it, so
	// operators can tell "org lacks the capability" from "request was
	// malformed" from "permission denied".
	Diagnostics map[string]any
	Slots       []RawSlot
}

// OK reports whether the search produced usable slots.
func (r *RawAvailability) OK() bool { return r.Status == "ok" }

// Normalizer tries the org's availability actions in priority order and
// maps their heterogeneous responses onto RawSlot.
type Normalizer struct {
	gateway Gateway
	logger  *zap.Logger
}

// NewNormalizer creates an availability normalizer.
func NewNormalizer(gateway Gateway, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{gateway: gateway, logger: logger}
}

// slotParser converts one action's response shape into raw slots. Returning
// an empty slice means "no data", which sends the loop to the next action.
type slotParser func(resp map[string]any) []RawSlot

type actionAttempt struct {
	name    string
	payload func(ctx context.Context) (map[string]any, error)
	parse   slotParser
}

// Search runs the action selection state machine. With a requirement id the
// requirement-based actions are authoritative: when both come up empty the
// result is an error, never a silent downgrade to a different scheduling
// model - that can mask real misconfiguration of a requirement the caller
// explicitly asked about. Without a requirement id the generic actions are
// tried instead.
func (n *Normalizer) Search(ctx context.Context, q AvailabilityQuery) *RawAvailability {
	out := &RawAvailability{
		Status:      "error",
		Diagnostics: map[string]any{},
	}

	var attempts []actionAttempt
	if q.RequirementID != "" {
		settingID, err := n.gateway.GetScheduleBoardSettingID(ctx)
		if err != nil {
			out.Message = "Requirement-based availability needs a schedule board settings record and this org has none."
			out.Diagnostics["schedule_board_settings"] = logging.SanitizeError(err)
			return out
		}
		attempts = []actionAttempt{
			n.requirementAttempt(actionSearchAvailability, q, settingID),
			n.requirementAttempt(actionSearchAvailabilityV2, q, settingID),
		}
	} else {
		attempts = []actionAttempt{
			n.requirementGroupAttempt(q),
			n.fpsPipelineAttempt(q),
		}
	}

	for _, attempt := range attempts {
		out.Attempted = append(out.Attempted, attempt.name)

		if !n.gateway.ProbeActionExists(ctx, attempt.name) {
			out.Diagnostics[attempt.name] = "action not present in this org"
			continue
		}

		payload, err := attempt.payload(ctx)
		if err != nil {
			out.Diagnostics[attempt.name] = logging.SanitizeError(err)
			continue
		}

		resp, err := n.gateway.InvokeAction(ctx, attempt.name, payload)
		if err != nil {
			out.Diagnostics[attempt.name] = logging.SanitizeError(err)
			continue
		}

		slots := filterSlots(attempt.parse(resp), q.OnlyResourceID)
		if len(slots) == 0 {
			out.Diagnostics[attempt.name] = "returned no usable slots"
			continue
		}

		sort.Slice(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })
		if q.MaxTimeSlots > 0 && len(slots) > q.MaxTimeSlots {
			slots = slots[:q.MaxTimeSlots]
		}

		out.Status = "ok"
		out.Action = attempt.name
		out.Slots = slots
		return out
	}

	if q.RequirementID != "" {
		out.Message = "No requirement-based availability action returned slots for this requirement."
	} else {
		out.Message = "No availability action returned slots for this window."
	}
	return out
}

func (n *Normalizer) requirementAttempt(action string, q AvailabilityQuery, settingID string) actionAttempt {
	return actionAttempt{
		name: action,
		payload: func(ctx context.Context) (map[string]any, error) {
			return map[string]any{
				"Version":  "1.0",
				"IsWebApi": true,
				"Requirement": map[string]any{
					"@odata.type":                 "Microsoft.Dynamics.CRM.msdyn_resourcerequirement",
					"msdyn_resourcerequirementid": dataverse.NormalizeGUID(q.RequirementID),
					"msdyn_fromdate":              dataverse.FormatISO(q.WindowStart),
					"msdyn_todate":                dataverse.FormatISO(q.WindowEnd),
					"msdyn_duration":              int(q.Duration.Minutes()),
				},
				"Settings": map[string]any{
					"@odata.type":                  "Microsoft.Dynamics.CRM.msdyn_scheduleboardsetting",
					"msdyn_scheduleboardsettingid": settingID,
				},
			}, nil
		},
		parse: parseTimeSlotResponse,
	}
}

func (n *Normalizer) requirementGroupAttempt(q AvailabilityQuery) actionAttempt {
	return actionAttempt{
		name: actionRequirementGroup,
		payload: func(ctx context.Context) (map[string]any, error) {
			settingID, err := n.gateway.GetScheduleBoardSettingID(ctx)
			if err != nil {
				return nil, fmt.Errorf("schedule board settings record required: %w", err)
			}
			return map[string]any{
				"Version": "1.0",
				"Settings": map[string]any{
					"@odata.type":                  "Microsoft.Dynamics.CRM.msdyn_scheduleboardsetting",
					"msdyn_scheduleboardsettingid": settingID,
				},
				"Start":    dataverse.FormatISO(q.WindowStart),
				"End":      dataverse.FormatISO(q.WindowEnd),
				"Duration": int(q.Duration.Minutes()),
			}, nil
		},
		parse: parseTimeSlotResponse,
	}
}

// fpsPipelineAttempt is the lower-level legacy pipeline: a generic "find
// candidate resources for a window" RPC with a double-encoded InBag/OutBag
// payload. It needs two auxiliary configuration records; their absence is
// fatal for this path only.
func (n *Normalizer) fpsPipelineAttempt(q AvailabilityQuery) actionAttempt {
	return actionAttempt{
		name: actionFPSPipeline,
		payload: func(ctx context.Context) (map[string]any, error) {
			settingID, err := n.gateway.GetScheduleBoardSettingID(ctx)
			if err != nil {
				return nil, fmt.Errorf("schedule board settings record required: %w", err)
			}
			metadataID, err := n.gateway.GetBookingSetupMetadataID(ctx)
			if err != nil {
				return nil, fmt.Errorf("booking setup metadata record required: %w", err)
			}

			inBag := map[string]any{
				"StartDate":              dataverse.FormatISO(q.WindowStart),
				"EndDate":                dataverse.FormatISO(q.WindowEnd),
				"Duration":               int(q.Duration.Minutes()),
				"ScheduleBoardSettingId": settingID,
				"BookingSetupMetadataId": metadataID,
				"MaxNumberOfTimeSlots":   q.MaxTimeSlots,
				"MaxNumberOfResources":   q.MaxResources,
			}
			encoded, err := json.Marshal(inBag)
			if err != nil {
				return nil, fmt.Errorf("encode InBag: %w", err)
			}
			return map[string]any{"InBag": string(encoded)}, nil
		},
		parse: parseFPSResponse,
	}
}

// filterSlots drops slots for other resources when a single resource is
// pinned, and anything with a degenerate window.
func filterSlots(slots []RawSlot, onlyResourceID string) []RawSlot {
	out := make([]RawSlot, 0, len(slots))
	for _, s := range slots {
		if !s.End.After(s.Start) {
			continue
		}
		if onlyResourceID != "" && !strings.EqualFold(s.ResourceID, onlyResourceID) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// isPlaceholderList detects a known vendor quirk: a related-entity
// collection rendered as same-shaped stubs where every item carries exactly
// one key, the type discriminator, and no data. Such a list means "no
// slots", not malformed data.
func isPlaceholderList(items []any) bool {
	if len(items) == 0 {
		return false
	}
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok || len(m) != 1 {
			return false
		}
		for k := range m {
			if !strings.HasPrefix(k, "@") {
				return false
			}
		}
	}
	return true
}

// parseTimeSlotResponse handles the TimeSlots/Resources shape shared by the
// schedule-board actions. Key spellings drift across versions, so every
// lookup is tolerant.
func parseTimeSlotResponse(resp map[string]any) []RawSlot {
	items := collectionField(resp, "TimeSlots", "timeSlots", "Slots", "slots")
	if items == nil || isPlaceholderList(items) {
		return nil
	}

	var out []RawSlot
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		slot, ok := slotFromMap(m)
		if !ok {
			continue
		}
		out = append(out, slot)
	}
	return out
}

// parseFPSResponse unwraps the OutBag envelope: a JSON string holding
// either resources-with-slots or a flat slot list.
func parseFPSResponse(resp map[string]any) []RawSlot {
	outBag := jsonutil.StringField(resp, "OutBag")
	if outBag == "" {
		return nil
	}
	decoded, err := jsonutil.DecodeNested(outBag)
	if err != nil {
		return nil
	}

	if resources := collectionField(decoded, "Resources", "resources"); resources != nil && !isPlaceholderList(resources) {
		var out []RawSlot
		for _, r := range resources {
			rm, ok := r.(map[string]any)
			if !ok {
				continue
			}
			resourceID := firstString(rm, "ResourceId", "resourceid", "ResourceID", "id")
			resourceName := firstString(rm, "ResourceName", "resourcename", "Name", "name")
			for _, s := range collectionField(rm, "Slots", "slots", "TimeSlots") {
				sm, ok := s.(map[string]any)
				if !ok {
					continue
				}
				slot, ok := slotFromMap(sm)
				if !ok {
					continue
				}
				if slot.ResourceID == UnknownResource && resourceID != "" {
					slot.ResourceID = resourceID
				}
				if slot.ResourceName == "" {
					slot.ResourceName = resourceName
				}
				out = append(out, slot)
			}
		}
		return out
	}

	return parseTimeSlotResponse(decoded)
}

func slotFromMap(m map[string]any) (RawSlot, bool) {
	startRaw := firstString(m, "StartTime", "Start", "start", "starttime")
	endRaw := firstString(m, "EndTime", "End", "end", "endtime")
	if startRaw == "" || endRaw == "" {
		return RawSlot{}, false
	}
	start, err := dataverse.ParseISO(startRaw)
	if err != nil {
		return RawSlot{}, false
	}
	end, err := dataverse.ParseISO(endRaw)
	if err != nil {
		return RawSlot{}, false
	}

	resourceID := firstString(m, "ResourceId", "resourceid", "ResourceID")
	resourceName := firstString(m, "ResourceName", "resourcename")
	if nested, ok := m["Resource"].(map[string]any); ok {
		if resourceID == "" {
			resourceID = firstString(nested, "bookableresourceid", "ResourceId", "Id", "id")
		}
		if resourceName == "" {
			resourceName = firstString(nested, "name", "Name")
		}
	}
	if resourceID == "" {
		resourceID = UnknownResource
	}

	return RawSlot{
		ResourceID:   resourceID,
		ResourceName: resourceName,
		Start:        start,
		End:          end,
		Raw:          m,
	}, true
}

func collectionField(m map[string]any, keys ...string) []any {
	for _, k := range keys {
		if v, ok := m[k].([]any); ok {
			return v
		}
	}
	return nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := jsonutil.StringField(m, k); s != "" {
			return s
		}
	}
	return ""
}
