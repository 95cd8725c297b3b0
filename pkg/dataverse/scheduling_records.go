package dataverse

import (
	"context"
	"fmt"
)

// Scheduling-side records: resource requirements, bookable resource
// bookings, and the two auxiliary configuration records the availability
// actions depend on.

// ListRequirementsForWorkOrder lists the resource requirements linked to a
// work order, oldest first so callers can prefer the platform-created one.
func (c *Client) ListRequirementsForWorkOrder(ctx context.Context, workOrderID string, top int) ([]map[string]any, error) {
	attr := c.ResolveReferencingAttribute(ctx, "msdyn_resourcerequirement", "msdyn_workorder")
	if attr == "" {
		attr = "msdyn_workorder"
	}
	path := fmt.Sprintf(
		"msdyn_resourcerequirements?$select=msdyn_resourcerequirementid,msdyn_name,msdyn_fromdate,msdyn_todate,msdyn_duration,createdon&$filter=_%s_value eq %s&$orderby=createdon asc&$top=%d",
		attr, NormalizeGUID(workOrderID), clampTop(top),
	)
	return c.GetCollection(ctx, path)
}

// UpdateRequirement patches fields on a resource requirement.
func (c *Client) UpdateRequirement(ctx context.Context, requirementID string, fields map[string]any) error {
	return c.Update(ctx, "msdyn_resourcerequirements", requirementID, fields)
}

// GetBooking fetches a booking by id with a minimal select; used both to
// verify a create persisted and to re-verify idempotent replays.
func (c *Client) GetBooking(ctx context.Context, bookingID string) (map[string]any, error) {
	path := fmt.Sprintf("bookableresourcebookings(%s)?$select=bookableresourcebookingid,starttime,endtime", NormalizeGUID(bookingID))
	return c.Get(ctx, path)
}

// FindBookingStatus resolves a booking status record by name (e.g.
// "Scheduled").
func (c *Client) FindBookingStatus(ctx context.Context, name string) (string, error) {
	path := fmt.Sprintf("bookingstatuses?$select=bookingstatusid,name&$filter=name eq '%s'&$top=1", ODataEscape(name))
	items, err := c.GetCollection(ctx, path)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", &NotFoundError{Path: "bookingstatuses name=" + name}
	}
	id, _ := items[0]["bookingstatusid"].(string)
	return id, nil
}

// BookingRequest describes a bookable resource booking to create.
type BookingRequest struct {
	ResourceID    string
	RequirementID string
	WorkOrderID   string
	StartUTC      string
	EndUTC        string
	StatusName    string
	Name          string
}

// CreateBooking creates a bookable resource booking bound to a resource, a
// requirement and optionally a work order. The resource and status bindings
// are part of the create payload (the platform rejects status-less
// bookings); the requirement and work order links are bound afterwards via
// the fallback name lists because those navigation names vary across orgs.
func (c *Client) CreateBooking(ctx context.Context, req BookingRequest) (string, error) {
	statusID, err := c.FindBookingStatus(ctx, req.StatusName)
	if err != nil {
		return "", fmt.Errorf("resolve booking status %q: %w", req.StatusName, err)
	}

	payload := map[string]any{
		"name":                     req.Name,
		"starttime":                req.StartUTC,
		"endtime":                  req.EndUTC,
		"Resource@odata.bind":      fmt.Sprintf("/bookableresources(%s)", NormalizeGUID(req.ResourceID)),
		"BookingStatus@odata.bind": fmt.Sprintf("/bookingstatuses(%s)", statusID),
	}

	bookingID, err := c.Create(ctx, "bookableresourcebookings", payload)
	if err != nil {
		return "", err
	}

	// A booking row references msdyn_resourcerequirement through one lookup
	// and may reference the same entity through unrelated lookups, so the
	// attribute-pinned resolution goes first.
	reqTarget := fmt.Sprintf("/msdyn_resourcerequirements(%s)", NormalizeGUID(req.RequirementID))
	reqCandidates := dedupeCandidates([]BindingCandidate{
		{Navigation: c.ResolveNavigationForAttribute(ctx, "bookableresourcebooking", "msdyn_resourcerequirement"), Target: reqTarget},
		{Navigation: "msdyn_ResourceRequirement", Target: reqTarget},
		{Navigation: "msdyn_resourcerequirement", Target: reqTarget},
	})
	if _, err := c.BindLookup(ctx, "bookableresourcebookings", bookingID, reqCandidates); err != nil {
		return bookingID, fmt.Errorf("booking %s created but requirement binding failed: %w", bookingID, err)
	}

	if req.WorkOrderID != "" {
		woTarget := fmt.Sprintf("/msdyn_workorders(%s)", NormalizeGUID(req.WorkOrderID))
		woCandidates := dedupeCandidates([]BindingCandidate{
			{Navigation: c.ResolveNavigationForAttribute(ctx, "bookableresourcebooking", "msdyn_workorder"), Target: woTarget},
			{Navigation: "msdyn_WorkOrder", Target: woTarget},
			{Navigation: "msdyn_workorder", Target: woTarget},
		})
		if _, err := c.BindLookup(ctx, "bookableresourcebookings", bookingID, woCandidates); err != nil {
			return bookingID, fmt.Errorf("booking %s created but work order binding failed: %w", bookingID, err)
		}
	}

	return bookingID, nil
}

// scheduleBoardSettingsSets lists the entity-set spellings seen in the
// wild; older orgs expose the irregular plural.
var scheduleBoardSettingsSets = []string{"msdyn_scheduleboardsettings", "msdyn_scheduleboardsettinges"}

// GetScheduleBoardSettingID returns the id of any schedule board settings
// record. The requirement-based availability actions require one; its
// absence is a deployment misconfiguration the caller must surface.
func (c *Client) GetScheduleBoardSettingID(ctx context.Context) (string, error) {
	var lastErr error
	for _, entitySet := range scheduleBoardSettingsSets {
		path := fmt.Sprintf("%s?$select=msdyn_scheduleboardsettingid&$top=1", entitySet)
		items, err := c.GetCollection(ctx, path)
		if err != nil {
			lastErr = err
			continue
		}
		if len(items) > 0 {
			if id, ok := items[0]["msdyn_scheduleboardsettingid"].(string); ok && id != "" {
				return id, nil
			}
		}
		lastErr = &NotFoundError{Path: entitySet}
	}
	return "", fmt.Errorf("no schedule board settings record: %w", lastErr)
}

// GetBookingSetupMetadataID returns the id of the org's booking setup
// metadata record, required by the legacy pipeline action only.
func (c *Client) GetBookingSetupMetadataID(ctx context.Context) (string, error) {
	path := "msdyn_bookingsetupmetadatas?$select=msdyn_bookingsetupmetadataid&$top=1"
	items, err := c.GetCollection(ctx, path)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", &NotFoundError{Path: "msdyn_bookingsetupmetadatas"}
	}
	id, _ := items[0]["msdyn_bookingsetupmetadataid"].(string)
	return id, nil
}
