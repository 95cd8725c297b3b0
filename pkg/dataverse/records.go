package dataverse

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fieldline-inc/fieldline-engine/pkg/logging"
)

// CRM record helpers: contacts, cases (incidents) and work orders. These are
// deliberately plain OData queries; the interesting machinery lives in the
// availability and booking paths.

const maxCollectionTop = 500

func clampTop(top int) int {
	if top <= 0 {
		return 0
	}
	if top > maxCollectionTop {
		return maxCollectionTop
	}
	return top
}

// GetContact retrieves a contact by id, with an optional $select list.
func (c *Client) GetContact(ctx context.Context, contactID, selectFields string) (map[string]any, error) {
	path := fmt.Sprintf("contacts(%s)", NormalizeGUID(contactID))
	if selectFields != "" {
		path += "?$select=" + selectFields
	}
	return c.Get(ctx, path)
}

// SearchContacts finds contacts whose name, email or phone contains query.
func (c *Client) SearchContacts(ctx context.Context, query string, top int) ([]map[string]any, error) {
	q := ODataEscape(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}
	selectFields := "contactid,fullname,firstname,lastname,emailaddress1,mobilephone,telephone1"
	filter := fmt.Sprintf(
		"contains(fullname,'%s') or contains(emailaddress1,'%s') or contains(mobilephone,'%s') or contains(telephone1,'%s')",
		q, q, q, q,
	)
	path := fmt.Sprintf("contacts?$select=%s&$filter=%s&$top=%d", selectFields, filter, clampTop(top))
	return c.GetCollection(ctx, path)
}

// UpdateContact patches fields on a contact.
func (c *Client) UpdateContact(ctx context.Context, contactID string, fields map[string]any) error {
	return c.Update(ctx, "contacts", contactID, fields)
}

// GetCase retrieves a case by id.
func (c *Client) GetCase(ctx context.Context, caseID, selectFields string) (map[string]any, error) {
	path := fmt.Sprintf("incidents(%s)", NormalizeGUID(caseID))
	if selectFields != "" {
		path += "?$select=" + selectFields
	}
	return c.Get(ctx, path)
}

// SearchCases finds cases whose title or ticket number contains query.
func (c *Client) SearchCases(ctx context.Context, query string, top int) ([]map[string]any, error) {
	q := ODataEscape(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}
	selectFields := "incidentid,title,ticketnumber,createdon,statuscode,statecode,prioritycode,_customerid_value"
	filter := fmt.Sprintf("contains(title,'%s') or contains(ticketnumber,'%s')", q, q)
	path := fmt.Sprintf("incidents?$select=%s&$filter=%s&$orderby=createdon desc&$top=%d",
		selectFields, filter, clampTop(top))
	return c.GetCollection(ctx, path)
}

// UpdateCase patches fields on a case.
func (c *Client) UpdateCase(ctx context.Context, caseID string, fields map[string]any) error {
	return c.Update(ctx, "incidents", caseID, fields)
}

// ListCasesForContact lists cases whose customer lookup resolves to the
// given contact. The customerid lookup is polymorphic, so rows pointing at
// accounts are dropped.
func (c *Client) ListCasesForContact(ctx context.Context, contactID string, top int, activeOnly bool) ([]map[string]any, error) {
	id := NormalizeGUID(contactID)
	top = clampTop(top)
	if top == 0 {
		return nil, nil
	}

	filter := fmt.Sprintf("_customerid_value eq %s", id)
	if activeOnly {
		filter += " and statecode eq 0"
	}
	selectFields := "incidentid,title,ticketnumber,createdon,statuscode,statecode,prioritycode,description,_customerid_value"
	path := fmt.Sprintf("incidents?$select=%s&$filter=%s&$orderby=createdon desc&$top=%d",
		selectFields, filter, top)

	items, err := c.GetCollection(ctx, path)
	if err != nil {
		return nil, err
	}

	filtered := make([]map[string]any, 0, len(items))
	for _, item := range items {
		logical, _ := item["_customerid_value@Microsoft.Dynamics.CRM.lookuplogicalname"].(string)
		if logical != "" && strings.ToLower(logical) != "contact" {
			continue
		}
		filtered = append(filtered, item)
	}
	return filtered, nil
}

// casePriorityCode maps a priority tier onto the incident option set.
var casePriorityCode = map[string]int{"high": 1, "normal": 2, "low": 3}

// CreateCaseForContact creates a case bound to a contact. The priority tier
// maps onto the incident option set; an unrecognized tier degrades to
// normal with a warning rather than failing the chain.
func (c *Client) CreateCaseForContact(ctx context.Context, contactID, title, description, priority, origin string) (string, error) {
	tier := strings.ToLower(strings.TrimSpace(priority))
	code, ok := casePriorityCode[tier]
	if !ok {
		c.logger.Warn("unknown priority tier, defaulting to normal", zap.String("priority", priority))
		code = casePriorityCode["normal"]
	}

	payload := map[string]any{
		"title":                         title,
		"description":                   description,
		"prioritycode":                  code,
		"customerid_contact@odata.bind": fmt.Sprintf("/contacts(%s)", NormalizeGUID(contactID)),
	}
	if origin != "" {
		// web origin in the default org option set
		payload["caseorigincode"] = 3
	}
	return c.Create(ctx, "incidents", payload)
}

// SearchWorkOrders finds work orders whose name or summary contains query.
func (c *Client) SearchWorkOrders(ctx context.Context, query string, top int) ([]map[string]any, error) {
	q := ODataEscape(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}
	selectFields := "msdyn_workorderid,msdyn_name,msdyn_workordersummary,createdon,_msdyn_servicerequest_value"
	filter := fmt.Sprintf("contains(msdyn_name,'%s') or contains(msdyn_workordersummary,'%s')", q, q)
	path := fmt.Sprintf("msdyn_workorders?$select=%s&$filter=%s&$orderby=createdon desc&$top=%d",
		selectFields, filter, clampTop(top))
	return c.GetCollection(ctx, path)
}

// GetWorkOrder retrieves a work order by id.
func (c *Client) GetWorkOrder(ctx context.Context, workOrderID, selectFields string) (map[string]any, error) {
	path := fmt.Sprintf("msdyn_workorders(%s)", NormalizeGUID(workOrderID))
	if selectFields != "" {
		path += "?$select=" + selectFields
	}
	return c.Get(ctx, path)
}

// UpdateWorkOrder patches fields on a work order.
func (c *Client) UpdateWorkOrder(ctx context.Context, workOrderID string, fields map[string]any) error {
	return c.Update(ctx, "msdyn_workorders", workOrderID, fields)
}

// CreateWorkOrder creates a work order, optionally bound to a case. The
// priority record lookup is best-effort: orgs rename their priority rows
// freely, and a missing match should decorate less, not fail the chain.
func (c *Client) CreateWorkOrder(ctx context.Context, caseID, summary, priority string) (string, error) {
	payload := map[string]any{
		"msdyn_workordersummary": summary,
	}

	if priorityID := c.findPriorityRecord(ctx, priority); priorityID != "" {
		nav := c.ResolveNavigationForAttribute(ctx, "msdyn_workorder", "msdyn_priority")
		if nav == "" {
			nav = "msdyn_priority"
		}
		payload[nav+"@odata.bind"] = fmt.Sprintf("/msdyn_priorities(%s)", priorityID)
	}

	workOrderID, err := c.Create(ctx, "msdyn_workorders", payload)
	if err != nil {
		return "", err
	}

	if caseID != "" {
		nav := c.ResolveNavigationForAttribute(ctx, "msdyn_workorder", "msdyn_servicerequest")
		candidates := dedupeCandidates([]BindingCandidate{
			{Navigation: nav, Target: fmt.Sprintf("/incidents(%s)", NormalizeGUID(caseID))},
			{Navigation: "msdyn_ServiceRequest", Target: fmt.Sprintf("/incidents(%s)", NormalizeGUID(caseID))},
			{Navigation: "msdyn_servicerequest", Target: fmt.Sprintf("/incidents(%s)", NormalizeGUID(caseID))},
		})
		if _, err := c.BindLookup(ctx, "msdyn_workorders", workOrderID, candidates); err != nil {
			// The work order exists and is usable; losing the case link is
			// reported, not fatal.
			c.logger.Warn("failed to bind work order to case",
				zap.String("work_order_id", workOrderID),
				zap.String("case_id", caseID),
				zap.String("error", logging.SanitizeError(err)))
		}
	}

	return workOrderID, nil
}

// findPriorityRecord resolves a priority tier to a msdyn_priority record id,
// or empty when the org has no matching row.
func (c *Client) findPriorityRecord(ctx context.Context, priority string) string {
	tier := strings.TrimSpace(priority)
	if tier == "" {
		return ""
	}
	// Conventional row names: "High", "Normal"/"Medium", "Low".
	names := map[string][]string{
		"high":   {"High"},
		"normal": {"Normal", "Medium"},
		"low":    {"Low"},
	}[strings.ToLower(tier)]
	if names == nil {
		names = []string{tier}
	}

	for _, name := range names {
		path := fmt.Sprintf("msdyn_priorities?$select=msdyn_priorityid,msdyn_name&$filter=msdyn_name eq '%s'&$top=1",
			ODataEscape(name))
		items, err := c.GetCollection(ctx, path)
		if err != nil {
			c.logger.Warn("priority record lookup failed",
				zap.String("priority", tier),
				zap.String("error", logging.SanitizeError(err)))
			return ""
		}
		if len(items) > 0 {
			if id, ok := items[0]["msdyn_priorityid"].(string); ok {
				return id
			}
		}
	}
	c.logger.Warn("no priority record matched tier, omitting binding", zap.String("priority", tier))
	return ""
}
