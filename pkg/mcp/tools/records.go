package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/fieldline-inc/fieldline-engine/pkg/dataverse"
)

// RecordToolDeps contains dependencies for the CRM record tools.
type RecordToolDeps struct {
	Client      *dataverse.Client
	AllowWrites bool
	Logger      *zap.Logger
}

// RegisterRecordTools registers the contact, case and work order tools.
func RegisterRecordTools(s *server.MCPServer, deps *RecordToolDeps) {
	registerSearchContactsTool(s, deps)
	registerGetContactTool(s, deps)
	registerUpdateContactTool(s, deps)
	registerSearchCasesTool(s, deps)
	registerGetCaseTool(s, deps)
	registerUpdateCaseTool(s, deps)
	registerListCasesForContactTool(s, deps)
	registerSearchWorkOrdersTool(s, deps)
	registerGetWorkOrderTool(s, deps)
	registerUpdateWorkOrderTool(s, deps)
}

func registerSearchContactsTool(s *server.MCPServer, deps *RecordToolDeps) {
	tool := mcp.NewTool(
		"search_contacts",
		mcp.WithDescription(
			"Search contacts by name, email address or phone number. "+
				"Returns matching contacts with their ids for use in other tools.",
		),
		mcp.WithString("query", mcp.Required(), mcp.Description("Name, email or phone fragment to search for")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of contacts to return (default 10)")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return NewErrorResult("invalid_params", err.Error()), nil
		}
		limit := req.GetInt("limit", 10)

		contacts, err := deps.Client.SearchContacts(ctx, query, limit)
		if err != nil {
			if result := NewVendorErrorResult(err); result != nil {
				return result, nil
			}
			return nil, fmt.Errorf("failed to search contacts: %w", err)
		}

		return jsonResult(map[string]any{"contacts": contacts, "count": len(contacts)})
	})
}

func registerGetContactTool(s *server.MCPServer, deps *RecordToolDeps) {
	tool := mcp.NewTool(
		"get_contact",
		mcp.WithDescription("Get a contact record by id."),
		mcp.WithString("contact_id", mcp.Required(), mcp.Description("Contact record id (GUID)")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		contactID, err := req.RequireString("contact_id")
		if err != nil {
			return NewErrorResult("invalid_params", err.Error()), nil
		}

		contact, err := deps.Client.GetContact(ctx, contactID,
			"contactid,fullname,firstname,lastname,emailaddress1,mobilephone,telephone1,address1_composite")
		if err != nil {
			if result := NewVendorErrorResult(err); result != nil {
				return result, nil
			}
			return nil, fmt.Errorf("failed to get contact: %w", err)
		}

		return jsonResult(contact)
	})
}

func registerUpdateContactTool(s *server.MCPServer, deps *RecordToolDeps) {
	tool := mcp.NewTool(
		"update_contact",
		mcp.WithDescription(
			"Update fields on a contact record. Pass only the fields to change, "+
				"using the vendor's logical field names (e.g. emailaddress1, mobilephone).",
		),
		mcp.WithString("contact_id", mcp.Required(), mcp.Description("Contact record id (GUID)")),
		mcp.WithObject("fields", mcp.Required(), mcp.Description("Field name/value pairs to set")),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if !deps.AllowWrites {
			return blockedResult()
		}
		contactID, err := req.RequireString("contact_id")
		if err != nil {
			return NewErrorResult("invalid_params", err.Error()), nil
		}
		fields, ok := req.GetArguments()["fields"].(map[string]any)
		if !ok || len(fields) == 0 {
			return NewErrorResult("invalid_params", "fields must be a non-empty object"), nil
		}

		if err := deps.Client.UpdateContact(ctx, contactID, fields); err != nil {
			if result := NewVendorErrorResult(err); result != nil {
				return result, nil
			}
			return nil, fmt.Errorf("failed to update contact: %w", err)
		}

		return jsonResult(map[string]any{"status": "ok", "contact_id": contactID})
	})
}

func registerSearchCasesTool(s *server.MCPServer, deps *RecordToolDeps) {
	tool := mcp.NewTool(
		"search_cases",
		mcp.WithDescription("Search cases by title or ticket number."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Title or ticket number fragment")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of cases to return (default 10)")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return NewErrorResult("invalid_params", err.Error()), nil
		}
		limit := req.GetInt("limit", 10)

		cases, err := deps.Client.SearchCases(ctx, query, limit)
		if err != nil {
			if result := NewVendorErrorResult(err); result != nil {
				return result, nil
			}
			return nil, fmt.Errorf("failed to search cases: %w", err)
		}

		return jsonResult(map[string]any{"cases": cases, "count": len(cases)})
	})
}

func registerGetCaseTool(s *server.MCPServer, deps *RecordToolDeps) {
	tool := mcp.NewTool(
		"get_case",
		mcp.WithDescription("Get a case record by id."),
		mcp.WithString("case_id", mcp.Required(), mcp.Description("Case record id (GUID)")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		caseID, err := req.RequireString("case_id")
		if err != nil {
			return NewErrorResult("invalid_params", err.Error()), nil
		}

		record, err := deps.Client.GetCase(ctx, caseID,
			"incidentid,title,ticketnumber,description,createdon,statuscode,statecode,prioritycode,_customerid_value")
		if err != nil {
			if result := NewVendorErrorResult(err); result != nil {
				return result, nil
			}
			return nil, fmt.Errorf("failed to get case: %w", err)
		}

		return jsonResult(record)
	})
}

func registerUpdateCaseTool(s *server.MCPServer, deps *RecordToolDeps) {
	tool := mcp.NewTool(
		"update_case",
		mcp.WithDescription(
			"Update fields on a case record. Pass only the fields to change, "+
				"using the vendor's logical field names (e.g. title, description, prioritycode).",
		),
		mcp.WithString("case_id", mcp.Required(), mcp.Description("Case record id (GUID)")),
		mcp.WithObject("fields", mcp.Required(), mcp.Description("Field name/value pairs to set")),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if !deps.AllowWrites {
			return blockedResult()
		}
		caseID, err := req.RequireString("case_id")
		if err != nil {
			return NewErrorResult("invalid_params", err.Error()), nil
		}
		fields, ok := req.GetArguments()["fields"].(map[string]any)
		if !ok || len(fields) == 0 {
			return NewErrorResult("invalid_params", "fields must be a non-empty object"), nil
		}

		if err := deps.Client.UpdateCase(ctx, caseID, fields); err != nil {
			if result := NewVendorErrorResult(err); result != nil {
				return result, nil
			}
			return nil, fmt.Errorf("failed to update case: %w", err)
		}

		return jsonResult(map[string]any{"status": "ok", "case_id": caseID})
	})
}

func registerListCasesForContactTool(s *server.MCPServer, deps *RecordToolDeps) {
	tool := mcp.NewTool(
		"list_cases_for_contact",
		mcp.WithDescription(
			"List the cases belonging to a contact, newest first. "+
				"Set active_only to restrict to open cases.",
		),
		mcp.WithString("contact_id", mcp.Required(), mcp.Description("Contact record id (GUID)")),
		mcp.WithBoolean("active_only", mcp.Description("Only return open cases (default false)")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of cases to return (default 10)")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		contactID, err := req.RequireString("contact_id")
		if err != nil {
			return NewErrorResult("invalid_params", err.Error()), nil
		}
		activeOnly := req.GetBool("active_only", false)
		limit := req.GetInt("limit", 10)

		cases, err := deps.Client.ListCasesForContact(ctx, contactID, limit, activeOnly)
		if err != nil {
			if result := NewVendorErrorResult(err); result != nil {
				return result, nil
			}
			return nil, fmt.Errorf("failed to list cases: %w", err)
		}

		return jsonResult(map[string]any{"cases": cases, "count": len(cases)})
	})
}

func registerSearchWorkOrdersTool(s *server.MCPServer, deps *RecordToolDeps) {
	tool := mcp.NewTool(
		"search_work_orders",
		mcp.WithDescription("Search work orders by name or summary."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Name or summary fragment")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of work orders to return (default 10)")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return NewErrorResult("invalid_params", err.Error()), nil
		}
		limit := req.GetInt("limit", 10)

		workOrders, err := deps.Client.SearchWorkOrders(ctx, query, limit)
		if err != nil {
			if result := NewVendorErrorResult(err); result != nil {
				return result, nil
			}
			return nil, fmt.Errorf("failed to search work orders: %w", err)
		}

		return jsonResult(map[string]any{"work_orders": workOrders, "count": len(workOrders)})
	})
}

func registerGetWorkOrderTool(s *server.MCPServer, deps *RecordToolDeps) {
	tool := mcp.NewTool(
		"get_work_order",
		mcp.WithDescription("Get a work order record by id."),
		mcp.WithString("work_order_id", mcp.Required(), mcp.Description("Work order record id (GUID)")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		workOrderID, err := req.RequireString("work_order_id")
		if err != nil {
			return NewErrorResult("invalid_params", err.Error()), nil
		}

		record, err := deps.Client.GetWorkOrder(ctx, workOrderID,
			"msdyn_workorderid,msdyn_name,msdyn_workordersummary,createdon,_msdyn_servicerequest_value")
		if err != nil {
			if result := NewVendorErrorResult(err); result != nil {
				return result, nil
			}
			return nil, fmt.Errorf("failed to get work order: %w", err)
		}

		return jsonResult(record)
	})
}

func registerUpdateWorkOrderTool(s *server.MCPServer, deps *RecordToolDeps) {
	tool := mcp.NewTool(
		"update_work_order",
		mcp.WithDescription(
			"Update fields on a work order record. Pass only the fields to change, "+
				"using the vendor's logical field names (e.g. msdyn_workordersummary).",
		),
		mcp.WithString("work_order_id", mcp.Required(), mcp.Description("Work order record id (GUID)")),
		mcp.WithObject("fields", mcp.Required(), mcp.Description("Field name/value pairs to set")),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if !deps.AllowWrites {
			return blockedResult()
		}
		workOrderID, err := req.RequireString("work_order_id")
		if err != nil {
			return NewErrorResult("invalid_params", err.Error()), nil
		}
		fields, ok := req.GetArguments()["fields"].(map[string]any)
		if !ok || len(fields) == 0 {
			return NewErrorResult("invalid_params", "fields must be a non-empty object"), nil
		}

		if err := deps.Client.UpdateWorkOrder(ctx, workOrderID, fields); err != nil {
			if result := NewVendorErrorResult(err); result != nil {
				return result, nil
			}
			return nil, fmt.Errorf("failed to update work order: %w", err)
		}

		return jsonResult(map[string]any{"status": "ok", "work_order_id": workOrderID})
	})
}
