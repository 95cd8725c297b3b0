package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/fieldline-inc/fieldline-engine/pkg/dataverse"
	"github.com/fieldline-inc/fieldline-engine/pkg/scheduling"
)

// SchedulingToolDeps contains dependencies for the scheduling tools.
type SchedulingToolDeps struct {
	Service *scheduling.Service
	Logger  *zap.Logger
}

// RegisterSchedulingTools registers the availability and booking tools.
func RegisterSchedulingTools(s *server.MCPServer, deps *SchedulingToolDeps) {
	registerSearchAvailabilityTool(s, deps)
	registerScheduleRequestTool(s, deps)
	registerBookRequirementTool(s, deps)
}

func registerSearchAvailabilityTool(s *server.MCPServer, deps *SchedulingToolDeps) {
	tool := mcp.NewTool(
		"search_availability",
		mcp.WithDescription(
			"Search engineer availability and return numbered, bookable time slots. "+
				"Give either an explicit window (window_start/window_end, ISO datetimes) "+
				"or a natural phrase in 'when' like 'today', 'tomorrow', 'this week' or 'midday'. "+
				"Pass requirement_id to search for a specific resource requirement.",
		),
		mcp.WithString("requirement_id", mcp.Description("Resource requirement id (GUID) to search for")),
		mcp.WithString("window_start", mcp.Description("Window start, ISO datetime")),
		mcp.WithString("window_end", mcp.Description("Window end, ISO datetime")),
		mcp.WithString("when", mcp.Description("Natural-language window phrase, used when no explicit window is given")),
		mcp.WithNumber("duration_minutes", mcp.Description("Visit duration in minutes (default 60)")),
		mcp.WithNumber("max_slots", mcp.Description("Maximum number of slots to return (default 10)")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var start, end time.Time
		var label string

		startRaw := trimString(req.GetString("window_start", ""))
		endRaw := trimString(req.GetString("window_end", ""))
		switch {
		case startRaw != "" && endRaw != "":
			var err error
			start, err = dataverse.ParseISO(startRaw)
			if err != nil {
				return NewErrorResult("invalid_params", fmt.Sprintf("window_start: %v", err)), nil
			}
			end, err = dataverse.ParseISO(endRaw)
			if err != nil {
				return NewErrorResult("invalid_params", fmt.Sprintf("window_end: %v", err)), nil
			}
		case startRaw != "" || endRaw != "":
			return NewErrorResult("invalid_params", "window_start and window_end must be given together"), nil
		default:
			start, end, label = deps.Service.ResolveWindow(req.GetString("when", ""))
		}

		result := deps.Service.SearchAvailability(ctx, scheduling.SearchRequest{
			RequirementID:   trimString(req.GetString("requirement_id", "")),
			WindowStart:     start,
			WindowEnd:       end,
			DurationMinutes: req.GetInt("duration_minutes", 0),
			MaxSlots:        req.GetInt("max_slots", 0),
		})
		if label != "" {
			if result.Details == nil {
				result.Details = map[string]any{}
			}
			result.Details["window_phrase"] = label
		}
		return jsonResult(result)
	})
}

func registerScheduleRequestTool(s *server.MCPServer, deps *SchedulingToolDeps) {
	tool := mcp.NewTool(
		"schedule_request",
		mcp.WithDescription(
			"Book a service visit for a contact: creates the case and work order, "+
				"waits for the platform's resource requirement, constrains it to the "+
				"requested time and books an engineer. Safe to retry: an identical "+
				"request replays the existing booking instead of double-booking.",
		),
		mcp.WithString("contact_id", mcp.Required(), mcp.Description("Contact record id (GUID)")),
		mcp.WithString("window_id", mcp.Required(), mcp.Description("Availability window handle from search_availability: '<start>|<end>'")),
		mcp.WithString("preferred_start", mcp.Required(), mcp.Description("Preferred start: ISO datetime, or HH:MM meaning today local time")),
		mcp.WithNumber("duration_minutes", mcp.Description("Visit duration in minutes (default 60)")),
		mcp.WithString("priority", mcp.Description("Priority tier: high, normal or low (default normal)")),
		mcp.WithBoolean("create_case", mcp.Description("Also create a case for the contact (default true)")),
		mcp.WithString("scenario", mcp.Description("Scenario tag stamped on created records (default the configured job name)")),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		contactID, err := req.RequireString("contact_id")
		if err != nil {
			return NewErrorResult("invalid_params", err.Error()), nil
		}
		windowID, err := req.RequireString("window_id")
		if err != nil {
			return NewErrorResult("invalid_params", err.Error()), nil
		}
		preferredRaw, err := req.RequireString("preferred_start")
		if err != nil {
			return NewErrorResult("invalid_params", err.Error()), nil
		}

		windowStart, windowEnd, err := scheduling.ParseWindowID(windowID)
		if err != nil {
			return NewErrorResult("invalid_params", err.Error()), nil
		}
		preferred, err := deps.Service.ParsePreferredStart(preferredRaw)
		if err != nil {
			return NewErrorResult("invalid_params", err.Error()), nil
		}

		result := deps.Service.ScheduleRequest(ctx, scheduling.ScheduleInput{
			ContactID:       contactID,
			WindowStart:     windowStart,
			WindowEnd:       windowEnd,
			PreferredStart:  preferred,
			DurationMinutes: req.GetInt("duration_minutes", 0),
			Priority:        req.GetString("priority", "normal"),
			CreateCase:      req.GetBool("create_case", true),
			Scenario:        trimString(req.GetString("scenario", "")),
		})
		return jsonResult(result)
	})
}

func registerBookRequirementTool(s *server.MCPServer, deps *SchedulingToolDeps) {
	tool := mcp.NewTool(
		"book_requirement",
		mcp.WithDescription(
			"Book an existing resource requirement into an exact time interval. "+
				"Resolves a concrete engineer for the interval and creates the booking.",
		),
		mcp.WithString("requirement_id", mcp.Required(), mcp.Description("Resource requirement id (GUID)")),
		mcp.WithString("schedule_start", mcp.Required(), mcp.Description("Booking start, ISO datetime")),
		mcp.WithString("schedule_end", mcp.Required(), mcp.Description("Booking end, ISO datetime")),
		mcp.WithString("work_order_id", mcp.Description("Work order id (GUID) to link the booking to")),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		requirementID, err := req.RequireString("requirement_id")
		if err != nil {
			return NewErrorResult("invalid_params", err.Error()), nil
		}
		startRaw, err := req.RequireString("schedule_start")
		if err != nil {
			return NewErrorResult("invalid_params", err.Error()), nil
		}
		endRaw, err := req.RequireString("schedule_end")
		if err != nil {
			return NewErrorResult("invalid_params", err.Error()), nil
		}

		start, err := dataverse.ParseISO(startRaw)
		if err != nil {
			return NewErrorResult("invalid_params", fmt.Sprintf("schedule_start: %v", err)), nil
		}
		end, err := dataverse.ParseISO(endRaw)
		if err != nil {
			return NewErrorResult("invalid_params", fmt.Sprintf("schedule_end: %v", err)), nil
		}

		result := deps.Service.BookRequirement(ctx, scheduling.BookInput{
			RequirementID: requirementID,
			ScheduleStart: start,
			ScheduleEnd:   end,
			WorkOrderID:   trimString(req.GetString("work_order_id", "")),
		})
		return jsonResult(result)
	})
}
