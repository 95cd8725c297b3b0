package tools

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/fieldline-inc/fieldline-engine/pkg/dataverse"
)

// ErrorResponse is the structured error body carried inside a tool result.
// Returning it as result text keeps the code and message visible to the
// model instead of being swallowed by the MCP client.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult builds an error tool result for failures the caller can
// act on (invalid parameters, record not found). System failures should
// still propagate as Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// NewErrorResultWithDetails creates an error result with additional context.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// NewVendorErrorResult maps a Dataverse call failure to a structured error
// result where the caller can act on it, or nil when the error should
// propagate as a Go error.
func NewVendorErrorResult(err error) *mcp.CallToolResult {
	if err == nil {
		return nil
	}
	if dataverse.IsNotFound(err) {
		return NewErrorResult("not_found", err.Error())
	}
	var remote *dataverse.RemoteError
	if errors.As(err, &remote) && remote.Status >= 400 && remote.Status < 500 {
		return NewErrorResultWithDetails("vendor_rejected", remote.Error(), map[string]any{
			"status": remote.Status,
		})
	}
	return nil
}

// inputErrorPatterns are substrings that indicate an error is due to user
// input rather than a server failure. These errors are logged at DEBUG
// level, not ERROR level, because they are expected when callers provide
// invalid input.
var inputErrorPatterns = []string{
	"not found",
	"invalid slot_id",
	"invalid window",
	"missing required",
	"cannot be empty",
	"is required",
}

// IsInputError reports whether the error appears to be caused by caller
// input rather than a server failure.
func IsInputError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, pattern := range inputErrorPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
