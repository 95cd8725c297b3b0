package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// trimString removes leading and trailing whitespace from a string.
// This is a common helper used across MCP tool parameter validation.
func trimString(s string) string {
	return strings.TrimSpace(s)
}

// jsonResult marshals v into a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// blockedResult is returned by every write tool when the write gate is off.
// No network call has been made when this is returned.
func blockedResult() (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{
		"status":  "blocked",
		"message": "Writes are disabled for this environment (DATAVERSE_ALLOW_WRITES=false). No records were created or modified.",
	})
}
