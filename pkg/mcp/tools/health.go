package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type healthResult struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	WritesEnabled bool   `json:"writes_enabled"`
	Timezone      string `json:"timezone"`
}

// RegisterHealthTool adds a health check tool reporting the server version
// and the state of the write gate, so a caller can tell up front whether
// booking tools will be blocked.
func RegisterHealthTool(s *server.MCPServer, version string, writesEnabled bool, timezone string) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns server health, version, write-gate state and scheduling timezone"),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(healthResult{
			Status:        "ok",
			Version:       version,
			WritesEnabled: writesEnabled,
			Timezone:      timezone,
		})
	})
}
