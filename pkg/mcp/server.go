// Package mcp wraps the mcp-go server with this service's transport
// conventions: stateless streamable HTTP, request/response logging, and an
// optional static bearer gate for non-local deployments.
package mcp

import (
	"net/http"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/fieldline-inc/fieldline-engine/pkg/middleware"
)

// Server owns the MCP tool registry and builds its HTTP transport.
type Server struct {
	mcp    *server.MCPServer
	logger *zap.Logger
}

// NewServer creates the tool server. Tools are registered against MCP().
func NewServer(name, version string, logger *zap.Logger) *Server {
	return &Server{
		mcp: server.NewMCPServer(
			name,
			version,
			server.WithToolCapabilities(true),
		),
		logger: logger,
	}
}

// MCP returns the underlying MCPServer for tool registration.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// HTTPHandler builds the streamable HTTP transport wrapped with JSON-RPC
// logging and, when bearerToken is non-empty, a static bearer check. The
// caller mounts the handler; no endpoint path is configured here.
func (s *Server) HTTPHandler(bearerToken string) http.Handler {
	var h http.Handler = server.NewStreamableHTTPServer(
		s.mcp,
		server.WithStateLess(true),
	)
	h = middleware.MCPRequestLogger(s.logger)(h)
	if bearerToken != "" {
		h = bearerGate(bearerToken, h)
	}
	return h
}

func bearerGate(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
