package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/fieldline-inc/fieldline-engine/pkg/dataverse"
)

// ConversationToolDeps contains dependencies for the conversation tools.
type ConversationToolDeps struct {
	Client *dataverse.Client
	Logger *zap.Logger
}

// RegisterConversationTools registers the omnichannel conversation tools.
func RegisterConversationTools(s *server.MCPServer, deps *ConversationToolDeps) {
	registerListConversationsTool(s, deps)
	registerGetConversationTranscriptTool(s, deps)
}

func registerListConversationsTool(s *server.MCPServer, deps *ConversationToolDeps) {
	tool := mcp.NewTool(
		"list_conversations",
		mcp.WithDescription(
			"List recent omnichannel conversations, newest first, "+
				"optionally filtered to a single contact.",
		),
		mcp.WithString("contact_id", mcp.Description("Restrict to conversations with this contact (GUID)")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of conversations to return (default 10)")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		contactID := trimString(req.GetString("contact_id", ""))
		limit := req.GetInt("limit", 10)

		conversations, err := deps.Client.ListConversations(ctx, contactID, limit)
		if err != nil {
			if result := NewVendorErrorResult(err); result != nil {
				return result, nil
			}
			return nil, fmt.Errorf("failed to list conversations: %w", err)
		}

		return jsonResult(map[string]any{"conversations": conversations, "count": len(conversations)})
	})
}

func registerGetConversationTranscriptTool(s *server.MCPServer, deps *ConversationToolDeps) {
	tool := mcp.NewTool(
		"get_conversation_transcript",
		mcp.WithDescription(
			"Get the message transcript of an omnichannel conversation. "+
				"A conversation without a stored transcript yet returns an empty result, not an error.",
		),
		mcp.WithString("conversation_id", mcp.Required(), mcp.Description("Conversation record id (GUID)")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		conversationID, err := req.RequireString("conversation_id")
		if err != nil {
			return NewErrorResult("invalid_params", err.Error()), nil
		}

		messages, err := deps.Client.GetConversationTranscript(ctx, conversationID)
		if err != nil {
			if result := NewVendorErrorResult(err); result != nil {
				return result, nil
			}
			return nil, fmt.Errorf("failed to get transcript: %w", err)
		}
		if messages == nil {
			return jsonResult(map[string]any{
				"status":   "ok",
				"messages": []any{},
				"count":    0,
				"message":  "no transcript found for this conversation",
			})
		}

		return jsonResult(map[string]any{"status": "ok", "messages": messages, "count": len(messages)})
	})
}
