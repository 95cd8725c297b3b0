// Package middleware carries the HTTP-level concerns of the MCP endpoint.
package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fieldline-inc/fieldline-engine/pkg/logging"
)

// rpcCall is the slice of a JSON-RPC tools/call request worth logging.
type rpcCall struct {
	Method string `json:"method"`
	Params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"params"`
}

type rpcOutcome struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// MCPRequestLogger logs each MCP JSON-RPC exchange: tool name, sanitized
// arguments, outcome and duration, correlated by a per-call request id.
// A nil logger disables the middleware entirely.
func MCPRequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logger == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				logger.Error("Failed to read MCP request body", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			// Not every request is valid JSON-RPC; log what parses.
			var call rpcCall
			if err := json.Unmarshal(body, &call); err != nil {
				logger.Debug("Failed to parse MCP request JSON", zap.Error(err))
			}

			requestID := uuid.NewString()
			logger.Debug("MCP request",
				zap.String("request_id", requestID),
				zap.String("method", call.Method),
				zap.String("tool", call.Params.Name),
				zap.Any("arguments", sanitizeArguments(call.Params.Arguments)),
			)

			rec := &responseRecorder{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(rec, r)

			fields := []zap.Field{
				zap.String("request_id", requestID),
				zap.String("tool", call.Params.Name),
				zap.Duration("duration", time.Since(start)),
			}
			var outcome rpcOutcome
			if err := json.Unmarshal(rec.body.Bytes(), &outcome); err != nil {
				logger.Debug("Failed to parse MCP response JSON", zap.Error(err))
				return
			}
			if outcome.Error != nil {
				fields = append(fields,
					zap.Int("error_code", outcome.Error.Code),
					zap.String("error_message", outcome.Error.Message),
				)
				logger.Debug("MCP response error", fields...)
				return
			}
			logger.Debug("MCP response success", fields...)
		})
	}
}

// responseRecorder tees the response body for outcome logging.
type responseRecorder struct {
	http.ResponseWriter
	body bytes.Buffer
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// sanitizeArguments redacts secret-looking fields and truncates long string
// values before they reach a log line.
func sanitizeArguments(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}

	out := make(map[string]any, len(args))
	for k, v := range args {
		switch {
		case logging.IsSensitiveKey(k):
			out[k] = logging.RedactedText
		default:
			if s, ok := v.(string); ok {
				out[k] = logging.TruncateString(s, 200)
			} else {
				out[k] = v
			}
		}
	}
	return out
}
