package mcp

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ritzau/ds-audit/pkg/logging"
)

// loggingMiddleware logs every tool call with its duration and outcome.
func loggingMiddleware() server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			start := time.Now()
			result, err := next(ctx, req)

			args := []any{
				"tool", req.Params.Name,
				"durationMs", time.Since(start).Milliseconds(),
				"responseBytes", responseBytes(result),
			}
			switch {
			case err != nil:
				logging.ErrorContext(ctx, "tool call failed", append(args, "error", err)...)
			case result != nil && result.IsError:
				logging.WarnContext(ctx, "tool call rejected", args...)
			default:
				logging.InfoContext(ctx, "tool call completed", args...)
			}
			return result, err
		}
	}
}

func responseBytes(result *mcp.CallToolResult) int {
	if result == nil {
		return 0
	}
	n := 0
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			n += len(tc.Text)
		}
	}
	return n
}
