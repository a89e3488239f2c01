package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/harun/knowhub/internal/tracing"
	"github.com/harun/knowhub/pkg/metrics"
	"github.com/harun/knowhub/pkg/resilience"
)

// HealthCheckTool is the remote tool used by Ping
const HealthCheckTool = "healthCheck"

// CallTool invokes a remote tool. A remote isError result or JSON-RPC error
// is returned as *resilience.ToolExecutionError, along with the response
// when one was decoded.
func (c *Client) CallTool(ctx context.Context, name string, args any) (*ToolResponse, error) {
	if args == nil {
		args = map[string]any{}
	}

	logger := tracing.LoggerFromContext(ctx, c.logger)
	started := time.Now()

	resp, err := c.callTool(ctx, name, args)

	event := metrics.Event{
		Kind:       metrics.KindToolCall,
		Tool:       name,
		DurationMs: metrics.Duration(time.Since(started)),
	}
	if err != nil {
		event.ErrorText = err.Error()
		logger.Warn().Err(err).Str("tool", name).Msg("Tool call failed")
	} else {
		logger.Debug().Str("tool", name).Int64("durationMs", *event.DurationMs).Msg("Tool call completed")
	}
	c.recorder.Record(event)

	return resp, err
}

func (c *Client) callTool(ctx context.Context, name string, args any) (*ToolResponse, error) {
	raw, err := c.request(ctx, "tools/call", callToolParams{Name: name, Arguments: args})
	if err != nil {
		var rpcErr *rpcCallError
		if errors.As(err, &rpcErr) {
			return nil, &resilience.ToolExecutionError{
				Tool:    name,
				Code:    rpcErr.Code,
				Message: rpcErr.Message,
				Fatal:   rpcErr.Code == codeMethodNotFound || rpcErr.Code == codeInvalidParams,
			}
		}
		if errors.Is(err, ErrTimeout) {
			return nil, &resilience.ToolExecutionError{Tool: name, Message: "timeout"}
		}
		return nil, err
	}

	var result callToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode %s result: %w", name, err)
	}

	resp := newToolResponse(result)
	if resp.IsError {
		msg := resp.Text
		if msg == "" {
			msg = "remote tool reported an error"
		}
		return resp, &resilience.ToolExecutionError{Tool: name, Message: msg}
	}
	return resp, nil
}

// ListTools returns the tools advertised by the server
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	raw, err := c.request(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, err
	}

	var result struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode tools/list result: %w", err)
	}
	return result.Tools, nil
}

// Ping calls the healthCheck tool and returns its payload. includeDetails
// asks the server for system information along with the status.
func (c *Client) Ping(ctx context.Context, includeDetails bool) (*ToolResponse, error) {
	return c.CallTool(ctx, HealthCheckTool, map[string]any{"includeDetails": includeDetails})
}
