package toolset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/knowhub/pkg/provider"
	"github.com/harun/knowhub/pkg/resilience"
	"github.com/harun/knowhub/pkg/toolserver"
)

type recordedCall struct {
	name string
	args any
}

type fakeCaller struct {
	calls []recordedCall
	resp  *toolserver.ToolResponse
	err   error
}

func (f *fakeCaller) CallTool(ctx context.Context, name string, args any) (*toolserver.ToolResponse, error) {
	f.calls = append(f.calls, recordedCall{name: name, args: args})
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &toolserver.ToolResponse{Text: `{"ok":true}`, Data: json.RawMessage(`{"ok":true}`)}, nil
}

func call(name, args string) provider.ToolCall {
	return provider.ToolCall{ID: "call_1", Name: name, Arguments: json.RawMessage(args)}
}

func TestCatalogs(t *testing.T) {
	caller := &fakeCaller{}

	reader, err := ReaderCatalog(caller)
	require.NoError(t, err)
	integrator, err := IntegratorCatalog(caller)
	require.NoError(t, err)

	t.Run("should keep reader read-only", func(t *testing.T) {
		assert.True(t, reader.Has(ToolSearchWithContext))
		assert.False(t, reader.Has(ToolCreateNode))
		assert.False(t, reader.Has(ToolBatchOperations))
		assert.Len(t, reader.Names(), 7)
	})

	t.Run("should give integrator read and write tools", func(t *testing.T) {
		assert.True(t, integrator.Has(ToolFindNodes))
		assert.True(t, integrator.Has(ToolCreateNode))
		assert.Len(t, integrator.Specs(), 13)
	})

	t.Run("should generate closed object schemas", func(t *testing.T) {
		for _, spec := range reader.Specs() {
			assert.Equal(t, "object", spec.Parameters["type"], spec.Name)
			assert.Equal(t, false, spec.Parameters["additionalProperties"], spec.Name)
		}
	})
}

func TestExecute(t *testing.T) {
	ctx := context.Background()

	t.Run("should forward typed arguments with defaults", func(t *testing.T) {
		caller := &fakeCaller{}
		reader, err := ReaderCatalog(caller)
		require.NoError(t, err)

		res, err := reader.Execute(ctx, call(ToolSearchWithContext, `{"query":"alice"}`))
		require.NoError(t, err)
		assert.False(t, res.IsError)
		assert.Equal(t, "call_1", res.ToolCallID)
		assert.JSONEq(t, `{"ok":true}`, res.Content)

		require.Len(t, caller.calls, 1)
		args, ok := caller.calls[0].args.(SearchWithContext)
		require.True(t, ok)
		assert.Equal(t, "alice", args.Query)
		require.NotNil(t, args.IncludePending)
		assert.True(t, *args.IncludePending)
		assert.Equal(t, 10, args.Limit)
	})

	t.Run("should respect includePending false", func(t *testing.T) {
		caller := &fakeCaller{}
		reader, err := ReaderCatalog(caller)
		require.NoError(t, err)

		_, err = reader.Execute(ctx, call(ToolSearchWithContext, `{"query":"x","includePending":false}`))
		require.NoError(t, err)
		args := caller.calls[0].args.(SearchWithContext)
		assert.False(t, *args.IncludePending)
	})

	t.Run("should reject unknown tools as non-recoverable", func(t *testing.T) {
		reader, err := ReaderCatalog(&fakeCaller{})
		require.NoError(t, err)

		_, err = reader.Execute(ctx, call(ToolCreateNode, `{}`))
		var nr *resilience.NonRecoverableError
		require.ErrorAs(t, err, &nr)
		assert.Equal(t, "no_such_tool", nr.Reason)
	})

	t.Run("should reject schema violations", func(t *testing.T) {
		caller := &fakeCaller{}
		integrator, err := IntegratorCatalog(caller)
		require.NoError(t, err)

		cases := []string{
			`{"label":"Person","unexpected":1}`,
			`{"properties":{}}`,
			`{"label":42}`,
		}
		for _, args := range cases {
			_, err := integrator.Execute(ctx, call(ToolFindNodes, args))
			var nr *resilience.NonRecoverableError
			require.ErrorAs(t, err, &nr, args)
			assert.Equal(t, "invalid_tool_arguments", nr.Reason)
		}
		assert.Empty(t, caller.calls)
	})

	t.Run("should reject constraint violations after decoding", func(t *testing.T) {
		integrator, err := IntegratorCatalog(&fakeCaller{})
		require.NoError(t, err)

		_, err = integrator.Execute(ctx, call(ToolUpdateNodeProperties, `{"nodeId":"n1","mode":"remove"}`))
		assert.Equal(t, resilience.KindNonRecoverable, resilience.KindOf(err))

		_, err = integrator.Execute(ctx, call(ToolBatchOperations, `{"operations":[{"tool":"findNodes","params":{}}]}`))
		assert.Equal(t, resilience.KindNonRecoverable, resilience.KindOf(err))

		_, err = integrator.Execute(ctx, call(ToolCreateNode, `{"labels":["Person"],"properties":{"name":"a"},"identifyingProperties":["email"]}`))
		assert.Error(t, err)
	})

	t.Run("should feed soft remote errors back to the model", func(t *testing.T) {
		caller := &fakeCaller{err: &resilience.ToolExecutionError{Tool: ToolGetNodeDetails, Message: "node not found"}}
		reader, err := ReaderCatalog(caller)
		require.NoError(t, err)

		res, err := reader.Execute(ctx, call(ToolGetNodeDetails, `{"nodeId":"n9"}`))
		require.NoError(t, err)
		assert.True(t, res.IsError)

		var body map[string]any
		require.NoError(t, json.Unmarshal([]byte(res.Content), &body))
		assert.Equal(t, false, body["success"])
		assert.Contains(t, body["error"], "node not found")
	})

	t.Run("should feed connection failures back to the model", func(t *testing.T) {
		caller := &fakeCaller{err: &toolserver.ConnectError{URL: "ws://x", Err: errors.New("connection refused")}}
		reader, err := ReaderCatalog(caller)
		require.NoError(t, err)

		res, err := reader.Execute(ctx, call(ToolGetSchema, `{}`))
		require.NoError(t, err)
		assert.True(t, res.IsError)
	})

	t.Run("should feed a stray deadline back when ctx is still live", func(t *testing.T) {
		caller := &fakeCaller{err: fmt.Errorf("tools/call: %w", context.DeadlineExceeded)}
		reader, err := ReaderCatalog(caller)
		require.NoError(t, err)

		res, err := reader.Execute(ctx, call(ToolGetSchema, `{}`))
		require.NoError(t, err)
		assert.True(t, res.IsError)
	})

	t.Run("should abort when the caller context is cancelled", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		caller := &fakeCaller{err: fmt.Errorf("tools/call: %w", context.Canceled)}
		reader, err := ReaderCatalog(caller)
		require.NoError(t, err)

		_, err = reader.Execute(cancelled, call(ToolGetSchema, `{}`))
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("should abort on fatal remote errors", func(t *testing.T) {
		caller := &fakeCaller{err: &resilience.ToolExecutionError{Tool: ToolGetSchema, Code: -32602, Message: "bad params", Fatal: true}}
		reader, err := ReaderCatalog(caller)
		require.NoError(t, err)

		_, err = reader.Execute(ctx, call(ToolGetSchema, ``))
		var te *resilience.ToolExecutionError
		require.ErrorAs(t, err, &te)
	})

	t.Run("should truncate large outputs", func(t *testing.T) {
		big := strings.Repeat("é", MaxOutputBytes)
		caller := &fakeCaller{resp: &toolserver.ToolResponse{Text: big}}
		reader, err := ReaderCatalog(caller)
		require.NoError(t, err)

		res, err := reader.Execute(ctx, call(ToolGetSchema, `{}`))
		require.NoError(t, err)
		assert.True(t, res.Truncated)
		assert.True(t, strings.HasSuffix(res.Content, truncationMarker))
		assert.LessOrEqual(t, len(res.Content), MaxOutputBytes+len(truncationMarker))
	})
}

// silentServer completes the handshake but never answers tools/call
func silentServer(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req struct {
				Method string `json:"method"`
				ID     *int64 `json:"id"`
			}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if req.Method == "initialize" {
				_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": *req.ID, "result": map[string]any{
					"protocolVersion": "2024-11-05",
					"serverInfo":      map[string]any{"name": "silent"},
				}})
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestExecuteAgainstUnresponsiveServer(t *testing.T) {
	t.Run("should report a call timeout to the model instead of aborting", func(t *testing.T) {
		client := toolserver.New(toolserver.Config{URL: silentServer(t), CallTimeout: 50 * time.Millisecond})
		defer client.Close()

		reader, err := ReaderCatalog(client)
		require.NoError(t, err)

		res, err := reader.Execute(context.Background(), call(ToolGetSchema, `{}`))
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Contains(t, res.Content, "timeout")
	})
}

func TestLocal(t *testing.T) {
	type echoArgs struct {
		Query string `json:"query"`
	}

	ts, err := New("local", []Definition{
		Local("echo", "Echo the query", func(ctx context.Context, args echoArgs) (any, error) {
			if args.Query == "fail" {
				return nil, errors.New("delegate unavailable")
			}
			if args.Query == "abort" {
				return nil, &resilience.NonRecoverableError{Reason: "invalid_request"}
			}
			return map[string]string{"echo": args.Query}, nil
		}, Parameter{Name: "query", Type: "string", Required: true}),
	})
	require.NoError(t, err)

	res, err := ts.Execute(context.Background(), call("echo", `{"query":"hi"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"echo":"hi"}`, res.Content)

	res, err = ts.Execute(context.Background(), call("echo", `{"query":"fail"}`))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	_, err = ts.Execute(context.Background(), call("echo", `{"query":"abort"}`))
	assert.Error(t, err)

	t.Run("should reject invalid definitions", func(t *testing.T) {
		_, err := New("bad", []Definition{{Name: "x", Description: "x"}})
		assert.Error(t, err)

		dup := Local("echo", "e", func(ctx context.Context, a echoArgs) (any, error) { return nil, nil })
		_, err = New("dup", []Definition{dup, dup})
		assert.Error(t, err)
	})
}
