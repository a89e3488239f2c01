package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/knowhub/internal/config"
	"github.com/harun/knowhub/pkg/resilience"
)

func captureServer(t *testing.T, path string, status int, body string, seen *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, path), "unexpected path %s", r.URL.Path)
		if seen != nil {
			data, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(data, seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
}

func sampleRequest() Request {
	return Request{
		Model:  "test-model",
		System: "you are a graph assistant",
		Messages: []Message{
			{Role: RoleUser, Content: "who is Ada?"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_1", Name: "findNodes", Arguments: json.RawMessage(`{"label":"Person"}`)}}},
			{Role: RoleTool, ToolCallID: "call_1", ToolName: "findNodes", Content: `{"nodes":[]}`},
		},
		Tools: []ToolSpec{{
			Name:        "findNodes",
			Description: "find nodes",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"label": map[string]any{"type": "string"}},
				"required":   []string{"label"},
			},
		}},
		MaxTokens: 256,
	}
}

func TestOpenAIProviderCall(t *testing.T) {
	body := `{
		"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "test-model",
		"choices": [{"index": 0, "finish_reason": "tool_calls", "message": {
			"role": "assistant", "content": "Looking it up",
			"tool_calls": [{"id": "call_2", "type": "function", "function": {"name": "getNodeDetails", "arguments": "{\"nodeId\":\"n1\"}"}}]
		}}],
		"usage": {"prompt_tokens": 11, "completion_tokens": 7, "total_tokens": 18}
	}`
	var seen map[string]any
	srv := captureServer(t, "/chat/completions", http.StatusOK, body, &seen)
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", option.WithBaseURL(srv.URL))
	resp, err := p.Call(context.Background(), sampleRequest())
	require.NoError(t, err)

	assert.Equal(t, "Looking it up", resp.Text)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_2", resp.ToolCalls[0].ID)
	assert.JSONEq(t, `{"nodeId":"n1"}`, string(resp.ToolCalls[0].Arguments))
	assert.Equal(t, 18, resp.TokenUsage().Total)
	assert.Equal(t, NameOpenAI, resp.Provider)

	msgs, ok := seen["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 4, "system + user + assistant + tool")
	tool := msgs[3].(map[string]any)
	assert.Equal(t, "tool", tool["role"])
	assert.Equal(t, "call_1", tool["tool_call_id"])
}

func TestOpenAIProviderErrorStatus(t *testing.T) {
	srv := captureServer(t, "/chat/completions", http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"rate_limit"}}`, nil)
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", option.WithBaseURL(srv.URL))
	_, err := p.Call(context.Background(), sampleRequest())
	require.Error(t, err)

	assert.Equal(t, 429, resilience.StatusCode(err))
	assert.True(t, resilience.IsRecoverable(err))
}

func TestOpenAIProviderStream(t *testing.T) {
	chunks := []string{
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"},"finish_reason":null}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":"stop"}]}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", option.WithBaseURL(srv.URL))

	var deltas []string
	resp, err := p.Stream(context.Background(), Request{Model: "m", Messages: []Message{{Role: RoleUser, Content: "hi"}}}, func(s string) {
		deltas = append(deltas, s)
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo"}, deltas)
	assert.Equal(t, "Hello", resp.Text)
}

func TestAnthropicProviderCall(t *testing.T) {
	body := `{
		"id": "msg_1", "type": "message", "role": "assistant", "model": "claude",
		"content": [
			{"type": "text", "text": "Checking"},
			{"type": "tool_use", "id": "toolu_1", "name": "findNodes", "input": {"label": "Person"}}
		],
		"stop_reason": "tool_use", "stop_sequence": null,
		"usage": {"input_tokens": 5, "output_tokens": 9}
	}`
	var seen map[string]any
	srv := captureServer(t, "/v1/messages", http.StatusOK, body, &seen)
	defer srv.Close()

	p := NewAnthropicProvider("sk-ant-test", anthropicBaseURL(srv.URL))
	resp, err := p.Call(context.Background(), sampleRequest())
	require.NoError(t, err)

	assert.Equal(t, "Checking", resp.Text)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "toolu_1", resp.ToolCalls[0].ID)
	assert.JSONEq(t, `{"label":"Person"}`, string(resp.ToolCalls[0].Arguments))
	assert.Equal(t, 14, resp.Usage.Total())
	assert.Equal(t, "tool_use", resp.FinishReason)

	msgs, ok := seen["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 3, "tool result travels as a user turn")
	assert.NotNil(t, seen["system"])
}

func TestBuildChain(t *testing.T) {
	t.Run("should skip tiers without keys", func(t *testing.T) {
		cfgs := config.DefaultTiers()
		cfgs[1].APIKey = "sk-ant-x"
		cfgs[2].APIKey = "sk-x"

		var built []string
		chain, err := BuildChain(cfgs, func(cfg config.TierConfig) (LLMProvider, error) {
			built = append(built, cfg.Provider)
			return &stubProvider{name: cfg.Provider}, nil
		})
		require.NoError(t, err)

		assert.Equal(t, []string{"anthropic", "openai"}, built)
		tiers := chain.Tiers()
		require.Len(t, tiers, 2)
		assert.Equal(t, resilience.RoleFallback, tiers[1].Role)
		require.NotNil(t, tiers[1].MaxRetriesInTier)
		assert.Equal(t, 1, *tiers[1].MaxRetriesInTier)

		cfgs[2].MaxRetriesInTier = nil
		chain, err = BuildChain(cfgs, func(cfg config.TierConfig) (LLMProvider, error) {
			return &stubProvider{name: cfg.Provider}, nil
		})
		require.NoError(t, err)
		assert.Nil(t, chain.Tiers()[1].MaxRetriesInTier, "unset budget stays unset")

		entry, err := chain.Lookup(tiers[0])
		require.NoError(t, err)
		assert.Equal(t, "anthropic", entry.Provider.Name())
	})

	t.Run("should fail without any usable tier", func(t *testing.T) {
		_, err := BuildChain(config.DefaultTiers(), nil)
		var cfgErr *resilience.ConfigurationError
		assert.True(t, errors.As(err, &cfgErr))
	})

	t.Run("should build real providers by default", func(t *testing.T) {
		cfgs := config.DefaultTiers()
		for i := range cfgs {
			cfgs[i].APIKey = "key"
		}
		chain, err := BuildChain(cfgs, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, chain.Len())

		entry, err := chain.Lookup(chain.Tiers()[0])
		require.NoError(t, err)
		assert.Equal(t, NameGoogle, entry.Provider.Name())
	})

	t.Run("should reject unknown tiers on lookup", func(t *testing.T) {
		chain := NewChain()
		_, err := chain.Lookup(resilience.Tier{Name: "ghost"})
		assert.Error(t, err)
	})
}

type stubProvider struct {
	name string
}

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) Call(context.Context, Request) (*Response, error) {
	return &Response{Provider: s.name}, nil
}
func (s *stubProvider) Stream(ctx context.Context, r Request, _ DeltaFunc) (*Response, error) {
	return s.Call(ctx, r)
}
