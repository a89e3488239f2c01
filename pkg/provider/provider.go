package provider

import (
	"context"
	"encoding/json"

	"github.com/harun/knowhub/pkg/metrics"
)

// Provider names
const (
	NameOpenAI    = "openai"
	NameAnthropic = "anthropic"
	NameGoogle    = "google"
)

// Role of a message in a provider conversation
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in a provider conversation
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
	ToolName   string     `json:"toolName,omitempty"`
	IsError    bool       `json:"isError,omitempty"`
}

// ToolCall is a tool invocation requested by the model
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolSpec describes a tool offered to the model
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Usage is token accounting for one call
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// Total returns prompt plus completion tokens
func (u Usage) Total() int { return u.PromptTokens + u.CompletionTokens }

// Add returns the sum of two usages
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
	}
}

// Request contains the parameters of one model call
type Request struct {
	Model           string
	System          string
	Messages        []Message
	Tools           []ToolSpec
	Temperature     float64
	MaxTokens       int
	ReasoningEffort string // low, medium, high; ignored by providers without support
}

// Response is the model output of one call
type Response struct {
	Text         string     `json:"text"`
	ToolCalls    []ToolCall `json:"toolCalls,omitempty"`
	Usage        Usage      `json:"usage"`
	FinishReason string     `json:"finishReason,omitempty"`
	Provider     string     `json:"provider"`
	Model        string     `json:"model"`
}

// TokenUsage reports usage to the metrics pipeline
func (r *Response) TokenUsage() metrics.TokenCounts {
	return metrics.TokenCounts{
		Prompt:     r.Usage.PromptTokens,
		Completion: r.Usage.CompletionTokens,
		Total:      r.Usage.Total(),
	}
}

// DeltaFunc receives text fragments while a response streams in
type DeltaFunc func(text string)

// LLMProvider is an interface for LLM API providers
type LLMProvider interface {
	// Name returns the provider name
	Name() string

	// Call makes a blocking model call
	Call(ctx context.Context, request Request) (*Response, error)

	// Stream makes a streaming model call, reporting text as it arrives
	// and returning the assembled response
	Stream(ctx context.Context, request Request, onDelta DeltaFunc) (*Response, error)
}
