package loop

import (
	"github.com/harun/knowhub/pkg/provider"
	"github.com/harun/knowhub/pkg/toolset"
)

// EventType identifies a streaming event
type EventType string

const (
	EventStepStart  EventType = "step_start"
	EventTextDelta  EventType = "text_delta"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventStepFinish EventType = "step_finish"
	// EventRetry is emitted when a tier failed and the loop restarts on
	// the next attempt. Text already streamed for the failed attempt is void.
	EventRetry EventType = "retry"
)

// Event is one streaming notification
type Event struct {
	Type       EventType          `json:"type"`
	Step       int                `json:"step,omitempty"`
	Text       string             `json:"text,omitempty"`
	ToolCall   *provider.ToolCall `json:"toolCall,omitempty"`
	ToolResult *toolset.Result    `json:"toolResult,omitempty"`
	Tier       string             `json:"tier,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// EventFunc receives streaming events. It is called from the loop goroutine.
type EventFunc func(Event)
