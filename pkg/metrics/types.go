package metrics

import (
	"fmt"
	"time"
)

// EventKind classifies a recorded event
type EventKind string

const (
	KindRequest   EventKind = "request"
	KindSuccess   EventKind = "success"
	KindError     EventKind = "error"
	KindAgentCall EventKind = "agent_call"
	KindToolCall  EventKind = "tool_call"
)

// TokenCounts holds token usage for one event
type TokenCounts struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Event is a single observation fed into the aggregator
type Event struct {
	Timestamp  time.Time      `json:"timestamp"`
	Kind       EventKind      `json:"type"`
	DurationMs *int64         `json:"durationMs,omitempty"`
	Provider   string         `json:"provider,omitempty"`
	Model      string         `json:"model,omitempty"`
	Agent      string         `json:"agent,omitempty"`
	Tool       string         `json:"tool,omitempty"`
	Tokens     *TokenCounts   `json:"tokens,omitempty"`
	ErrorText  string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Duration returns a pointer suitable for Event.DurationMs
func Duration(d time.Duration) *int64 {
	ms := d.Milliseconds()
	return &ms
}

// Window is a time range used by Stats
type Window string

const (
	WindowRecent Window = "1h"
	WindowDay    Window = "24h"
	WindowAll    Window = "all"
)

// ParseWindow accepts 1h, 24h, all and the aliases recent and day.
// An empty string selects the recent window.
func ParseWindow(s string) (Window, error) {
	switch s {
	case "", "1h", "recent":
		return WindowRecent, nil
	case "24h", "day":
		return WindowDay, nil
	case "all":
		return WindowAll, nil
	}
	return "", fmt.Errorf("unknown metrics window %q", s)
}

// Span returns the window length, 0 for all.
func (w Window) Span() time.Duration {
	switch w {
	case WindowRecent:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	}
	return 0
}

// Stats summarizes the events inside a window
type Stats struct {
	Window            Window         `json:"window"`
	TotalRequests     int            `json:"totalRequests"`
	SuccessRate       float64        `json:"successRate"`
	AvgResponseTimeMs float64        `json:"avgResponseTime"`
	TotalTokens       int            `json:"totalTokens"`
	ErrorRate         float64        `json:"errorRate"`
	PerProviderUsage  map[string]int `json:"modelUsage"`
	EventCount        int            `json:"eventCount"`
}

// Recorder is the sink components report events to
type Recorder interface {
	Record(event Event)
}

// RecorderFunc adapts a function to Recorder
type RecorderFunc func(Event)

// Record calls f(event)
func (f RecorderFunc) Record(event Event) { f(event) }

// NopRecorder discards events
type NopRecorder struct{}

// Record does nothing
func (NopRecorder) Record(Event) {}

// MultiRecorder fans an event out to several sinks
type MultiRecorder []Recorder

// Record forwards event to every non-nil sink
func (m MultiRecorder) Record(event Event) {
	for _, r := range m {
		if r != nil {
			r.Record(event)
		}
	}
}
