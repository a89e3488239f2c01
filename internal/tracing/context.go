package tracing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RequestIDKey is the context key for the inbound request ID
	RequestIDKey ContextKey = "request_id"
	// ConversationIDKey is the context key for the client conversation
	ConversationIDKey ContextKey = "conversation_id"
	// AgentIDKey is the context key for the delegate currently running
	AgentIDKey ContextKey = "agent_id"
	// BatchIDKey is the context key for the active integration batch
	BatchIDKey ContextKey = "batch_id"
)

const requestIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// TraceContext holds tracing information
type TraceContext struct {
	TraceID        string
	RequestID      string
	ConversationID string
	AgentID        string
	BatchID        string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRequestID returns an ID of the form req_<unixms>_<random>.
func NewRequestID(now time.Time) string {
	suffix, err := gonanoid.Generate(requestIDAlphabet, 9)
	if err != nil {
		suffix = uuid.New().String()[:9]
	}
	return fmt.Sprintf("req_%d_%s", now.UnixMilli(), suffix)
}

func withValue(ctx context.Context, key ContextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func getValue(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return withValue(ctx, TraceIDKey, traceID)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withValue(ctx, RequestIDKey, requestID)
}

// WithConversationID adds a conversation ID to the context
func WithConversationID(ctx context.Context, conversationID string) context.Context {
	return withValue(ctx, ConversationIDKey, conversationID)
}

// WithAgentID adds an agent ID to the context
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return withValue(ctx, AgentIDKey, agentID)
}

// WithBatchID adds a batch ID to the context
func WithBatchID(ctx context.Context, batchID string) context.Context {
	return withValue(ctx, BatchIDKey, batchID)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string { return getValue(ctx, TraceIDKey) }

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string { return getValue(ctx, RequestIDKey) }

// GetConversationID retrieves the conversation ID from the context
func GetConversationID(ctx context.Context) string { return getValue(ctx, ConversationIDKey) }

// GetAgentID retrieves the agent ID from the context
func GetAgentID(ctx context.Context) string { return getValue(ctx, AgentIDKey) }

// GetBatchID retrieves the batch ID from the context
func GetBatchID(ctx context.Context) string { return getValue(ctx, BatchIDKey) }

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) TraceContext {
	return TraceContext{
		TraceID:        GetTraceID(ctx),
		RequestID:      GetRequestID(ctx),
		ConversationID: GetConversationID(ctx),
		AgentID:        GetAgentID(ctx),
		BatchID:        GetBatchID(ctx),
	}
}

// NewRequestContext starts a request scope with a fresh trace ID.
// An existing trace ID is kept.
func NewRequestContext(ctx context.Context, requestID, conversationID string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	ctx = WithRequestID(ctx, requestID)
	return WithConversationID(ctx, conversationID)
}

// ForAgent derives the context a delegate runs in. The trace and request
// scope are inherited, the agent ID is replaced.
func ForAgent(ctx context.Context, agentID string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	return context.WithValue(ctx, AgentIDKey, agentID)
}
