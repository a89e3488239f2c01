package tracing

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	if id1 == "" {
		t.Error("NewTraceID returned empty string")
	}
	if id1 == id2 {
		t.Error("NewTraceID returned duplicate IDs")
	}
}

func TestNewRequestID(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	id := NewRequestID(now)

	if !regexp.MustCompile(`^req_1700000000123_[a-z0-9]{9}$`).MatchString(id) {
		t.Errorf("unexpected request ID format: %s", id)
	}
	if id == NewRequestID(now) {
		t.Error("NewRequestID returned duplicate IDs")
	}
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace")
	ctx = WithRequestID(ctx, "req")
	ctx = WithConversationID(ctx, "conv")
	ctx = WithAgentID(ctx, "reader")
	ctx = WithBatchID(ctx, "batch_conv_1")

	tc := FromContext(ctx)
	want := TraceContext{TraceID: "trace", RequestID: "req", ConversationID: "conv", AgentID: "reader", BatchID: "batch_conv_1"}
	if tc != want {
		t.Errorf("Expected %+v, got %+v", want, tc)
	}
}

func TestEmptyValuesAreNotStored(t *testing.T) {
	ctx := WithConversationID(context.Background(), "")
	if GetConversationID(ctx) != "" {
		t.Error("expected empty conversation ID")
	}
}

func TestNewRequestContext(t *testing.T) {
	ctx := NewRequestContext(context.Background(), "req_1", "conv")
	if GetTraceID(ctx) == "" {
		t.Error("expected trace ID to be generated")
	}

	kept := NewRequestContext(WithTraceID(context.Background(), "existing"), "req_2", "")
	if GetTraceID(kept) != "existing" {
		t.Errorf("expected existing trace ID, got %s", GetTraceID(kept))
	}
}

func TestForAgent(t *testing.T) {
	parent := NewRequestContext(context.Background(), "req_1", "conv")
	parent = WithAgentID(parent, "orchestrator")

	child := ForAgent(parent, "integrator")

	if GetAgentID(child) != "integrator" {
		t.Errorf("expected integrator, got %s", GetAgentID(child))
	}
	if GetTraceID(child) != GetTraceID(parent) {
		t.Error("trace ID must be inherited")
	}
	if GetRequestID(child) != "req_1" {
		t.Error("request ID must be inherited")
	}
}

func TestLoggerFromContext(t *testing.T) {
	base := zerolog.Nop()
	ctx := WithRequestID(context.Background(), "req")

	logger := LoggerFromContext(ctx, base)
	if logger.GetLevel() != base.GetLevel() {
		t.Error("level must be preserved")
	}
}

func TestStartSpan(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test", "span")
	defer EndSpan(span, nil)

	if ctx == nil {
		t.Fatal("expected context")
	}
}
