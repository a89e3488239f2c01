package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggerFromContext returns baseLogger enriched with the tracing fields in ctx.
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	if tc == (TraceContext{}) {
		return baseLogger
	}

	lc := baseLogger.With()
	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.RequestID != "" {
		lc = lc.Str("request_id", tc.RequestID)
	}
	if tc.ConversationID != "" {
		lc = lc.Str("conversation_id", tc.ConversationID)
	}
	if tc.AgentID != "" {
		lc = lc.Str("agent_id", tc.AgentID)
	}
	if tc.BatchID != "" {
		lc = lc.Str("batch_id", tc.BatchID)
	}
	return lc.Logger()
}
