package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/harun/knowhub/pkg/health"
	"github.com/harun/knowhub/pkg/message"
	"github.com/harun/knowhub/pkg/metrics"
	"github.com/harun/knowhub/pkg/orchestrator"
	"github.com/harun/knowhub/pkg/resilience"
)

type chatRequest struct {
	Messages       json.RawMessage `json:"messages"`
	ConversationID string          `json:"conversationId"`
}

// streamLine frames the first and last NDJSON lines of a streaming reply.
// Loop events are written between them as they are.
type streamLine struct {
	Type      string               `json:"type"`
	Mode      orchestrator.Mode    `json:"mode,omitempty"`
	RequestID string               `json:"requestId,omitempty"`
	BatchID   string               `json:"batchId,omitempty"`
	Result    *orchestrator.Result `json:"result,omitempty"`
	Error     string               `json:"error,omitempty"`
	Kind      string               `json:"kind,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !s.rateLimiter.Allow(ip) {
		retryAfter := s.rateLimiter.RetryAfter(ip)
		s.logger.Warn().Str("ip", ip).Int("retryAfter", retryAfter).Msg("Rate limit exceeded")

		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		s.writeError(w, r, http.StatusTooManyRequests, kindRateLimit, errors.New("too many requests"))
		return
	}

	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.options.MaxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, string(resilience.KindValidation),
			&resilience.ValidationError{Message: fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	history, err := message.ParseHistory(req.Messages)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, string(resilience.KindValidation),
			&resilience.ValidationError{Message: err.Error()})
		return
	}

	resp, err := s.deps.Orchestrator.ProcessRequest(r.Context(), history, req.ConversationID)
	if err != nil {
		status, kind := statusFor(err)
		s.writeError(w, r, status, kind, err)
		return
	}

	if resp.Stream == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	s.writeStream(w, resp)
}

// writeStream relays loop events as NDJSON and ends with a result or error
// line. A failed write stops the stream.
func (s *Server) writeStream(w http.ResponseWriter, resp *orchestrator.Response) {
	stream := resp.Stream
	defer stream.Stop()

	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	if err := enc.Encode(streamLine{Type: "start", Mode: resp.Mode, RequestID: resp.RequestID, BatchID: resp.BatchID}); err != nil {
		return
	}
	flush()

	for ev := range stream.Events() {
		if err := enc.Encode(ev); err != nil {
			s.logger.Warn().Err(err).Str("requestId", resp.RequestID).Msg("Client went away, stopping stream")
			stream.Stop()
			break
		}
		flush()
	}

	result, err := stream.Wait()
	last := streamLine{Type: "result", Result: result}
	if err != nil {
		_, kind := statusFor(err)
		last = streamLine{Type: "error", Error: err.Error(), Kind: kind}
	}
	enc.Encode(last)
	flush()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.deps.Health.Check(r.Context(), r.URL.Query().Get("details") == "true")

	status := http.StatusOK
	if report.Status != health.StatusOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

type metricsResponse struct {
	Range     metrics.Window       `json:"range"`
	Stats     metrics.Stats        `json:"stats"`
	Health    metrics.HealthReport `json:"health"`
	Timestamp time.Time            `json:"timestamp"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	window, err := metrics.ParseWindow(r.URL.Query().Get("range"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, string(resilience.KindValidation),
			&resilience.ValidationError{Message: err.Error()})
		return
	}

	stats := s.deps.Stats.Stats(window)
	writeJSON(w, http.StatusOK, metricsResponse{
		Range:     window,
		Stats:     stats,
		Health:    metrics.Health(stats),
		Timestamp: s.now().UTC(),
	})
}

type pingResponse struct {
	Success   bool            `json:"success"`
	LatencyMs int64           `json:"latencyMs"`
	Result    json.RawMessage `json:"result,omitempty"`
	Text      string          `json:"text,omitempty"`
	Tools     []string        `json:"tools,omitempty"`
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	started := s.now()
	details := r.URL.Query().Get("details") == "true"
	resp, err := s.deps.ToolServer.Ping(r.Context(), details)
	if err == nil && resp.IsError {
		err = &resilience.ToolExecutionError{Tool: "healthCheck", Message: resp.Text}
	}
	if err != nil {
		s.writeError(w, r, http.StatusServiceUnavailable, string(resilience.KindToolExecution), err)
		return
	}

	out := pingResponse{
		Success:   true,
		LatencyMs: s.now().Sub(started).Milliseconds(),
		Result:    resp.Data,
	}
	if len(resp.Data) == 0 {
		out.Text = resp.Text
	}
	if details {
		// the server is up; a failed listing only trims the details
		tools, err := s.deps.ToolServer.ListTools(r.Context())
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to list tool server tools")
		}
		for _, t := range tools {
			out.Tools = append(out.Tools, t.Name)
		}
	}
	writeJSON(w, http.StatusOK, out)
}
