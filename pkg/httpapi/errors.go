package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/harun/knowhub/internal/tracing"
	"github.com/harun/knowhub/pkg/resilience"
	"github.com/harun/knowhub/pkg/toolserver"
)

// kindRateLimit is reported for client and provider rate limits
const kindRateLimit = "rate_limit"

type errorBody struct {
	Error     string    `json:"error"`
	Kind      string    `json:"kind"`
	Details   []string  `json:"details,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// statusFor maps an error to its HTTP status and kind. Rate limits win
// over tier exhaustion so clients know to back off.
func statusFor(err error) (int, string) {
	var rec *resilience.RecoverableError
	if errors.As(err, &rec) && rec.IsRateLimit() {
		return http.StatusTooManyRequests, kindRateLimit
	}

	var connErr *toolserver.ConnectError
	if errors.As(err, &connErr) {
		return http.StatusServiceUnavailable, string(resilience.KindToolExecution)
	}

	kind := resilience.KindOf(err)
	switch kind {
	case resilience.KindValidation:
		return http.StatusBadRequest, string(kind)
	case resilience.KindAllTiersExhausted, resilience.KindRecoverable, resilience.KindToolExecution:
		return http.StatusServiceUnavailable, string(kind)
	}
	return http.StatusInternalServerError, string(kind)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, kind string, err error) {
	body := errorBody{
		Error:     err.Error(),
		Kind:      kind,
		RequestID: tracing.GetRequestID(r.Context()),
		Timestamp: s.now().UTC(),
	}
	var verr *resilience.ValidationError
	if errors.As(err, &verr) {
		body.Error = verr.Message
		body.Details = verr.Details
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("requestId", body.RequestID).Str("kind", kind).Msg("Request failed")
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
