package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

// Kind is the stable identifier of an error category.
type Kind string

const (
	KindConfiguration     Kind = "configuration"
	KindValidation        Kind = "validation"
	KindNonRecoverable    Kind = "non_recoverable"
	KindRecoverable       Kind = "recoverable"
	KindToolExecution     Kind = "tool_execution"
	KindResponseParse     Kind = "response_parse"
	KindAllTiersExhausted Kind = "all_tiers_exhausted"
)

// Kinded is implemented by every error in the taxonomy.
type Kinded interface {
	error
	Kind() Kind
}

// ConfigurationError is returned when the system cannot run with the given setup.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string { return "configuration error: " + e.Message }
func (e *ConfigurationError) Kind() Kind    { return KindConfiguration }

// ValidationError reports malformed input such as an unusable message history.
type ValidationError struct {
	Message string
	Details []string
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error: %s (%s)", e.Message, strings.Join(e.Details, "; "))
}
func (e *ValidationError) Kind() Kind { return KindValidation }

// NonRecoverableError aborts fallback immediately. Reason is one of
// invalid_tool_arguments, no_such_tool, invalid_request or cancelled.
type NonRecoverableError struct {
	Reason string
	Err    error
}

func (e *NonRecoverableError) Error() string {
	if e.Err == nil {
		return "non-recoverable error: " + e.Reason
	}
	return fmt.Sprintf("non-recoverable error (%s): %v", e.Reason, e.Err)
}
func (e *NonRecoverableError) Unwrap() error { return e.Err }
func (e *NonRecoverableError) Kind() Kind    { return KindNonRecoverable }

// RecoverableError marks a transient provider failure.
type RecoverableError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *RecoverableError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("recoverable provider error (%s, status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("recoverable provider error (%s): %v", e.Provider, e.Err)
}
func (e *RecoverableError) Unwrap() error { return e.Err }
func (e *RecoverableError) Kind() Kind    { return KindRecoverable }

// IsRateLimit reports whether the provider rejected the call with 429.
func (e *RecoverableError) IsRateLimit() bool { return e.StatusCode == 429 }

// ToolExecutionError is a remote tool failure. Fatal marks failures that
// must not be fed back to the model (unknown method, invalid params).
type ToolExecutionError struct {
	Tool    string
	Code    int
	Message string
	Fatal   bool
}

func (e *ToolExecutionError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("tool %s failed (code %d): %s", e.Tool, e.Code, e.Message)
	}
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Message)
}
func (e *ToolExecutionError) Kind() Kind { return KindToolExecution }

// ResponseParseError is returned when agent output is not the expected JSON.
type ResponseParseError struct {
	Raw string
	Err error
}

func (e *ResponseParseError) Error() string {
	return fmt.Sprintf("failed to parse agent response: %v", e.Err)
}
func (e *ResponseParseError) Unwrap() error { return e.Err }
func (e *ResponseParseError) Kind() Kind    { return KindResponseParse }

// AllTiersExhaustedError wraps the last error after every tier failed.
type AllTiersExhaustedError struct {
	Attempts int
	Last     error
}

func (e *AllTiersExhaustedError) Error() string {
	return fmt.Sprintf("all model tiers exhausted after %d attempts: %v", e.Attempts, e.Last)
}
func (e *AllTiersExhaustedError) Unwrap() error { return e.Last }
func (e *AllTiersExhaustedError) Kind() Kind    { return KindAllTiersExhausted }

// KindOf returns the kind of the outermost taxonomy error in the chain,
// falling back to Classify for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var k Kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return Classify(err)
}

// IsRecoverable reports whether err should be retried and may fall through
// to another tier.
func IsRecoverable(err error) bool {
	return Classify(err) == KindRecoverable
}

var nonRecoverableMarkers = []string{
	"invalid",
	"not found",
	"unknown tool",
	"no such tool",
}

// Classify decides whether a failed attempt is worth retrying.
// Typed errors win over provider status codes, which win over message text.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindNonRecoverable
	}

	var nr *NonRecoverableError
	if errors.As(err, &nr) {
		return KindNonRecoverable
	}
	var te *ToolExecutionError
	if errors.As(err, &te) {
		if te.Fatal {
			return KindNonRecoverable
		}
		return KindRecoverable
	}
	var cfg *ConfigurationError
	if errors.As(err, &cfg) {
		return KindNonRecoverable
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return KindNonRecoverable
	}
	var rec *RecoverableError
	if errors.As(err, &rec) {
		return KindRecoverable
	}

	if status := statusCode(err); status > 0 {
		return classifyStatus(status)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindRecoverable
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range nonRecoverableMarkers {
		if strings.Contains(msg, marker) {
			return KindNonRecoverable
		}
	}
	return KindRecoverable
}

func classifyStatus(status int) Kind {
	switch {
	case status == 400, status == 404, status == 422:
		return KindNonRecoverable
	case status == 401, status == 403, status == 408, status == 409, status == 429:
		return KindRecoverable
	case status >= 500:
		return KindRecoverable
	}
	return KindNonRecoverable
}

// StatusCode extracts the HTTP status from a provider SDK error, or 0.
func StatusCode(err error) int {
	return statusCode(err)
}

func statusCode(err error) int {
	var rec *RecoverableError
	if errors.As(err, &rec) && rec.StatusCode > 0 {
		return rec.StatusCode
	}
	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		return oaErr.StatusCode
	}
	var anErr *anthropic.Error
	if errors.As(err, &anErr) {
		return anErr.StatusCode
	}
	return 0
}
