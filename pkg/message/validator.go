package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Role is the author of a conversation turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// DefaultPlaceholder replaces empty assistant turns before provider submission.
const DefaultPlaceholder = "Processing your request..."

// ErrEmptyHistory is returned when no usable turn remains after validation.
var ErrEmptyHistory = errors.New("message history is empty")

// Message is a turn as received from a client. Content is kept untyped so
// that malformed payloads can be reported instead of rejected wholesale.
type Message struct {
	Role    Role `json:"role"`
	Content any  `json:"content"`
}

// Turn is a validated conversation turn
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ValidationResult is the outcome of ValidateHistory. Dropped lists the
// indexes of empty assistant turns, which are removed without being errors.
type ValidationResult struct {
	Valid   bool     `json:"valid"`
	Cleaned []Turn   `json:"cleaned"`
	Errors  []string `json:"errors"`
	Dropped []int    `json:"dropped,omitempty"`
}

// ValidRole reports whether r is a known role
func ValidRole(r Role) bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ValidateHistory drops turns with an unknown role, non-string content or
// empty assistant content. Order of the remaining turns is preserved. Malformed
// turns are reported in Errors; empty assistant turns only in Dropped.
func ValidateHistory(messages []Message) ValidationResult {
	result := ValidationResult{
		Cleaned: make([]Turn, 0, len(messages)),
		Errors:  make([]string, 0),
	}

	for i, msg := range messages {
		if !ValidRole(msg.Role) {
			result.Errors = append(result.Errors, fmt.Sprintf("message %d: invalid role %q", i, msg.Role))
			continue
		}

		content, ok := msg.Content.(string)
		if !ok {
			result.Errors = append(result.Errors, fmt.Sprintf("message %d: content must be a string, got %T", i, msg.Content))
			continue
		}

		if msg.Role == RoleAssistant && strings.TrimSpace(content) == "" {
			result.Dropped = append(result.Dropped, i)
			continue
		}

		result.Cleaned = append(result.Cleaned, Turn{Role: msg.Role, Content: content})
	}

	result.Valid = len(result.Errors) == 0
	return result
}

// EnsureNonEmpty returns a copy of turns where blank assistant content is
// replaced by placeholder (DefaultPlaceholder when empty).
func EnsureNonEmpty(turns []Turn, placeholder string) []Turn {
	if placeholder == "" {
		placeholder = DefaultPlaceholder
	}
	out := make([]Turn, len(turns))
	for i, t := range turns {
		if t.Role == RoleAssistant && strings.TrimSpace(t.Content) == "" {
			t.Content = placeholder
		}
		out[i] = t
	}
	return out
}

// LastUserMessage returns the content of the latest user turn, or "".
func LastUserMessage(turns []Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == RoleUser {
			return turns[i].Content
		}
	}
	return ""
}

// ParseHistory decodes a JSON array of messages, keeping content untyped.
func ParseHistory(raw []byte) ([]Message, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, ErrEmptyHistory
	}

	var messages []Message
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode message history: %w", err)
	}
	if len(messages) == 0 {
		return nil, ErrEmptyHistory
	}
	return messages, nil
}
