package agent

import (
	"encoding/json"
	"errors"
	"strings"
)

var errNoJSONObject = errors.New("no JSON object in response")

// extractJSON finds the JSON object in a model reply. Code fences and
// surrounding prose are tolerated.
func extractJSON(text string) (json.RawMessage, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}

	if json.Valid([]byte(s)) && strings.HasPrefix(s, "{") {
		return json.RawMessage(s), nil
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, errNoJSONObject
	}
	candidate := s[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return nil, errNoJSONObject
	}
	return json.RawMessage(candidate), nil
}
