// Package reasoning maps reasoning levels onto provider settings and
// separates thinking blocks from final answers.
package reasoning

import (
	"fmt"
	"regexp"
	"strings"
)

// Level is how much deliberate reasoning a call should use
type Level string

const (
	Off    Level = "off"
	Low    Level = "low"
	Medium Level = "medium"
	High   Level = "high"
)

// ParseLevel accepts off, low, medium and high. Empty means medium.
func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToLower(strings.TrimSpace(s))); l {
	case "":
		return Medium, nil
	case Off, Low, Medium, High:
		return l, nil
	}
	return "", fmt.Errorf("unknown reasoning level %q", s)
}

// Effort is the provider reasoning effort, "" when reasoning is off.
func (l Level) Effort() string {
	switch l {
	case Low, Medium, High:
		return string(l)
	}
	return ""
}

const thinkingSuffix = `

Before answering, reason step by step inside <thinking></thinking> tags:
understand the intent, identify the key entities, plan the tool calls, then check consistency.
Put only the final answer after the closing tag.`

// System appends the thinking instructions for high reasoning. Lower
// levels rely on the provider effort setting alone.
func (l Level) System(prompt string) string {
	if l != High {
		return prompt
	}
	return prompt + thinkingSuffix
}

var thinkingBlock = regexp.MustCompile(`(?s)<thinking>(.*?)</thinking>`)

// ExtractThinking splits text into the content of all thinking blocks and
// the remaining answer. thinking is "" when no block is present.
func ExtractThinking(text string) (thinking, answer string) {
	matches := thinkingBlock.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return "", text
	}

	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		if t := strings.TrimSpace(m[1]); t != "" {
			parts = append(parts, t)
		}
	}
	answer = strings.TrimSpace(thinkingBlock.ReplaceAllString(text, ""))
	return strings.Join(parts, "\n\n"), answer
}
