package orchestrator

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultTriggerPatterns select blocking mode. They match requests that
// chain several steps whose outputs must be coordinated before answering.
var DefaultTriggerPatterns = []string{
	`créer.*et.*lier`,
	`analyser.*puis.*intégrer`,
	`vérifier.*avant`,
	`workflow`,
	`create.*and.*link`,
	`analy[sz]e.*then.*integrate`,
	`verify.*before`,
}

// CompilePatterns compiles trigger patterns case-insensitively
func CompilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid trigger pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func mustCompile(patterns []string) []*regexp.Regexp {
	out, err := CompilePatterns(patterns)
	if err != nil {
		panic(err)
	}
	return out
}

// SelectMode returns ModeBlocking when query matches any pattern
func SelectMode(query string, patterns []*regexp.Regexp) Mode {
	for _, re := range patterns {
		if re.MatchString(query) {
			return ModeBlocking
		}
	}
	return ModeStreaming
}
