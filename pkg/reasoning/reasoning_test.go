package reasoning

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, Medium, l)

	l, err = ParseLevel(" HIGH ")
	require.NoError(t, err)
	assert.Equal(t, High, l)

	_, err = ParseLevel("extreme")
	assert.Error(t, err)
}

func TestLevel(t *testing.T) {
	assert.Equal(t, "", Off.Effort())
	assert.Equal(t, "low", Low.Effort())
	assert.Equal(t, "high", High.Effort())

	assert.Equal(t, "base", Medium.System("base"))
	assert.True(t, strings.HasPrefix(High.System("base"), "base"))
	assert.Contains(t, High.System("base"), "<thinking>")
}

func TestExtractThinking(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		thinking string
		answer   string
	}{
		{"no block", "plain answer", "", "plain answer"},
		{"leading block", "<thinking>\nstep one\n</thinking>\n\nThe answer.", "step one", "The answer."},
		{"two blocks", "<thinking>a</thinking>x<thinking>b</thinking>y", "a\n\nb", "xy"},
		{"empty block", "<thinking> </thinking>done", "", "done"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			thinking, answer := ExtractThinking(tt.in)
			assert.Equal(t, tt.thinking, thinking)
			assert.Equal(t, tt.answer, answer)
		})
	}
}
