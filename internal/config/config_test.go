package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 7, cfg.Orchestrator.MaxSteps)
	assert.Equal(t, 5, cfg.Agents.ReaderMaxSteps)
	assert.Equal(t, 3, cfg.Agents.IntegratorReadSteps)
	assert.Equal(t, 7, cfg.Agents.IntegratorWriteSteps)
	assert.Equal(t, 1000, cfg.Metrics.Capacity)
	require.Len(t, cfg.Tiers, 3)
	assert.Equal(t, ProviderGoogle, cfg.Tiers[0].Provider)
	assert.Equal(t, "fallback", cfg.Tiers[2].Role)
}

func TestConfigValidate(t *testing.T) {
	t.Run("should report every problem", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ToolServer.URL = "ftp://example.com"
		cfg.Tiers[0].Provider = "cohere"
		cfg.Orchestrator.MaxSteps = 0
		cfg.Reasoning.Level = "extreme"

		err := cfg.Validate()
		require.Error(t, err)
		msg := err.Error()
		assert.Contains(t, msg, "unsupported scheme")
		assert.Contains(t, msg, "invalid provider")
		assert.Contains(t, msg, "max_steps")
		assert.Contains(t, msg, "reasoning level")
	})

	t.Run("should require tiers", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Tiers = nil

		assert.ErrorContains(t, cfg.Validate(), "at least one model tier")
	})

	t.Run("should reject inverted backoff bounds", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Retry.MaxDelay = cfg.Retry.InitialDelay / 2

		assert.ErrorContains(t, cfg.Validate(), "max_delay")
	})
}

func TestEnabledTiers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tiers[0].APIKey = "g-key"
	cfg.Tiers[1].APIKey = "a-key"
	cfg.Tiers[1].Disabled = true

	tiers := cfg.EnabledTiers()
	require.Len(t, tiers, 1)
	assert.Equal(t, "gemini-flash", tiers[0].Name)
}

func TestConfigString(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tiers[0].APIKey = "AIzaSecretValue"

	out := cfg.String()
	assert.NotContains(t, out, "AIzaSecretValue")
	assert.True(t, strings.Contains(out, "***"))
	assert.Equal(t, "AIzaSecretValue", cfg.Tiers[0].APIKey, "original must be untouched")
}
