package provider

import (
	"fmt"

	"github.com/openai/openai-go/option"

	"github.com/harun/knowhub/internal/config"
	"github.com/harun/knowhub/pkg/resilience"
)

// Factory creates the provider for one configured tier
type Factory func(cfg config.TierConfig) (LLMProvider, error)

// DefaultFactory maps provider names to SDK-backed implementations
func DefaultFactory(cfg config.TierConfig) (LLMProvider, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		if cfg.BaseURL != "" {
			return NewOpenAIProvider(cfg.APIKey, option.WithBaseURL(cfg.BaseURL)), nil
		}
		return NewOpenAIProvider(cfg.APIKey), nil
	case config.ProviderAnthropic:
		if cfg.BaseURL != "" {
			return NewAnthropicProvider(cfg.APIKey, anthropicBaseURL(cfg.BaseURL)), nil
		}
		return NewAnthropicProvider(cfg.APIKey), nil
	case config.ProviderGoogle:
		return NewGeminiProvider(cfg.APIKey, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// Entry binds a tier to its provider
type Entry struct {
	Tier      resilience.Tier
	Provider  LLMProvider
	MaxTokens int
}

// Chain is the ordered set of tiers with their providers
type Chain struct {
	entries []Entry
	byKey   map[string]Entry
}

// NewChain creates a chain from explicit entries
func NewChain(entries ...Entry) *Chain {
	c := &Chain{byKey: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		c.entries = append(c.entries, e)
		c.byKey[e.Tier.Key()] = e
	}
	return c
}

// BuildChain creates providers for every enabled tier that has an API key.
// It fails with a ConfigurationError when no tier is usable.
func BuildChain(cfgs []config.TierConfig, factory Factory) (*Chain, error) {
	if factory == nil {
		factory = DefaultFactory
	}

	entries := make([]Entry, 0, len(cfgs))
	for _, cfg := range cfgs {
		if cfg.Disabled || cfg.APIKey == "" {
			continue
		}
		p, err := factory(cfg)
		if err != nil {
			return nil, &resilience.ConfigurationError{Message: fmt.Sprintf("tier %s: %v", cfg.Name, err)}
		}

		role := resilience.TierRole(cfg.Role)
		if role == "" {
			role = resilience.RoleStandard
		}
		entries = append(entries, Entry{
			Tier: resilience.Tier{
				Name:             cfg.Name,
				Provider:         cfg.Provider,
				Model:            cfg.Model,
				Role:             role,
				MaxRetriesInTier: cfg.MaxRetriesInTier,
			},
			Provider:  p,
			MaxTokens: cfg.MaxTokens,
		})
	}

	if len(entries) == 0 {
		return nil, &resilience.ConfigurationError{Message: "no model tier has an API key configured"}
	}
	return NewChain(entries...), nil
}

// Tiers returns the tiers in fallback order
func (c *Chain) Tiers() []resilience.Tier {
	tiers := make([]resilience.Tier, len(c.entries))
	for i, e := range c.entries {
		tiers[i] = e.Tier
	}
	return tiers
}

// Lookup returns the entry for a tier
func (c *Chain) Lookup(tier resilience.Tier) (Entry, error) {
	e, ok := c.byKey[tier.Key()]
	if !ok {
		return Entry{}, &resilience.ConfigurationError{Message: "no provider for tier " + tier.Key()}
	}
	return e, nil
}

// Len returns the number of tiers
func (c *Chain) Len() int {
	return len(c.entries)
}
