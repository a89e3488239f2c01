package resilience

import (
	"math"
	"time"
)

// TierRole describes what a tier is for.
type TierRole string

const (
	RoleStandard  TierRole = "standard"
	RoleFallback  TierRole = "fallback"
	RoleReasoning TierRole = "reasoning"
)

// Tier is one provider/model combination in the fallback chain.
// A nil MaxRetriesInTier falls back to the policy's MaxRetries.
type Tier struct {
	Name             string   `json:"name"`
	Provider         string   `json:"provider"`
	Model            string   `json:"model"`
	Role             TierRole `json:"role"`
	MaxRetriesInTier *int     `json:"maxRetriesInTier,omitempty"`
}

// Retries returns a pointer to n for tier literals.
func Retries(n int) *int {
	return &n
}

// Key identifies the tier in logs and metrics.
func (t Tier) Key() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Provider + "/" + t.Model
}

// RetryPolicy controls attempts and backoff inside a single tier.
type RetryPolicy struct {
	MaxRetries        int           `json:"maxRetries" mapstructure:"max_retries"`
	BackoffMultiplier float64       `json:"backoffMultiplier" mapstructure:"backoff_multiplier"`
	InitialDelay      time.Duration `json:"initialDelay" mapstructure:"initial_delay"`
	MaxDelay          time.Duration `json:"maxDelay" mapstructure:"max_delay"`
}

// DefaultRetryPolicy returns 3 retries, doubling from 1s up to 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		BackoffMultiplier: 2,
		InitialDelay:      time.Second,
		MaxDelay:          10 * time.Second,
	}
}

// Backoff returns the delay before retry n (0-based):
// min(initial * multiplier^n, max).
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	mult := p.BackoffMultiplier
	if mult <= 0 {
		mult = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(mult, float64(n))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// attemptsFor returns the number of attempts allowed in a tier. The tier's
// own budget wins when set.
func (p RetryPolicy) attemptsFor(t Tier) int {
	retries := p.MaxRetries
	if t.MaxRetriesInTier != nil {
		retries = *t.MaxRetriesInTier
	}
	if retries < 0 {
		retries = 0
	}
	return retries + 1
}
