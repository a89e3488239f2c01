package loop

import (
	"context"

	"github.com/harun/knowhub/pkg/provider"
	"github.com/harun/knowhub/pkg/resilience"
)

// Resolver maps a tier to its provider
type Resolver interface {
	Lookup(tier resilience.Tier) (provider.Entry, error)
}

// Execute runs the whole loop under the fallback executor, restarting it
// from the original messages on every attempt. Tool calls made by a failed
// attempt are not rolled back.
func Execute(ctx context.Context, exec *resilience.Executor, resolver Resolver, params Params, policy *resilience.RetryPolicy) (*Result, error) {
	attempts := 0
	return resilience.Execute(ctx, exec, func(ctx context.Context, tier resilience.Tier) (*Result, error) {
		entry, err := resolver.Lookup(tier)
		if err != nil {
			return nil, err
		}

		if attempts > 0 && params.OnEvent != nil {
			params.OnEvent(Event{Type: EventRetry, Tier: tier.Key()})
		}
		attempts++

		p := params
		p.Model = tier.Model
		if p.MaxTokens == 0 {
			p.MaxTokens = entry.MaxTokens
		}
		return Run(ctx, entry.Provider, p)
	}, policy)
}
