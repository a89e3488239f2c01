package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/knowhub/internal/tracing"
	"github.com/harun/knowhub/pkg/metrics"
)

// Operation is one model invocation bound to a tier.
type Operation[T any] func(ctx context.Context, tier Tier) (T, error)

// TokenReporter lets operation results expose token usage to metrics.
type TokenReporter interface {
	TokenUsage() metrics.TokenCounts
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Executor runs operations across an ordered list of tiers, retrying each
// tier with exponential backoff before falling through to the next.
type Executor struct {
	tiers    []Tier
	policy   RetryPolicy
	logger   zerolog.Logger
	recorder metrics.Recorder
	sleep    SleepFunc
	classify func(error) Kind
	now      func() time.Time
}

// Option configures an Executor
type Option func(*Executor)

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithRecorder sets the metrics sink
func WithRecorder(r metrics.Recorder) Option {
	return func(e *Executor) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithPolicy sets the default retry policy
func WithPolicy(p RetryPolicy) Option {
	return func(e *Executor) {
		e.policy = p
	}
}

// WithSleep overrides backoff waiting
func WithSleep(s SleepFunc) Option {
	return func(e *Executor) {
		if s != nil {
			e.sleep = s
		}
	}
}

// WithClassifier overrides error classification
func WithClassifier(c func(error) Kind) Option {
	return func(e *Executor) {
		if c != nil {
			e.classify = c
		}
	}
}

// NewExecutor creates an executor. At least one tier is required.
func NewExecutor(tiers []Tier, opts ...Option) (*Executor, error) {
	if len(tiers) == 0 {
		return nil, &ConfigurationError{Message: "no model tiers configured"}
	}

	e := &Executor{
		tiers:    append([]Tier(nil), tiers...),
		policy:   DefaultRetryPolicy(),
		logger:   zerolog.Nop(),
		recorder: metrics.NopRecorder{},
		sleep:    sleepContext,
		classify: Classify,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Tiers returns a copy of the configured tiers
func (e *Executor) Tiers() []Tier {
	return append([]Tier(nil), e.tiers...)
}

// Policy returns the default retry policy
func (e *Executor) Policy() RetryPolicy {
	return e.policy
}

// Execute runs op against each tier in order. A nil policy uses the
// executor default.
//
// Non-recoverable errors are returned as is, without retry or fallback.
// When every tier fails the last error is wrapped in AllTiersExhaustedError.
func Execute[T any](ctx context.Context, e *Executor, op Operation[T], policy *RetryPolicy) (T, error) {
	var zero T

	p := e.policy
	if policy != nil {
		p = *policy
	}

	logger := tracing.LoggerFromContext(ctx, e.logger)

	var (
		lastErr  error
		attempts int
	)

	for tierIdx, tier := range e.tiers {
		maxAttempts := p.attemptsFor(tier)

		for attempt := 0; attempt < maxAttempts; attempt++ {
			if err := ctx.Err(); err != nil {
				return zero, &NonRecoverableError{Reason: "cancelled", Err: err}
			}

			attempts++
			result, err := runAttempt(ctx, e, tier, attempt, op)
			if err == nil {
				if tierIdx > 0 || attempt > 0 {
					logger.Info().
						Str("tier", tier.Key()).
						Int("attempt", attempt+1).
						Msg("Operation succeeded after recovery")
				}
				return result, nil
			}

			lastErr = err
			kind := e.classify(err)
			if kind != KindRecoverable {
				logger.Error().
					Err(err).
					Str("tier", tier.Key()).
					Str("kind", string(kind)).
					Msg("Non-recoverable error, aborting fallback")
				return zero, asNonRecoverable(err)
			}

			if attempt == maxAttempts-1 {
				break
			}

			delay := p.Backoff(attempt)
			logger.Warn().
				Err(err).
				Str("tier", tier.Key()).
				Int("attempt", attempt+1).
				Int("maxAttempts", maxAttempts).
				Int64("delayMs", delay.Milliseconds()).
				Msg("Retrying after error")

			if err := e.sleep(ctx, delay); err != nil {
				return zero, &NonRecoverableError{Reason: "cancelled", Err: err}
			}
		}

		if tierIdx < len(e.tiers)-1 {
			logger.Warn().
				Err(lastErr).
				Str("tier", tier.Key()).
				Str("next", e.tiers[tierIdx+1].Key()).
				Msg("Tier exhausted, falling back")
		}
	}

	logger.Error().Err(lastErr).Int("attempts", attempts).Msg("All model tiers exhausted")
	return zero, &AllTiersExhaustedError{Attempts: attempts, Last: lastErr}
}

// runAttempt invokes op once and records the outcome.
func runAttempt[T any](ctx context.Context, e *Executor, tier Tier, attempt int, op Operation[T]) (T, error) {
	ctx, span := tracing.StartSpan(ctx, "knowhub/resilience", "model.attempt",
		attribute.String("tier", tier.Key()),
		attribute.String("provider", tier.Provider),
		attribute.String("model", tier.Model),
		attribute.Int("attempt", attempt+1),
	)
	defer span.End()

	started := e.now()
	result, err := op(ctx, tier)
	elapsed := e.now().Sub(started)

	event := metrics.Event{
		Provider:   tier.Provider,
		Model:      tier.Model,
		DurationMs: metrics.Duration(elapsed),
		Metadata: map[string]any{
			"tier":    tier.Key(),
			"attempt": attempt + 1,
		},
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		event.Kind = metrics.KindError
		event.ErrorText = err.Error()
		e.recorder.Record(event)
		return result, err
	}

	event.Kind = metrics.KindSuccess
	if tr, ok := any(result).(TokenReporter); ok {
		usage := tr.TokenUsage()
		event.Tokens = &usage
	}
	e.recorder.Record(event)
	return result, nil
}

func asNonRecoverable(err error) error {
	var k Kinded
	if errors.As(err, &k) {
		return err
	}
	reason := "invalid_request"
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		reason = "cancelled"
	}
	return &NonRecoverableError{Reason: reason, Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
