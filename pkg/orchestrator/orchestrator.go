package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/knowhub/internal/tracing"
	"github.com/harun/knowhub/pkg/batch"
	"github.com/harun/knowhub/pkg/loop"
	"github.com/harun/knowhub/pkg/message"
	"github.com/harun/knowhub/pkg/metrics"
	"github.com/harun/knowhub/pkg/prompts"
	"github.com/harun/knowhub/pkg/reasoning"
	"github.com/harun/knowhub/pkg/resilience"
)

const tracerName = "knowhub/orchestrator"

// DefaultMaxSteps bounds model and tool round trips of the top model
const DefaultMaxSteps = 7

// Deps are the collaborators of the Orchestrator
type Deps struct {
	Executor   *resilience.Executor
	Providers  loop.Resolver
	Reader     ReadAgent
	Integrator WriteAgent
	Prompts    PromptSource
	Recorder   metrics.Recorder
	Logger     zerolog.Logger
	// Queue serializes Integrator writes per conversation when set
	Queue WriteQueue
}

// Orchestrator routes a conversation turn to the top model, which delegates
// to the Reader and Integrator agents.
type Orchestrator struct {
	deps     Deps
	logger   zerolog.Logger
	maxSteps int
	patterns []*regexp.Regexp
	level    reasoning.Level
	temp     float64
	now      func() time.Time
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithMaxSteps sets the step ceiling of the top model
func WithMaxSteps(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxSteps = n
		}
	}
}

// WithTriggerPatterns replaces the blocking mode patterns
func WithTriggerPatterns(patterns []*regexp.Regexp) Option {
	return func(o *Orchestrator) {
		if len(patterns) > 0 {
			o.patterns = patterns
		}
	}
}

// WithReasoning sets the reasoning level of the top model
func WithReasoning(level reasoning.Level) Option {
	return func(o *Orchestrator) {
		o.level = level
	}
}

// WithTemperature sets the sampling temperature of the top model
func WithTemperature(t float64) Option {
	return func(o *Orchestrator) {
		o.temp = t
	}
}

// WithClock overrides time.Now, used for batch ids and durations
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates an Orchestrator
func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Executor == nil:
		return nil, &resilience.ConfigurationError{Message: "orchestrator requires an executor"}
	case deps.Providers == nil:
		return nil, &resilience.ConfigurationError{Message: "orchestrator requires providers"}
	case deps.Reader == nil || deps.Integrator == nil:
		return nil, &resilience.ConfigurationError{Message: "orchestrator requires reader and integrator agents"}
	case deps.Prompts == nil:
		return nil, &resilience.ConfigurationError{Message: "orchestrator requires prompts"}
	}
	if deps.Recorder == nil {
		deps.Recorder = metrics.NopRecorder{}
	}

	o := &Orchestrator{
		deps:     deps,
		logger:   deps.Logger.With().Str("component", "orchestrator").Logger(),
		maxSteps: DefaultMaxSteps,
		patterns: mustCompile(DefaultTriggerPatterns),
		level:    reasoning.High,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Mode returns the execution mode chosen for query
func (o *Orchestrator) Mode(query string) Mode {
	return SelectMode(query, o.patterns)
}

// ProcessRequest validates history and runs the top model with the two
// delegation tools. Streaming requests return immediately with a Stream;
// blocking requests return once the model is done.
//
// A batch id is derived only when conversationID is set. Validation errors
// are returned before any model call.
func (o *Orchestrator) ProcessRequest(ctx context.Context, history []message.Message, conversationID string) (*Response, error) {
	started := o.now()
	if tracing.GetRequestID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx, tracing.NewRequestID(started), conversationID)
	} else {
		ctx = tracing.WithConversationID(ctx, conversationID)
	}

	turns, err := o.validate(ctx, history)
	if err != nil {
		o.recordFailure(ctx, started, err)
		return nil, err
	}

	batchID := batch.NewBatchID(conversationID, started)
	ctx = tracing.WithBatchID(ctx, batchID)
	logger := tracing.LoggerFromContext(ctx, o.logger)

	mode := o.Mode(message.LastUserMessage(turns))
	tools, err := o.delegationTools(delegationScope{batchID: batchID, conversationID: conversationID})
	if err != nil {
		err = &resilience.ConfigurationError{Message: fmt.Sprintf("delegation tools: %v", err)}
		o.recordFailure(ctx, started, err)
		return nil, err
	}

	params := loop.Params{
		System:          o.level.System(o.deps.Prompts.Get(prompts.RoleOrchestrator)),
		Messages:        loop.FromTurns(turns),
		Tools:           tools,
		MaxSteps:        o.maxSteps,
		Temperature:     o.temp,
		ReasoningEffort: o.level.Effort(),
		Logger:          o.logger,
	}

	logger.Info().
		Str("mode", string(mode)).
		Int("turns", len(turns)).
		Msg("Processing request")

	resp := &Response{
		Mode:      mode,
		RequestID: tracing.GetRequestID(ctx),
		BatchID:   batchID,
	}

	if mode == ModeBlocking {
		res, err := o.run(ctx, params)
		o.recordRequest(ctx, mode, started, res, err)
		if err != nil {
			return nil, err
		}
		resp.Result = res
		return resp, nil
	}

	stream := newStream(ctx)
	params.OnEvent = stream.emit
	go func() {
		res, err := o.run(stream.ctx, params)
		o.recordRequest(ctx, mode, started, res, err)
		stream.finish(res, err)
	}()
	resp.Stream = stream
	return resp, nil
}

func (o *Orchestrator) validate(ctx context.Context, history []message.Message) ([]message.Turn, error) {
	if len(history) == 0 {
		return nil, &resilience.ValidationError{Message: "message history is empty"}
	}

	result := message.ValidateHistory(history)
	if len(result.Dropped) > 0 {
		logger := tracing.LoggerFromContext(ctx, o.logger)
		logger.Warn().
			Ints("indexes", result.Dropped).
			Msg("Dropped empty assistant turns")
	}
	if !result.Valid {
		return nil, &resilience.ValidationError{Message: "malformed message history", Details: result.Errors}
	}
	if message.LastUserMessage(result.Cleaned) == "" {
		return nil, &resilience.ValidationError{Message: "no user message to answer"}
	}
	return result.Cleaned, nil
}

// run drives the top model through the fallback executor
func (o *Orchestrator) run(ctx context.Context, params loop.Params) (res *Result, err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "orchestrator.request",
		attribute.Bool("streaming", params.OnEvent != nil),
		attribute.Int("max_steps", params.MaxSteps),
	)
	defer func() { tracing.EndSpan(span, err) }()

	out, err := loop.Execute(ctx, o.deps.Executor, o.deps.Providers, params, nil)
	if err != nil {
		return nil, err
	}

	thinking, answer := reasoning.ExtractThinking(out.Text)
	if answer == "" {
		answer = out.Text
	}
	return &Result{
		Text:      answer,
		Reasoning: thinking,
		Usage:     out.Usage,
		Steps:     out.Steps,
		ToolCalls: len(out.ToolCalls),
		Exhausted: out.Exhausted,
		Provider:  out.Provider,
		Model:     out.Model,
	}, nil
}

// recordRequest emits the request event. Outcome events come from the
// executor, one per attempt.
func (o *Orchestrator) recordRequest(ctx context.Context, mode Mode, started time.Time, res *Result, err error) {
	elapsed := o.now().Sub(started)
	meta := map[string]any{
		"mode":      string(mode),
		"requestId": tracing.GetRequestID(ctx),
		"success":   err == nil,
	}
	if id := tracing.GetBatchID(ctx); id != "" {
		meta["batchId"] = id
	}

	logger := tracing.LoggerFromContext(ctx, o.logger)
	ev := metrics.Event{
		Kind:       metrics.KindRequest,
		DurationMs: metrics.Duration(elapsed),
		Metadata:   meta,
	}
	if err != nil {
		ev.ErrorText = err.Error()
		logger.Error().Err(err).Dur("duration", elapsed).Msg("Request failed")
	} else {
		meta["provider"] = res.Provider
		meta["model"] = res.Model
		meta["steps"] = res.Steps
		logger.Info().
			Int("steps", res.Steps).
			Int("toolCalls", res.ToolCalls).
			Dur("duration", elapsed).
			Msg("Request completed")
	}
	o.deps.Recorder.Record(ev)
}

// recordFailure covers errors raised before the executor runs
func (o *Orchestrator) recordFailure(ctx context.Context, started time.Time, err error) {
	logger := tracing.LoggerFromContext(ctx, o.logger)
	logger.Warn().Err(err).Msg("Request rejected")
	o.deps.Recorder.Record(metrics.Event{
		Kind:       metrics.KindRequest,
		DurationMs: metrics.Duration(o.now().Sub(started)),
		ErrorText:  err.Error(),
		Metadata:   map[string]any{"requestId": tracing.GetRequestID(ctx), "success": false},
	})
	o.deps.Recorder.Record(metrics.Event{
		Kind:      metrics.KindError,
		ErrorText: err.Error(),
		Metadata:  map[string]any{"kind": string(resilience.KindOf(err))},
	})
}
