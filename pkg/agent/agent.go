package agent

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/knowhub/pkg/batch"
	"github.com/harun/knowhub/pkg/loop"
	"github.com/harun/knowhub/pkg/metrics"
	"github.com/harun/knowhub/pkg/provider"
	"github.com/harun/knowhub/pkg/reasoning"
	"github.com/harun/knowhub/pkg/resilience"
	"github.com/harun/knowhub/pkg/toolserver"
)

// PromptSource resolves role system prompts
type PromptSource interface {
	Get(role string) string
}

// BatchStore is the subset of batch.Manager used by the Integrator
type BatchStore interface {
	HasPendingMembers(ctx context.Context, batchID string) (batch.Pending, error)
	LastSummary(ctx context.Context, batchID string) (string, error)
	TagMembers(ctx context.Context, batchID string, recordIDs []string) error
	UpsertBatch(ctx context.Context, in batch.Upsert) (*batch.IntegrationBatch, error)
	MarkFailed(ctx context.Context, batchID, conversationID, errText string) error
}

// Deps are shared by both delegates
type Deps struct {
	Executor  *resilience.Executor
	Providers loop.Resolver
	Tools     toolserver.Caller
	Prompts   PromptSource
	Recorder  metrics.Recorder
	Logger    zerolog.Logger
	// Batches is only required by the Integrator
	Batches BatchStore
}

func (d *Deps) validate() error {
	var errs []error
	if d.Executor == nil {
		errs = append(errs, errors.New("executor is required"))
	}
	if d.Providers == nil {
		errs = append(errs, errors.New("provider resolver is required"))
	}
	if d.Tools == nil {
		errs = append(errs, errors.New("tool server caller is required"))
	}
	if d.Prompts == nil {
		errs = append(errs, errors.New("prompt source is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return &resilience.ConfigurationError{Message: err.Error()}
	}
	if d.Recorder == nil {
		d.Recorder = metrics.NopRecorder{}
	}
	return nil
}

type settings struct {
	maxSteps   int
	readSteps  int
	writeSteps int
	level      reasoning.Level
	temp       float64
	now        func() time.Time
}

// Option tunes a delegate
type Option func(*settings)

// WithMaxSteps sets the Reader step ceiling
func WithMaxSteps(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxSteps = n
		}
	}
}

// WithPhaseSteps sets the Integrator read and write step ceilings
func WithPhaseSteps(read, write int) Option {
	return func(s *settings) {
		if read > 0 {
			s.readSteps = read
		}
		if write > 0 {
			s.writeSteps = write
		}
	}
}

// WithReasoning sets the base reasoning level
func WithReasoning(level reasoning.Level) Option {
	return func(s *settings) {
		s.level = level
	}
}

// WithTemperature sets the sampling temperature
func WithTemperature(t float64) Option {
	return func(s *settings) {
		s.temp = t
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		maxSteps:   5,
		readSteps:  3,
		writeSteps: 7,
		level:      reasoning.Medium,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// record emits one agent_call event. Token usage goes to metadata only:
// the executor already counted it on its success events.
func record(d *Deps, agentID string, started, ended time.Time, usage *metrics.TokenCounts, success bool, err error, meta map[string]any) {
	ev := metrics.Event{
		Kind:       metrics.KindAgentCall,
		Agent:      agentID,
		DurationMs: metrics.Duration(ended.Sub(started)),
		Metadata:   map[string]any{"success": success},
	}
	if usage != nil {
		ev.Metadata["tokens"] = usage.Total
	}
	for k, v := range meta {
		ev.Metadata[k] = v
	}
	if err != nil {
		ev.ErrorText = err.Error()
	}
	d.Recorder.Record(ev)
}

func usageCounts(u provider.Usage) *metrics.TokenCounts {
	return &metrics.TokenCounts{
		Prompt:     u.PromptTokens,
		Completion: u.CompletionTokens,
		Total:      u.Total(),
	}
}
