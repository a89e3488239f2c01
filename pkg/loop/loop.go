package loop

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/knowhub/internal/tracing"
	"github.com/harun/knowhub/pkg/message"
	"github.com/harun/knowhub/pkg/metrics"
	"github.com/harun/knowhub/pkg/provider"
	"github.com/harun/knowhub/pkg/resilience"
	"github.com/harun/knowhub/pkg/toolset"
)

// DefaultMaxSteps bounds the loop when Params.MaxSteps is unset
const DefaultMaxSteps = 7

// ToolExecutor runs tools requested by the model
type ToolExecutor interface {
	Specs() []provider.ToolSpec
	Execute(ctx context.Context, call provider.ToolCall) (toolset.Result, error)
}

// Params configures one loop run
type Params struct {
	Model           string
	System          string
	Messages        []provider.Message
	Tools           ToolExecutor
	MaxSteps        int
	Temperature     float64
	MaxTokens       int
	ReasoningEffort string
	// OnEvent switches the loop to streaming mode
	OnEvent EventFunc
	// Logger is the base logger, enriched from ctx. The zero value discards.
	Logger zerolog.Logger
}

// ToolCallRecord is one executed tool call
type ToolCallRecord struct {
	Step   int               `json:"step"`
	Call   provider.ToolCall `json:"call"`
	Result toolset.Result    `json:"result"`
}

// Result is the outcome of a loop run
type Result struct {
	Text            string             `json:"text"`
	LastPartialText string             `json:"lastPartialText,omitempty"`
	Steps           int                `json:"steps"`
	ToolCalls       []ToolCallRecord   `json:"toolCalls,omitempty"`
	Usage           provider.Usage     `json:"usage"`
	Exhausted       bool               `json:"exhausted,omitempty"`
	Provider        string             `json:"provider,omitempty"`
	Model           string             `json:"model,omitempty"`
	Messages        []provider.Message `json:"-"`
}

// TokenUsage reports cumulative usage to the metrics pipeline
func (r *Result) TokenUsage() metrics.TokenCounts {
	return metrics.TokenCounts{
		Prompt:     r.Usage.PromptTokens,
		Completion: r.Usage.CompletionTokens,
		Total:      r.Usage.Total(),
	}
}

// Run drives one provider through submit, tool execution and resubmission
// until a step produces no tool calls or MaxSteps is reached.
func Run(ctx context.Context, llm provider.LLMProvider, params Params) (*Result, error) {
	maxSteps := params.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	logger := tracing.LoggerFromContext(ctx, params.Logger)
	streaming := params.OnEvent != nil
	emit := func(ev Event) {
		if streaming {
			params.OnEvent(ev)
		}
	}

	var specs []provider.ToolSpec
	if params.Tools != nil {
		specs = params.Tools.Specs()
	}

	messages := append([]provider.Message(nil), params.Messages...)
	result := &Result{Provider: llm.Name(), Model: params.Model}

	for step := 1; step <= maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.Steps = step
		emit(Event{Type: EventStepStart, Step: step})

		resp, err := submit(ctx, llm, params, specs, messages, step, emit)
		if err != nil {
			return nil, err
		}
		result.Usage = result.Usage.Add(resp.Usage)
		if resp.Text != "" {
			result.LastPartialText = resp.Text
		}

		messages = append(messages, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			result.Text = resp.Text
			emit(Event{Type: EventStepFinish, Step: step})
			break
		}

		if streaming && resp.Text == "" {
			logger.Warn().Int("step", step).Int("toolCalls", len(resp.ToolCalls)).Msg("Tool-call step produced no text")
		}
		if params.Tools == nil {
			return nil, &resilience.NonRecoverableError{
				Reason: "no_such_tool",
				Err:    fmt.Errorf("model requested %s but no tools are available", resp.ToolCalls[0].Name),
			}
		}

		for _, tc := range resp.ToolCalls {
			tc := tc
			emit(Event{Type: EventToolCall, Step: step, ToolCall: &tc})

			res, err := params.Tools.Execute(ctx, tc)
			if err != nil {
				return nil, err
			}
			messages = append(messages, provider.Message{
				Role:       provider.RoleTool,
				Content:    res.Content,
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
				IsError:    res.IsError,
			})
			result.ToolCalls = append(result.ToolCalls, ToolCallRecord{Step: step, Call: tc, Result: res})
			emit(Event{Type: EventToolResult, Step: step, ToolResult: &res})
		}
		emit(Event{Type: EventStepFinish, Step: step})

		if step == maxSteps {
			result.Exhausted = true
			logger.Warn().Int("maxSteps", maxSteps).Msg("Tool loop reached step ceiling")
		}
	}

	if result.Text == "" {
		result.Text = result.LastPartialText
	}
	result.Messages = messages
	return result, nil
}

func submit(ctx context.Context, llm provider.LLMProvider, params Params, specs []provider.ToolSpec, messages []provider.Message, step int, emit func(Event)) (*provider.Response, error) {
	ctx, span := tracing.StartSpan(ctx, "knowhub/loop", "loop.step",
		attribute.Int("step", step),
		attribute.String("provider", llm.Name()),
		attribute.String("model", params.Model),
	)

	req := provider.Request{
		Model:           params.Model,
		System:          params.System,
		Messages:        ensureNonEmpty(messages),
		Tools:           specs,
		Temperature:     params.Temperature,
		MaxTokens:       params.MaxTokens,
		ReasoningEffort: params.ReasoningEffort,
	}

	var (
		resp *provider.Response
		err  error
	)
	if params.OnEvent != nil {
		resp, err = llm.Stream(ctx, req, func(text string) {
			emit(Event{Type: EventTextDelta, Step: step, Text: text})
		})
	} else {
		resp, err = llm.Call(ctx, req)
	}
	tracing.EndSpan(span, err)
	return resp, err
}

// ensureNonEmpty applies the placeholder rule to plain assistant turns.
// Assistant turns carrying tool calls may legitimately have no text.
func ensureNonEmpty(messages []provider.Message) []provider.Message {
	out := make([]provider.Message, len(messages))
	copy(out, messages)

	for i, m := range out {
		if m.Role != provider.RoleAssistant || len(m.ToolCalls) > 0 {
			continue
		}
		turn := message.EnsureNonEmpty([]message.Turn{{Role: message.RoleAssistant, Content: m.Content}}, "")
		out[i].Content = turn[0].Content
	}
	return out
}

// FromTurns converts validated history into provider messages
func FromTurns(turns []message.Turn) []provider.Message {
	out := make([]provider.Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, provider.Message{Role: provider.Role(t.Role), Content: t.Content})
	}
	return out
}
