package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/harun/knowhub/internal/tracing"
	"github.com/harun/knowhub/pkg/loop"
	"github.com/harun/knowhub/pkg/prompts"
	"github.com/harun/knowhub/pkg/provider"
	"github.com/harun/knowhub/pkg/reasoning"
	"github.com/harun/knowhub/pkg/toolset"
)

// Reader answers questions from the graph using read-only tools
type Reader struct {
	deps  Deps
	tools *toolset.Toolset
	cfg   settings
}

// NewReader creates the Reader delegate
func NewReader(deps Deps, opts ...Option) (*Reader, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	tools, err := toolset.ReaderCatalog(deps.Tools, toolset.WithLogger(deps.Logger))
	if err != nil {
		return nil, err
	}
	return &Reader{deps: deps, tools: tools, cfg: newSettings(opts)}, nil
}

// readReply is the JSON object the reader prompt asks for
type readReply struct {
	Success       *bool           `json:"success"`
	SummaryText   string          `json:"summary_text"`
	Result        json.RawMessage `json:"result"`
	RetrievalPlan json.RawMessage `json:"retrieval_plan"`
	Error         string          `json:"error"`
}

// RunReadTask runs a bounded search. Execution failures are returned as
// errors; a reply that is not JSON is returned raw as a success.
func (r *Reader) RunReadTask(ctx context.Context, task ReadTask) (*ReadResult, error) {
	ctx = tracing.ForAgent(ctx, AgentReader)
	ctx = tracing.WithBatchID(ctx, task.BatchID)
	logger := tracing.LoggerFromContext(ctx, r.deps.Logger)

	if task.Description == "" {
		return nil, fmt.Errorf("read task description is required")
	}

	started := r.cfg.now()
	logger.Info().Int("maxSteps", r.cfg.maxSteps).Msg("Reader task started")

	res, err := r.search(ctx, task.Description, r.cfg.level, r.cfg.maxSteps)
	if err != nil {
		record(&r.deps, AgentReader, started, r.cfg.now(), nil, false, err, nil)
		logger.Error().Err(err).Msg("Reader task failed")
		return nil, err
	}

	out := interpretRead(res)
	record(&r.deps, AgentReader, started, r.cfg.now(), usageCounts(res.Usage), out.Success, nil, map[string]any{"steps": res.Steps})
	logger.Info().
		Bool("success", out.Success).
		Int("steps", res.Steps).
		Int("toolCalls", len(res.ToolCalls)).
		Msg("Reader task finished")
	return out, nil
}

// search runs the reader loop. The Integrator reuses it for its read phase.
func (r *Reader) search(ctx context.Context, description string, level reasoning.Level, maxSteps int) (*loop.Result, error) {
	task := fmt.Sprintf(`Search the knowledge graph: %s

Use the tools that fit (searchWithContext, findNodes, getNodeDetails, getNeighborSummary) to gather every relevant piece of information.
Records with integrationStatus "pending" count as knowledge: keep includePending enabled.`, description)

	return loop.Execute(ctx, r.deps.Executor, r.deps.Providers, loop.Params{
		System:          level.System(r.deps.Prompts.Get(prompts.RoleReader)),
		Messages:        []provider.Message{{Role: provider.RoleUser, Content: task}},
		Tools:           r.tools,
		MaxSteps:        maxSteps,
		Temperature:     r.cfg.temp,
		ReasoningEffort: level.Effort(),
		Logger:          r.deps.Logger,
	}, nil)
}

func interpretRead(res *loop.Result) *ReadResult {
	thinking, answer := reasoning.ExtractThinking(res.Text)
	out := &ReadResult{
		Success:  true,
		Summary:  answer,
		Thinking: thinking,
		Raw:      res.Text,
		Steps:    res.Steps,
		Usage:    res.Usage,
	}

	raw, err := extractJSON(answer)
	if err != nil {
		return out
	}
	var reply readReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return out
	}

	if reply.SummaryText != "" {
		out.Summary = reply.SummaryText
	}
	out.Data = reply.Result
	if len(out.Data) == 0 {
		out.Data = reply.RetrievalPlan
	}
	if len(out.Data) == 0 {
		out.Data = raw
	}
	if reply.Success != nil && !*reply.Success {
		out.Success = false
		msg := reply.Error
		if msg == "" {
			msg = "search reported failure"
		}
		out.Error = &ErrorInfo{Kind: KindAgentReported, Message: msg}
	}
	return out
}
