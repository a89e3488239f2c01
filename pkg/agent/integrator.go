package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/harun/knowhub/internal/tracing"
	"github.com/harun/knowhub/pkg/batch"
	"github.com/harun/knowhub/pkg/loop"
	"github.com/harun/knowhub/pkg/prompts"
	"github.com/harun/knowhub/pkg/provider"
	"github.com/harun/knowhub/pkg/reasoning"
	"github.com/harun/knowhub/pkg/resilience"
	"github.com/harun/knowhub/pkg/toolset"
)

// Integrator writes information to the graph after checking what exists
type Integrator struct {
	deps   Deps
	reader *Reader
	tools  *toolset.Toolset
	cfg    settings
}

// NewIntegrator creates the Integrator delegate. Deps.Batches is required.
func NewIntegrator(deps Deps, opts ...Option) (*Integrator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Batches == nil {
		return nil, &resilience.ConfigurationError{Message: "batch store is required"}
	}

	reader, err := NewReader(deps, opts...)
	if err != nil {
		return nil, err
	}
	tools, err := toolset.IntegratorCatalog(deps.Tools, toolset.WithLogger(deps.Logger))
	if err != nil {
		return nil, err
	}
	return &Integrator{deps: deps, reader: reader, tools: tools, cfg: newSettings(opts)}, nil
}

// writeRun carries one task through its states
type writeRun struct {
	task   WriteTask
	state  State
	result *WriteResult
	logger zerolog.Logger
}

func (w *writeRun) transition(to State) {
	w.logger.Debug().Str("from", string(w.state)).Str("to", string(to)).Msg("Write task state change")
	w.state = to
	w.result.State = to
}

// RunWriteTask integrates task.Information in two phases. A read-phase error
// is returned as is. A write-phase error is returned after the batch is
// marked failed; a reply that cannot be parsed yields an unsuccessful result
// with a response_parse error.
func (g *Integrator) RunWriteTask(ctx context.Context, task WriteTask) (*WriteResult, error) {
	ctx = tracing.ForAgent(ctx, AgentIntegrator)
	ctx = tracing.WithBatchID(ctx, task.BatchID)
	logger := tracing.LoggerFromContext(ctx, g.deps.Logger)

	if strings.TrimSpace(task.Information) == "" {
		return nil, fmt.Errorf("write task information is required")
	}

	run := &writeRun{
		task:   task,
		state:  StateAwaitingRead,
		result: &WriteResult{BatchID: task.BatchID, State: StateAwaitingRead, AffectedRecordIDs: []string{}},
		logger: logger,
	}
	started := g.cfg.now()

	findings, usage, err := g.readPhase(ctx, task)
	if err != nil {
		// nothing was written yet, the batch keeps its state
		run.transition(StateFailed)
		record(&g.deps, AgentIntegrator, started, g.cfg.now(), nil, false, err, map[string]any{"phase": "read"})
		return nil, err
	}
	run.result.ReadAnalysis = findings.Summary
	run.result.Usage = usage
	run.transition(StateAwaitingWrite)

	res, err := g.writePhase(ctx, task, findings)
	if err != nil {
		g.fail(ctx, run, err)
		record(&g.deps, AgentIntegrator, started, g.cfg.now(), nil, false, err, map[string]any{"phase": "write"})
		return nil, err
	}
	run.result.Usage = run.result.Usage.Add(res.Usage)
	run.result.Raw = res.Text

	g.commit(ctx, run, res.Text)

	record(&g.deps, AgentIntegrator, started, g.cfg.now(), usageCounts(run.result.Usage), run.result.Success, nil,
		map[string]any{"state": string(run.state), "records": len(run.result.AffectedRecordIDs)})
	logger.Info().
		Str("state", string(run.state)).
		Int("records", len(run.result.AffectedRecordIDs)).
		Msg("Integrator task finished")
	return run.result, nil
}

func (g *Integrator) readPhase(ctx context.Context, task WriteTask) (Findings, provider.Usage, error) {
	description := fmt.Sprintf(`Check which entities mentioned in this information already exist:

%q

Look for projects, people, organizations and key concepts. For each entity found give its id, and say clearly what does not exist yet.`, task.Information)

	res, err := g.reader.search(ctx, description, reasoning.Low, g.cfg.readSteps)
	if err != nil {
		return Findings{}, provider.Usage{}, err
	}
	_, answer := reasoning.ExtractThinking(res.Text)
	return Findings{Summary: answer, Steps: res.Steps}, res.Usage, nil
}

func (g *Integrator) writePhase(ctx context.Context, task WriteTask, findings Findings) (*loop.Result, error) {
	role := prompts.RoleIntegrator
	var block string

	if task.BatchID != "" {
		pending, err := g.deps.Batches.HasPendingMembers(ctx, task.BatchID)
		if err != nil {
			return nil, fmt.Errorf("failed to check batch %s: %w", task.BatchID, err)
		}
		if pending.HasData {
			summary, err := g.deps.Batches.LastSummary(ctx, task.BatchID)
			if err != nil {
				return nil, fmt.Errorf("failed to read batch %s: %w", task.BatchID, err)
			}
			role = prompts.RoleIntegratorContinuation
			data, _ := json.Marshal(BatchContext{
				BatchID:        task.BatchID,
				PendingRecords: pending.Count,
				LastSummary:    summary,
			})
			block = "\n\n<batch_context>\n" + string(data) + "\n</batch_context>"
		}
	}

	content := fmt.Sprintf(`Integrate this information into the graph:

%q

<read_findings>
%s
</read_findings>

Reuse the ids above for entities that exist, create the missing ones and add every relevant relationship.%s`,
		task.Information, findings.Summary, block)

	level := reasoning.High
	return loop.Execute(ctx, g.deps.Executor, g.deps.Providers, loop.Params{
		System:          level.System(g.deps.Prompts.Get(role)),
		Messages:        []provider.Message{{Role: provider.RoleUser, Content: content}},
		Tools:           g.tools,
		MaxSteps:        g.cfg.writeSteps,
		Temperature:     g.cfg.temp,
		ReasoningEffort: level.Effort(),
		Logger:          g.deps.Logger,
	}, nil)
}

// commit parses the write plan and updates the batch
func (g *Integrator) commit(ctx context.Context, run *writeRun, text string) {
	_, answer := reasoning.ExtractThinking(text)

	var plan WritePlan
	raw, err := extractJSON(answer)
	if err == nil {
		err = json.Unmarshal(raw, &plan)
	}
	if err != nil {
		perr := &resilience.ResponseParseError{Raw: text, Err: err}
		run.result.Error = &ErrorInfo{Kind: perr.Kind(), Message: perr.Error()}
		run.result.Summary = "The integration reply could not be interpreted"
		g.fail(ctx, run, perr)
		return
	}
	run.result.Plan = &plan

	if !plan.Success {
		msg := plan.Error
		if msg == "" {
			msg = "integration reported failure"
		}
		run.result.Error = &ErrorInfo{Kind: KindAgentReported, Message: msg}
		run.result.Summary = firstNonEmpty(plan.NewSummary, plan.Summary, msg)
		g.fail(ctx, run, errors.New(msg))
		return
	}

	run.result.Success = true
	run.result.AffectedRecordIDs = plan.AffectedIDs()
	run.result.Summary = firstNonEmpty(plan.Summary, plan.NewSummary, "Information integrated")

	if run.task.BatchID != "" {
		if err := g.recordBatch(ctx, run.task, plan); err != nil {
			run.logger.Error().Err(err).Msg("Failed to record integration batch")
			run.result.Success = false
			run.result.Error = &ErrorInfo{Kind: resilience.KindToolExecution, Message: err.Error()}
			run.result.Summary = "Records were written but the batch could not be updated, retry the task"
			run.transition(StateFailed)
			return
		}
	}
	run.transition(StateCommitted)
}

// recordBatch tags created records and merges them into the batch. Both steps
// are attempted; their errors are joined.
func (g *Integrator) recordBatch(ctx context.Context, task WriteTask, plan WritePlan) error {
	created := plan.CreatedIDs()
	var errs []error
	if err := g.deps.Batches.TagMembers(ctx, task.BatchID, created); err != nil {
		errs = append(errs, fmt.Errorf("failed to tag records: %w", err))
	}
	if _, err := g.deps.Batches.UpsertBatch(ctx, batchUpsert(task, plan, created)); err != nil {
		errs = append(errs, fmt.Errorf("failed to upsert batch: %w", err))
	}
	return errors.Join(errs...)
}

// fail moves the run to Failed and records the error on the batch
func (g *Integrator) fail(ctx context.Context, run *writeRun, cause error) {
	run.transition(StateFailed)
	if run.task.BatchID == "" {
		return
	}
	// the batch must be updated even when ctx was cancelled
	markCtx := context.WithoutCancel(ctx)
	if err := g.deps.Batches.MarkFailed(markCtx, run.task.BatchID, run.task.ConversationID, cause.Error()); err != nil {
		run.logger.Error().Err(err).Msg("Failed to mark integration batch failed")
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func batchUpsert(task WriteTask, plan WritePlan, created []string) batch.Upsert {
	return batch.Upsert{
		BatchID:        task.BatchID,
		Summary:        plan.NewSummary,
		NewMembers:     created,
		ConversationID: task.ConversationID,
	}
}
