package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/knowhub/pkg/batch"
	"github.com/harun/knowhub/pkg/metrics"
	"github.com/harun/knowhub/pkg/prompts"
	"github.com/harun/knowhub/pkg/provider"
	"github.com/harun/knowhub/pkg/reasoning"
	"github.com/harun/knowhub/pkg/resilience"
	"github.com/harun/knowhub/pkg/toolserver"
)

type scriptedLLM struct {
	mu        sync.Mutex
	responses []*provider.Response
	err       error
	requests  []provider.Request
}

func (s *scriptedLLM) Name() string { return "openai" }

func (s *scriptedLLM) Call(ctx context.Context, req provider.Request) (*provider.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return &provider.Response{Text: "nothing more"}, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *scriptedLLM) Stream(ctx context.Context, req provider.Request, onDelta provider.DeltaFunc) (*provider.Response, error) {
	return s.Call(ctx, req)
}

type toolStub struct {
	mu    sync.Mutex
	calls []string
}

func (t *toolStub) CallTool(ctx context.Context, name string, args any) (*toolserver.ToolResponse, error) {
	t.mu.Lock()
	t.calls = append(t.calls, name)
	t.mu.Unlock()
	return &toolserver.ToolResponse{Text: `{"nodes":[]}`, Data: json.RawMessage(`{"nodes":[]}`)}, nil
}

type batchStub struct {
	pending    batch.Pending
	pendingErr error
	upsertErr  error
	summary    string
	tagged     []string
	upserts    []batch.Upsert
	failures   []string
}

func (b *batchStub) HasPendingMembers(ctx context.Context, id string) (batch.Pending, error) {
	return b.pending, b.pendingErr
}

func (b *batchStub) LastSummary(ctx context.Context, id string) (string, error) {
	return b.summary, nil
}

func (b *batchStub) TagMembers(ctx context.Context, id string, ids []string) error {
	b.tagged = append(b.tagged, ids...)
	return nil
}

func (b *batchStub) UpsertBatch(ctx context.Context, in batch.Upsert) (*batch.IntegrationBatch, error) {
	b.upserts = append(b.upserts, in)
	if b.upsertErr != nil {
		return nil, b.upsertErr
	}
	return &batch.IntegrationBatch{BatchID: in.BatchID}, nil
}

func (b *batchStub) MarkFailed(ctx context.Context, id, conv, errText string) error {
	b.failures = append(b.failures, errText)
	return nil
}

func toolCall(name, args string) *provider.Response {
	return &provider.Response{ToolCalls: []provider.ToolCall{{ID: "c1", Name: name, Arguments: json.RawMessage(args)}},
		Usage: provider.Usage{PromptTokens: 5, CompletionTokens: 1}}
}

func text(s string) *provider.Response {
	return &provider.Response{Text: s, Usage: provider.Usage{PromptTokens: 5, CompletionTokens: 5}}
}

type fixture struct {
	llm     *scriptedLLM
	tools   *toolStub
	batches *batchStub
	agg     *metrics.Aggregator
	deps    Deps
}

func newFixture(t *testing.T, responses ...*provider.Response) *fixture {
	t.Helper()
	llm := &scriptedLLM{responses: responses}
	chain := provider.NewChain(provider.Entry{
		Tier:     resilience.Tier{Name: "only", Provider: "openai", Model: "gpt"},
		Provider: llm,
	})
	agg := metrics.NewAggregator(50)
	exec, err := resilience.NewExecutor(chain.Tiers(),
		resilience.WithSleep(func(context.Context, time.Duration) error { return nil }))
	require.NoError(t, err)

	store, err := prompts.NewStore("", zerolog.Nop())
	require.NoError(t, err)

	f := &fixture{llm: llm, tools: &toolStub{}, batches: &batchStub{}, agg: agg}
	f.deps = Deps{
		Executor:  exec,
		Providers: chain,
		Tools:     f.tools,
		Prompts:   store,
		Recorder:  agg,
		Logger:    zerolog.Nop(),
		Batches:   f.batches,
	}
	return f
}

func agentEvents(agg *metrics.Aggregator) []metrics.Event {
	var out []metrics.Event
	for _, ev := range agg.Snapshot() {
		if ev.Kind == metrics.KindAgentCall {
			out = append(out, ev)
		}
	}
	return out
}

func TestReader(t *testing.T) {
	t.Run("should run tools and parse the json reply", func(t *testing.T) {
		f := newFixture(t,
			toolCall("searchWithContext", `{"query":"alice"}`),
			text("```json\n{\"success\":true,\"summary_text\":\"Alice leads X\",\"result\":{\"nodes\":[\"n1\"]}}\n```"),
		)
		reader, err := NewReader(f.deps)
		require.NoError(t, err)

		res, err := reader.RunReadTask(context.Background(), ReadTask{Description: "who is alice"})
		require.NoError(t, err)

		assert.True(t, res.Success)
		assert.Equal(t, "Alice leads X", res.Summary)
		assert.JSONEq(t, `{"nodes":["n1"]}`, string(res.Data))
		assert.Equal(t, 2, res.Steps)
		assert.Equal(t, []string{"searchWithContext"}, f.tools.calls)

		// only read tools are offered
		for _, spec := range f.llm.requests[0].Tools {
			assert.NotEqual(t, "createNode", spec.Name)
		}

		events := agentEvents(f.agg)
		require.Len(t, events, 1)
		assert.Equal(t, AgentReader, events[0].Agent)
		assert.Equal(t, true, events[0].Metadata["success"])
	})

	t.Run("should return non json replies raw", func(t *testing.T) {
		f := newFixture(t, text("<thinking>look</thinking>Alice is an engineer."))
		reader, err := NewReader(f.deps)
		require.NoError(t, err)

		res, err := reader.RunReadTask(context.Background(), ReadTask{Description: "alice"})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, "Alice is an engineer.", res.Summary)
		assert.Equal(t, "look", res.Thinking)
	})

	t.Run("should surface reported failures", func(t *testing.T) {
		f := newFixture(t, text(`{"success":false,"error":"graph offline"}`))
		reader, err := NewReader(f.deps)
		require.NoError(t, err)

		res, err := reader.RunReadTask(context.Background(), ReadTask{Description: "x"})
		require.NoError(t, err)
		assert.False(t, res.Success)
		require.NotNil(t, res.Error)
		assert.Equal(t, "graph offline", res.Error.Message)
	})

	t.Run("should return executor errors", func(t *testing.T) {
		f := newFixture(t)
		f.llm.err = &resilience.NonRecoverableError{Reason: "invalid_request"}
		reader, err := NewReader(f.deps)
		require.NoError(t, err)

		_, err = reader.RunReadTask(context.Background(), ReadTask{Description: "x"})
		assert.Equal(t, resilience.KindNonRecoverable, resilience.KindOf(err))
		events := agentEvents(f.agg)
		require.Len(t, events, 1)
		assert.NotEmpty(t, events[0].ErrorText)
	})

	t.Run("should require its dependencies", func(t *testing.T) {
		_, err := NewReader(Deps{})
		assert.Equal(t, resilience.KindConfiguration, resilience.KindOf(err))
	})
}

const plan = `{"success":true,"summary":"Added Bob","newSummary":"Bob joined X",
"nodesCreated":[{"id":"n2"}],"nodesUpdated":["n1"],
"batchOperations":{"nodesCreated":[{"id":"n2"},{"id":"n3"}]}}`

func TestIntegrator(t *testing.T) {
	t.Run("should read then write and commit the batch", func(t *testing.T) {
		f := newFixture(t,
			text("Project X exists with id n1"),
			toolCall("createNode", `{"labels":["Person"],"properties":{"name":"Bob"},"identifyingProperties":["name"]}`),
			text(plan),
		)
		integrator, err := NewIntegrator(f.deps)
		require.NoError(t, err)

		res, err := integrator.RunWriteTask(context.Background(), WriteTask{
			Information: "Bob joined project X", BatchID: "batch_c1_1", ConversationID: "c1",
		})
		require.NoError(t, err)

		assert.True(t, res.Success)
		assert.Equal(t, StateCommitted, res.State)
		assert.Equal(t, "Added Bob", res.Summary)
		assert.Equal(t, "Project X exists with id n1", res.ReadAnalysis)
		assert.Equal(t, []string{"n2", "n3", "n1"}, res.AffectedRecordIDs)

		assert.Equal(t, []string{"n2", "n3"}, f.batches.tagged)
		require.Len(t, f.batches.upserts, 1)
		assert.Equal(t, batch.Upsert{BatchID: "batch_c1_1", Summary: "Bob joined X", NewMembers: []string{"n2", "n3"}, ConversationID: "c1"}, f.batches.upserts[0])
		assert.Empty(t, f.batches.failures)

		// read phase offers read tools only, write phase offers writes
		require.Len(t, f.llm.requests, 3)
		assert.Len(t, f.llm.requests[0].Tools, 7)
		assert.Len(t, f.llm.requests[1].Tools, 13)
		assert.Equal(t, f.deps.Prompts.Get(prompts.RoleIntegrator), trimThinking(f.llm.requests[1].System))
	})

	t.Run("should use the continuation prompt for a pending batch", func(t *testing.T) {
		f := newFixture(t, text("nothing found"), text(plan))
		f.batches.pending = batch.Pending{HasData: true, Count: 2}
		f.batches.summary = "Alice added"

		integrator, err := NewIntegrator(f.deps)
		require.NoError(t, err)

		_, err = integrator.RunWriteTask(context.Background(), WriteTask{Information: "more", BatchID: "b1"})
		require.NoError(t, err)

		write := f.llm.requests[1]
		assert.Equal(t, f.deps.Prompts.Get(prompts.RoleIntegratorContinuation), trimThinking(write.System))
		assert.Contains(t, write.Messages[0].Content, `"lastSummary":"Alice added"`)
		assert.Contains(t, write.Messages[0].Content, `"pendingRecords":2`)
	})

	t.Run("should fail with response_parse on unreadable replies", func(t *testing.T) {
		f := newFixture(t, text("found"), text("I created Bob."))
		integrator, err := NewIntegrator(f.deps)
		require.NoError(t, err)

		res, err := integrator.RunWriteTask(context.Background(), WriteTask{Information: "Bob", BatchID: "b2"})
		require.NoError(t, err)

		assert.False(t, res.Success)
		assert.Equal(t, StateFailed, res.State)
		require.NotNil(t, res.Error)
		assert.Equal(t, resilience.KindResponseParse, res.Error.Kind)
		assert.Equal(t, "I created Bob.", res.Raw)
		assert.Len(t, f.batches.failures, 1)
		assert.Empty(t, f.batches.upserts)
	})

	t.Run("should leave the batch alone when the read phase fails", func(t *testing.T) {
		f := newFixture(t)
		f.llm.err = errors.New("invalid api payload")
		integrator, err := NewIntegrator(f.deps)
		require.NoError(t, err)

		_, err = integrator.RunWriteTask(context.Background(), WriteTask{Information: "Bob", BatchID: "b3"})
		require.Error(t, err)
		assert.Empty(t, f.batches.failures)
		assert.Empty(t, f.batches.upserts)
	})

	t.Run("should mark the batch failed when the write phase fails", func(t *testing.T) {
		f := newFixture(t, text("found"))
		f.batches.pendingErr = errors.New("graph unavailable")
		integrator, err := NewIntegrator(f.deps)
		require.NoError(t, err)

		_, err = integrator.RunWriteTask(context.Background(), WriteTask{Information: "Bob", BatchID: "b3"})
		require.Error(t, err)
		require.Len(t, f.batches.failures, 1)
		assert.Contains(t, f.batches.failures[0], "graph unavailable")
	})

	t.Run("should not report a commit when the batch upsert fails", func(t *testing.T) {
		f := newFixture(t, text("found"), text(plan))
		f.batches.upsertErr = errors.New("write conflict")
		integrator, err := NewIntegrator(f.deps)
		require.NoError(t, err)

		res, err := integrator.RunWriteTask(context.Background(), WriteTask{Information: "Bob", BatchID: "b4"})
		require.NoError(t, err)

		assert.False(t, res.Success)
		assert.Equal(t, StateFailed, res.State)
		require.NotNil(t, res.Error)
		assert.Equal(t, resilience.KindToolExecution, res.Error.Kind)
		assert.Contains(t, res.Error.Message, "write conflict")
		assert.Equal(t, []string{"n2", "n3", "n1"}, res.AffectedRecordIDs)
		assert.Equal(t, []string{"n2", "n3"}, f.batches.tagged)
	})

	t.Run("should skip batch bookkeeping without a batch id", func(t *testing.T) {
		f := newFixture(t, text("found"), text(plan))
		integrator, err := NewIntegrator(f.deps)
		require.NoError(t, err)

		res, err := integrator.RunWriteTask(context.Background(), WriteTask{Information: "Bob"})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Empty(t, f.batches.tagged)
		assert.Empty(t, f.batches.upserts)
	})

	t.Run("should require a batch store", func(t *testing.T) {
		f := newFixture(t)
		f.deps.Batches = nil
		_, err := NewIntegrator(f.deps)
		assert.Error(t, err)
	})
}

func trimThinking(system string) string {
	return strings.TrimSuffix(system, reasoning.High.System(""))
}
