package orchestrator

import (
	"context"

	"github.com/harun/knowhub/pkg/agent"
	"github.com/harun/knowhub/pkg/commandqueue"
	"github.com/harun/knowhub/pkg/provider"
)

// Mode is how the top model runs for one request
type Mode string

const (
	// ModeStreaming emits events while the loop runs
	ModeStreaming Mode = "streaming"
	// ModeBlocking returns the completed result
	ModeBlocking Mode = "blocking"
)

// ReadAgent runs read-only graph searches
type ReadAgent interface {
	RunReadTask(ctx context.Context, task agent.ReadTask) (*agent.ReadResult, error)
}

// WriteAgent integrates information into the graph
type WriteAgent interface {
	RunWriteTask(ctx context.Context, task agent.WriteTask) (*agent.WriteResult, error)
}

// WriteQueue runs tasks of one lane in order
type WriteQueue interface {
	Enqueue(ctx context.Context, lane string, task commandqueue.Task) (any, error)
}

// PromptSource supplies role system prompts
type PromptSource interface {
	Get(role string) string
}

// Result is the completed answer of the top model
type Result struct {
	Text      string         `json:"content"`
	Reasoning string         `json:"reasoning,omitempty"`
	Usage     provider.Usage `json:"usage"`
	Steps     int            `json:"steps"`
	ToolCalls int            `json:"toolCalls"`
	Exhausted bool           `json:"exhausted,omitempty"`
	Provider  string         `json:"provider,omitempty"`
	Model     string         `json:"model,omitempty"`
}

// Response is returned by ProcessRequest. Exactly one of Result and Stream
// is set, depending on Mode.
type Response struct {
	Mode      Mode    `json:"mode"`
	RequestID string  `json:"requestId"`
	BatchID   string  `json:"batchId,omitempty"`
	Result    *Result `json:"result,omitempty"`
	Stream    *Stream `json:"-"`
}

// searchArgs are the arguments of searchKnowledgeGraph
type searchArgs struct {
	Query string `json:"query"`
}

// integrateArgs are the arguments of addOrUpdateKnowledge
type integrateArgs struct {
	Information string `json:"information"`
}
