package agent

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/harun/knowhub/pkg/provider"
	"github.com/harun/knowhub/pkg/resilience"
)

// Agent ids used in metrics and logs
const (
	AgentReader     = "reader"
	AgentIntegrator = "integrator"
)

// ErrorInfo describes a failed delegation
type ErrorInfo struct {
	Kind    resilience.Kind `json:"kind"`
	Message string          `json:"message"`
}

// KindAgentReported marks failures the model itself reported
const KindAgentReported resilience.Kind = "agent_reported"

// ReadTask is a search request for the Reader
type ReadTask struct {
	Description    string `json:"description"`
	ConversationID string `json:"conversationId,omitempty"`
	BatchID        string `json:"batchId,omitempty"`
}

// ReadResult is the Reader outcome
type ReadResult struct {
	Success  bool            `json:"success"`
	Summary  string          `json:"summary"`
	Data     json.RawMessage `json:"data,omitempty"`
	Thinking string          `json:"thinking,omitempty"`
	Raw      string          `json:"raw,omitempty"`
	Steps    int             `json:"steps"`
	Usage    provider.Usage  `json:"usage"`
	Error    *ErrorInfo      `json:"error,omitempty"`
}

// WriteTask is an integration request for the Integrator
type WriteTask struct {
	Information    string `json:"information"`
	BatchID        string `json:"batchId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

// State of a write task
type State string

const (
	StateAwaitingRead  State = "awaiting_read"
	StateAwaitingWrite State = "awaiting_write"
	StateCommitted     State = "committed"
	StateFailed        State = "failed"
)

// Findings is the output of the integrator read phase
type Findings struct {
	Summary string `json:"summary"`
	Steps   int    `json:"steps"`
}

// NodeRef identifies a record in a write plan. It accepts a bare id or an
// object with an id field.
type NodeRef struct {
	ID     string   `json:"id"`
	Labels []string `json:"labels,omitempty"`
}

func (n *NodeRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &n.ID)
	}
	type plain NodeRef
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("node reference: %w", err)
	}
	*n = NodeRef(p)
	return nil
}

// WritePlan is the JSON reply expected from the write phase
type WritePlan struct {
	Success         bool      `json:"success"`
	Summary         string    `json:"summary"`
	NewSummary      string    `json:"newSummary"`
	NodesCreated    []NodeRef `json:"nodesCreated"`
	NodesUpdated    []NodeRef `json:"nodesUpdated"`
	BatchOperations struct {
		NodesCreated []NodeRef `json:"nodesCreated"`
	} `json:"batchOperations"`
	Error string `json:"error"`
}

// CreatedIDs returns ids created by the plan, without duplicates
func (p *WritePlan) CreatedIDs() []string {
	return refIDs(nil, p.BatchOperations.NodesCreated, p.NodesCreated)
}

// AffectedIDs returns created and updated ids, without duplicates
func (p *WritePlan) AffectedIDs() []string {
	return refIDs(p.CreatedIDs(), p.NodesUpdated)
}

func refIDs(base []string, lists ...[]NodeRef) []string {
	seen := make(map[string]bool, len(base))
	out := make([]string, 0, len(base))
	for _, id := range base {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, list := range lists {
		for _, ref := range list {
			if ref.ID == "" || seen[ref.ID] {
				continue
			}
			seen[ref.ID] = true
			out = append(out, ref.ID)
		}
	}
	return out
}

// BatchContext is handed to the write phase when a batch already holds
// pending records
type BatchContext struct {
	BatchID        string `json:"batchId"`
	PendingRecords int    `json:"pendingRecords"`
	LastSummary    string `json:"lastSummary"`
}

// WriteResult is the Integrator outcome
type WriteResult struct {
	Success           bool           `json:"success"`
	Summary           string         `json:"summary"`
	AffectedRecordIDs []string       `json:"affectedRecordIds"`
	BatchID           string         `json:"batchId,omitempty"`
	State             State          `json:"state"`
	ReadAnalysis      string         `json:"readAnalysis,omitempty"`
	Raw               string         `json:"raw,omitempty"`
	Usage             provider.Usage `json:"usage"`
	Error             *ErrorInfo     `json:"error,omitempty"`
	Plan              *WritePlan     `json:"-"`
}
