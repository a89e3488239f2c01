package toolset

import (
	"errors"
	"fmt"
)

// Read tool arguments. Field names follow the remote tool server.

type FindNodes struct {
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties,omitempty"`
	Limit      int            `json:"limit,omitempty"`
}

func (a *FindNodes) SetDefaults() {
	if a.Limit <= 0 {
		a.Limit = 10
	}
}

type SearchWithContext struct {
	Query          string   `json:"query"`
	ContextNodeIDs []string `json:"contextNodeIds,omitempty"`
	IncludePending *bool    `json:"includePending,omitempty"`
	Limit          int      `json:"limit,omitempty"`
}

// SetDefaults turns includePending on unless the model disabled it
func (a *SearchWithContext) SetDefaults() {
	if a.IncludePending == nil {
		on := true
		a.IncludePending = &on
	}
	if a.Limit <= 0 {
		a.Limit = 10
	}
}

type GetNodeDetails struct {
	NodeID      string `json:"nodeId"`
	DetailLevel string `json:"detailLevel,omitempty"`
}

func (a *GetNodeDetails) SetDefaults() {
	if a.DetailLevel == "" {
		a.DetailLevel = "core"
	}
}

type GetNeighborSummary struct {
	NodeID           string `json:"nodeId"`
	RelationshipType string `json:"relationshipType,omitempty"`
	Direction        string `json:"direction,omitempty"`
	Depth            int    `json:"depth,omitempty"`
	Limit            int    `json:"limit,omitempty"`
}

func (a *GetNeighborSummary) SetDefaults() {
	if a.Direction == "" {
		a.Direction = "OUTGOING"
	}
	if a.Depth <= 0 {
		a.Depth = 1
	}
	if a.Limit <= 0 {
		a.Limit = 20
	}
}

type FindPath struct {
	FromID   string `json:"fromId"`
	ToID     string `json:"toId"`
	MaxDepth int    `json:"maxDepth,omitempty"`
}

func (a *FindPath) SetDefaults() {
	if a.MaxDepth <= 0 {
		a.MaxDepth = 4
	}
}

type GetSchema struct{}

type FullTextSearch struct {
	Query string `json:"query"`
	Index string `json:"index,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

func (a *FullTextSearch) SetDefaults() {
	if a.Limit <= 0 {
		a.Limit = 10
	}
}

// Write tool arguments

type CreateNode struct {
	Labels                []string       `json:"labels"`
	Properties            map[string]any `json:"properties"`
	IdentifyingProperties []string       `json:"identifyingProperties,omitempty"`
}

func (a *CreateNode) Validate() error {
	for _, key := range a.IdentifyingProperties {
		if _, ok := a.Properties[key]; !ok {
			return fmt.Errorf("identifying property %q missing from properties", key)
		}
	}
	return nil
}

type CreateRelationship struct {
	FromID     string         `json:"fromId"`
	ToID       string         `json:"toId"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Update modes
const (
	ModeSet     = "set"
	ModeReplace = "replace"
	ModeRemove  = "remove"
)

type UpdateNodeProperties struct {
	NodeID     string         `json:"nodeId"`
	Properties map[string]any `json:"properties,omitempty"`
	Mode       string         `json:"mode,omitempty"`
	Keys       []string       `json:"keys,omitempty"`
}

func (a *UpdateNodeProperties) SetDefaults() {
	if a.Mode == "" {
		a.Mode = ModeSet
	}
}

func (a *UpdateNodeProperties) Validate() error {
	switch a.Mode {
	case ModeRemove:
		if len(a.Keys) == 0 {
			return errors.New("mode remove requires keys")
		}
	case ModeSet, ModeReplace:
		if len(a.Properties) == 0 {
			return fmt.Errorf("mode %s requires properties", a.Mode)
		}
	default:
		return fmt.Errorf("unknown mode %q", a.Mode)
	}
	return nil
}

type AddLabels struct {
	NodeID string   `json:"nodeId"`
	Labels []string `json:"labels"`
}

type DeleteNode struct {
	NodeID string `json:"nodeId"`
	Detach bool   `json:"detach,omitempty"`
}

// BatchOp is one operation inside BatchOperations. Tool names a write tool.
type BatchOp struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params"`
}

type BatchOperations struct {
	Operations    []BatchOp `json:"operations"`
	Transactional *bool     `json:"transactional,omitempty"`
}

func (a *BatchOperations) SetDefaults() {
	if a.Transactional == nil {
		on := true
		a.Transactional = &on
	}
}

var batchableTools = map[string]bool{
	ToolCreateNode:           true,
	ToolCreateRelationship:   true,
	ToolUpdateNodeProperties: true,
	ToolAddLabels:            true,
	ToolDeleteNode:           true,
}

func (a *BatchOperations) Validate() error {
	if len(a.Operations) == 0 {
		return errors.New("operations must not be empty")
	}
	for i, op := range a.Operations {
		if !batchableTools[op.Tool] {
			return fmt.Errorf("operation %d: %q cannot be batched", i, op.Tool)
		}
	}
	return nil
}
