package batch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/harun/knowhub/pkg/toolserver"
)

// node is the loosely shaped record returned by findNodes
type node struct {
	ID         string         `json:"id"`
	ElementID  string         `json:"elementId"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`
}

func (n node) id() string {
	if n.ID != "" {
		return n.ID
	}
	return n.ElementID
}

// decodeNodes accepts {"nodes":[...]}, {"results":[...]} or a bare array.
// Nodes without a properties object are treated as flat property maps.
func decodeNodes(resp *toolserver.ToolResponse) ([]node, error) {
	raw := resp.Data
	if len(raw) == 0 {
		raw = json.RawMessage(resp.Text)
	}

	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		var wrapped struct {
			Nodes   []json.RawMessage `json:"nodes"`
			Results []json.RawMessage `json:"results"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, fmt.Errorf("unexpected findNodes payload: %w", err)
		}
		list = wrapped.Nodes
		if list == nil {
			list = wrapped.Results
		}
	}

	nodes := make([]node, 0, len(list))
	for _, item := range list {
		var n node
		if err := json.Unmarshal(item, &n); err != nil {
			return nil, fmt.Errorf("unexpected node: %w", err)
		}
		if n.Properties == nil {
			var flat map[string]any
			if err := json.Unmarshal(item, &flat); err != nil {
				return nil, fmt.Errorf("unexpected node: %w", err)
			}
			n.Properties = flat
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// decodeCreatedID reads the id of a node returned by createNode
func decodeCreatedID(resp *toolserver.ToolResponse) string {
	var out struct {
		ID   string `json:"id"`
		Node *node  `json:"node"`
	}
	if err := resp.Decode(&out); err != nil {
		return ""
	}
	if out.ID != "" {
		return out.ID
	}
	if out.Node != nil {
		return out.Node.id()
	}
	return ""
}

func batchFromNode(n node) *IntegrationBatch {
	p := n.Properties
	b := &IntegrationBatch{
		NodeID:         n.id(),
		BatchID:        str(p["batchId"]),
		Status:         Status(str(p["status"])),
		LastSummary:    str(p["lastSummary"]),
		ConversationID: str(p["conversationId"]),
		SourceType:     str(p["sourceType"]),
		LastError:      str(p["lastError"]),
		CreatedAt:      timestamp(p["createdAt"]),
		LastUpdatedAt:  timestamp(p["lastUpdatedAt"]),
	}
	if b.Status == "" {
		b.Status = StatusPending
	}

	switch ids := p["memberRecordIds"].(type) {
	case []any:
		for _, id := range ids {
			if s := str(id); s != "" {
				b.MemberRecordIDs = append(b.MemberRecordIDs, s)
			}
		}
	case string:
		// some servers store lists as encoded JSON
		_ = json.Unmarshal([]byte(ids), &b.MemberRecordIDs)
	}
	return b
}

func str(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

func timestamp(v any) time.Time {
	s := str(v)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
