package batch

import (
	"fmt"
	"time"
)

// Status of an integration batch
type Status string

const (
	StatusPending   Status = "pending"
	StatusCommitted Status = "committed"
	StatusFailed    Status = "failed"
)

// RecordLabel is the graph label of batch records
const RecordLabel = "IntegrationBatch"

// SourceType tags records written by the manager
const SourceType = "batch_manager"

// Property keys stamped on member records
const (
	PropIntegrationStatus  = "integrationStatus"
	PropIntegrationBatchID = "integrationBatchId"
)

// IntegrationBatch groups records written during one conversation
type IntegrationBatch struct {
	NodeID          string    `json:"-"`
	BatchID         string    `json:"batchId"`
	Status          Status    `json:"status"`
	LastSummary     string    `json:"lastSummary"`
	ConversationID  string    `json:"conversationId,omitempty"`
	SourceType      string    `json:"sourceType"`
	MemberRecordIDs []string  `json:"memberRecordIds"`
	LastError       string    `json:"lastError,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	LastUpdatedAt   time.Time `json:"lastUpdatedAt"`
}

// Pending reports whether a batch already holds uncommitted records
type Pending struct {
	HasData bool `json:"hasData"`
	Count   int  `json:"count"`
}

// Upsert is the input of Manager.UpsertBatch
type Upsert struct {
	BatchID        string
	Summary        string
	NewMembers     []string
	ConversationID string
}

// NewBatchID derives the batch id for a conversation. It returns "" when
// there is no conversation.
func NewBatchID(conversationID string, now time.Time) string {
	if conversationID == "" {
		return ""
	}
	return fmt.Sprintf("batch_%s_%d", conversationID, now.UnixMilli())
}

func (b *IntegrationBatch) properties() map[string]any {
	props := map[string]any{
		"batchId":         b.BatchID,
		"status":          string(b.Status),
		"lastSummary":     b.LastSummary,
		"sourceType":      b.SourceType,
		"memberRecordIds": b.MemberRecordIDs,
		"createdAt":       b.CreatedAt.UTC().Format(time.RFC3339Nano),
		"lastUpdatedAt":   b.LastUpdatedAt.UTC().Format(time.RFC3339Nano),
		// always written so a set-mode update clears a stale failure
		"lastError":       b.LastError,
	}
	if b.ConversationID != "" {
		props["conversationId"] = b.ConversationID
	}
	return props
}

// union appends ids missing from base, keeping first-seen order
func union(base []string, ids []string) []string {
	seen := make(map[string]bool, len(base)+len(ids))
	out := make([]string, 0, len(base)+len(ids))
	for _, list := range [][]string{base, ids} {
		for _, id := range list {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
