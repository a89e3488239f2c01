package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/knowhub/internal/tracing"
	"github.com/harun/knowhub/pkg/toolserver"
	"github.com/harun/knowhub/pkg/toolset"
)

// Manager tracks IntegrationBatch records stored on the tool server
type Manager struct {
	caller toolserver.Caller
	logger zerolog.Logger
	now    func() time.Time

	// serializes read-modify-write per batch id within this process
	locks sync.Map
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a manager backed by caller
func NewManager(caller toolserver.Caller, opts ...Option) *Manager {
	m := &Manager{
		caller: caller,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) lock(batchID string) func() {
	v, _ := m.locks.LoadOrStore(batchID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Get returns the batch record, or nil when absent
func (m *Manager) Get(ctx context.Context, batchID string) (*IntegrationBatch, error) {
	if batchID == "" {
		return nil, errors.New("batch id is required")
	}

	resp, err := m.caller.CallTool(ctx, toolset.ToolFindNodes, toolset.FindNodes{
		Label:      RecordLabel,
		Properties: map[string]any{"batchId": batchID},
		Limit:      1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to look up batch %s: %w", batchID, err)
	}

	nodes, err := decodeNodes(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to look up batch %s: %w", batchID, err)
	}
	for _, n := range nodes {
		b := batchFromNode(n)
		if b.BatchID == batchID {
			return b, nil
		}
	}
	return nil, nil
}

// HasPendingMembers reports whether a pending batch already holds records
func (m *Manager) HasPendingMembers(ctx context.Context, batchID string) (Pending, error) {
	b, err := m.Get(ctx, batchID)
	if err != nil || b == nil {
		return Pending{}, err
	}
	if b.Status != StatusPending {
		return Pending{}, nil
	}
	return Pending{HasData: len(b.MemberRecordIDs) > 0, Count: len(b.MemberRecordIDs)}, nil
}

// LastSummary returns the last summary of a batch, "" when absent
func (m *Manager) LastSummary(ctx context.Context, batchID string) (string, error) {
	b, err := m.Get(ctx, batchID)
	if err != nil || b == nil {
		return "", err
	}
	return b.LastSummary, nil
}

// TagMembers stamps records with the pending status and batch id. Failures
// are collected so one bad record does not stop the others.
func (m *Manager) TagMembers(ctx context.Context, batchID string, recordIDs []string) error {
	var errs []error
	for _, id := range recordIDs {
		if id == "" {
			continue
		}
		_, err := m.caller.CallTool(ctx, toolset.ToolUpdateNodeProperties, toolset.UpdateNodeProperties{
			NodeID: id,
			Properties: map[string]any{
				PropIntegrationStatus:  string(StatusPending),
				PropIntegrationBatchID: batchID,
			},
			Mode: toolset.ModeSet,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("record %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// UpsertBatch creates the batch record or merges into the existing one.
// Members are unioned, createdAt is preserved and lastUpdatedAt refreshed.
func (m *Manager) UpsertBatch(ctx context.Context, in Upsert) (*IntegrationBatch, error) {
	if in.BatchID == "" {
		return nil, errors.New("batch id is required")
	}
	defer m.lock(in.BatchID)()

	logger := tracing.LoggerFromContext(ctx, m.logger)
	now := m.now().UTC()

	existing, err := m.Get(ctx, in.BatchID)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		b := &IntegrationBatch{
			BatchID:         in.BatchID,
			Status:          StatusPending,
			LastSummary:     in.Summary,
			ConversationID:  in.ConversationID,
			SourceType:      SourceType,
			MemberRecordIDs: union(nil, in.NewMembers),
			CreatedAt:       now,
			LastUpdatedAt:   now,
		}
		if err := m.create(ctx, b); err != nil {
			return nil, err
		}
		logger.Info().Str("batchId", b.BatchID).Int("members", len(b.MemberRecordIDs)).Msg("Integration batch created")
		return b, nil
	}

	b := existing
	if in.Summary != "" {
		b.LastSummary = in.Summary
	}
	if b.ConversationID == "" {
		b.ConversationID = in.ConversationID
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.MemberRecordIDs = union(b.MemberRecordIDs, in.NewMembers)
	b.LastUpdatedAt = now
	// a successful commit reopens a batch that an earlier run marked failed
	b.Status = StatusPending
	b.LastError = ""
	if b.SourceType == "" {
		b.SourceType = SourceType
	}

	if err := m.update(ctx, b); err != nil {
		return nil, err
	}
	logger.Info().Str("batchId", b.BatchID).Int("members", len(b.MemberRecordIDs)).Msg("Integration batch updated")
	return b, nil
}

// MarkFailed records err on the batch, creating the record if needed
func (m *Manager) MarkFailed(ctx context.Context, batchID, conversationID, errText string) error {
	if batchID == "" {
		return errors.New("batch id is required")
	}
	defer m.lock(batchID)()

	now := m.now().UTC()
	b, err := m.Get(ctx, batchID)
	if err != nil {
		return err
	}

	if b == nil {
		b = &IntegrationBatch{
			BatchID:        batchID,
			ConversationID: conversationID,
			SourceType:     SourceType,
			CreatedAt:      now,
		}
		b.Status = StatusFailed
		b.LastError = errText
		b.LastUpdatedAt = now
		err = m.create(ctx, b)
	} else {
		b.Status = StatusFailed
		b.LastError = errText
		b.LastUpdatedAt = now
		err = m.update(ctx, b)
	}
	if err != nil {
		return err
	}

	logger := tracing.LoggerFromContext(ctx, m.logger)
	logger.Warn().
		Str("batchId", batchID).
		Str("error", errText).
		Msg("Integration batch marked failed")
	return nil
}

func (m *Manager) create(ctx context.Context, b *IntegrationBatch) error {
	if b.MemberRecordIDs == nil {
		b.MemberRecordIDs = []string{}
	}
	resp, err := m.caller.CallTool(ctx, toolset.ToolCreateNode, toolset.CreateNode{
		Labels:                []string{RecordLabel},
		Properties:            b.properties(),
		IdentifyingProperties: []string{"batchId"},
	})
	if err != nil {
		return fmt.Errorf("failed to create batch %s: %w", b.BatchID, err)
	}
	b.NodeID = decodeCreatedID(resp)
	return nil
}

func (m *Manager) update(ctx context.Context, b *IntegrationBatch) error {
	if b.NodeID == "" {
		// no id to address: merge again on batchId
		return m.create(ctx, b)
	}
	if b.MemberRecordIDs == nil {
		b.MemberRecordIDs = []string{}
	}

	_, err := m.caller.CallTool(ctx, toolset.ToolUpdateNodeProperties, toolset.UpdateNodeProperties{
		NodeID:     b.NodeID,
		Properties: b.properties(),
		Mode:       toolset.ModeSet,
	})
	if err != nil {
		return fmt.Errorf("failed to update batch %s: %w", b.BatchID, err)
	}
	return nil
}
