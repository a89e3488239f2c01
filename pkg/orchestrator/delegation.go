package orchestrator

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/knowhub/internal/tracing"
	"github.com/harun/knowhub/pkg/agent"
	"github.com/harun/knowhub/pkg/toolset"
)

// Delegation tool names offered to the top model
const (
	ToolSearchKnowledgeGraph = "searchKnowledgeGraph"
	ToolAddOrUpdateKnowledge = "addOrUpdateKnowledge"
)

// delegationScope is what every delegated task of one request shares
type delegationScope struct {
	batchID        string
	conversationID string
}

// delegationTools builds the two tools of the top model. Delegate errors are
// returned to the toolset, which reports them to the model unless they are
// non-recoverable.
func (o *Orchestrator) delegationTools(scope delegationScope) (*toolset.Toolset, error) {
	defs := []toolset.Definition{
		toolset.Local(ToolSearchKnowledgeGraph,
			"Search the knowledge graph for information",
			func(ctx context.Context, args searchArgs) (any, error) {
				return o.search(ctx, scope, args)
			},
			toolset.Parameter{Name: "query", Type: "string", Description: "What to look for", Required: true},
		),
		toolset.Local(ToolAddOrUpdateKnowledge,
			"Add or update information in the knowledge graph",
			func(ctx context.Context, args integrateArgs) (any, error) {
				return o.integrate(ctx, scope, args)
			},
			toolset.Parameter{Name: "information", Type: "string", Description: "The information to integrate", Required: true},
		),
	}
	return toolset.New("orchestrator", defs, toolset.WithLogger(o.logger))
}

func (o *Orchestrator) search(ctx context.Context, scope delegationScope, args searchArgs) (out any, err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "delegate.search",
		attribute.String("batch_id", scope.batchID))
	defer func() { tracing.EndSpan(span, err) }()

	if args.Query == "" {
		return nil, errors.New("query is required")
	}
	logger := tracing.LoggerFromContext(ctx, o.logger)
	logger.Info().Str("query", args.Query).Msg("Delegating search")

	res, err := o.deps.Reader.RunReadTask(ctx, agent.ReadTask{
		Description:    args.Query,
		ConversationID: scope.conversationID,
		BatchID:        scope.batchID,
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (o *Orchestrator) integrate(ctx context.Context, scope delegationScope, args integrateArgs) (out any, err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "delegate.integrate",
		attribute.String("batch_id", scope.batchID))
	defer func() { tracing.EndSpan(span, err) }()

	if args.Information == "" {
		return nil, errors.New("information is required")
	}
	logger := tracing.LoggerFromContext(ctx, o.logger)
	logger.Info().Int("length", len(args.Information)).Msg("Delegating integration")

	task := agent.WriteTask{
		Information:    args.Information,
		BatchID:        scope.batchID,
		ConversationID: scope.conversationID,
	}
	if o.deps.Queue == nil || scope.conversationID == "" {
		res, err := o.deps.Integrator.RunWriteTask(ctx, task)
		if err != nil {
			return nil, err
		}
		return res, nil
	}

	return o.deps.Queue.Enqueue(ctx, writeLane(scope.conversationID), func(ctx context.Context) (any, error) {
		res, err := o.deps.Integrator.RunWriteTask(ctx, task)
		if err != nil {
			return nil, err
		}
		return res, nil
	})
}

func writeLane(conversationID string) string {
	return "conversation:" + conversationID
}
