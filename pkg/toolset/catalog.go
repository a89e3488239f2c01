package toolset

import (
	"github.com/harun/knowhub/pkg/toolserver"
)

// Remote tool names
const (
	ToolFindNodes            = "findNodes"
	ToolSearchWithContext    = "searchWithContext"
	ToolGetNodeDetails       = "getNodeDetails"
	ToolGetNeighborSummary   = "getNeighborSummary"
	ToolFindPath             = "findPath"
	ToolGetSchema            = "getSchema"
	ToolFullTextSearch       = "fullTextSearch"
	ToolCreateNode           = "createNode"
	ToolCreateRelationship   = "createRelationship"
	ToolUpdateNodeProperties = "updateNodeProperties"
	ToolAddLabels            = "addLabels"
	ToolDeleteNode           = "deleteNode"
	ToolBatchOperations      = "batchOperations"
)

var objectItems = map[string]any{"type": "object"}

func readDefinitions(caller toolserver.Caller) []Definition {
	return []Definition{
		Remote[FindNodes](caller, ToolFindNodes,
			"Find nodes by label and property filters",
			Parameter{Name: "label", Type: "string", Description: "Node label", Required: true},
			Parameter{Name: "properties", Type: "object", Description: "Exact-match property filters"},
			Parameter{Name: "limit", Type: "integer", Description: "Maximum results", Default: 10},
		),
		Remote[SearchWithContext](caller, ToolSearchWithContext,
			"Contextual search with relevance boost around known nodes",
			Parameter{Name: "query", Type: "string", Description: "Search text", Required: true},
			Parameter{Name: "contextNodeIds", Type: "array", Description: "Node ids used to boost relevance"},
			Parameter{Name: "includePending", Type: "boolean", Description: "Include nodes whose integration is pending", Default: true},
			Parameter{Name: "limit", Type: "integer", Description: "Maximum results", Default: 10},
		),
		Remote[GetNodeDetails](caller, ToolGetNodeDetails,
			"Get the properties and labels of one node",
			Parameter{Name: "nodeId", Type: "string", Description: "Node id", Required: true},
			Parameter{Name: "detailLevel", Type: "string", Enum: []string{"core", "fullProperties"}, Default: "core"},
		),
		Remote[GetNeighborSummary](caller, ToolGetNeighborSummary,
			"Summarize the neighbors of a node",
			Parameter{Name: "nodeId", Type: "string", Description: "Node id", Required: true},
			Parameter{Name: "relationshipType", Type: "string", Description: "Restrict to one relationship type"},
			Parameter{Name: "direction", Type: "string", Enum: []string{"OUTGOING", "INCOMING", "BOTH"}, Default: "OUTGOING"},
			Parameter{Name: "depth", Type: "integer", Description: "Traversal depth", Default: 1},
			Parameter{Name: "limit", Type: "integer", Description: "Maximum neighbors", Default: 20},
		),
		Remote[FindPath](caller, ToolFindPath,
			"Find the shortest path between two nodes",
			Parameter{Name: "fromId", Type: "string", Description: "Start node id", Required: true},
			Parameter{Name: "toId", Type: "string", Description: "End node id", Required: true},
			Parameter{Name: "maxDepth", Type: "integer", Description: "Maximum path length", Default: 4},
		),
		Remote[GetSchema](caller, ToolGetSchema,
			"Describe labels, relationship types and indexes of the graph",
		),
		Remote[FullTextSearch](caller, ToolFullTextSearch,
			"Full-text search over indexed node properties",
			Parameter{Name: "query", Type: "string", Description: "Lucene query", Required: true},
			Parameter{Name: "index", Type: "string", Description: "Index name"},
			Parameter{Name: "limit", Type: "integer", Description: "Maximum results", Default: 10},
		),
	}
}

func writeDefinitions(caller toolserver.Caller) []Definition {
	return []Definition{
		Remote[CreateNode](caller, ToolCreateNode,
			"Create a node, merging on identifying properties when given",
			Parameter{Name: "labels", Type: "array", Description: "Node labels", Required: true},
			Parameter{Name: "properties", Type: "object", Description: "Node properties", Required: true},
			Parameter{Name: "identifyingProperties", Type: "array", Description: "Property keys used to merge with an existing node"},
		),
		Remote[CreateRelationship](caller, ToolCreateRelationship,
			"Create a relationship between two nodes",
			Parameter{Name: "fromId", Type: "string", Description: "Start node id", Required: true},
			Parameter{Name: "toId", Type: "string", Description: "End node id", Required: true},
			Parameter{Name: "type", Type: "string", Description: "Relationship type", Required: true},
			Parameter{Name: "properties", Type: "object", Description: "Relationship properties"},
		),
		Remote[UpdateNodeProperties](caller, ToolUpdateNodeProperties,
			"Set, replace or remove node properties",
			Parameter{Name: "nodeId", Type: "string", Description: "Node id", Required: true},
			Parameter{Name: "properties", Type: "object", Description: "Properties to set or replace"},
			Parameter{Name: "mode", Type: "string", Enum: []string{ModeSet, ModeReplace, ModeRemove}, Default: ModeSet},
			Parameter{Name: "keys", Type: "array", Description: "Keys to remove in remove mode"},
		),
		Remote[AddLabels](caller, ToolAddLabels,
			"Add labels to a node",
			Parameter{Name: "nodeId", Type: "string", Description: "Node id", Required: true},
			Parameter{Name: "labels", Type: "array", Description: "Labels to add", Required: true},
		),
		Remote[DeleteNode](caller, ToolDeleteNode,
			"Delete a node",
			Parameter{Name: "nodeId", Type: "string", Description: "Node id", Required: true},
			Parameter{Name: "detach", Type: "boolean", Description: "Also delete its relationships"},
		),
		Remote[BatchOperations](caller, ToolBatchOperations,
			"Run several write operations, atomically when transactional",
			Parameter{Name: "operations", Type: "array", Description: "Operations as {tool, params}", Required: true, Items: objectItems},
			Parameter{Name: "transactional", Type: "boolean", Default: true},
		),
	}
}

// ReaderCatalog is the read-only toolset
func ReaderCatalog(caller toolserver.Caller, opts ...Option) (*Toolset, error) {
	return New("reader", readDefinitions(caller), opts...)
}

// IntegratorCatalog exposes read and write tools
func IntegratorCatalog(caller toolserver.Caller, opts ...Option) (*Toolset, error) {
	defs := append(readDefinitions(caller), writeDefinitions(caller)...)
	return New("integrator", defs, opts...)
}
