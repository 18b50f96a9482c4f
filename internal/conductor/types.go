// Package conductor executes node-graph workflows: it fires nodes in
// frontier batches, evaluates a closed edge-condition grammar to decide
// what fires next, and bridges the run to pheromone trails and the
// blackboard for real-time visibility.
package conductor

import "context"

const (
	StartNode = "__start__"
	EndNode   = "__end__"
)

// NodeType selects how a node is executed.
type NodeType string

const (
	NodeSingle   NodeType = "single"
	NodeParallel NodeType = "parallel"
	NodeSwarm    NodeType = "swarm"
)

// Node is one step in a workflow, fired by an external NodeExecutor.
type Node struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	NodeType       NodeType       `json:"node_type"`
	PromptTemplate string         `json:"prompt_template"`
	Config         map[string]any `json:"config,omitempty"`
}

// Edge connects two nodes, optionally gated by a condition evaluated
// against the run's context.
type Edge struct {
	FromNode  string `json:"from_node"`
	ToNode    string `json:"to_node"`
	Condition string `json:"condition,omitempty"`
	Priority  int    `json:"priority,omitempty"`
}

// Definition is a workflow's full graph as decoded from storage.
type Definition struct {
	Nodes  []Node         `json:"nodes"`
	Edges  []Edge         `json:"edges"`
	Config map[string]any `json:"config,omitempty"`
}

// ExecResult is what a NodeExecutor returns for a successful node fire.
// Fields beyond Text/Data are lifted out of Data by well-known keys
// ("findings", "files_modified") when present.
type ExecResult struct {
	Text string
	Data map[string]any
}

// NodeExecutor is supplied by the host (worker/agent runtime) and does the
// actual work of firing one node. It may return an error; the conductor
// records that as a failed execution and never panics the batch.
type NodeExecutor func(ctx context.Context, node Node, runContext map[string]any) (ExecResult, error)
