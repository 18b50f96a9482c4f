package conductor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/corewright/substrate/internal/blackboard"
	"github.com/corewright/substrate/internal/store"
)

// Config tunes conductor behavior.
type Config struct {
	DefaultTrailTTLHours int
}

func DefaultConfig() Config {
	return Config{DefaultTrailTTLHours: 24}
}

// Conductor orchestrates workflow runs against a store, with an optional
// blackboard bridge for real-time visibility. The blackboard is
// best-effort: a nil board just means sync calls are no-ops.
type Conductor struct {
	store   *store.Store
	board   *blackboard.Board
	cfg     Config
	execute NodeExecutor
}

// New builds a Conductor. board may be nil if the caller has no blackboard
// to bridge to (sync calls become no-ops in that case).
func New(s *store.Store, board *blackboard.Board, cfg Config) *Conductor {
	return &Conductor{store: s, board: board, cfg: cfg}
}

// SetNodeExecutor installs the callback used to actually fire nodes. Until
// set, RunWorkflow fails fast rather than silently no-opping.
func (c *Conductor) SetNodeExecutor(executor NodeExecutor) {
	c.execute = executor
}

// CreateWorkflow persists a new workflow definition and returns its ID.
func (c *Conductor) CreateWorkflow(name, description string, def Definition) (string, error) {
	nodesJSON, err := json.Marshal(def.Nodes)
	if err != nil {
		return "", fmt.Errorf("conductor: marshal nodes: %w", err)
	}
	edgesJSON, err := json.Marshal(def.Edges)
	if err != nil {
		return "", fmt.Errorf("conductor: marshal edges: %w", err)
	}
	configJSON, err := json.Marshal(def.Config)
	if err != nil {
		return "", fmt.Errorf("conductor: marshal config: %w", err)
	}

	id := uuid.NewString()
	err = c.store.InsertWorkflow(store.Workflow{
		ID:          id,
		Name:        name,
		Description: description,
		NodesJSON:   string(nodesJSON),
		EdgesJSON:   string(edgesJSON),
		ConfigJSON:  string(configJSON),
	})
	if err != nil {
		return "", fmt.Errorf("conductor: create workflow: %w", err)
	}
	return id, nil
}

// GetWorkflow loads a workflow and decodes its graph.
func (c *Conductor) GetWorkflow(name string) (*store.Workflow, Definition, error) {
	w, err := c.store.GetWorkflow(name)
	if err != nil {
		return nil, Definition{}, fmt.Errorf("conductor: get workflow: %w", err)
	}
	if w == nil {
		return nil, Definition{}, nil
	}
	def, err := decodeDefinition(*w)
	if err != nil {
		return nil, Definition{}, err
	}
	return w, def, nil
}

func decodeDefinition(w store.Workflow) (Definition, error) {
	var def Definition
	if err := json.Unmarshal([]byte(w.NodesJSON), &def.Nodes); err != nil {
		return Definition{}, fmt.Errorf("conductor: decode nodes: %w", err)
	}
	if err := json.Unmarshal([]byte(w.EdgesJSON), &def.Edges); err != nil {
		return Definition{}, fmt.Errorf("conductor: decode edges: %w", err)
	}
	if w.ConfigJSON != "" {
		if err := json.Unmarshal([]byte(w.ConfigJSON), &def.Config); err != nil {
			return Definition{}, fmt.Errorf("conductor: decode config: %w", err)
		}
	}
	return def, nil
}

// ListWorkflows returns every known workflow.
func (c *Conductor) ListWorkflows() ([]store.Workflow, error) {
	workflows, err := c.store.ListWorkflows()
	if err != nil {
		return nil, fmt.Errorf("conductor: list workflows: %w", err)
	}
	return workflows, nil
}

// GetRun loads a run, decoding its input/output/context JSON fields.
func (c *Conductor) GetRun(runID string) (*store.WorkflowRun, map[string]any, error) {
	run, err := c.store.GetRun(runID)
	if err != nil {
		return nil, nil, fmt.Errorf("conductor: get run: %w", err)
	}
	if run == nil {
		return nil, nil, nil
	}
	ctx := map[string]any{}
	if run.ContextJSON != "" {
		if err := json.Unmarshal([]byte(run.ContextJSON), &ctx); err != nil {
			return nil, nil, fmt.Errorf("conductor: decode run context: %w", err)
		}
	}
	return run, ctx, nil
}

// GetNodeExecutions returns every recorded node execution for a run.
func (c *Conductor) GetNodeExecutions(runID string) ([]store.NodeExecution, error) {
	execs, err := c.store.NodeExecutionsForRun(runID)
	if err != nil {
		return nil, fmt.Errorf("conductor: get node executions: %w", err)
	}
	return execs, nil
}

// GetDecisions returns every logged decision for a run.
func (c *Conductor) GetDecisions(runID string) ([]store.ConductorDecision, error) {
	decisions, err := c.store.GetDecisions(runID)
	if err != nil {
		return nil, fmt.Errorf("conductor: get decisions: %w", err)
	}
	return decisions, nil
}

func (c *Conductor) logDecision(runID, nodeID, decisionType string, data map[string]any, reason string) {
	payload, err := json.Marshal(data)
	if err != nil {
		payload = []byte("{}")
	}
	_ = c.store.RecordConductorDecision(runID, nodeID, decisionType, string(payload), reason)
}

func promptHash(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])[:16]
}
