package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Workflow is a stored node-graph definition for the conductor: nodes and
// edges are kept as separate JSON arrays (mirroring the node/edge shapes
// the conductor package decodes) alongside a free-form config blob.
type Workflow struct {
	ID          string
	Name        string
	Description string
	NodesJSON   string
	EdgesJSON   string
	ConfigJSON  string
	CreatedAt   time.Time
}

// InsertWorkflow persists a new workflow definition.
func (s *Store) InsertWorkflow(w Workflow) error {
	if w.NodesJSON == "" {
		w.NodesJSON = "[]"
	}
	if w.EdgesJSON == "" {
		w.EdgesJSON = "[]"
	}
	if w.ConfigJSON == "" {
		w.ConfigJSON = "{}"
	}
	_, err := s.db.Exec(
		`INSERT INTO workflows (id, name, description, nodes_json, edges_json, config_json) VALUES (?, ?, ?, ?, ?, ?)`,
		w.ID, w.Name, w.Description, w.NodesJSON, w.EdgesJSON, w.ConfigJSON,
	)
	if err != nil {
		return fmt.Errorf("store: insert workflow: %w", err)
	}
	return nil
}

// GetWorkflow loads a workflow definition by name.
func (s *Store) GetWorkflow(name string) (*Workflow, error) {
	var w Workflow
	err := s.db.QueryRow(
		`SELECT id, name, description, nodes_json, edges_json, config_json, created_at
		 FROM workflows WHERE name = ?`, name,
	).Scan(&w.ID, &w.Name, &w.Description, &w.NodesJSON, &w.EdgesJSON, &w.ConfigJSON, &w.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get workflow: %w", err)
	}
	return &w, nil
}

// ListWorkflows returns every workflow definition, name-ordered.
func (s *Store) ListWorkflows() ([]Workflow, error) {
	rows, err := s.db.Query(`SELECT id, name, description, created_at FROM workflows ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: list workflows: %w", err)
	}
	defer rows.Close()

	var out []Workflow
	for rows.Next() {
		var w Workflow
		if err := rows.Scan(&w.ID, &w.Name, &w.Description, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan workflow: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// WorkflowRun is a single execution of a workflow.
type WorkflowRun struct {
	ID             string
	WorkflowID     string
	WorkflowName   string
	Status         string // running, completed, failed, cancelled
	Phase          string
	InputJSON      string
	OutputJSON     string
	ContextJSON    string
	TotalNodes     int
	CompletedNodes int
	FailedNodes    int
	StartedAt      time.Time
	CompletedAt    sql.NullTime
	ErrorMessage   string
}

// StartWorkflowRun records the start of a new run.
func (s *Store) StartWorkflowRun(id, workflowID, workflowName, phase, inputJSON string) error {
	if phase == "" {
		phase = "init"
	}
	if inputJSON == "" {
		inputJSON = "{}"
	}
	_, err := s.db.Exec(
		`INSERT INTO workflow_runs (id, workflow_id, workflow_name, status, phase, input_json)
		 VALUES (?, ?, ?, 'running', ?, ?)`,
		id, workflowID, workflowName, phase, inputJSON,
	)
	if err != nil {
		return fmt.Errorf("store: start workflow run: %w", err)
	}
	return nil
}

// GetRun loads a workflow run by ID.
func (s *Store) GetRun(id string) (*WorkflowRun, error) {
	var r WorkflowRun
	err := s.db.QueryRow(
		`SELECT id, workflow_id, workflow_name, status, phase, input_json, output_json, context_json,
		        total_nodes, completed_nodes, failed_nodes, started_at, completed_at, error_message
		 FROM workflow_runs WHERE id = ?`, id,
	).Scan(&r.ID, &r.WorkflowID, &r.WorkflowName, &r.Status, &r.Phase, &r.InputJSON, &r.OutputJSON, &r.ContextJSON,
		&r.TotalNodes, &r.CompletedNodes, &r.FailedNodes, &r.StartedAt, &r.CompletedAt, &r.ErrorMessage)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get run: %w", err)
	}
	return &r, nil
}

// UpdateRunStatus transitions a run's status, stamping completed_at for
// terminal statuses and recording an optional error/output.
func (s *Store) UpdateRunStatus(runID, status, errMsg, outputJSON string) error {
	terminal := status == "completed" || status == "failed" || status == "cancelled"
	query := `UPDATE workflow_runs SET status = ?`
	args := []any{status}
	if terminal {
		query += `, completed_at = datetime('now')`
	}
	if errMsg != "" {
		query += `, error_message = ?`
		args = append(args, errMsg)
	}
	if outputJSON != "" {
		query += `, output_json = ?`
		args = append(args, outputJSON)
	}
	query += ` WHERE id = ?`
	args = append(args, runID)

	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("store: update run status: %w", err)
	}
	return nil
}

// UpdateRunPhase advances the run's named phase.
func (s *Store) UpdateRunPhase(runID, phase string) error {
	_, err := s.db.Exec(`UPDATE workflow_runs SET phase = ? WHERE id = ?`, phase, runID)
	if err != nil {
		return fmt.Errorf("store: update run phase: %w", err)
	}
	return nil
}

// UpdateRunContext overwrites the run's shared context.
func (s *Store) UpdateRunContext(runID, contextJSON string) error {
	_, err := s.db.Exec(`UPDATE workflow_runs SET context_json = ? WHERE id = ?`, contextJSON, runID)
	if err != nil {
		return fmt.Errorf("store: update run context: %w", err)
	}
	return nil
}

// IncrementRunTotalNodes bumps the run's fired-node counter.
func (s *Store) IncrementRunTotalNodes(runID string) error {
	_, err := s.db.Exec(`UPDATE workflow_runs SET total_nodes = total_nodes + 1 WHERE id = ?`, runID)
	if err != nil {
		return fmt.Errorf("store: increment run total nodes: %w", err)
	}
	return nil
}

// IncrementRunCompletedNodes bumps the run's completed-node counter.
func (s *Store) IncrementRunCompletedNodes(runID string) error {
	_, err := s.db.Exec(`UPDATE workflow_runs SET completed_nodes = completed_nodes + 1 WHERE id = ?`, runID)
	if err != nil {
		return fmt.Errorf("store: increment run completed nodes: %w", err)
	}
	return nil
}

// IncrementRunFailedNodes bumps the run's failed-node counter.
func (s *Store) IncrementRunFailedNodes(runID string) error {
	_, err := s.db.Exec(`UPDATE workflow_runs SET failed_nodes = failed_nodes + 1 WHERE id = ?`, runID)
	if err != nil {
		return fmt.Errorf("store: increment run failed nodes: %w", err)
	}
	return nil
}

// NodeExecution is one fire of one node within a run.
type NodeExecution struct {
	ID            int64
	RunID         string
	NodeID        string
	NodeName      string
	NodeType      string
	AgentID       string
	Prompt        string
	PromptHash    string
	Status        string // pending, running, completed, failed, skipped
	ResultText    string
	ResultJSON    string
	FindingsJSON  string
	FilesModified string
	DurationMs    sql.NullInt64
	TokenCount    sql.NullInt64
	RetryCount    int
	ErrorMessage  string
	ErrorType     string
	CreatedAt     time.Time
	StartedAt     sql.NullTime
	CompletedAt   sql.NullTime
}

// RecordNodeStart inserts a running node execution row and bumps the run's
// total-node counter, returning the new execution ID.
func (s *Store) RecordNodeStart(runID, nodeID, nodeName, nodeType, agentID, prompt, promptHash string) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO node_executions (run_id, node_id, node_name, node_type, agent_id, prompt, prompt_hash, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 'running', datetime('now'))`,
		runID, nodeID, nodeName, nodeType, agentID, prompt, promptHash,
	)
	if err != nil {
		return 0, fmt.Errorf("store: record node start: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: record node start: %w", err)
	}
	if err := s.IncrementRunTotalNodes(runID); err != nil {
		return 0, err
	}
	return id, nil
}

// RecordNodeCompletion marks an execution completed with its result payload
// and bumps the run's completed-node counter.
func (s *Store) RecordNodeCompletion(execID int64, resultText, resultJSON, findingsJSON, filesModifiedJSON string, durationMs, tokenCount int64) error {
	var runID string
	if err := s.db.QueryRow(`SELECT run_id FROM node_executions WHERE id = ?`, execID).Scan(&runID); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return fmt.Errorf("store: record node completion: %w", err)
	}

	_, err := s.db.Exec(
		`UPDATE node_executions SET status = 'completed', result_text = ?, result_json = ?, findings_json = ?,
		        files_modified = ?, duration_ms = ?, token_count = ?, completed_at = datetime('now') WHERE id = ?`,
		resultText, resultJSON, findingsJSON, filesModifiedJSON, durationMs, tokenCount, execID,
	)
	if err != nil {
		return fmt.Errorf("store: record node completion: %w", err)
	}
	return s.IncrementRunCompletedNodes(runID)
}

// RecordNodeFailure marks an execution failed and bumps the run's
// failed-node counter.
func (s *Store) RecordNodeFailure(execID int64, errMsg, errType string, durationMs int64) error {
	var runID string
	if err := s.db.QueryRow(`SELECT run_id FROM node_executions WHERE id = ?`, execID).Scan(&runID); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return fmt.Errorf("store: record node failure: %w", err)
	}

	if errType == "" {
		errType = "error"
	}
	_, err := s.db.Exec(
		`UPDATE node_executions SET status = 'failed', error_message = ?, error_type = ?, duration_ms = ?, completed_at = datetime('now')
		 WHERE id = ?`,
		errMsg, errType, durationMs, execID,
	)
	if err != nil {
		return fmt.Errorf("store: record node failure: %w", err)
	}
	return s.IncrementRunFailedNodes(runID)
}

// ResetNodeExecution puts a completed/failed execution back to pending,
// clearing its result/error and bumping retry_count, for the replay engine.
func (s *Store) ResetNodeExecution(execID int64) error {
	_, err := s.db.Exec(
		`UPDATE node_executions SET status = 'pending', result_text = '', result_json = '{}', findings_json = '[]',
		        error_message = '', error_type = '', completed_at = NULL, retry_count = retry_count + 1
		 WHERE id = ?`,
		execID,
	)
	if err != nil {
		return fmt.Errorf("store: reset node execution: %w", err)
	}
	return nil
}

// InsertPendingNodeExecution pre-creates a pending row for a node a replay
// run intends to retry.
func (s *Store) InsertPendingNodeExecution(runID, nodeID, nodeName, nodeType string) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO node_executions (run_id, node_id, node_name, node_type, status) VALUES (?, ?, ?, ?, 'pending')`,
		runID, nodeID, nodeName, nodeType,
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert pending node execution: %w", err)
	}
	return res.LastInsertId()
}

// NodeExecutionsForRun returns every recorded node execution for a run, in
// execution order, for the replay engine to reconstruct state from.
func (s *Store) NodeExecutionsForRun(runID string) ([]NodeExecution, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, node_id, node_name, node_type, agent_id, prompt, prompt_hash, status,
		        result_text, result_json, findings_json, files_modified, duration_ms, token_count,
		        retry_count, error_message, error_type, created_at, started_at, completed_at
		 FROM node_executions WHERE run_id = ? ORDER BY id ASC`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: node executions for run: %w", err)
	}
	defer rows.Close()

	var out []NodeExecution
	for rows.Next() {
		var n NodeExecution
		if err := rows.Scan(&n.ID, &n.RunID, &n.NodeID, &n.NodeName, &n.NodeType, &n.AgentID, &n.Prompt, &n.PromptHash,
			&n.Status, &n.ResultText, &n.ResultJSON, &n.FindingsJSON, &n.FilesModified, &n.DurationMs, &n.TokenCount,
			&n.RetryCount, &n.ErrorMessage, &n.ErrorType, &n.CreatedAt, &n.StartedAt, &n.CompletedAt); err != nil {
			return nil, fmt.Errorf("store: scan node execution: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Trail is one pheromone deposit laid by a node or agent at a location.
type Trail struct {
	ID        int64
	RunID     string
	Location  string
	Scent     string
	Strength  float64
	AgentID   string
	NodeID    string
	Message   string
	Tags      string // comma-joined
	CreatedAt time.Time
	ExpiresAt sql.NullTime
}

// LayTrail inserts a pheromone trail, expiring after ttlHours (0 = never).
func (s *Store) LayTrail(runID, location, scent string, strength float64, agentID, nodeID, message, tags string, ttlHours int) error {
	var expiresAt any
	if ttlHours > 0 {
		expiresAt = time.Now().Add(time.Duration(ttlHours) * time.Hour).UTC().Format("2006-01-02 15:04:05")
	}
	_, err := s.db.Exec(
		`INSERT INTO trails (run_id, location, scent, strength, agent_id, node_id, message, tags, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, location, scent, strength, agentID, nodeID, message, tags, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("store: lay trail: %w", err)
	}
	return nil
}

// GetTrailsFilter narrows GetTrails to matching rows; zero values mean
// "don't filter on this field".
type GetTrailsFilter struct {
	Location       string // substring match
	Scent          string
	MinStrength    float64
	RunID          string
	IncludeExpired bool
}

// GetTrails returns trails matching filter, strongest and most recent first.
func (s *Store) GetTrails(filter GetTrailsFilter) ([]Trail, error) {
	query := `SELECT id, run_id, location, scent, strength, agent_id, node_id, message, tags, created_at, expires_at
	          FROM trails WHERE strength >= ?`
	args := []any{filter.MinStrength}

	if !filter.IncludeExpired {
		query += ` AND (expires_at IS NULL OR expires_at > datetime('now'))`
	}
	if filter.Location != "" {
		query += ` AND location LIKE ?`
		args = append(args, "%"+filter.Location+"%")
	}
	if filter.Scent != "" {
		query += ` AND scent = ?`
		args = append(args, filter.Scent)
	}
	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	query += ` ORDER BY strength DESC, created_at DESC LIMIT 100`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: get trails: %w", err)
	}
	defer rows.Close()

	var out []Trail
	for rows.Next() {
		var t Trail
		if err := rows.Scan(&t.ID, &t.RunID, &t.Location, &t.Scent, &t.Strength, &t.AgentID, &t.NodeID,
			&t.Message, &t.Tags, &t.CreatedAt, &t.ExpiresAt); err != nil {
			return nil, fmt.Errorf("store: scan trail: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// HotSpot is a location aggregated across every trail laid there.
type HotSpot struct {
	Location      string
	TrailCount    int
	MaxStrength   float64
	TotalStrength float64
	Scents        string // comma-joined distinct scents
	Agents        string // comma-joined distinct agents
	LastActivity  time.Time
}

// GetHotSpots groups trails by location, ranked by total strength,
// optionally scoped to one run.
func (s *Store) GetHotSpots(runID string, limit int) ([]HotSpot, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT location, COUNT(*), MAX(strength), SUM(strength),
	                 COALESCE(GROUP_CONCAT(DISTINCT scent), ''), COALESCE(GROUP_CONCAT(DISTINCT agent_id), ''), MAX(created_at)
	          FROM trails`
	var args []any
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` GROUP BY location ORDER BY SUM(strength) DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: get hot spots: %w", err)
	}
	defer rows.Close()

	var out []HotSpot
	for rows.Next() {
		var h HotSpot
		if err := rows.Scan(&h.Location, &h.TrailCount, &h.MaxStrength, &h.TotalStrength, &h.Scents, &h.Agents, &h.LastActivity); err != nil {
			return nil, fmt.Errorf("store: scan hot spot: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// DecayTrails multiplies every non-expired trail's strength by (1-rate) and
// prunes anything that decayed below the noise floor.
func (s *Store) DecayTrails(rate float64) error {
	_, err := s.db.Exec(
		`UPDATE trails SET strength = strength * (1.0 - ?) WHERE expires_at IS NULL OR expires_at > datetime('now')`,
		rate,
	)
	if err != nil {
		return fmt.Errorf("store: decay trails: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM trails WHERE strength < 0.01`); err != nil {
		return fmt.Errorf("store: decay trails prune: %w", err)
	}
	return nil
}

// ConductorDecision is one audit entry of a choice the conductor made
// during a run (starting, firing a node, choosing an edge, failing, ...).
type ConductorDecision struct {
	ID           int64
	RunID        string
	NodeID       string
	DecisionType string
	DecisionData string // JSON
	Reason       string
	CreatedAt    time.Time
}

// RecordConductorDecision logs one audit entry for a run.
func (s *Store) RecordConductorDecision(runID, nodeID, decisionType, decisionDataJSON, reason string) error {
	if decisionDataJSON == "" {
		decisionDataJSON = "{}"
	}
	_, err := s.db.Exec(
		`INSERT INTO conductor_decisions (run_id, node_id, decision_type, decision_data, reason) VALUES (?, ?, ?, ?, ?)`,
		runID, nodeID, decisionType, decisionDataJSON, reason,
	)
	if err != nil {
		return fmt.Errorf("store: record conductor decision: %w", err)
	}
	return nil
}

// GetDecisions returns every decision logged for a run, in order.
func (s *Store) GetDecisions(runID string) ([]ConductorDecision, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, node_id, decision_type, decision_data, reason, created_at
		 FROM conductor_decisions WHERE run_id = ? ORDER BY created_at ASC, id ASC`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: get decisions: %w", err)
	}
	defer rows.Close()

	var out []ConductorDecision
	for rows.Next() {
		var d ConductorDecision
		if err := rows.Scan(&d.ID, &d.RunID, &d.NodeID, &d.DecisionType, &d.DecisionData, &d.Reason, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
