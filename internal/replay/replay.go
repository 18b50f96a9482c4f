// Package replay re-runs conductor workflows from a specific point: full
// replays from a node, bulk retry of every failed node, run cloning with
// input overrides, and a dry-run preview of what a replay would do before
// committing it.
package replay

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/corewright/substrate/internal/store"
)

// Manager replays and retries workflow runs recorded by the conductor.
type Manager struct {
	store *store.Store
}

func New(s *store.Store) *Manager {
	return &Manager{store: s}
}

// RunInfo is a run plus its full execution history, the unit replay
// decisions are made against.
type RunInfo struct {
	Run        store.WorkflowRun
	Executions []store.NodeExecution
}

// GetRunInfo loads a run and every node execution recorded against it, or
// nil if the run doesn't exist.
func (m *Manager) GetRunInfo(runID string) (*RunInfo, error) {
	run, err := m.store.GetRun(runID)
	if err != nil {
		return nil, fmt.Errorf("replay: get run info: %w", err)
	}
	if run == nil {
		return nil, nil
	}
	execs, err := m.store.NodeExecutionsForRun(runID)
	if err != nil {
		return nil, fmt.Errorf("replay: get run info: %w", err)
	}
	return &RunInfo{Run: *run, Executions: execs}, nil
}

// GetFailedNodes returns every failed execution from a run, in fire order.
func (m *Manager) GetFailedNodes(runID string) ([]store.NodeExecution, error) {
	execs, err := m.store.NodeExecutionsForRun(runID)
	if err != nil {
		return nil, fmt.Errorf("replay: get failed nodes: %w", err)
	}
	var failed []store.NodeExecution
	for _, e := range execs {
		if e.Status == "failed" {
			failed = append(failed, e)
		}
	}
	return failed, nil
}

// GetNodeByID returns the most recent execution of nodeID within runID, or
// nil if it never fired.
func (m *Manager) GetNodeByID(runID, nodeID string) (*store.NodeExecution, error) {
	execs, err := m.store.NodeExecutionsForRun(runID)
	if err != nil {
		return nil, fmt.Errorf("replay: get node by id: %w", err)
	}
	var latest *store.NodeExecution
	for i := range execs {
		if execs[i].NodeID == nodeID {
			latest = &execs[i]
		}
	}
	return latest, nil
}

// buildReplayContext replays the input forward through every completed
// node up to (but not including) fromNode, merging each node's JSON result
// into the running context. An empty fromNode means start from the raw
// input with no nodes replayed forward.
func buildReplayContext(run store.WorkflowRun, executions []store.NodeExecution, fromNode string) map[string]any {
	ctx := map[string]any{}
	if run.InputJSON != "" {
		_ = json.Unmarshal([]byte(run.InputJSON), &ctx)
	}
	if fromNode == "" {
		return ctx
	}
	for _, e := range executions {
		if e.NodeID == fromNode {
			break
		}
		if e.Status != "completed" || e.ResultJSON == "" {
			continue
		}
		var result map[string]any
		if err := json.Unmarshal([]byte(e.ResultJSON), &result); err == nil {
			for k, v := range result {
				ctx[k] = v
			}
		}
	}
	return ctx
}

// CreateReplayRun starts a new run seeded from original's input plus, if
// fromNode is set and includeContext is true, the accumulated results of
// every node completed before fromNode. The replay decision is logged
// against the new run.
func (m *Manager) CreateReplayRun(originalRunID, fromNode string, includeContext bool) (string, error) {
	original, err := m.GetRunInfo(originalRunID)
	if err != nil {
		return "", err
	}
	if original == nil {
		return "", fmt.Errorf("replay: run %s not found", originalRunID)
	}

	ctx := map[string]any{}
	if original.Run.InputJSON != "" {
		_ = json.Unmarshal([]byte(original.Run.InputJSON), &ctx)
	}
	if includeContext && fromNode != "" {
		ctx = buildReplayContext(original.Run, original.Executions, fromNode)
	}
	ctxJSON, err := json.Marshal(ctx)
	if err != nil {
		return "", fmt.Errorf("replay: marshal replay context: %w", err)
	}

	newRunID := uuid.NewString()
	startNode := fromNode
	if startNode == "" {
		startNode = "start"
	}
	name := fmt.Sprintf("replay-%s-from-%s", original.Run.WorkflowName, startNode)
	if err := m.store.StartWorkflowRun(newRunID, original.Run.WorkflowID, name, "replay", string(ctxJSON)); err != nil {
		return "", fmt.Errorf("replay: create replay run: %w", err)
	}

	data, _ := json.Marshal(map[string]any{
		"original_run_id": originalRunID,
		"from_node":       fromNode,
		"include_context": includeContext,
	})
	_ = m.store.RecordConductorDecision(newRunID, "", "replay", string(data),
		fmt.Sprintf("replay of run %s from %s", originalRunID, startNode))

	return newRunID, nil
}

// RetryResult summarizes a retry-failed-nodes operation.
type RetryResult struct {
	OriginalRunID string
	NewRunID      string
	DryRun        bool
	Nodes         []store.NodeExecution
}

// RetryFailedNodes creates a new run seeded with a pending execution row for
// every failed node from runID. It does not execute those rows, and the
// conductor does not pick pending rows up on its own. dryRun just reports
// what would be retried.
func (m *Manager) RetryFailedNodes(runID string, dryRun bool) (RetryResult, error) {
	failed, err := m.GetFailedNodes(runID)
	if err != nil {
		return RetryResult{}, err
	}
	result := RetryResult{OriginalRunID: runID, DryRun: dryRun, Nodes: failed}
	if len(failed) == 0 || dryRun {
		return result, nil
	}

	newRunID, err := m.CreateReplayRun(runID, "", true)
	if err != nil {
		return RetryResult{}, err
	}
	result.NewRunID = newRunID

	for _, node := range failed {
		if _, err := m.store.InsertPendingNodeExecution(newRunID, node.NodeID, node.NodeName, node.NodeType); err != nil {
			return RetryResult{}, fmt.Errorf("replay: retry failed nodes: %w", err)
		}
	}
	return result, nil
}

// CloneModifications overrides applied when cloning a run.
type CloneModifications struct {
	Input map[string]any
}

// CloneRun starts a fresh run from runID's definition with input
// modifications merged on top of the original input.
func (m *Manager) CloneRun(runID string, mods CloneModifications) (string, error) {
	original, err := m.GetRunInfo(runID)
	if err != nil {
		return "", err
	}
	if original == nil {
		return "", fmt.Errorf("replay: run %s not found", runID)
	}

	newInput := map[string]any{}
	if original.Run.InputJSON != "" {
		_ = json.Unmarshal([]byte(original.Run.InputJSON), &newInput)
	}
	for k, v := range mods.Input {
		newInput[k] = v
	}
	inputJSON, err := json.Marshal(newInput)
	if err != nil {
		return "", fmt.Errorf("replay: marshal clone input: %w", err)
	}

	newRunID := uuid.NewString()
	name := fmt.Sprintf("clone-%s", original.Run.WorkflowName)
	if err := m.store.StartWorkflowRun(newRunID, original.Run.WorkflowID, name, "init", string(inputJSON)); err != nil {
		return "", fmt.Errorf("replay: clone run: %w", err)
	}

	data, _ := json.Marshal(map[string]any{
		"original_run_id": runID,
		"modifications":   mods,
	})
	_ = m.store.RecordConductorDecision(newRunID, "", "clone", string(data), fmt.Sprintf("clone of run %s", runID))

	return newRunID, nil
}

// NodePlanEntry is one node's disposition in a replay plan.
type NodePlanEntry struct {
	NodeID         string
	NodeName       string
	OriginalStatus string
	DurationMs     int64
}

// ReplayPlan previews what CreateReplayRun would do without committing it.
type ReplayPlan struct {
	OriginalRunID  string
	FromNode       string
	TotalNodes     int
	NodesToSkip    []NodePlanEntry
	NodesToReplay  []NodePlanEntry
	ContextAtStart map[string]any
}

// GetReplayPlan computes the skip/replay split and the context that would
// be in effect at fromNode, for callers to show before committing to
// CreateReplayRun.
func (m *Manager) GetReplayPlan(runID, fromNode string) (ReplayPlan, error) {
	original, err := m.GetRunInfo(runID)
	if err != nil {
		return ReplayPlan{}, err
	}
	if original == nil {
		return ReplayPlan{}, fmt.Errorf("replay: run %s not found", runID)
	}

	plan := ReplayPlan{
		OriginalRunID: runID,
		FromNode:      fromNode,
		TotalNodes:    len(original.Executions),
	}

	ctx := map[string]any{}
	if original.Run.InputJSON != "" {
		_ = json.Unmarshal([]byte(original.Run.InputJSON), &ctx)
	}
	foundStart := fromNode == ""

	for _, e := range original.Executions {
		entry := NodePlanEntry{NodeID: e.NodeID, NodeName: e.NodeName, OriginalStatus: e.Status}
		if e.DurationMs.Valid {
			entry.DurationMs = e.DurationMs.Int64
		}

		if !foundStart {
			if e.NodeID == fromNode {
				foundStart = true
				plan.ContextAtStart = cloneMap(ctx)
				plan.NodesToReplay = append(plan.NodesToReplay, entry)
				continue
			}
			if e.Status == "completed" && e.ResultJSON != "" {
				var result map[string]any
				if err := json.Unmarshal([]byte(e.ResultJSON), &result); err == nil {
					for k, v := range result {
						ctx[k] = v
					}
				}
			}
			plan.NodesToSkip = append(plan.NodesToSkip, entry)
			continue
		}
		plan.NodesToReplay = append(plan.NodesToReplay, entry)
	}

	if plan.ContextAtStart == nil {
		plan.ContextAtStart = ctx
	}

	return plan, nil
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ResetNode puts a node execution back to pending for re-execution within
// the same run, returning false if the node never fired in this run.
func (m *Manager) ResetNode(runID, nodeID string) (bool, error) {
	exec, err := m.GetNodeByID(runID, nodeID)
	if err != nil {
		return false, err
	}
	if exec == nil {
		return false, nil
	}
	if err := m.store.ResetNodeExecution(exec.ID); err != nil {
		return false, fmt.Errorf("replay: reset node: %w", err)
	}
	data, _ := json.Marshal(map[string]any{"node_id": nodeID})
	_ = m.store.RecordConductorDecision(runID, nodeID, "reset_node", string(data),
		fmt.Sprintf("reset node %s for re-execution", nodeID))
	return true, nil
}
