package conductor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/google/uuid"
)

var templateFieldPattern = regexp.MustCompile(`\{(\w+)\}`)

// renderPrompt does named-field substitution of {key} against ctx, the Go
// equivalent of the original template.format(**context) call. A missing
// key is left as the literal placeholder rather than erroring, since a
// template may reference a field a prior node hasn't populated yet.
func renderPrompt(template string, ctx map[string]any) string {
	if len(ctx) == 0 {
		return template
	}
	return templateFieldPattern.ReplaceAllStringFunc(template, func(match string) string {
		key := match[1 : len(match)-1]
		v, ok := ctx[key]
		if !ok {
			return match
		}
		return fmt.Sprintf("%v", v)
	})
}

func buildEdgeIndex(edges []Edge) map[string][]Edge {
	index := make(map[string][]Edge)
	for _, e := range edges {
		index[e.FromNode] = append(index[e.FromNode], e)
	}
	return index
}

func initialNodes(edgesFrom map[string][]Edge) []string {
	var out []string
	for _, e := range edgesFrom[StartNode] {
		out = append(out, e.ToNode)
	}
	return out
}

func nextNodes(currentNode string, edgesFrom map[string][]Edge, ctx map[string]any) []string {
	var out []string
	for _, e := range edgesFrom[currentNode] {
		if evalCondition(e.Condition, ctx) {
			out = append(out, e.ToNode)
		}
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// nodeOutcome is one fired node's result, collected after a batch barrier
// so context merges stay deterministic across a concurrent frontier.
type nodeOutcome struct {
	nodeID  string
	success bool
	result  map[string]any
}

// RunWorkflow executes workflowName from __start__ to exhaustion. Each
// frontier is fired concurrently via errgroup; results are only merged
// into the shared context after the entire batch completes (an explicit
// post-batch barrier), so no node in a batch ever observes another
// same-batch node's output.
func (c *Conductor) RunWorkflow(ctx context.Context, workflowName string, input map[string]any) (string, error) {
	if c.execute == nil {
		return "", fmt.Errorf("conductor: no node executor configured")
	}

	w, def, err := c.GetWorkflow(workflowName)
	if err != nil {
		return "", err
	}
	if w == nil {
		return "", fmt.Errorf("conductor: workflow not found: %s", workflowName)
	}

	if input == nil {
		input = map[string]any{}
	}
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("conductor: marshal input: %w", err)
	}

	runID := uuid.NewString()
	if err := c.store.StartWorkflowRun(runID, w.ID, workflowName, "init", string(inputJSON)); err != nil {
		return "", fmt.Errorf("conductor: start run: %w", err)
	}
	c.logDecision(runID, "", "start_run", map[string]any{"workflow_name": workflowName}, "Workflow run started")

	runContext := make(map[string]any, len(input))
	for k, v := range input {
		runContext[k] = v
	}

	nodesByID := make(map[string]Node, len(def.Nodes))
	for _, n := range def.Nodes {
		nodesByID[n.ID] = n
	}
	edgesFrom := buildEdgeIndex(def.Edges)

	completed := make(map[string]bool)
	frontier := dedupe(initialNodes(edgesFrom))

	for len(frontier) > 0 {
		batch := make([]string, 0, len(frontier))
		for _, nodeID := range frontier {
			if nodeID == EndNode || completed[nodeID] {
				continue
			}
			if _, ok := nodesByID[nodeID]; !ok {
				continue
			}
			batch = append(batch, nodeID)
		}
		if len(batch) == 0 {
			break
		}

		outcomes := make([]nodeOutcome, len(batch))
		group, groupCtx := errgroup.WithContext(ctx)
		snapshotContext := make(map[string]any, len(runContext))
		for k, v := range runContext {
			snapshotContext[k] = v
		}

		for i, nodeID := range batch {
			i, nodeID := i, nodeID
			node := nodesByID[nodeID]
			group.Go(func() error {
				success, result := c.executeNode(groupCtx, runID, node, snapshotContext)
				outcomes[i] = nodeOutcome{nodeID: nodeID, success: success, result: result}
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return runID, fmt.Errorf("conductor: batch execution: %w", err)
		}

		var nextBatch []string
		for _, outcome := range outcomes {
			completed[outcome.nodeID] = true
			if outcome.success {
				for k, v := range outcome.result {
					runContext[k] = v
				}
			}
			nextBatch = append(nextBatch, nextNodes(outcome.nodeID, edgesFrom, runContext)...)
		}
		frontier = dedupe(nextBatch)
	}

	contextJSON, err := json.Marshal(runContext)
	if err != nil {
		return runID, fmt.Errorf("conductor: marshal final context: %w", err)
	}
	if err := c.store.UpdateRunContext(runID, string(contextJSON)); err != nil {
		return runID, fmt.Errorf("conductor: update run context: %w", err)
	}
	if err := c.store.UpdateRunStatus(runID, "completed", "", string(contextJSON)); err != nil {
		return runID, fmt.Errorf("conductor: update run status: %w", err)
	}
	return runID, nil
}

// executeNode fires one node against the context snapshot the batch was
// launched with, records its execution, and reports (success, result).
// It never returns an error to the caller's errgroup — a failed node is a
// recorded outcome, not an aborted run.
func (c *Conductor) executeNode(ctx context.Context, runID string, node Node, runContext map[string]any) (bool, map[string]any) {
	prompt := renderPrompt(node.PromptTemplate, runContext)
	execID, err := c.store.RecordNodeStart(runID, node.ID, node.Name, string(node.NodeType), "", prompt, promptHash(prompt))
	if err != nil {
		return false, nil
	}
	c.logDecision(runID, node.ID, "fire_node", map[string]any{
		"node_id": node.ID, "node_name": node.Name, "node_type": string(node.NodeType), "execution_id": execID,
	}, fmt.Sprintf("Started node: %s", node.Name))

	start := time.Now()
	result, err := c.execute(ctx, node, runContext)
	durationMs := time.Since(start).Milliseconds()

	if err != nil {
		_ = c.store.RecordNodeFailure(execID, err.Error(), "exception", durationMs)
		c.logDecision(runID, node.ID, "node_failed", map[string]any{
			"node_id": node.ID, "execution_id": execID, "error_type": "exception", "error_message": err.Error(),
		}, fmt.Sprintf("Node failed: %s", err.Error()))
		return false, nil
	}

	findings, filesModified := extractFindingsAndFiles(result.Data)
	findingsJSON, _ := json.Marshal(findings)
	filesJSON, _ := json.Marshal(filesModified)
	resultJSON, _ := json.Marshal(result.Data)

	if err := c.store.RecordNodeCompletion(execID, result.Text, string(resultJSON), string(findingsJSON), string(filesJSON), durationMs, 0); err != nil {
		return false, nil
	}
	return true, result.Data
}

func extractFindingsAndFiles(data map[string]any) ([]any, []string) {
	var findings []any
	if raw, ok := data["findings"]; ok {
		if list, ok := raw.([]any); ok {
			findings = list
		}
	}
	var files []string
	if raw, ok := data["files_modified"]; ok {
		if list, ok := raw.([]any); ok {
			for _, v := range list {
				if s, ok := v.(string); ok {
					files = append(files, s)
				}
			}
		}
	}
	return findings, files
}
