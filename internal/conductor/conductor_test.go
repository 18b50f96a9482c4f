package conductor

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corewright/substrate/internal/blackboard"
	"github.com/corewright/substrate/internal/store"
)

func newTestConductor(t *testing.T) (*Conductor, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	board, err := blackboard.Open(t.TempDir())
	require.NoError(t, err)

	return New(s, board, DefaultConfig()), s
}

func TestEvalConditionInOperator(t *testing.T) {
	ctx := map[string]any{"status": "done"}
	require.True(t, evalCondition("'status' in context", ctx))
	require.False(t, evalCondition("'missing' in context", ctx))
	require.True(t, evalCondition("'missing' not in context", ctx))
	require.False(t, evalCondition("'status' not in context", ctx))
}

func TestEvalConditionComparisons(t *testing.T) {
	ctx := map[string]any{"score": 0.8, "name": "alice", "flag": true}
	require.True(t, evalCondition("context.get('score') > 0.5", ctx))
	require.False(t, evalCondition("context.get('score') < 0.5", ctx))
	require.True(t, evalCondition("context['name'] == 'alice'", ctx))
	require.True(t, evalCondition("context.get('flag') == true", ctx))
	require.True(t, evalCondition("context.get('missing') == none", ctx))
}

func TestEvalConditionEmptyAlwaysTrue(t *testing.T) {
	require.True(t, evalCondition("", map[string]any{}))
	require.True(t, evalCondition("   ", map[string]any{}))
}

func TestEvalConditionUnrecognizedFalse(t *testing.T) {
	require.False(t, evalCondition("1 + 1 == 2", map[string]any{}))
	require.False(t, evalCondition("__import__('os')", map[string]any{}))
}

func TestCreateAndGetWorkflow(t *testing.T) {
	c, _ := newTestConductor(t)

	def := Definition{
		Nodes: []Node{{ID: "a", Name: "A", NodeType: NodeSingle, PromptTemplate: "do a"}},
		Edges: []Edge{{FromNode: StartNode, ToNode: "a"}, {FromNode: "a", ToNode: EndNode}},
	}
	id, err := c.CreateWorkflow("simple", "a trivial workflow", def)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	w, got, err := c.GetWorkflow("simple")
	require.NoError(t, err)
	require.Equal(t, id, w.ID)
	require.Len(t, got.Nodes, 1)
	require.Len(t, got.Edges, 2)
}

func TestRunWorkflowSequentialChain(t *testing.T) {
	c, _ := newTestConductor(t)

	def := Definition{
		Nodes: []Node{
			{ID: "fetch", Name: "Fetch", NodeType: NodeSingle, PromptTemplate: "fetch {task}"},
			{ID: "summarize", Name: "Summarize", NodeType: NodeSingle, PromptTemplate: "summarize"},
		},
		Edges: []Edge{
			{FromNode: StartNode, ToNode: "fetch"},
			{FromNode: "fetch", ToNode: "summarize", Condition: "'fetched' in context"},
			{FromNode: "summarize", ToNode: EndNode},
		},
	}
	_, err := c.CreateWorkflow("chain", "", def)
	require.NoError(t, err)

	var order []string
	var mu sync.Mutex
	c.SetNodeExecutor(func(ctx context.Context, node Node, runCtx map[string]any) (ExecResult, error) {
		mu.Lock()
		order = append(order, node.ID)
		mu.Unlock()
		switch node.ID {
		case "fetch":
			return ExecResult{Text: "fetched content", Data: map[string]any{"fetched": true}}, nil
		default:
			return ExecResult{Text: "summary", Data: map[string]any{"summarized": true}}, nil
		}
	})

	runID, err := c.RunWorkflow(context.Background(), "chain", map[string]any{"task": "report"})
	require.NoError(t, err)
	require.Equal(t, []string{"fetch", "summarize"}, order)

	run, ctx, err := c.GetRun(runID)
	require.NoError(t, err)
	require.Equal(t, "completed", run.Status)
	require.Equal(t, 2, run.CompletedNodes)
	require.Equal(t, true, ctx["fetched"])
	require.Equal(t, true, ctx["summarized"])

	execs, err := c.GetNodeExecutions(runID)
	require.NoError(t, err)
	require.Len(t, execs, 2)

	decisions, err := c.GetDecisions(runID)
	require.NoError(t, err)
	require.NotEmpty(t, decisions)
}

func TestRunWorkflowFiresParallelBatchConcurrently(t *testing.T) {
	c, _ := newTestConductor(t)

	def := Definition{
		Nodes: []Node{
			{ID: "a", Name: "A", NodeType: NodeParallel, PromptTemplate: "a"},
			{ID: "b", Name: "B", NodeType: NodeParallel, PromptTemplate: "b"},
		},
		Edges: []Edge{
			{FromNode: StartNode, ToNode: "a"},
			{FromNode: StartNode, ToNode: "b"},
			{FromNode: "a", ToNode: EndNode},
			{FromNode: "b", ToNode: EndNode},
		},
	}
	_, err := c.CreateWorkflow("fanout", "", def)
	require.NoError(t, err)

	var inFlight int32
	var maxInFlight int32
	release := make(chan struct{})
	var once sync.Once

	c.SetNodeExecutor(func(ctx context.Context, node Node, runCtx map[string]any) (ExecResult, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&maxInFlight)
			if n <= old || atomic.CompareAndSwapInt32(&maxInFlight, old, n) {
				break
			}
		}
		if n == 2 {
			once.Do(func() { close(release) })
		}
		<-release
		atomic.AddInt32(&inFlight, -1)
		return ExecResult{Text: node.ID, Data: map[string]any{node.ID: true}}, nil
	})

	runID, err := c.RunWorkflow(context.Background(), "fanout", nil)
	require.NoError(t, err)
	require.Equal(t, int32(2), maxInFlight)

	_, ctx, err := c.GetRun(runID)
	require.NoError(t, err)
	require.Equal(t, true, ctx["a"])
	require.Equal(t, true, ctx["b"])
}

func TestRunWorkflowRecordsNodeFailure(t *testing.T) {
	c, _ := newTestConductor(t)

	def := Definition{
		Nodes: []Node{{ID: "a", Name: "A", NodeType: NodeSingle, PromptTemplate: "a"}},
		Edges: []Edge{{FromNode: StartNode, ToNode: "a"}, {FromNode: "a", ToNode: EndNode}},
	}
	_, err := c.CreateWorkflow("failing", "", def)
	require.NoError(t, err)

	c.SetNodeExecutor(func(ctx context.Context, node Node, runCtx map[string]any) (ExecResult, error) {
		return ExecResult{}, fmt.Errorf("boom")
	})

	runID, err := c.RunWorkflow(context.Background(), "failing", nil)
	require.NoError(t, err)

	run, _, err := c.GetRun(runID)
	require.NoError(t, err)
	require.Equal(t, 1, run.FailedNodes)

	execs, err := c.GetNodeExecutions(runID)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	require.Equal(t, "failed", execs[0].Status)
	require.Equal(t, "exception", execs[0].ErrorType)
}

func TestTrailsLayDecayAndHotSpots(t *testing.T) {
	c, _ := newTestConductor(t)

	require.NoError(t, c.LayTrail("run-1", "pkg/foo.go", "discovery", 1.0, "agent-1", "", "found a bug", []string{"bug"}, 0))
	require.NoError(t, c.LayTrail("run-1", "pkg/foo.go", "warning", 0.8, "agent-2", "", "", nil, 0))

	spots, err := c.GetHotSpots("run-1", 10)
	require.NoError(t, err)
	require.Len(t, spots, 1)
	require.InDelta(t, 1.8, spots[0].TotalStrength, 0.0001)

	require.NoError(t, c.DecayTrails(0.5))
	trails, err := c.GetTrails(store.GetTrailsFilter{RunID: "run-1"})
	require.NoError(t, err)
	require.Len(t, trails, 2)
	for _, tr := range trails {
		require.Less(t, tr.Strength, 1.0)
	}
}

func TestSyncFindingsAndTrailsToBlackboardBestEffort(t *testing.T) {
	c, s := newTestConductor(t)

	execID, err := s.RecordNodeStart("run-1", "a", "A", "single", "agent-1", "prompt", "hash")
	require.NoError(t, err)
	require.NoError(t, s.RecordNodeCompletion(execID, "done", "{}",
		`[{"type":"bug","content":"found it","importance":"high","tags":["x"]}]`, "[]", 10, 0))

	require.NoError(t, c.LayTrail("run-1", "pkg/foo.go", "discovery", 1.0, "", "", "", nil, 0))

	ctx := context.Background()
	c.SyncFindingsToBlackboard(ctx, "run-1")
	c.SyncTrailsToBlackboard(ctx, "run-1")
}
