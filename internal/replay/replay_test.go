package replay

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/corewright/substrate/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return New(s), s
}

func seedRun(t *testing.T, s *store.Store) string {
	t.Helper()
	runID := uuid.NewString()
	require.NoError(t, s.StartWorkflowRun(runID, "wf-1", "demo", "init", `{"seed":"value"}`))
	return runID
}

func TestGetRunInfoMissingReturnsNil(t *testing.T) {
	m, _ := newTestManager(t)
	info, err := m.GetRunInfo(uuid.NewString())
	require.NoError(t, err)
	require.Nil(t, info)
}

func TestGetFailedNodesAndRetry(t *testing.T) {
	m, s := newTestManager(t)
	runID := seedRun(t, s)

	okID, err := s.RecordNodeStart(runID, "fetch", "Fetch", "single", "", "do the fetch", "hash1")
	require.NoError(t, err)
	require.NoError(t, s.RecordNodeCompletion(okID, "done", `{"fetched":true}`, "[]", "[]", 10, 5))

	failID, err := s.RecordNodeStart(runID, "process", "Process", "single", "", "do the processing", "hash2")
	require.NoError(t, err)
	require.NoError(t, s.RecordNodeFailure(failID, "boom", "exception", 20))

	failed, err := m.GetFailedNodes(runID)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, "process", failed[0].NodeID)

	dry, err := m.RetryFailedNodes(runID, true)
	require.NoError(t, err)
	require.True(t, dry.DryRun)
	require.Empty(t, dry.NewRunID)
	require.Len(t, dry.Nodes, 1)

	live, err := m.RetryFailedNodes(runID, false)
	require.NoError(t, err)
	require.NotEmpty(t, live.NewRunID)

	newExecs, err := s.NodeExecutionsForRun(live.NewRunID)
	require.NoError(t, err)
	require.Len(t, newExecs, 1)
	require.Equal(t, "pending", newExecs[0].Status)
	require.Equal(t, "process", newExecs[0].NodeID)
}

func TestCreateReplayRunMergesContextUpToFromNode(t *testing.T) {
	m, s := newTestManager(t)
	runID := seedRun(t, s)

	fetchID, err := s.RecordNodeStart(runID, "fetch", "Fetch", "single", "", "p", "h1")
	require.NoError(t, err)
	require.NoError(t, s.RecordNodeCompletion(fetchID, "", `{"fetched":true}`, "[]", "[]", 1, 1))

	summarizeID, err := s.RecordNodeStart(runID, "summarize", "Summarize", "single", "", "p", "h2")
	require.NoError(t, err)
	require.NoError(t, s.RecordNodeCompletion(summarizeID, "", `{"summary":"done"}`, "[]", "[]", 1, 1))

	newRunID, err := m.CreateReplayRun(runID, "summarize", true)
	require.NoError(t, err)

	newRun, err := s.GetRun(newRunID)
	require.NoError(t, err)
	require.Contains(t, newRun.InputJSON, "fetched")
	require.NotContains(t, newRun.InputJSON, "summary")

	decisions, err := s.GetDecisions(newRunID)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	require.Equal(t, "replay", decisions[0].DecisionType)
}

func TestGetReplayPlanSplitsSkipAndReplay(t *testing.T) {
	m, s := newTestManager(t)
	runID := seedRun(t, s)

	fetchID, err := s.RecordNodeStart(runID, "fetch", "Fetch", "single", "", "p", "h1")
	require.NoError(t, err)
	require.NoError(t, s.RecordNodeCompletion(fetchID, "", `{"fetched":true}`, "[]", "[]", 1, 1))

	summarizeID, err := s.RecordNodeStart(runID, "summarize", "Summarize", "single", "", "p", "h2")
	require.NoError(t, err)
	require.NoError(t, s.RecordNodeFailure(summarizeID, "boom", "exception", 5))

	plan, err := m.GetReplayPlan(runID, "summarize")
	require.NoError(t, err)
	require.Len(t, plan.NodesToSkip, 1)
	require.Len(t, plan.NodesToReplay, 1)
	require.Equal(t, "fetch", plan.NodesToSkip[0].NodeID)
	require.Equal(t, true, plan.ContextAtStart["fetched"])
}

func TestResetNodeRoundTrips(t *testing.T) {
	m, s := newTestManager(t)
	runID := seedRun(t, s)

	execID, err := s.RecordNodeStart(runID, "fetch", "Fetch", "single", "", "p", "h1")
	require.NoError(t, err)
	require.NoError(t, s.RecordNodeFailure(execID, "boom", "exception", 5))

	ok, err := m.ResetNode(runID, "fetch")
	require.NoError(t, err)
	require.True(t, ok)

	execs, err := s.NodeExecutionsForRun(runID)
	require.NoError(t, err)
	require.Equal(t, "pending", execs[0].Status)
	require.Equal(t, 1, execs[0].RetryCount)

	missing, err := m.ResetNode(runID, "nonexistent")
	require.NoError(t, err)
	require.False(t, missing)
}

func TestCloneRunMergesModifications(t *testing.T) {
	m, s := newTestManager(t)
	runID := seedRun(t, s)

	newRunID, err := m.CloneRun(runID, CloneModifications{Input: map[string]any{"extra": "field"}})
	require.NoError(t, err)

	newRun, err := s.GetRun(newRunID)
	require.NoError(t, err)
	require.Contains(t, newRun.InputJSON, "seed")
	require.Contains(t, newRun.InputJSON, "extra")
}
