package stepflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleManifest = `
name: rollout
description: staged rollout of a config change
steps:
  - number: 1
    file: steps/step-01-prepare.md
    title: Prepare
  - number: 2
    file: steps/step-02-apply.md
    title: Apply
  - number: 3
    file: steps/step-03-verify.md
    title: Verify
`

func newTestWorkflowDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "workflow.yaml"), []byte(sampleManifest), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "steps"), 0o755))
	return dir
}

func TestLoadFreshWorkflowIsPending(t *testing.T) {
	dir := newTestWorkflowDir(t)
	e, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, StatusPending, e.State().WorkflowStatus)
	require.Len(t, e.Definition().Steps, 3)
	require.False(t, e.CanResume())
}

func TestStartSetsFirstStepAndPersists(t *testing.T) {
	dir := newTestWorkflowDir(t)
	e, err := Load(dir)
	require.NoError(t, err)
	require.NoError(t, e.Start())
	require.Equal(t, StatusInProgress, e.State().WorkflowStatus)
	require.Equal(t, 1, e.State().CurrentStep)

	reloaded, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, reloaded.State().WorkflowStatus)
	require.Equal(t, 1, reloaded.State().CurrentStep)
}

func TestCompleteStepAdvancesAndChecksPoints(t *testing.T) {
	dir := newTestWorkflowDir(t)
	e, err := Load(dir)
	require.NoError(t, err)
	require.NoError(t, e.Start())

	require.NoError(t, e.CompleteStep(1, "prepared fine"))
	require.Equal(t, 2, e.State().CurrentStep)
	require.Equal(t, []int{1}, e.State().StepsCompleted)
	require.Len(t, e.State().Checkpoints, 1)

	require.NoError(t, e.CompleteStep(2, ""))
	require.NoError(t, e.CompleteStep(3, "verified"))
	require.Equal(t, StatusCompleted, e.State().WorkflowStatus)
	require.Equal(t, 0, e.State().CurrentStep)
}

func TestPauseAndResume(t *testing.T) {
	dir := newTestWorkflowDir(t)
	e, err := Load(dir)
	require.NoError(t, err)
	require.NoError(t, e.Start())
	require.NoError(t, e.CompleteStep(1, ""))

	require.NoError(t, e.Pause("waiting on approval"))
	require.Equal(t, StatusPaused, e.State().WorkflowStatus)
	require.True(t, e.CanResume())

	require.NoError(t, e.Resume(0))
	require.Equal(t, StatusInProgress, e.State().WorkflowStatus)
	require.Equal(t, 2, e.State().CurrentStep)
}

func TestResumeFromExplicitStep(t *testing.T) {
	dir := newTestWorkflowDir(t)
	e, err := Load(dir)
	require.NoError(t, err)
	require.NoError(t, e.Start())
	require.NoError(t, e.Pause("pausing before any work"))

	require.NoError(t, e.Resume(2))
	require.Equal(t, 2, e.State().CurrentStep)
}

func TestCannotStartTwice(t *testing.T) {
	dir := newTestWorkflowDir(t)
	e, err := Load(dir)
	require.NoError(t, err)
	require.NoError(t, e.Start())
	require.Error(t, e.Start())
}

func TestCannotCompleteStepWhenNotInProgress(t *testing.T) {
	dir := newTestWorkflowDir(t)
	e, err := Load(dir)
	require.NoError(t, err)
	require.Error(t, e.CompleteStep(1, ""))
}
