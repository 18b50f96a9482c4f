package lifecycle

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corewright/substrate/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, DefaultConfig()), s
}

func TestUpdateConfidenceSuccessDiminishesAtHighConfidence(t *testing.T) {
	m, s := newTestManager(t)
	require.NoError(t, s.InsertHeuristic("h1", "always check error returns", "go", "test", 0.5))

	result, err := m.UpdateConfidence("h1", UpdateSuccess, "validated", "", true)
	require.NoError(t, err)
	require.True(t, result.Applied)
	require.InDelta(t, 0.55, result.RawTarget, 0.001) // 0.5 + 0.1*(1-0.5)
	require.Greater(t, result.NewConfidence, 0.5)
	require.Equal(t, 0.30, result.Alpha) // warmup phase
}

func TestUpdateConfidenceFailureIsSymmetric(t *testing.T) {
	m, s := newTestManager(t)
	require.NoError(t, s.InsertHeuristic("h1", "rule", "go", "test", 0.5))

	result, err := m.UpdateConfidence("h1", UpdateFailure, "violated", "", true)
	require.NoError(t, err)
	require.InDelta(t, 0.45, result.RawTarget, 0.001) // 0.5 - 0.1*0.5
	require.Less(t, result.NewConfidence, 0.5)
}

func TestUpdateConfidenceRateLimitedWithoutForce(t *testing.T) {
	m, s := newTestManager(t)
	require.NoError(t, s.InsertHeuristic("h1", "rule", "go", "test", 0.5))

	first, err := m.UpdateConfidence("h1", UpdateSuccess, "v1", "", false)
	require.NoError(t, err)
	require.True(t, first.Applied)

	second, err := m.UpdateConfidence("h1", UpdateSuccess, "v2", "", false)
	require.NoError(t, err)
	require.False(t, second.Applied)
	require.True(t, second.RateLimited)
}

func TestUpdateConfidenceDecayBypassesEMA(t *testing.T) {
	m, s := newTestManager(t)
	require.NoError(t, s.InsertHeuristic("h1", "rule", "go", "test", 0.5))

	result, err := m.UpdateConfidence("h1", UpdateDecay, "idle", "", true)
	require.NoError(t, err)
	require.InDelta(t, 0.46, result.NewConfidence, 0.001) // 0.5 * 0.92
	require.Equal(t, 1.0, result.Alpha)
}

func TestCheckDeprecationThresholdRequiresMinimumApplications(t *testing.T) {
	m, s := newTestManager(t)
	require.NoError(t, s.InsertHeuristic("h1", "rule", "go", "test", 0.5))

	check, err := m.CheckDeprecationThreshold("h1")
	require.NoError(t, err)
	require.False(t, check.ShouldDeprecate)
	require.Contains(t, check.Reason, "insufficient applications")
}

func TestMakeDormantAndRevive(t *testing.T) {
	m, s := newTestManager(t)
	require.NoError(t, s.InsertHeuristic("h1", "always validate database transactions", "go", "test", 0.6))

	require.NoError(t, m.MakeDormant("h1"))

	h, err := s.GetHeuristicLifecycle("h1")
	require.NoError(t, err)
	require.Equal(t, "dormant", h.Status)

	revive, err := m.ReviveHeuristic("h1")
	require.NoError(t, err)
	require.True(t, revive.Applied)
	require.GreaterOrEqual(t, revive.NewConfidence, 0.35)

	h, err = s.GetHeuristicLifecycle("h1")
	require.NoError(t, err)
	require.Equal(t, "active", h.Status)
}

func TestReviveHeuristicRejectsNonDormant(t *testing.T) {
	m, s := newTestManager(t)
	require.NoError(t, s.InsertHeuristic("h1", "rule", "go", "test", 0.5))

	result, err := m.ReviveHeuristic("h1")
	require.NoError(t, err)
	require.False(t, result.Applied)
	require.Contains(t, result.Reason, "not dormant")
}

func TestCheckRevivalTriggersMatchesKeyword(t *testing.T) {
	m, s := newTestManager(t)
	require.NoError(t, s.InsertHeuristic("h1", "always validate database transactions before commit", "go", "test", 0.6))
	require.NoError(t, m.MakeDormant("h1"))

	candidates, err := m.CheckRevivalTriggers("reviewing the database transaction handling code")
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
}

func TestNoveltyScoreIsOneForFirstHeuristicInDomain(t *testing.T) {
	m, _ := newTestManager(t)
	score, err := m.NoveltyScore("go", "always check errors")
	require.NoError(t, err)
	require.Equal(t, 1.0, score)
}

func TestNoveltyScoreIsLowForDuplicateStatement(t *testing.T) {
	m, s := newTestManager(t)
	require.NoError(t, s.InsertHeuristic("h1", "always check returned error values immediately", "go", "test", 0.7))

	score, err := m.NoveltyScore("go", "always check returned error values immediately")
	require.NoError(t, err)
	require.Less(t, score, 0.2)
}

func TestEnforceDomainLimitsDemotesLowestScoring(t *testing.T) {
	m, s := newTestManager(t)
	for i := 0; i < 12; i++ {
		id := "h" + string(rune('a'+i))
		require.NoError(t, s.InsertHeuristic(id, "rule about topic "+id, "go", "test", 0.3+float64(i)*0.01))
	}

	result, err := m.EnforceDomainLimits("go")
	require.NoError(t, err)
	require.Equal(t, "demoted_to_dormant", result.Action)
	require.Equal(t, 2, result.DemotedCount)
	require.Equal(t, 10, result.ActiveCount)
}

func TestFindMergeCandidatesRequiresSimilarity(t *testing.T) {
	m, s := newTestManager(t)
	require.NoError(t, s.InsertHeuristic("h1", "always validate input before processing requests", "go", "test", 0.6))
	require.NoError(t, s.InsertHeuristic("h2", "always validate input before processing http requests", "go", "test", 0.6))
	require.NoError(t, s.InsertHeuristic("h3", "never commit secrets to version control", "go", "test", 0.6))

	candidates, err := m.FindMergeCandidates("go")
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	require.Equal(t, [2]string{"h1", "h2"}, candidates[0].IDs)
}

func TestMergeHeuristicsCombinesCounts(t *testing.T) {
	m, s := newTestManager(t)
	require.NoError(t, s.InsertHeuristic("h1", "rule one", "go", "test", 0.6))
	require.NoError(t, s.InsertHeuristic("h2", "rule two", "go", "test", 0.8))
	_, err := s.DB().Exec(`UPDATE heuristics SET times_validated = 4 WHERE id = 'h1'`)
	require.NoError(t, err)
	_, err = s.DB().Exec(`UPDATE heuristics SET times_validated = 6 WHERE id = 'h2'`)
	require.NoError(t, err)

	result, err := m.MergeHeuristics("merged-1", []string{"h1", "h2"}, "[merged]", "test", "similar", 0.5)
	require.NoError(t, err)
	require.True(t, result.Applied)
	require.Equal(t, 1, result.SpaceSaved)

	merged, err := s.GetHeuristicLifecycle("merged-1")
	require.NoError(t, err)
	require.Equal(t, 10, merged.TimesValidated)
	require.InDelta(t, 0.72, merged.Confidence, 0.001) // (0.6*4 + 0.8*6) / 10

	h1, err := s.GetHeuristicLifecycle("h1")
	require.NoError(t, err)
	require.Equal(t, "archived", h1.Status)
}

func TestRunMaintenanceReportsEmptyWhenNothingStale(t *testing.T) {
	m, s := newTestManager(t)
	require.NoError(t, s.InsertHeuristic("h1", "rule", "go", "test", 0.6))

	report, err := m.RunMaintenance()
	require.NoError(t, err)
	require.Equal(t, 0, report.DecayedCount)
	require.Empty(t, report.Archived)
}
