package contextbuilder

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/corewright/substrate/internal/metaobserver"
	"github.com/corewright/substrate/internal/store"
	"github.com/stretchr/testify/require"
)

func TestLimitsForDepth(t *testing.T) {
	min := limitsForDepth(DepthMinimal)
	require.Equal(t, 0, min.heuristics)
	require.Equal(t, 0, min.learnings)

	std := limitsForDepth(DepthStandard)
	require.Equal(t, 10, std.heuristics)
	require.Equal(t, 5, std.decisions)
	require.Equal(t, 100, std.summaryTruncate)

	deep := limitsForDepth(DepthDeep)
	require.Equal(t, 25, deep.heuristics)
	require.Equal(t, 10, deep.decisions)
	require.Equal(t, 200, deep.summaryTruncate)
}

func TestRelevanceScoreRecencyAndBoosts(t *testing.T) {
	fresh := relevanceScore(0, "auth", "auth", 0)
	stale := relevanceScore(30, "auth", "auth", 0)
	require.Greater(t, fresh, stale)

	domainMatch := relevanceScore(0, "auth", "auth", 0)
	domainMiss := relevanceScore(0, "billing", "auth", 0)
	require.Greater(t, domainMatch, domainMiss)

	validated := relevanceScore(0, "auth", "auth", 15)
	require.LessOrEqual(t, validated, 1.0)
}

func TestJaccardSimilarity(t *testing.T) {
	a := keywordSet("database connection timeout during migration")
	b := keywordSet("migration failed due to connection timeout")
	sim, shared := jaccardSimilarity(a, b)
	require.Greater(t, sim, 0.3)
	require.NotEmpty(t, shared)

	empty := keywordSet("")
	sim2, _ := jaccardSimilarity(a, empty)
	require.Equal(t, 0.0, sim2)
}

func TestReadGoldenRulesMissingFile(t *testing.T) {
	got := readGoldenRules(filepath.Join(t.TempDir(), "missing.md"), nil)
	require.Contains(t, got, "No golden rules")
}

func TestFilterGoldenRulesByCategoryKeepsOnlyMatchingRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "golden-rules.md")
	content := "# Golden Rules\n\n" +
		"## 1. Always verify before committing\n**Category:** core\nNever push unverified work.\n\n" +
		"## 2. Use feature branches\n**Category:** git\nDo not commit to main directly.\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	got := readGoldenRules(path, []string{"core"})
	require.Contains(t, got, "Always verify before committing")
	require.NotContains(t, got, "Use feature branches")
	require.Contains(t, got, "Filtered to categories: core")
}

func TestReadCustomGoldenRulesMissingIsEmpty(t *testing.T) {
	require.Equal(t, "", readCustomGoldenRules(""))
	require.Equal(t, "", readCustomGoldenRules(filepath.Join(t.TempDir(), "missing.md")))
}

func TestDetectProjectContextMissing(t *testing.T) {
	require.Nil(t, detectProjectContext(""))
	require.Nil(t, detectProjectContext(t.TempDir()))
}

func newTestBuilder(t *testing.T) (*Builder, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	observer := metaobserver.New(s, metaobserver.DefaultConfig())
	return New(s, observer, DefaultConfig()), s
}

func TestBuildContextMinimalDepthReturnsGoldenRulesOnly(t *testing.T) {
	b, _ := newTestBuilder(t)
	out, err := b.BuildContext(context.Background(), Request{
		Task:  "investigate timeout",
		Depth: DepthMinimal,
	})
	require.NoError(t, err)
	require.Contains(t, out, "Golden Rules")
	require.NotContains(t, out, "Domain Heuristics")
}

func TestBuildContextStandardDepthIncludesAllTiers(t *testing.T) {
	b, s := newTestBuilder(t)

	require.NoError(t, s.InsertLearning(store.Learning{
		ID: "learn-1", Type: "failure", Title: "connection timeout during migration",
		Summary: "database connection timeout during migration", Domain: "billing", Severity: 3,
	}))
	require.NoError(t, s.InsertDecision(store.Decision{
		ID: "dec-1", Title: "use connection pooling", Decision: "adopt pgbouncer",
		Rationale: "reduces timeout churn", Status: "accepted", Domain: "billing",
	}))
	require.NoError(t, s.InsertInvariant(store.Invariant{
		ID: "inv-1", Statement: "connections must be released within 30s",
		Domain: "billing", Severity: "high",
	}))
	require.NoError(t, s.InsertAssumption(store.Assumption{
		ID: "asm-1", Statement: "pool size of 20 is sufficient", Domain: "billing",
	}))

	out, err := b.BuildContext(context.Background(), Request{
		Task:   "fix connection timeout during migration",
		Domain: "billing",
		Depth:  DepthStandard,
	})
	require.NoError(t, err)
	require.Contains(t, out, "Golden Rules")
	require.Contains(t, out, "Architecture Decisions")
	require.Contains(t, out, "Invariants")
	require.Contains(t, out, "Active Assumptions")
	require.Contains(t, out, "Similar Past Failures")

	logs, err := s.QueryVolumeSince(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, logs)
}

func TestBuildContextRespectsContextCancellation(t *testing.T) {
	b, _ := newTestBuilder(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.BuildContext(ctx, Request{Task: "anything"})
	require.Error(t, err)
}
