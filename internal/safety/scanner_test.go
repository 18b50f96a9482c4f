package safety

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corewright/substrate/internal/store"
)

func TestAnalyzeEditFlagsNewRiskyLines(t *testing.T) {
	s := New(nil)
	old := "def handler():\n    pass\n"
	new := "def handler():\n    pass\n\nresult = eval(user_input)\n"

	res := s.AnalyzeEdit(old, new)
	require.True(t, res.HasWarnings)
	require.Len(t, res.Warnings, 1)
	require.Equal(t, "code_injection", res.Warnings[0].Category)
}

func TestAnalyzeEditIgnoresPreexistingLines(t *testing.T) {
	s := New(nil)
	old := "result = eval(x)\n"
	new := "result = eval(x)\n# still here\n"

	res := s.AnalyzeEdit(old, new)
	require.False(t, res.HasWarnings)
}

func TestAnalyzeEditIgnoresCommentedOutRiskyCode(t *testing.T) {
	s := New(nil)
	old := ""
	new := "# result = eval(x)\n// result = eval(x)\n"

	res := s.AnalyzeEdit(old, new)
	require.False(t, res.HasWarnings)
}

func TestAnalyzeEditDetectsCredentialAndNetworkPatterns(t *testing.T) {
	s := New(nil)
	new := `password = "hunter2"
requests.get(url, verify=False)
chmod 777 /tmp/data
`
	res := s.AnalyzeEdit("", new)
	require.True(t, res.HasWarnings)

	var categories []string
	for _, w := range res.Warnings {
		categories = append(categories, w.Category)
	}
	require.Contains(t, categories, "credentials")
	require.Contains(t, categories, "network")
	require.Contains(t, categories, "permissions")
}

func TestRecommendationEscalatesAtThreeWarnings(t *testing.T) {
	s := New(nil)
	new := "eval(a)\nexec(b)\nos.system(c)\n"
	res := s.AnalyzeEdit("", new)
	require.GreaterOrEqual(t, len(res.Warnings), 3)
	require.Contains(t, res.Recommendation, "escalation")
}

func TestLogAdvisoryWarningsPersistsMetrics(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	s := New(db)

	res := s.AnalyzeEdit("", "eval(x)\n")
	require.True(t, res.HasWarnings)
	s.LogAdvisoryWarnings("handler.py", res)

	n, err := db.TotalObservationCount()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
