package fraud

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corewright/substrate/internal/store"
)

func newTestDetector(t *testing.T) (*Detector, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cfg := DefaultConfig()
	cfg.CEOInboxDir = filepath.Join(t.TempDir(), "ceo-inbox")
	return New(s, cfg), s
}

// applyOutcomes drives RecordConfidenceUpdateAndApply n times for a single
// outcome type, bumping the matching times_* counter each call.
func applyOutcomes(t *testing.T, s *store.Store, heuristicID, updateType string, n int, confidence float64) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := s.RecordConfidenceUpdateAndApply(store.ConfidenceUpdateRecord{
			HeuristicID: heuristicID,
			UpdateType:  updateType,
			OldConf:     confidence,
			NewConf:     confidence,
			RawTarget:   confidence,
			AlphaUsed:   0.3,
			Reason:      "test",
		}, "2020-01-01", i+1, 0)
		require.NoError(t, err)
	}
}

func TestDetectSuccessRateAnomalyFlagsHighOutlier(t *testing.T) {
	d, s := newTestDetector(t)

	require.NoError(t, s.UpsertDomainBaseline(store.BaselineUpdate{
		Domain: "git", AvgSuccessRate: 0.30, StdSuccessRate: 0.05, SampleCount: 5,
	}, nil, ""))

	require.NoError(t, s.InsertHeuristic("h-1", "rule", "git", "bootstrap", 0.5))
	applyOutcomes(t, s, "h-1", "success", 10, 0.5)

	h, err := s.GetHeuristicLifecycle("h-1")
	require.NoError(t, err)
	require.Equal(t, 10, h.TotalApplications())

	sig, err := d.detectSuccessRateAnomaly(h)
	require.NoError(t, err)
	require.NotNil(t, sig)
	require.Equal(t, "success_rate_anomaly", sig.Detector)
	require.Equal(t, "high", sig.Severity) // z = (1.0-0.30)/0.05 = 14, well past 3.5
}

func TestDetectSuccessRateAnomalyIgnoresInsufficientApplications(t *testing.T) {
	d, s := newTestDetector(t)
	require.NoError(t, s.UpsertDomainBaseline(store.BaselineUpdate{
		Domain: "git", AvgSuccessRate: 0.30, StdSuccessRate: 0.05, SampleCount: 5,
	}, nil, ""))
	require.NoError(t, s.InsertHeuristic("h-1", "rule", "git", "bootstrap", 0.5))
	applyOutcomes(t, s, "h-1", "success", 1, 0.5)

	h, err := s.GetHeuristicLifecycle("h-1")
	require.NoError(t, err)

	sig, err := d.detectSuccessRateAnomaly(h)
	require.NoError(t, err)
	require.Nil(t, sig)
}

func TestDetectSuccessRateAnomalyIgnoresThinBaseline(t *testing.T) {
	d, s := newTestDetector(t)
	require.NoError(t, s.UpsertDomainBaseline(store.BaselineUpdate{
		Domain: "git", AvgSuccessRate: 0.30, StdSuccessRate: 0.05, SampleCount: 2,
	}, nil, ""))
	require.NoError(t, s.InsertHeuristic("h-1", "rule", "git", "bootstrap", 0.5))
	applyOutcomes(t, s, "h-1", "success", 10, 0.5)

	h, err := s.GetHeuristicLifecycle("h-1")
	require.NoError(t, err)

	sig, err := d.detectSuccessRateAnomaly(h)
	require.NoError(t, err)
	require.Nil(t, sig) // sample_count 2 < 3
}

func TestCombineSignalsBayesianFusion(t *testing.T) {
	signals := []AnomalySignal{
		{Detector: "a", Score: 0.6},
		{Detector: "b", Score: 0.9},
	}
	posterior, combinedLR := CombineSignals(signals, 0.05)
	require.InDelta(t, 64.0, combinedLR, 0.001) // LR is constant 8 per nonzero-score signal
	priorOdds := 0.05 / 0.95
	expectedOdds := priorOdds * 64.0
	require.InDelta(t, expectedOdds/(1+expectedOdds), posterior, 0.0001)
}

func TestClassifyFraudScoreBands(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "clean", ClassifyFraudScore(0.05, nil, cfg))
	require.Equal(t, "suspicious", ClassifyFraudScore(0.25, nil, cfg))
	require.Equal(t, "fraud_likely", ClassifyFraudScore(0.60, nil, cfg))
	require.Equal(t, "fraud_confirmed", ClassifyFraudScore(0.90, nil, cfg))

	overrides := map[string]float64{"suspicious": 0.4}
	require.Equal(t, "clean", ClassifyFraudScore(0.3, overrides, cfg))
	require.Equal(t, "suspicious", ClassifyFraudScore(0.45, overrides, cfg))
}

func TestCreateFraudReportReturnsNilWithoutSignals(t *testing.T) {
	d, s := newTestDetector(t)
	require.NoError(t, s.InsertHeuristic("h-1", "rule", "git", "bootstrap", 0.5))

	report, err := d.CreateFraudReport("h-1")
	require.NoError(t, err)
	require.Nil(t, report)
}

func TestCreateFraudReportPersistsSuspiciousReport(t *testing.T) {
	d, s := newTestDetector(t)
	require.NoError(t, s.UpsertDomainBaseline(store.BaselineUpdate{
		Domain: "git", AvgSuccessRate: 0.30, StdSuccessRate: 0.05, SampleCount: 5,
	}, nil, ""))
	require.NoError(t, s.InsertHeuristic("h-1", "rule", "git", "bootstrap", 0.5))
	applyOutcomes(t, s, "h-1", "success", 10, 0.5)

	report, err := d.CreateFraudReport("h-1")
	require.NoError(t, err)
	require.NotNil(t, report)
	require.Equal(t, "suspicious", report.Classification)
	require.Len(t, report.Signals, 1)

	reports, err := s.RecentFraudReportsForSubject("h-1", 5)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.Equal(t, report.ID, reports[0].ID)

	h, err := s.GetHeuristic("h-1")
	require.NoError(t, err)
	require.NotNil(t, h)

	// Suspicious doesn't cross the alert threshold, so no ceo-inbox file.
	entries, err := os.ReadDir(d.cfg.CEOInboxDir)
	if err == nil {
		require.Empty(t, entries)
	}
}

func TestHandleFraudResponseWritesAlertFile(t *testing.T) {
	d, s := newTestDetector(t)
	require.NoError(t, s.InsertFraudReport(store.FraudReport{
		ID: "fr-1", SubjectID: "h-1", FraudScore: 0.9, Classification: "fraud_confirmed",
	}))

	report := &FraudReport{
		ID: "fr-1", HeuristicID: "h-1", Score: 0.9, Classification: "fraud_confirmed",
		Signals: []AnomalySignal{{Detector: "success_rate_anomaly", Score: 0.8}},
	}
	require.NoError(t, d.handleFraudResponse(report))

	entries, err := os.ReadDir(d.cfg.CEOInboxDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(d.cfg.CEOInboxDir, entries[0].Name()))
	require.NoError(t, err)

	var alert fraudAlert
	require.NoError(t, json.Unmarshal(data, &alert))
	require.Equal(t, "FRAUD_ALERT", alert.Type)
	require.Equal(t, "fr-1", alert.ReportID)
	require.Equal(t, []string{"success_rate_anomaly"}, alert.Signals)
}

func TestRecordOutcomeRejectsInvalidOutcome(t *testing.T) {
	d, _ := newTestDetector(t)
	err := d.RecordOutcome("fr-1", "maybe", "ceo", "")
	require.Error(t, err)
}

func TestRecordOutcomeRoundTrip(t *testing.T) {
	d, s := newTestDetector(t)
	require.NoError(t, s.InsertFraudReport(store.FraudReport{ID: "fr-1", SubjectID: "h-1", FraudScore: 0.7, Classification: "suspicious"}))
	require.NoError(t, d.RecordOutcome("fr-1", "true_positive", "ceo", "confirmed manually"))
}

func TestTrackContextHashesWithoutStoringPlaintext(t *testing.T) {
	d, _ := newTestDetector(t)
	secret := "this is the full plaintext session context that should never be stored verbatim in the database"
	require.NoError(t, d.TrackContext("sess-1", "agent-1", secret, []string{"h-1"}))

	removed, err := d.CleanupOldContexts()
	require.NoError(t, err)
	require.Equal(t, int64(0), removed) // freshly tracked, within retention window
}

func TestClassifyDriftSeverityBands(t *testing.T) {
	require.Equal(t, "low", ClassifyDriftSeverity(10))
	require.Equal(t, "medium", ClassifyDriftSeverity(25))
	require.Equal(t, "high", ClassifyDriftSeverity(40))
	require.Equal(t, "critical", ClassifyDriftSeverity(60))
}

func TestEnforceThresholdOrdering(t *testing.T) {
	sus, likely, confirmed := enforceThresholdOrdering(0.3, 0.25, 0.30)
	require.Equal(t, 0.3, sus)
	require.InDelta(t, 0.40, likely, 0.0001)
	require.InDelta(t, 0.55, confirmed, 0.0001)
}

func TestApplySafetyBounds(t *testing.T) {
	bounded, warning := applySafetyBounds("suspicious", 0.02)
	require.Equal(t, 0.10, bounded)
	require.NotEmpty(t, warning)

	bounded, warning = applySafetyBounds("fraud_confirmed", 0.99)
	require.Equal(t, 0.95, bounded)
	require.NotEmpty(t, warning)

	bounded, warning = applySafetyBounds("fraud_likely", 0.5)
	require.Equal(t, 0.5, bounded)
	require.Empty(t, warning)
}

func seedReviewedSignals(t *testing.T, s *store.Store, detector string, tpScores, fpScores []float64) {
	t.Helper()
	id := 0
	seed := func(score float64, outcome string) {
		id++
		reportID := fmt.Sprintf("fr-%s-%d", detector, id)
		require.NoError(t, s.InsertFraudReport(store.FraudReport{ID: reportID, SubjectID: "h-1", FraudScore: score, Classification: "suspicious"}))
		require.NoError(t, s.RecordAnomalySignal(reportID, detector, score, 8.0, ""))
		require.NoError(t, s.SetReviewOutcome(reportID, outcome, "ceo", ""))
	}
	for _, sc := range tpScores {
		seed(sc, "true_positive")
	}
	for _, sc := range fpScores {
		seed(sc, "false_positive")
	}
}

func TestCalculateOptimalThresholdInsufficientSamples(t *testing.T) {
	d, s := newTestDetector(t)
	seedReviewedSignals(t, s, "success_rate_anomaly", []float64{0.9, 0.8}, []float64{0.2})

	result, err := d.CalculateOptimalThreshold("success_rate_anomaly", 0.05, 30)
	require.NoError(t, err)
	require.NotEmpty(t, result.Error)
}

func TestCalculateOptimalThresholdFindsSeparatingThreshold(t *testing.T) {
	d, s := newTestDetector(t)
	tp := []float64{0.60, 0.65, 0.70, 0.75, 0.80, 0.85, 0.90, 0.60, 0.65, 0.70, 0.75, 0.80}
	fp := []float64{0.10, 0.12, 0.15, 0.18, 0.20, 0.22, 0.25, 0.28, 0.30, 0.32, 0.34, 0.35}
	seedReviewedSignals(t, s, "success_rate_anomaly", tp, fp)

	result, err := d.CalculateOptimalThreshold("success_rate_anomaly", 0.05, 10)
	require.NoError(t, err)
	require.Empty(t, result.Error)
	require.Equal(t, 0.0, result.AchievedFPR)
	require.Equal(t, 1.0, result.AchievedTPR)
	require.InDelta(t, 0.6, result.RecommendedThreshold, 0.0001)
}

func TestRunFullTuningAnalysisSkipsInsufficientSamples(t *testing.T) {
	d, _ := newTestDetector(t)
	results, err := d.RunFullTuningAnalysis(0.05, 30, 50)
	require.NoError(t, err)
	require.Len(t, results, 6) // 3 detectors + 3 classification levels
	for _, r := range results {
		require.NotEmpty(t, r.Error)
	}
}
