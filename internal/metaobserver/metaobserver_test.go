package metaobserver

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corewright/substrate/internal/store"
)

func newTestObserver(t *testing.T) (*Observer, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, DefaultConfig()), s
}

// seedObservations inserts n observations for metricName spaced apart hours
// apart, ending at "now" minus endOffsetHours, with the given values (or a
// flat 1.0 if values is nil).
func seedObservations(t *testing.T, s *store.Store, metricName string, n int, spacingHours, endOffsetHours float64, domain string, values []float64) {
	t.Helper()
	now := time.Now().UTC()
	for i := 0; i < n; i++ {
		ts := now.Add(-time.Duration((float64(n-1-i)*spacingHours+endOffsetHours)*float64(time.Hour)))
		value := 1.0
		if values != nil {
			value = values[i]
		}
		_, err := s.DB().Exec(`
			INSERT INTO metric_observations (metric_name, value, domain, observed_at)
			VALUES (?, ?, ?, ?)`, metricName, value, domain, ts.Format("2006-01-02 15:04:05.000000"))
		require.NoError(t, err)
	}
}

func TestCalculateTrendInsufficientData(t *testing.T) {
	o, s := newTestObserver(t)
	seedObservations(t, s, "avg_confidence", 5, 1, 0, "", nil)

	result, err := o.CalculateTrend("avg_confidence", 168, "", 0)
	require.NoError(t, err)
	require.Equal(t, "low", result.Confidence)
	require.Equal(t, "insufficient_data", result.Reason)
}

func TestCalculateTrendInsufficientTimeSpread(t *testing.T) {
	o, s := newTestObserver(t)
	// 15 samples all within the same minute, queried over a 168h window.
	values := make([]float64, 15)
	for i := range values {
		values[i] = float64(i)
	}
	seedObservations(t, s, "avg_confidence", 15, 0, 0, "", values)

	result, err := o.CalculateTrend("avg_confidence", 168, "", 0)
	require.NoError(t, err)
	require.Equal(t, "low", result.Confidence)
	require.Equal(t, "insufficient_time_spread", result.Reason)
}

func TestCalculateTrendDetectsDecreasingDirection(t *testing.T) {
	o, s := newTestObserver(t)
	n := 20
	values := make([]float64, n)
	for i := range values {
		values[i] = 1.0 - float64(i)*0.02 // steadily decreasing
	}
	seedObservations(t, s, "avg_confidence", n, 5, 0, "", values)

	result, err := o.CalculateTrend("avg_confidence", 168, "", 0)
	require.NoError(t, err)
	require.Empty(t, result.Reason)
	require.Equal(t, "decreasing", result.Direction)
	require.Less(t, result.Slope, 0.0)
	require.Equal(t, "high", result.Confidence)
}

func TestCalculateTrendStableWhenFlat(t *testing.T) {
	o, s := newTestObserver(t)
	n := 20
	values := make([]float64, n)
	for i := range values {
		if i%2 == 0 {
			values[i] = 0.48
		} else {
			values[i] = 0.52
		}
	}
	seedObservations(t, s, "avg_confidence", n, 5, 0, "", values)

	result, err := o.CalculateTrend("avg_confidence", 168, "", 0)
	require.NoError(t, err)
	require.Equal(t, "stable", result.Direction)
}

func TestDetectAnomalyInsufficientBaseline(t *testing.T) {
	o, s := newTestObserver(t)
	seedObservations(t, s, "contradiction_rate", 10, 1, 25, "", nil)

	result, err := o.DetectAnomaly("contradiction_rate", 720, 24, "")
	require.NoError(t, err)
	require.Equal(t, "insufficient_baseline", result.Reason)
}

func TestDetectAnomalyFlagsSpike(t *testing.T) {
	o, s := newTestObserver(t)

	baseline := make([]float64, 40)
	for i := range baseline {
		if i%2 == 0 {
			baseline[i] = 0.04
		} else {
			baseline[i] = 0.06
		}
	}
	seedObservations(t, s, "contradiction_rate", 40, 12, 25, "", baseline)

	seedObservations(t, s, "contradiction_rate", 3, 1, 0, "", []float64{0.5, 0.5, 0.5})

	result, err := o.DetectAnomaly("contradiction_rate", 720, 24, "")
	require.NoError(t, err)
	require.True(t, result.IsAnomaly)
	require.Contains(t, []string{"warning", "critical"}, result.Severity)
}

func TestCreateAlertDeduplicatesByTypeAndMetric(t *testing.T) {
	o, _ := newTestObserver(t)

	first, err := o.CreateAlert("contradiction_spike", "warning", "first", "contradiction_rate", nil, nil, nil)
	require.NoError(t, err)

	second, err := o.CreateAlert("contradiction_spike", "critical", "second", "contradiction_rate", nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, first, second)

	alerts, err := o.GetActiveAlerts("")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, "second", alerts[0].Message)
}

func TestAlertStateMachine(t *testing.T) {
	o, _ := newTestObserver(t)
	id, err := o.CreateAlert("activity_decline", "info", "dropped", "validation_velocity", nil, nil, nil)
	require.NoError(t, err)

	ok, err := o.AcknowledgeAlert(id)
	require.NoError(t, err)
	require.True(t, ok)

	active, err := o.GetActiveAlerts("")
	require.NoError(t, err)
	require.Empty(t, active)

	ok, err = o.ResolveAlert(id)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = o.ResolveAlert(id)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCheckAlertsReturnsBootstrapSignalBelowThreshold(t *testing.T) {
	o, s := newTestObserver(t)
	seedObservations(t, s, "avg_confidence", 5, 1, 0, "", nil)

	triggered, err := o.CheckAlerts()
	require.NoError(t, err)
	require.Len(t, triggered, 1)
	require.Equal(t, "bootstrap", triggered[0].Type)
}

func TestCheckAlertsEmptyWithNoData(t *testing.T) {
	o, _ := newTestObserver(t)
	triggered, err := o.CheckAlerts()
	require.NoError(t, err)
	require.Empty(t, triggered)
}

func TestCheckAlertsFiresConfidenceDecline(t *testing.T) {
	o, s := newTestObserver(t)

	// Past the bootstrap threshold with unrelated filler observations.
	seedObservations(t, s, "other_metric", 35, 1, 0, "", nil)

	n := 20
	values := make([]float64, n)
	for i := range values {
		values[i] = 1.0 - float64(i)*0.05
	}
	seedObservations(t, s, "avg_confidence", n, 5, 0, "", values)

	triggered, err := o.CheckAlerts()
	require.NoError(t, err)

	var found bool
	for _, a := range triggered {
		if a.Type == "confidence_decline" {
			found = true
		}
	}
	require.True(t, found)
}

func TestRecordAlertOutcomeAndFPRStats(t *testing.T) {
	o, _ := newTestObserver(t)
	id, err := o.CreateAlert("contradiction_spike", "warning", "msg", "contradiction_rate", nil, nil, nil)
	require.NoError(t, err)

	require.NoError(t, o.RecordAlertOutcome(id, true))
	require.NoError(t, o.RecordAlertOutcome(id, false))

	stats, err := o.FPRStats()
	require.NoError(t, err)
	require.Len(t, stats, 1)
	require.Equal(t, "contradiction_rate", stats[0].MetricName)
	require.Equal(t, 1, stats[0].TruePositives)
	require.Equal(t, 1, stats[0].FalsePositives)
	require.InDelta(t, 0.5, stats[0].FPR, 0.0001)
}

func TestRecordMetricRoundTrip(t *testing.T) {
	o, s := newTestObserver(t)
	id, err := o.RecordMetric("avg_confidence", 0.72, "git", "")
	require.NoError(t, err)
	require.Greater(t, id, int64(0))

	observations, err := s.RollingWindowObservations("avg_confidence", 1, "git")
	require.NoError(t, err)
	require.Len(t, observations, 1)
	require.InDelta(t, 0.72, observations[0].Value, 0.0001)
}
