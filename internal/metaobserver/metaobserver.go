// Package metaobserver implements C6: rolling-window trend analysis and
// robust anomaly detection over system-health metrics, feeding an
// idempotent alert state machine with a bootstrap grace period so the
// first burst of activity doesn't trip every condition at once.
//
// Threshold auto-adjustment is locked off — RecordAlertOutcome only
// accumulates per-metric true/false-positive counters for a human to read
// back via FPRStats.
package metaobserver

import (
	"github.com/corewright/substrate/internal/store"
)

// Config bounds the windows, thresholds, and bootstrap floor this observer
// uses. The zero value is invalid; use DefaultConfig.
type Config struct {
	MinSamplesForStats int
	MinTimeSpreadFrac  float64 // fraction of window hours, floor MinTimeSpreadHours
	MinTimeSpreadHours float64

	DefaultZScoreThreshold float64
	MinBaselineSamples     int

	BootstrapThreshold int

	ConfidenceDeclineWindowHours  int
	ConfidenceDeclineSlopeFloor   float64
	ContradictionBaselineHours    int
	ContradictionWindowHours      int
	ActivityBaselineHours         int
	ActivityWindowHours           int
	ActivityZScoreFloor           float64
}

// DefaultConfig mirrors the observer this package was ported from.
func DefaultConfig() Config {
	return Config{
		MinSamplesForStats: 10,
		MinTimeSpreadFrac:  0.1,
		MinTimeSpreadHours: 1.0,

		DefaultZScoreThreshold: 3.0,
		MinBaselineSamples:     30,

		BootstrapThreshold: 30,

		ConfidenceDeclineWindowHours: 168,
		ConfidenceDeclineSlopeFloor:  -0.0002,
		ContradictionBaselineHours:   720,
		ContradictionWindowHours:     24,
		ActivityBaselineHours:        720,
		ActivityWindowHours:          168,
		ActivityZScoreFloor:          -2.5,
	}
}

// Observer is C6's handle, bound to one knowledge store.
type Observer struct {
	store *store.Store
	cfg   Config
}

// New constructs an Observer over an already-open store.
func New(s *store.Store, cfg Config) *Observer {
	return &Observer{store: s, cfg: cfg}
}

// RecordMetric records one observation for metricName.
func (o *Observer) RecordMetric(metricName string, value float64, domain, metadataJSON string) (int64, error) {
	return o.store.InsertMetricObservation(metricName, value, domain, metadataJSON)
}
