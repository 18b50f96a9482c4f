package metaobserver

import (
	"fmt"
	"math"
)

// TrendResult is the outcome of a rolling-window regression over one
// metric. A low-confidence result with a Reason set means the window
// didn't carry enough signal to trust Direction/Slope.
type TrendResult struct {
	Slope           float64
	Direction       string // increasing, stable, decreasing
	RSquared        float64
	PValue          float64
	StdErr          float64
	Confidence      string // high, medium, low
	SampleCount     int
	TimeSpreadHours float64
	Reason          string
}

// CalculateTrend fits a least-squares line to metricName's value-vs-index
// sequence over the last hours hours. A trend is rejected as unreliable if
// either the sample count or the time spread between first and last
// observation is too small — a "7-day trend" built from one burst of
// activity an hour long isn't meaningful.
func (o *Observer) CalculateTrend(metricName string, hours int, domain string, minTimeSpreadHours float64) (TrendResult, error) {
	observations, err := o.store.RollingWindowObservations(metricName, hours, domain)
	if err != nil {
		return TrendResult{}, fmt.Errorf("metaobserver: calculate trend: %w", err)
	}

	if len(observations) < o.cfg.MinSamplesForStats {
		return TrendResult{
			Confidence:  "low",
			Reason:      "insufficient_data",
			SampleCount: len(observations),
		}, nil
	}

	timeSpread := observations[len(observations)-1].ObservedAt.Sub(observations[0].ObservedAt).Hours()
	minSpread := minTimeSpreadHours
	if minSpread <= 0 {
		minSpread = float64(hours) * o.cfg.MinTimeSpreadFrac
	}
	if minSpread < o.cfg.MinTimeSpreadHours {
		minSpread = o.cfg.MinTimeSpreadHours
	}

	if timeSpread < minSpread {
		return TrendResult{
			Confidence:      "low",
			Reason:          "insufficient_time_spread",
			SampleCount:     len(observations),
			TimeSpreadHours: timeSpread,
		}, nil
	}

	values := make([]float64, len(observations))
	for i, obs := range observations {
		values[i] = obs.Value
	}

	slope, _, rValue, pValue, stdErr := linearRegression(values)

	direction := "stable"
	if math.Abs(slope) >= stdErr*2 {
		if slope > 0 {
			direction = "increasing"
		} else {
			direction = "decreasing"
		}
	}

	confidence := "low"
	switch {
	case pValue < 0.05:
		confidence = "high"
	case pValue < 0.1:
		confidence = "medium"
	}

	return TrendResult{
		Slope:           slope,
		Direction:       direction,
		RSquared:        rValue * rValue,
		PValue:          pValue,
		StdErr:          stdErr,
		Confidence:      confidence,
		SampleCount:     len(observations),
		TimeSpreadHours: timeSpread,
	}, nil
}
