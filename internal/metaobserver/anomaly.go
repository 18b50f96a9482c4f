package metaobserver

import (
	"fmt"
	"math"
	"time"
)

// AnomalyResult is the outcome of comparing a metric's current window
// against its historical baseline.
type AnomalyResult struct {
	CurrentValue   float64
	BaselineMedian float64
	BaselineStd    float64
	ZScore         float64
	IsAnomaly      bool
	Severity       string // normal, warning, critical
	Threshold      float64
	BaselineSamples int
	CurrentSamples  int
	Reason          string
}

// DetectAnomaly compares the mean of the current window against a robust
// (median/MAD) baseline computed from the baselineHours window preceding
// it, reporting a Z-score and severity. Robust statistics keep a handful of
// outliers in the baseline from masking a real anomaly.
func (o *Observer) DetectAnomaly(metricName string, baselineHours, currentHours int, domain string) (AnomalyResult, error) {
	cutoff := time.Now().Add(-time.Duration(currentHours) * time.Hour)

	baselineValues, err := o.store.BaselineValues(metricName, baselineHours, cutoff, domain)
	if err != nil {
		return AnomalyResult{}, fmt.Errorf("metaobserver: detect anomaly: %w", err)
	}

	if len(baselineValues) < o.cfg.MinBaselineSamples {
		return AnomalyResult{
			Reason:          "insufficient_baseline",
			BaselineSamples: len(baselineValues),
		}, nil
	}

	baselineMedian := median(baselineValues)
	mad, scaledMAD := medianAbsoluteDeviation(baselineValues, baselineMedian)
	baselineStd := scaledMAD
	if mad == 0 {
		baselineStd = stdev(baselineValues)
	}

	currentObs, err := o.store.RollingWindowObservations(metricName, currentHours, domain)
	if err != nil {
		return AnomalyResult{}, fmt.Errorf("metaobserver: detect anomaly: %w", err)
	}
	if len(currentObs) == 0 {
		return AnomalyResult{Reason: "no_current_data", BaselineSamples: len(baselineValues)}, nil
	}

	var sum float64
	for _, obs := range currentObs {
		sum += obs.Value
	}
	currentValue := sum / float64(len(currentObs))

	var zScore float64
	if baselineStd > 0 {
		zScore = (currentValue - baselineMedian) / baselineStd
	}

	threshold := o.cfg.DefaultZScoreThreshold
	if t, ok, err := o.store.MetricZScoreThreshold(metricName); err != nil {
		return AnomalyResult{}, fmt.Errorf("metaobserver: detect anomaly: %w", err)
	} else if ok {
		threshold = t
	}

	isAnomaly := math.Abs(zScore) > threshold

	severity := "normal"
	switch {
	case math.Abs(zScore) > 4.0:
		severity = "critical"
	case math.Abs(zScore) > threshold:
		severity = "warning"
	}

	return AnomalyResult{
		CurrentValue:    currentValue,
		BaselineMedian:  baselineMedian,
		BaselineStd:     baselineStd,
		ZScore:          zScore,
		IsAnomaly:       isAnomaly,
		Severity:        severity,
		Threshold:       threshold,
		BaselineSamples: len(baselineValues),
		CurrentSamples:  len(currentObs),
	}, nil
}
