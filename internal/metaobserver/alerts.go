package metaobserver

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/corewright/substrate/internal/store"
)

// TriggeredAlert is one alert raised (or refreshed) by CheckAlerts.
type TriggeredAlert struct {
	AlertID int64
	Type    string
}

// CreateAlert creates a new alert or, if one with the same (type,
// metricName) is already new/active, refreshes it instead — the dedup rule
// that keeps a recurring condition from spamming a fresh row every check.
func (o *Observer) CreateAlert(alertType, severity, message, metricName string, currentValue, baselineValue *float64, context map[string]any) (int64, error) {
	var contextJSON string
	if context != nil {
		b, err := json.Marshal(context)
		if err != nil {
			return 0, fmt.Errorf("metaobserver: marshal alert context: %w", err)
		}
		contextJSON = string(b)
	}

	return o.store.UpsertAlert(alertType, severity, metricName, nullFloat(currentValue), nullFloat(baselineValue), message, contextJSON)
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// GetActiveAlerts returns every new/active alert, optionally filtered by
// severity.
func (o *Observer) GetActiveAlerts(severity string) ([]store.MetaAlert, error) {
	return o.store.ActiveAlerts(severity)
}

// AcknowledgeAlert moves an alert from new/active to ack.
func (o *Observer) AcknowledgeAlert(alertID int64) (bool, error) {
	return o.store.AcknowledgeAlert(alertID)
}

// ResolveAlert moves an alert from new/active/ack to resolved.
func (o *Observer) ResolveAlert(alertID int64) (bool, error) {
	return o.store.ResolveAlert(alertID)
}

// RecordAlertOutcome logs a human's true/false-positive judgement against
// an alert's metric. Auto-adjustment from this feedback is locked off —
// it only accumulates for FPRStats to report.
func (o *Observer) RecordAlertOutcome(alertID int64, isTruePositive bool) error {
	return o.store.RecordAlertOutcome(alertID, isTruePositive)
}

// FPRStats reports reviewed-outcome false-positive rates per metric.
func (o *Observer) FPRStats() ([]store.MetricFPRStats, error) {
	return o.store.FPRStats()
}

// CheckAlerts runs every standard alert condition and raises (or refreshes)
// an alert for each that fires. While total observations are below the
// bootstrap threshold, it returns a single informational bootstrap signal
// and suppresses every other condition — there isn't enough history yet to
// trust a trend or baseline.
func (o *Observer) CheckAlerts() ([]TriggeredAlert, error) {
	total, err := o.store.TotalObservationCount()
	if err != nil {
		return nil, fmt.Errorf("metaobserver: check alerts: %w", err)
	}
	if total == 0 {
		return nil, nil
	}
	if total < o.cfg.BootstrapThreshold {
		return []TriggeredAlert{{Type: "bootstrap"}}, nil
	}

	var triggered []TriggeredAlert

	confidenceDecline, err := o.checkConfidenceDecline()
	if err != nil {
		return nil, err
	}
	if confidenceDecline != nil {
		triggered = append(triggered, *confidenceDecline)
	}

	contradictionSpike, err := o.checkContradictionSpike()
	if err != nil {
		return nil, err
	}
	if contradictionSpike != nil {
		triggered = append(triggered, *contradictionSpike)
	}

	activityDecline, err := o.checkActivityDecline()
	if err != nil {
		return nil, err
	}
	if activityDecline != nil {
		triggered = append(triggered, *activityDecline)
	}

	return triggered, nil
}

func (o *Observer) checkConfidenceDecline() (*TriggeredAlert, error) {
	trend, err := o.CalculateTrend("avg_confidence", o.cfg.ConfidenceDeclineWindowHours, "", 0)
	if err != nil {
		return nil, fmt.Errorf("metaobserver: check confidence decline: %w", err)
	}

	if (trend.Confidence != "high" && trend.Confidence != "medium") ||
		trend.Direction != "decreasing" ||
		trend.Slope >= o.cfg.ConfidenceDeclineSlopeFloor {
		return nil, nil
	}

	message := fmt.Sprintf("system confidence declining over 7 days (slope: %.6f)", trend.Slope)
	id, err := o.CreateAlert("confidence_decline", "warning", message, "avg_confidence", nil, nil, map[string]any{"trend": trend})
	if err != nil {
		return nil, fmt.Errorf("metaobserver: check confidence decline: %w", err)
	}
	return &TriggeredAlert{AlertID: id, Type: "confidence_decline"}, nil
}

func (o *Observer) checkContradictionSpike() (*TriggeredAlert, error) {
	anomaly, err := o.DetectAnomaly("contradiction_rate", o.cfg.ContradictionBaselineHours, o.cfg.ContradictionWindowHours, "")
	if err != nil {
		return nil, fmt.Errorf("metaobserver: check contradiction spike: %w", err)
	}

	if !anomaly.IsAnomaly || (anomaly.Severity != "warning" && anomaly.Severity != "critical") {
		return nil, nil
	}

	message := fmt.Sprintf("contradiction rate spiked to %.1f%% (baseline: %.1f%%, z-score: %.2f)",
		anomaly.CurrentValue*100, anomaly.BaselineMedian*100, anomaly.ZScore)
	current, baseline := anomaly.CurrentValue, anomaly.BaselineMedian
	id, err := o.CreateAlert("contradiction_spike", anomaly.Severity, message, "contradiction_rate", &current, &baseline, map[string]any{"anomaly": anomaly})
	if err != nil {
		return nil, fmt.Errorf("metaobserver: check contradiction spike: %w", err)
	}
	return &TriggeredAlert{AlertID: id, Type: "contradiction_spike"}, nil
}

func (o *Observer) checkActivityDecline() (*TriggeredAlert, error) {
	anomaly, err := o.DetectAnomaly("validation_velocity", o.cfg.ActivityBaselineHours, o.cfg.ActivityWindowHours, "")
	if err != nil {
		return nil, fmt.Errorf("metaobserver: check activity decline: %w", err)
	}

	if !anomaly.IsAnomaly || anomaly.ZScore >= o.cfg.ActivityZScoreFloor {
		return nil, nil
	}

	message := fmt.Sprintf("validation activity dropped to %.1f (baseline: %.1f)", anomaly.CurrentValue, anomaly.BaselineMedian)
	current, baseline := anomaly.CurrentValue, anomaly.BaselineMedian
	id, err := o.CreateAlert("activity_decline", "info", message, "validation_velocity", &current, &baseline, map[string]any{"anomaly": anomaly})
	if err != nil {
		return nil, fmt.Errorf("metaobserver: check activity decline: %w", err)
	}
	return &TriggeredAlert{AlertID: id, Type: "activity_decline"}, nil
}
