package fraud

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/corewright/substrate/internal/store"
)

// fraudAlert is the on-disk shape of an escalated fraud report, dropped into
// the CEO inbox directory for out-of-band human review.
type fraudAlert struct {
	Type           string   `json:"type"`
	ReportID       string   `json:"report_id"`
	HeuristicID    string   `json:"heuristic_id"`
	Classification string   `json:"classification"`
	Score          float64  `json:"score"`
	Signals        []string `json:"signals"`
	Timestamp      int64    `json:"timestamp"`
}

// handleFraudResponse applies the alert-only response policy: it never
// quarantines or freezes a heuristic, it only records the response and
// drops an alert file for a human to act on.
func (d *Detector) handleFraudResponse(report *FraudReport) error {
	names := make([]string, 0, len(report.Signals))
	for _, sig := range report.Signals {
		names = append(names, sig.Detector)
	}

	alert := fraudAlert{
		Type:           "FRAUD_ALERT",
		ReportID:       report.ID,
		HeuristicID:    report.HeuristicID,
		Classification: report.Classification,
		Score:          report.Score,
		Signals:        names,
		Timestamp:      time.Now().Unix(),
	}

	payload, err := json.MarshalIndent(alert, "", "  ")
	if err != nil {
		return fmt.Errorf("fraud: marshal alert: %w", err)
	}

	if err := os.MkdirAll(d.cfg.CEOInboxDir, 0o755); err != nil {
		return fmt.Errorf("fraud: create ceo inbox dir: %w", err)
	}
	filename := fmt.Sprintf("fraud_alert_%s_%d.json", report.ID, alert.Timestamp)
	path := filepath.Join(d.cfg.CEOInboxDir, filename)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("fraud: write alert file: %w", err)
	}

	params, err := json.Marshal(map[string]any{"alert_path": path})
	if err != nil {
		return fmt.Errorf("fraud: marshal response params: %w", err)
	}
	if err := d.store.RecordFraudResponse(report.ID, "alert", string(params), "system"); err != nil {
		return fmt.Errorf("fraud: record fraud response: %w", err)
	}
	return nil
}

// RecordOutcome logs a human review decision on a fraud report. outcome
// must be one of true_positive, false_positive, dismissed, pending.
func (d *Detector) RecordOutcome(reportID, outcome, decidedBy, notes string) error {
	switch outcome {
	case "true_positive", "false_positive", "dismissed", "pending":
	default:
		return fmt.Errorf("fraud: record outcome: invalid outcome %q", outcome)
	}
	return d.store.SetReviewOutcome(reportID, outcome, decidedBy, notes)
}

// PendingReports returns fraud reports awaiting a human review decision.
func (d *Detector) PendingReports() ([]map[string]any, error) {
	return d.store.PendingFraudReports()
}

// DetectorAccuracy reports per-detector precision over the last windowDays
// days (0 = all time), used to find underperforming detectors — precision
// below 0.5 over at least 10 reviewed reports.
func (d *Detector) DetectorAccuracy(windowDays int) ([]store.DetectorAccuracy, error) {
	return d.store.DetectorAccuracyReport(windowDays)
}

// IsUnderperforming reports whether a, if reviewed enough to trust, has
// dropped below the 0.5 precision bar this engine was tuned against.
func IsUnderperforming(a store.DetectorAccuracy) bool {
	reviewed := a.TruePositives + a.FalsePositives
	return reviewed >= 10 && a.Precision < 0.5
}

// TrackContext hashes a session's applied-heuristics context for
// application-selectivity analysis without persisting the plaintext; a
// 100-character preview is kept for debugging.
func (d *Detector) TrackContext(sessionID, agentID, contextText string, heuristicsApplied []string) error {
	sum := sha256.Sum256([]byte(contextText))
	hash := hex.EncodeToString(sum[:])

	preview := contextText
	if len(preview) > 100 {
		preview = preview[:100]
	}

	applied, err := json.Marshal(heuristicsApplied)
	if err != nil {
		return fmt.Errorf("fraud: marshal heuristics applied: %w", err)
	}

	if err := d.store.InsertSessionContext(sessionID, agentID, hash, preview, string(applied)); err != nil {
		return fmt.Errorf("fraud: track context: %w", err)
	}
	return nil
}

// CleanupOldContexts deletes tracked session contexts older than the
// configured retention window, returning the number removed.
func (d *Detector) CleanupOldContexts() (int64, error) {
	return d.store.CleanupOldSessionContexts(d.cfg.ContextRetentionDays)
}
