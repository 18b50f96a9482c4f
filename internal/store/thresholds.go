package store

import (
	"database/sql"
	"fmt"
)

// ReviewedSignal is one detector's score on a fraud report that has since
// received a human true_positive/false_positive outcome, the raw material
// for threshold tuning.
type ReviewedSignal struct {
	Score         float64
	TruePositive  bool
}

// ReviewedSignalsForDetector returns every scored, reviewed signal for one
// detector, ordered by score ascending.
func (s *Store) ReviewedSignalsForDetector(detectorName string) ([]ReviewedSignal, error) {
	rows, err := s.db.Query(`
		SELECT asig.score, fr.review_outcome
		FROM anomaly_signals asig
		JOIN fraud_reports fr ON asig.report_id = fr.id
		WHERE fr.review_outcome IN ('true_positive', 'false_positive') AND asig.detector = ?
		ORDER BY asig.score ASC`, detectorName)
	if err != nil {
		return nil, fmt.Errorf("store: reviewed signals for detector: %w", err)
	}
	defer rows.Close()

	var out []ReviewedSignal
	for rows.Next() {
		var score float64
		var outcome string
		if err := rows.Scan(&score, &outcome); err != nil {
			return nil, fmt.Errorf("store: scan reviewed signal: %w", err)
		}
		out = append(out, ReviewedSignal{Score: score, TruePositive: outcome == "true_positive"})
	}
	return out, rows.Err()
}

// ReviewedReport is one fraud report that has received a human outcome, the
// raw material for classification threshold tuning.
type ReviewedReport struct {
	FraudScore   float64
	TruePositive bool
}

// ReviewedFraudReports returns every reviewed fraud report, ordered by
// fraud_score ascending.
func (s *Store) ReviewedFraudReports() ([]ReviewedReport, error) {
	rows, err := s.db.Query(`
		SELECT fraud_score, review_outcome FROM fraud_reports
		WHERE review_outcome IN ('true_positive', 'false_positive')
		ORDER BY fraud_score ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: reviewed fraud reports: %w", err)
	}
	defer rows.Close()

	var out []ReviewedReport
	for rows.Next() {
		var score float64
		var outcome string
		if err := rows.Scan(&score, &outcome); err != nil {
			return nil, fmt.Errorf("store: scan reviewed report: %w", err)
		}
		out = append(out, ReviewedReport{FraudScore: score, TruePositive: outcome == "true_positive"})
	}
	return out, rows.Err()
}

// GetDetectorThreshold returns an overridden detector threshold, or
// (0, false) if none has been applied.
func (s *Store) GetDetectorThreshold(detectorName string) (float64, bool, error) {
	var t float64
	err := s.db.QueryRow(`SELECT threshold FROM detector_thresholds WHERE detector_name = ?`, detectorName).Scan(&t)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("store: get detector threshold: %w", err)
	}
	return t, true, nil
}

// GetClassificationThresholds returns overridden classification thresholds
// keyed by level; levels absent from the map use their config default.
func (s *Store) GetClassificationThresholds() (map[string]float64, error) {
	rows, err := s.db.Query(`SELECT level, threshold FROM classification_thresholds`)
	if err != nil {
		return nil, fmt.Errorf("store: get classification thresholds: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var level string
		var t float64
		if err := rows.Scan(&level, &t); err != nil {
			return nil, fmt.Errorf("store: scan classification threshold: %w", err)
		}
		out[level] = t
	}
	return out, rows.Err()
}

// ThresholdRecommendation mirrors one row of threshold_recommendations.
type ThresholdRecommendation struct {
	ID                    int64
	DetectorName          string
	ThresholdType         string // detector, classification
	Level                 string
	CurrentThreshold      float64
	RecommendedThreshold  float64
	TargetFPR             float64
	AchievedFPR           float64
	AchievedTPR           float64
	SampleSize            int
	TPCount               int
	FPCount               int
	Confidence            string
	Reason                string
	ReviewDecision        sql.NullString
}

// CreateThresholdRecommendation persists a tuning recommendation for human
// review; it is never applied automatically.
func (s *Store) CreateThresholdRecommendation(r ThresholdRecommendation) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO threshold_recommendations
			(detector_name, threshold_type, level, current_threshold, recommended_threshold,
			 target_fpr, achieved_fpr, achieved_tpr, sample_size, tp_count, fp_count, confidence, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.DetectorName, r.ThresholdType, r.Level, r.CurrentThreshold, r.RecommendedThreshold,
		r.TargetFPR, r.AchievedFPR, r.AchievedTPR, r.SampleSize, r.TPCount, r.FPCount, r.Confidence, r.Reason)
	if err != nil {
		return 0, fmt.Errorf("store: create threshold recommendation: %w", err)
	}
	return res.LastInsertId()
}

// PendingThresholdRecommendations returns every recommendation awaiting a
// review decision.
func (s *Store) PendingThresholdRecommendations() ([]ThresholdRecommendation, error) {
	rows, err := s.db.Query(`
		SELECT id, detector_name, threshold_type, level, current_threshold, recommended_threshold,
		       target_fpr, achieved_fpr, achieved_tpr, sample_size, tp_count, fp_count, confidence, reason
		FROM threshold_recommendations WHERE review_decision IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: pending threshold recommendations: %w", err)
	}
	defer rows.Close()

	var out []ThresholdRecommendation
	for rows.Next() {
		var r ThresholdRecommendation
		if err := rows.Scan(&r.ID, &r.DetectorName, &r.ThresholdType, &r.Level, &r.CurrentThreshold,
			&r.RecommendedThreshold, &r.TargetFPR, &r.AchievedFPR, &r.AchievedTPR, &r.SampleSize,
			&r.TPCount, &r.FPCount, &r.Confidence, &r.Reason); err != nil {
			return nil, fmt.Errorf("store: scan threshold recommendation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetThresholdRecommendation loads one recommendation by id, or nil.
func (s *Store) GetThresholdRecommendation(id int64) (*ThresholdRecommendation, error) {
	row := s.db.QueryRow(`
		SELECT id, detector_name, threshold_type, level, current_threshold, recommended_threshold,
		       target_fpr, achieved_fpr, achieved_tpr, sample_size, tp_count, fp_count, confidence, reason, review_decision
		FROM threshold_recommendations WHERE id = ?`, id)
	var r ThresholdRecommendation
	if err := row.Scan(&r.ID, &r.DetectorName, &r.ThresholdType, &r.Level, &r.CurrentThreshold,
		&r.RecommendedThreshold, &r.TargetFPR, &r.AchievedFPR, &r.AchievedTPR, &r.SampleSize,
		&r.TPCount, &r.FPCount, &r.Confidence, &r.Reason, &r.ReviewDecision); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get threshold recommendation: %w", err)
	}
	return &r, nil
}

// ApplyThresholdRecommendation writes the new threshold (detector or
// classification), logs the change to threshold_history, and marks the
// recommendation approved+applied, all transactionally. Caller has already
// confirmed human approval.
func (s *Store) ApplyThresholdRecommendation(r ThresholdRecommendation, approvedBy, reason string) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("store: apply threshold recommendation: begin: %w", err)
	}
	defer tx.Rollback()

	if reason == "" {
		reason = r.Reason
	}

	if r.ThresholdType == "detector" {
		if _, err := tx.Exec(`
			INSERT INTO detector_thresholds (detector_name, threshold, updated_by, reason)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(detector_name) DO UPDATE SET threshold = excluded.threshold,
				updated_by = excluded.updated_by, reason = excluded.reason, updated_at = datetime('now')`,
			r.DetectorName, r.RecommendedThreshold, approvedBy, reason); err != nil {
			return 0, fmt.Errorf("store: update detector threshold: %w", err)
		}
	} else {
		if _, err := tx.Exec(`
			INSERT INTO classification_thresholds (level, threshold, updated_by, reason)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(level) DO UPDATE SET threshold = excluded.threshold,
				updated_by = excluded.updated_by, reason = excluded.reason, last_updated = datetime('now')`,
			r.Level, r.RecommendedThreshold, approvedBy, reason); err != nil {
			return 0, fmt.Errorf("store: update classification threshold: %w", err)
		}
	}

	res, err := tx.Exec(`
		INSERT INTO threshold_history (detector_name, threshold_type, level, old_threshold, new_threshold, changed_by, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.DetectorName, r.ThresholdType, r.Level, r.CurrentThreshold, r.RecommendedThreshold, approvedBy, reason)
	if err != nil {
		return 0, fmt.Errorf("store: insert threshold history: %w", err)
	}
	historyID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: threshold history id: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE threshold_recommendations SET review_decision = 'approved', reviewed_at = datetime('now'),
			reviewed_by = ?, applied_at = datetime('now') WHERE id = ?`, approvedBy, r.ID); err != nil {
		return 0, fmt.Errorf("store: mark recommendation applied: %w", err)
	}

	return historyID, tx.Commit()
}

// ThresholdHistoryEntry mirrors one row of threshold_history.
type ThresholdHistoryEntry struct {
	ID            int64
	DetectorName  string
	ThresholdType string
	Level         string
	OldThreshold  float64
	NewThreshold  float64
	RevertedAt    sql.NullTime
}

// GetThresholdHistory loads one history row by id, or nil.
func (s *Store) GetThresholdHistory(id int64) (*ThresholdHistoryEntry, error) {
	row := s.db.QueryRow(`
		SELECT id, detector_name, threshold_type, level, old_threshold, new_threshold, reverted_at
		FROM threshold_history WHERE id = ?`, id)
	var h ThresholdHistoryEntry
	if err := row.Scan(&h.ID, &h.DetectorName, &h.ThresholdType, &h.Level, &h.OldThreshold, &h.NewThreshold, &h.RevertedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get threshold history: %w", err)
	}
	return &h, nil
}

// RollbackThresholdHistory reverts a threshold change back to old_threshold
// and marks the history row reverted.
func (s *Store) RollbackThresholdHistory(h ThresholdHistoryEntry, revertedBy string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: rollback threshold: begin: %w", err)
	}
	defer tx.Rollback()

	reason := fmt.Sprintf("rollback of threshold_history %d", h.ID)
	if h.ThresholdType == "detector" {
		if _, err := tx.Exec(`
			INSERT INTO detector_thresholds (detector_name, threshold, updated_by, reason)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(detector_name) DO UPDATE SET threshold = excluded.threshold,
				updated_by = excluded.updated_by, reason = excluded.reason, updated_at = datetime('now')`,
			h.DetectorName, h.OldThreshold, revertedBy, reason); err != nil {
			return fmt.Errorf("store: revert detector threshold: %w", err)
		}
	} else {
		if _, err := tx.Exec(`
			INSERT INTO classification_thresholds (level, threshold, updated_by, reason)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(level) DO UPDATE SET threshold = excluded.threshold,
				updated_by = excluded.updated_by, reason = excluded.reason, last_updated = datetime('now')`,
			h.Level, h.OldThreshold, revertedBy, reason); err != nil {
			return fmt.Errorf("store: revert classification threshold: %w", err)
		}
	}

	if _, err := tx.Exec(`UPDATE threshold_history SET reverted_at = datetime('now') WHERE id = ?`, h.ID); err != nil {
		return fmt.Errorf("store: mark threshold history reverted: %w", err)
	}
	return tx.Commit()
}
