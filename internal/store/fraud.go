package store

import (
	"database/sql"
	"fmt"
	"time"
)

// FraudReport is the outcome of running every detector against a subject
// (usually a heuristic) and fusing the resulting signals into one score.
type FraudReport struct {
	ID              string
	SubjectID       string
	SubjectType     string
	FraudScore      float64
	Classification  string // clean, suspicious, fraud_likely, fraud_confirmed
	Signals         string // JSON array of AnomalySignal
	LikelihoodRatio float64
	SignalCount     int
	CreatedAt       time.Time
}

// InsertFraudReport persists a fraud report.
func (s *Store) InsertFraudReport(r FraudReport) error {
	if r.SubjectType == "" {
		r.SubjectType = "heuristic"
	}
	if r.Signals == "" {
		r.Signals = "[]"
	}
	_, err := s.db.Exec(
		`INSERT INTO fraud_reports (id, subject_id, subject_type, fraud_score, classification, signals, likelihood_ratio, signal_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SubjectID, r.SubjectType, r.FraudScore, r.Classification, r.Signals, r.LikelihoodRatio, r.SignalCount,
	)
	if err != nil {
		return fmt.Errorf("store: insert fraud report: %w", err)
	}
	return nil
}

// RecordAnomalySignal attaches one detector's raw signal to a fraud report.
func (s *Store) RecordAnomalySignal(reportID, detector string, score, likelihoodRatio float64, details string) error {
	_, err := s.db.Exec(
		`INSERT INTO anomaly_signals (report_id, detector, score, likelihood_ratio, details) VALUES (?, ?, ?, ?, ?)`,
		reportID, detector, score, likelihoodRatio, details,
	)
	if err != nil {
		return fmt.Errorf("store: record anomaly signal: %w", err)
	}
	return nil
}

// RecordFraudResponse logs the action taken in response to a fraud report
// (the fraud detector records "alert") along with its parameters.
func (s *Store) RecordFraudResponse(reportID, action, parametersJSON, executedBy string) error {
	if parametersJSON == "" {
		parametersJSON = "{}"
	}
	if executedBy == "" {
		executedBy = "system"
	}
	_, err := s.db.Exec(
		`INSERT INTO fraud_responses (report_id, action, parameters, executed_by) VALUES (?, ?, ?, ?)`,
		reportID, action, parametersJSON, executedBy,
	)
	if err != nil {
		return fmt.Errorf("store: record fraud response: %w", err)
	}
	return nil
}

// RecentFraudReportsForSubject returns a subject's fraud history, most recent first.
func (s *Store) RecentFraudReportsForSubject(subjectID string, limit int) ([]FraudReport, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(
		`SELECT id, subject_id, subject_type, fraud_score, classification, signals, likelihood_ratio, signal_count, created_at
		 FROM fraud_reports WHERE subject_id = ? ORDER BY created_at DESC LIMIT ?`, subjectID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: recent fraud reports: %w", err)
	}
	defer rows.Close()

	var out []FraudReport
	for rows.Next() {
		var r FraudReport
		if err := rows.Scan(&r.ID, &r.SubjectID, &r.SubjectType, &r.FraudScore, &r.Classification,
			&r.Signals, &r.LikelihoodRatio, &r.SignalCount, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan fraud report: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestFraudReportID returns the most recent fraud report id for subjectID.
func (s *Store) LatestFraudReportID(subjectID string) (string, error) {
	var id string
	err := s.db.QueryRow(`
		SELECT id FROM fraud_reports WHERE subject_id = ? ORDER BY created_at DESC LIMIT 1`, subjectID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: latest fraud report id: %w", err)
	}
	return id, nil
}

// ConfidenceDeltaSeries returns the chronological confidence deltas recorded
// across all heuristics in a domain, used by the temporal-manipulation and
// success-rate-anomaly detectors for baseline statistics.
func (s *Store) ConfidenceDeltaSeries(domain string, since time.Time) ([]float64, error) {
	rows, err := s.db.Query(
		`SELECT cu.delta FROM confidence_updates cu
		 JOIN heuristics h ON h.id = cu.heuristic_id
		 WHERE h.domain = ? AND cu.created_at >= ?
		 ORDER BY cu.created_at ASC`, domain, since.UTC().Format(time.DateTime),
	)
	if err != nil {
		return nil, fmt.Errorf("store: confidence delta series: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("store: scan confidence delta: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// UpdateTimestampsForDomain returns the raw timestamps of confidence updates
// in a domain, used by the temporal-manipulation detector to look for
// suspiciously regular intervals.
func (s *Store) UpdateTimestampsForDomain(domain string) ([]time.Time, error) {
	rows, err := s.db.Query(
		`SELECT cu.created_at FROM confidence_updates cu
		 JOIN heuristics h ON h.id = cu.heuristic_id
		 WHERE h.domain = ? ORDER BY cu.created_at ASC`, domain,
	)
	if err != nil {
		return nil, fmt.Errorf("store: update timestamps: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("store: scan update timestamp: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ConfidenceUpdateSample is one confidence_updates row as seen by the fraud
// detectors: when it happened, what the resulting confidence was, and what
// kind of update it was.
type ConfidenceUpdateSample struct {
	CreatedAt         time.Time
	ConfidenceAfter   float64
	UpdateType        string
}

// ConfidenceUpdatesForHeuristic returns a heuristic's confidence_updates
// from the last sinceDays days, oldest first.
func (s *Store) ConfidenceUpdatesForHeuristic(heuristicID string, sinceDays int) ([]ConfidenceUpdateSample, error) {
	rows, err := s.db.Query(`
		SELECT created_at, confidence_after, update_type
		FROM confidence_updates
		WHERE heuristic_id = ? AND created_at > datetime('now', '-' || ? || ' days')
		ORDER BY created_at ASC`, heuristicID, sinceDays)
	if err != nil {
		return nil, fmt.Errorf("store: confidence updates for heuristic: %w", err)
	}
	defer rows.Close()

	var out []ConfidenceUpdateSample
	for rows.Next() {
		var u ConfidenceUpdateSample
		if err := rows.Scan(&u.CreatedAt, &u.ConfidenceAfter, &u.UpdateType); err != nil {
			return nil, fmt.Errorf("store: scan confidence update sample: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// IncrementFraudFlags bumps a heuristic's fraud_flags counter and stamps
// last_fraud_check.
func (s *Store) IncrementFraudFlags(heuristicID string) error {
	_, err := s.db.Exec(`
		UPDATE heuristics SET fraud_flags = COALESCE(fraud_flags, 0) + 1, last_fraud_check = datetime('now')
		WHERE id = ?`, heuristicID)
	if err != nil {
		return fmt.Errorf("store: increment fraud flags: %w", err)
	}
	return nil
}

// SetReviewOutcome records a human true_positive/false_positive/dismissed
// decision on a fraud report.
func (s *Store) SetReviewOutcome(reportID, outcome, decidedBy, notes string) error {
	res, err := s.db.Exec(`
		UPDATE fraud_reports SET review_outcome = ?, decided_by = ?, review_notes = ?, reviewed_at = datetime('now')
		WHERE id = ?`, outcome, decidedBy, notes, reportID)
	if err != nil {
		return fmt.Errorf("store: set review outcome: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: set review outcome rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("store: set review outcome: report %s not found", reportID)
	}
	return nil
}

// PendingFraudReports returns fraud reports awaiting a human review
// decision, highest score first, joined with the subject heuristic.
func (s *Store) PendingFraudReports() ([]map[string]any, error) {
	rows, err := s.db.Query(`
		SELECT fr.id, fr.subject_id, fr.fraud_score, fr.classification, h.domain, h.statement, h.confidence
		FROM fraud_reports fr
		JOIN heuristics h ON fr.subject_id = h.id
		WHERE fr.review_outcome IS NULL
		ORDER BY fr.fraud_score DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: pending fraud reports: %w", err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var id, subjectID, classification, domain, statement string
		var score, confidence float64
		if err := rows.Scan(&id, &subjectID, &score, &classification, &domain, &statement, &confidence); err != nil {
			return nil, fmt.Errorf("store: scan pending fraud report: %w", err)
		}
		out = append(out, map[string]any{
			"id": id, "subject_id": subjectID, "fraud_score": score, "classification": classification,
			"domain": domain, "statement": statement, "confidence": confidence,
		})
	}
	return out, rows.Err()
}

// DetectorAccuracy is one detector's precision over a reviewed window.
type DetectorAccuracy struct {
	DetectorName    string
	TotalReports    int
	TruePositives   int
	FalsePositives  int
	Pending         int
	Precision       float64
	AvgScore        float64
}

// DetectorAccuracyReport aggregates review outcomes per detector over the
// last windowDays days (0 = all time).
func (s *Store) DetectorAccuracyReport(windowDays int) ([]DetectorAccuracy, error) {
	query := `
		SELECT asig.detector,
		       SUM(CASE WHEN fr.review_outcome = 'true_positive' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN fr.review_outcome = 'false_positive' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN fr.review_outcome IS NULL THEN 1 ELSE 0 END),
		       COUNT(*),
		       AVG(asig.score)
		FROM anomaly_signals asig
		JOIN fraud_reports fr ON asig.report_id = fr.id`
	args := []any{}
	if windowDays > 0 {
		query += " WHERE asig.created_at > datetime('now', '-' || ? || ' days')"
		args = append(args, windowDays)
	}
	query += " GROUP BY asig.detector"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: detector accuracy report: %w", err)
	}
	defer rows.Close()

	var out []DetectorAccuracy
	for rows.Next() {
		var a DetectorAccuracy
		var tp, fp int
		if err := rows.Scan(&a.DetectorName, &tp, &fp, &a.Pending, &a.TotalReports, &a.AvgScore); err != nil {
			return nil, fmt.Errorf("store: scan detector accuracy: %w", err)
		}
		a.TruePositives, a.FalsePositives = tp, fp
		if tp+fp > 0 {
			a.Precision = float64(tp) / float64(tp+fp)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// InsertSessionContext records a hashed session context for
// application-selectivity analysis (7-day retention, enforced by
// CleanupOldSessionContexts).
func (s *Store) InsertSessionContext(sessionID, agentID, contextHash, preview, heuristicsAppliedJSON string) error {
	_, err := s.db.Exec(`
		INSERT INTO session_contexts (session_id, agent_id, context_hash, context_preview, heuristics_applied)
		VALUES (?, ?, ?, ?, ?)`, sessionID, agentID, contextHash, preview, heuristicsAppliedJSON)
	if err != nil {
		return fmt.Errorf("store: insert session context: %w", err)
	}
	return nil
}

// CleanupOldSessionContexts deletes session_contexts older than
// retentionDays, returning the number removed.
func (s *Store) CleanupOldSessionContexts(retentionDays int) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM session_contexts WHERE created_at < datetime('now', '-' || ? || ' days')`, retentionDays)
	if err != nil {
		return 0, fmt.Errorf("store: cleanup old session contexts: %w", err)
	}
	return res.RowsAffected()
}

// LogBuildingQuery records a context-builder or knowledge-store query for
// audit and token-budget accounting.
func (s *Store) LogBuildingQuery(caller, queryType, query string, resultCount, tokensUsed int) error {
	return s.LogBuildingQueryDetailed(BuildingQueryLog{
		Caller: caller, QueryType: queryType, Query: query,
		ResultCount: resultCount, TokensUsed: tokensUsed, Status: "success",
	})
}

// BuildingQueryLog is one audit row for a context-builder or knowledge-store
// query.
type BuildingQueryLog struct {
	Caller       string
	QueryType    string
	Query        string
	ResultCount  int
	TokensUsed   int
	DurationMs   int64
	Status       string
	ErrorMessage string
	Summary      string
}

// LogBuildingQueryDetailed records a query's full audit trail, including
// status (success/timeout/error), duration, and a summary line.
func (s *Store) LogBuildingQueryDetailed(l BuildingQueryLog) error {
	if l.Status == "" {
		l.Status = "success"
	}
	_, err := s.db.Exec(
		`INSERT INTO building_queries (caller, query_type, query, result_count, tokens_used, status, duration_ms, error_message, summary)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.Caller, l.QueryType, l.Query, l.ResultCount, l.TokensUsed, l.Status, l.DurationMs, l.ErrorMessage, l.Summary,
	)
	if err != nil {
		return fmt.Errorf("store: log building query: %w", err)
	}
	return nil
}

// QueryVolumeSince counts building_queries since a point in time, used by
// the meta-observer to detect retrieval storms.
func (s *Store) QueryVolumeSince(since time.Time) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM building_queries WHERE created_at >= ?`, since.UTC().Format(time.DateTime),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: query volume since: %w", err)
	}
	return count, nil
}
