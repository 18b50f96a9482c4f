package store

import (
	"database/sql"
	"fmt"
	"time"
)

// MetricObservation is a single recorded data point for a named metric.
type MetricObservation struct {
	ID         int64
	MetricName string
	Value      float64
	Domain     string
	Metadata   string
	ObservedAt time.Time
}

// InsertMetricObservation records one observation and returns its id.
func (s *Store) InsertMetricObservation(metricName string, value float64, domain, metadataJSON string) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO metric_observations (metric_name, value, domain, metadata)
		VALUES (?, ?, ?, ?)`, metricName, value, domain, metadataJSON)
	if err != nil {
		return 0, fmt.Errorf("store: insert metric observation: %w", err)
	}
	return res.LastInsertId()
}

// RollingWindowObservations returns observations for metricName within the
// last hours hours, oldest first, optionally scoped to one domain.
func (s *Store) RollingWindowObservations(metricName string, hours int, domain string) ([]MetricObservation, error) {
	query := `
		SELECT id, metric_name, value, domain, metadata, observed_at
		FROM metric_observations
		WHERE metric_name = ? AND observed_at >= datetime('now', ? || ' hours')`
	args := []any{metricName, -hours}
	if domain != "" {
		query += " AND domain = ?"
		args = append(args, domain)
	}
	query += " ORDER BY observed_at ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: rolling window observations: %w", err)
	}
	defer rows.Close()

	var out []MetricObservation
	for rows.Next() {
		var o MetricObservation
		if err := rows.Scan(&o.ID, &o.MetricName, &o.Value, &o.Domain, &o.Metadata, &o.ObservedAt); err != nil {
			return nil, fmt.Errorf("store: scan metric observation: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// BaselineValues returns raw values for metricName observed between
// baselineHours ago and cutoff, excluding the recent window under analysis.
func (s *Store) BaselineValues(metricName string, baselineHours int, cutoff time.Time, domain string) ([]float64, error) {
	query := `
		SELECT value FROM metric_observations
		WHERE metric_name = ?
		  AND observed_at >= datetime('now', ? || ' hours')
		  AND observed_at <= ?`
	args := []any{metricName, -baselineHours, cutoff.UTC().Format("2006-01-02 15:04:05")}
	if domain != "" {
		query += " AND domain = ?"
		args = append(args, domain)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: baseline values: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("store: scan baseline value: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// TotalObservationCount reports how many observations exist across all
// metrics, used to gate bootstrap mode.
func (s *Store) TotalObservationCount() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM metric_observations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: total observation count: %w", err)
	}
	return n, nil
}

// MetricZScoreThreshold returns the configured anomaly threshold for
// metricName, or ok=false if no config row exists.
func (s *Store) MetricZScoreThreshold(metricName string) (threshold float64, ok bool, err error) {
	row := s.db.QueryRow(`SELECT z_score_threshold FROM meta_observer_config WHERE metric_name = ?`, metricName)
	if err := row.Scan(&threshold); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("store: metric z score threshold: %w", err)
	}
	return threshold, true, nil
}

// MetaAlert is one alert row in the new/active/ack/resolved state machine.
type MetaAlert struct {
	ID             int64
	AlertType      string
	Severity       string
	MetricName     string
	CurrentValue   sql.NullFloat64
	BaselineValue  sql.NullFloat64
	Message        string
	Context        string
	State          string
	FirstSeen      time.Time
	LastSeen       time.Time
	AcknowledgedAt sql.NullTime
	ResolvedAt     sql.NullTime
}

// UpsertAlert implements the idempotent dedup rule: an existing alert with
// the same (alert_type, metric_name) in state new/active has its last_seen
// and value fields refreshed instead of a new row being created.
func (s *Store) UpsertAlert(alertType, severity, metricName string, currentValue, baselineValue sql.NullFloat64, message, contextJSON string) (int64, error) {
	var existingID int64
	err := s.db.QueryRow(`
		SELECT id FROM meta_alerts
		WHERE alert_type = ? AND metric_name = ? AND state IN ('new', 'active')
		ORDER BY first_seen DESC LIMIT 1`, alertType, metricName).Scan(&existingID)
	switch {
	case err == sql.ErrNoRows:
		res, err := s.db.Exec(`
			INSERT INTO meta_alerts (alert_type, severity, metric_name, current_value, baseline_value, message, context)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			alertType, severity, metricName, currentValue, baselineValue, message, contextJSON)
		if err != nil {
			return 0, fmt.Errorf("store: insert alert: %w", err)
		}
		return res.LastInsertId()
	case err != nil:
		return 0, fmt.Errorf("store: lookup existing alert: %w", err)
	default:
		_, err := s.db.Exec(`
			UPDATE meta_alerts SET
				last_seen = datetime('now'),
				current_value = COALESCE(?, current_value),
				baseline_value = COALESCE(?, baseline_value),
				message = ?,
				context = CASE WHEN ? = '' THEN context ELSE ? END
			WHERE id = ?`,
			currentValue, baselineValue, message, contextJSON, contextJSON, existingID)
		if err != nil {
			return 0, fmt.Errorf("store: update alert: %w", err)
		}
		return existingID, nil
	}
}

// ActiveAlerts returns every alert in state new or active, optionally
// filtered by severity, most severe and most recent first.
func (s *Store) ActiveAlerts(severity string) ([]MetaAlert, error) {
	query := `
		SELECT id, alert_type, severity, metric_name, current_value, baseline_value,
		       message, context, state, first_seen, last_seen, acknowledged_at, resolved_at
		FROM meta_alerts WHERE state IN ('new', 'active')`
	args := []any{}
	if severity != "" {
		query += " AND severity = ?"
		args = append(args, severity)
	}
	query += " ORDER BY CASE severity WHEN 'critical' THEN 0 WHEN 'warning' THEN 1 WHEN 'info' THEN 2 ELSE 3 END, first_seen DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: active alerts: %w", err)
	}
	defer rows.Close()

	var out []MetaAlert
	for rows.Next() {
		var a MetaAlert
		if err := rows.Scan(&a.ID, &a.AlertType, &a.Severity, &a.MetricName, &a.CurrentValue, &a.BaselineValue,
			&a.Message, &a.Context, &a.State, &a.FirstSeen, &a.LastSeen, &a.AcknowledgedAt, &a.ResolvedAt); err != nil {
			return nil, fmt.Errorf("store: scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AcknowledgeAlert moves a new/active alert to ack, returning false if no
// matching alert was found.
func (s *Store) AcknowledgeAlert(id int64) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE meta_alerts SET state = 'ack', acknowledged_at = datetime('now')
		WHERE id = ? AND state IN ('new', 'active')`, id)
	if err != nil {
		return false, fmt.Errorf("store: acknowledge alert: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ResolveAlert moves a new/active/ack alert to resolved, returning false if
// no matching alert was found.
func (s *Store) ResolveAlert(id int64) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE meta_alerts SET state = 'resolved', resolved_at = datetime('now')
		WHERE id = ? AND state IN ('new', 'active', 'ack')`, id)
	if err != nil {
		return false, fmt.Errorf("store: resolve alert: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RecordAlertOutcome updates the true/false-positive counters for the
// metric behind alertID. Alerts with no metric_name (e.g. bootstrap
// placeholders) are silently ignored.
func (s *Store) RecordAlertOutcome(alertID int64, isTruePositive bool) error {
	var metricName string
	err := s.db.QueryRow(`SELECT metric_name FROM meta_alerts WHERE id = ?`, alertID).Scan(&metricName)
	if err == sql.ErrNoRows || metricName == "" {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: record alert outcome: %w", err)
	}

	if _, err := s.db.Exec(`
		INSERT INTO meta_observer_config (metric_name) VALUES (?)
		ON CONFLICT(metric_name) DO NOTHING`, metricName); err != nil {
		return fmt.Errorf("store: record alert outcome: %w", err)
	}

	column := "false_positive_count"
	if isTruePositive {
		column = "true_positive_count"
	}
	if _, err := s.db.Exec(fmt.Sprintf(`UPDATE meta_observer_config SET %s = %s + 1 WHERE metric_name = ?`, column, column), metricName); err != nil {
		return fmt.Errorf("store: record alert outcome: %w", err)
	}
	return nil
}

// MetricFPRStats is the reviewed-outcome tally for one metric's alerts.
type MetricFPRStats struct {
	MetricName      string
	TruePositives   int
	FalsePositives  int
	FPR             float64
}

// FPRStats reports false-positive-rate stats per metric, for metrics with at
// least one reviewed alert outcome.
func (s *Store) FPRStats() ([]MetricFPRStats, error) {
	rows, err := s.db.Query(`
		SELECT metric_name, true_positive_count, false_positive_count
		FROM meta_observer_config
		WHERE (true_positive_count + false_positive_count) > 0`)
	if err != nil {
		return nil, fmt.Errorf("store: fpr stats: %w", err)
	}
	defer rows.Close()

	var out []MetricFPRStats
	for rows.Next() {
		var m MetricFPRStats
		if err := rows.Scan(&m.MetricName, &m.TruePositives, &m.FalsePositives); err != nil {
			return nil, fmt.Errorf("store: scan fpr stats: %w", err)
		}
		total := m.TruePositives + m.FalsePositives
		if total > 0 {
			m.FPR = float64(m.FalsePositives) / float64(total)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
