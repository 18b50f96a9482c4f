package store

import (
	"database/sql"
	"fmt"
	"time"
)

// HeuristicLifecycle is the full lifecycle-relevant row for a heuristic,
// beyond the core fields exposed by Heuristic.
type HeuristicLifecycle struct {
	ID                   string
	Domain               string
	Statement            string
	Confidence           float64
	ConfidenceEMA        float64
	EMAAlpha             float64
	EMAWarmupRemaining   int
	Status               string
	IsGolden             bool
	TimesValidated       int
	TimesViolated        int
	TimesContradicted    int
	TimesRevived         int
	MinApplications      int
	LastConfidenceUpdate sql.NullTime
	LastUsedAt           sql.NullTime
	DormantSince         sql.NullTime
	UpdateCountToday     int
	UpdateCountResetDate string
}

// TotalApplications is validated + violated + contradicted, the denominator
// used throughout the lifecycle engine's rate calculations.
func (h HeuristicLifecycle) TotalApplications() int {
	return h.TimesValidated + h.TimesViolated + h.TimesContradicted
}

// GetHeuristicLifecycle loads the full lifecycle row for id, or nil if absent.
func (s *Store) GetHeuristicLifecycle(id string) (*HeuristicLifecycle, error) {
	row := s.db.QueryRow(`
		SELECT id, domain, statement, confidence, COALESCE(confidence_ema, confidence),
		       ema_alpha, ema_warmup_remaining, status, is_golden,
		       times_validated, times_violated, times_contradicted, times_revived,
		       min_applications, last_confidence_update, last_applied_at, dormant_since,
		       update_count_today, update_count_reset_date
		FROM heuristics WHERE id = ?`, id)

	var h HeuristicLifecycle
	if err := row.Scan(&h.ID, &h.Domain, &h.Statement, &h.Confidence, &h.ConfidenceEMA,
		&h.EMAAlpha, &h.EMAWarmupRemaining, &h.Status, &h.IsGolden,
		&h.TimesValidated, &h.TimesViolated, &h.TimesContradicted, &h.TimesRevived,
		&h.MinApplications, &h.LastConfidenceUpdate, &h.LastUsedAt, &h.DormantSince,
		&h.UpdateCountToday, &h.UpdateCountResetDate); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get heuristic lifecycle: %w", err)
	}
	return &h, nil
}

// ConfidenceUpdateRecord is one audit-trail row for a confidence transition,
// including the EMA-smoothing detail the lifecycle engine records.
type ConfidenceUpdateRecord struct {
	HeuristicID  string
	UpdateType   string
	OldConf      float64
	NewConf      float64
	RawTarget    float64
	SmoothedDelta float64
	AlphaUsed    float64
	Reason       string
	RateLimited  bool
	AgentID      string
}

// RecordConfidenceUpdateAndApply writes the audit row and the new heuristic
// state transactionally, bumping the matching outcome counter and the
// per-day rate-limit bookkeeping fields.
func (s *Store) RecordConfidenceUpdateAndApply(rec ConfidenceUpdateRecord, resetDate string, updateCountToday int, newWarmup int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: confidence update: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO confidence_updates
			(heuristic_id, outcome, delta, confidence_before, confidence_after, reason,
			 update_type, rate_limited, raw_target, smoothed_delta, alpha_used, agent_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.HeuristicID, rec.UpdateType, rec.NewConf-rec.OldConf, rec.OldConf, rec.NewConf, rec.Reason,
		rec.UpdateType, rec.RateLimited, rec.RawTarget, rec.SmoothedDelta, rec.AlphaUsed, rec.AgentID,
	); err != nil {
		return fmt.Errorf("store: insert confidence update: %w", err)
	}

	counterColumn := ""
	switch rec.UpdateType {
	case "success":
		counterColumn = "times_validated = times_validated + 1"
	case "failure":
		counterColumn = "times_violated = times_violated + 1"
	case "contradiction":
		counterColumn = "times_contradicted = times_contradicted + 1"
	}

	now := time.Now().UTC()
	query := `UPDATE heuristics SET confidence = ?, confidence_ema = ?, ema_alpha = ?,
		ema_warmup_remaining = ?, last_confidence_update = ?, last_ema_update = ?,
		last_applied_at = ?, update_count_today = ?, update_count_reset_date = ?,
		updated_at = datetime('now')`
	if counterColumn != "" {
		query += ", " + counterColumn
	}
	query += " WHERE id = ?"

	if _, err := tx.Exec(query, rec.NewConf, rec.NewConf, rec.AlphaUsed, newWarmup,
		now, now, now, updateCountToday, resetDate, rec.HeuristicID); err != nil {
		return fmt.Errorf("store: update heuristic lifecycle state: %w", err)
	}
	return tx.Commit()
}

// MakeDormant transitions a heuristic to dormant and seeds its revival
// triggers (keywords plus a fixed 90-day time trigger).
func (s *Store) MakeDormant(id string, keywords []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: make dormant: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE heuristics SET status = 'dormant', dormant_since = datetime('now'),
		updated_at = datetime('now') WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: mark dormant: %w", err)
	}
	for i, kw := range keywords {
		if i >= 5 {
			break
		}
		if _, err := tx.Exec(`INSERT INTO revival_triggers (heuristic_id, trigger_type, trigger_value) VALUES (?, 'keyword', ?)`,
			id, kw); err != nil {
			return fmt.Errorf("store: insert revival trigger: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO revival_triggers (heuristic_id, trigger_type, trigger_value) VALUES (?, 'time_period', '90')`, id); err != nil {
		return fmt.Errorf("store: insert time trigger: %w", err)
	}
	return tx.Commit()
}

// ReviveHeuristic restores a dormant heuristic to active at the given
// confidence, bumping times_revived.
func (s *Store) ReviveHeuristic(id string, newConfidence float64) error {
	_, err := s.db.Exec(`UPDATE heuristics SET status = 'active', confidence = ?, confidence_ema = ?,
		dormant_since = NULL, times_revived = times_revived + 1, last_applied_at = datetime('now'),
		updated_at = datetime('now') WHERE id = ?`, newConfidence, newConfidence, id)
	if err != nil {
		return fmt.Errorf("store: revive heuristic: %w", err)
	}
	return nil
}

// RevivalCandidate is a dormant heuristic flagged by a keyword or time trigger.
type RevivalCandidate struct {
	ID         string
	Domain     string
	Statement  string
	Confidence float64
	Trigger    string
}

// CheckKeywordRevivalTriggers returns dormant heuristics whose active keyword
// trigger appears in contextLower (already lowercased by the caller).
func (s *Store) CheckKeywordRevivalTriggers(contextLower string) ([]RevivalCandidate, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT h.id, h.domain, h.statement, h.confidence, rt.trigger_value
		FROM heuristics h
		JOIN revival_triggers rt ON h.id = rt.heuristic_id
		WHERE h.status = 'dormant' AND rt.trigger_type = 'keyword' AND rt.is_active = 1`)
	if err != nil {
		return nil, fmt.Errorf("store: keyword revival triggers: %w", err)
	}
	defer rows.Close()

	var out []RevivalCandidate
	for rows.Next() {
		var id, domain, statement, keyword string
		var confidence float64
		if err := rows.Scan(&id, &domain, &statement, &confidence, &keyword); err != nil {
			return nil, fmt.Errorf("store: scan revival candidate: %w", err)
		}
		out = append(out, RevivalCandidate{ID: id, Domain: domain, Statement: statement, Confidence: confidence, Trigger: "keyword:" + keyword})
	}
	return out, rows.Err()
}

// CheckTimeRevivalTriggers returns dormant heuristics whose time-based
// trigger has elapsed.
func (s *Store) CheckTimeRevivalTriggers() ([]RevivalCandidate, error) {
	rows, err := s.db.Query(`
		SELECT h.id, h.domain, h.statement, h.confidence, rt.trigger_value
		FROM heuristics h
		JOIN revival_triggers rt ON h.id = rt.heuristic_id
		WHERE h.status = 'dormant' AND rt.trigger_type = 'time_period' AND rt.is_active = 1
		  AND julianday('now') - julianday(h.dormant_since) >= CAST(rt.trigger_value AS INTEGER)`)
	if err != nil {
		return nil, fmt.Errorf("store: time revival triggers: %w", err)
	}
	defer rows.Close()

	var out []RevivalCandidate
	for rows.Next() {
		var id, domain, statement, days string
		var confidence float64
		if err := rows.Scan(&id, &domain, &statement, &confidence, &days); err != nil {
			return nil, fmt.Errorf("store: scan time revival candidate: %w", err)
		}
		out = append(out, RevivalCandidate{ID: id, Domain: domain, Statement: statement, Confidence: confidence, Trigger: "time:" + days + " days dormant"})
	}
	return out, rows.Err()
}

// ActiveHeuristicsByDomain returns active heuristics for merge and eviction
// scoring, most confident first; golden heuristics are included only when
// includeGolden is true.
func (s *Store) ActiveHeuristicsByDomain(domain string, includeGolden bool) ([]HeuristicLifecycle, error) {
	query := `SELECT id, domain, statement, confidence, COALESCE(confidence_ema, confidence),
		ema_alpha, ema_warmup_remaining, status, is_golden,
		times_validated, times_violated, times_contradicted, times_revived,
		min_applications, last_confidence_update, last_applied_at, dormant_since,
		update_count_today, update_count_reset_date
		FROM heuristics WHERE domain = ? AND status = 'active'`
	if !includeGolden {
		query += " AND is_golden = 0"
	}
	query += " ORDER BY confidence DESC"

	rows, err := s.db.Query(query, domain)
	if err != nil {
		return nil, fmt.Errorf("store: active heuristics by domain: %w", err)
	}
	defer rows.Close()

	var out []HeuristicLifecycle
	for rows.Next() {
		var h HeuristicLifecycle
		if err := rows.Scan(&h.ID, &h.Domain, &h.Statement, &h.Confidence, &h.ConfidenceEMA,
			&h.EMAAlpha, &h.EMAWarmupRemaining, &h.Status, &h.IsGolden,
			&h.TimesValidated, &h.TimesViolated, &h.TimesContradicted, &h.TimesRevived,
			&h.MinApplications, &h.LastConfidenceUpdate, &h.LastUsedAt, &h.DormantSince,
			&h.UpdateCountToday, &h.UpdateCountResetDate); err != nil {
			return nil, fmt.Errorf("store: scan active heuristic: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// RecentActiveHeuristics returns active heuristics across every domain,
// most recently created first, for callers with no domain filter to apply
// (e.g. the context builder's no-domain fallback).
func (s *Store) RecentActiveHeuristics(excludeGolden bool, limit int) ([]HeuristicLifecycle, error) {
	query := `SELECT id, domain, statement, confidence, COALESCE(confidence_ema, confidence),
		ema_alpha, ema_warmup_remaining, status, is_golden,
		times_validated, times_violated, times_contradicted, times_revived,
		min_applications, last_confidence_update, last_applied_at, dormant_since,
		update_count_today, update_count_reset_date
		FROM heuristics WHERE status = 'active'`
	if excludeGolden {
		query += " AND is_golden = 0"
	}
	query += " ORDER BY created_at DESC, confidence DESC LIMIT ?"

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent active heuristics: %w", err)
	}
	defer rows.Close()

	var out []HeuristicLifecycle
	for rows.Next() {
		var h HeuristicLifecycle
		if err := rows.Scan(&h.ID, &h.Domain, &h.Statement, &h.Confidence, &h.ConfidenceEMA,
			&h.EMAAlpha, &h.EMAWarmupRemaining, &h.Status, &h.IsGolden,
			&h.TimesValidated, &h.TimesViolated, &h.TimesContradicted, &h.TimesRevived,
			&h.MinApplications, &h.LastConfidenceUpdate, &h.LastUsedAt, &h.DormantSince,
			&h.UpdateCountToday, &h.UpdateCountResetDate); err != nil {
			return nil, fmt.Errorf("store: scan recent heuristic: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// HeuristicAggregates summarizes active-heuristic health for the metrics
// the context builder reports after every build.
type HeuristicAggregates struct {
	AvgConfidence     float64
	TotalValidated    int
	TotalViolated     int
	TotalApplications int
}

// HeuristicAggregatesByDomain computes aggregate stats over active
// heuristics, scoped to domain if non-empty.
func (s *Store) HeuristicAggregatesByDomain(domain string) (HeuristicAggregates, error) {
	query := `SELECT COALESCE(AVG(confidence), 0), COALESCE(SUM(times_validated), 0),
		COALESCE(SUM(times_violated), 0), COALESCE(SUM(times_validated + times_violated + times_contradicted), 0)
		FROM heuristics WHERE status = 'active'`
	args := []any{}
	if domain != "" {
		query += " AND domain = ?"
		args = append(args, domain)
	}
	var a HeuristicAggregates
	err := s.db.QueryRow(query, args...).Scan(&a.AvgConfidence, &a.TotalValidated, &a.TotalViolated, &a.TotalApplications)
	if err != nil {
		return HeuristicAggregates{}, fmt.Errorf("store: heuristic aggregates: %w", err)
	}
	return a, nil
}

// CountActiveByDomain returns the number of active heuristics in domain.
func (s *Store) CountActiveByDomain(domain string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM heuristics WHERE domain = ? AND status = 'active'`, domain).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: count active by domain: %w", err)
	}
	return count, nil
}

// DomainMetadataRow is the persisted elasticity configuration and state for
// one domain.
type DomainMetadataRow struct {
	Domain                   string
	SoftLimit                int
	HardLimit                int
	CEOOverrideLimit         sql.NullInt64
	State                    string
	OverflowEnteredAt        sql.NullTime
	GracePeriodDays          int
	MaxOverflowDays          int
	ExpansionMinConfidence   float64
	ExpansionMinValidations  int
	ExpansionMinNovelty      float64
	HealthScore              float64
}

// GetDomainMetadata loads the domain row, or nil if the domain has never
// been configured (callers fall back to defaults: soft=5, hard=10, normal).
func (s *Store) GetDomainMetadata(domain string) (*DomainMetadataRow, error) {
	row := s.db.QueryRow(`
		SELECT domain, soft_limit, hard_limit, ceo_override_limit, state, overflow_entered_at,
		       grace_period_days, max_overflow_days, expansion_min_confidence,
		       expansion_min_validations, expansion_min_novelty, health_score
		FROM domain_metadata WHERE domain = ?`, domain)

	var d DomainMetadataRow
	if err := row.Scan(&d.Domain, &d.SoftLimit, &d.HardLimit, &d.CEOOverrideLimit, &d.State, &d.OverflowEnteredAt,
		&d.GracePeriodDays, &d.MaxOverflowDays, &d.ExpansionMinConfidence,
		&d.ExpansionMinValidations, &d.ExpansionMinNovelty, &d.HealthScore); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get domain metadata: %w", err)
	}
	return &d, nil
}

// EnsureDomainMetadata inserts a default row for domain if none exists.
func (s *Store) EnsureDomainMetadata(domain string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO domain_metadata (domain) VALUES (?)`, domain)
	if err != nil {
		return fmt.Errorf("store: ensure domain metadata: %w", err)
	}
	return nil
}

// SetDomainState updates a domain's elasticity state (normal/overflow) and,
// when entering overflow, stamps overflow_entered_at.
func (s *Store) SetDomainState(domain, state string, enteringOverflow bool) error {
	if enteringOverflow {
		_, err := s.db.Exec(`UPDATE domain_metadata SET state = ?, overflow_entered_at = datetime('now'),
			updated_at = datetime('now') WHERE domain = ?`, state, domain)
		if err != nil {
			return fmt.Errorf("store: set domain state: %w", err)
		}
		return nil
	}
	_, err := s.db.Exec(`UPDATE domain_metadata SET state = ?, overflow_entered_at = NULL,
		updated_at = datetime('now') WHERE domain = ?`, state, domain)
	if err != nil {
		return fmt.Errorf("store: set domain state: %w", err)
	}
	return nil
}

// InsertMergedHeuristic creates the target of a merge and archives the
// sources, recording both the merge and an expansion event transactionally.
func (s *Store) InsertMergedHeuristic(targetID, domain, statement, source string, confidence float64,
	totalValidated, totalViolated, totalContradicted int, sourceIDs []string, mergeReason string, similarity float64) error {

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: merge heuristics: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO heuristics
		(id, statement, domain, confidence, confidence_ema, source, status,
		 times_validated, times_violated, times_contradicted, last_applied_at)
		VALUES (?, ?, ?, ?, ?, ?, 'active', ?, ?, ?, datetime('now'))`,
		targetID, statement, domain, confidence, confidence, source,
		totalValidated, totalViolated, totalContradicted); err != nil {
		return fmt.Errorf("store: insert merged heuristic: %w", err)
	}

	for _, id := range sourceIDs {
		if _, err := tx.Exec(`UPDATE heuristics SET status = 'archived', merged_into = ?,
			updated_at = datetime('now') WHERE id = ?`, targetID, id); err != nil {
			return fmt.Errorf("store: archive merge source: %w", err)
		}
	}

	sourceIDsJoined := ""
	for i, id := range sourceIDs {
		if i > 0 {
			sourceIDsJoined += ","
		}
		sourceIDsJoined += id
	}
	if _, err := tx.Exec(`INSERT INTO heuristic_merges (source_ids, target_id, merge_reason, similarity_score)
		VALUES (?, ?, ?, ?)`, sourceIDsJoined, targetID, mergeReason, similarity); err != nil {
		return fmt.Errorf("store: record merge: %w", err)
	}

	if _, err := tx.Exec(`INSERT INTO expansion_events (domain, heuristic_id, event_type, count_before, count_after, reason)
		VALUES (?, ?, 'merge', ?, 1, ?)`, domain, targetID, len(sourceIDs), mergeReason); err != nil {
		return fmt.Errorf("store: log expansion event: %w", err)
	}

	return tx.Commit()
}

// LogExpansionEvent records a domain elasticity event outside of a merge
// (contraction, dormancy-from-limits).
func (s *Store) LogExpansionEvent(domain, eventType string, countBefore, countAfter int, reason string) error {
	_, err := s.db.Exec(`INSERT INTO expansion_events (domain, event_type, count_before, count_after, reason)
		VALUES (?, ?, ?, ?, ?)`, domain, eventType, countBefore, countAfter, reason)
	if err != nil {
		return fmt.Errorf("store: log expansion event: %w", err)
	}
	return nil
}

// ArchiveDormantOlderThan archives dormant heuristics whose dormant_since
// exceeds thresholdDays, optionally scoped to one domain.
func (s *Store) ArchiveDormantOlderThan(thresholdDays int, domain string) ([]string, error) {
	query := `SELECT id FROM heuristics WHERE status = 'dormant'
		AND julianday('now') - julianday(dormant_since) > ?`
	args := []any{thresholdDays}
	if domain != "" {
		query += " AND domain = ?"
		args = append(args, domain)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: find stale dormant: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: scan stale dormant: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := s.db.Exec(`UPDATE heuristics SET status = 'archived', updated_at = datetime('now') WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("store: archive dormant %s: %w", id, err)
		}
	}
	return ids, nil
}

// DecayStaleHeuristics applies confidence decay to active heuristics unused
// for more than halfLifeDays, floored at minConfidence. Returns the ids that
// dropped below decayFloor so the caller can make them dormant.
func (s *Store) DecayStaleHeuristics(halfLifeDays int, minConfidence, decayFloor float64) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT id, confidence FROM heuristics
		WHERE status = 'active' AND is_golden = 0
		  AND julianday('now') - julianday(COALESCE(last_applied_at, created_at)) > ?`, halfLifeDays)
	if err != nil {
		return nil, fmt.Errorf("store: find stale heuristics: %w", err)
	}

	type row struct {
		id   string
		conf float64
	}
	var toDecay []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.conf); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: scan stale heuristic: %w", err)
		}
		toDecay = append(toDecay, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var wentDormant []string
	for _, r := range toDecay {
		newConf := r.conf * 0.92
		if newConf < minConfidence {
			newConf = minConfidence
		}
		if _, err := s.db.Exec(`UPDATE heuristics SET confidence = ?, confidence_ema = ?, updated_at = datetime('now') WHERE id = ?`,
			newConf, newConf, r.id); err != nil {
			return nil, fmt.Errorf("store: decay heuristic %s: %w", r.id, err)
		}
		if newConf < decayFloor {
			wentDormant = append(wentDormant, r.id)
		}
	}
	return wentDormant, nil
}

// DistinctActiveDomains returns every domain with at least one active heuristic.
func (s *Store) DistinctActiveDomains() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT domain FROM heuristics WHERE status = 'active'`)
	if err != nil {
		return nil, fmt.Errorf("store: distinct active domains: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("store: scan domain: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// LifecycleStatusCounts reports heuristic counts and average confidence per
// status, for the stats/summary surface.
func (s *Store) LifecycleStatusCounts() (map[string]struct {
	Count         int
	AvgConfidence float64
}, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*), AVG(confidence) FROM heuristics GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("store: lifecycle status counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct {
		Count         int
		AvgConfidence float64
	})
	for rows.Next() {
		var status string
		var count int
		var avg sql.NullFloat64
		if err := rows.Scan(&status, &count, &avg); err != nil {
			return nil, fmt.Errorf("store: scan status counts: %w", err)
		}
		out[status] = struct {
			Count         int
			AvgConfidence float64
		}{Count: count, AvgConfidence: avg.Float64}
	}
	return out, rows.Err()
}
