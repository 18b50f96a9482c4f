package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Decision records a considered choice with its rejected alternatives.
type Decision struct {
	ID           string
	Title        string
	Decision     string
	Rationale    string
	Alternatives string // JSON array
	Status       string
	Domain       string
	CreatedAt    time.Time
}

// InsertDecision persists a decision record.
func (s *Store) InsertDecision(d Decision) error {
	if d.Status == "" {
		d.Status = "proposed"
	}
	if d.Alternatives == "" {
		d.Alternatives = "[]"
	}
	_, err := s.db.Exec(
		`INSERT INTO decisions (id, title, decision, rationale, alternatives, status, domain) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Title, d.Decision, d.Rationale, d.Alternatives, d.Status, d.Domain,
	)
	if err != nil {
		return fmt.Errorf("store: insert decision: %w", err)
	}
	return nil
}

// ListDecisions returns decisions matching domain (if non-empty) and status,
// most recent first.
func (s *Store) ListDecisions(domain, status string, limit int) ([]Decision, error) {
	query := `SELECT id, title, decision, rationale, alternatives, status, domain, created_at FROM decisions WHERE 1=1`
	var args []any
	if domain != "" {
		query += " AND domain = ?"
		args = append(args, domain)
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list decisions: %w", err)
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var d Decision
		if err := rows.Scan(&d.ID, &d.Title, &d.Decision, &d.Rationale, &d.Alternatives, &d.Status, &d.Domain, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Invariant is an always-true statement about a domain's behavior.
type Invariant struct {
	ID             string
	Statement      string
	Domain         string
	Scope          string
	Severity       string
	ValidationType string
	Rationale      string
	Status         string
	ViolationCount int
	CreatedAt      time.Time
}

// InsertInvariant persists an invariant.
func (s *Store) InsertInvariant(inv Invariant) error {
	if inv.Severity == "" {
		inv.Severity = "medium"
	}
	if inv.Status == "" {
		inv.Status = "active"
	}
	_, err := s.db.Exec(
		`INSERT INTO invariants (id, statement, domain, scope, severity, validation_type, rationale, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.Statement, inv.Domain, inv.Scope, inv.Severity, inv.ValidationType, inv.Rationale, inv.Status,
	)
	if err != nil {
		return fmt.Errorf("store: insert invariant: %w", err)
	}
	return nil
}

// ListInvariants returns invariants scoped to a domain (all domains if
// empty) and status, most violated first.
func (s *Store) ListInvariants(domain, status string, limit int) ([]Invariant, error) {
	query := `SELECT id, statement, domain, scope, severity, validation_type, rationale, status, violation_count, created_at
	          FROM invariants WHERE 1=1`
	var args []any
	if domain != "" {
		query += " AND domain = ?"
		args = append(args, domain)
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY violation_count DESC, created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list invariants: %w", err)
	}
	defer rows.Close()

	var out []Invariant
	for rows.Next() {
		var inv Invariant
		if err := rows.Scan(&inv.ID, &inv.Statement, &inv.Domain, &inv.Scope, &inv.Severity, &inv.ValidationType,
			&inv.Rationale, &inv.Status, &inv.ViolationCount, &inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan invariant: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// RecordInvariantViolation marks an invariant violated and bumps its count.
func (s *Store) RecordInvariantViolation(id string) error {
	_, err := s.db.Exec(`UPDATE invariants SET status = 'violated', violation_count = violation_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: record invariant violation: %w", err)
	}
	return nil
}

// Assumption is a belief held about a domain that may later be invalidated.
type Assumption struct {
	ID              string
	Statement       string
	Domain          string
	Validated       bool
	Confidence      float64
	Status          string // active, challenged, invalidated
	Context         string
	Source          string
	VerifiedCount   int
	ChallengedCount int
	InvalidatedAt   sql.NullTime
	CreatedAt       time.Time
}

// InsertAssumption persists an assumption.
func (s *Store) InsertAssumption(a Assumption) error {
	if a.Status == "" {
		a.Status = "active"
	}
	if a.Confidence == 0 {
		a.Confidence = 0.5
	}
	_, err := s.db.Exec(
		`INSERT INTO assumptions (id, statement, domain, validated, confidence, status, context, source)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Statement, a.Domain, a.Validated, a.Confidence, a.Status, a.Context, a.Source,
	)
	if err != nil {
		return fmt.Errorf("store: insert assumption: %w", err)
	}
	return nil
}

// InvalidateAssumption marks an assumption as no longer true.
func (s *Store) InvalidateAssumption(id string) error {
	_, err := s.db.Exec(
		`UPDATE assumptions SET validated = 0, status = 'invalidated', invalidated_at = datetime('now') WHERE id = ?`, id,
	)
	if err != nil {
		return fmt.Errorf("store: invalidate assumption: %w", err)
	}
	return nil
}

// ChallengeAssumption marks an assumption challenged without invalidating it
// outright, bumping its challenged count.
func (s *Store) ChallengeAssumption(id string) error {
	_, err := s.db.Exec(
		`UPDATE assumptions SET status = 'challenged', challenged_count = challenged_count + 1 WHERE id = ?`, id,
	)
	if err != nil {
		return fmt.Errorf("store: challenge assumption: %w", err)
	}
	return nil
}

// VerifyAssumption bumps an assumption's verified count.
func (s *Store) VerifyAssumption(id string) error {
	_, err := s.db.Exec(`UPDATE assumptions SET verified_count = verified_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: verify assumption: %w", err)
	}
	return nil
}

// ListAssumptions returns assumptions with the given status (any status if
// empty) for a domain (all domains if empty) at or above minConfidence,
// highest confidence first.
func (s *Store) ListAssumptions(domain, status string, minConfidence float64, limit int) ([]Assumption, error) {
	query := `SELECT id, statement, domain, validated, confidence, status, context, source, verified_count, challenged_count, invalidated_at, created_at
	          FROM assumptions WHERE confidence >= ?`
	args := []any{minConfidence}
	if domain != "" {
		query += " AND domain = ?"
		args = append(args, domain)
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY confidence DESC LIMIT ?"
	args = append(args, limit)

	return scanAssumptions(s.db.Query(query, args...))
}

// ListChallengedAssumptions returns challenged or invalidated assumptions
// for a domain (all domains if empty).
func (s *Store) ListChallengedAssumptions(domain string, limit int) ([]Assumption, error) {
	query := `SELECT id, statement, domain, validated, confidence, status, context, source, verified_count, challenged_count, invalidated_at, created_at
	          FROM assumptions WHERE status IN ('challenged', 'invalidated')`
	var args []any
	if domain != "" {
		query += " AND domain = ?"
		args = append(args, domain)
	}
	query += " ORDER BY challenged_count DESC LIMIT ?"
	args = append(args, limit)

	return scanAssumptions(s.db.Query(query, args...))
}

func scanAssumptions(rows *sql.Rows, err error) ([]Assumption, error) {
	if err != nil {
		return nil, fmt.Errorf("store: list assumptions: %w", err)
	}
	defer rows.Close()

	var out []Assumption
	for rows.Next() {
		var a Assumption
		if err := rows.Scan(&a.ID, &a.Statement, &a.Domain, &a.Validated, &a.Confidence, &a.Status, &a.Context,
			&a.Source, &a.VerifiedCount, &a.ChallengedCount, &a.InvalidatedAt, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan assumption: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SpikeReport records the findings of a time-boxed investigation.
type SpikeReport struct {
	ID                  string
	Question            string
	Title               string
	Topic               string
	Findings            string
	Gotchas             string
	Conclusion          string
	Domain              string
	TimeInvestedMinutes int
	UsefulnessScore     float64
	CreatedAt           time.Time
}

// InsertSpikeReport persists a spike report.
func (s *Store) InsertSpikeReport(r SpikeReport) error {
	_, err := s.db.Exec(
		`INSERT INTO spike_reports (id, question, title, topic, findings, gotchas, conclusion, domain, time_invested_minutes, usefulness_score)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Question, r.Title, r.Topic, r.Findings, r.Gotchas, r.Conclusion, r.Domain, r.TimeInvestedMinutes, r.UsefulnessScore,
	)
	if err != nil {
		return fmt.Errorf("store: insert spike report: %w", err)
	}
	return nil
}

// ListSpikeReports returns spike reports for a domain (all domains if
// empty), most useful and most recent first.
func (s *Store) ListSpikeReports(domain string, limit int) ([]SpikeReport, error) {
	query := `SELECT id, question, title, topic, findings, gotchas, conclusion, domain, time_invested_minutes, usefulness_score, created_at
	          FROM spike_reports WHERE 1=1`
	var args []any
	if domain != "" {
		query += " AND domain = ?"
		args = append(args, domain)
	}
	query += " ORDER BY usefulness_score DESC, created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list spike reports: %w", err)
	}
	defer rows.Close()

	var out []SpikeReport
	for rows.Next() {
		var r SpikeReport
		if err := rows.Scan(&r.ID, &r.Question, &r.Title, &r.Topic, &r.Findings, &r.Gotchas, &r.Conclusion, &r.Domain,
			&r.TimeInvestedMinutes, &r.UsefulnessScore, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan spike report: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Postmortem captures root cause and remediation for an incident.
type Postmortem struct {
	ID          string
	IncidentID  string
	Title       string
	RootCause   string
	Remediation string
	Domain      string
	CreatedAt   time.Time
}

// InsertPostmortem persists a postmortem.
func (s *Store) InsertPostmortem(p Postmortem) error {
	_, err := s.db.Exec(
		`INSERT INTO postmortems (id, incident_id, title, root_cause, remediation, domain) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.IncidentID, p.Title, p.RootCause, p.Remediation, p.Domain,
	)
	if err != nil {
		return fmt.Errorf("store: insert postmortem: %w", err)
	}
	return nil
}

// ListRecentPostmortems returns the most recent postmortems for a domain
// (all domains if empty).
func (s *Store) ListRecentPostmortems(domain string, limit int) ([]Postmortem, error) {
	query := `SELECT id, incident_id, title, root_cause, remediation, domain, created_at FROM postmortems WHERE 1=1`
	var args []any
	if domain != "" {
		query += " AND domain = ?"
		args = append(args, domain)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list postmortems: %w", err)
	}
	defer rows.Close()

	var out []Postmortem
	for rows.Next() {
		var p Postmortem
		if err := rows.Scan(&p.ID, &p.IncidentID, &p.Title, &p.RootCause, &p.Remediation, &p.Domain, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan postmortem: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Plan is a proposed sequence of steps toward a goal.
type Plan struct {
	ID        string
	Title     string
	Goal      string
	Steps     string // JSON array
	Status    string
	Domain    string
	CreatedAt time.Time
}

// InsertPlan persists a plan.
func (s *Store) InsertPlan(p Plan) error {
	if p.Status == "" {
		p.Status = "draft"
	}
	if p.Steps == "" {
		p.Steps = "[]"
	}
	_, err := s.db.Exec(
		`INSERT INTO plans (id, title, goal, steps, status, domain) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.Goal, p.Steps, p.Status, p.Domain,
	)
	if err != nil {
		return fmt.Errorf("store: insert plan: %w", err)
	}
	return nil
}

// ListActivePlans returns plans with status='active' for a domain (all
// domains if empty).
func (s *Store) ListActivePlans(domain string, limit int) ([]Plan, error) {
	query := `SELECT id, title, goal, steps, status, domain, created_at FROM plans WHERE status = 'active'`
	var args []any
	if domain != "" {
		query += " AND domain = ?"
		args = append(args, domain)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list active plans: %w", err)
	}
	defer rows.Close()

	var out []Plan
	for rows.Next() {
		var p Plan
		if err := rows.Scan(&p.ID, &p.Title, &p.Goal, &p.Steps, &p.Status, &p.Domain, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan plan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Experiment records a hypothesis, method, and outcome.
type Experiment struct {
	ID         string
	Name       string
	Hypothesis string
	Method     string
	Result     string
	Conclusion string
	Status     string
	CyclesRun  int
	CreatedAt  time.Time
}

// InsertExperiment persists an experiment.
func (s *Store) InsertExperiment(e Experiment) error {
	if e.Status == "" {
		e.Status = "active"
	}
	_, err := s.db.Exec(
		`INSERT INTO experiments (id, name, hypothesis, method, result, conclusion, status) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, e.Hypothesis, e.Method, e.Result, e.Conclusion, e.Status,
	)
	if err != nil {
		return fmt.Errorf("store: insert experiment: %w", err)
	}
	return nil
}

// IncrementExperimentCycles bumps an experiment's cycle count.
func (s *Store) IncrementExperimentCycles(id string) error {
	_, err := s.db.Exec(`UPDATE experiments SET cycles_run = cycles_run + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: increment experiment cycles: %w", err)
	}
	return nil
}

// ListActiveExperiments returns experiments with status='active'.
func (s *Store) ListActiveExperiments(limit int) ([]Experiment, error) {
	rows, err := s.db.Query(
		`SELECT id, name, hypothesis, method, result, conclusion, status, cycles_run, created_at
		 FROM experiments WHERE status = 'active' ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list active experiments: %w", err)
	}
	defer rows.Close()

	var out []Experiment
	for rows.Next() {
		var e Experiment
		if err := rows.Scan(&e.ID, &e.Name, &e.Hypothesis, &e.Method, &e.Result, &e.Conclusion, &e.Status, &e.CyclesRun, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan experiment: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CEOReview is an executive sign-off recorded against a subject (a plan, a
// decision, a fraud report escalation) requiring human judgment.
type CEOReview struct {
	ID             string
	Title          string
	Subject        string
	Context        string
	Recommendation string
	Verdict        string
	Status         string // pending, resolved
	Notes          string
	ReviewedAt     time.Time
	CreatedAt      time.Time
}

// InsertCEOReview persists an executive review.
func (s *Store) InsertCEOReview(r CEOReview) error {
	if r.Status == "" {
		r.Status = "pending"
	}
	_, err := s.db.Exec(
		`INSERT INTO ceo_reviews (id, title, subject, context, recommendation, verdict, status, notes) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Title, r.Subject, r.Context, r.Recommendation, r.Verdict, r.Status, r.Notes,
	)
	if err != nil {
		return fmt.Errorf("store: insert CEO review: %w", err)
	}
	return nil
}

// ListPendingCEOReviews returns reviews awaiting a verdict.
func (s *Store) ListPendingCEOReviews(limit int) ([]CEOReview, error) {
	rows, err := s.db.Query(
		`SELECT id, title, subject, context, recommendation, verdict, status, notes, reviewed_at, created_at
		 FROM ceo_reviews WHERE status = 'pending' ORDER BY created_at ASC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list pending ceo reviews: %w", err)
	}
	defer rows.Close()

	var out []CEOReview
	for rows.Next() {
		var r CEOReview
		if err := rows.Scan(&r.ID, &r.Title, &r.Subject, &r.Context, &r.Recommendation, &r.Verdict, &r.Status,
			&r.Notes, &r.ReviewedAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan ceo review: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
