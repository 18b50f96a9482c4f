package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Heuristic is a confidence-weighted rule the lifecycle engine maintains.
type Heuristic struct {
	ID            string
	Statement     string
	Domain        string
	Confidence    float64
	Status        string // active, deprecated, merged, dormant, archived
	EvidenceCount int
	Source        string
	MergedInto    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastAppliedAt sql.NullTime
}

// InsertHeuristic creates a new heuristic record with an initial confidence.
func (s *Store) InsertHeuristic(id, statement, domain, source string, confidence float64) error {
	_, err := s.db.Exec(
		`INSERT INTO heuristics (id, statement, domain, confidence, source) VALUES (?, ?, ?, ?, ?)`,
		id, statement, domain, confidence, source,
	)
	if err != nil {
		return fmt.Errorf("store: insert heuristic: %w", err)
	}
	return nil
}

// GetHeuristic loads a heuristic by ID.
func (s *Store) GetHeuristic(id string) (*Heuristic, error) {
	row := s.db.QueryRow(
		`SELECT id, statement, domain, confidence, status, evidence_count, source, merged_into,
		        created_at, updated_at, last_applied_at
		 FROM heuristics WHERE id = ?`, id,
	)
	var h Heuristic
	if err := row.Scan(&h.ID, &h.Statement, &h.Domain, &h.Confidence, &h.Status, &h.EvidenceCount,
		&h.Source, &h.MergedInto, &h.CreatedAt, &h.UpdatedAt, &h.LastAppliedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get heuristic: %w", err)
	}
	return &h, nil
}

// ListHeuristicsByDomain returns active heuristics for a domain, most confident first.
func (s *Store) ListHeuristicsByDomain(domain string) ([]Heuristic, error) {
	rows, err := s.db.Query(
		`SELECT id, statement, domain, confidence, status, evidence_count, source, merged_into,
		        created_at, updated_at, last_applied_at
		 FROM heuristics WHERE domain = ? AND status = 'active' ORDER BY confidence DESC`, domain,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list heuristics: %w", err)
	}
	defer rows.Close()

	var out []Heuristic
	for rows.Next() {
		var h Heuristic
		if err := rows.Scan(&h.ID, &h.Statement, &h.Domain, &h.Confidence, &h.Status, &h.EvidenceCount,
			&h.Source, &h.MergedInto, &h.CreatedAt, &h.UpdatedAt, &h.LastAppliedAt); err != nil {
			return nil, fmt.Errorf("store: scan heuristic: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ApplyConfidenceUpdate records a confidence transition and updates the
// heuristic row atomically, incrementing evidence_count and last_applied_at.
func (s *Store) ApplyConfidenceUpdate(heuristicID, outcome string, before, after float64, reason string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: apply confidence update: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO confidence_updates (heuristic_id, outcome, delta, confidence_before, confidence_after, reason)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		heuristicID, outcome, after-before, before, after, reason,
	); err != nil {
		return fmt.Errorf("store: insert confidence update: %w", err)
	}

	if _, err := tx.Exec(
		`UPDATE heuristics SET confidence = ?, evidence_count = evidence_count + 1,
		        updated_at = datetime('now'), last_applied_at = datetime('now') WHERE id = ?`,
		after, heuristicID,
	); err != nil {
		return fmt.Errorf("store: update heuristic confidence: %w", err)
	}

	return tx.Commit()
}

// ConfidenceHistory returns the chronological confidence_updates for a heuristic.
func (s *Store) ConfidenceHistory(heuristicID string) ([]float64, error) {
	rows, err := s.db.Query(
		`SELECT confidence_after FROM confidence_updates WHERE heuristic_id = ? ORDER BY created_at ASC`,
		heuristicID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: confidence history: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("store: scan confidence history: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// MarkHeuristicMerged retires a heuristic into another, preserving history.
func (s *Store) MarkHeuristicMerged(id, mergedInto string) error {
	_, err := s.db.Exec(
		`UPDATE heuristics SET status = 'merged', merged_into = ?, updated_at = datetime('now') WHERE id = ?`,
		mergedInto, id,
	)
	if err != nil {
		return fmt.Errorf("store: mark heuristic merged: %w", err)
	}
	return nil
}

// DeprecateHeuristic marks a heuristic as no longer applied.
func (s *Store) DeprecateHeuristic(id string) error {
	_, err := s.db.Exec(
		`UPDATE heuristics SET status = 'deprecated', updated_at = datetime('now') WHERE id = ?`, id,
	)
	if err != nil {
		return fmt.Errorf("store: deprecate heuristic: %w", err)
	}
	return nil
}
