package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Learning is a captured failure, success, heuristic, experiment, or
// observation indexed for full-text retrieval by the context builder.
type Learning struct {
	ID        string
	Type      string // failure, success, heuristic, experiment, observation
	Filepath  string
	Title     string
	Summary   string
	Tags      []string
	Domain    string
	Severity  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// InsertLearning persists a learning and updates the FTS5 index via triggers.
func (s *Store) InsertLearning(l Learning) error {
	if l.Severity < 1 || l.Severity > 5 {
		l.Severity = 3
	}
	_, err := s.db.Exec(
		`INSERT INTO learnings (id, type, filepath, title, summary, tags, domain, severity)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Type, l.Filepath, l.Title, l.Summary, strings.Join(l.Tags, ","), l.Domain, l.Severity,
	)
	if err != nil {
		return fmt.Errorf("store: insert learning: %w", err)
	}
	return nil
}

// SearchLearnings performs FTS5 full-text search over title/summary/tags,
// ranked by BM25 relevance.
func (s *Store) SearchLearnings(query string, limit int) ([]Learning, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(
		`SELECT l.id, l.type, l.filepath, l.title, l.summary, l.tags, l.domain, l.severity, l.created_at, l.updated_at
		 FROM learnings l
		 JOIN learnings_fts f ON l.rowid = f.rowid
		 WHERE learnings_fts MATCH ?
		 ORDER BY bm25(learnings_fts)
		 LIMIT ?`, query, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: search learnings: %w", err)
	}
	defer rows.Close()
	return scanLearnings(rows)
}

// SearchLearningsByFilePath finds learnings whose filepath tokens overlap
// with the given paths, used by the context builder's file-scoped tier.
func (s *Store) SearchLearningsByFilePath(filePaths []string, limit int) ([]Learning, error) {
	if len(filePaths) == 0 {
		return nil, nil
	}
	seen := make(map[string]bool)
	var terms []string
	for _, p := range filePaths {
		for _, part := range strings.FieldsFunc(p, func(r rune) bool {
			return r == '/' || r == '.' || r == '_' || r == '-'
		}) {
			part = strings.TrimSpace(part)
			if len(part) > 1 && !seen[part] {
				seen[part] = true
				terms = append(terms, part)
			}
		}
	}
	if len(terms) == 0 {
		return nil, nil
	}
	return s.SearchLearnings(strings.Join(terms, " OR "), limit)
}

// RecentLearnings returns the N most recent learnings for a domain (or all
// domains if domain is empty).
func (s *Store) RecentLearnings(domain string, limit int) ([]Learning, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows *sql.Rows
	var err error
	if domain == "" {
		rows, err = s.db.Query(
			`SELECT id, type, filepath, title, summary, tags, domain, severity, created_at, updated_at
			 FROM learnings ORDER BY created_at DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.Query(
			`SELECT id, type, filepath, title, summary, tags, domain, severity, created_at, updated_at
			 FROM learnings WHERE domain = ? ORDER BY created_at DESC LIMIT ?`, domain, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("store: recent learnings: %w", err)
	}
	defer rows.Close()
	return scanLearnings(rows)
}

// RecentLearningsByType returns the N most recent learnings of a given type
// (e.g. "failure"), across all domains.
func (s *Store) RecentLearningsByType(learningType string, limit int) ([]Learning, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(
		`SELECT id, type, filepath, title, summary, tags, domain, severity, created_at, updated_at
		 FROM learnings WHERE type = ? ORDER BY created_at DESC LIMIT ?`, learningType, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent learnings by type: %w", err)
	}
	defer rows.Close()
	return scanLearnings(rows)
}

func scanLearnings(rows *sql.Rows) ([]Learning, error) {
	var out []Learning
	for rows.Next() {
		var l Learning
		var tags string
		if err := rows.Scan(&l.ID, &l.Type, &l.Filepath, &l.Title, &l.Summary, &tags, &l.Domain,
			&l.Severity, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan learning: %w", err)
		}
		if tags != "" {
			l.Tags = strings.Split(tags, ",")
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
