// Package store provides SQLite-backed persistence for the knowledge store:
// heuristics, learnings, decisions, invariants, assumptions, spike reports,
// workflow definitions and run history, fraud reports, and the supplemental
// entities (postmortems, plans, experiments, CEO reviews) carried over from
// the system this substrate replaces. Schema evolution follows an additive,
// idempotent migration style: new columns are probed via pragma_table_info
// and added with ALTER TABLE, never destructively rewritten.
package store

import (
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite connection shared by every knowledge-store table.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS heuristics (
	id TEXT PRIMARY KEY,
	statement TEXT NOT NULL,
	domain TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 0.5,
	status TEXT NOT NULL DEFAULT 'active',
	evidence_count INTEGER NOT NULL DEFAULT 0,
	source TEXT NOT NULL DEFAULT '',
	merged_into TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	last_applied_at DATETIME
);

CREATE TABLE IF NOT EXISTS confidence_updates (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	heuristic_id TEXT NOT NULL REFERENCES heuristics(id),
	outcome TEXT NOT NULL,
	delta REAL NOT NULL,
	confidence_before REAL NOT NULL,
	confidence_after REAL NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS learnings (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	filepath TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL,
	summary TEXT NOT NULL,
	tags TEXT NOT NULL DEFAULT '',
	domain TEXT NOT NULL DEFAULT '',
	severity INTEGER NOT NULL DEFAULT 3,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE VIRTUAL TABLE IF NOT EXISTS learnings_fts USING fts5(
	title, summary, tags, content='learnings', content_rowid='rowid'
);

CREATE TABLE IF NOT EXISTS decisions (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	rationale TEXT NOT NULL,
	alternatives TEXT NOT NULL DEFAULT '[]',
	status TEXT NOT NULL DEFAULT 'proposed',
	domain TEXT NOT NULL DEFAULT '',
	decision TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS invariants (
	id TEXT PRIMARY KEY,
	statement TEXT NOT NULL,
	domain TEXT NOT NULL DEFAULT '',
	scope TEXT NOT NULL DEFAULT '',
	severity TEXT NOT NULL DEFAULT 'medium',
	validation_type TEXT NOT NULL DEFAULT '',
	rationale TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	violation_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS assumptions (
	id TEXT PRIMARY KEY,
	statement TEXT NOT NULL,
	domain TEXT NOT NULL DEFAULT '',
	validated BOOLEAN NOT NULL DEFAULT 0,
	confidence REAL NOT NULL DEFAULT 0.5,
	status TEXT NOT NULL DEFAULT 'active',
	context TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT '',
	verified_count INTEGER NOT NULL DEFAULT 0,
	challenged_count INTEGER NOT NULL DEFAULT 0,
	invalidated_at DATETIME,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS spike_reports (
	id TEXT PRIMARY KEY,
	question TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	topic TEXT NOT NULL DEFAULT '',
	findings TEXT NOT NULL,
	gotchas TEXT NOT NULL DEFAULT '',
	conclusion TEXT NOT NULL DEFAULT '',
	domain TEXT NOT NULL DEFAULT '',
	time_invested_minutes INTEGER NOT NULL DEFAULT 0,
	usefulness_score REAL NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS postmortems (
	id TEXT PRIMARY KEY,
	incident_id TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL,
	root_cause TEXT NOT NULL DEFAULT '',
	remediation TEXT NOT NULL DEFAULT '',
	domain TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS plans (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	goal TEXT NOT NULL,
	steps TEXT NOT NULL DEFAULT '[]',
	status TEXT NOT NULL DEFAULT 'draft',
	domain TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS experiments (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	hypothesis TEXT NOT NULL,
	method TEXT NOT NULL DEFAULT '',
	result TEXT NOT NULL DEFAULT '',
	conclusion TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	cycles_run INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS ceo_reviews (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	subject TEXT NOT NULL,
	context TEXT NOT NULL DEFAULT '',
	recommendation TEXT NOT NULL DEFAULT '',
	verdict TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	notes TEXT NOT NULL DEFAULT '',
	reviewed_at DATETIME NOT NULL DEFAULT (datetime('now')),
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS workflows (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	nodes_json TEXT NOT NULL DEFAULT '[]',
	edges_json TEXT NOT NULL DEFAULT '[]',
	config_json TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS workflow_runs (
	id TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL REFERENCES workflows(id),
	workflow_name TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'running',
	phase TEXT NOT NULL DEFAULT 'init',
	input_json TEXT NOT NULL DEFAULT '{}',
	output_json TEXT NOT NULL DEFAULT '{}',
	context_json TEXT NOT NULL DEFAULT '{}',
	total_nodes INTEGER NOT NULL DEFAULT 0,
	completed_nodes INTEGER NOT NULL DEFAULT 0,
	failed_nodes INTEGER NOT NULL DEFAULT 0,
	started_at DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME,
	error_message TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS node_executions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES workflow_runs(id),
	node_id TEXT NOT NULL,
	node_name TEXT NOT NULL DEFAULT '',
	node_type TEXT NOT NULL DEFAULT 'single',
	agent_id TEXT NOT NULL DEFAULT '',
	prompt TEXT NOT NULL DEFAULT '',
	prompt_hash TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	result_text TEXT NOT NULL DEFAULT '',
	result_json TEXT NOT NULL DEFAULT '{}',
	findings_json TEXT NOT NULL DEFAULT '[]',
	files_modified TEXT NOT NULL DEFAULT '[]',
	duration_ms INTEGER,
	token_count INTEGER,
	retry_count INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	error_type TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	started_at DATETIME,
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS trails (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL DEFAULT '',
	location TEXT NOT NULL,
	scent TEXT NOT NULL DEFAULT '',
	strength REAL NOT NULL DEFAULT 1.0,
	agent_id TEXT NOT NULL DEFAULT '',
	node_id TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	tags TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	expires_at DATETIME
);

CREATE TABLE IF NOT EXISTS conductor_decisions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	node_id TEXT NOT NULL DEFAULT '',
	decision_type TEXT NOT NULL,
	decision_data TEXT NOT NULL DEFAULT '{}',
	reason TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS fraud_reports (
	id TEXT PRIMARY KEY,
	subject_id TEXT NOT NULL,
	subject_type TEXT NOT NULL DEFAULT 'heuristic',
	fraud_score REAL NOT NULL DEFAULT 0,
	classification TEXT NOT NULL DEFAULT 'clean',
	signals TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS anomaly_signals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	report_id TEXT NOT NULL REFERENCES fraud_reports(id),
	detector TEXT NOT NULL,
	score REAL NOT NULL,
	likelihood_ratio REAL NOT NULL DEFAULT 1,
	details TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS fraud_responses (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	report_id TEXT NOT NULL REFERENCES fraud_reports(id),
	action TEXT NOT NULL,
	applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS revival_triggers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	heuristic_id TEXT NOT NULL REFERENCES heuristics(id),
	trigger_type TEXT NOT NULL,
	trigger_value TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS heuristic_merges (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_ids TEXT NOT NULL,
	target_id TEXT NOT NULL REFERENCES heuristics(id),
	merge_reason TEXT NOT NULL DEFAULT '',
	similarity_score REAL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS domain_metadata (
	domain TEXT PRIMARY KEY,
	soft_limit INTEGER NOT NULL DEFAULT 5,
	hard_limit INTEGER NOT NULL DEFAULT 10,
	ceo_override_limit INTEGER,
	state TEXT NOT NULL DEFAULT 'normal',
	overflow_entered_at DATETIME,
	grace_period_days INTEGER NOT NULL DEFAULT 14,
	max_overflow_days INTEGER NOT NULL DEFAULT 60,
	expansion_min_confidence REAL NOT NULL DEFAULT 0.70,
	expansion_min_validations INTEGER NOT NULL DEFAULT 3,
	expansion_min_novelty REAL NOT NULL DEFAULT 0.60,
	health_score REAL NOT NULL DEFAULT 1.0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS expansion_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	domain TEXT NOT NULL,
	heuristic_id TEXT,
	event_type TEXT NOT NULL,
	count_before INTEGER NOT NULL DEFAULT 0,
	count_after INTEGER NOT NULL DEFAULT 0,
	reason TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS domain_baselines (
	domain TEXT PRIMARY KEY,
	avg_success_rate REAL NOT NULL DEFAULT 0,
	std_success_rate REAL NOT NULL DEFAULT 0,
	avg_update_frequency REAL NOT NULL DEFAULT 0,
	std_update_frequency REAL NOT NULL DEFAULT 0,
	sample_count INTEGER NOT NULL DEFAULT 0,
	last_updated DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS domain_baseline_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	domain TEXT NOT NULL,
	avg_success_rate REAL NOT NULL,
	std_success_rate REAL NOT NULL,
	avg_update_frequency REAL NOT NULL DEFAULT 0,
	std_update_frequency REAL NOT NULL DEFAULT 0,
	sample_count INTEGER NOT NULL DEFAULT 0,
	prev_avg_success_rate REAL,
	prev_std_success_rate REAL,
	drift_percentage REAL,
	is_significant_drift BOOLEAN NOT NULL DEFAULT 0,
	triggered_by TEXT NOT NULL DEFAULT 'manual',
	calculated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS baseline_drift_alerts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	domain TEXT NOT NULL,
	baseline_history_id INTEGER NOT NULL REFERENCES domain_baseline_history(id),
	drift_percentage REAL NOT NULL,
	previous_baseline REAL,
	new_baseline REAL NOT NULL,
	severity TEXT NOT NULL DEFAULT 'low',
	acknowledged_at DATETIME,
	acknowledged_by TEXT NOT NULL DEFAULT '',
	resolution_notes TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS baseline_refresh_schedule (
	domain TEXT PRIMARY KEY,
	interval_days INTEGER NOT NULL DEFAULT 30,
	last_refresh DATETIME,
	next_refresh DATETIME,
	enabled BOOLEAN NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS session_contexts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	agent_id TEXT NOT NULL DEFAULT '',
	context_hash TEXT NOT NULL,
	context_preview TEXT NOT NULL DEFAULT '',
	heuristics_applied TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS detector_thresholds (
	detector_name TEXT PRIMARY KEY,
	threshold REAL NOT NULL,
	updated_by TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS classification_thresholds (
	level TEXT PRIMARY KEY,
	threshold REAL NOT NULL,
	updated_by TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	last_updated DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS threshold_recommendations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	detector_name TEXT NOT NULL DEFAULT '',
	threshold_type TEXT NOT NULL,
	level TEXT NOT NULL DEFAULT '',
	current_threshold REAL NOT NULL DEFAULT 0,
	recommended_threshold REAL NOT NULL,
	target_fpr REAL NOT NULL DEFAULT 0.05,
	achieved_fpr REAL NOT NULL DEFAULT 0,
	achieved_tpr REAL NOT NULL DEFAULT 0,
	sample_size INTEGER NOT NULL DEFAULT 0,
	tp_count INTEGER NOT NULL DEFAULT 0,
	fp_count INTEGER NOT NULL DEFAULT 0,
	confidence TEXT NOT NULL DEFAULT 'low',
	reason TEXT NOT NULL DEFAULT '',
	review_decision TEXT,
	reviewed_at DATETIME,
	reviewed_by TEXT NOT NULL DEFAULT '',
	applied_at DATETIME,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS threshold_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	detector_name TEXT NOT NULL DEFAULT '',
	threshold_type TEXT NOT NULL,
	level TEXT NOT NULL DEFAULT '',
	old_threshold REAL NOT NULL,
	new_threshold REAL NOT NULL,
	changed_by TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	reverted_at DATETIME,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS metric_observations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	metric_name TEXT NOT NULL,
	value REAL NOT NULL,
	domain TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '',
	observed_at DATETIME NOT NULL DEFAULT (datetime('now', 'subsec'))
);

CREATE TABLE IF NOT EXISTS meta_alerts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	alert_type TEXT NOT NULL,
	severity TEXT NOT NULL,
	metric_name TEXT NOT NULL DEFAULT '',
	current_value REAL,
	baseline_value REAL,
	message TEXT NOT NULL DEFAULT '',
	context TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL DEFAULT 'new',
	first_seen DATETIME NOT NULL DEFAULT (datetime('now')),
	last_seen DATETIME NOT NULL DEFAULT (datetime('now')),
	acknowledged_at DATETIME,
	resolved_at DATETIME
);

CREATE TABLE IF NOT EXISTS meta_observer_config (
	metric_name TEXT PRIMARY KEY,
	z_score_threshold REAL NOT NULL DEFAULT 3.0,
	true_positive_count INTEGER NOT NULL DEFAULT 0,
	false_positive_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS building_queries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	caller TEXT NOT NULL DEFAULT '',
	query_type TEXT NOT NULL,
	query TEXT NOT NULL DEFAULT '',
	result_count INTEGER NOT NULL DEFAULT 0,
	tokens_used INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_heuristics_domain ON heuristics(domain);
CREATE INDEX IF NOT EXISTS idx_heuristics_status ON heuristics(status);
CREATE INDEX IF NOT EXISTS idx_confidence_updates_heuristic ON confidence_updates(heuristic_id);
CREATE INDEX IF NOT EXISTS idx_learnings_domain ON learnings(domain);
CREATE INDEX IF NOT EXISTS idx_learnings_type ON learnings(type);
CREATE INDEX IF NOT EXISTS idx_workflow_runs_workflow ON workflow_runs(workflow_id);
CREATE INDEX IF NOT EXISTS idx_node_executions_run ON node_executions(run_id);
CREATE INDEX IF NOT EXISTS idx_fraud_reports_subject ON fraud_reports(subject_id);
CREATE INDEX IF NOT EXISTS idx_anomaly_signals_report ON anomaly_signals(report_id);
CREATE INDEX IF NOT EXISTS idx_building_queries_type ON building_queries(query_type);
CREATE INDEX IF NOT EXISTS idx_revival_triggers_heuristic ON revival_triggers(heuristic_id);
CREATE INDEX IF NOT EXISTS idx_expansion_events_domain ON expansion_events(domain);
CREATE INDEX IF NOT EXISTS idx_baseline_history_domain ON domain_baseline_history(domain);
CREATE INDEX IF NOT EXISTS idx_drift_alerts_domain ON baseline_drift_alerts(domain);
CREATE INDEX IF NOT EXISTS idx_session_contexts_session ON session_contexts(session_id);
CREATE INDEX IF NOT EXISTS idx_threshold_recommendations_decision ON threshold_recommendations(review_decision);
CREATE INDEX IF NOT EXISTS idx_metric_observations_name ON metric_observations(metric_name, observed_at);
CREATE INDEX IF NOT EXISTS idx_meta_alerts_state ON meta_alerts(state);
CREATE INDEX IF NOT EXISTS idx_trails_location ON trails(location);
CREATE INDEX IF NOT EXISTS idx_trails_run ON trails(run_id);
CREATE INDEX IF NOT EXISTS idx_conductor_decisions_run ON conductor_decisions(run_id);
CREATE INDEX IF NOT EXISTS idx_invariants_domain_status ON invariants(domain, status);
CREATE INDEX IF NOT EXISTS idx_assumptions_domain_status ON assumptions(domain, status);
CREATE INDEX IF NOT EXISTS idx_spike_reports_domain ON spike_reports(domain);
CREATE INDEX IF NOT EXISTS idx_plans_domain_status ON plans(domain, status);
CREATE INDEX IF NOT EXISTS idx_postmortems_domain ON postmortems(domain);
CREATE INDEX IF NOT EXISTS idx_experiments_status ON experiments(status);
CREATE INDEX IF NOT EXISTS idx_ceo_reviews_status ON ceo_reviews(status);
CREATE INDEX IF NOT EXISTS idx_decisions_domain_status ON decisions(domain, status);

CREATE TRIGGER IF NOT EXISTS learnings_ai AFTER INSERT ON learnings BEGIN
	INSERT INTO learnings_fts(rowid, title, summary, tags) VALUES (new.rowid, new.title, new.summary, new.tags);
END;
CREATE TRIGGER IF NOT EXISTS learnings_ad AFTER DELETE ON learnings BEGIN
	INSERT INTO learnings_fts(learnings_fts, rowid, title, summary, tags) VALUES ('delete', old.rowid, old.title, old.summary, old.tags);
END;
CREATE TRIGGER IF NOT EXISTS learnings_au AFTER UPDATE ON learnings BEGIN
	INSERT INTO learnings_fts(learnings_fts, rowid, title, summary, tags) VALUES ('delete', old.rowid, old.title, old.summary, old.tags);
	INSERT INTO learnings_fts(rowid, title, summary, tags) VALUES (new.rowid, new.title, new.summary, new.tags);
END;
`

// Open creates or opens the SQLite knowledge store at dbPath, in WAL mode
// with a busy timeout so concurrent readers don't trip over a writer, and
// ensures the schema exists.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dbPath, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	if err := os.Chmod(dbPath, 0o600); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: secure permissions on %s: %w", dbPath, err)
	}

	return &Store{db: db}, nil
}

// migrate applies incremental, additive schema changes for databases created
// by earlier versions of this package. Each step probes pragma_table_info
// before altering so it is safe to run against a fresh database too.
func migrate(db *sql.DB) error {
	if err := addColumnIfMissing(db, "heuristics", "merged_into", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	if err := addColumnIfMissing(db, "fraud_reports", "classification", "TEXT NOT NULL DEFAULT 'clean'"); err != nil {
		return err
	}
	if err := addColumnIfMissing(db, "building_queries", "tokens_used", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		return err
	}
	buildingQueryColumns := []struct{ column, ddl string }{
		{"status", "TEXT NOT NULL DEFAULT 'success'"},
		{"duration_ms", "INTEGER NOT NULL DEFAULT 0"},
		{"error_message", "TEXT NOT NULL DEFAULT ''"},
		{"summary", "TEXT NOT NULL DEFAULT ''"},
	}
	for _, c := range buildingQueryColumns {
		if err := addColumnIfMissing(db, "building_queries", c.column, c.ddl); err != nil {
			return err
		}
	}
	lifecycleColumns := []struct{ column, ddl string }{
		{"times_validated", "INTEGER NOT NULL DEFAULT 0"},
		{"times_violated", "INTEGER NOT NULL DEFAULT 0"},
		{"times_contradicted", "INTEGER NOT NULL DEFAULT 0"},
		{"times_revived", "INTEGER NOT NULL DEFAULT 0"},
		{"is_golden", "BOOLEAN NOT NULL DEFAULT 0"},
		{"dormant_since", "DATETIME"},
		{"revival_conditions", "TEXT NOT NULL DEFAULT ''"},
		{"confidence_ema", "REAL"},
		{"ema_alpha", "REAL NOT NULL DEFAULT 0.15"},
		{"ema_warmup_remaining", "INTEGER NOT NULL DEFAULT 5"},
		{"last_confidence_update", "DATETIME"},
		{"last_ema_update", "DATETIME"},
		{"update_count_today", "INTEGER NOT NULL DEFAULT 0"},
		{"update_count_reset_date", "TEXT NOT NULL DEFAULT ''"},
		{"min_applications", "INTEGER NOT NULL DEFAULT 10"},
	}
	for _, c := range lifecycleColumns {
		if err := addColumnIfMissing(db, "heuristics", c.column, c.ddl); err != nil {
			return err
		}
	}
	if err := addColumnIfMissing(db, "confidence_updates", "update_type", "TEXT NOT NULL DEFAULT 'manual'"); err != nil {
		return err
	}
	if err := addColumnIfMissing(db, "confidence_updates", "rate_limited", "BOOLEAN NOT NULL DEFAULT 0"); err != nil {
		return err
	}
	if err := addColumnIfMissing(db, "confidence_updates", "raw_target", "REAL"); err != nil {
		return err
	}
	if err := addColumnIfMissing(db, "confidence_updates", "smoothed_delta", "REAL"); err != nil {
		return err
	}
	if err := addColumnIfMissing(db, "confidence_updates", "alpha_used", "REAL"); err != nil {
		return err
	}
	if err := addColumnIfMissing(db, "confidence_updates", "agent_id", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	if err := addColumnIfMissing(db, "heuristics", "fraud_flags", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		return err
	}
	if err := addColumnIfMissing(db, "heuristics", "last_fraud_check", "DATETIME"); err != nil {
		return err
	}
	fraudReportColumns := []struct{ column, ddl string }{
		{"likelihood_ratio", "REAL NOT NULL DEFAULT 1"},
		{"signal_count", "INTEGER NOT NULL DEFAULT 0"},
		{"review_outcome", "TEXT"},
		{"decided_by", "TEXT NOT NULL DEFAULT ''"},
		{"review_notes", "TEXT NOT NULL DEFAULT ''"},
		{"reviewed_at", "DATETIME"},
	}
	for _, c := range fraudReportColumns {
		if err := addColumnIfMissing(db, "fraud_reports", c.column, c.ddl); err != nil {
			return err
		}
	}
	if err := addColumnIfMissing(db, "fraud_responses", "parameters", "TEXT NOT NULL DEFAULT '{}'"); err != nil {
		return err
	}
	if err := addColumnIfMissing(db, "fraud_responses", "executed_by", "TEXT NOT NULL DEFAULT 'system'"); err != nil {
		return err
	}
	return nil
}

func addColumnIfMissing(db *sql.DB, table, column, ddl string) error {
	var count int
	err := db.QueryRow(
		fmt.Sprintf(`SELECT COUNT(*) FROM pragma_table_info('%s') WHERE name = ?`, table), column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("check %s.%s column: %w", table, column, err)
	}
	if count > 0 {
		return nil
	}
	if _, err := db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, ddl)); err != nil {
		return fmt.Errorf("add %s.%s column: %w", table, column, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for callers that need raw access (the
// lifecycle and meta-observer tests use it to seed rows directly).
func (s *Store) DB() *sql.DB {
	return s.db
}
