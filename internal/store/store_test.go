package store

import (
	"os"
	"path/filepath"
	"testing"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAndSchema(t *testing.T) {
	s := tempStore(t)
	if err := s.InsertHeuristic("h-1", "prefer small commits", "git", "bootstrap", 0.5); err != nil {
		t.Fatalf("InsertHeuristic failed: %v", err)
	}
}

func TestOpenSetsSecurePermissions(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	info, err := os.Stat(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600 permissions on %s, got %o", dbPath, perm)
	}
}

func TestHeuristicConfidenceLifecycle(t *testing.T) {
	s := tempStore(t)

	if err := s.InsertHeuristic("h-1", "statement", "domain-a", "bootstrap", 0.5); err != nil {
		t.Fatal(err)
	}

	if err := s.ApplyConfidenceUpdate("h-1", "success", 0.5, 0.6, "positive outcome"); err != nil {
		t.Fatalf("ApplyConfidenceUpdate failed: %v", err)
	}

	h, err := s.GetHeuristic("h-1")
	if err != nil {
		t.Fatal(err)
	}
	if h == nil {
		t.Fatal("expected heuristic to exist")
	}
	if h.Confidence != 0.6 {
		t.Fatalf("expected confidence 0.6, got %v", h.Confidence)
	}
	if h.EvidenceCount != 1 {
		t.Fatalf("expected evidence_count 1, got %d", h.EvidenceCount)
	}

	history, err := s.ConfidenceHistory("h-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0] != 0.6 {
		t.Fatalf("unexpected confidence history: %v", history)
	}
}

func TestListHeuristicsByDomainOrdersByConfidence(t *testing.T) {
	s := tempStore(t)

	if err := s.InsertHeuristic("h-low", "s", "domain-a", "bootstrap", 0.2); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertHeuristic("h-high", "s", "domain-a", "bootstrap", 0.9); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListHeuristicsByDomain("domain-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "h-high" {
		t.Fatalf("expected h-high first, got %+v", list)
	}
}

func TestMarkHeuristicMergedExcludesFromActiveList(t *testing.T) {
	s := tempStore(t)

	if err := s.InsertHeuristic("h-1", "s", "domain-a", "bootstrap", 0.5); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertHeuristic("h-2", "s", "domain-a", "bootstrap", 0.5); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkHeuristicMerged("h-1", "h-2"); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListHeuristicsByDomain("domain-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != "h-2" {
		t.Fatalf("expected only h-2 active, got %+v", list)
	}
}

func TestSearchLearningsFullText(t *testing.T) {
	s := tempStore(t)

	if err := s.InsertLearning(Learning{
		ID: "l-1", Type: "failure", Title: "flaky retry loop",
		Summary: "the retry loop spun forever under network partition", Domain: "networking",
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertLearning(Learning{
		ID: "l-2", Type: "success", Title: "bulk insert speedup",
		Summary: "batching writes cut latency in half", Domain: "storage",
	}); err != nil {
		t.Fatal(err)
	}

	results, err := s.SearchLearnings("retry", 10)
	if err != nil {
		t.Fatalf("SearchLearnings failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != "l-1" {
		t.Fatalf("expected l-1 only, got %+v", results)
	}
}

func TestWorkflowRunAndNodeExecutions(t *testing.T) {
	s := tempStore(t)

	if err := s.InsertWorkflow(Workflow{ID: "wf-1", Name: "triage", NodesJSON: "[]", EdgesJSON: "[]"}); err != nil {
		t.Fatal(err)
	}
	if err := s.StartWorkflowRun("run-1", "wf-1", "triage", "init", "{}"); err != nil {
		t.Fatal(err)
	}
	execID, err := s.RecordNodeStart("run-1", "start", "Start", "single", "", "prompt", "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RecordNodeCompletion(execID, "done", "{}", "[]", "[]", 10, 0); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateRunStatus("run-1", "completed", "", "{}"); err != nil {
		t.Fatal(err)
	}

	execs, err := s.NodeExecutionsForRun("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(execs) != 1 || execs[0].NodeID != "start" {
		t.Fatalf("unexpected executions: %+v", execs)
	}

	run, err := s.GetRun("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if run == nil || run.CompletedNodes != 1 || run.TotalNodes != 1 {
		t.Fatalf("unexpected run counters: %+v", run)
	}
}

func TestLayAndDecayTrail(t *testing.T) {
	s := tempStore(t)

	if err := s.LayTrail("run-1", "start->finish", "discovery", 1.0, "", "", "", "", 24); err != nil {
		t.Fatal(err)
	}
	if err := s.LayTrail("run-1", "start->finish", "discovery", 1.0, "", "", "", "", 24); err != nil {
		t.Fatal(err)
	}

	hot, err := s.GetHotSpots("run-1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hot) != 1 || hot[0].TotalStrength != 2.0 {
		t.Fatalf("expected total strength 2.0, got %+v", hot)
	}

	if err := s.DecayTrails(0.5); err != nil {
		t.Fatal(err)
	}
	trails, err := s.GetTrails(GetTrailsFilter{RunID: "run-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(trails) != 2 || trails[0].Strength != 0.5 {
		t.Fatalf("expected decayed strength 0.5, got %+v", trails)
	}
}

func TestFraudReportRoundTrip(t *testing.T) {
	s := tempStore(t)

	if err := s.InsertFraudReport(FraudReport{
		ID: "fr-1", SubjectID: "h-1", FraudScore: 0.82, Classification: "suspicious",
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordAnomalySignal("fr-1", "success_rate_anomaly", 0.7, 3.2, "z-score 3.2"); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordFraudResponse("fr-1", "flag_for_review", "", ""); err != nil {
		t.Fatal(err)
	}

	reports, err := s.RecentFraudReportsForSubject("h-1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 1 || reports[0].Classification != "suspicious" {
		t.Fatalf("unexpected reports: %+v", reports)
	}
}

func TestDecayStaleHeuristicsExcludesGolden(t *testing.T) {
	s := tempStore(t)

	if err := s.InsertHeuristic("h-stale", "statement", "domain-a", "bootstrap", 0.9); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertHeuristic("h-golden", "golden statement", "domain-a", "bootstrap", 0.9); err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.Exec(`UPDATE heuristics SET is_golden = 1 WHERE id = 'h-golden'`); err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.Exec(`UPDATE heuristics SET created_at = datetime('now', '-30 days') WHERE id IN ('h-stale', 'h-golden')`); err != nil {
		t.Fatal(err)
	}

	decayed, err := s.DecayStaleHeuristics(7, 0.1, 1.0)
	if err != nil {
		t.Fatal(err)
	}

	found := map[string]bool{}
	for _, id := range decayed {
		found[id] = true
	}
	if !found["h-stale"] {
		t.Fatalf("expected h-stale to be decayed, got %v", decayed)
	}
	if found["h-golden"] {
		t.Fatalf("golden heuristic must never be decayed, got %v", decayed)
	}

	golden, err := s.GetHeuristic("h-golden")
	if err != nil {
		t.Fatal(err)
	}
	if golden.Confidence != 0.9 {
		t.Fatalf("golden heuristic confidence must be untouched, got %v", golden.Confidence)
	}
}
