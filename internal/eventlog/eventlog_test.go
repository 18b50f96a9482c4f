package eventlog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestAppendAssignsMonotonicSequence(t *testing.T) {
	l, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	seq1, err := l.Append(ctx, TypeAgentRegistered, map[string]any{"agent_id": "a1", "task": "scan"})
	if err != nil {
		t.Fatal(err)
	}
	seq2, err := l.Append(ctx, TypeAgentHeartbeat, map[string]any{"agent_id": "a1"})
	if err != nil {
		t.Fatal(err)
	}
	if seq1 != 1 || seq2 != 2 {
		t.Fatalf("expected sequences 1,2 got %d,%d", seq1, seq2)
	}
}

func TestReadSkipsCorruptedChecksum(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := l.Append(ctx, TypeAgentRegistered, map[string]any{"agent_id": "a1"}); err != nil {
		t.Fatal(err)
	}

	f, err := os.OpenFile(filepath.Join(dir, "events.jsonl"), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`{"seq":2,"type":"agent.heartbeat","ts":"2024-01-01T00:00:00Z","data":{}}|deadbeef` + "\n"); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	events, warnings, err := l.Read(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if len(warnings) != 1 {
		t.Fatalf("expected 1 corruption warning, got %v", warnings)
	}
}

func TestCurrentStateReplaysAgentLifecycle(t *testing.T) {
	l, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := l.Append(ctx, TypeAgentRegistered, map[string]any{"agent_id": "a1", "task": "scan", "scope": []string{"pkg/"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Append(ctx, TypeAgentStatusUpdated, map[string]any{"agent_id": "a1", "status": "completed"}); err != nil {
		t.Fatal(err)
	}

	state, warnings, err := l.CurrentState()
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	a, ok := state.Agents["a1"]
	if !ok {
		t.Fatal("expected agent a1 in state")
	}
	if a.Status != "completed" {
		t.Fatalf("expected status completed, got %s", a.Status)
	}
	if a.FinishedAt.IsZero() {
		t.Fatal("expected finished_at to be set")
	}
}

func TestUnknownEventTypeSkippedNotFatal(t *testing.T) {
	l, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := l.Append(ctx, "some.unknown.type", map[string]any{"x": 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Append(ctx, TypeContextSet, map[string]any{"key": "build_tag", "value": "v2"}); err != nil {
		t.Fatal(err)
	}

	state, _, err := l.CurrentState()
	if err != nil {
		t.Fatal(err)
	}
	if state.Context["build_tag"] != "v2" {
		t.Fatalf("expected context to be set despite preceding unknown event, got %+v", state.Context)
	}
}
