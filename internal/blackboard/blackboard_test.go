package blackboard

import (
	"context"
	"testing"
	"time"
)

func TestClaimChainFilesGrantsExclusiveAccess(t *testing.T) {
	b, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	chain, err := b.ClaimChainFiles(ctx, "agent-1", []string{"pkg/foo.go", "pkg/bar.go"}, "refactor", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if chain.Status != "active" {
		t.Fatalf("expected active chain, got %s", chain.Status)
	}
	if len(chain.Files) != 2 {
		t.Fatalf("expected 2 normalized files, got %d", len(chain.Files))
	}
}

func TestClaimChainFilesBlocksOnOverlap(t *testing.T) {
	b, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := b.ClaimChainFiles(ctx, "agent-1", []string{"pkg/foo.go"}, "refactor", time.Minute); err != nil {
		t.Fatal(err)
	}

	_, err = b.ClaimChainFiles(ctx, "agent-2", []string{"pkg/foo.go", "pkg/baz.go"}, "fix", time.Minute)
	if err == nil {
		t.Fatal("expected BlockedError, got nil")
	}
	blocked, ok := err.(*BlockedError)
	if !ok {
		t.Fatalf("expected *BlockedError, got %T", err)
	}
	if len(blocked.ConflictingFiles) != 1 || blocked.ConflictingFiles[0] != "pkg/foo.go" {
		t.Fatalf("expected conflicting file pkg/foo.go, got %v", blocked.ConflictingFiles)
	}
}

func TestClaimChainFilesAllowsDisjointClaims(t *testing.T) {
	b, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := b.ClaimChainFiles(ctx, "agent-1", []string{"pkg/foo.go"}, "refactor", time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, err := b.ClaimChainFiles(ctx, "agent-2", []string{"pkg/bar.go"}, "fix", time.Minute); err != nil {
		t.Fatal(err)
	}

	active, err := b.GetAllActiveChains(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active chains, got %d", len(active))
	}
}

func TestReleaseChainRequiresOwningAgent(t *testing.T) {
	b, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	chain, err := b.ClaimChainFiles(ctx, "agent-1", []string{"pkg/foo.go"}, "refactor", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	ok, err := b.ReleaseChain(ctx, "agent-2", chain.ChainID)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected release by non-owning agent to fail")
	}

	ok, err = b.ReleaseChain(ctx, "agent-1", chain.ChainID)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected release by owning agent to succeed")
	}

	// Released chain should no longer block a new claim.
	if _, err := b.ClaimChainFiles(ctx, "agent-2", []string{"pkg/foo.go"}, "fix", time.Minute); err != nil {
		t.Fatalf("expected claim to succeed after release, got %v", err)
	}
}

func TestClaimChainExpiresAfterTTL(t *testing.T) {
	b, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := b.ClaimChainFiles(ctx, "agent-1", []string{"pkg/foo.go"}, "refactor", time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)

	// A conflicting claim should now succeed because the prior chain expired.
	if _, err := b.ClaimChainFiles(ctx, "agent-2", []string{"pkg/foo.go"}, "fix", time.Minute); err != nil {
		t.Fatalf("expected claim to succeed after expiry, got %v", err)
	}

	active, err := b.GetAllActiveChains(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].AgentID != "agent-2" {
		t.Fatalf("expected only agent-2's chain active, got %+v", active)
	}
}

func TestSetContextAndGetContextRoundTrip(t *testing.T) {
	b, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := b.SetContext(ctx, "build_tag", "v3"); err != nil {
		t.Fatal(err)
	}
	v, err := b.GetContext(ctx, "build_tag")
	if err != nil {
		t.Fatal(err)
	}
	if v != "v3" {
		t.Fatalf("expected v3, got %v", v)
	}
}

func TestAddFindingAndSearchFindings(t *testing.T) {
	b, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := b.AddFinding(ctx, "agent-1", "observation", "race condition in worker pool", nil, []string{"concurrency"}, "high", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := b.AddFinding(ctx, "agent-1", "observation", "unrelated typo", nil, nil, "low", ""); err != nil {
		t.Fatal(err)
	}

	results, err := b.SearchFindings(ctx, "race", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 match, got %d", len(results))
	}
}

func TestDocumentPersistsAcrossBoardInstances(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b1, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := b1.RegisterAgent(ctx, "agent-1", "scan repo", []string{"pkg/"}, nil); err != nil {
		t.Fatal(err)
	}

	b2, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	agents, err := b2.GetAllAgents(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := agents["agent-1"]; !ok {
		t.Fatal("expected agent-1 to persist across Board instances")
	}
}
