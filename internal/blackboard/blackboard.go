// Package blackboard implements C2: an exclusive-locked JSON snapshot of
// coordination state plus the claim-chain mutual-exclusion primitive. Its
// mutations are not appended to the event log, and a missing or corrupt
// document resets to the empty default rather than being rebuilt from it.
package blackboard

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/corewright/substrate/internal/eventlog"
	"github.com/corewright/substrate/internal/lockfile"
)

const lockTimeout = 30 * time.Second

// Board manages a single JSON document at <dir>/blackboard.json, guarded by
// a sibling exclusive lock file.
type Board struct {
	dir      string
	dataFile string
	lockFile string
}

// Open prepares the coordination directory.
func Open(dir string) (*Board, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blackboard: create dir %s: %w", dir, err)
	}
	return &Board{
		dir:      dir,
		dataFile: filepath.Join(dir, "blackboard.json"),
		lockFile: filepath.Join(dir, ".blackboard.lock"),
	}, nil
}

// ClaimChain is a transactional, mutually-exclusive claim on a set of files.
type ClaimChain struct {
	ChainID   string    `json:"chain_id"`
	AgentID   string    `json:"agent_id"`
	Files     []string  `json:"files"`
	Reason    string    `json:"reason"`
	ClaimedAt time.Time `json:"claimed_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Status    string    `json:"status"` // active, completed, expired, released
}

// document is the on-disk shape, a superset of eventlog.Snapshot adding
// claim chains.
type document struct {
	*eventlog.Snapshot
	ClaimChains []ClaimChain `json:"claim_chains"`
}

func newDocument() *document {
	return &document{Snapshot: eventlog.NewSnapshot(), ClaimChains: nil}
}

// withLock acquires the exclusive file lock, runs op against the current
// document, and — if op returns true — atomically persists the mutated
// document via temp-file + rename before releasing the lock.
func (b *Board) withLock(ctx context.Context, op func(doc *document) (mutated bool, err error)) error {
	ctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	lock, err := lockfile.Acquire(ctx, b.lockFile)
	if err != nil {
		return fmt.Errorf("blackboard: acquire lock: %w", err)
	}
	defer lock.Release()

	doc, err := b.readLocked()
	if err != nil {
		return err
	}
	b.expireOldChains(doc)

	mutated, err := op(doc)
	if err != nil {
		return err
	}
	if !mutated {
		return nil
	}

	doc.UpdatedAt = time.Now().UTC()
	return b.writeLocked(doc)
}

// readLocked loads the document, resetting to a fresh default on missing or
// corrupt file per the documented recovery invariant.
func (b *Board) readLocked() (*document, error) {
	raw, err := os.ReadFile(b.dataFile)
	if os.IsNotExist(err) {
		return newDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("blackboard: read %s: %w", b.dataFile, err)
	}
	if len(raw) == 0 {
		return newDocument(), nil
	}

	var doc document
	doc.Snapshot = eventlog.NewSnapshot()
	if err := json.Unmarshal(raw, &doc); err != nil {
		return newDocument(), nil
	}
	return &doc, nil
}

// writeLocked persists the document atomically: write to a temp file on the
// same filesystem, fsync, then rename over the target.
func (b *Board) writeLocked(doc *document) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("blackboard: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(b.dir, ".blackboard-*.tmp")
	if err != nil {
		return fmt.Errorf("blackboard: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("blackboard: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("blackboard: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("blackboard: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, b.dataFile); err != nil {
		return fmt.Errorf("blackboard: rename into place: %w", err)
	}
	return nil
}

func (b *Board) expireOldChains(doc *document) {
	now := time.Now().UTC()
	for i := range doc.ClaimChains {
		if doc.ClaimChains[i].Status == "active" && now.After(doc.ClaimChains[i].ExpiresAt) {
			doc.ClaimChains[i].Status = "expired"
		}
	}
}

// Snapshot returns a read-only copy of the full state.
func (b *Board) Snapshot(ctx context.Context) (*document, error) {
	var result *document
	err := b.withLock(ctx, func(doc *document) (bool, error) {
		result = doc
		return false, nil
	})
	return result, err
}

// normalizeFiles cleans and dedupes a file path list the way filepath.Clean
// + a set would in the original's Path(f) normalization.
func normalizeFiles(files []string) []string {
	seen := make(map[string]struct{}, len(files))
	out := make([]string, 0, len(files))
	for _, f := range files {
		clean := filepath.Clean(f)
		if _, ok := seen[clean]; ok {
			continue
		}
		seen[clean] = struct{}{}
		out = append(out, clean)
	}
	sort.Strings(out)
	return out
}

func overlap(a, b []string) []string {
	set := make(map[string]struct{}, len(a))
	for _, f := range a {
		set[f] = struct{}{}
	}
	var out []string
	for _, f := range b {
		if _, ok := set[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

// BlockedError is returned when a claim conflicts with an existing active chain.
type BlockedError struct {
	BlockingChains   []ClaimChain
	ConflictingFiles []string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blackboard: cannot claim %d file(s), blocked by %d chain(s)",
		len(e.ConflictingFiles), len(e.BlockingChains))
}

// ClaimChainFiles atomically claims a file set or returns a *BlockedError
// naming the conflicting chains and files.
func (b *Board) ClaimChainFiles(ctx context.Context, agentID string, files []string, reason string, ttl time.Duration) (*ClaimChain, error) {
	normalized := normalizeFiles(files)
	var result *ClaimChain
	var blocked *BlockedError

	err := b.withLock(ctx, func(doc *document) (bool, error) {
		var blockingChains []ClaimChain
		var conflicting []string

		for _, c := range doc.ClaimChains {
			if c.Status != "active" || c.AgentID == agentID {
				continue
			}
			ov := overlap(normalized, c.Files)
			if len(ov) > 0 {
				blockingChains = append(blockingChains, c)
				conflicting = append(conflicting, ov...)
			}
		}
		if len(blockingChains) > 0 {
			blocked = &BlockedError{BlockingChains: blockingChains, ConflictingFiles: dedupe(conflicting)}
			return false, nil
		}

		now := time.Now().UTC()
		chain := ClaimChain{
			ChainID:   newChainID(),
			AgentID:   agentID,
			Files:     normalized,
			Reason:    reason,
			ClaimedAt: now,
			ExpiresAt: now.Add(ttl),
			Status:    "active",
		}
		doc.ClaimChains = append(doc.ClaimChains, chain)
		result = &chain
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if blocked != nil {
		return nil, blocked
	}
	return result, nil
}

// ReleaseChain transitions an active chain owned by agentID to released.
func (b *Board) ReleaseChain(ctx context.Context, agentID, chainID string) (bool, error) {
	return b.transitionChain(ctx, agentID, chainID, "released")
}

// CompleteChain transitions an active chain owned by agentID to completed.
func (b *Board) CompleteChain(ctx context.Context, agentID, chainID string) (bool, error) {
	return b.transitionChain(ctx, agentID, chainID, "completed")
}

func (b *Board) transitionChain(ctx context.Context, agentID, chainID, newStatus string) (bool, error) {
	var ok bool
	err := b.withLock(ctx, func(doc *document) (bool, error) {
		for i := range doc.ClaimChains {
			c := &doc.ClaimChains[i]
			if c.ChainID != chainID {
				continue
			}
			if c.AgentID != agentID {
				return false, nil
			}
			if c.Status != "active" {
				return false, nil
			}
			c.Status = newStatus
			ok = true
			return true, nil
		}
		return false, nil
	})
	return ok, err
}

// GetBlockingChains returns active chains overlapping the given files.
func (b *Board) GetBlockingChains(ctx context.Context, files []string) ([]ClaimChain, error) {
	normalized := normalizeFiles(files)
	var out []ClaimChain
	err := b.withLock(ctx, func(doc *document) (bool, error) {
		for _, c := range doc.ClaimChains {
			if c.Status != "active" {
				continue
			}
			if len(overlap(normalized, c.Files)) > 0 {
				out = append(out, c)
			}
		}
		return false, nil
	})
	return out, err
}

// GetClaimForFile returns the active chain holding path, if any.
func (b *Board) GetClaimForFile(ctx context.Context, path string) (*ClaimChain, error) {
	clean := filepath.Clean(path)
	var found *ClaimChain
	err := b.withLock(ctx, func(doc *document) (bool, error) {
		for i := range doc.ClaimChains {
			c := doc.ClaimChains[i]
			if c.Status != "active" {
				continue
			}
			for _, f := range c.Files {
				if f == clean {
					found = &c
					return false, nil
				}
			}
		}
		return false, nil
	})
	return found, err
}

// GetAgentChains returns every chain (any status) owned by agentID.
func (b *Board) GetAgentChains(ctx context.Context, agentID string) ([]ClaimChain, error) {
	var out []ClaimChain
	err := b.withLock(ctx, func(doc *document) (bool, error) {
		for _, c := range doc.ClaimChains {
			if c.AgentID == agentID {
				out = append(out, c)
			}
		}
		return false, nil
	})
	return out, err
}

// GetAllActiveChains returns every currently active chain.
func (b *Board) GetAllActiveChains(ctx context.Context) ([]ClaimChain, error) {
	var out []ClaimChain
	err := b.withLock(ctx, func(doc *document) (bool, error) {
		for _, c := range doc.ClaimChains {
			if c.Status == "active" {
				out = append(out, c)
			}
		}
		return false, nil
	})
	return out, err
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func newChainID() string {
	return uuid.NewString()
}
