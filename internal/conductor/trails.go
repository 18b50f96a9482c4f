package conductor

import (
	"context"
	"fmt"
	"strings"

	"github.com/corewright/substrate/internal/store"
)

// LayTrail deposits a pheromone trail at a location. strength should be in
// [0,1]; ttlHours of 0 falls back to the conductor's default.
func (c *Conductor) LayTrail(runID, location, scent string, strength float64, agentID, nodeID, message string, tags []string, ttlHours int) error {
	if ttlHours <= 0 {
		ttlHours = c.cfg.DefaultTrailTTLHours
	}
	err := c.store.LayTrail(runID, location, scent, strength, agentID, nodeID, message, strings.Join(tags, ","), ttlHours)
	if err != nil {
		return fmt.Errorf("conductor: lay trail: %w", err)
	}
	return nil
}

// GetTrails returns trails matching filter, strongest first.
func (c *Conductor) GetTrails(filter store.GetTrailsFilter) ([]store.Trail, error) {
	trails, err := c.store.GetTrails(filter)
	if err != nil {
		return nil, fmt.Errorf("conductor: get trails: %w", err)
	}
	return trails, nil
}

// GetHotSpots aggregates trails by location, ranked by total strength.
func (c *Conductor) GetHotSpots(runID string, limit int) ([]store.HotSpot, error) {
	spots, err := c.store.GetHotSpots(runID, limit)
	if err != nil {
		return nil, fmt.Errorf("conductor: get hot spots: %w", err)
	}
	return spots, nil
}

// DecayTrails evaporates every non-expired trail's strength by rate and
// prunes anything that fell below the noise floor.
func (c *Conductor) DecayTrails(rate float64) error {
	if err := c.store.DecayTrails(rate); err != nil {
		return fmt.Errorf("conductor: decay trails: %w", err)
	}
	return nil
}

// SyncFindingsToBlackboard replays every completed node's findings for a
// run onto the blackboard, for agents watching in real time. Best-effort:
// a missing board or a single failed finding never aborts the sync.
func (c *Conductor) SyncFindingsToBlackboard(ctx context.Context, runID string) {
	if c.board == nil {
		return
	}
	executions, err := c.store.NodeExecutionsForRun(runID)
	if err != nil {
		return
	}
	for _, exec := range executions {
		if exec.Status != "completed" {
			continue
		}
		findings, err := decodeFindings(exec.FindingsJSON)
		if err != nil {
			continue
		}
		files, _ := decodeStringList(exec.FilesModified)
		for _, f := range findings {
			agentID := exec.AgentID
			if agentID == "" {
				agentID = "conductor"
			}
			importance := f.importance
			if importance == "" {
				importance = "normal"
			}
			findingType := f.findingType
			if findingType == "" {
				findingType = "note"
			}
			_, _ = c.board.AddFinding(ctx, agentID, findingType, f.content, files, f.tags, importance, "")
		}
	}
}

// SyncTrailsToBlackboard promotes each top hot spot to a blackboard
// finding, with importance derived from total strength.
func (c *Conductor) SyncTrailsToBlackboard(ctx context.Context, runID string) {
	if c.board == nil {
		return
	}
	hotSpots, err := c.store.GetHotSpots(runID, 10)
	if err != nil {
		return
	}
	for _, spot := range hotSpots {
		importance := "normal"
		if spot.TotalStrength > 3.0 {
			importance = "high"
		}
		var files []string
		if strings.Contains(spot.Location, "/") {
			files = []string{spot.Location}
		}
		content := fmt.Sprintf("Hot spot: %s (%d trails, scents: %s)", spot.Location, spot.TrailCount, spot.Scents)
		_, _ = c.board.AddFinding(ctx, "conductor", "trail", content, files, []string{"trail", "hot-spot"}, importance, "")
	}
}
