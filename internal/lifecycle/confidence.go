package lifecycle

import (
	"fmt"
	"time"

	"github.com/corewright/substrate/internal/store"
)

// UpdateType is the closed set of confidence transitions the engine applies.
type UpdateType string

const (
	UpdateSuccess      UpdateType = "success"
	UpdateFailure      UpdateType = "failure"
	UpdateContradiction UpdateType = "contradiction"
	UpdateDecay        UpdateType = "decay"
	UpdateRevival      UpdateType = "revival"
	UpdateManual       UpdateType = "manual"
)

// UpdateResult reports the outcome of UpdateConfidence, whether or not the
// update was actually applied.
type UpdateResult struct {
	Applied        bool
	RateLimited    bool
	Reason         string
	OldConfidence  float64
	NewConfidence  float64
	RawTarget      float64
	Delta          float64
	DeltaRaw       float64
	DeltaSmoothed  float64
	Alpha          float64
	InWarmup       bool
	UpdatesToday   int
}

// CanUpdateConfidence reports whether a confidence update on heuristicID is
// currently allowed: at most MaxUpdatesPerDay updates, and at least
// CooldownMinutes since the last one.
func (m *Manager) CanUpdateConfidence(heuristicID string) (bool, string, error) {
	h, err := m.store.GetHeuristicLifecycle(heuristicID)
	if err != nil {
		return false, "", fmt.Errorf("lifecycle: can update confidence: %w", err)
	}
	if h == nil {
		return false, "heuristic not found", nil
	}

	now := time.Now().UTC()
	today := todayUTC()

	if h.UpdateCountResetDate == today && h.UpdateCountToday >= m.cfg.MaxUpdatesPerDay {
		return false, fmt.Sprintf("daily limit reached (%d updates/day)", m.cfg.MaxUpdatesPerDay), nil
	}

	if h.LastConfidenceUpdate.Valid {
		cooldownEnd := h.LastConfidenceUpdate.Time.Add(time.Duration(m.cfg.CooldownMinutes) * time.Minute)
		if now.Before(cooldownEnd) {
			remaining := int(cooldownEnd.Sub(now).Minutes())
			return false, fmt.Sprintf("cooldown active (%d minutes remaining)", remaining), nil
		}
	}
	return true, "update allowed", nil
}

// adaptiveAlpha picks the EMA smoothing factor for this update, per the
// locked warmup/high-confidence/low-confidence/mature/immature bands.
func adaptiveAlpha(confidence float64, totalApps, warmupRemaining int, isIncrease bool) float64 {
	if warmupRemaining > 0 {
		return 0.30
	}
	if confidence > 0.80 {
		if isIncrease {
			return 0.10
		}
		return 0.15
	}
	if confidence < 0.30 {
		if isIncrease {
			return 0.25
		}
		return 0.20
	}
	if totalApps >= 20 {
		if isIncrease {
			return 0.15
		}
		return 0.20
	}
	if isIncrease {
		return 0.20
	}
	return 0.25
}

// UpdateConfidence applies one confidence transition with rate limiting
// (unless force is set), the symmetric diminishing-returns raw-target
// formula for the update type, and EMA smoothing with an adaptive alpha.
// Decay and revival bypass the EMA: decay is already gradual, revival is a
// deliberate snap to a floor.
func (m *Manager) UpdateConfidence(heuristicID string, updateType UpdateType, reason, agentID string, force bool) (UpdateResult, error) {
	if !force {
		allowed, limitReason, err := m.CanUpdateConfidence(heuristicID)
		if err != nil {
			return UpdateResult{}, err
		}
		if !allowed {
			return UpdateResult{Applied: false, RateLimited: true, Reason: limitReason}, nil
		}
	}

	h, err := m.store.GetHeuristicLifecycle(heuristicID)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("lifecycle: update confidence: %w", err)
	}
	if h == nil {
		return UpdateResult{Applied: false, Reason: "heuristic not found"}, nil
	}

	oldConf := h.Confidence
	oldEMA := h.ConfidenceEMA
	warmup := h.EMAWarmupRemaining
	totalApps := h.TotalApplications()

	var rawTarget, newConf, newEMA, alphaUsed float64
	rawTarget = oldConf

	switch updateType {
	case UpdateSuccess:
		rawTarget = m.clamp(oldConf + 0.10*(1-oldConf))
	case UpdateFailure:
		rawTarget = m.clamp(oldConf - 0.10*oldConf)
	case UpdateContradiction:
		rawTarget = m.clamp(oldConf - 0.15*oldConf)
	case UpdateDecay:
		rawTarget = m.clamp(oldConf * 0.92)
		newConf = rawTarget
		newEMA = newConf
		alphaUsed = 1.0
	case UpdateRevival:
		rawTarget = oldConf
		if rawTarget < 0.35 {
			rawTarget = 0.35
		}
		newConf = rawTarget
		newEMA = newConf
		alphaUsed = 1.0
	default:
		rawTarget = oldConf
		newConf = oldConf
		newEMA = oldEMA
		alphaUsed = 0
	}

	if updateType != UpdateDecay && updateType != UpdateRevival {
		isIncrease := rawTarget > oldEMA
		alphaUsed = adaptiveAlpha(oldConf, totalApps, warmup, isIncrease)
		newEMA = m.clamp(alphaUsed*rawTarget + (1-alphaUsed)*oldEMA)
		newConf = newEMA
		if warmup > 0 {
			warmup--
		}
	}

	today := todayUTC()
	updateCount := h.UpdateCountToday
	resetDate := h.UpdateCountResetDate
	if resetDate != today {
		updateCount = 1
		resetDate = today
	} else {
		updateCount++
	}

	smoothedDelta := newEMA - oldEMA
	rec := store.ConfidenceUpdateRecord{
		HeuristicID:   heuristicID,
		UpdateType:    string(updateType),
		OldConf:       oldConf,
		NewConf:       newConf,
		RawTarget:     rawTarget,
		SmoothedDelta: smoothedDelta,
		AlphaUsed:     alphaUsed,
		Reason:        reason,
		AgentID:       agentID,
	}
	if err := m.store.RecordConfidenceUpdateAndApply(rec, resetDate, updateCount, warmup); err != nil {
		return UpdateResult{}, err
	}

	return UpdateResult{
		Applied:       true,
		OldConfidence: oldConf,
		NewConfidence: newConf,
		RawTarget:     rawTarget,
		Delta:         newConf - oldConf,
		DeltaRaw:      rawTarget - oldConf,
		DeltaSmoothed: smoothedDelta,
		Alpha:         alphaUsed,
		InWarmup:      warmup > 0,
		UpdatesToday:  updateCount,
	}, nil
}
