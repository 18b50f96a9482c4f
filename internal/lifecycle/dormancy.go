package lifecycle

import (
	"fmt"
	"strings"

	"github.com/corewright/substrate/internal/store"
)

// MakeDormant transitions an active heuristic to dormant, deriving keyword
// revival triggers from its statement plus a fixed 90-day time trigger.
func (m *Manager) MakeDormant(heuristicID string) error {
	h, err := m.store.GetHeuristicLifecycle(heuristicID)
	if err != nil {
		return fmt.Errorf("lifecycle: make dormant: %w", err)
	}
	if h == nil {
		return fmt.Errorf("lifecycle: make dormant: heuristic %s not found", heuristicID)
	}
	keywords := extractKeywords(h.Statement)
	return m.store.MakeDormant(heuristicID, keywords)
}

// ReviveResult reports the outcome of a dormancy revival.
type ReviveResult struct {
	Applied       bool
	Reason        string
	OldConfidence float64
	NewConfidence float64
}

// ReviveHeuristic restores a dormant heuristic to active, flooring its
// confidence at 0.35 — a heuristic never comes back weaker than that.
func (m *Manager) ReviveHeuristic(heuristicID string) (ReviveResult, error) {
	h, err := m.store.GetHeuristicLifecycle(heuristicID)
	if err != nil {
		return ReviveResult{}, fmt.Errorf("lifecycle: revive: %w", err)
	}
	if h == nil {
		return ReviveResult{Reason: "heuristic not found"}, nil
	}
	if h.Status != "dormant" {
		return ReviveResult{Reason: fmt.Sprintf("heuristic is %s, not dormant", h.Status)}, nil
	}

	revivalConf := h.Confidence
	if revivalConf < 0.35 {
		revivalConf = 0.35
	}
	if err := m.store.ReviveHeuristic(heuristicID, revivalConf); err != nil {
		return ReviveResult{}, err
	}
	rec := store.ConfidenceUpdateRecord{
		HeuristicID: heuristicID,
		UpdateType:  string(UpdateRevival),
		OldConf:     h.Confidence,
		NewConf:     revivalConf,
		RawTarget:   revivalConf,
		AlphaUsed:   1.0,
		Reason:      "dormancy revival",
	}
	if err := m.store.RecordConfidenceUpdateAndApply(rec, todayUTC(), 0, 0); err != nil {
		return ReviveResult{}, err
	}

	return ReviveResult{Applied: true, OldConfidence: h.Confidence, NewConfidence: revivalConf}, nil
}

// RevivalCandidate names a dormant heuristic whose context matched one of
// its triggers.
type RevivalCandidate = store.RevivalCandidate

// CheckRevivalTriggers scans every dormant heuristic's keyword and
// elapsed-time triggers against the given context string.
func (m *Manager) CheckRevivalTriggers(context string) ([]RevivalCandidate, error) {
	lowered := strings.ToLower(context)
	byKeyword, err := m.store.CheckKeywordRevivalTriggers(lowered)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: check revival triggers: %w", err)
	}
	var matched []RevivalCandidate
	for _, c := range byKeyword {
		kw := strings.TrimPrefix(c.Trigger, "keyword:")
		if strings.Contains(lowered, kw) {
			matched = append(matched, c)
		}
	}

	byTime, err := m.store.CheckTimeRevivalTriggers()
	if err != nil {
		return nil, fmt.Errorf("lifecycle: check time revival triggers: %w", err)
	}
	matched = append(matched, byTime...)
	return matched, nil
}

// DeprecationCheck reports whether a heuristic's contradiction rate exceeds
// the configured threshold, and applies the deprecation if so.
type DeprecationCheck struct {
	ShouldDeprecate   bool
	Reason            string
	ContradictionRate float64
	TotalApplications int
}

// CheckDeprecationThreshold deprecates heuristicID when its lifetime
// contradiction RATE (not raw count) exceeds ContradictionRateThreshold,
// requiring at least MinApplicationsForDeprecation applications first — the
// fix for heuristics dying from a handful of early contradictions.
func (m *Manager) CheckDeprecationThreshold(heuristicID string) (DeprecationCheck, error) {
	h, err := m.store.GetHeuristicLifecycle(heuristicID)
	if err != nil {
		return DeprecationCheck{}, fmt.Errorf("lifecycle: check deprecation: %w", err)
	}
	if h == nil {
		return DeprecationCheck{Reason: "heuristic not found"}, nil
	}

	minApps := h.MinApplications
	if minApps == 0 {
		minApps = m.cfg.MinApplicationsForDeprecation
	}
	total := h.TotalApplications()
	if total < minApps {
		return DeprecationCheck{
			Reason:            fmt.Sprintf("insufficient applications (%d/%d)", total, minApps),
			TotalApplications: total,
		}, nil
	}

	rate := 0.0
	if total > 0 {
		rate = float64(h.TimesContradicted) / float64(total)
	}
	shouldDeprecate := rate > m.cfg.ContradictionRateThreshold

	result := DeprecationCheck{
		ShouldDeprecate:   shouldDeprecate,
		ContradictionRate: rate,
		TotalApplications: total,
	}
	if shouldDeprecate {
		result.Reason = fmt.Sprintf("contradiction rate %.1f%% exceeds %.0f%% threshold", rate*100, m.cfg.ContradictionRateThreshold*100)
		if err := m.store.DeprecateHeuristic(heuristicID); err != nil {
			return DeprecationCheck{}, err
		}
	} else {
		result.Reason = fmt.Sprintf("contradiction rate %.1f%% is below %.0f%% threshold", rate*100, m.cfg.ContradictionRateThreshold*100)
	}
	return result, nil
}
