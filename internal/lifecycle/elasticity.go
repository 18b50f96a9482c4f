package lifecycle

import (
	"fmt"
	"sort"
	"time"

	"github.com/corewright/substrate/internal/store"
)

// DomainState is the resolved elasticity configuration and live counts for
// a domain, falling back to defaults when no row has been persisted yet.
type DomainState struct {
	Domain            string
	SoftLimit         int
	HardLimit         int
	CurrentCount      int
	State             string
	DaysInOverflow    int
	GracePeriodDays   int
	MinConfidence     float64
	MinValidations    int
	MinNovelty        float64
	HealthScore       float64
	Exists            bool
}

// GetDomainState loads the domain's configuration plus a live active-count,
// defaulting to soft=5/hard=10/normal for domains never configured.
func (m *Manager) GetDomainState(domain string) (DomainState, error) {
	count, err := m.store.CountActiveByDomain(domain)
	if err != nil {
		return DomainState{}, fmt.Errorf("lifecycle: domain state: %w", err)
	}

	row, err := m.store.GetDomainMetadata(domain)
	if err != nil {
		return DomainState{}, fmt.Errorf("lifecycle: domain state: %w", err)
	}
	if row == nil {
		return DomainState{
			Domain: domain, SoftLimit: 5, HardLimit: 10, CurrentCount: count,
			State: "normal", GracePeriodDays: 14, MinConfidence: 0.70,
			MinValidations: 3, MinNovelty: 0.60, HealthScore: 1.0,
		}, nil
	}

	state := DomainState{
		Domain: domain, SoftLimit: row.SoftLimit, HardLimit: row.HardLimit, CurrentCount: count,
		State: row.State, GracePeriodDays: row.GracePeriodDays, MinConfidence: row.ExpansionMinConfidence,
		MinValidations: row.ExpansionMinValidations, MinNovelty: row.ExpansionMinNovelty,
		HealthScore: row.HealthScore, Exists: true,
	}
	if row.CEOOverrideLimit.Valid {
		state.HardLimit = int(row.CEOOverrideLimit.Int64)
	}
	if row.OverflowEnteredAt.Valid {
		state.DaysInOverflow = int(time.Since(row.OverflowEnteredAt.Time).Hours() / 24)
	}
	return state, nil
}

// CanAddHeuristic reports whether domain can accept one more active
// heuristic against its hard limit (or CEO override).
func (m *Manager) CanAddHeuristic(domain string) (bool, string, error) {
	state, err := m.GetDomainState(domain)
	if err != nil {
		return false, "", err
	}
	if state.CurrentCount >= state.HardLimit {
		return false, fmt.Sprintf("hard limit reached (%d active heuristics)", state.HardLimit), nil
	}
	return true, "ok", nil
}

// ExpansionEligibility is the quality-gate verdict for admitting a heuristic
// beyond a domain's soft limit.
type ExpansionEligibility struct {
	Eligible          bool
	Reason            string
	BelowSoftLimit    bool
	Novelty           float64
	PassesConfidence  bool
	PassesValidations bool
	PassesNovelty     bool
	PassesHealth      bool
}

// CheckExpansionEligibility applies the quality gate (confidence, validation
// count, novelty, domain health) that gates new heuristics once a domain is
// at or above its soft limit.
func (m *Manager) CheckExpansionEligibility(domain, statement string, confidence float64, validations int) (ExpansionEligibility, error) {
	state, err := m.GetDomainState(domain)
	if err != nil {
		return ExpansionEligibility{}, err
	}
	if state.CurrentCount < state.SoftLimit {
		return ExpansionEligibility{Eligible: true, BelowSoftLimit: true, Reason: "under soft limit, no quality gate needed"}, nil
	}

	novelty, err := m.NoveltyScore(domain, statement)
	if err != nil {
		return ExpansionEligibility{}, err
	}

	passConf := confidence >= state.MinConfidence
	passVal := validations >= state.MinValidations
	passNov := novelty >= state.MinNovelty
	passHealth := state.HealthScore >= 0.50
	allPass := passConf && passVal && passNov && passHealth

	reason := "quality gate passed: all criteria met"
	if !allPass {
		reason = "quality gate failed"
		if !passConf {
			reason += fmt.Sprintf("; confidence %.2f < %.2f", confidence, state.MinConfidence)
		}
		if !passVal {
			reason += fmt.Sprintf("; validations %d < %d", validations, state.MinValidations)
		}
		if !passNov {
			reason += fmt.Sprintf("; novelty %.2f < %.2f", novelty, state.MinNovelty)
		}
		if !passHealth {
			reason += fmt.Sprintf("; domain health %.2f < 0.50", state.HealthScore)
		}
	}

	return ExpansionEligibility{
		Eligible: allPass, Reason: reason, Novelty: novelty,
		PassesConfidence: passConf, PassesValidations: passVal, PassesNovelty: passNov, PassesHealth: passHealth,
	}, nil
}

// NoveltyScore is 1 minus the highest Jaccard keyword similarity against any
// active heuristic already in the domain; 1.0 when the domain is empty.
func (m *Manager) NoveltyScore(domain, statement string) (float64, error) {
	existing, err := m.store.ActiveHeuristicsByDomain(domain, true)
	if err != nil {
		return 0, fmt.Errorf("lifecycle: novelty score: %w", err)
	}
	if len(existing) == 0 {
		return 1.0, nil
	}

	newKW := keywordSet(statement)
	if len(newKW) == 0 {
		return 0.5, nil
	}

	maxSim := 0.0
	for _, h := range existing {
		sim := jaccardSimilarity(newKW, keywordSet(h.Statement))
		if sim > maxSim {
			maxSim = sim
		}
	}
	return 1.0 - maxSim, nil
}

// evictionScore ranks heuristics for demotion: lower score evicts first.
// Combines confidence with a recency factor (decays over 30 days unused)
// and a usage factor (diminishing bonus for more applications).
func evictionScore(h store.HeuristicLifecycle) float64 {
	recency := 1.0
	if h.LastUsedAt.Valid {
		daysSince := time.Since(h.LastUsedAt.Time).Hours() / 24
		recency = 1.0 / (1.0 + daysSince/30.0)
	} else {
		recency = 0.3
	}
	usage := 1.0 + float64(h.TotalApplications())/20.0
	return h.Confidence * recency * usage
}

// EvictionCandidate pairs a heuristic id with its ranking score.
type EvictionCandidate struct {
	ID    string
	Score float64
}

// GetEvictionCandidates ranks active, non-golden heuristics in domain from
// most to least evictable.
func (m *Manager) GetEvictionCandidates(domain string) ([]EvictionCandidate, error) {
	heuristics, err := m.store.ActiveHeuristicsByDomain(domain, false)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: eviction candidates: %w", err)
	}
	candidates := make([]EvictionCandidate, 0, len(heuristics))
	for _, h := range heuristics {
		candidates = append(candidates, EvictionCandidate{ID: h.ID, Score: evictionScore(h)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score < candidates[j].Score })
	return candidates, nil
}

// DomainEnforcementResult reports what EnforceDomainLimits did.
type DomainEnforcementResult struct {
	Action       string
	ActiveCount  int
	Limit        int
	DemotedCount int
}

// EnforceDomainLimits demotes the lowest-scoring active heuristics to
// dormant (never deletes) until a domain is back within MaxActivePerDomain.
func (m *Manager) EnforceDomainLimits(domain string) (DomainEnforcementResult, error) {
	activeCount, err := m.store.CountActiveByDomain(domain)
	if err != nil {
		return DomainEnforcementResult{}, fmt.Errorf("lifecycle: enforce domain limits: %w", err)
	}
	if activeCount <= m.cfg.MaxActivePerDomain {
		return DomainEnforcementResult{Action: "none", ActiveCount: activeCount, Limit: m.cfg.MaxActivePerDomain}, nil
	}

	candidates, err := m.GetEvictionCandidates(domain)
	if err != nil {
		return DomainEnforcementResult{}, err
	}
	toDemote := activeCount - m.cfg.MaxActivePerDomain
	demoted := 0
	for i := 0; i < toDemote && i < len(candidates); i++ {
		if err := m.MakeDormant(candidates[i].ID); err != nil {
			return DomainEnforcementResult{}, err
		}
		demoted++
	}

	return DomainEnforcementResult{
		Action: "demoted_to_dormant", ActiveCount: activeCount - demoted,
		Limit: m.cfg.MaxActivePerDomain, DemotedCount: demoted,
	}, nil
}

// MergeCandidate is a pair of heuristics similar enough to consider merging.
type MergeCandidate struct {
	IDs        [2]string
	Similarity float64
	AutoMerge  bool
}

// FindMergeCandidates pairs up active, non-golden heuristics in domain by
// keyword-Jaccard similarity >= 0.40, flagging >= 0.60 as auto-mergeable.
func (m *Manager) FindMergeCandidates(domain string) ([]MergeCandidate, error) {
	heuristics, err := m.store.ActiveHeuristicsByDomain(domain, false)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: find merge candidates: %w", err)
	}

	var candidates []MergeCandidate
	for i := 0; i < len(heuristics); i++ {
		kw1 := keywordSet(heuristics[i].Statement)
		for j := i + 1; j < len(heuristics); j++ {
			kw2 := keywordSet(heuristics[j].Statement)
			sim := jaccardSimilarity(kw1, kw2)
			if sim >= 0.40 {
				candidates = append(candidates, MergeCandidate{
					IDs: [2]string{heuristics[i].ID, heuristics[j].ID}, Similarity: sim, AutoMerge: sim >= 0.60,
				})
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Similarity > candidates[j].Similarity })
	return candidates, nil
}

// MergeResult reports the outcome of merging heuristics into one.
type MergeResult struct {
	Applied    bool
	Reason     string
	TargetID   string
	SpaceSaved int
}

// MergeHeuristics folds multiple active heuristics from the same domain into
// a new one with a validation-weighted-average confidence and summed
// application counts, archiving the sources.
func (m *Manager) MergeHeuristics(targetID string, sourceIDs []string, mergedStatement, source, reason string, similarity float64) (MergeResult, error) {
	if len(sourceIDs) < 2 {
		return MergeResult{Reason: "need at least 2 heuristics to merge"}, nil
	}

	sources := make([]*store.HeuristicLifecycle, 0, len(sourceIDs))
	domain := ""
	for _, id := range sourceIDs {
		h, err := m.store.GetHeuristicLifecycle(id)
		if err != nil {
			return MergeResult{}, fmt.Errorf("lifecycle: merge heuristics: %w", err)
		}
		if h == nil || h.Status != "active" {
			return MergeResult{Reason: fmt.Sprintf("heuristic %s not found or not active", id)}, nil
		}
		if domain == "" {
			domain = h.Domain
		} else if domain != h.Domain {
			return MergeResult{Reason: "cannot merge heuristics from different domains"}, nil
		}
		sources = append(sources, h)
	}

	var totalValidated, totalViolated, totalContradicted int
	var weightedConfSum float64
	for _, s := range sources {
		totalValidated += s.TimesValidated
		totalViolated += s.TimesViolated
		totalContradicted += s.TimesContradicted
		weightedConfSum += s.Confidence * float64(s.TimesValidated)
	}

	var mergedConfidence float64
	if totalValidated > 0 {
		mergedConfidence = weightedConfSum / float64(totalValidated)
	} else {
		sum := 0.0
		for _, s := range sources {
			sum += s.Confidence
		}
		mergedConfidence = sum / float64(len(sources))
	}

	if err := m.store.InsertMergedHeuristic(targetID, domain, mergedStatement, source, mergedConfidence,
		totalValidated, totalViolated, totalContradicted, sourceIDs, reason, similarity); err != nil {
		return MergeResult{}, err
	}

	return MergeResult{Applied: true, TargetID: targetID, SpaceSaved: len(sources) - 1}, nil
}

// ContractionResult reports a domain's graceful-contraction outcome.
type ContractionResult struct {
	Applied       bool
	Reason        string
	MergedCount   int
	EvictedCount  int
	CountBefore   int
	CountAfter    int
}

// TriggerContraction reduces a domain's active count by 1-2 per week once
// an overflow domain has cleared its grace period, preferring merges over
// outright demotion.
func (m *Manager) TriggerContraction(domain string, nextID func() string) (ContractionResult, error) {
	state, err := m.GetDomainState(domain)
	if err != nil {
		return ContractionResult{}, err
	}
	if state.State != "overflow" {
		return ContractionResult{Reason: fmt.Sprintf("domain is in '%s' state, not overflow", state.State)}, nil
	}
	if state.DaysInOverflow < state.GracePeriodDays {
		return ContractionResult{Reason: fmt.Sprintf("in grace period (%d/%d days)", state.DaysInOverflow, state.GracePeriodDays)}, nil
	}

	current := state.CurrentCount
	overflowAmount := current - state.SoftLimit
	daysPastGrace := state.DaysInOverflow - state.GracePeriodDays
	weeksPastGrace := float64(daysPastGrace) / 7.0
	targetReduction := int(weeksPastGrace * 2)
	if targetReduction > overflowAmount {
		targetReduction = overflowAmount
	}
	if targetReduction <= 0 {
		return ContractionResult{Reason: fmt.Sprintf("not enough time elapsed for contraction (%d days past grace)", daysPastGrace)}, nil
	}

	candidates, err := m.FindMergeCandidates(domain)
	if err != nil {
		return ContractionResult{}, err
	}
	mergedCount := 0
	for i := 0; i < len(candidates) && mergedCount < targetReduction; i++ {
		c := candidates[i]
		result, err := m.MergeHeuristics(nextID(), []string{c.IDs[0], c.IDs[1]}, "[merged during contraction]", "lifecycle-contraction",
			fmt.Sprintf("similarity: %.1f%%", c.Similarity*100), c.Similarity)
		if err != nil {
			return ContractionResult{}, err
		}
		if result.Applied {
			mergedCount++
		}
	}

	remaining := targetReduction - mergedCount
	evictedCount := 0
	if remaining > 0 {
		evictionCandidates, err := m.GetEvictionCandidates(domain)
		if err != nil {
			return ContractionResult{}, err
		}
		for i := 0; i < remaining && i < len(evictionCandidates); i++ {
			if err := m.MakeDormant(evictionCandidates[i].ID); err != nil {
				return ContractionResult{}, err
			}
			evictedCount++
		}
	}

	countAfter := current - mergedCount - evictedCount
	if err := m.store.LogExpansionEvent(domain, "contraction", current, countAfter,
		fmt.Sprintf("merged %d, evicted %d", mergedCount, evictedCount)); err != nil {
		return ContractionResult{}, err
	}

	return ContractionResult{
		Applied: true, MergedCount: mergedCount, EvictedCount: evictedCount,
		CountBefore: current, CountAfter: countAfter,
	}, nil
}
