package lifecycle

import "fmt"

// MaintenanceReport summarizes one run of periodic lifecycle maintenance.
type MaintenanceReport struct {
	DecayedCount       int
	MadeDormant        []string
	Archived           []string
	DomainEnforcement  map[string]DomainEnforcementResult
}

// RunMaintenance applies confidence decay to unused heuristics, demotes any
// that decay below the dormancy floor, enforces per-domain active limits,
// and archives dormant heuristics past the archival threshold. Intended to
// run on a schedule (daily), not per-request.
func (m *Manager) RunMaintenance() (MaintenanceReport, error) {
	report := MaintenanceReport{DomainEnforcement: make(map[string]DomainEnforcementResult)}

	wentDormant, err := m.store.DecayStaleHeuristics(m.cfg.DecayHalfLifeDays, m.cfg.MinConfidence, m.cfg.DecayFloor)
	if err != nil {
		return MaintenanceReport{}, fmt.Errorf("lifecycle: run maintenance: decay: %w", err)
	}
	report.DecayedCount = len(wentDormant)
	for _, id := range wentDormant {
		if err := m.MakeDormant(id); err != nil {
			return MaintenanceReport{}, fmt.Errorf("lifecycle: run maintenance: make dormant: %w", err)
		}
		report.MadeDormant = append(report.MadeDormant, id)
	}

	domains, err := m.store.DistinctActiveDomains()
	if err != nil {
		return MaintenanceReport{}, fmt.Errorf("lifecycle: run maintenance: domains: %w", err)
	}
	for _, d := range domains {
		enforcement, err := m.EnforceDomainLimits(d)
		if err != nil {
			return MaintenanceReport{}, fmt.Errorf("lifecycle: run maintenance: enforce %s: %w", d, err)
		}
		if enforcement.Action != "none" {
			report.DomainEnforcement[d] = enforcement
		}
	}

	archived, err := m.store.ArchiveDormantOlderThan(m.cfg.ArchivedAfterDormantDays, "")
	if err != nil {
		return MaintenanceReport{}, fmt.Errorf("lifecycle: run maintenance: archive: %w", err)
	}
	report.Archived = archived

	return report, nil
}

// StatusSummary is one entry of the lifecycle status breakdown.
type StatusSummary struct {
	Count         int
	AvgConfidence float64
}

// Stats reports the current distribution of heuristic lifecycle states.
func (m *Manager) Stats() (map[string]StatusSummary, error) {
	counts, err := m.store.LifecycleStatusCounts()
	if err != nil {
		return nil, fmt.Errorf("lifecycle: stats: %w", err)
	}
	out := make(map[string]StatusSummary, len(counts))
	for status, c := range counts {
		out[status] = StatusSummary{Count: c.Count, AvgConfidence: c.AvgConfidence}
	}
	return out, nil
}
