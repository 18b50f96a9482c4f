package fraud

import (
	"database/sql"
	"fmt"
	"math"

	"github.com/corewright/substrate/internal/store"
)

// GetDomainBaseline returns the current baseline for domain, or nil if one
// has never been computed.
func (d *Detector) GetDomainBaseline(domain string) (*store.DomainBaseline, error) {
	return d.store.GetDomainBaseline(domain)
}

// ClassifyDriftSeverity buckets an absolute drift percentage into a
// severity band.
func ClassifyDriftSeverity(absDriftPct float64) string {
	switch {
	case absDriftPct >= 50:
		return "critical"
	case absDriftPct >= 35:
		return "high"
	case absDriftPct >= 20:
		return "medium"
	default:
		return "low"
	}
}

// UpdateDomainBaseline recomputes domain's success-rate and update-frequency
// baseline from its active heuristics, appends a history row, and raises a
// drift alert when the new average moves more than 20% from the previous
// one.
func (d *Detector) UpdateDomainBaseline(domain, triggeredBy string) (*store.DomainBaseline, error) {
	samples, err := d.store.ActiveHeuristicSamples(domain, d.cfg.MinApplications)
	if err != nil {
		return nil, fmt.Errorf("fraud: update domain baseline: %w", err)
	}
	if len(samples) == 0 {
		return nil, nil
	}

	successRates := make([]float64, 0, len(samples))
	for _, s := range samples {
		total := s.TimesValidated + s.TimesViolated + s.TimesContradicted
		if total == 0 {
			continue
		}
		successRates = append(successRates, float64(s.TimesValidated)/float64(total))
	}
	if len(successRates) == 0 {
		return nil, nil
	}

	freqSamples, err := d.store.UpdateFrequencySamples(domain)
	if err != nil {
		return nil, fmt.Errorf("fraud: update domain baseline: %w", err)
	}
	updateFreqs := make([]float64, 0, len(freqSamples))
	for _, f := range freqSamples {
		if f.DaysActive <= 0 {
			continue
		}
		updateFreqs = append(updateFreqs, float64(f.UpdateCount)/f.DaysActive)
	}

	avgSuccessRate := mean(successRates)
	stdSuccessRate := sampleStdev(successRates)
	avgUpdateFreq := mean(updateFreqs)
	stdUpdateFreq := sampleStdev(updateFreqs)

	prev, err := d.store.GetDomainBaseline(domain)
	if err != nil {
		return nil, fmt.Errorf("fraud: update domain baseline: %w", err)
	}

	update := store.BaselineUpdate{
		Domain:             domain,
		AvgSuccessRate:     avgSuccessRate,
		StdSuccessRate:     stdSuccessRate,
		AvgUpdateFrequency: avgUpdateFreq,
		StdUpdateFrequency: stdUpdateFreq,
		SampleCount:        len(successRates),
		TriggeredBy:        triggeredBy,
	}

	severity := ""
	if prev != nil && prev.AvgSuccessRate != 0 {
		driftPct := (avgSuccessRate - prev.AvgSuccessRate) / prev.AvgSuccessRate * 100
		update.DriftPercentage = sql.NullFloat64{Float64: driftPct, Valid: true}
		if math.Abs(driftPct) > 20 {
			update.IsSignificantDrift = true
			severity = ClassifyDriftSeverity(math.Abs(driftPct))
		}
	}

	if err := d.store.UpsertDomainBaseline(update, prev, severity); err != nil {
		return nil, fmt.Errorf("fraud: update domain baseline: %w", err)
	}

	return d.store.GetDomainBaseline(domain)
}

// RefreshAllBaselines recomputes the baseline for every domain with active
// heuristics, returning the domains actually updated.
func (d *Detector) RefreshAllBaselines(triggeredBy string) ([]string, error) {
	domains, err := d.store.DomainsWithActiveHeuristics()
	if err != nil {
		return nil, fmt.Errorf("fraud: refresh all baselines: %w", err)
	}

	var refreshed []string
	for _, domain := range domains {
		b, err := d.UpdateDomainBaseline(domain, triggeredBy)
		if err != nil {
			return refreshed, err
		}
		if b != nil {
			refreshed = append(refreshed, domain)
		}
	}
	if err := d.store.MarkScheduledRefreshesRun(); err != nil {
		return refreshed, fmt.Errorf("fraud: refresh all baselines: %w", err)
	}
	return refreshed, nil
}

// GetDomainsNeedingRefresh reports scheduled domains overdue for a baseline
// recomputation.
func (d *Detector) GetDomainsNeedingRefresh() ([]store.RefreshScheduleEntry, error) {
	return d.store.DomainsNeedingRefresh()
}

// ScheduleBaselineRefresh sets (or updates) the refresh interval for a
// domain; an empty domain means "all domains".
func (d *Detector) ScheduleBaselineRefresh(domain string, intervalDays int) error {
	return d.store.ScheduleBaselineRefresh(domain, intervalDays)
}

// GetUnacknowledgedDriftAlerts returns every drift alert not yet
// acknowledged by a human.
func (d *Detector) GetUnacknowledgedDriftAlerts() ([]store.DriftAlert, error) {
	return d.store.UnacknowledgedDriftAlerts()
}

// AcknowledgeDriftAlert records a human acknowledgement of a drift alert.
func (d *Detector) AcknowledgeDriftAlert(id int64, acknowledgedBy, notes string) error {
	return d.store.AcknowledgeDriftAlert(id, acknowledgedBy, notes)
}

// BaselineHistory returns the most recent baseline history rows, optionally
// scoped to one domain.
func (d *Detector) BaselineHistory(domain string, limit int) ([]map[string]any, error) {
	return d.store.BaselineHistory(domain, limit)
}
