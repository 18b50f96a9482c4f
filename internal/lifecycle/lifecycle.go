// Package lifecycle implements C4: the confidence-update and domain-elasticity
// engine that keeps heuristics honest over time — rate-limited, symmetric,
// EMA-smoothed updates; rate-based deprecation instead of raw contradiction
// counts; dormancy with keyword- and time-triggered revival; and soft/hard
// per-domain population limits enforced by demotion, merge, and contraction
// rather than deletion.
package lifecycle

import (
	"time"

	"github.com/corewright/substrate/internal/store"
)

// Config bounds every rate, threshold, and limit the engine enforces. The
// zero value is invalid; use DefaultConfig.
type Config struct {
	DormantAfterDays        int
	ArchivedAfterDormantDays int

	MinApplicationsForDeprecation int
	ContradictionRateThreshold    float64

	MaxUpdatesPerDay  int
	CooldownMinutes   int

	MaxActivePerDomain  int
	MaxDormantPerDomain int

	MinConfidence float64
	MaxConfidence float64

	DecayHalfLifeDays int
	DecayFloor        float64
}

// DefaultConfig mirrors the lifecycle thresholds this engine was ported from.
func DefaultConfig() Config {
	return Config{
		DormantAfterDays:         60,
		ArchivedAfterDormantDays: 90,

		MinApplicationsForDeprecation: 10,
		ContradictionRateThreshold:    0.30,

		MaxUpdatesPerDay: 5,
		CooldownMinutes:  60,

		MaxActivePerDomain:  10,
		MaxDormantPerDomain: 20,

		MinConfidence: 0.05,
		MaxConfidence: 0.95,

		DecayHalfLifeDays: 14,
		DecayFloor:        0.20,
	}
}

// Manager is the engine's handle, bound to one knowledge store.
type Manager struct {
	store *store.Store
	cfg   Config
}

// New constructs a Manager over an already-open store.
func New(s *store.Store, cfg Config) *Manager {
	return &Manager{store: s, cfg: cfg}
}

func (m *Manager) clamp(v float64) float64 {
	if v < m.cfg.MinConfidence {
		return m.cfg.MinConfidence
	}
	if v > m.cfg.MaxConfidence {
		return m.cfg.MaxConfidence
	}
	return v
}

func todayUTC() string {
	return time.Now().UTC().Format("2006-01-02")
}
