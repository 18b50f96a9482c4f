// Package config loads and validates the substrate's TOML configuration:
// filesystem roots plus per-component overrides for lifecycle, fraud,
// meta-observer, context-builder, and conductor thresholds. Any field left
// at its zero value in the file falls back to the component's own
// DefaultConfig, the same additive-override idiom the teacher used for its
// per-section defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/corewright/substrate/internal/conductor"
	"github.com/corewright/substrate/internal/contextbuilder"
	"github.com/corewright/substrate/internal/fraud"
	"github.com/corewright/substrate/internal/lifecycle"
	"github.com/corewright/substrate/internal/metaobserver"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the substrate's root configuration.
type Config struct {
	General        General              `toml:"general"`
	Lifecycle      LifecycleConfig      `toml:"lifecycle"`
	Fraud          FraudConfig          `toml:"fraud"`
	MetaObserver   MetaObserverConfig   `toml:"meta_observer"`
	ContextBuilder ContextBuilderConfig `toml:"context_builder"`
	Conductor      ConductorConfig      `toml:"conductor"`
}

// General holds filesystem roots and process-wide defaults.
type General struct {
	ElfBasePath         string   `toml:"elf_base_path"`
	CoordinationDir     string   `toml:"coordination_dir"`
	MemoryDir           string   `toml:"memory_dir"`
	StateDB             string   `toml:"state_db"`
	LogLevel            string   `toml:"log_level"`
	LockFile            string   `toml:"lock_file"`
	LockTimeout         Duration `toml:"lock_timeout"`
	MaintenanceInterval Duration `toml:"maintenance_interval"`
}

// LifecycleConfig mirrors lifecycle.Config with TOML tags; zero fields fall
// back to lifecycle.DefaultConfig.
type LifecycleConfig struct {
	DormantAfterDays              int     `toml:"dormant_after_days"`
	ArchivedAfterDormantDays      int     `toml:"archived_after_dormant_days"`
	MinApplicationsForDeprecation int     `toml:"min_applications_for_deprecation"`
	ContradictionRateThreshold    float64 `toml:"contradiction_rate_threshold"`
	MaxUpdatesPerDay              int     `toml:"max_updates_per_day"`
	CooldownMinutes               int     `toml:"cooldown_minutes"`
	MaxActivePerDomain            int     `toml:"max_active_per_domain"`
	MaxDormantPerDomain           int     `toml:"max_dormant_per_domain"`
	MinConfidence                 float64 `toml:"min_confidence"`
	MaxConfidence                 float64 `toml:"max_confidence"`
	DecayHalfLifeDays             int     `toml:"decay_half_life_days"`
	DecayFloor                    float64 `toml:"decay_floor"`
}

// ToLifecycleConfig overlays non-zero fields onto lifecycle.DefaultConfig.
func (c LifecycleConfig) ToLifecycleConfig() lifecycle.Config {
	cfg := lifecycle.DefaultConfig()
	if c.DormantAfterDays != 0 {
		cfg.DormantAfterDays = c.DormantAfterDays
	}
	if c.ArchivedAfterDormantDays != 0 {
		cfg.ArchivedAfterDormantDays = c.ArchivedAfterDormantDays
	}
	if c.MinApplicationsForDeprecation != 0 {
		cfg.MinApplicationsForDeprecation = c.MinApplicationsForDeprecation
	}
	if c.ContradictionRateThreshold != 0 {
		cfg.ContradictionRateThreshold = c.ContradictionRateThreshold
	}
	if c.MaxUpdatesPerDay != 0 {
		cfg.MaxUpdatesPerDay = c.MaxUpdatesPerDay
	}
	if c.CooldownMinutes != 0 {
		cfg.CooldownMinutes = c.CooldownMinutes
	}
	if c.MaxActivePerDomain != 0 {
		cfg.MaxActivePerDomain = c.MaxActivePerDomain
	}
	if c.MaxDormantPerDomain != 0 {
		cfg.MaxDormantPerDomain = c.MaxDormantPerDomain
	}
	if c.MinConfidence != 0 {
		cfg.MinConfidence = c.MinConfidence
	}
	if c.MaxConfidence != 0 {
		cfg.MaxConfidence = c.MaxConfidence
	}
	if c.DecayHalfLifeDays != 0 {
		cfg.DecayHalfLifeDays = c.DecayHalfLifeDays
	}
	if c.DecayFloor != 0 {
		cfg.DecayFloor = c.DecayFloor
	}
	return cfg
}

// FraudConfig mirrors fraud.Config with TOML tags.
type FraudConfig struct {
	PriorFraudRate           float64 `toml:"prior_fraud_rate"`
	ThresholdSuspicious      float64 `toml:"threshold_suspicious"`
	ThresholdFraudLikely     float64 `toml:"threshold_fraud_likely"`
	ThresholdFraudConfirmed  float64 `toml:"threshold_fraud_confirmed"`
	SuccessRateZThreshold    float64 `toml:"success_rate_z_threshold"`
	TemporalScoreThreshold   float64 `toml:"temporal_score_threshold"`
	TrajectoryScoreThreshold float64 `toml:"trajectory_score_threshold"`
	MinApplications          int     `toml:"min_applications"`
	MinUpdatesForTemporal    int     `toml:"min_updates_for_temporal"`
	MinUpdatesForTrajectory  int     `toml:"min_updates_for_trajectory"`
	TemporalWindowDays       int     `toml:"temporal_window_days"`
	TrajectoryWindowDays     int     `toml:"trajectory_window_days"`
	ContextRetentionDays     int     `toml:"context_retention_days"`
	CEOInboxDir              string  `toml:"ceo_inbox_dir"`
}

// ToFraudConfig overlays non-zero fields onto fraud.DefaultConfig.
func (c FraudConfig) ToFraudConfig() fraud.Config {
	cfg := fraud.DefaultConfig()
	if c.PriorFraudRate != 0 {
		cfg.PriorFraudRate = c.PriorFraudRate
	}
	if c.ThresholdSuspicious != 0 {
		cfg.ThresholdSuspicious = c.ThresholdSuspicious
	}
	if c.ThresholdFraudLikely != 0 {
		cfg.ThresholdFraudLikely = c.ThresholdFraudLikely
	}
	if c.ThresholdFraudConfirmed != 0 {
		cfg.ThresholdFraudConfirmed = c.ThresholdFraudConfirmed
	}
	if c.SuccessRateZThreshold != 0 {
		cfg.SuccessRateZThreshold = c.SuccessRateZThreshold
	}
	if c.TemporalScoreThreshold != 0 {
		cfg.TemporalScoreThreshold = c.TemporalScoreThreshold
	}
	if c.TrajectoryScoreThreshold != 0 {
		cfg.TrajectoryScoreThreshold = c.TrajectoryScoreThreshold
	}
	if c.MinApplications != 0 {
		cfg.MinApplications = c.MinApplications
	}
	if c.MinUpdatesForTemporal != 0 {
		cfg.MinUpdatesForTemporal = c.MinUpdatesForTemporal
	}
	if c.MinUpdatesForTrajectory != 0 {
		cfg.MinUpdatesForTrajectory = c.MinUpdatesForTrajectory
	}
	if c.TemporalWindowDays != 0 {
		cfg.TemporalWindowDays = c.TemporalWindowDays
	}
	if c.TrajectoryWindowDays != 0 {
		cfg.TrajectoryWindowDays = c.TrajectoryWindowDays
	}
	if c.ContextRetentionDays != 0 {
		cfg.ContextRetentionDays = c.ContextRetentionDays
	}
	if c.CEOInboxDir != "" {
		cfg.CEOInboxDir = c.CEOInboxDir
	}
	return cfg
}

// MetaObserverConfig mirrors metaobserver.Config with TOML tags.
type MetaObserverConfig struct {
	MinSamplesForStats           int     `toml:"min_samples_for_stats"`
	MinTimeSpreadFrac            float64 `toml:"min_time_spread_frac"`
	MinTimeSpreadHours           float64 `toml:"min_time_spread_hours"`
	DefaultZScoreThreshold       float64 `toml:"default_z_score_threshold"`
	MinBaselineSamples           int     `toml:"min_baseline_samples"`
	BootstrapThreshold           int     `toml:"bootstrap_threshold"`
	ConfidenceDeclineWindowHours int     `toml:"confidence_decline_window_hours"`
	ConfidenceDeclineSlopeFloor  float64 `toml:"confidence_decline_slope_floor"`
	ContradictionBaselineHours   int     `toml:"contradiction_baseline_hours"`
	ContradictionWindowHours     int     `toml:"contradiction_window_hours"`
	ActivityBaselineHours        int     `toml:"activity_baseline_hours"`
	ActivityWindowHours          int     `toml:"activity_window_hours"`
	ActivityZScoreFloor          float64 `toml:"activity_z_score_floor"`
}

// ToMetaObserverConfig overlays non-zero fields onto metaobserver.DefaultConfig.
func (c MetaObserverConfig) ToMetaObserverConfig() metaobserver.Config {
	cfg := metaobserver.DefaultConfig()
	if c.MinSamplesForStats != 0 {
		cfg.MinSamplesForStats = c.MinSamplesForStats
	}
	if c.MinTimeSpreadFrac != 0 {
		cfg.MinTimeSpreadFrac = c.MinTimeSpreadFrac
	}
	if c.MinTimeSpreadHours != 0 {
		cfg.MinTimeSpreadHours = c.MinTimeSpreadHours
	}
	if c.DefaultZScoreThreshold != 0 {
		cfg.DefaultZScoreThreshold = c.DefaultZScoreThreshold
	}
	if c.MinBaselineSamples != 0 {
		cfg.MinBaselineSamples = c.MinBaselineSamples
	}
	if c.BootstrapThreshold != 0 {
		cfg.BootstrapThreshold = c.BootstrapThreshold
	}
	if c.ConfidenceDeclineWindowHours != 0 {
		cfg.ConfidenceDeclineWindowHours = c.ConfidenceDeclineWindowHours
	}
	if c.ConfidenceDeclineSlopeFloor != 0 {
		cfg.ConfidenceDeclineSlopeFloor = c.ConfidenceDeclineSlopeFloor
	}
	if c.ContradictionBaselineHours != 0 {
		cfg.ContradictionBaselineHours = c.ContradictionBaselineHours
	}
	if c.ContradictionWindowHours != 0 {
		cfg.ContradictionWindowHours = c.ContradictionWindowHours
	}
	if c.ActivityBaselineHours != 0 {
		cfg.ActivityBaselineHours = c.ActivityBaselineHours
	}
	if c.ActivityWindowHours != 0 {
		cfg.ActivityWindowHours = c.ActivityWindowHours
	}
	if c.ActivityZScoreFloor != 0 {
		cfg.ActivityZScoreFloor = c.ActivityZScoreFloor
	}
	return cfg
}

// ContextBuilderConfig mirrors contextbuilder.Config with TOML tags.
type ContextBuilderConfig struct {
	GoldenRulesPath       string   `toml:"golden_rules_path"`
	CustomGoldenRulesPath string   `toml:"custom_golden_rules_path"`
	ProjectRoot           string   `toml:"project_root"`
	AlwaysLoadCategories  []string `toml:"always_load_categories"`
	Location              string   `toml:"location"`
}

// ToContextBuilderConfig overlays non-zero fields onto contextbuilder.DefaultConfig.
func (c ContextBuilderConfig) ToContextBuilderConfig() contextbuilder.Config {
	cfg := contextbuilder.DefaultConfig()
	if c.GoldenRulesPath != "" {
		cfg.GoldenRulesPath = c.GoldenRulesPath
	}
	if c.CustomGoldenRulesPath != "" {
		cfg.CustomGoldenRulesPath = c.CustomGoldenRulesPath
	}
	if c.ProjectRoot != "" {
		cfg.ProjectRoot = c.ProjectRoot
	}
	if len(c.AlwaysLoadCategories) > 0 {
		cfg.AlwaysLoadCategories = append([]string(nil), c.AlwaysLoadCategories...)
	}
	if c.Location != "" {
		cfg.Location = c.Location
	}
	return cfg
}

// ConductorConfig mirrors conductor.Config with TOML tags.
type ConductorConfig struct {
	DefaultTrailTTLHours int `toml:"default_trail_ttl_hours"`
}

// ToConductorConfig overlays non-zero fields onto conductor.DefaultConfig.
func (c ConductorConfig) ToConductorConfig() conductor.Config {
	cfg := conductor.DefaultConfig()
	if c.DefaultTrailTTLHours != 0 {
		cfg.DefaultTrailTTLHours = c.DefaultTrailTTLHours
	}
	return cfg
}

// Clone returns a copy of cfg so callers can safely mutate the result
// without affecting what a ConfigManager hands out to other readers.
func (cfg *Config) Clone() *Config {
	if cfg == nil {
		return nil
	}
	cloned := *cfg
	if cfg.ContextBuilder.AlwaysLoadCategories != nil {
		cloned.ContextBuilder.AlwaysLoadCategories = append([]string(nil), cfg.ContextBuilder.AlwaysLoadCategories...)
	}
	return &cloned
}

// Load reads and validates the substrate's TOML configuration file, then
// resolves filesystem-root defaults from ELF_BASE_PATH when the file leaves
// them blank.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Reload re-reads and validates the configuration file, for use from a
// SIGHUP handler or a periodic watcher.
func Reload(path string) (*Config, error) {
	return Load(path)
}

// LoadManager reads config from path and returns an RWMutex-backed
// thread-safe manager.
func LoadManager(path string) (ConfigManager, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewRWMutexManager(cfg), nil
}

func applyDefaults(cfg *Config) {
	base := strings.TrimSpace(cfg.General.ElfBasePath)
	if base == "" {
		if env := strings.TrimSpace(os.Getenv("ELF_BASE_PATH")); env != "" {
			base = env
		} else {
			base = "."
		}
	}
	cfg.General.ElfBasePath = ExpandHome(base)

	if cfg.General.CoordinationDir == "" {
		cfg.General.CoordinationDir = filepath.Join(cfg.General.ElfBasePath, "coordination")
	}
	if cfg.General.MemoryDir == "" {
		cfg.General.MemoryDir = filepath.Join(cfg.General.ElfBasePath, "memory")
	}
	if cfg.General.StateDB == "" {
		cfg.General.StateDB = filepath.Join(cfg.General.MemoryDir, "index.db")
	}
	cfg.General.CoordinationDir = ExpandHome(cfg.General.CoordinationDir)
	cfg.General.MemoryDir = ExpandHome(cfg.General.MemoryDir)
	cfg.General.StateDB = ExpandHome(cfg.General.StateDB)

	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LockFile == "" {
		cfg.General.LockFile = filepath.Join(cfg.General.CoordinationDir, ".substrate.lock")
	} else {
		cfg.General.LockFile = ExpandHome(cfg.General.LockFile)
	}
	if cfg.General.LockTimeout.Duration == 0 {
		cfg.General.LockTimeout.Duration = 30 * time.Second
	}
	if cfg.General.MaintenanceInterval.Duration == 0 {
		cfg.General.MaintenanceInterval.Duration = 15 * time.Minute
	}

	if cfg.ContextBuilder.ProjectRoot == "" {
		cfg.ContextBuilder.ProjectRoot = cfg.General.ElfBasePath
	}
	if cfg.ContextBuilder.GoldenRulesPath == "" {
		cfg.ContextBuilder.GoldenRulesPath = filepath.Join(cfg.General.MemoryDir, "golden-rules.md")
	}
	if cfg.ContextBuilder.CustomGoldenRulesPath == "" {
		cfg.ContextBuilder.CustomGoldenRulesPath = filepath.Join(cfg.General.ElfBasePath, "custom", "golden-rules.md")
	}
	if cfg.Fraud.CEOInboxDir == "" {
		cfg.Fraud.CEOInboxDir = filepath.Join(cfg.General.ElfBasePath, "ceo-inbox")
	} else if !filepath.IsAbs(cfg.Fraud.CEOInboxDir) {
		cfg.Fraud.CEOInboxDir = filepath.Join(cfg.General.ElfBasePath, cfg.Fraud.CEOInboxDir)
	}
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.General.ElfBasePath) == "" {
		return fmt.Errorf("general.elf_base_path must not be empty")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.General.LogLevel)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("general.log_level must be one of debug, info, warn, error, got %q", cfg.General.LogLevel)
	}
	if cfg.General.LockTimeout.Duration <= 0 {
		return fmt.Errorf("general.lock_timeout must be > 0")
	}
	if cfg.Lifecycle.MinConfidence != 0 && cfg.Lifecycle.MaxConfidence != 0 && cfg.Lifecycle.MinConfidence >= cfg.Lifecycle.MaxConfidence {
		return fmt.Errorf("lifecycle.min_confidence must be less than lifecycle.max_confidence")
	}
	if cfg.Fraud.ThresholdSuspicious != 0 && cfg.Fraud.ThresholdFraudLikely != 0 && cfg.Fraud.ThresholdSuspicious >= cfg.Fraud.ThresholdFraudLikely {
		return fmt.Errorf("fraud.threshold_suspicious must be less than fraud.threshold_fraud_likely")
	}
	if cfg.Fraud.ThresholdFraudLikely != 0 && cfg.Fraud.ThresholdFraudConfirmed != 0 && cfg.Fraud.ThresholdFraudLikely >= cfg.Fraud.ThresholdFraudConfirmed {
		return fmt.Errorf("fraud.threshold_fraud_likely must be less than fraud.threshold_fraud_confirmed")
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
