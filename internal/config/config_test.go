package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "substrate.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
[general]
elf_base_path = "/tmp/substrate-test"
log_level = "debug"
`

func TestLoadAppliesFilesystemDefaults(t *testing.T) {
	path := writeTestConfig(t, minimalConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "/tmp/substrate-test", cfg.General.ElfBasePath)
	require.Equal(t, filepath.Join("/tmp/substrate-test", "coordination"), cfg.General.CoordinationDir)
	require.Equal(t, filepath.Join("/tmp/substrate-test", "memory"), cfg.General.MemoryDir)
	require.Equal(t, filepath.Join("/tmp/substrate-test", "memory", "index.db"), cfg.General.StateDB)
	require.Equal(t, filepath.Join("/tmp/substrate-test", "ceo-inbox"), cfg.Fraud.CEOInboxDir)
	require.NotZero(t, cfg.General.LockTimeout.Duration)
}

func TestLoadFallsBackToElfBasePathEnv(t *testing.T) {
	t.Setenv("ELF_BASE_PATH", "/tmp/substrate-env")
	path := writeTestConfig(t, "[general]\nlog_level = \"info\"\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/substrate-env", cfg.General.ElfBasePath)
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	path := writeTestConfig(t, "[general]\nelf_base_path = \"/tmp/x\"\nlog_level = \"verbose\"\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsInvertedLifecycleConfidenceBounds(t *testing.T) {
	path := writeTestConfig(t, `
[general]
elf_base_path = "/tmp/x"

[lifecycle]
min_confidence = 0.9
max_confidence = 0.1
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsInvertedFraudThresholds(t *testing.T) {
	path := writeTestConfig(t, `
[general]
elf_base_path = "/tmp/x"

[fraud]
threshold_suspicious = 0.9
threshold_fraud_likely = 0.1
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestToLifecycleConfigOverlaysOnlyNonZeroFields(t *testing.T) {
	c := LifecycleConfig{MaxUpdatesPerDay: 9}
	cfg := c.ToLifecycleConfig()
	require.Equal(t, 9, cfg.MaxUpdatesPerDay)
	require.Equal(t, 60, cfg.DormantAfterDays) // default untouched
}

func TestToFraudConfigOverlaysCEOInboxDir(t *testing.T) {
	c := FraudConfig{CEOInboxDir: "custom-inbox"}
	cfg := c.ToFraudConfig()
	require.Equal(t, "custom-inbox", cfg.CEOInboxDir)
	require.Equal(t, 0.05, cfg.PriorFraudRate) // default untouched
}

func TestToContextBuilderConfigOverlaysCategories(t *testing.T) {
	c := ContextBuilderConfig{AlwaysLoadCategories: []string{"security", "core"}}
	cfg := c.ToContextBuilderConfig()
	require.Equal(t, []string{"security", "core"}, cfg.AlwaysLoadCategories)
}

func TestExpandHomeLeavesNonTildePathsAlone(t *testing.T) {
	require.Equal(t, "/abs/path", ExpandHome("/abs/path"))
}

func TestCloneIsIndependentOfSource(t *testing.T) {
	cfg := &Config{ContextBuilder: ContextBuilderConfig{AlwaysLoadCategories: []string{"core"}}}
	cloned := cfg.Clone()
	cloned.ContextBuilder.AlwaysLoadCategories[0] = "mutated"
	require.Equal(t, "core", cfg.ContextBuilder.AlwaysLoadCategories[0])
}
