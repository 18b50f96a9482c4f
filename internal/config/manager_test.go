package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRWMutexManagerGetReturnsClonedSnapshots(t *testing.T) {
	initial := &Config{General: General{LogLevel: "info"}}
	mgr := NewRWMutexManager(initial)

	got := mgr.Get()
	require.NotNil(t, got)
	require.NotSame(t, initial, got)
	require.Equal(t, "info", got.General.LogLevel)
}

func TestRWMutexManagerSetIsolatesCallerMutation(t *testing.T) {
	mgr := NewRWMutexManager(&Config{General: General{LogLevel: "info"}})

	next := &Config{General: General{LogLevel: "debug"}}
	mgr.Set(next)
	next.General.LogLevel = "error"

	require.Equal(t, "debug", mgr.Get().General.LogLevel)
}

func TestRWMutexManagerReload(t *testing.T) {
	path := writeTestConfig(t, minimalConfig)
	mgr := NewRWMutexManager(nil)

	require.NoError(t, mgr.Reload(path))
	cfg := mgr.Get()
	require.Equal(t, "/tmp/substrate-test", cfg.General.ElfBasePath)
}

func TestRWMutexManagerReloadRejectsInvalidConfig(t *testing.T) {
	mgr := NewRWMutexManager(&Config{General: General{LogLevel: "info"}})
	err := mgr.Reload("/nonexistent/path/substrate.toml")
	require.Error(t, err)
	// A failed reload must not disturb the previously loaded config.
	require.Equal(t, "info", mgr.Get().General.LogLevel)
}

func TestRWMutexManagerReloadRejectsEmptyPath(t *testing.T) {
	mgr := NewRWMutexManager(&Config{})
	require.Error(t, mgr.Reload(""))
}

func TestLoadManagerRequiresPath(t *testing.T) {
	_, err := LoadManager("")
	require.Error(t, err)
}

func TestLoadManagerLoadsFile(t *testing.T) {
	path := writeTestConfig(t, minimalConfig)
	mgr, err := LoadManager(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/substrate-test", mgr.Get().General.ElfBasePath)
}
