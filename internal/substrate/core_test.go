package substrate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corewright/substrate/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		General: config.General{
			ElfBasePath:     dir,
			CoordinationDir: filepath.Join(dir, "coordination"),
			MemoryDir:       filepath.Join(dir, "memory"),
			StateDB:         filepath.Join(dir, "memory", "index.db"),
			LogLevel:        "info",
		},
	}
}

func TestOpenWiresEveryComponent(t *testing.T) {
	core, err := Open(testConfig(t), nil)
	require.NoError(t, err)
	defer core.Close()

	require.NotNil(t, core.EventLog)
	require.NotNil(t, core.Board)
	require.NotNil(t, core.Store)
	require.NotNil(t, core.Lifecycle)
	require.NotNil(t, core.Fraud)
	require.NotNil(t, core.MetaObserver)
	require.NotNil(t, core.Conductor)
	require.NotNil(t, core.ContextBuilder)
	require.NotNil(t, core.Replay)
	require.NotNil(t, core.Safety)
	require.NotNil(t, core.Logger)
}

func TestOpenRejectsNilConfig(t *testing.T) {
	_, err := Open(nil, nil)
	require.Error(t, err)
	var typed *Error
	require.ErrorAs(t, err, &typed)
	require.Equal(t, CategoryConfig, typed.category)
}

func TestOpenWrapsStoreFailureAsDatabaseError(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root ignores directory permission bits")
	}
	cfg := testConfig(t)
	readonlyDir := filepath.Join(cfg.General.ElfBasePath, "readonly")
	require.NoError(t, os.MkdirAll(readonlyDir, 0o500))
	cfg.General.StateDB = filepath.Join(readonlyDir, "index.db")

	_, err := Open(cfg, nil)
	require.Error(t, err)
	var typed *Error
	require.ErrorAs(t, err, &typed)
	require.Equal(t, CategoryDatabase, typed.category)
}

func TestCloseIsNilSafe(t *testing.T) {
	var core *Core
	require.NoError(t, core.Close())
}
