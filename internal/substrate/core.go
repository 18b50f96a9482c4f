// Package substrate wires every component (C1-C10) into one process-scoped
// handle and defines the typed error categories the CLI surfaces to
// callers. It owns nothing that a component doesn't already own itself —
// Core is a construction-time convenience, not a god object.
package substrate

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/corewright/substrate/internal/blackboard"
	"github.com/corewright/substrate/internal/conductor"
	"github.com/corewright/substrate/internal/config"
	"github.com/corewright/substrate/internal/contextbuilder"
	"github.com/corewright/substrate/internal/eventlog"
	"github.com/corewright/substrate/internal/fraud"
	"github.com/corewright/substrate/internal/lifecycle"
	"github.com/corewright/substrate/internal/metaobserver"
	"github.com/corewright/substrate/internal/replay"
	"github.com/corewright/substrate/internal/safety"
	"github.com/corewright/substrate/internal/store"
)

// Core is the process shell: one event log, one blackboard, one SQLite
// pool, and the components built on top of them, constructed once per
// process in cmd/substrate and threaded through everything else.
type Core struct {
	Config *config.Config
	Logger *slog.Logger

	EventLog *eventlog.Log
	Board    *blackboard.Board
	Store    *store.Store

	Lifecycle      *lifecycle.Manager
	Fraud          *fraud.Detector
	MetaObserver   *metaobserver.Observer
	Conductor      *conductor.Conductor
	ContextBuilder *contextbuilder.Builder
	Replay         *replay.Manager
	Safety         *safety.Scanner
}

// Open constructs every component over cfg's filesystem roots. The caller
// owns the returned Core's lifetime and must call Close.
func Open(cfg *config.Config, logger *slog.Logger) (*Core, error) {
	if cfg == nil {
		return nil, ConfigError("config is nil", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}

	elog, err := eventlog.Open(cfg.General.CoordinationDir)
	if err != nil {
		return nil, ConfigError("opening event log", err)
	}

	board, err := blackboard.Open(cfg.General.CoordinationDir)
	if err != nil {
		return nil, ConfigError("opening blackboard", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.General.StateDB), 0o755); err != nil {
		return nil, ConfigError("creating state db directory", err)
	}
	st, err := store.Open(cfg.General.StateDB)
	if err != nil {
		return nil, Database("opening knowledge store", err)
	}

	lifecycleMgr := lifecycle.New(st, cfg.Lifecycle.ToLifecycleConfig())
	fraudDetector := fraud.New(st, cfg.Fraud.ToFraudConfig())
	observer := metaobserver.New(st, cfg.MetaObserver.ToMetaObserverConfig())
	cond := conductor.New(st, board, cfg.Conductor.ToConductorConfig())
	builder := contextbuilder.New(st, observer, cfg.ContextBuilder.ToContextBuilderConfig())
	replayMgr := replay.New(st)
	scanner := safety.New(st)

	return &Core{
		Config:         cfg,
		Logger:         logger,
		EventLog:       elog,
		Board:          board,
		Store:          st,
		Lifecycle:      lifecycleMgr,
		Fraud:          fraudDetector,
		MetaObserver:   observer,
		Conductor:      cond,
		ContextBuilder: builder,
		Replay:         replayMgr,
		Safety:         scanner,
	}, nil
}

// Close releases the SQLite pool. The event log and blackboard hold no
// persistent file handles between calls, so there is nothing else to
// release.
func (c *Core) Close() error {
	if c == nil || c.Store == nil {
		return nil
	}
	if err := c.Store.Close(); err != nil {
		return fmt.Errorf("substrate: closing store: %w", err)
	}
	return nil
}
