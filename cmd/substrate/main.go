package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/corewright/substrate/internal/conductor"
	"github.com/corewright/substrate/internal/config"
	"github.com/corewright/substrate/internal/substrate"
)

func logLevelFromString(logLevel string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// configureLogger builds a logger whose verbosity is bound to levelVar, so a
// later levelVar.Set call (from a config reload) takes effect without
// swapping out the logger callers already hold a reference to.
func configureLogger(logLevel string, useDev bool, levelVar *slog.LevelVar) *slog.Logger {
	levelVar.Set(logLevelFromString(logLevel))
	opts := &slog.HandlerOptions{Level: levelVar}
	if useDev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// watchConfigReload reloads mgr from path on every SIGHUP and applies the
// new log level, mirroring the teacher process's reload-without-restart
// handling of its own config file.
func watchConfigReload(logger *slog.Logger, mgr config.ConfigManager, path string, levelVar *slog.LevelVar) {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			if err := mgr.Reload(path); err != nil {
				logger.Error("config reload failed", "error", err)
				continue
			}
			levelVar.Set(logLevelFromString(mgr.Get().General.LogLevel))
			logger.Info("config reloaded", "path", path)
		}
	}()
}

// echoExecutor is the substrate CLI's own reference NodeExecutor: it fires
// every node by returning "echo: <node name>" as the result text and the
// run context unchanged. A real agent host replaces this with one that
// actually dispatches work; run wires it in only so `substrate run` can
// exercise the full node graph standalone.
func echoExecutor(_ context.Context, node conductor.Node, runContext map[string]any) (conductor.ExecResult, error) {
	return conductor.ExecResult{Text: fmt.Sprintf("echo: %s", node.Name), Data: runContext}, nil
}

func main() {
	configPath := flag.String("config", "substrate.toml", "path to config file")
	dev := flag.Bool("dev", false, "use text log format (default is JSON)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: substrate [-config path] [-dev] <summary|stats|check|run|hotspots> [args...]")
		os.Exit(1)
	}
	command, rest := args[0], args[1:]

	bootstrapLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(bootstrapLogger)

	mgr, err := config.LoadManager(*configPath)
	if err != nil {
		fail(bootstrapLogger, "CONFIG ERROR", substrate.ConfigError("loading config", err))
	}
	cfg := mgr.Get()

	var levelVar slog.LevelVar
	logger := configureLogger(cfg.General.LogLevel, *dev, &levelVar)
	slog.SetDefault(logger)
	watchConfigReload(logger, mgr, *configPath, &levelVar)

	core, err := substrate.Open(cfg, logger)
	if err != nil {
		fail(logger, "CORE ERROR", err)
	}
	defer core.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var runErr error
	switch command {
	case "summary":
		runErr = runSummary(core)
	case "stats":
		runErr = runStats(core)
	case "check":
		runErr = runCheck(core)
	case "run":
		runErr = runWorkflow(ctx, core, rest)
	case "hotspots":
		runErr = runHotspots(core, rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", command)
		os.Exit(1)
	}

	if runErr != nil {
		fail(logger, "COMMAND ERROR", runErr)
	}
}

// fail prints "KIND ERROR: <message> [CODE]" to stderr and exits with the
// code the error's category maps to, or 1 for an untyped error.
func fail(logger *slog.Logger, kind string, err error) {
	var typed *substrate.Error
	if errors.As(err, &typed) {
		fmt.Fprintf(os.Stderr, "%s: %s [%s]\n", kind, err.Error(), typed.Code())
		logger.Error(kind, "error", err, "code", typed.Code())
		os.Exit(typed.ExitCode())
	}
	fmt.Fprintf(os.Stderr, "%s: %s\n", kind, err.Error())
	logger.Error(kind, "error", err)
	os.Exit(1)
}

func runSummary(core *substrate.Core) error {
	evStats, err := core.EventLog.Stats()
	if err != nil {
		return substrate.Database("reading event log stats", err)
	}
	statusCounts, err := core.Lifecycle.Stats()
	if err != nil {
		return substrate.Database("reading lifecycle stats", err)
	}
	alerts, err := core.MetaObserver.GetActiveAlerts("")
	if err != nil {
		return substrate.Database("reading active alerts", err)
	}
	pending, err := core.Fraud.PendingReports()
	if err != nil {
		return substrate.Database("reading pending fraud reports", err)
	}

	fmt.Printf("events: total=%d latest_seq=%d size_bytes=%d\n", evStats.TotalEvents, evStats.LatestSeq, evStats.LogSizeBytes)
	for status, summary := range statusCounts {
		fmt.Printf("heuristics[%s]: count=%d avg_confidence=%.3f\n", status, summary.Count, summary.AvgConfidence)
	}
	fmt.Printf("active_alerts: %d\n", len(alerts))
	fmt.Printf("pending_fraud_reports: %d\n", len(pending))
	return nil
}

func runStats(core *substrate.Core) error {
	evStats, err := core.EventLog.Stats()
	if err != nil {
		return substrate.Database("reading event log stats", err)
	}
	fmt.Printf("event_types:\n")
	for t, n := range evStats.TypeCounts {
		fmt.Printf("  %s: %d\n", t, n)
	}

	fprStats, err := core.MetaObserver.FPRStats()
	if err != nil {
		return substrate.Database("reading fpr stats", err)
	}
	for _, s := range fprStats {
		fmt.Printf("metric=%s true_positive=%d false_positive=%d fpr=%.3f\n", s.MetricName, s.TruePositives, s.FalsePositives, s.FPR)
	}
	return nil
}

func runCheck(core *substrate.Core) error {
	triggered, err := core.MetaObserver.CheckAlerts()
	if err != nil {
		return substrate.Database("checking alerts", err)
	}
	for _, a := range triggered {
		fmt.Printf("ALERT [%d] %s\n", a.AlertID, a.Type)
	}

	stale, err := core.Fraud.GetDomainsNeedingRefresh()
	if err != nil {
		return substrate.Database("checking baseline refresh schedule", err)
	}
	for _, entry := range stale {
		fmt.Printf("BASELINE STALE: domain=%s\n", entry.Domain)
	}

	if len(triggered) == 0 && len(stale) == 0 {
		fmt.Println("check: no issues found")
	}
	return nil
}

func runWorkflow(ctx context.Context, core *substrate.Core, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	name := fs.String("workflow", "", "workflow name to run")
	inputRaw := fs.String("input", "{}", "JSON-encoded workflow input")
	if err := fs.Parse(args); err != nil {
		return substrate.Validation("parsing run flags", err)
	}
	if strings.TrimSpace(*name) == "" {
		return substrate.Validation("run requires -workflow", nil)
	}

	var input map[string]any
	if err := json.Unmarshal([]byte(*inputRaw), &input); err != nil {
		return substrate.Validation("parsing -input as JSON", err)
	}

	core.Conductor.SetNodeExecutor(echoExecutor)
	runID, err := core.Conductor.RunWorkflow(ctx, *name, input)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return substrate.Timeout("running workflow", err)
		}
		return substrate.Database("running workflow", err)
	}
	fmt.Println(runID)
	return nil
}

func runHotspots(core *substrate.Core, args []string) error {
	fs := flag.NewFlagSet("hotspots", flag.ExitOnError)
	runID := fs.String("run-id", "", "workflow run ID to scope hotspots to (empty for all runs)")
	limit := fs.Int("limit", 10, "maximum hotspots to print")
	if err := fs.Parse(args); err != nil {
		return substrate.Validation("parsing hotspots flags", err)
	}

	spots, err := core.Conductor.GetHotSpots(*runID, *limit)
	if err != nil {
		return substrate.Database("reading hotspots", err)
	}
	for _, s := range spots {
		fmt.Printf("location=%s scents=%s max_strength=%.3f trail_count=%d last_activity=%s\n",
			s.Location, s.Scents, s.MaxStrength, s.TrailCount, s.LastActivity.Format(time.RFC3339))
	}
	return nil
}
