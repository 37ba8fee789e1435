// Package engine assembles the driftwatch pipeline: observer events
// flow through the path filter into the threat detector and the
// reconciler, findings drive the mode state machine, and everything
// observable fans out through the broadcaster.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"driftwatch/internal/auditlog"
	"driftwatch/internal/backup"
	"driftwatch/internal/baseline"
	"driftwatch/internal/config"
	"driftwatch/internal/fsutil"
	"driftwatch/internal/metrics"
	"driftwatch/internal/mode"
	"driftwatch/internal/notify"
	"driftwatch/internal/pathfilter"
	"driftwatch/internal/reconcile"
	"driftwatch/internal/registry"
	"driftwatch/internal/threat"
	"driftwatch/internal/watcher"
)

// modeTickInterval drives the state machine's auto-return timers.
const modeTickInterval = time.Second

// settleDelay is how long after the last observed event a triggered
// reconciliation waits, so one editing session causes one cycle.
const settleDelay = 5 * time.Second

// Engine owns all long-lived components.
type Engine struct {
	cfg *config.Config
	log *slog.Logger

	filter      *pathfilter.Filter
	observer    *watcher.Observer
	store       *baseline.Store
	reg         *registry.File
	lock        *registry.Lock
	backups     *backup.Manager
	audit       *auditlog.Log
	detector    *threat.Detector
	machine     *mode.Machine
	broadcaster *notify.Broadcaster
	reconciler  *reconcile.Reconciler
	metrics     *metrics.EngineMetrics

	roots  []string
	settle time.Duration

	stopOnce sync.Once
}

// New builds an Engine from configuration. The registry is loaded (and
// refused if corrupt), state directories are created, and all
// components are wired; nothing runs until Run.
func New(cfg *config.Config, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}

	for _, dir := range cfg.StateDirs() {
		if err := os.MkdirAll(dir, fsutil.PermStateDir); err != nil {
			return nil, fmt.Errorf("engine: create state dir %s: %w", dir, err)
		}
	}

	filter := pathfilter.New(cfg.Watch.IgnoredPatterns, cfg.Collections.Enabled, cfg.StateDirs())

	reg := registry.Open(cfg.Registry.Path)
	if err := reg.Load(); err != nil {
		// A corrupt registry is fatal for writes; the operator restores
		// it from a backup before the engine will run.
		return nil, err
	}

	audit, err := auditlog.Open(cfg.Audit.Path, cfg.Audit.MaxEntries)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		log:     log,
		filter:  filter,
		store:   baseline.NewStore(),
		reg:     reg,
		lock:    registry.NewLock(cfg.Registry.Path, time.Duration(cfg.Registry.LockStaleSec)*time.Second),
		backups: backup.New(cfg.Backup.Dir),
		audit:   audit,
		metrics: metrics.NewEngineMetrics(),
		settle:  settleDelay,
	}
	e.roots = uniquePaths(append(append([]string{}, cfg.Watch.Paths...), cfg.Collections.Roots...))

	e.broadcaster = notify.NewBroadcaster()
	e.detector = threat.New(threat.Config{
		BurstThreshold:       cfg.Threat.BurstThreshold,
		BurstWindow:          cfg.BurstWindow(),
		SuspiciousExtensions: cfg.Threat.SuspiciousExtensions,
		LargeFileBytes:       cfg.Threat.LargeFileBytes,
	}, nil)
	e.machine = mode.New(mode.Config{
		GracePeriod: time.Duration(cfg.Mode.GracePeriodSec) * time.Second,
		Cooldown:    time.Duration(cfg.Mode.CooldownSec) * time.Second,
		SettleDelay: time.Duration(cfg.Mode.SettleDelaySec) * time.Second,
	}, nil, func(from, to mode.State) {
		log.Info("mode change", "from", from.String(), "to", to.String())
		e.metrics.ModeState.Set(int64(to))
		e.broadcaster.ModeChanged(from, to)
	})
	e.reconciler = reconcile.New(reconcile.Options{
		Registry:    reg,
		Lock:        e.lock,
		Store:       e.store,
		Backups:     e.backups,
		Log:         log,
		Keys:        e.discoverKeys,
		LockTimeout: cfg.LockTimeout(),
		HashTimeout: cfg.HashTimeout(),
		MaxFileSize: cfg.Watch.MaxFileSize,
	})

	obs, err := watcher.New(e.roots, watcher.Options{
		Debounce:      cfg.Debounce(),
		PollInterval:  time.Duration(cfg.Watch.PollIntervalSec) * time.Second,
		ShouldProcess: filter.ShouldProcess,
	})
	if err != nil {
		return nil, err
	}
	e.observer = obs

	return e, nil
}

// Broadcaster exposes the subscription surface.
func (e *Engine) Broadcaster() *notify.Broadcaster { return e.broadcaster }

// Mode returns the current operating mode.
func (e *Engine) Mode() mode.State { return e.machine.State() }

// Acknowledge forwards an operator acknowledgment to the state
// machine.
func (e *Engine) Acknowledge() { e.machine.Acknowledge() }

// Registry returns the engine's registry file.
func (e *Engine) Registry() *registry.File { return e.reg }

// Backups returns the engine's backup manager.
func (e *Engine) Backups() *backup.Manager { return e.backups }

// Audit returns the engine's audit log.
func (e *Engine) Audit() *auditlog.Log { return e.audit }

// Metrics returns the engine metric set.
func (e *Engine) Metrics() *metrics.EngineMetrics { return e.metrics }

// ReconcileOnce runs a single reconciliation cycle outside Run, for
// one-shot command use.
func (e *Engine) ReconcileOnce(ctx context.Context) (reconcile.Report, error) {
	return e.reconciler.Reconcile(ctx)
}

func (e *Engine) discoverKeys() (map[string]string, error) {
	return reconcile.DiscoverKeys(e.cfg.Collections.Roots, e.cfg.Collections.TrackedFiles, e.filter.ShouldProcess)
}

// Run starts the observer and processes events until ctx is canceled.
// An in-flight reconciliation is allowed to finish before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.observer.Start(); err != nil {
		return fmt.Errorf("engine: start observer: %w", err)
	}
	if e.observer.Degraded() {
		e.log.Warn("native filesystem notifications unavailable, polling instead")
	}

	// Initial pass seeds the baseline and the registry.
	e.runReconcile(ctx)

	// Reconcile trigger: armed by events, fired after the settle
	// window passes with no further activity.
	settleTimer := time.NewTimer(0)
	if !settleTimer.Stop() {
		<-settleTimer.C
	}

	modeTicker := time.NewTicker(modeTickInterval)
	defer modeTicker.Stop()

	var rescanC <-chan time.Time
	if e.cfg.Watch.RescanIntervalSec > 0 {
		rescanTicker := time.NewTicker(time.Duration(e.cfg.Watch.RescanIntervalSec) * time.Second)
		defer rescanTicker.Stop()
		rescanC = rescanTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return nil

		case ev, ok := <-e.observer.Events():
			if !ok {
				e.shutdown()
				return nil
			}
			e.handleEvent(ctx, ev)
			settleTimer.Reset(e.settle)

		case err, ok := <-e.observer.Errors():
			if ok && err != nil {
				e.log.Warn("observer error", "error", err)
			}

		case <-e.observer.Rescan():
			e.log.Info("event overflow, forcing full reconciliation")
			e.metrics.RescansTotal.Inc()
			e.runReconcile(ctx)

		case <-settleTimer.C:
			e.runReconcile(ctx)

		case <-rescanC:
			e.metrics.RescansTotal.Inc()
			e.runReconcile(ctx)

		case <-modeTicker.C:
			e.machine.Tick()
		}
	}
}

// handleEvent records one filtered observation and feeds the
// detectors.
func (e *Engine) handleEvent(ctx context.Context, ev watcher.Event) {
	// The observer filters before debouncing; re-check here so no
	// delivery path can reach hashing or the audit log unfiltered.
	if !e.filter.ShouldProcess(ev.Path) {
		return
	}

	e.metrics.EventsTotal.Inc()
	if err := e.audit.RecordEvent(ev.ObservedAt, ev.Kind.String(), ev.Path, ""); err != nil {
		e.log.Warn("audit write failed", "error", err)
	}

	var size int64
	if info, err := os.Stat(ev.Path); err == nil {
		size = info.Size()
	}

	findings := e.detector.ObserveEvent(e.rootFor(ev.Path), ev.Path, ev.Kind, size)

	if ev.Kind == watcher.KindModified {
		findings = append(findings, e.verifyAgainstBaseline(ctx, ev.Path)...)
	}

	for _, f := range findings {
		e.emitFinding(f)
	}
}

// verifyAgainstBaseline checks a modified file against the stored
// baseline without mutating it; drift that no reconciliation has
// accepted yet is an integrity mismatch.
func (e *Engine) verifyAgainstBaseline(ctx context.Context, path string) []threat.Finding {
	entry, ok := e.store.Get(path)
	if !ok {
		return nil
	}

	hashCtx, cancel := context.WithTimeout(ctx, e.cfg.HashTimeout())
	defer cancel()
	result, current, err := e.store.Verify(hashCtx, path)
	if err != nil || result != baseline.Drift {
		return nil
	}

	attrs := baseline.StatSnapshot(path)
	changes := baseline.DiffAttrs(entry.Attrs, attrs)
	return e.detector.ObserveMismatch(path, entry.ContentHash, current, changes)
}

func (e *Engine) emitFinding(f threat.Finding) {
	detail := ""
	if len(f.Evidence) > 0 {
		parts := make([]string, 0, len(f.Evidence))
		for k, v := range f.Evidence {
			parts = append(parts, k+"="+v)
		}
		detail = strings.Join(parts, " ")
	}
	if err := e.audit.RecordFinding(f.DetectedAt, string(f.Kind), f.Severity.String(), f.Path, detail); err != nil {
		e.log.Warn("audit write failed", "error", err)
	}
	e.log.Info("finding", "kind", string(f.Kind), "severity", f.Severity.String(), "path", f.Path)
	e.metrics.FindingCounter(f.Severity.String()).Inc()
	e.machine.ReportFinding(f.Severity)
	e.broadcaster.Finding(f)
}

// runReconcile executes one cycle and routes the report to the state
// machine and subscribers.
func (e *Engine) runReconcile(ctx context.Context) {
	e.machine.StartScan()
	start := time.Now()
	report, err := e.reconciler.Reconcile(ctx)
	e.metrics.ReconcileDuration.ObserveDuration(time.Since(start))
	if err != nil {
		e.log.Error("reconcile failed", "error", err)
		e.machine.ScanComplete(false)
		return
	}

	e.metrics.ReconcilesTotal.Inc()
	if report.Deferred {
		e.metrics.ReconcilesDefer.Inc()
	}
	e.metrics.ConflictsTotal.Add(uint64(len(report.Conflicts)))
	e.metrics.SkipsTotal.Add(uint64(len(report.Skipped)))
	e.metrics.RegistryRecords.Set(int64(e.reg.Len()))

	clean := len(report.Conflicts) == 0 && len(report.Skipped) == 0
	e.machine.ScanComplete(clean)
	if clean && !report.Deferred {
		e.machine.BaselineVerified(true)
	}
	if !report.Empty() {
		if err := e.audit.RecordEvent(report.FinishedAt, "reconcile", "", reportSummary(report)); err != nil {
			e.log.Warn("audit write failed", "error", err)
		}
		e.broadcaster.ReconcileReport(report)
	}
}

// reportSummary flattens a reconcile report into one audit log line.
func reportSummary(r reconcile.Report) string {
	if r.Deferred {
		return "deferred=true"
	}
	return fmt.Sprintf("adds=%d updates=%d removals=%d pending=%d conflicts=%d skipped=%d",
		len(r.Adds), len(r.Updates), len(r.Removals),
		len(r.PendingRemovals), len(r.Conflicts), len(r.Skipped))
}

// shutdown stops the observer and flushes subscribers. Safe to call
// more than once.
func (e *Engine) shutdown() {
	e.stopOnce.Do(func() {
		if err := e.observer.Stop(); err != nil {
			e.log.Warn("observer stop", "error", err)
		}
		e.broadcaster.Close()
		if err := e.audit.Close(); err != nil {
			e.log.Warn("audit close", "error", err)
		}
	})
}

// rootFor attributes a path to its watch root for burst accounting.
func (e *Engine) rootFor(path string) string {
	for _, root := range e.roots {
		if strings.HasPrefix(path, root+string(filepath.Separator)) || path == root {
			return root
		}
	}
	return filepath.Dir(path)
}

func uniquePaths(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}
	return out
}
