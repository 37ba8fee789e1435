package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"driftwatch/internal/backup"
	"driftwatch/internal/baseline"
	"driftwatch/internal/registry"
)

var trackedNames = []string{"SKILL.md", "metadata.json"}

type env struct {
	root    string
	reg     *registry.File
	lock    *registry.Lock
	store   *baseline.Store
	backups *backup.Manager
	rec     *Reconciler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	base := t.TempDir()
	root := filepath.Join(base, "collections")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}

	regPath := filepath.Join(base, "state", "registry.json")
	if err := os.MkdirAll(filepath.Dir(regPath), 0o700); err != nil {
		t.Fatal(err)
	}
	reg := registry.Open(regPath)
	if err := reg.Load(); err != nil {
		t.Fatalf("load registry: %v", err)
	}

	e := &env{
		root:    root,
		reg:     reg,
		lock:    registry.NewLock(regPath, time.Minute),
		store:   baseline.NewStore(),
		backups: backup.New(filepath.Join(base, "backups")),
	}
	e.rec = New(Options{
		Registry: e.reg,
		Lock:     e.lock,
		Store:    e.store,
		Backups:  e.backups,
		Keys: func() (map[string]string, error) {
			return DiscoverKeys([]string{root}, trackedNames, nil)
		},
		LockTimeout: time.Second,
		HashTimeout: 5 * time.Second,
	})
	return e
}

func (e *env) writeTracked(t *testing.T, collection, name, content string) string {
	t.Helper()
	path := filepath.Join(e.root, collection, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func (e *env) reconcile(t *testing.T) Report {
	t.Helper()
	report, err := e.rec.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	return report
}

func TestFirstCycleAddsDiscoveredKeys(t *testing.T) {
	e := newEnv(t)
	e.writeTracked(t, "demo", "SKILL.md", "hello")
	e.writeTracked(t, "demo", "metadata.json", `{}`)
	e.writeTracked(t, "other", "SKILL.md", "hi")

	report := e.reconcile(t)
	if len(report.Adds) != 3 {
		t.Fatalf("adds = %v, want 3 keys", report.Adds)
	}
	if _, ok := e.reg.Get("demo/SKILL.md"); !ok {
		t.Fatal("demo/SKILL.md missing from registry")
	}
	if _, ok := e.reg.Get("other/SKILL.md"); !ok {
		t.Fatal("other/SKILL.md missing from registry")
	}

	// The registry survives a reload with the same records.
	fresh := registry.Open(e.reg.Path())
	if err := fresh.Load(); err != nil {
		t.Fatalf("reload registry: %v", err)
	}
	if fresh.Len() != 3 {
		t.Fatalf("persisted registry has %d records, want 3", fresh.Len())
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	e := newEnv(t)
	e.writeTracked(t, "demo", "SKILL.md", "hello")

	first := e.reconcile(t)
	if first.Empty() {
		t.Fatal("first cycle should report the add")
	}

	second := e.reconcile(t)
	if !second.Empty() {
		t.Fatalf("second cycle not empty: %+v", second)
	}
}

func TestLocalWinsAndBacksUpRegistry(t *testing.T) {
	e := newEnv(t)
	path := e.writeTracked(t, "skillA", "SKILL.md", "version one")
	e.reconcile(t)

	before, _ := e.reg.Get("skillA/SKILL.md")

	if err := os.WriteFile(path, []byte("version two"), 0o644); err != nil {
		t.Fatal(err)
	}
	report := e.reconcile(t)

	if len(report.Updates) != 1 || report.Updates[0] != "skillA/SKILL.md" {
		t.Fatalf("updates = %v, want skillA/SKILL.md", report.Updates)
	}
	if len(report.Conflicts) != 1 {
		t.Fatalf("conflicts = %v, want 1", report.Conflicts)
	}
	c := report.Conflicts[0]
	if c.RegistryHash != before.ContentHash {
		t.Fatalf("conflict registry hash = %s, want %s", c.RegistryHash, before.ContentHash)
	}

	after, _ := e.reg.Get("skillA/SKILL.md")
	if after.ContentHash == before.ContentHash {
		t.Fatal("registry hash did not follow the local file")
	}
	if c.LocalHash != after.ContentHash {
		t.Fatalf("conflict local hash = %s, want %s", c.LocalHash, after.ContentHash)
	}

	// The stale registry value must survive in the snapshot.
	if report.RegistryBackup == "" {
		t.Fatal("no registry backup recorded")
	}
	snapPath := filepath.Join(e.backups.Root(), string(report.RegistryBackup), "registry.json")
	old := registry.Open(snapPath)
	if err := old.Load(); err != nil {
		t.Fatalf("load snapshotted registry: %v", err)
	}
	oldRec, ok := old.Get("skillA/SKILL.md")
	if !ok || oldRec.ContentHash != before.ContentHash {
		t.Fatalf("snapshot record = %+v, want hash %s", oldRec, before.ContentHash)
	}
}

func TestDeleteNeedsTwoCycles(t *testing.T) {
	e := newEnv(t)
	path := e.writeTracked(t, "demo", "SKILL.md", "hello")
	e.reconcile(t)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	first := e.reconcile(t)
	if len(first.PendingRemovals) != 1 || len(first.Removals) != 0 {
		t.Fatalf("first cycle after delete = %+v, want one pending removal", first)
	}
	if _, ok := e.reg.Get("demo/SKILL.md"); !ok {
		t.Fatal("record removed too early")
	}

	second := e.reconcile(t)
	if len(second.Removals) != 1 {
		t.Fatalf("second cycle = %+v, want one removal", second)
	}
	if _, ok := e.reg.Get("demo/SKILL.md"); ok {
		t.Fatal("record survived confirmed delete")
	}
}

func TestTransientDeleteRecreateKeepsRecord(t *testing.T) {
	e := newEnv(t)
	path := e.writeTracked(t, "demo", "SKILL.md", "hello")
	e.reconcile(t)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	e.reconcile(t)

	// Editor-style recreate before the second cycle.
	e.writeTracked(t, "demo", "SKILL.md", "hello")
	report := e.reconcile(t)

	if len(report.Removals) != 0 {
		t.Fatalf("recreated file was removed: %+v", report)
	}
	rec, ok := e.reg.Get("demo/SKILL.md")
	if !ok {
		t.Fatal("record lost after transient delete-recreate")
	}
	if rec.PendingDelete {
		t.Fatal("pending delete flag not cleared on reappearance")
	}
}

func TestBusyLockDefersCycle(t *testing.T) {
	e := newEnv(t)
	e.writeTracked(t, "demo", "SKILL.md", "hello")

	holder := registry.NewLock(e.reg.Path(), time.Minute)
	if err := holder.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer holder.Release()

	e.rec.opts.LockTimeout = 200 * time.Millisecond
	report := e.reconcile(t)
	if !report.Deferred {
		t.Fatal("cycle not deferred while lock held")
	}
	if len(report.Adds) != 0 {
		t.Fatalf("deferred cycle performed work: %+v", report)
	}
}

func TestUnreadableFileIsSkippedNotFatal(t *testing.T) {
	e := newEnv(t)
	e.writeTracked(t, "demo", "SKILL.md", "hello")

	e.rec.opts.Keys = func() (map[string]string, error) {
		keys, err := DiscoverKeys([]string{e.root}, trackedNames, nil)
		if err != nil {
			return nil, err
		}
		keys["ghost/SKILL.md"] = filepath.Join(e.root, "ghost", "SKILL.md")
		return keys, nil
	}

	report := e.reconcile(t)
	if len(report.Skipped) != 1 || report.Skipped[0].Key != "ghost/SKILL.md" {
		t.Fatalf("skipped = %+v, want ghost/SKILL.md", report.Skipped)
	}
	if len(report.Adds) != 1 {
		t.Fatalf("good file not processed alongside skip: %+v", report)
	}
}

func TestCanceledContextLeavesRegistryUntouched(t *testing.T) {
	e := newEnv(t)
	e.writeTracked(t, "demo", "SKILL.md", "hello")
	e.reconcile(t)

	raw, err := os.ReadFile(e.reg.Path())
	if err != nil {
		t.Fatal(err)
	}

	e.writeTracked(t, "demo", "SKILL.md", "changed")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.rec.Reconcile(ctx); err == nil {
		t.Fatal("expected error from canceled context")
	}

	now, err := os.ReadFile(e.reg.Path())
	if err != nil {
		t.Fatal(err)
	}
	if string(now) != string(raw) {
		t.Fatal("aborted cycle mutated the on-disk registry")
	}
}

func TestDiscoverKeysHonorsFilter(t *testing.T) {
	e := newEnv(t)
	e.writeTracked(t, "demo", "SKILL.md", "hello")
	e.writeTracked(t, "secret", "SKILL.md", "hidden")

	keys, err := DiscoverKeys([]string{e.root}, trackedNames, func(p string) bool {
		return filepath.Base(filepath.Dir(p)) != "secret"
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := keys["secret/SKILL.md"]; ok {
		t.Fatal("filtered collection leaked into keys")
	}
	if _, ok := keys["demo/SKILL.md"]; !ok {
		t.Fatal("expected demo/SKILL.md")
	}
}

func TestOversizedFileIsSkipped(t *testing.T) {
	e := newEnv(t)
	e.rec.opts.MaxFileSize = 16
	e.writeTracked(t, "demo", "SKILL.md", "small")
	e.writeTracked(t, "demo", "metadata.json", `{"padding": "well past the size limit"}`)

	report := e.reconcile(t)

	if len(report.Adds) != 1 || report.Adds[0] != "demo/SKILL.md" {
		t.Fatalf("adds = %v, want [demo/SKILL.md]", report.Adds)
	}
	if len(report.Skipped) != 1 || report.Skipped[0].Key != "demo/metadata.json" {
		t.Fatalf("skipped = %v, want demo/metadata.json", report.Skipped)
	}
	if !strings.Contains(report.Skipped[0].Reason, "exceeds limit") {
		t.Fatalf("skip reason = %q", report.Skipped[0].Reason)
	}
	if _, ok := e.reg.Get("demo/metadata.json"); ok {
		t.Fatal("oversized file reached the registry")
	}
}
