// Package reconcile implements the synchronization cycle: diff the
// tracked files on disk against the persisted registry, resolve
// conflicts local-wins, and commit the updated registry atomically
// under the advisory lock. Reconcile is idempotent; a second run with
// no intervening filesystem change reports nothing.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"driftwatch/internal/backup"
	"driftwatch/internal/baseline"
	"driftwatch/internal/registry"
)

// registryBackupName is the relative name registry snapshots are
// stored under inside a backup.
const registryBackupName = "registry.json"

// Conflict records a local-wins resolution: the on-disk hash replaced
// a differing registry hash.
type Conflict struct {
	Key          string
	RegistryHash string
	LocalHash    string
}

// Skip records a file that could not be processed this cycle.
type Skip struct {
	Key    string
	Reason string
}

// Report summarizes one reconciliation cycle.
type Report struct {
	StartedAt  time.Time
	FinishedAt time.Time

	Adds            []string
	Updates         []string
	Removals        []string
	PendingRemovals []string
	Conflicts       []Conflict
	Skipped         []Skip

	// Deferred is set when the advisory lock could not be acquired and
	// the whole cycle was abandoned for this trigger.
	Deferred bool

	// RegistryBackup names the snapshot of the pre-cycle registry, when
	// the cycle changed anything.
	RegistryBackup backup.ID
}

// Empty reports whether the cycle changed or attempted to change
// anything.
func (r Report) Empty() bool {
	return !r.Deferred &&
		len(r.Adds) == 0 &&
		len(r.Updates) == 0 &&
		len(r.Removals) == 0 &&
		len(r.PendingRemovals) == 0 &&
		len(r.Conflicts) == 0 &&
		len(r.Skipped) == 0
}

// Options wires a Reconciler.
type Options struct {
	Registry *registry.File
	Lock     *registry.Lock
	Store    *baseline.Store
	Backups  *backup.Manager
	Log      *slog.Logger

	// Keys enumerates the currently tracked keys and their absolute
	// paths; typically DiscoverKeys over the collection roots.
	Keys func() (map[string]string, error)

	// LockTimeout bounds the wait for the advisory lock.
	LockTimeout time.Duration

	// HashTimeout bounds hashing of a single file; a file that exceeds
	// it is skipped, not fatal.
	HashTimeout time.Duration

	// MaxFileSize is the largest file in bytes that will be hashed.
	// Larger files are skipped. Zero means no limit.
	MaxFileSize int64
}

// Reconciler runs reconciliation cycles.
type Reconciler struct {
	opts Options
	log  *slog.Logger
}

// New creates a Reconciler.
func New(opts Options) *Reconciler {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 5 * time.Second
	}
	if opts.HashTimeout <= 0 {
		opts.HashTimeout = 30 * time.Second
	}
	return &Reconciler{opts: opts, log: log}
}

// Reconcile runs one cycle. A busy lock defers the cycle; file-level
// failures are recorded as skips and never abort the cycle. The
// registry is only rewritten when something actually changed, and the
// previous registry content is snapshotted first.
func (r *Reconciler) Reconcile(ctx context.Context) (Report, error) {
	report := Report{StartedAt: time.Now().UTC()}

	lockCtx, cancel := context.WithTimeout(ctx, r.opts.LockTimeout)
	err := r.opts.Lock.Acquire(lockCtx)
	cancel()
	if err != nil {
		if errors.Is(err, registry.ErrLockTimeout) {
			r.log.Warn("registry lock busy, deferring cycle")
			report.Deferred = true
			report.FinishedAt = time.Now().UTC()
			return report, nil
		}
		return report, err
	}
	defer r.opts.Lock.Release()

	reg := r.opts.Registry
	tracked, err := r.opts.Keys()
	if err != nil {
		return report, err
	}

	changed := false

	for _, key := range sortedKeys(tracked) {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		path := tracked[key]

		if r.opts.MaxFileSize > 0 {
			if info, serr := os.Stat(path); serr == nil && info.Size() > r.opts.MaxFileSize {
				r.log.Warn("skipping oversized file",
					"key", key, "size", info.Size(), "max", r.opts.MaxFileSize)
				report.Skipped = append(report.Skipped, Skip{
					Key:    key,
					Reason: fmt.Sprintf("size %d exceeds limit %d", info.Size(), r.opts.MaxFileSize),
				})
				continue
			}
		}

		hashCtx, cancel := context.WithTimeout(ctx, r.opts.HashTimeout)
		hash, size, herr := baseline.HashFile(hashCtx, path)
		cancel()
		if herr != nil {
			r.log.Warn("skipping unreadable file", "key", key, "error", herr)
			report.Skipped = append(report.Skipped, Skip{Key: key, Reason: herr.Error()})
			continue
		}

		rec, known := reg.Get(key)
		switch {
		case !known:
			reg.Put(key, hash, size)
			r.opts.Store.Update(path, hash, size)
			report.Adds = append(report.Adds, key)
			changed = true

		case rec.ContentHash == hash:
			if rec.PendingDelete {
				// File is back; cancel the pending removal.
				reg.Put(key, hash, size)
				changed = true
			}
			r.opts.Store.Update(path, hash, size)

		default:
			// Local always wins. The stale registry value survives in
			// the pre-save snapshot taken below.
			r.log.Info("conflict resolved local-wins",
				"key", key, "registry_hash", rec.ContentHash, "local_hash", hash)
			report.Conflicts = append(report.Conflicts, Conflict{
				Key:          key,
				RegistryHash: rec.ContentHash,
				LocalHash:    hash,
			})
			reg.Put(key, hash, size)
			r.opts.Store.Update(path, hash, size)
			report.Updates = append(report.Updates, key)
			changed = true
		}
	}

	// Registry keys with no surviving file: confirm removal over two
	// consecutive cycles so a transient editor delete-then-recreate
	// does not drop state.
	for _, key := range reg.Keys() {
		if _, present := tracked[key]; present {
			continue
		}
		rec, _ := reg.Get(key)
		if rec.PendingDelete {
			reg.Delete(key)
			report.Removals = append(report.Removals, key)
		} else {
			reg.MarkPendingDelete(key)
			report.PendingRemovals = append(report.PendingRemovals, key)
		}
		changed = true
	}

	if changed {
		if id, berr := r.snapshotRegistry(); berr != nil {
			r.log.Warn("registry snapshot failed", "error", berr)
		} else {
			report.RegistryBackup = id
		}
		if err := reg.Save(); err != nil {
			return report, err
		}
	}

	report.FinishedAt = time.Now().UTC()
	r.log.Info("reconcile complete",
		"adds", len(report.Adds),
		"updates", len(report.Updates),
		"removals", len(report.Removals),
		"pending_removals", len(report.PendingRemovals),
		"conflicts", len(report.Conflicts),
		"skipped", len(report.Skipped))
	return report, nil
}

// snapshotRegistry captures the current on-disk registry before it is
// replaced. A registry that does not exist yet needs no snapshot.
func (r *Reconciler) snapshotRegistry() (backup.ID, error) {
	id, err := r.opts.Backups.SnapshotFile(r.opts.Registry.Path(), registryBackupName)
	if err != nil {
		// Missing file means first save; nothing to preserve.
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return id, nil
}
