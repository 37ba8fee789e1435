package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"driftwatch/internal/fsutil"
)

// ErrLockTimeout is returned when the advisory lock cannot be acquired
// within the caller's deadline. The reconciliation cycle treats this as
// Deferred: skip this cycle, retry on the next trigger.
var ErrLockTimeout = errors.New("registry: lock acquisition timed out")

// lockPollInterval is how often a blocked acquirer re-checks the lock file.
const lockPollInterval = 50 * time.Millisecond

// lockInfo is written into the lock file for stale-lock diagnosis.
type lockInfo struct {
	PID        int    `json:"pid"`
	AcquiredAt string `json:"acquired_at"`
}

// Lock is a cooperative advisory lock guarding the registry file.
//
// It is a ".lock" sidecar created with O_CREATE|O_EXCL, holding the owner's
// pid and a liveness timestamp, reinforced with flock where the platform
// supports it. All writers of the registry must acquire it; readers of a
// consistent snapshot should too, since the file is replaced by rename.
type Lock struct {
	path       string
	staleAfter time.Duration
	f          *os.File

	// TookOverStale is set when Acquire broke a stale lock left by a
	// dead process.
	TookOverStale bool
}

// NewLock creates a lock guarding target. staleAfter bounds how old a
// leftover lock file may be before it is considered abandoned.
func NewLock(target string, staleAfter time.Duration) *Lock {
	return &Lock{path: target + ".lock", staleAfter: staleAfter}
}

// Acquire obtains the lock, polling until ctx expires. On timeout it
// returns ErrLockTimeout; a stale lock file older than staleAfter is
// removed and acquisition retried.
func (l *Lock) Acquire(ctx context.Context) error {
	l.TookOverStale = false
	for {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, fsutil.PermStateFile)
		if err == nil {
			if flockErr := fsutil.FlockExclusive(f); flockErr != nil {
				// Another process holds the kernel lock despite our
				// exclusive create; treat as contended.
				f.Close()
				os.Remove(l.path)
				if werr := l.wait(ctx); werr != nil {
					return werr
				}
				continue
			}
			info, _ := json.Marshal(lockInfo{
				PID:        os.Getpid(),
				AcquiredAt: time.Now().UTC().Format(time.RFC3339),
			})
			_, _ = f.Write(info)
			l.f = f
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("registry: create lock file: %w", err)
		}

		if l.breakStale() {
			continue
		}
		if werr := l.wait(ctx); werr != nil {
			return werr
		}
	}
}

// wait sleeps one poll interval. A deadline expiry maps to
// ErrLockTimeout; plain cancellation (engine shutdown) is passed
// through so it is not misread as lock contention.
func (l *Lock) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return fmt.Errorf("registry: lock wait: %w", ctx.Err())
		}
		return fmt.Errorf("%w: %s", ErrLockTimeout, l.path)
	case <-time.After(lockPollInterval):
		return nil
	}
}

// breakStale removes the lock file if it is older than staleAfter.
// Returns true when a stale lock was broken.
func (l *Lock) breakStale() bool {
	info, err := os.Stat(l.path)
	if err != nil {
		// Holder released between our create attempt and this stat.
		return true
	}
	if time.Since(info.ModTime()) <= l.staleAfter {
		return false
	}
	if err := os.Remove(l.path); err != nil {
		return false
	}
	l.TookOverStale = true
	return true
}

// Release drops the lock. Safe to call when not held.
func (l *Lock) Release() error {
	if l.f == nil {
		return nil
	}
	_ = fsutil.FlockRelease(l.f)
	err := l.f.Close()
	l.f = nil
	if rmErr := os.Remove(l.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}

// Held reports whether this process currently holds the lock.
func (l *Lock) Held() bool {
	return l.f != nil
}
