// Package backup manages point-in-time snapshots of tracked files and
// of the registry document. Snapshots are plain directory trees named by
// a sortable timestamp id, so an operator can inspect or restore them
// with ordinary shell tools. Nothing is ever pruned automatically.
package backup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"driftwatch/internal/fsutil"
)

// ID names one snapshot directory. IDs sort lexicographically in
// creation order.
type ID string

const idFormat = "20060102T150405.000000000"

var (
	// ErrNotFound is returned when a snapshot id or a file inside a
	// snapshot does not exist.
	ErrNotFound = errors.New("backup: snapshot not found")

	// ErrNoSource is returned by Restore when the requested file is not
	// present in the snapshot.
	ErrNoSource = errors.New("backup: file not present in snapshot")
)

// Manager owns the backup root directory.
type Manager struct {
	root string
	now  func() time.Time
}

// New creates a Manager rooted at dir. The directory is created on
// first use.
func New(dir string) *Manager {
	return &Manager{root: dir, now: time.Now}
}

// Root returns the backup root directory.
func (m *Manager) Root() string { return m.root }

// Snapshot is an open snapshot accepting files until the caller is
// done. There is no commit step; files are durable as soon as added.
type Snapshot struct {
	id  ID
	dir string
}

// ID returns the snapshot's identifier.
func (s *Snapshot) ID() ID { return s.id }

// Begin creates a new empty snapshot directory.
func (m *Manager) Begin() (*Snapshot, error) {
	if err := os.MkdirAll(m.root, fsutil.PermStateDir); err != nil {
		return nil, fmt.Errorf("backup: create root: %w", err)
	}
	ts := m.now().UTC()
	for i := 0; ; i++ {
		id := ID(ts.Add(time.Duration(i)).Format(idFormat))
		dir := filepath.Join(m.root, string(id))
		err := os.Mkdir(dir, fsutil.PermStateDir)
		if err == nil {
			return &Snapshot{id: id, dir: dir}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("backup: create snapshot dir: %w", err)
		}
	}
}

// Add copies src into the snapshot under rel, creating intermediate
// directories. rel must be a clean relative path.
func (s *Snapshot) Add(src, rel string) error {
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("backup: invalid relative path %q", rel)
	}
	dst := filepath.Join(s.dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dst), fsutil.PermStateDir); err != nil {
		return fmt.Errorf("backup: create snapshot subdir: %w", err)
	}
	if err := fsutil.CopyFile(src, dst); err != nil {
		return fmt.Errorf("backup: copy %s: %w", src, err)
	}
	return nil
}

// SnapshotFile is the one-file convenience form of Begin + Add.
func (m *Manager) SnapshotFile(src, rel string) (ID, error) {
	snap, err := m.Begin()
	if err != nil {
		return "", err
	}
	if err := snap.Add(src, rel); err != nil {
		// Best effort; an empty snapshot dir is harmless but noisy.
		_ = os.Remove(snap.dir)
		return "", err
	}
	return snap.id, nil
}

// List returns all snapshot ids, oldest first.
func (m *Manager) List() ([]ID, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("backup: read root: %w", err)
	}
	var ids []ID
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := time.Parse(idFormat, e.Name()); err != nil {
			continue
		}
		ids = append(ids, ID(e.Name()))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// ListBefore returns the snapshot ids taken strictly before cutoff,
// oldest first. A zero cutoff returns everything.
func (m *Manager) ListBefore(cutoff time.Time) ([]ID, error) {
	ids, err := m.List()
	if err != nil || cutoff.IsZero() {
		return ids, err
	}
	out := ids[:0]
	for _, id := range ids {
		ts, err := time.Parse(idFormat, string(id))
		if err != nil || !ts.Before(cutoff) {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// Files returns the relative paths stored in snapshot id, sorted.
func (m *Manager) Files(id ID) ([]string, error) {
	dir := filepath.Join(m.root, string(id))
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, rerr := filepath.Rel(dir, path)
		if rerr != nil {
			return rerr
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("backup: walk snapshot %s: %w", id, err)
	}
	sort.Strings(files)
	return files, nil
}

// Restore copies rel out of snapshot id onto dst. If dst currently
// exists, its present content is captured in a fresh snapshot first, so
// a restore is always reversible. The fresh snapshot's id is returned
// alongside any error; it is empty when dst did not exist.
func (m *Manager) Restore(id ID, rel, dst string) (ID, error) {
	src := filepath.Join(m.root, string(id), filepath.FromSlash(rel))
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			if _, derr := os.Stat(filepath.Join(m.root, string(id))); os.IsNotExist(derr) {
				return "", fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return "", fmt.Errorf("%w: %s in %s", ErrNoSource, rel, id)
		}
		return "", err
	}

	var guard ID
	if _, err := os.Stat(dst); err == nil {
		gid, gerr := m.SnapshotFile(dst, rel)
		if gerr != nil {
			return "", fmt.Errorf("backup: pre-restore snapshot of %s: %w", dst, gerr)
		}
		guard = gid
	}

	if err := os.MkdirAll(filepath.Dir(dst), fsutil.PermStateDir); err != nil {
		return guard, fmt.Errorf("backup: create target dir: %w", err)
	}
	if err := fsutil.CopyFile(src, dst); err != nil {
		return guard, fmt.Errorf("backup: restore %s: %w", rel, err)
	}
	return guard, nil
}
