// Package baseline maintains the in-memory integrity baseline: the last
// trusted content hash, size, and attribute snapshot for every tracked file.
//
// The store answers "has this file changed since baseline?" without mutating
// anything; updates happen only through explicit calls made by the
// reconciliation engine after a decision has been taken.
package baseline

import (
	"context"
	"os"
	"sync"
	"time"
)

// Entry is the baseline record for a single tracked file.
type Entry struct {
	Path           string    `json:"path"`
	ContentHash    string    `json:"content_hash"`
	SizeBytes      int64     `json:"size_bytes"`
	LastVerifiedAt time.Time `json:"last_verified_at"`
	Attrs          Attrs     `json:"attrs"`
}

// VerifyResult is the outcome of comparing a file against its baseline.
type VerifyResult int

const (
	// Match means the on-disk hash equals the baseline.
	Match VerifyResult = iota
	// Drift means the on-disk hash differs from the baseline.
	Drift
	// Missing means the file no longer exists on disk.
	Missing
)

// String returns a human-readable name for the verify result.
func (r VerifyResult) String() string {
	switch r {
	case Match:
		return "match"
	case Drift:
		return "drift"
	case Missing:
		return "missing"
	default:
		return "unknown"
	}
}

// Store maps tracked paths to their baseline entries.
//
// The reconciliation engine is the only writer; the threat detector reads
// concurrently via Get and Verify.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewStore creates an empty baseline store.
func NewStore() *Store {
	return &Store{entries: make(map[string]Entry)}
}

// Get returns the baseline entry for path, if one exists.
func (s *Store) Get(path string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[path]
	return e, ok
}

// Update records a new baseline for path. Called by the reconciliation
// engine after a change has been accepted.
func (s *Store) Update(path, hash string, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[path] = Entry{
		Path:           path,
		ContentHash:    hash,
		SizeBytes:      size,
		LastVerifiedAt: time.Now().UTC(),
		Attrs:          StatSnapshot(path),
	}
}

// Remove deletes the baseline for path after a confirmed deletion.
func (s *Store) Remove(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, path)
}

// Len returns the number of baselined files.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Paths returns the baselined paths in unspecified order.
func (s *Store) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.entries))
	for p := range s.entries {
		out = append(out, p)
	}
	return out
}

// Verify compares the current on-disk content of path against its baseline
// without mutating the store. The returned hash is the current on-disk hash
// when the file is readable, so callers can include both sides as evidence.
func (s *Store) Verify(ctx context.Context, path string) (VerifyResult, string, error) {
	s.mu.RLock()
	entry, ok := s.entries[path]
	s.mu.RUnlock()
	if !ok {
		return Missing, "", nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Missing, "", nil
	}

	hash, _, err := HashFile(ctx, path)
	if err != nil {
		return Drift, "", err
	}
	if hash == entry.ContentHash {
		return Match, hash, nil
	}
	return Drift, hash, nil
}
