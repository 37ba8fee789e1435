package baseline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.md", []byte("some tracked content"))

	h1, size, err := HashFile(context.Background(), path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if size != int64(len("some tracked content")) {
		t.Errorf("size = %d", size)
	}
	if h1[:len(HashPrefix)] != HashPrefix {
		t.Errorf("hash missing prefix: %q", h1)
	}

	h2, _, err := HashFile(context.Background(), path)
	if err != nil {
		t.Fatalf("second HashFile: %v", err)
	}
	if h1 != h2 {
		t.Error("same content must hash identically")
	}

	writeFile(t, dir, "a.md", []byte("different content"))
	h3, _, err := HashFile(context.Background(), path)
	if err != nil {
		t.Fatalf("third HashFile: %v", err)
	}
	if h1 == h3 {
		t.Error("different content must hash differently")
	}
}

func TestHashFileCancelled(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.md", []byte("content"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := HashFile(ctx, path); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestHashFileNotFound(t *testing.T) {
	if _, _, err := HashFile(context.Background(), "/nonexistent/file"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestStoreUpdateGetRemove(t *testing.T) {
	s := NewStore()
	dir := t.TempDir()
	path := writeFile(t, dir, "a.md", []byte("v1"))

	if _, ok := s.Get(path); ok {
		t.Fatal("empty store should miss")
	}

	s.Update(path, HashBytes([]byte("v1")), 2)
	e, ok := s.Get(path)
	if !ok {
		t.Fatal("expected entry after Update")
	}
	if e.ContentHash != HashBytes([]byte("v1")) {
		t.Errorf("unexpected hash %q", e.ContentHash)
	}
	if time.Since(e.LastVerifiedAt) > time.Minute {
		t.Error("LastVerifiedAt not set")
	}

	s.Remove(path)
	if _, ok := s.Get(path); ok {
		t.Fatal("expected entry removed")
	}
}

func TestVerify(t *testing.T) {
	s := NewStore()
	dir := t.TempDir()
	path := writeFile(t, dir, "a.md", []byte("v1"))
	ctx := context.Background()

	hash, _, err := HashFile(ctx, path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	s.Update(path, hash, 2)

	// Unchanged file matches.
	res, cur, err := s.Verify(ctx, path)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res != Match || cur != hash {
		t.Errorf("expected Match with same hash, got %v %q", res, cur)
	}

	// Modified file drifts; store is not mutated.
	writeFile(t, dir, "a.md", []byte("v2"))
	res, cur, err = s.Verify(ctx, path)
	if err != nil {
		t.Fatalf("Verify after change: %v", err)
	}
	if res != Drift {
		t.Errorf("expected Drift, got %v", res)
	}
	if cur == hash {
		t.Error("current hash should differ from baseline")
	}
	if e, _ := s.Get(path); e.ContentHash != hash {
		t.Error("Verify must not mutate the baseline")
	}

	// Deleted file is missing.
	os.Remove(path)
	res, _, err = s.Verify(ctx, path)
	if err != nil {
		t.Fatalf("Verify after delete: %v", err)
	}
	if res != Missing {
		t.Errorf("expected Missing, got %v", res)
	}

	// Unknown path is missing.
	res, _, _ = s.Verify(ctx, filepath.Join(dir, "unknown"))
	if res != Missing {
		t.Errorf("expected Missing for unknown path, got %v", res)
	}
}

func TestDiffAttrs(t *testing.T) {
	old := Attrs{Size: 10, Mode: 0o644, ReadOnly: false, Hidden: false, MTime: 100}

	if got := DiffAttrs(old, old); got != nil {
		t.Errorf("identical attrs should yield no changes, got %v", got)
	}

	cur := old
	cur.Mode = 0o444
	cur.ReadOnly = true
	changes := DiffAttrs(old, cur)
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %v", changes)
	}

	// Missing snapshots are "no data", not a change.
	if got := DiffAttrs(Attrs{}, cur); got != nil {
		t.Errorf("zero old attrs should yield nil, got %v", got)
	}
}
