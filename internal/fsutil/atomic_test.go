package fsutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state", "registry.json")

	if err := WriteFileAtomic(path, []byte(`{"v":1}`), PermStateFile); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != `{"v":1}` {
		t.Errorf("content = %q", data)
	}

	// Overwrite replaces content completely.
	if err := WriteFileAtomic(path, []byte(`{"v":2}`), PermStateFile); err != nil {
		t.Fatalf("second write: %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != `{"v":2}` {
		t.Errorf("content after overwrite = %q", data)
	}
}

func TestAbortLeavesTargetUntouched(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "target.json")
	if err := WriteFileAtomic(path, []byte("original"), PermStateFile); err != nil {
		t.Fatalf("seed write: %v", err)
	}

	w, err := NewAtomicWriter(path, PermStateFile)
	if err != nil {
		t.Fatalf("NewAtomicWriter: %v", err)
	}
	if _, err := w.Write([]byte("partial")); err != nil {
		t.Fatalf("write: %v", err)
	}
	w.Abort()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "original" {
		t.Errorf("abort must not touch the target, got %q", data)
	}

	// No temp file left behind.
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp_") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.md")
	dst := filepath.Join(dir, "nested", "dst.md")

	if err := os.WriteFile(src, []byte("snapshot me"), 0o640); err != nil {
		t.Fatalf("write src: %v", err)
	}
	if err := CopyFile(src, dst); err != nil {
		t.Fatalf("CopyFile: %v", err)
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read dst: %v", err)
	}
	if string(data) != "snapshot me" {
		t.Errorf("copied content = %q", data)
	}
}
