// Package fsutil provides crash-safe file operations: atomic writes via
// temp-then-rename, whole-file copies, and platform advisory locks.
package fsutil

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// File permission constants.
const (
	// PermStateFile is the permission for engine state files.
	PermStateFile os.FileMode = 0o600

	// PermStateDir is the permission for engine state directories.
	PermStateDir os.FileMode = 0o700
)

var (
	ErrAtomicWriteFailed = errors.New("fsutil: atomic write failed")
	ErrTempFileFailed    = errors.New("fsutil: temporary file creation failed")
)

// AtomicWriter writes a file via a temporary sibling and an atomic rename.
// A crash at any point leaves either the old file or the new file, never a
// half-written one.
type AtomicWriter struct {
	path     string
	tempFile *os.File
	tempPath string
}

// NewAtomicWriter creates a writer targeting path. The temporary file is
// created in the same directory so the final rename stays on one filesystem.
func NewAtomicWriter(path string, perm os.FileMode) (*AtomicWriter, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, PermStateDir); err != nil {
		return nil, fmt.Errorf("fsutil: create directory: %w", err)
	}

	tempPath := filepath.Join(dir, ".tmp_"+randomSuffix()+filepath.Ext(path))
	tempFile, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTempFileFailed, err)
	}

	return &AtomicWriter{path: path, tempFile: tempFile, tempPath: tempPath}, nil
}

// Write writes data to the temporary file.
func (w *AtomicWriter) Write(p []byte) (int, error) {
	return w.tempFile.Write(p)
}

// Commit flushes the temporary file to disk and renames it over the target.
func (w *AtomicWriter) Commit() error {
	if err := w.tempFile.Sync(); err != nil {
		w.Abort()
		return fmt.Errorf("fsutil: sync: %w", err)
	}
	if err := w.tempFile.Close(); err != nil {
		os.Remove(w.tempPath)
		return fmt.Errorf("fsutil: close: %w", err)
	}
	if err := os.Rename(w.tempPath, w.path); err != nil {
		os.Remove(w.tempPath)
		return fmt.Errorf("%w: %v", ErrAtomicWriteFailed, err)
	}
	return nil
}

// Abort cancels the write and removes the temporary file.
func (w *AtomicWriter) Abort() {
	w.tempFile.Close()
	os.Remove(w.tempPath)
}

// WriteFileAtomic writes data to path atomically.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	w, err := NewAtomicWriter(path, perm)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Abort()
		return err
	}
	return w.Commit()
}

// CopyFile copies src to dst atomically, creating parent directories.
// The destination keeps the source's permission bits.
func CopyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	info, err := srcFile.Stat()
	if err != nil {
		return err
	}

	w, err := NewAtomicWriter(dst, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, srcFile); err != nil {
		w.Abort()
		return err
	}
	return w.Commit()
}

// randomSuffix generates a random suffix for temporary files.
func randomSuffix() string {
	var b [8]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
