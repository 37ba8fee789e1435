//go:build !windows

package fsutil

import (
	"os"

	"golang.org/x/sys/unix"
)

// FlockExclusive acquires a non-blocking exclusive flock on f.
func FlockExclusive(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}

// FlockRelease releases the flock held on f.
func FlockRelease(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
