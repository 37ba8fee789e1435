//go:build windows

package fsutil

import "os"

// FlockExclusive is a no-op on Windows; exclusivity comes from the
// O_CREATE|O_EXCL lock-file creation in the callers.
func FlockExclusive(f *os.File) error { return nil }

// FlockRelease is a no-op on Windows.
func FlockRelease(f *os.File) error { return nil }
