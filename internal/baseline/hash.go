package baseline

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

// HashPrefix identifies the digest algorithm in stored hash strings.
const HashPrefix = "blake2b:"

// hashChunkSize is the read size used while streaming file contents.
// Cancellation is checked between chunks, so it also bounds how long a
// timed-out hash can overrun its deadline.
const hashChunkSize = 64 * 1024

// HashFile computes the BLAKE2b-256 digest of a file's contents using
// streaming, so large files are never loaded fully into memory. The context
// bounds the operation: a timeout or cancellation aborts between chunks and
// returns ctx.Err().
func HashFile(ctx context.Context, path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", 0, fmt.Errorf("baseline: init digest: %w", err)
	}

	var size int64
	buf := make([]byte, hashChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return "", size, err
		}
		n, err := f.Read(buf)
		if n > 0 {
			size += int64(n)
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", size, err
		}
	}

	return HashPrefix + hex.EncodeToString(h.Sum(nil)), size, nil
}

// HashBytes computes the digest of an in-memory byte slice in the same
// format as HashFile. Used for registry value backups and tests.
func HashBytes(data []byte) string {
	sum := blake2b.Sum256(data)
	return HashPrefix + hex.EncodeToString(sum[:])
}
