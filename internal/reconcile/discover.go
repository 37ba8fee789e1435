package reconcile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// DiscoverKeys scans the collection roots for tracked files. A
// collection is an immediate subdirectory of a root containing at
// least one of the tracked filenames; its registry keys are
// "<collection>/<tracked-file>". The filter runs before any key is
// admitted, so ignored collections never reach hashing. The returned
// map is key -> absolute file path.
func DiscoverKeys(roots, trackedFiles []string, filter func(string) bool) (map[string]string, error) {
	if filter == nil {
		filter = func(string) bool { return true }
	}
	keys := make(map[string]string)
	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("reconcile: read root %s: %w", root, err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			collection := e.Name()
			for _, name := range trackedFiles {
				path := filepath.Join(root, collection, name)
				if !filter(path) {
					continue
				}
				if info, serr := os.Stat(path); serr != nil || info.IsDir() {
					continue
				}
				keys[collection+"/"+name] = path
			}
		}
	}
	return keys, nil
}

// sortedKeys returns m's keys in deterministic order.
func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
