// Package pathfilter decides whether a filesystem path is relevant to the
// engine. The filter is a pure predicate over configuration: it performs no
// I/O and must be consulted before any side effect (hashing, logging,
// locking) so the engine can never re-trigger on its own writes.
package pathfilter

import (
	"path/filepath"
	"regexp"
	"strings"
)

// transientRE matches files that exist only for the duration of an atomic
// write or advisory lock and must never be processed:
//
//	.tmp_<rand>.<ext>      atomic write temporaries
//	<name>.tmp.<pid>.<ts>  editor/tooling atomic writes
//	<name>.lock            advisory lock sidecars
var transientRE = regexp.MustCompile(
	`(^\.tmp_[a-z0-9_]+\..+$)` +
		`|(\.tmp\.\d+\.\d+$)` +
		`|(\.lock$)`,
)

// Filter holds the compiled filtering rules.
type Filter struct {
	ignored     []string
	enabled     map[string]bool
	stateDirs   []string
}

// New builds a Filter.
//
// ignoredPatterns supports two forms: a bare name matching any path
// component ("__pycache__", ".git", "backups") and a "*.ext" suffix glob.
// enabledCollections, when non-empty, restricts processing to paths that
// contain one of the named components. stateDirs are the engine's own
// output directories (registry, backups, audit log, logs); paths inside
// them are always rejected.
func New(ignoredPatterns, enabledCollections, stateDirs []string) *Filter {
	f := &Filter{ignored: ignoredPatterns}
	if len(enabledCollections) > 0 {
		f.enabled = make(map[string]bool, len(enabledCollections))
		for _, name := range enabledCollections {
			f.enabled[name] = true
		}
	}
	for _, d := range stateDirs {
		if abs, err := filepath.Abs(d); err == nil {
			f.stateDirs = append(f.stateDirs, abs)
		}
	}
	return f
}

// ShouldProcess reports whether path is relevant to the engine.
func (f *Filter) ShouldProcess(path string) bool {
	if IsTransient(path) {
		return false
	}
	if f.inStateDir(path) {
		return false
	}
	parts := components(path)
	if f.matchesIgnored(path, parts) {
		return false
	}
	if !f.matchesEnabled(parts) {
		return false
	}
	return true
}

// IsTransient reports whether the file name marks a transient artifact
// (atomic write temporary, lock sidecar).
func IsTransient(path string) bool {
	return transientRE.MatchString(filepath.Base(path))
}

// inStateDir reports whether path is inside one of the engine's own
// output directories.
func (f *Filter) inStateDir(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, dir := range f.stateDirs {
		if abs == dir || strings.HasPrefix(abs, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (f *Filter) matchesIgnored(path string, parts []string) bool {
	for _, pattern := range f.ignored {
		if strings.HasPrefix(pattern, "*") {
			if strings.HasSuffix(path, pattern[1:]) {
				return true
			}
			continue
		}
		for _, part := range parts {
			if part == pattern {
				return true
			}
		}
	}
	return false
}

func (f *Filter) matchesEnabled(parts []string) bool {
	if f.enabled == nil {
		return true
	}
	for _, part := range parts {
		if f.enabled[part] {
			return true
		}
	}
	return false
}

func components(path string) []string {
	return strings.FieldsFunc(filepath.ToSlash(path), func(r rune) bool {
		return r == '/'
	})
}
