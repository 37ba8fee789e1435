// Package registry persists the reconciled view of tracked files: one
// record per registry key mapping to its last known content hash. The
// registry is a single JSON document validated against an embedded
// schema on every load, written atomically, and guarded by an advisory
// lock so concurrent reconcilers cannot interleave writes.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"driftwatch/internal/fsutil"
)

// SchemaVersion is the registry document format version. Loads reject
// documents carrying a newer version than this binary understands.
const SchemaVersion = 1

var (
	// ErrCorrupt marks a registry file that failed JSON parsing or
	// schema validation. A corrupt registry refuses all writes until an
	// operator restores it from a backup.
	ErrCorrupt = errors.New("registry: file is corrupt")

	// ErrVersionTooNew is returned when the on-disk document was
	// produced by a newer format revision.
	ErrVersionTooNew = errors.New("registry: document version is newer than supported")
)

// registrySchema must stay in sync with Record and Data.
const registrySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "updated_at", "records"],
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "updated_at": {"type": "string"},
    "records": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["content_hash", "updated_at"],
        "properties": {
          "content_hash": {"type": "string", "pattern": "^[a-z0-9]+:[0-9a-f]+$"},
          "size_bytes": {"type": "integer", "minimum": 0},
          "updated_at": {"type": "string"},
          "pending_delete": {"type": "boolean"}
        }
      }
    }
  }
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("registry.schema.json", strings.NewReader(registrySchema)); err != nil {
		panic(fmt.Sprintf("registry: add schema resource: %v", err))
	}
	return compiler.MustCompile("registry.schema.json")
}

// Record is one tracked file's registry entry.
type Record struct {
	ContentHash string    `json:"content_hash"`
	SizeBytes   int64     `json:"size_bytes"`
	UpdatedAt   time.Time `json:"updated_at"`

	// PendingDelete marks a key whose local file was observed missing
	// in the previous reconciliation cycle. The record is removed only
	// if the file is still missing on the next cycle.
	PendingDelete bool `json:"pending_delete,omitempty"`
}

// Data is the full registry document.
type Data struct {
	Version   int               `json:"version"`
	UpdatedAt time.Time         `json:"updated_at"`
	Records   map[string]Record `json:"records"`
}

// File owns the registry document on disk.
type File struct {
	path    string
	data    Data
	corrupt bool
	loaded  bool
}

// Open binds a registry file at path without reading it. Call Load
// before use.
func Open(path string) *File {
	return &File{path: path}
}

// Path returns the registry file's location.
func (f *File) Path() string { return f.path }

// Corrupt reports whether the last Load found an unreadable document.
func (f *File) Corrupt() bool { return f.corrupt }

// Load reads and validates the registry document. A missing file yields
// an empty registry; a present but invalid file yields ErrCorrupt and
// poisons the File so subsequent Save calls fail.
func (f *File) Load() error {
	f.loaded = true
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			f.data = Data{Version: SchemaVersion, Records: map[string]Record{}}
			f.corrupt = false
			return nil
		}
		return fmt.Errorf("registry: read %s: %w", f.path, err)
	}

	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		f.corrupt = true
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, f.path, err)
	}
	if err := compiledSchema.Validate(instance); err != nil {
		f.corrupt = true
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, f.path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var data Data
	if err := dec.Decode(&data); err != nil {
		f.corrupt = true
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, f.path, err)
	}
	if data.Version > SchemaVersion {
		return fmt.Errorf("%w: have %d, support %d", ErrVersionTooNew, data.Version, SchemaVersion)
	}
	if data.Records == nil {
		data.Records = map[string]Record{}
	}
	f.data = data
	f.corrupt = false
	return nil
}

// Save writes the document atomically. It refuses to write when the
// File is corrupt or was never loaded, so a half-read registry can
// never be clobbered.
func (f *File) Save() error {
	if f.corrupt {
		return fmt.Errorf("%w: refusing to overwrite %s", ErrCorrupt, f.path)
	}
	if !f.loaded {
		return fmt.Errorf("registry: save before load of %s", f.path)
	}
	f.data.Version = SchemaVersion
	f.data.UpdatedAt = time.Now().UTC()

	raw, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: marshal: %w", err)
	}
	if err := fsutil.WriteFileAtomic(f.path, raw, fsutil.PermStateFile); err != nil {
		return fmt.Errorf("registry: persist %s: %w", f.path, err)
	}
	return nil
}

// Get returns the record for key, if present.
func (f *File) Get(key string) (Record, bool) {
	rec, ok := f.data.Records[key]
	return rec, ok
}

// Put inserts or replaces the record for key, clearing any pending
// deletion; a file that reappeared is no longer a removal candidate.
func (f *File) Put(key, contentHash string, size int64) {
	f.data.Records[key] = Record{
		ContentHash: contentHash,
		SizeBytes:   size,
		UpdatedAt:   time.Now().UTC(),
	}
}

// MarkPendingDelete flags key for removal on the next cycle. Returns
// false if the key does not exist.
func (f *File) MarkPendingDelete(key string) bool {
	rec, ok := f.data.Records[key]
	if !ok {
		return false
	}
	rec.PendingDelete = true
	rec.UpdatedAt = time.Now().UTC()
	f.data.Records[key] = rec
	return true
}

// Delete removes key from the registry.
func (f *File) Delete(key string) {
	delete(f.data.Records, key)
}

// Keys returns all registry keys in sorted order.
func (f *File) Keys() []string {
	keys := make([]string, 0, len(f.data.Records))
	for k := range f.data.Records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of records.
func (f *File) Len() int { return len(f.data.Records) }

// UpdatedAt returns when the document was last saved.
func (f *File) UpdatedAt() time.Time { return f.data.UpdatedAt }
