package baseline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Attrs captures the file attributes relevant to integrity auditing.
type Attrs struct {
	Size     int64  `json:"size"`
	Mode     uint32 `json:"mode"`
	ReadOnly bool   `json:"readonly"`
	Hidden   bool   `json:"hidden"`
	MTime    int64  `json:"mtime_unix"`
}

// StatSnapshot captures the current attributes of path. A stat failure
// yields the zero Attrs; attribute comparison treats that as "no data".
func StatSnapshot(path string) Attrs {
	info, err := os.Stat(path)
	if err != nil {
		return Attrs{}
	}
	mode := info.Mode()
	return Attrs{
		Size:     info.Size(),
		Mode:     uint32(mode.Perm()),
		ReadOnly: mode.Perm()&0o200 == 0,
		Hidden:   strings.HasPrefix(filepath.Base(path), "."),
		MTime:    info.ModTime().Unix(),
	}
}

// DiffAttrs compares two attribute snapshots and describes every
// security-relevant change. Size and mtime changes are excluded; those are
// covered by content hashing.
func DiffAttrs(old, cur Attrs) []string {
	if old == (Attrs{}) || cur == (Attrs{}) {
		return nil
	}
	var changes []string
	if old.ReadOnly != cur.ReadOnly {
		changes = append(changes, fmt.Sprintf("read-only changed from %t to %t", old.ReadOnly, cur.ReadOnly))
	}
	if old.Mode != cur.Mode {
		changes = append(changes, fmt.Sprintf("mode changed from %04o to %04o", old.Mode, cur.Mode))
	}
	if old.Hidden != cur.Hidden {
		changes = append(changes, fmt.Sprintf("hidden changed from %t to %t", old.Hidden, cur.Hidden))
	}
	return changes
}
