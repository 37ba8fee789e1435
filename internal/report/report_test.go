package report

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"driftwatch/internal/auditlog"
)

func TestWriteRendersAllSections(t *testing.T) {
	log, err := auditlog.Open(filepath.Join(t.TempDir(), "audit.db"), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()

	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	if err := log.RecordEvent(base, "modified", "skills/demo/SKILL.md", ""); err != nil {
		t.Fatal(err)
	}
	if err := log.RecordFinding(base.Add(time.Minute), "integrity_mismatch", "high", "skills/demo/SKILL.md", "hash drift"); err != nil {
		t.Fatal(err)
	}
	if err := log.RecordFinding(base.Add(2*time.Minute), "burst", "medium", "skills", "12 events in 5s"); err != nil {
		t.Fatal(err)
	}

	var out strings.Builder
	err = Write(&out, log, Options{
		Since: base.Add(-time.Hour),
		Now:   base.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("write report: %v", err)
	}
	got := out.String()

	for _, want := range []string{
		"# Driftwatch Audit Report",
		"## Summary",
		"- Filesystem events: 1",
		"- Findings: 2",
		"## Integrity Violations",
		"hash drift",
		"## Suspicious Activity",
		"burst",
		"## Recent Timeline",
		"skills/demo/SKILL.md",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("report missing %q\n---\n%s", want, got)
		}
	}
}

func TestWriteEmptyLog(t *testing.T) {
	log, err := auditlog.Open(filepath.Join(t.TempDir(), "audit.db"), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()

	var out strings.Builder
	if err := Write(&out, log, Options{Since: time.Now().Add(-time.Hour)}); err != nil {
		t.Fatalf("write report: %v", err)
	}
	if !strings.Contains(out.String(), "None recorded.") {
		t.Fatalf("empty sections not rendered:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "No events in window.") {
		t.Fatalf("empty timeline not rendered:\n%s", out.String())
	}
}

func TestPipeEscapingInCells(t *testing.T) {
	log, err := auditlog.Open(filepath.Join(t.TempDir(), "audit.db"), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()

	now := time.Now()
	if err := log.RecordFinding(now, "burst", "medium", "weird|path", "a|b"); err != nil {
		t.Fatal(err)
	}

	var out strings.Builder
	if err := Write(&out, log, Options{Since: now.Add(-time.Minute)}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), `weird\|path`) {
		t.Fatalf("pipe not escaped:\n%s", out.String())
	}
}
