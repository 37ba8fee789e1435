package auditlog

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func openTestLog(t *testing.T, maxEntries int) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "audit.db"), maxEntries)
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAndQueryEvents(t *testing.T) {
	l := openTestLog(t, 0)
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		err := l.RecordEvent(base.Add(time.Duration(i)*time.Second), "modified", fmt.Sprintf("f%d.md", i), "")
		if err != nil {
			t.Fatalf("record event: %v", err)
		}
	}

	recent, err := l.RecentEvents(2)
	if err != nil {
		t.Fatalf("recent events: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("recent = %d rows, want 2", len(recent))
	}
	if recent[0].Path != "f2.md" {
		t.Fatalf("newest first expected, got %s", recent[0].Path)
	}

	since, err := l.EventsSince(base.Add(time.Second))
	if err != nil {
		t.Fatalf("events since: %v", err)
	}
	if len(since) != 2 || since[0].Path != "f1.md" {
		t.Fatalf("events since = %v", since)
	}
}

func TestCapPrunesOldestEvents(t *testing.T) {
	l := openTestLog(t, 5)
	base := time.Now()

	for i := 0; i < 8; i++ {
		if err := l.RecordEvent(base.Add(time.Duration(i)*time.Millisecond), "created", fmt.Sprintf("f%d", i), ""); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	n, err := l.CountEvents()
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Fatalf("count = %d, want cap 5", n)
	}

	events, err := l.RecentEvents(10)
	if err != nil {
		t.Fatal(err)
	}
	// Oldest three were pruned.
	for _, e := range events {
		if e.Path == "f0" || e.Path == "f1" || e.Path == "f2" {
			t.Fatalf("pruned row %s still present", e.Path)
		}
	}
}

func TestFindingsSinceFiltersBySeverity(t *testing.T) {
	l := openTestLog(t, 0)
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	if err := l.RecordFinding(base, "burst_activity", "medium", "skills", "12 events in 5s"); err != nil {
		t.Fatal(err)
	}
	if err := l.RecordFinding(base.Add(time.Second), "integrity_mismatch", "high", "skills/demo/SKILL.md", ""); err != nil {
		t.Fatal(err)
	}

	all, err := l.FindingsSince(base, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("all findings = %d, want 2", len(all))
	}

	high, err := l.FindingsSince(base, "high")
	if err != nil {
		t.Fatal(err)
	}
	if len(high) != 1 || high[0].Type != "integrity_mismatch" {
		t.Fatalf("high findings = %v", high)
	}
}
