package threat

import (
	"testing"
	"time"

	"driftwatch/internal/watcher"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestDetector(cfg Config) (*Detector, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	if cfg.BurstWindow == 0 {
		cfg.BurstWindow = 2 * time.Second
	}
	return New(cfg, clock.Now), clock
}

func TestBurstFiresOnceAboveThreshold(t *testing.T) {
	d, clock := newTestDetector(Config{BurstThreshold: 5, BurstWindow: 2 * time.Second})

	var bursts []Finding
	for i := 0; i < 6; i++ {
		for _, f := range d.ObserveEvent("/watch", "/watch/f.md", watcher.KindModified, 0) {
			if f.Kind == KindBurst {
				bursts = append(bursts, f)
			}
		}
		clock.Advance(100 * time.Millisecond)
	}

	if len(bursts) != 1 {
		t.Fatalf("burst findings = %d, want exactly 1", len(bursts))
	}
	if bursts[0].Severity != SeverityMedium {
		t.Fatalf("burst severity = %s, want medium", bursts[0].Severity)
	}
	if bursts[0].Path != "/watch" {
		t.Fatalf("burst path = %s, want root", bursts[0].Path)
	}
}

func TestBurstBelowThresholdIsSilent(t *testing.T) {
	d, clock := newTestDetector(Config{BurstThreshold: 5, BurstWindow: 2 * time.Second})

	for i := 0; i < 4; i++ {
		for _, f := range d.ObserveEvent("/watch", "/watch/f.md", watcher.KindModified, 0) {
			if f.Kind == KindBurst {
				t.Fatalf("unexpected burst finding: %+v", f)
			}
		}
		clock.Advance(100 * time.Millisecond)
	}
}

func TestBurstWindowSlides(t *testing.T) {
	d, clock := newTestDetector(Config{BurstThreshold: 3, BurstWindow: 2 * time.Second})

	// Three events, then let the window empty out.
	for i := 0; i < 3; i++ {
		d.ObserveEvent("/watch", "/watch/f.md", watcher.KindModified, 0)
	}
	clock.Advance(3 * time.Second)

	// Three more stay under threshold because the old ones expired.
	for i := 0; i < 3; i++ {
		for _, f := range d.ObserveEvent("/watch", "/watch/f.md", watcher.KindModified, 0) {
			if f.Kind == KindBurst {
				t.Fatalf("stale events counted into burst: %+v", f)
			}
		}
	}
}

func TestBurstSeverityEscalatesWithOverrun(t *testing.T) {
	d, _ := newTestDetector(Config{BurstThreshold: 2, BurstWindow: time.Minute})

	var bursts []Finding
	for i := 0; i < 10; i++ {
		for _, f := range d.ObserveEvent("/watch", "/watch/f.md", watcher.KindModified, 0) {
			if f.Kind == KindBurst {
				bursts = append(bursts, f)
			}
		}
	}

	// One medium finding at the first crossing (3 events), one high
	// once the count passes 3x the threshold (7 events).
	if len(bursts) != 2 {
		t.Fatalf("burst findings = %d, want 2", len(bursts))
	}
	if bursts[0].Severity != SeverityMedium || bursts[1].Severity != SeverityHigh {
		t.Fatalf("severities = %s, %s; want medium, high", bursts[0].Severity, bursts[1].Severity)
	}
}

func TestIntegrityMismatchCarriesBothHashes(t *testing.T) {
	d, _ := newTestDetector(Config{})

	findings := d.ObserveMismatch("/watch/SKILL.md", "blake2b:aa", "blake2b:bb", nil)
	if len(findings) != 1 {
		t.Fatalf("findings = %d, want 1", len(findings))
	}
	f := findings[0]
	if f.Kind != KindIntegrityMismatch || f.Severity != SeverityHigh {
		t.Fatalf("got %s/%s, want integrity_mismatch/high", f.Kind, f.Severity)
	}
	if f.Evidence["baseline_hash"] != "blake2b:aa" || f.Evidence["current_hash"] != "blake2b:bb" {
		t.Fatalf("evidence missing hashes: %v", f.Evidence)
	}
}

func TestAttributeDriftEscalatesMismatch(t *testing.T) {
	d, _ := newTestDetector(Config{})

	findings := d.ObserveMismatch("/watch/SKILL.md", "blake2b:aa", "blake2b:bb", []string{"readonly"})
	if findings[0].Severity != SeverityCritical {
		t.Fatalf("severity = %s, want critical", findings[0].Severity)
	}
}

func TestSuspiciousExtension(t *testing.T) {
	d, _ := newTestDetector(Config{SuspiciousExtensions: []string{".exe", ".ps1"}})

	findings := d.ObserveEvent("/watch", "/watch/payload.EXE", watcher.KindCreated, 0)
	var found *Finding
	for _, f := range findings {
		if f.Kind == KindSuspiciousPattern && f.Evidence["extension"] == ".exe" {
			f := f
			found = &f
		}
	}
	if found == nil {
		t.Fatal("no suspicious_pattern finding for .exe")
	}
	if found.Severity != SeverityMedium {
		t.Fatalf("severity = %s, want medium", found.Severity)
	}
}

func TestSuspiciousPlusMismatchIsCritical(t *testing.T) {
	d, clock := newTestDetector(Config{
		SuspiciousExtensions: []string{".exe"},
		BurstWindow:          5 * time.Second,
	})

	d.ObserveEvent("/watch", "/watch/payload.exe", watcher.KindCreated, 0)
	clock.Advance(time.Second)

	findings := d.ObserveMismatch("/watch/payload.exe", "blake2b:aa", "blake2b:bb", nil)
	var critical bool
	for _, f := range findings {
		if f.Kind == KindSuspiciousPattern && f.Severity == SeverityCritical {
			critical = true
		}
	}
	if !critical {
		t.Fatalf("expected critical suspicious_pattern, got %+v", findings)
	}
}

func TestSuspiciousCombinationExpiresWithWindow(t *testing.T) {
	d, clock := newTestDetector(Config{
		SuspiciousExtensions: []string{".exe"},
		BurstWindow:          2 * time.Second,
	})

	d.ObserveEvent("/watch", "/watch/payload.exe", watcher.KindCreated, 0)
	clock.Advance(time.Minute)

	findings := d.ObserveMismatch("/watch/payload.exe", "blake2b:aa", "blake2b:bb", nil)
	for _, f := range findings {
		if f.Severity == SeverityCritical {
			t.Fatalf("stale suspicious observation escalated: %+v", f)
		}
	}
}

func TestHiddenFileCreation(t *testing.T) {
	d, _ := newTestDetector(Config{})

	findings := d.ObserveEvent("/watch", "/watch/.sneaky", watcher.KindCreated, 0)
	if len(findings) != 1 || findings[0].Severity != SeverityLow {
		t.Fatalf("findings = %+v, want one low hidden_file", findings)
	}
	if findings[0].Evidence["reason"] != "hidden_file" {
		t.Fatalf("evidence = %v", findings[0].Evidence)
	}
}

func TestLargeFileDetection(t *testing.T) {
	d, _ := newTestDetector(Config{LargeFileBytes: 1 << 20})

	findings := d.ObserveEvent("/watch", "/watch/blob.bin", watcher.KindModified, 2<<20)
	var found bool
	for _, f := range findings {
		if f.Evidence["reason"] == "large_file" && f.Severity == SeverityLow {
			found = true
		}
	}
	if !found {
		t.Fatalf("no large_file finding: %+v", findings)
	}

	if fs := d.ObserveEvent("/watch", "/watch/small.bin", watcher.KindModified, 100); len(fs) != 0 {
		t.Fatalf("small file flagged: %+v", fs)
	}
}
