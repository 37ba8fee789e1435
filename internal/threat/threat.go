// Package threat classifies filtered filesystem activity into
// severity-ranked findings: event bursts, integrity mismatches against
// the baseline, and suspicious path patterns. The detector only reads
// state supplied by its callers; it never touches the registry or the
// baseline store itself.
package threat

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"driftwatch/internal/watcher"
)

// Severity ranks a finding.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Kind identifies what a finding is about.
type Kind string

const (
	KindBurst             Kind = "burst"
	KindIntegrityMismatch Kind = "integrity_mismatch"
	KindSuspiciousPattern Kind = "suspicious_pattern"
)

// Finding is one detector result. Findings are ephemeral; persistence
// happens in the audit log, escalation in the mode state machine.
type Finding struct {
	Kind       Kind
	Severity   Severity
	Path       string
	DetectedAt time.Time
	Evidence   map[string]string
}

// Config tunes the detector. All thresholds come from configuration,
// never from constants baked into call sites.
type Config struct {
	// BurstThreshold is N: more than N events on one root within
	// BurstWindow raises a burst finding.
	BurstThreshold int

	// BurstWindow is T, the sliding window for burst counting. It also
	// bounds how long a suspicious-pattern observation and an integrity
	// mismatch on the same path count as combined.
	BurstWindow time.Duration

	// SuspiciousExtensions lists risky file extensions, dot included.
	SuspiciousExtensions []string

	// LargeFileBytes flags files at or above this size. Zero disables
	// the check.
	LargeFileBytes int64
}

// Detector holds the sliding-window state for all checks.
type Detector struct {
	cfg Config
	now func() time.Time

	mu               sync.Mutex
	rootEvents       map[string][]time.Time
	burstActive      map[string]bool
	burstSeverity    map[string]Severity
	recentSuspicious map[string]time.Time
	recentMismatch   map[string]time.Time
}

// New creates a Detector. nowFn overrides the clock for tests; nil
// means time.Now.
func New(cfg Config, nowFn func() time.Time) *Detector {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Detector{
		cfg:              cfg,
		now:              nowFn,
		rootEvents:       make(map[string][]time.Time),
		burstActive:      make(map[string]bool),
		burstSeverity:    make(map[string]Severity),
		recentSuspicious: make(map[string]time.Time),
		recentMismatch:   make(map[string]time.Time),
	}
}

// ObserveEvent feeds one filtered watch event attributed to root and
// returns any findings it raises.
func (d *Detector) ObserveEvent(root, path string, kind watcher.Kind, size int64) []Finding {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	var findings []Finding

	if f, ok := d.checkBurst(root, now); ok {
		findings = append(findings, f)
	}

	if kind == watcher.KindCreated || kind == watcher.KindModified {
		if f, ok := d.checkSuspiciousPath(path, now); ok {
			findings = append(findings, f)
		}
		if kind == watcher.KindCreated && isHiddenName(path) {
			findings = append(findings, Finding{
				Kind:       KindSuspiciousPattern,
				Severity:   SeverityLow,
				Path:       path,
				DetectedAt: now,
				Evidence:   map[string]string{"reason": "hidden_file"},
			})
		}
		if d.cfg.LargeFileBytes > 0 && size >= d.cfg.LargeFileBytes {
			findings = append(findings, Finding{
				Kind:       KindSuspiciousPattern,
				Severity:   SeverityLow,
				Path:       path,
				DetectedAt: now,
				Evidence: map[string]string{
					"reason":     "large_file",
					"size_bytes": fmt.Sprintf("%d", size),
				},
			})
		}
	}

	return findings
}

// ObserveMismatch reports an unreconciled integrity drift on path:
// baseline said one hash, disk says another. attrChanges lists file
// attribute differences (mode, readonly, hidden) seen alongside the
// content drift; any such change escalates the finding to critical.
func (d *Detector) ObserveMismatch(path, baselineHash, currentHash string, attrChanges []string) []Finding {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.recentMismatch[path] = now

	severity := SeverityHigh
	evidence := map[string]string{
		"baseline_hash": baselineHash,
		"current_hash":  currentHash,
	}
	if len(attrChanges) > 0 {
		severity = SeverityCritical
		evidence["attr_changes"] = strings.Join(attrChanges, ",")
	}

	findings := []Finding{{
		Kind:       KindIntegrityMismatch,
		Severity:   severity,
		Path:       path,
		DetectedAt: now,
		Evidence:   evidence,
	}}

	// A suspicious path seen recently that now also fails verification
	// is the combination the critical rating exists for.
	if seen, ok := d.recentSuspicious[path]; ok && now.Sub(seen) <= d.cfg.BurstWindow {
		findings = append(findings, Finding{
			Kind:       KindSuspiciousPattern,
			Severity:   SeverityCritical,
			Path:       path,
			DetectedAt: now,
			Evidence: map[string]string{
				"reason":        "suspicious_path_with_mismatch",
				"baseline_hash": baselineHash,
				"current_hash":  currentHash,
			},
		})
	}

	return findings
}

// checkBurst slides the window for root. A finding fires when the
// count first exceeds the threshold, and again only if the excursion
// escalates to a higher severity; steady churn inside one excursion
// stays a single finding.
func (d *Detector) checkBurst(root string, now time.Time) (Finding, bool) {
	cutoff := now.Add(-d.cfg.BurstWindow)
	times := append(d.rootEvents[root], now)
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	d.rootEvents[root] = kept

	n := d.cfg.BurstThreshold
	count := len(kept)
	if n <= 0 || count <= n {
		d.burstActive[root] = false
		return Finding{}, false
	}

	severity := SeverityMedium
	if count > 3*n {
		severity = SeverityHigh
	}
	if d.burstActive[root] && severity <= d.burstSeverity[root] {
		return Finding{}, false
	}
	d.burstActive[root] = true
	d.burstSeverity[root] = severity
	return Finding{
		Kind:       KindBurst,
		Severity:   severity,
		Path:       root,
		DetectedAt: now,
		Evidence: map[string]string{
			"count":      fmt.Sprintf("%d", count),
			"threshold":  fmt.Sprintf("%d", n),
			"window_sec": fmt.Sprintf("%g", d.cfg.BurstWindow.Seconds()),
		},
	}, true
}

func (d *Detector) checkSuspiciousPath(path string, now time.Time) (Finding, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return Finding{}, false
	}
	for _, risky := range d.cfg.SuspiciousExtensions {
		if ext == strings.ToLower(risky) {
			d.recentSuspicious[path] = now
			severity := SeverityMedium
			evidence := map[string]string{"extension": ext}
			if seen, ok := d.recentMismatch[path]; ok && now.Sub(seen) <= d.cfg.BurstWindow {
				severity = SeverityCritical
				evidence["reason"] = "suspicious_path_with_mismatch"
			}
			return Finding{
				Kind:       KindSuspiciousPattern,
				Severity:   severity,
				Path:       path,
				DetectedAt: now,
				Evidence:   evidence,
			}, true
		}
	}
	return Finding{}, false
}

func isHiddenName(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") && base != "." && base != ".."
}
