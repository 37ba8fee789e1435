// Package report renders a human-readable audit report from the
// persisted audit log: a summary, the suspicious activity, integrity
// violations, and a recent event timeline, as Markdown.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"driftwatch/internal/auditlog"
)

// timelineLimit bounds the recent-events section.
const timelineLimit = 50

// Options selects what the report covers.
type Options struct {
	// Since is the start of the reporting window.
	Since time.Time

	// Now stamps the report header; zero means time.Now.
	Now time.Time
}

// Write renders the report for log into w.
func Write(w io.Writer, log *auditlog.Log, opts Options) error {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	events, err := log.EventsSince(opts.Since)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	findings, err := log.FindingsSince(opts.Since, "")
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}

	var b strings.Builder
	b.WriteString("# Driftwatch Audit Report\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", now.Format(time.RFC3339))
	fmt.Fprintf(&b, "Window: since %s\n\n", opts.Since.Format(time.RFC3339))

	writeSummary(&b, events, findings)
	writeFindings(&b, findings)
	writeTimeline(&b, events)

	_, err = io.WriteString(w, b.String())
	return err
}

func writeSummary(b *strings.Builder, events []auditlog.Event, findings []auditlog.Finding) {
	bySeverity := map[string]int{}
	for _, f := range findings {
		bySeverity[f.Severity]++
	}

	b.WriteString("## Summary\n\n")
	fmt.Fprintf(b, "- Filesystem events: %d\n", len(events))
	fmt.Fprintf(b, "- Findings: %d\n", len(findings))
	for _, sev := range []string{"critical", "high", "medium", "low"} {
		if n := bySeverity[sev]; n > 0 {
			fmt.Fprintf(b, "  - %s: %d\n", sev, n)
		}
	}
	b.WriteString("\n")
}

func writeFindings(b *strings.Builder, findings []auditlog.Finding) {
	var violations, suspicious []auditlog.Finding
	for _, f := range findings {
		if f.Type == "integrity_mismatch" {
			violations = append(violations, f)
		} else {
			suspicious = append(suspicious, f)
		}
	}

	b.WriteString("## Integrity Violations\n\n")
	if len(violations) == 0 {
		b.WriteString("None recorded.\n\n")
	} else {
		b.WriteString("| Time | Severity | Path | Detail |\n")
		b.WriteString("|------|----------|------|--------|\n")
		for _, f := range violations {
			writeFindingRow(b, f)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Suspicious Activity\n\n")
	if len(suspicious) == 0 {
		b.WriteString("None recorded.\n\n")
	} else {
		b.WriteString("| Time | Type | Severity | Path | Detail |\n")
		b.WriteString("|------|------|----------|------|--------|\n")
		for _, f := range suspicious {
			fmt.Fprintf(b, "| %s | %s | %s | %s | %s |\n",
				formatNs(f.TimestampNs), f.Type, f.Severity, escapeCell(f.Path), escapeCell(f.Detail))
		}
		b.WriteString("\n")
	}
}

func writeFindingRow(b *strings.Builder, f auditlog.Finding) {
	fmt.Fprintf(b, "| %s | %s | %s | %s |\n",
		formatNs(f.TimestampNs), f.Severity, escapeCell(f.Path), escapeCell(f.Detail))
}

func writeTimeline(b *strings.Builder, events []auditlog.Event) {
	b.WriteString("## Recent Timeline\n\n")
	if len(events) == 0 {
		b.WriteString("No events in window.\n")
		return
	}
	start := 0
	if len(events) > timelineLimit {
		start = len(events) - timelineLimit
	}
	for _, e := range events[start:] {
		detail := ""
		if e.Detail != "" {
			detail = " (" + e.Detail + ")"
		}
		fmt.Fprintf(b, "- %s `%s` %s%s\n", formatNs(e.TimestampNs), e.Kind, e.Path, detail)
	}
}

func formatNs(ns int64) string {
	return time.Unix(0, ns).UTC().Format("2006-01-02 15:04:05")
}

// escapeCell keeps pipes inside table cells from breaking the layout.
func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
