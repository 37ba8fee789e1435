package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want Level
		ok   bool
	}{
		{"debug", LevelDebug, true},
		{"INFO", LevelInfo, true},
		{"warn", LevelWarn, true},
		{"warning", LevelWarn, true},
		{"error", LevelError, true},
		{"chatty", LevelInfo, false},
	}
	for _, tc := range cases {
		got, err := ParseLevel(tc.in)
		if (err == nil) != tc.ok {
			t.Errorf("ParseLevel(%q) err = %v, want ok=%v", tc.in, err, tc.ok)
			continue
		}
		if tc.ok && got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat(""); err != nil || f != FormatText {
		t.Errorf("empty format should default to text, got %v, %v", f, err)
	}
	if f, err := ParseFormat("json"); err != nil || f != FormatJSON {
		t.Errorf("ParseFormat(json) = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("ParseFormat(xml) should fail")
	}
}

func TestFileOutputWritesJSON(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "driftwatch.log")
	l, err := New(&Config{
		Level:     LevelInfo,
		Format:    FormatJSON,
		Output:    "file",
		FilePath:  logPath,
		MaxSize:   1,
		Component: "test",
	})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer l.Close()

	l.Info("reconcile complete", "updates", 3)

	raw, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(raw)
	if !strings.Contains(line, `"msg":"reconcile complete"`) {
		t.Fatalf("log line missing message: %s", line)
	}
	if !strings.Contains(line, `"component":"test"`) {
		t.Fatalf("log line missing component: %s", line)
	}
}

func TestLevelFiltering(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "driftwatch.log")
	l, err := New(&Config{
		Level:    LevelWarn,
		Format:   FormatText,
		Output:   "file",
		FilePath: logPath,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	l.Debug("quiet")
	l.Info("also quiet")
	l.Warn("loud")

	raw, _ := os.ReadFile(logPath)
	out := string(raw)
	if strings.Contains(out, "quiet") {
		t.Fatalf("suppressed levels leaked: %s", out)
	}
	if !strings.Contains(out, "loud") {
		t.Fatalf("warn line missing: %s", out)
	}
}
