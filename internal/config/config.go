// Package config handles configuration loading, defaults, and validation
// for the driftwatch engine.
//
// Configuration is an explicit struct passed at construction time. Defaults
// are resolved once when the file is loaded; components never read
// configuration from scattered locations at runtime.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete engine configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Watch configures the filesystem observer.
	Watch WatchConfig `toml:"watch" json:"watch" yaml:"watch"`

	// Collections configures tracked-key discovery for the registry.
	Collections CollectionConfig `toml:"collections" json:"collections" yaml:"collections"`

	// Registry configures the persisted registry file and its lock.
	Registry RegistryConfig `toml:"registry" json:"registry" yaml:"registry"`

	// Backup configures the snapshot directory.
	Backup BackupConfig `toml:"backup" json:"backup" yaml:"backup"`

	// Threat configures the threat detector thresholds.
	Threat ThreatConfig `toml:"threat" json:"threat" yaml:"threat"`

	// Mode configures the operating-mode state machine timers.
	Mode ModeConfig `toml:"mode" json:"mode" yaml:"mode"`

	// Audit configures the capped finding/audit log.
	Audit AuditConfig `toml:"audit" json:"audit" yaml:"audit"`

	// Logging configures structured logging output.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Notify configures outbound notification consumers.
	Notify NotifyConfig `toml:"notify" json:"notify" yaml:"notify"`

	// Metrics configures the optional metrics endpoint.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`
}

// WatchConfig holds filesystem observer configuration.
type WatchConfig struct {
	// Paths is the list of directory trees to monitor.
	Paths []string `toml:"paths" json:"paths" yaml:"paths"`

	// IgnoredPatterns are patterns excluded from processing. Two forms are
	// supported: a bare name matches any path component ("__pycache__",
	// ".git", "backups") and a "*.ext" glob matches by suffix.
	IgnoredPatterns []string `toml:"ignored_patterns" json:"ignored_patterns" yaml:"ignored_patterns"`

	// DebounceMs is the debounce window in milliseconds. Multiple events for
	// the same path within the window collapse to one effective event.
	DebounceMs int `toml:"debounce_ms" json:"debounce_ms" yaml:"debounce_ms"`

	// PollIntervalSec is the polling interval for degraded paths where the
	// native watch mechanism is unavailable.
	PollIntervalSec int `toml:"poll_interval_sec" json:"poll_interval_sec" yaml:"poll_interval_sec"`

	// RescanIntervalSec is the interval between scheduled full
	// reconciliation passes. Zero disables scheduled rescans.
	RescanIntervalSec int `toml:"rescan_interval_sec" json:"rescan_interval_sec" yaml:"rescan_interval_sec"`

	// MaxFileSize is the largest file in bytes the engine will hash.
	// Larger files are skipped and recorded in the reconcile report.
	MaxFileSize int64 `toml:"max_file_size" json:"max_file_size" yaml:"max_file_size"`
}

// CollectionConfig controls how tracked registry keys are discovered.
//
// A collection is a directory under one of the roots that contains at least
// one tracked filename. Each tracked file present in a collection becomes a
// registry key "<collection>/<filename>".
type CollectionConfig struct {
	// Roots are directories scanned for collection folders.
	Roots []string `toml:"roots" json:"roots" yaml:"roots"`

	// TrackedFiles are the filenames tracked per collection.
	TrackedFiles []string `toml:"tracked_files" json:"tracked_files" yaml:"tracked_files"`

	// Enabled restricts processing to the named collections. Empty means all.
	Enabled []string `toml:"enabled" json:"enabled" yaml:"enabled"`
}

// RegistryConfig holds persisted registry configuration.
type RegistryConfig struct {
	// Path is the registry JSON file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// LockTimeoutMs bounds advisory lock acquisition. On timeout the
	// reconciliation cycle is deferred, never blocked indefinitely.
	LockTimeoutMs int `toml:"lock_timeout_ms" json:"lock_timeout_ms" yaml:"lock_timeout_ms"`

	// LockStaleSec is the age after which a leftover lock file from a dead
	// process may be broken.
	LockStaleSec int `toml:"lock_stale_sec" json:"lock_stale_sec" yaml:"lock_stale_sec"`

	// HashTimeoutSec bounds hashing of a single file during reconciliation.
	HashTimeoutSec int `toml:"hash_timeout_sec" json:"hash_timeout_sec" yaml:"hash_timeout_sec"`
}

// BackupConfig holds snapshot configuration.
type BackupConfig struct {
	// Dir is the root of the backups directory. One timestamped subtree is
	// created per snapshot.
	Dir string `toml:"dir" json:"dir" yaml:"dir"`
}

// ThreatConfig holds threat detector thresholds.
type ThreatConfig struct {
	// BurstThreshold is the event count N above which a burst finding is
	// raised for a watched root.
	BurstThreshold int `toml:"burst_threshold" json:"burst_threshold" yaml:"burst_threshold"`

	// BurstWindowSec is the sliding window T in seconds for burst detection.
	BurstWindowSec float64 `toml:"burst_window_sec" json:"burst_window_sec" yaml:"burst_window_sec"`

	// SuspiciousExtensions are risky file extensions (lowercase, with dot).
	SuspiciousExtensions []string `toml:"suspicious_extensions" json:"suspicious_extensions" yaml:"suspicious_extensions"`

	// LargeFileBytes is the size above which a large-file finding is raised.
	LargeFileBytes int64 `toml:"large_file_bytes" json:"large_file_bytes" yaml:"large_file_bytes"`
}

// ModeConfig holds state machine timer configuration.
type ModeConfig struct {
	// GracePeriodSec is how long Curious waits for a second finding before
	// auto-returning toward Idle.
	GracePeriodSec int `toml:"grace_period_sec" json:"grace_period_sec" yaml:"grace_period_sec"`

	// CooldownSec is how long Alarm must stay quiet, with a clean baseline,
	// before downgrading to Resolved.
	CooldownSec int `toml:"cooldown_sec" json:"cooldown_sec" yaml:"cooldown_sec"`

	// SettleDelaySec is the fixed delay from Resolved back to Idle.
	SettleDelaySec int `toml:"settle_delay_sec" json:"settle_delay_sec" yaml:"settle_delay_sec"`
}

// AuditConfig holds audit log configuration.
type AuditConfig struct {
	// Path is the sqlite database holding the audit and finding log.
	Path string `toml:"path" json:"path" yaml:"path"`

	// MaxEntries caps the audit log. Oldest entries are pruned first.
	MaxEntries int `toml:"max_entries" json:"max_entries" yaml:"max_entries"`
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	// Level is the minimum level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stderr", "stdout", "file", or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file used when Output includes "file".
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB, MaxBackups, and MaxAgeDays control log rotation.
	MaxSizeMB  int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress gzips rotated log files.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// NotifyConfig holds notification consumer configuration.
type NotifyConfig struct {
	// Desktop enables desktop notifications on supported platforms.
	Desktop bool `toml:"desktop" json:"desktop" yaml:"desktop"`
}

// MetricsConfig holds metrics endpoint configuration.
type MetricsConfig struct {
	// ListenAddr is the address the Prometheus text endpoint listens on,
	// e.g. "127.0.0.1:9310". Empty disables the endpoint.
	ListenAddr string `toml:"listen_addr" json:"listen_addr" yaml:"listen_addr"`
}

// Validation errors.
var (
	ErrNoWatchPaths    = errors.New("config: no watch paths configured")
	ErrInvalidInterval = errors.New("config: interval must be positive")
	ErrInvalidLevel    = errors.New("config: unknown log level")
)

// Default returns a configuration with all defaults resolved relative to the
// platform data directory.
func Default() *Config {
	data := DataDir()
	return &Config{
		Version: Version,
		Watch: WatchConfig{
			Paths: nil,
			IgnoredPatterns: []string{
				"__pycache__", ".git", "*.pyc", "backups", "logs", "dist",
			},
			DebounceMs:        500,
			PollIntervalSec:   30,
			RescanIntervalSec: 300,
			MaxFileSize:       512 * 1024 * 1024,
		},
		Collections: CollectionConfig{
			TrackedFiles: []string{"SKILL.md", "README.md", "prompt_template.md", "metadata.json"},
		},
		Registry: RegistryConfig{
			Path:           filepath.Join(data, "registry.json"),
			LockTimeoutMs:  5000,
			LockStaleSec:   60,
			HashTimeoutSec: 30,
		},
		Backup: BackupConfig{
			Dir: filepath.Join(data, "backups"),
		},
		Threat: ThreatConfig{
			BurstThreshold: 10,
			BurstWindowSec: 5.0,
			SuspiciousExtensions: []string{
				".exe", ".dll", ".bat", ".cmd", ".ps1",
				".vbs", ".js", ".scr", ".com", ".msi",
			},
			LargeFileBytes: 50 * 1024 * 1024,
		},
		Mode: ModeConfig{
			GracePeriodSec: 5,
			CooldownSec:    30,
			SettleDelaySec: 5,
		},
		Audit: AuditConfig{
			Path:       filepath.Join(data, "audit.db"),
			MaxEntries: 10000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(data, "logs", "driftwatch.log"),
			MaxSizeMB:  20,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Validate checks the configuration for errors that would prevent the engine
// from starting.
func (c *Config) Validate() error {
	if len(c.Watch.Paths) == 0 && len(c.Collections.Roots) == 0 {
		return ErrNoWatchPaths
	}
	if c.Watch.DebounceMs <= 0 {
		return fmt.Errorf("%w: watch.debounce_ms=%d", ErrInvalidInterval, c.Watch.DebounceMs)
	}
	if c.Watch.PollIntervalSec <= 0 {
		return fmt.Errorf("%w: watch.poll_interval_sec=%d", ErrInvalidInterval, c.Watch.PollIntervalSec)
	}
	if c.Registry.LockTimeoutMs <= 0 {
		return fmt.Errorf("%w: registry.lock_timeout_ms=%d", ErrInvalidInterval, c.Registry.LockTimeoutMs)
	}
	if c.Threat.BurstThreshold <= 0 {
		return fmt.Errorf("config: threat.burst_threshold must be positive, got %d", c.Threat.BurstThreshold)
	}
	if c.Threat.BurstWindowSec <= 0 {
		return fmt.Errorf("%w: threat.burst_window_sec=%v", ErrInvalidInterval, c.Threat.BurstWindowSec)
	}
	if c.Audit.MaxEntries <= 0 {
		return fmt.Errorf("config: audit.max_entries must be positive, got %d", c.Audit.MaxEntries)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLevel, c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}
	return nil
}

// Debounce returns the debounce window as a duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Watch.DebounceMs) * time.Millisecond
}

// LockTimeout returns the lock acquisition bound as a duration.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Registry.LockTimeoutMs) * time.Millisecond
}

// HashTimeout returns the per-file hashing bound as a duration.
func (c *Config) HashTimeout() time.Duration {
	return time.Duration(c.Registry.HashTimeoutSec) * time.Second
}

// BurstWindow returns the burst sliding window as a duration.
func (c *Config) BurstWindow() time.Duration {
	return time.Duration(c.Threat.BurstWindowSec * float64(time.Second))
}

// StateDirs returns every directory the engine itself writes to. The path
// filter hard-excludes these to prevent a write-detect-write feedback loop.
func (c *Config) StateDirs() []string {
	return []string{
		filepath.Dir(c.Registry.Path),
		c.Backup.Dir,
		filepath.Dir(c.Audit.Path),
		filepath.Dir(c.Logging.FilePath),
	}
}

// DataDir returns the platform-specific data directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/driftwatch/
//   - Linux:   ~/.local/share/driftwatch/
//   - Windows: %APPDATA%\driftwatch\
//
// Falls back to ~/.driftwatch if platform detection fails.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".driftwatch"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "driftwatch")
	case "linux":
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "driftwatch")
		}
		return filepath.Join(home, ".local", "share", "driftwatch")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "driftwatch")
		}
		return filepath.Join(home, ".driftwatch")
	default:
		return filepath.Join(home, ".driftwatch")
	}
}
