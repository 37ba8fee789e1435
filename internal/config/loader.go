package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned for config files with an unknown extension.
var ErrUnsupportedFormat = errors.New("config: unsupported file format")

// DefaultPath returns the conventional config file location under the
// platform data directory.
func DefaultPath() string {
	return filepath.Join(DataDir(), "config.toml")
}

// Load reads a configuration file, merges it over the defaults, applies
// environment overrides, and validates the result.
//
// The format is chosen by extension: .toml (primary) or .yaml/.yml.
// A missing file is not an error; the defaults are returned so a fresh
// install can run with only watch paths supplied on the command line.
func Load(path string) (*Config, error) {
	return load(path, true)
}

// LoadInspect reads the configuration like Load, but does not require
// watch paths. Commands that only inspect persisted state (backups,
// audit report, status) work before any paths are configured.
func LoadInspect(path string) (*Config, error) {
	return load(path, false)
}

func load(path string, requirePaths bool) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Fall through to defaults.
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := unmarshal(path, data, cfg); err != nil {
				return nil, err
			}
		}
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		if !requirePaths && errors.Is(err, ErrNoWatchPaths) {
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

func unmarshal(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	return nil
}

// ApplyEnvOverrides applies DRIFTWATCH_* environment variables over the
// loaded configuration. Only the settings that operators commonly need to
// override per deployment are exposed.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("DRIFTWATCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DRIFTWATCH_REGISTRY_PATH"); v != "" {
		c.Registry.Path = v
	}
	if v := os.Getenv("DRIFTWATCH_BACKUP_DIR"); v != "" {
		c.Backup.Dir = v
	}
	if v := os.Getenv("DRIFTWATCH_WATCH_PATHS"); v != "" {
		c.Watch.Paths = splitList(v)
	}
	if v := os.Getenv("DRIFTWATCH_LOCK_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Registry.LockTimeoutMs = n
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, string(os.PathListSeparator))
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// WriteDefault writes a commented default configuration file in TOML format.
// Used by "driftwatch init"; refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config: %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	if err := enc.Encode(Default()); err != nil {
		return fmt.Errorf("config: encode defaults: %w", err)
	}
	return nil
}
