package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// HashAlgorithm selects the content hash used for change detection
type HashAlgorithm string

const (
	HashSHA1   HashAlgorithm = "sha1"
	HashSHA256 HashAlgorithm = "sha256"
)

// Duration is a time.Duration that unmarshals from YAML strings like "500ms"
type Duration time.Duration

// UnmarshalYAML parses a duration string via time.ParseDuration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"2s\": %w", err)
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// Environment variables overriding the configured paths
const (
	EnvSource   = "PROMIRROR_SOURCE"
	EnvDest     = "PROMIRROR_DEST"
	EnvStateDir = "PROMIRROR_STATE_DIR"
)

// Config represents the complete promirror configuration
type Config struct {
	Paths    PathsConfig    `yaml:"paths"`
	Manifest ManifestConfig `yaml:"manifest"`
	Sync     SyncConfig     `yaml:"sync"`
	Watch    WatchConfig    `yaml:"watch"`
	Log      LogConfig      `yaml:"log"`
}

// PathsConfig configures the mirrored filesystem trees
type PathsConfig struct {
	Source   string `yaml:"source"`
	Dest     string `yaml:"dest"`
	StateDir string `yaml:"state_dir"`
}

// ManifestConfig configures project-file driven file selection
type ManifestConfig struct {
	File      string   `yaml:"file"`
	Variables []string `yaml:"variables"`
	Strict    bool     `yaml:"strict"`
}

// SyncConfig configures sync behavior
type SyncConfig struct {
	Prune   bool          `yaml:"prune"`
	Hash    HashAlgorithm `yaml:"hash"`
	Workers int           `yaml:"workers"`
}

// WatchConfig configures the long-running watch mode
type WatchConfig struct {
	Debounce      Duration `yaml:"debounce"`
	StatusAddr    string   `yaml:"status_addr"`
	AuthTokenFile string   `yaml:"auth_token_file"`
}

// LogConfig configures the optional rotating log file
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Expand environment variables in string fields
	cfg.expandEnv()

	// Environment overrides take precedence over the file
	cfg.applyEnvOverrides()

	// Apply defaults
	cfg.applyDefaults()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Paths.Source = os.ExpandEnv(c.Paths.Source)
	c.Paths.Dest = os.ExpandEnv(c.Paths.Dest)
	c.Paths.StateDir = os.ExpandEnv(c.Paths.StateDir)
	c.Manifest.File = os.ExpandEnv(c.Manifest.File)
	c.Watch.StatusAddr = os.ExpandEnv(c.Watch.StatusAddr)
	c.Watch.AuthTokenFile = os.ExpandEnv(c.Watch.AuthTokenFile)
	c.Log.File = os.ExpandEnv(c.Log.File)
}

// applyEnvOverrides replaces path settings with their environment equivalents
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvSource); v != "" {
		c.Paths.Source = v
	}
	if v := os.Getenv(EnvDest); v != "" {
		c.Paths.Dest = v
	}
	if v := os.Getenv(EnvStateDir); v != "" {
		c.Paths.StateDir = v
	}
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if len(c.Manifest.Variables) == 0 {
		c.Manifest.Variables = []string{"SOURCES", "TRANSLATIONS"}
	}
	if c.Sync.Hash == "" {
		c.Sync.Hash = HashSHA1
	}
	if c.Sync.Workers == 0 {
		c.Sync.Workers = 4
	}
	if c.Watch.Debounce == 0 {
		c.Watch.Debounce = Duration(2 * time.Second)
	}
	if c.Log.File != "" {
		if c.Log.MaxSizeMB == 0 {
			c.Log.MaxSizeMB = 10
		}
		if c.Log.MaxBackups == 0 {
			c.Log.MaxBackups = 3
		}
		if c.Log.MaxAgeDays == 0 {
			c.Log.MaxAgeDays = 28
		}
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Paths.Source == "" {
		return fmt.Errorf("paths.source is required")
	}
	if c.Paths.Dest == "" {
		return fmt.Errorf("paths.dest is required")
	}
	if c.Paths.StateDir == "" {
		return fmt.Errorf("paths.state_dir is required")
	}

	// Ensure paths are absolute
	if !filepath.IsAbs(c.Paths.Source) {
		return fmt.Errorf("paths.source must be an absolute path: %s", c.Paths.Source)
	}
	if !filepath.IsAbs(c.Paths.Dest) {
		return fmt.Errorf("paths.dest must be an absolute path: %s", c.Paths.Dest)
	}
	if !filepath.IsAbs(c.Paths.StateDir) {
		return fmt.Errorf("paths.state_dir must be an absolute path: %s", c.Paths.StateDir)
	}
	if c.Paths.Source == c.Paths.Dest {
		return fmt.Errorf("paths.source and paths.dest must differ")
	}

	switch c.Sync.Hash {
	case HashSHA1, HashSHA256:
		// valid
	default:
		return fmt.Errorf("invalid sync.hash algorithm: %s (must be sha1 or sha256)", c.Sync.Hash)
	}

	if c.Sync.Workers < 1 {
		return fmt.Errorf("sync.workers must be at least 1: %d", c.Sync.Workers)
	}

	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative: %s", c.Watch.Debounce)
	}
	if c.Watch.AuthTokenFile != "" && c.Watch.StatusAddr == "" {
		return fmt.Errorf("watch.auth_token_file requires watch.status_addr to be set")
	}

	return nil
}

// ManifestPath returns the absolute path of the project manifest.
// A relative manifest.file is resolved against the source tree.
func (c *Config) ManifestPath() string {
	if c.Manifest.File == "" {
		return ""
	}
	if filepath.IsAbs(c.Manifest.File) {
		return c.Manifest.File
	}
	return filepath.Join(c.Paths.Source, c.Manifest.File)
}

// StateFilePath returns the path to the state tracking file
func (c *Config) StateFilePath() string {
	return filepath.Join(c.Paths.StateDir, "state.json")
}
