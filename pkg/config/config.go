// Package config loads the patchgate YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/patchgate/pkg/preflight"
	"github.com/entrhq/patchgate/pkg/security/allowlist"
	"github.com/entrhq/patchgate/pkg/workspace"
)

// DefaultFileName is looked up in the repository root when no path is given.
const DefaultFileName = ".patchgate.yaml"

// Config represents the complete pipeline configuration
type Config struct {
	// Repository the pipeline provisions workspaces from
	RepoRoot string `yaml:"repo_root" json:"repo_root"`

	// BranchPrefix names generated branches: <prefix>-dryrun-<timestamp>-<rand>
	BranchPrefix string `yaml:"branch_prefix" json:"branch_prefix"`

	Workspace workspace.Config `yaml:"workspace" json:"workspace"`
	Allowlist AllowlistConfig  `yaml:"allowlist" json:"allowlist"`
	Preflight preflight.Config `yaml:"preflight" json:"preflight"`
	Git       GitConfig        `yaml:"git" json:"git"`
	Audit     AuditConfig      `yaml:"audit" json:"audit"`
	Artifacts ArtifactConfig   `yaml:"artifacts" json:"artifacts"`
	Logging   LoggingConfig    `yaml:"logging" json:"logging"`
	Discovery DiscoveryConfig  `yaml:"discovery" json:"discovery"`
}

// AllowlistConfig lists the path patterns patches may touch. Empty allows
// everything outside the static deny rules.
type AllowlistConfig struct {
	Patterns []string `yaml:"patterns" json:"patterns"`
}

// GitConfig defines commit and push behavior for apply
type GitConfig struct {
	Remote        string        `yaml:"remote" json:"remote"`
	Push          bool          `yaml:"push" json:"push"`
	CommitMessage string        `yaml:"commit_message" json:"commit_message"`
	AuthorName    string        `yaml:"author_name" json:"author_name"`
	AuthorEmail   string        `yaml:"author_email" json:"author_email"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
}

// AuditConfig selects audit sinks.
type AuditConfig struct {
	Log   bool        `yaml:"log" json:"log"`
	File  string      `yaml:"file" json:"file"`
	Redis RedisConfig `yaml:"redis" json:"redis"`
}

// RedisConfig enables the pub/sub sink when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	Channel  string `yaml:"channel" json:"channel"`
}

// ArtifactConfig defines artifact generation
type ArtifactConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	OutputDir string `yaml:"output_dir" json:"output_dir"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	// Verbosity controls console output: quiet, normal, verbose, debug
	Verbosity string `yaml:"verbosity" json:"verbosity"`
	// Dir holds session log files. Defaults to ~/.patchgate/logs.
	Dir string `yaml:"dir" json:"dir"`
}

// ScannerConfig describes an external analyzer used by discovery.
type ScannerConfig struct {
	Name    string   `yaml:"name" json:"name"`
	Command []string `yaml:"command" json:"command"`
	Rule    string   `yaml:"rule" json:"rule"`
}

// DiscoveryConfig configures the read-only scan path.
type DiscoveryConfig struct {
	Markers  bool            `yaml:"markers" json:"markers"`
	Scanners []ScannerConfig `yaml:"scanners" json:"scanners"`
	Timeout  time.Duration   `yaml:"timeout" json:"timeout"`
	Debounce time.Duration   `yaml:"debounce" json:"debounce"`
}

// DefaultConfig returns a default configuration suitable for most repositories
func DefaultConfig() *Config {
	return &Config{
		RepoRoot:     ".",
		BranchPrefix: "patchgate",
		Workspace:    workspace.DefaultConfig(),
		Preflight:    preflight.DefaultConfig(),
		Git: GitConfig{
			Remote:        "origin",
			Push:          true,
			CommitMessage: "chore: apply automated patch to {branch}",
			AuthorName:    "patchgate[bot]",
			AuthorEmail:   "patchgate[bot]@users.noreply.github.com",
			Timeout:       2 * time.Minute,
		},
		Audit: AuditConfig{
			Log: true,
		},
		Artifacts: ArtifactConfig{
			Enabled:   false,
			OutputDir: ".patchgate/artifacts",
		},
		Logging: LoggingConfig{
			Verbosity: "normal",
		},
		Discovery: DiscoveryConfig{
			Markers:  true,
			Timeout:  5 * time.Minute,
			Debounce: 300 * time.Millisecond,
		},
	}
}

// Load reads path on top of DefaultConfig and validates the result. A
// relative repo_root is resolved against the directory holding the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if !filepath.IsAbs(cfg.RepoRoot) {
		cfg.RepoRoot = filepath.Join(filepath.Dir(path), cfg.RepoRoot)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate validates the configuration and fills derived defaults
func (c *Config) Validate() error {
	if c.RepoRoot == "" {
		return fmt.Errorf("repo_root is required")
	}
	if c.BranchPrefix == "" {
		return fmt.Errorf("branch_prefix is required")
	}

	if err := c.Workspace.Validate(); err != nil {
		return err
	}
	if err := c.Preflight.Validate(); err != nil {
		return err
	}
	if _, err := allowlist.New(c.Allowlist.Patterns); err != nil {
		return err
	}

	if c.Git.Remote == "" {
		c.Git.Remote = "origin"
	}
	if c.Git.Timeout < 0 {
		return fmt.Errorf("git timeout cannot be negative")
	}
	if c.Git.AuthorName == "" || c.Git.AuthorEmail == "" {
		return fmt.Errorf("git author_name and author_email are required")
	}

	if c.Artifacts.Enabled && c.Artifacts.OutputDir == "" {
		return fmt.Errorf("artifacts output_dir is required when artifacts are enabled")
	}

	if c.Logging.Verbosity == "" {
		c.Logging.Verbosity = "normal"
	}
	validLevels := map[string]bool{
		"quiet":   true,
		"normal":  true,
		"verbose": true,
		"debug":   true,
	}
	if !validLevels[c.Logging.Verbosity] {
		return fmt.Errorf("invalid logging verbosity: %s (must be 'quiet', 'normal', 'verbose', or 'debug')", c.Logging.Verbosity)
	}

	for i, s := range c.Discovery.Scanners {
		if s.Name == "" {
			return fmt.Errorf("discovery scanner %d has no name", i+1)
		}
		if len(s.Command) == 0 {
			return fmt.Errorf("discovery scanner %s has no command", s.Name)
		}
	}
	return nil
}

// Guard builds the allowlist guard for this configuration.
func (c *Config) Guard() (*allowlist.Guard, error) {
	return allowlist.New(c.Allowlist.Patterns)
}
