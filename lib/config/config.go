// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config is Quorum's configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	Paths    PathsConfig    `yaml:"paths"`
	Store    StoreConfig    `yaml:"store"`
	Proposal ProposalConfig `yaml:"proposal"`
	Signing  SigningConfig  `yaml:"signing"`
	Log      LogConfig      `yaml:"log"`

	// Per-environment overrides, applied after the base values.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Paths    *PathsConfig    `yaml:"paths,omitempty"`
	Store    *StoreConfig    `yaml:"store,omitempty"`
	Proposal *ProposalConfig `yaml:"proposal,omitempty"`
	Signing  *SigningConfig  `yaml:"signing,omitempty"`
	Log      *LogConfig      `yaml:"log,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for Quorum data.
	Root string `yaml:"root"`

	// State holds the proposal database.
	State string `yaml:"state"`
}

// StoreConfig selects where proposals are persisted.
type StoreConfig struct {
	// Backend is sqlite, redis, or memory. Default: sqlite.
	Backend string `yaml:"backend"`

	// SQLitePath overrides the database file. Default:
	// <paths.state>/proposals.db.
	SQLitePath string `yaml:"sqlite_path"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// RedisKeyPrefix namespaces keys. Default: quorum:
	RedisKeyPrefix string `yaml:"redis_key_prefix"`
}

// ProposalConfig configures the proposal engine.
type ProposalConfig struct {
	// DefaultTTL is how long a proposal stays open. Default: 72h.
	DefaultTTL string `yaml:"default_ttl"`

	// MaxDelegationDepth bounds policy expansion through delegated
	// permissions. Default: 4.
	MaxDelegationDepth int `yaml:"max_delegation_depth"`
}

// SigningConfig configures approvers.
type SigningConfig struct {
	// Timeout bounds one signing attempt. Default: 30s.
	Timeout string `yaml:"timeout"`

	// KeyDir is where keygen writes and approve reads ed25519 keys.
	KeyDir string `yaml:"key_dir"`

	// AgeIdentityFile holds the age identities that open sealed
	// signing keys. Empty means only unsealed keys can be loaded.
	AgeIdentityFile string `yaml:"age_identity_file"`
}

// LogConfig configures the command logger.
type LogConfig struct {
	// Level is debug, info, warn, or error. Default: info.
	Level string `yaml:"level"`

	// Format is auto (text on a terminal, JSON otherwise), text, or
	// json. Default: auto.
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given, and
// the base that a file is merged into.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "share", "quorum")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:  defaultRoot,
			State: filepath.Join(defaultRoot, "state"),
		},
		Store: StoreConfig{
			Backend:        BackendSQLite,
			RedisAddr:      "localhost:6379",
			RedisKeyPrefix: "quorum:",
		},
		Proposal: ProposalConfig{
			DefaultTTL:         "72h",
			MaxDelegationDepth: 4,
		},
		Signing: SigningConfig{
			Timeout: "30s",
			KeyDir:  filepath.Join(defaultRoot, "keys"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load loads configuration from the file named by QUORUM_CONFIG. It
// fails if the variable is unset.
func Load() (*Config, error) {
	configPath := os.Getenv("QUORUM_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("QUORUM_CONFIG environment variable not set; " +
			"set it to the path of your quorum.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path, applies the matching
// environment section, and expands variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &ConfigOverrides{
				Log: &LogConfig{Level: "info", Format: "json"},
			}
		}
	}
	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		setString(&c.Paths.Root, overrides.Paths.Root)
		setString(&c.Paths.State, overrides.Paths.State)
	}
	if overrides.Store != nil {
		setString(&c.Store.Backend, overrides.Store.Backend)
		setString(&c.Store.SQLitePath, overrides.Store.SQLitePath)
		setString(&c.Store.RedisAddr, overrides.Store.RedisAddr)
		setString(&c.Store.RedisPassword, overrides.Store.RedisPassword)
		setString(&c.Store.RedisKeyPrefix, overrides.Store.RedisKeyPrefix)
		if overrides.Store.RedisDB != 0 {
			c.Store.RedisDB = overrides.Store.RedisDB
		}
	}
	if overrides.Proposal != nil {
		setString(&c.Proposal.DefaultTTL, overrides.Proposal.DefaultTTL)
		if overrides.Proposal.MaxDelegationDepth != 0 {
			c.Proposal.MaxDelegationDepth = overrides.Proposal.MaxDelegationDepth
		}
	}
	if overrides.Signing != nil {
		setString(&c.Signing.Timeout, overrides.Signing.Timeout)
		setString(&c.Signing.KeyDir, overrides.Signing.KeyDir)
		setString(&c.Signing.AgeIdentityFile, overrides.Signing.AgeIdentityFile)
	}
	if overrides.Log != nil {
		setString(&c.Log.Level, overrides.Log.Level)
		setString(&c.Log.Format, overrides.Log.Format)
	}
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"QUORUM_ROOT": c.Paths.Root,
		"HOME":        os.Getenv("HOME"),
	}
	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["QUORUM_ROOT"] = c.Paths.Root

	c.Paths.State = expandVars(c.Paths.State, vars)
	c.Store.SQLitePath = expandVars(c.Store.SQLitePath, vars)
	c.Store.RedisAddr = expandVars(c.Store.RedisAddr, vars)
	c.Store.RedisPassword = expandVars(c.Store.RedisPassword, vars)
	c.Signing.KeyDir = expandVars(c.Signing.KeyDir, vars)
	c.Signing.AgeIdentityFile = expandVars(c.Signing.AgeIdentityFile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}, preferring vars over
// the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name := parts[1]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.Paths.State == "" {
		errs = append(errs, fmt.Errorf("paths.state is required"))
	}

	backends := []string{BackendSQLite, BackendRedis, BackendMemory}
	if !slices.Contains(backends, c.Store.Backend) {
		errs = append(errs, fmt.Errorf("store.backend must be one of: %v", backends))
	}
	if c.Store.Backend == BackendRedis && c.Store.RedisAddr == "" {
		errs = append(errs, fmt.Errorf("store.redis_addr is required for the redis backend"))
	}
	if c.Store.RedisDB < 0 {
		errs = append(errs, fmt.Errorf("store.redis_db must not be negative"))
	}

	if _, err := c.ProposalTTL(); err != nil {
		errs = append(errs, err)
	}
	if c.Proposal.MaxDelegationDepth < 1 {
		errs = append(errs, fmt.Errorf("proposal.max_delegation_depth must be at least 1"))
	}
	if _, err := c.SigningTimeout(); err != nil {
		errs = append(errs, err)
	}

	levels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(levels, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be one of: %v", levels))
	}
	formats := []string{"auto", "text", "json"}
	if !slices.Contains(formats, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of: %v", formats))
	}

	return errors.Join(errs...)
}

// ProposalTTL parses proposal.default_ttl.
func (c *Config) ProposalTTL() (time.Duration, error) {
	return parsePositiveDuration("proposal.default_ttl", c.Proposal.DefaultTTL)
}

// SigningTimeout parses signing.timeout.
func (c *Config) SigningTimeout() (time.Duration, error) {
	return parsePositiveDuration("signing.timeout", c.Signing.Timeout)
}

func parsePositiveDuration(field, value string) (time.Duration, error) {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", field, value)
	}
	return duration, nil
}

// SQLitePath returns the proposal database file.
func (c *Config) SQLitePath() string {
	if c.Store.SQLitePath != "" {
		return c.Store.SQLitePath
	}
	return filepath.Join(c.Paths.State, "proposals.db")
}

// EnsurePaths creates the configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{c.Paths.Root, c.Paths.State}
	if c.Store.Backend == BackendSQLite {
		paths = append(paths, filepath.Dir(c.SQLitePath()))
	}
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
