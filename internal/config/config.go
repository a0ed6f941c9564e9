// Package config provides configuration management for the Modbus
// peripheral manager.
//
// Config file locations (priority order):
//  1. --config flag
//  2. $MODBUSMGR_CONFIG
//  3. ./modbusmgr.yaml
//  4. ~/.config/modbusmgr/config.yaml
//  5. /etc/modbusmgr/config.yaml
//
// Registry credentials are never read from the YAML file. They come from
// MODBUSMGR_API_KEY / MODBUSMGR_API_SECRET or from a credentials file in the
// NuvlaBox activation format ({"api-key": ..., "secret-key": ...}).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"modbusmgr/internal/logger"
)

// Environment overrides
const (
	EnvAPIKey           = "MODBUSMGR_API_KEY"
	EnvAPISecret        = "MODBUSMGR_API_SECRET"
	EnvEndpoint         = "MODBUSMGR_ENDPOINT"
	EnvEndpointInsecure = "MODBUSMGR_ENDPOINT_INSECURE"
	EnvTarget           = "MODBUSMGR_TARGET"
)

// Defaults
const (
	DefaultInterval         = 90 * time.Second
	DefaultTimeout          = 10 * time.Minute
	DefaultBackoffCeiling   = 30 * time.Minute
	DefaultRequestTimeout   = 20 * time.Second
	DefaultMissThreshold    = 3
	DefaultMaxConcurrentOps = 4
	DefaultPorts            = "502"
	DefaultScript           = "modbus-discover"
	DefaultEndpoint         = "https://nuvla.io"
)

// AllPorts as scan.ports scans every TCP port
const AllPorts = "all"

var (
	ErrInvalidTarget      = errors.New("invalid scan target")
	ErrMissingCredentials = errors.New("missing registry credentials")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

// Load finds and loads the config file, or returns defaults if none found.
// An explicit path bypasses the search.
func Load(explicitPath string) (*Config, string, error) {
	path := explicitPath
	if path == "" {
		path = FindConfigPath()
	}

	if path == "" {
		cfg := DefaultConfig()
		if err := cfg.applyEnv(); err != nil {
			return nil, "", err
		}
		return cfg, "", nil
	}

	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{Logging: logger.DefaultConfig()}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, path, err
	}

	return cfg, path, nil
}

// Save writes config to the specified path
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns sensible defaults for a new installation
func DefaultConfig() *Config {
	cfg := &Config{Logging: logger.DefaultConfig()}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Scan.Ports == "" {
		c.Scan.Ports = DefaultPorts
	}
	if c.Scan.Interval == 0 {
		c.Scan.Interval = Duration(DefaultInterval)
	}
	if c.Scan.Timeout == 0 {
		c.Scan.Timeout = Duration(DefaultTimeout)
	}
	if c.Scan.BackoffCeiling == 0 {
		c.Scan.BackoffCeiling = Duration(DefaultBackoffCeiling)
	}
	if c.Scan.Script == "" {
		c.Scan.Script = DefaultScript
	}
	if c.Scan.ScriptArgs == nil {
		c.Scan.ScriptArgs = map[string]string{c.Scan.Script + ".aggressive": "true"}
	}
	if c.Reconcile.MissThreshold == 0 {
		c.Reconcile.MissThreshold = DefaultMissThreshold
	}
	if c.Reconcile.MaxConcurrentOps == 0 {
		c.Reconcile.MaxConcurrentOps = DefaultMaxConcurrentOps
	}
	if c.Registry.Endpoint == "" {
		c.Registry.Endpoint = DefaultEndpoint
	}
	if c.Registry.RequestTimeout == 0 {
		c.Registry.RequestTimeout = Duration(DefaultRequestTimeout)
	}
	c.Registry.Endpoint = NormalizeEndpoint(c.Registry.Endpoint)
}

// applyEnv applies environment overrides and resolves credentials
func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvEndpoint); v != "" {
		c.Registry.Endpoint = NormalizeEndpoint(v)
	}
	if v := os.Getenv(EnvEndpointInsecure); v != "" {
		c.Registry.Insecure = !strings.EqualFold(v, "false")
	}
	if v := os.Getenv(EnvTarget); v != "" {
		c.Scan.Target = v
	}

	if c.Registry.CredentialsFile != "" {
		if err := c.loadCredentialsFile(c.Registry.CredentialsFile); err != nil {
			return err
		}
	}

	if c.Registry.ContextFile != "" {
		if err := c.loadContextFile(c.Registry.ContextFile); err != nil {
			return err
		}
	}

	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Registry.APIKey = v
	}
	if v := os.Getenv(EnvAPISecret); v != "" {
		c.Registry.APISecret = v
	}
	return nil
}

func (c *Config) loadCredentialsFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read credentials file: %w", err)
	}

	var creds struct {
		APIKey    string `json:"api-key"`
		SecretKey string `json:"secret-key"`
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		return fmt.Errorf("parse credentials file %s: %w", path, err)
	}

	c.Registry.APIKey = creds.APIKey
	c.Registry.APISecret = creds.SecretKey
	return nil
}

// loadContextFile reads the parent record id and version from a NuvlaBox
// context file. Values set in the YAML file take precedence.
func (c *Config) loadContextFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read context file: %w", err)
	}

	var nbContext struct {
		ID      string `json:"id"`
		Version int    `json:"version"`
	}
	if err := json.Unmarshal(data, &nbContext); err != nil {
		return fmt.Errorf("parse context file %s: %w", path, err)
	}

	if c.Registry.ParentID == "" {
		c.Registry.ParentID = nbContext.ID
	}
	if c.Registry.Version == 0 {
		c.Registry.Version = nbContext.Version
	}
	return nil
}

// NormalizeEndpoint adds a missing https scheme and strips trailing slashes
func NormalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return ""
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	return strings.TrimRight(endpoint, "/")
}

// Targets splits the scan target into individual ranges
func (c *Config) Targets() []string {
	fields := strings.FieldsFunc(c.Scan.Target, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	return fields
}

// Validate checks for configuration errors that would keep every scan
// cycle from succeeding. These are fatal at startup.
func (c *Config) Validate() error {
	if err := c.ValidateScan(); err != nil {
		return err
	}
	if c.Reconcile.MissThreshold < 1 {
		return fmt.Errorf("%w: miss threshold must be at least 1", ErrInvalidConfig)
	}
	if c.Reconcile.MaxConcurrentOps < 1 {
		return fmt.Errorf("%w: max concurrent ops must be at least 1", ErrInvalidConfig)
	}

	if c.Registry.Endpoint == "" {
		return fmt.Errorf("%w: registry endpoint is empty", ErrInvalidConfig)
	}
	if c.Registry.ParentID == "" {
		return fmt.Errorf("%w: registry parent_id is empty, set it or registry.context_file", ErrInvalidConfig)
	}
	if c.Registry.Version < 0 {
		return fmt.Errorf("%w: registry version must not be negative", ErrInvalidConfig)
	}
	if c.Registry.APIKey == "" || c.Registry.APISecret == "" {
		return fmt.Errorf("%w: set %s and %s or registry.credentials_file",
			ErrMissingCredentials, EnvAPIKey, EnvAPISecret)
	}

	return nil
}

// ValidateScan checks only the probe settings, for one-shot scans that
// never talk to the registry
func (c *Config) ValidateScan() error {
	targets := c.Targets()
	if len(targets) == 0 && !c.Scan.AutoTarget {
		return fmt.Errorf("%w: no target configured and auto_target disabled", ErrInvalidTarget)
	}
	for _, t := range targets {
		if err := validateTarget(t); err != nil {
			return err
		}
	}

	if err := validatePorts(c.Scan.Ports); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Scan.Interval.Duration() <= 0 {
		return fmt.Errorf("%w: scan interval must be positive", ErrInvalidConfig)
	}
	if c.Scan.Timeout.Duration() <= 0 {
		return fmt.Errorf("%w: scan timeout must be positive", ErrInvalidConfig)
	}
	if c.Scan.BackoffCeiling.Duration() < c.Scan.Interval.Duration() {
		return fmt.Errorf("%w: backoff ceiling %s is below scan interval %s",
			ErrInvalidConfig, c.Scan.BackoffCeiling.Duration(), c.Scan.Interval.Duration())
	}
	return nil
}

// validateTarget accepts a CIDR range or a single address
func validateTarget(target string) error {
	if strings.Contains(target, "/") {
		if _, _, err := net.ParseCIDR(target); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidTarget, target, err)
		}
		return nil
	}
	if _, err := netip.ParseAddr(target); err != nil {
		return fmt.Errorf("%w: %q is neither a CIDR range nor an address", ErrInvalidTarget, target)
	}
	return nil
}

// validatePorts checks nmap port syntax.
// Supported: "80,443,8080" or "1-1000" or "22,80-443,8080"
func validatePorts(portRange string) error {
	if strings.TrimSpace(portRange) == "" {
		return fmt.Errorf("empty port list")
	}
	if portRange == AllPorts {
		return nil
	}
	for _, part := range strings.Split(portRange, ",") {
		part = strings.TrimSpace(part)
		if strings.Contains(part, "-") {
			rangeParts := strings.Split(part, "-")
			if len(rangeParts) != 2 {
				return fmt.Errorf("invalid port range: %s", part)
			}
			start, err := strconv.Atoi(strings.TrimSpace(rangeParts[0]))
			if err != nil || start < 1 || start > 65535 {
				return fmt.Errorf("invalid port number: %s", rangeParts[0])
			}
			end, err := strconv.Atoi(strings.TrimSpace(rangeParts[1]))
			if err != nil || end < 1 || end > 65535 || end < start {
				return fmt.Errorf("invalid port number: %s", rangeParts[1])
			}
			continue
		}
		port, err := strconv.Atoi(part)
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("invalid port number: %s", part)
		}
	}
	return nil
}

// Summary returns a human-readable config summary
func (c *Config) Summary() string {
	target := c.Scan.Target
	if target == "" && c.Scan.AutoTarget {
		target = "<default gateway>"
	}
	state := c.State.Path
	if state == "" {
		state = "<memory>"
	}
	return fmt.Sprintf("target=%s ports=%s interval=%s timeout=%s miss_threshold=%d registry=%s parent=%s state=%s",
		target, c.Scan.Ports, c.Scan.Interval.Duration(), c.Scan.Timeout.Duration(),
		c.Reconcile.MissThreshold, c.Registry.Endpoint, c.Registry.ParentID, state)
}
