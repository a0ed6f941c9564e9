package config

import (
	"time"

	"modbusmgr/internal/logger"
)

// Config is the root configuration structure
type Config struct {
	Version   int             `yaml:"version"`
	Scan      ScanConfig      `yaml:"scan"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Registry  RegistryConfig  `yaml:"registry"`
	State     StateConfig     `yaml:"state"`
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   logger.Config   `yaml:"logging"`
}

// ScanConfig controls the discovery probe and its schedule
type ScanConfig struct {
	// Target is a CIDR range or address; several may be separated by commas
	Target string `yaml:"target"`
	// AutoTarget scans the default gateway when Target is empty
	AutoTarget bool `yaml:"auto_target"`
	// Ports in nmap syntax: "502" or "502,1502" or "1-1024"; "all" scans
	// every TCP port like nmap -p-
	Ports          string   `yaml:"ports"`
	Interval       Duration `yaml:"interval"`
	Timeout        Duration `yaml:"timeout"`
	BackoffCeiling Duration `yaml:"backoff_ceiling"`
	NmapPath       string   `yaml:"nmap_path,omitempty"`
	// SkipHostDiscovery probes every address without a ping sweep first
	SkipHostDiscovery bool              `yaml:"skip_host_discovery,omitempty"`
	Script            string            `yaml:"script"`
	ScriptArgs        map[string]string `yaml:"script_args,omitempty"`
}

// ReconcileConfig holds the reconciliation engine tunables
type ReconcileConfig struct {
	// MissThreshold is the number of consecutive cycles a known peripheral
	// may be absent before it is removed
	MissThreshold int `yaml:"miss_threshold"`
	// IncludeUnitID makes the unit id part of the identity instead of metadata
	IncludeUnitID bool `yaml:"include_unit_id"`
	// IgnoreMetadataKeys are excluded from update detection
	IgnoreMetadataKeys []string `yaml:"ignore_metadata_keys,omitempty"`
	// MaxConcurrentOps bounds registry calls in flight across identities
	MaxConcurrentOps int `yaml:"max_concurrent_ops"`
}

// RegistryConfig holds the remote inventory settings.
// Credentials never come from the YAML file.
type RegistryConfig struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	// ParentID and Version identify the edge device record peripherals
	// hang off; both may come from ContextFile instead
	ParentID        string   `yaml:"parent_id"`
	Version         int      `yaml:"version"`
	RequestTimeout  Duration `yaml:"request_timeout"`
	CredentialsFile string   `yaml:"credentials_file,omitempty"`
	// ContextFile is a NuvlaBox .context file holding id and version
	ContextFile string `yaml:"context_file,omitempty"`

	APIKey    string `yaml:"-"`
	APISecret string `yaml:"-"`
}

// StateConfig controls durable storage of the known-peripheral table
type StateConfig struct {
	// Path to the sqlite database; empty keeps state in memory only
	Path string `yaml:"path"`
}

// HTTPConfig controls the status API
type HTTPConfig struct {
	// Addr to listen on; empty disables the API
	Addr string `yaml:"addr"`
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
