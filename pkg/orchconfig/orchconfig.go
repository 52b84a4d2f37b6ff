// Package orchconfig is the daemon configuration layer: each orchestrator
// binary reads one YAML file describing which store to connect to, which
// tables it owns, and whether warm-restart is enabled, grounded on
// other_examples/...dittofs/pkg/config/config.go's Config/Load/ApplyDefaults
// shape (YAML-tagged struct, defaults layered in after unmarshal, explicit
// Validate step) but built directly on gopkg.in/yaml.v3 rather than viper —
// these daemons take a single config file and no environment-variable layer.
package orchconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// StoreConfig points a daemon at its backing Redis-compatible store.
type StoreConfig struct {
	Address string `yaml:"address"`
}

// LoggingConfig controls logrus setup, mirroring the ambient logging
// section every daemon carries regardless of which tables it owns.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	JSON   bool   `yaml:"json"`
	Output string `yaml:"output"`
}

// WarmRestartConfig controls whether a daemon participates in warm-restart
// reconciliation, and how long it waits before giving up on a stalled
// reconcile.
type WarmRestartConfig struct {
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`
}

// FgNhgConfig holds Fine-Grained Next-Hop-Group engine tuning.
type FgNhgConfig struct {
	WarmRestartBucketPersist bool `yaml:"warm_restart_bucket_persist"`
}

// NhgConfig holds Next-Hop-Group orchestrator capacity limits, mirroring
// the driver-reported MAX_ECMP_GROUPS/MAX_ECMP_GROUP_SIZE switch attributes.
type NhgConfig struct {
	MaxECMPGroups    int `yaml:"max_ecmp_groups"`
	MaxECMPGroupSize int `yaml:"max_ecmp_group_size"`
}

// FpmConfig configures the routing daemon's FPM Unix socket endpoint.
type FpmConfig struct {
	SocketPath string `yaml:"socket_path"`
}

// VlanConfig holds vlanmgr tuning: the single kernel bridge device every
// VLAN netdev is created under.
type VlanConfig struct {
	Bridge string `yaml:"bridge"`
}

// Config is the full daemon configuration: every section is present in
// every daemon's file, since the ambient stack (logging, store, warm
// restart) is shared regardless of which managers a given binary runs.
type Config struct {
	Daemon      string            `yaml:"daemon"`
	Logging     LoggingConfig     `yaml:"logging"`
	Store       StoreConfig       `yaml:"store"`
	WarmRestart WarmRestartConfig `yaml:"warm_restart"`
	FgNhg       FgNhgConfig       `yaml:"fg_nhg"`
	Nhg         NhgConfig         `yaml:"nhg"`
	Fpm         FpmConfig         `yaml:"fpm"`
	Vlan        VlanConfig        `yaml:"vlan"`
}

// ApplyDefaults fills in zero-valued fields with the switch's standard
// operating defaults, so a minimal config file (just "daemon:" and
// "store:") is enough to run.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}
	if cfg.Store.Address == "" {
		cfg.Store.Address = "localhost:6379"
	}
	if cfg.WarmRestart.Timeout == 0 {
		cfg.WarmRestart.Timeout = 30 * time.Second
	}
	if cfg.Nhg.MaxECMPGroupSize == 0 {
		cfg.Nhg.MaxECMPGroupSize = 32
	}
	if cfg.Fpm.SocketPath == "" {
		cfg.Fpm.SocketPath = "/var/run/fpm.sock"
	}
	if cfg.Vlan.Bridge == "" {
		cfg.Vlan.Bridge = "Bridge"
	}
}

// Validate rejects configurations that would leave a daemon unable to
// start: every daemon needs a name (used as its warm-restart identity and
// log field) and a store address.
func Validate(cfg *Config) error {
	if cfg.Daemon == "" {
		return fmt.Errorf("orchconfig: daemon name is required")
	}
	if cfg.Store.Address == "" {
		return fmt.Errorf("orchconfig: store.address is required")
	}
	if cfg.Nhg.MaxECMPGroupSize < 0 {
		return fmt.Errorf("orchconfig: nhg.max_ecmp_group_size must be non-negative")
	}
	return nil
}

// Load reads, defaults, and validates a daemon config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("orchconfig: reading %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("orchconfig: parsing %s: %w", path, err)
	}
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
