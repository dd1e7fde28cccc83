// Package config loads and validates cluster and engine configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultBasePort is the port of engine rank 0; rank i listens on
	// DefaultBasePort + i.
	DefaultBasePort = 9150
	// DefaultEngines is the engine count used when none is configured.
	DefaultEngines = 4
)

// ClusterConfig describes a local engine cluster managed by dacluster.
type ClusterConfig struct {
	// Engines is the number of engine processes, one per rank.
	Engines int `yaml:"engines"`
	// Host is the interface engines bind to.
	Host string `yaml:"host"`
	// BasePort is the port of rank 0; rank i listens on BasePort + i.
	BasePort int `yaml:"base_port"`
	// EngineBinary is the daengine executable to spawn. Resolved via PATH
	// when not absolute.
	EngineBinary string `yaml:"engine_binary"`
	// StateDir holds the registry file and per-rank data directories.
	StateDir string `yaml:"state_dir"`
	// LogLevel is passed through to the engines (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
	// StartupTimeoutSeconds bounds the wait for all engines to report healthy.
	StartupTimeoutSeconds int `yaml:"startup_timeout_seconds"`
	// ShutdownTimeoutSeconds bounds the graceful stop before SIGKILL.
	ShutdownTimeoutSeconds int `yaml:"shutdown_timeout_seconds"`
	// OTELEndpoint enables trace export when non-empty.
	OTELEndpoint string `yaml:"otel_endpoint"`
}

// DefaultClusterConfig returns the configuration used when no file is given.
func DefaultClusterConfig() *ClusterConfig {
	stateDir := os.Getenv("DACLUSTER_STATE_DIR")
	if stateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		stateDir = filepath.Join(home, ".dacluster")
	}
	return &ClusterConfig{
		Engines:                DefaultEngines,
		Host:                   "127.0.0.1",
		BasePort:               DefaultBasePort,
		EngineBinary:           "daengine",
		StateDir:               stateDir,
		LogLevel:               "info",
		StartupTimeoutSeconds:  30,
		ShutdownTimeoutSeconds: 10,
	}
}

// LoadClusterConfig reads a YAML cluster config, applying defaults for any
// field the file leaves unset.
func LoadClusterConfig(path string) (*ClusterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultClusterConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the cluster cannot run with.
func (c *ClusterConfig) Validate() error {
	if c.Engines < 1 {
		return fmt.Errorf("engines must be at least 1, got %d", c.Engines)
	}
	if c.BasePort < 1 || c.BasePort+c.Engines-1 > 65535 {
		return fmt.Errorf("port range [%d, %d] is out of bounds", c.BasePort, c.BasePort+c.Engines-1)
	}
	if c.Host == "" {
		return fmt.Errorf("host must not be empty")
	}
	if c.EngineBinary == "" {
		return fmt.Errorf("engine_binary must not be empty")
	}
	if c.StateDir == "" {
		return fmt.Errorf("state_dir must not be empty")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	if c.StartupTimeoutSeconds < 1 {
		return fmt.Errorf("startup_timeout_seconds must be positive")
	}
	if c.ShutdownTimeoutSeconds < 1 {
		return fmt.Errorf("shutdown_timeout_seconds must be positive")
	}
	return nil
}

// EngineAddr returns the host:port an engine rank listens on.
func (c *ClusterConfig) EngineAddr(rank int) string {
	return fmt.Sprintf("%s:%d", c.Host, c.BasePort+rank)
}

// EngineAddrs returns the addresses of all configured engines in rank order.
func (c *ClusterConfig) EngineAddrs() []string {
	addrs := make([]string, c.Engines)
	for rank := range addrs {
		addrs[rank] = c.EngineAddr(rank)
	}
	return addrs
}

// EngineDataDir returns the per-rank directory for .dnpy shard files.
func (c *ClusterConfig) EngineDataDir(rank int) string {
	return filepath.Join(c.StateDir, fmt.Sprintf("engine-%d", rank))
}

// RegistryPath returns the location of the cluster registry file.
func (c *ClusterConfig) RegistryPath() string {
	return filepath.Join(c.StateDir, "registry.json")
}
