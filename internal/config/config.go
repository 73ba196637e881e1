package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all node configuration loaded from config.yaml.
type Config struct {
	// Network is the network type (live, beta or dev).
	Network NetworkType `yaml:"network"`

	// Node settings.
	Node NodeConfig `yaml:"node"`

	// Storage settings.
	Storage StorageConfig `yaml:"storage"`

	// Logging settings.
	Logging LoggingConfig `yaml:"logging"`

	// Websocket notification server.
	Websocket WebsocketConfig `yaml:"websocket"`
}

// NodeConfig holds peer-to-peer settings.
type NodeConfig struct {
	// ListenAddr is the TCP address the node accepts peers on. An empty port
	// selects the network default peering port.
	ListenAddr string `yaml:"listen_addr"`

	// PreconfiguredPeers are contacted at startup.
	PreconfiguredPeers []string `yaml:"preconfigured_peers"`

	// BootstrapConnectionsMax bounds concurrent bootstrap-serving
	// connections.
	BootstrapConnectionsMax int `yaml:"bootstrap_connections_max"`

	// BandwidthLimit is the outbound budget in bytes per second; zero
	// disables limiting.
	BandwidthLimit int `yaml:"bandwidth_limit"`

	// BandwidthBurstRatio scales the limiter bucket size.
	BandwidthBurstRatio float64 `yaml:"bandwidth_burst_ratio"`
}

// StorageConfig holds ledger storage settings.
type StorageConfig struct {
	// DataDir is the directory holding the ledger database and node files.
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// WebsocketConfig holds the confirmation notification server settings.
type WebsocketConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// DefaultConfig returns the default node configuration.
func DefaultConfig() *Config {
	return &Config{
		Network: NetworkLive,
		Node: NodeConfig{
			ListenAddr:              "[::]:7071",
			BootstrapConnectionsMax: 64,
			BandwidthLimit:          10 * 1024 * 1024,
			BandwidthBurstRatio:     3.0,
		},
		Storage: StorageConfig{
			DataDir: "~/.gobanano",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Websocket: WebsocketConfig{
			Enabled: false,
			Listen:  "127.0.0.1:7074",
		},
	}
}

// ConfigPath returns the config file location for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(ExpandPath(dataDir), "config.yaml")
}

// LoadConfig loads config.yaml from the data directory, writing the default
// file first if none exists.
func LoadConfig(dataDir string) (*Config, error) {
	path := ConfigPath(dataDir)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir
		if err := SaveConfig(dataDir, cfg); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = dataDir
	}
	return cfg, nil
}

// SaveConfig writes the configuration to config.yaml in the data directory.
func SaveConfig(dataDir string, cfg *Config) error {
	dir := ExpandPath(dataDir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0600)
}

// ExpandPath expands ~ to the user's home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
