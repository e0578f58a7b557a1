package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server    ServerSection    `toml:"server"`
	Protocol  ProtocolSection  `toml:"protocol"`
	Heartbeat HeartbeatSection `toml:"heartbeat"`
}

type ServerSection struct {
	HTTPPort     int    `toml:"http_port" envconfig:"PORTAL_HTTP_PORT"`
	DatabasePath string `toml:"database_path" envconfig:"PORTAL_DATABASE_PATH"`
	SystemGroup  string `toml:"system_group" envconfig:"PORTAL_SYSTEM_GROUP"`
}

type ProtocolSection struct {
	PageSize              int `toml:"page_size" envconfig:"PORTAL_PAGE_SIZE"`
	MaxFrameBytes         int `toml:"max_frame_bytes" envconfig:"PORTAL_MAX_FRAME_BYTES"`
	StorageTimeoutSeconds int `toml:"storage_timeout_seconds" envconfig:"PORTAL_STORAGE_TIMEOUT_SECONDS"`
}

type HeartbeatSection struct {
	IntervalSeconds int `toml:"interval_seconds" envconfig:"PORTAL_HEARTBEAT_INTERVAL_SECONDS"`
	TimeoutSeconds  int `toml:"timeout_seconds" envconfig:"PORTAL_HEARTBEAT_TIMEOUT_SECONDS"`
}

// DefaultTOMLConfig returns the default configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			HTTPPort:     8090,
			DatabasePath: "~/.portal/portal.db",
			SystemGroup:  "System",
		},
		Protocol: ProtocolSection{
			PageSize:              25,
			MaxFrameBytes:         1 << 20,
			StorageTimeoutSeconds: 5,
		},
		Heartbeat: HeartbeatSection{
			IntervalSeconds: 30,
			TimeoutSeconds:  10,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not
// found, then applies PORTAL_* environment overrides on top.
func LoadConfig(path string) (TOMLConfig, error) {
	// Expand ~ in path
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return TOMLConfig{}, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	config := DefaultTOMLConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		// File doesn't exist, write defaults so the operator has a
		// template to edit. A write failure is not fatal.
		if err := writeDefaultConfig(path, config); err == nil {
			debugLog.Printf("wrote default config to %s", path)
		}
	} else {
		if _, err := toml.DecodeFile(path, &config); err != nil {
			return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(&config); err != nil {
		return TOMLConfig{}, err
	}

	return config, nil
}

// applyEnvOverrides layers PORTAL_* environment variables over the file
// values so containerized deployments can tune without a config volume.
func applyEnvOverrides(config *TOMLConfig) error {
	for _, section := range []any{&config.Server, &config.Protocol, &config.Heartbeat} {
		if err := envconfig.Process("", section); err != nil {
			return fmt.Errorf("failed to apply environment overrides: %w", err)
		}
	}
	return nil
}

// writeDefaultConfig writes the default config to a file
func writeDefaultConfig(path string, config TOMLConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# Portal Messaging Server Configuration
# This file was auto-generated with default values
# Edit as needed and restart the server for changes to take effect

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ServerConfig is the runtime configuration consumed by the server.
type ServerConfig struct {
	HTTPPort          int
	DatabasePath      string
	SystemGroup       string
	PageSize          int
	MaxFrameBytes     int
	StorageTimeout    time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

// DefaultConfig returns the runtime defaults.
func DefaultConfig() ServerConfig {
	defaults := DefaultTOMLConfig()
	return defaults.ToServerConfig()
}

// ToServerConfig converts TOMLConfig to ServerConfig
func (c *TOMLConfig) ToServerConfig() ServerConfig {
	cfg := ServerConfig{
		HTTPPort:          8090,
		DatabasePath:      "~/.portal/portal.db",
		SystemGroup:       "System",
		PageSize:          25,
		MaxFrameBytes:     1 << 20,
		StorageTimeout:    5 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  10 * time.Second,
	}

	if c.Server.HTTPPort != 0 {
		cfg.HTTPPort = c.Server.HTTPPort
	}
	if strings.TrimSpace(c.Server.DatabasePath) != "" {
		cfg.DatabasePath = c.Server.DatabasePath
	}
	if strings.TrimSpace(c.Server.SystemGroup) != "" {
		cfg.SystemGroup = c.Server.SystemGroup
	}
	if c.Protocol.PageSize > 0 {
		cfg.PageSize = c.Protocol.PageSize
	}
	if c.Protocol.MaxFrameBytes > 0 {
		cfg.MaxFrameBytes = c.Protocol.MaxFrameBytes
	}
	if c.Protocol.StorageTimeoutSeconds > 0 {
		cfg.StorageTimeout = time.Duration(c.Protocol.StorageTimeoutSeconds) * time.Second
	}
	if c.Heartbeat.IntervalSeconds > 0 {
		cfg.HeartbeatInterval = time.Duration(c.Heartbeat.IntervalSeconds) * time.Second
	}
	if c.Heartbeat.TimeoutSeconds > 0 {
		cfg.HeartbeatTimeout = time.Duration(c.Heartbeat.TimeoutSeconds) * time.Second
	}

	return cfg
}

// ExpandPath expands a leading ~/ to the user home directory.
func ExpandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, path[2:]), nil
	}
	return path, nil
}
