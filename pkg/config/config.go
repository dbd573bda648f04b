// Package config loads orchestrator configuration from an optional
// netman.yaml plus the environment. Paths are made absolute once at load
// time so no later code resolves against the working directory.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds process-wide settings.
type Config struct {
	// DataRoot anchors artifact storage, the job database, and topology
	// snapshots. Everything the orchestrator writes lives under it.
	DataRoot string `mapstructure:"data_root"`

	// EncryptionKeyPath is the secretbox key file. Defaults to
	// <data_root>/.encryption_key.
	EncryptionKeyPath string `mapstructure:"encryption_key_path"`

	// InventoryPath is the read-only device inventory YAML.
	InventoryPath string `mapstructure:"inventory_path"`

	// JumphostConfigPath is the jumphost JSON config file.
	JumphostConfigPath string `mapstructure:"jumphost_config_path"`

	ConnectTimeoutS   int `mapstructure:"ssh_connect_timeout_s"`
	ReadTimeoutS      int `mapstructure:"ssh_read_timeout_s"`
	ProgressBusBuffer int `mapstructure:"progress_bus_buffer"`

	LogLevel string `mapstructure:"log_level"`
}

// ConnectTimeout returns the session establishment timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutS) * time.Second
}

// ReadTimeout returns the default command read timeout.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutS) * time.Second
}

// Load reads netman.yaml (if present in dir, "." by default) and the
// environment, applies defaults, and resolves all paths to absolute.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("netman")
	v.SetConfigType("yaml")
	if dir == "" {
		dir = "."
	}
	v.AddConfigPath(dir)

	v.SetDefault("data_root", "data")
	v.SetDefault("inventory_path", "devices.yaml")
	v.SetDefault("ssh_connect_timeout_s", 10)
	v.SetDefault("ssh_read_timeout_s", 60)
	v.SetDefault("progress_bus_buffer", 256)
	v.SetDefault("log_level", "info")

	v.BindEnv("data_root", "DATA_ROOT")
	v.BindEnv("encryption_key_path", "ENCRYPTION_KEY_PATH")
	v.BindEnv("inventory_path", "INVENTORY_PATH")
	v.BindEnv("jumphost_config_path", "JUMPHOST_CONFIG_PATH")
	v.BindEnv("ssh_connect_timeout_s", "SSH_CONNECT_TIMEOUT_S")
	v.BindEnv("ssh_read_timeout_s", "SSH_READ_TIMEOUT_S")
	v.BindEnv("progress_bus_buffer", "PROGRESS_BUS_BUFFER")
	v.BindEnv("log_level", "LOG_LEVEL")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	var err error
	if cfg.DataRoot, err = filepath.Abs(cfg.DataRoot); err != nil {
		return nil, fmt.Errorf("resolving data root: %w", err)
	}
	if cfg.EncryptionKeyPath == "" {
		cfg.EncryptionKeyPath = filepath.Join(cfg.DataRoot, ".encryption_key")
	} else if cfg.EncryptionKeyPath, err = filepath.Abs(cfg.EncryptionKeyPath); err != nil {
		return nil, fmt.Errorf("resolving key path: %w", err)
	}
	if cfg.JumphostConfigPath == "" {
		cfg.JumphostConfigPath = filepath.Join(cfg.DataRoot, "jumphost.json")
	} else if cfg.JumphostConfigPath, err = filepath.Abs(cfg.JumphostConfigPath); err != nil {
		return nil, fmt.Errorf("resolving jumphost config path: %w", err)
	}
	if cfg.InventoryPath, err = filepath.Abs(cfg.InventoryPath); err != nil {
		return nil, fmt.Errorf("resolving inventory path: %w", err)
	}

	if cfg.ConnectTimeoutS <= 0 {
		cfg.ConnectTimeoutS = 10
	}
	if cfg.ReadTimeoutS <= 0 {
		cfg.ReadTimeoutS = 60
	}
	if cfg.ProgressBusBuffer <= 0 {
		cfg.ProgressBusBuffer = 256
	}

	return cfg, nil
}
