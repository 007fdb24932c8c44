// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads annulus settings from defaults, an optional config
// file, ANNULUS_ environment variables and bound command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Thermoquad/annulus/pkg/ycbt"
)

// EnvPrefix is the environment variable prefix
const EnvPrefix = "ANNULUS"

// LinkConfig selects and configures the transport
type LinkConfig struct {
	BLE         string `mapstructure:"ble"`
	Port        string `mapstructure:"port"`
	Baud        int    `mapstructure:"baud"`
	URL         string `mapstructure:"url"`
	Username    string `mapstructure:"username"`
	NoSSLVerify bool   `mapstructure:"noSSLVerify"`
	Loopback    bool   `mapstructure:"loopback"`
	MTU         int    `mapstructure:"mtu"`
}

// ProtocolConfig tunes the send queue and receive path
type ProtocolConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	SettleDelay       time.Duration `mapstructure:"settleDelay"`
	MaxRetries        int           `mapstructure:"maxRetries"`
	StrictChecksum    bool          `mapstructure:"strictChecksum"`
	StrictCorrelation bool          `mapstructure:"strictCorrelation"`
	SyncTimeOnConnect bool          `mapstructure:"syncTimeOnConnect"`
}

// LumberjackConfig configures the rolling log file
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig sets level, encoder and optional file output
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
	Path string `mapstructure:"path"`
}

// Config is the top-level configuration
type Config struct {
	Link     LinkConfig     `mapstructure:"link"`
	Protocol ProtocolConfig `mapstructure:"protocol"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// Load reads configuration into v and decodes it. An empty path searches
// the working directory and ~/.config/annulus for annulus.yaml; a missing
// file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/annulus")
		v.SetConfigName("annulus")
		v.SetConfigType("yaml")
	}

	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults installs the default for every key
func SetDefaults(v *viper.Viper) {
	v.SetDefault("link.baud", 115200)
	v.SetDefault("link.mtu", ycbt.DefaultMTU)

	v.SetDefault("protocol.timeout", ycbt.DefaultTimeout)
	v.SetDefault("protocol.settleDelay", ycbt.DefaultSettleDelay)
	v.SetDefault("protocol.maxRetries", ycbt.DefaultMaxRetries)
	v.SetDefault("protocol.strictChecksum", false)
	v.SetDefault("protocol.strictCorrelation", false)
	v.SetDefault("protocol.syncTimeOnConnect", true)

	v.SetDefault("logging.level", "warn")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.maxSize", 50)
	v.SetDefault("logging.file.maxBackups", 3)
	v.SetDefault("logging.file.maxAge", 14)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.path", "/metrics")
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	if c.Link.MTU <= ycbt.ATTOverhead {
		return fmt.Errorf("mtu must be greater than %d, got %d", ycbt.ATTOverhead, c.Link.MTU)
	}
	if c.Protocol.Timeout <= 0 {
		return fmt.Errorf("protocol timeout must be positive, got %s", c.Protocol.Timeout)
	}
	if c.Protocol.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", c.Protocol.MaxRetries)
	}
	if c.Protocol.SettleDelay < 0 {
		return fmt.Errorf("settle delay must not be negative, got %s", c.Protocol.SettleDelay)
	}
	return nil
}
