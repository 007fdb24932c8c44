// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/annulus/pkg/ycbt"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, ycbt.DefaultMTU, cfg.Link.MTU)
	assert.Equal(t, 115200, cfg.Link.Baud)
	assert.Equal(t, ycbt.DefaultTimeout, cfg.Protocol.Timeout)
	assert.Equal(t, ycbt.DefaultSettleDelay, cfg.Protocol.SettleDelay)
	assert.Equal(t, ycbt.DefaultMaxRetries, cfg.Protocol.MaxRetries)
	assert.False(t, cfg.Protocol.StrictChecksum)
	assert.True(t, cfg.Protocol.SyncTimeOnConnect)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "annulus.yaml")
	yaml := `
link:
  ble: "AA:BB:CC:DD:EE:FF"
  mtu: 185
protocol:
  timeout: 2s
  strictCorrelation: true
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.Link.BLE)
	assert.Equal(t, 185, cfg.Link.MTU)
	assert.Equal(t, 2*time.Second, cfg.Protocol.Timeout)
	assert.True(t, cfg.Protocol.StrictCorrelation)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_Env(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ANNULUS_PROTOCOL_MAXRETRIES", "1")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Protocol.MaxRetries)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	good := Config{
		Link:     LinkConfig{MTU: 23},
		Protocol: ProtocolConfig{Timeout: time.Second},
	}
	assert.NoError(t, good.Validate())

	bad := good
	bad.Link.MTU = 3
	assert.Error(t, bad.Validate())

	bad = good
	bad.Protocol.Timeout = 0
	assert.Error(t, bad.Validate())

	bad = good
	bad.Protocol.MaxRetries = -1
	assert.Error(t, bad.Validate())
}
