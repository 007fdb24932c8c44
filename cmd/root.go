// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Thermoquad/annulus/internal/config"
	"github.com/Thermoquad/annulus/internal/logging"
)

var (
	configFile string

	v      = viper.New()
	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "annulus",
	Short: "YCBT Smart Ring Protocol Client",
	Long: `Annulus - A CLI tool for talking to YCBT smart rings.

Sends commands, syncs time, pulls health history and logs every frame the
ring sends, with checksum validation and per-request retry.

Connection modes:
  BLE:       --ble AA:BB:CC:DD:EE:FF
  Serial:    --port /dev/ttyACM0 [--baud 115200]   (BLE bridge dongle)
  WebSocket: --url ws://host/path [--username user] (BLE relay)
  Loopback:  --loopback                              (simulated ring)

For WebSocket authentication, the password is read from the ANNULUS_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

Every flag can also be set in annulus.yaml or as an ANNULUS_ environment
variable (for example ANNULUS_LINK_BLE).`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	PersistentPostRun: func(*cobra.Command, []string) { _ = logger.Sync() },
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Config file (default ./annulus.yaml)")

	// Link flags
	pf.String("ble", "", "Ring BLE address")
	pf.StringP("port", "p", "", "Serial port of a BLE bridge")
	pf.IntP("baud", "b", 115200, "Baud rate (serial only)")
	pf.StringP("url", "u", "", "WebSocket URL of a BLE relay (ws:// or wss://)")
	pf.String("username", "", "Username for HTTP Basic auth")
	pf.Bool("no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
	pf.Bool("loopback", false, "Talk to a simulated ring")
	pf.Int("mtu", 500, "ATT MTU negotiated with the ring")

	// Protocol flags
	pf.Duration("timeout", 0, "Per-attempt response timeout (default 5s)")
	pf.Int("retries", -1, "Re-sends before a request fails (default 3)")
	pf.Bool("strict-checksum", false, "Drop frames with a bad checksum")
	pf.Bool("strict-correlation", false, "Only accept responses matching the in-flight command")

	// Ambient flags
	pf.String("log-level", "warn", "Log level (debug, info, warn, error)")
	pf.String("log-format", "console", "Log format (console, json)")
	pf.String("log-file", "", "Also write logs to a rolling file")
	pf.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")

	bind := map[string]string{
		"link.ble":                   "ble",
		"link.port":                  "port",
		"link.baud":                  "baud",
		"link.url":                   "url",
		"link.username":              "username",
		"link.noSSLVerify":           "no-ssl-verify",
		"link.loopback":              "loopback",
		"link.mtu":                   "mtu",
		"protocol.strictChecksum":    "strict-checksum",
		"protocol.strictCorrelation": "strict-correlation",
		"logging.level":              "log-level",
		"logging.format":             "log-format",
		"logging.file.filename":      "log-file",
		"metrics.addr":               "metrics-addr",
	}
	for key, flag := range bind {
		if err := v.BindPFlag(key, pf.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

// loadConfig merges defaults, file, env and flags, then builds the logger
func loadConfig(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(v, configFile)
	if err != nil {
		return err
	}

	// zero-valued protocol flags mean "use the configured value"
	if d, _ := cmd.Flags().GetDuration("timeout"); d > 0 {
		cfg.Protocol.Timeout = d
	}
	if r, _ := cmd.Flags().GetInt("retries"); r >= 0 {
		cfg.Protocol.MaxRetries = r
	}

	logger, err = logging.InitLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
