// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"tinygo.org/x/bluetooth"

	"github.com/Thermoquad/annulus/pkg/transport"
)

var (
	scanTimeout int
	scanPrefix  string
)

var scanCmd = &cobra.Command{
	Use:     "scan",
	Aliases: []string{"discovery"},
	Short:   "Discover rings via BLE scan",
	Long: `Scan for advertising BLE devices and list each one once.

The address printed for each device is the value to pass to --ble. Use
--prefix to only list devices whose advertised name starts with a string.

Examples:
  # List every advertising device for 10 seconds
  annulus scan --wait 10

  # Only rings advertising as "R0"
  annulus scan --prefix R0

Exit codes:
  0 - Scan successful (at least one device found)
  1 - Scan finished without finding a device
  2 - Adapter error`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().IntVar(&scanTimeout, "wait", 5, "Scan duration in seconds")
	scanCmd.Flags().StringVar(&scanPrefix, "prefix", "", "Only list devices whose name starts with this")
}

func runScan(cmd *cobra.Command, args []string) error {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		fmt.Fprintf(os.Stderr, "Adapter error: %v\n", err)
		os.Exit(2)
	}

	sigCtx, cancel := signalContext()
	defer cancel()
	ctx, stop := context.WithTimeout(sigCtx, time.Duration(scanTimeout)*time.Second)
	defer stop()

	fmt.Printf("Annulus - BLE Scan\n")
	fmt.Printf("Timeout: %d seconds\n\n", scanTimeout)

	results, errs := transport.Scan(ctx, adapter, scanPrefix)

	found := 0
	for results != nil || errs != nil {
		select {
		case d, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			found++
			name := d.Name
			if name == "" {
				name = "(unnamed)"
			}
			fmt.Printf("  %s  %4d dBm  %s\n", d.Address, d.RSSI, name)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			fmt.Fprintf(os.Stderr, "SCAN FAILED: %v\n", err)
			os.Exit(2)
		}
	}

	fmt.Printf("\n--- Scan summary ---\n")
	fmt.Printf("Devices found: %d\n", found)

	if found == 0 {
		fmt.Printf("No devices discovered. Check that the ring is charged and not connected to a phone.\n")
		os.Exit(1)
	}

	return nil
}
