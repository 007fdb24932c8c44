// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/annulus/pkg/ycbt"
)

var packetTestTimeout int

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid YCBT frame",
	Long: `Connect, wait for the fully operational state and wait for one
frame with a valid checksum before the timeout.

A GET_DEVICE_INFO request is sent to provoke a reply; any valid frame
counts, including unsolicited ones.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "wait", 10, "Seconds to wait for a frame")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	sigCtx, cancel := signalContext()
	defer cancel()
	ctx, stop := context.WithTimeout(sigCtx, time.Duration(packetTestTimeout)*time.Second)
	defer stop()

	frames := make(chan *ycbt.Frame, 1)
	var invalid atomic.Int32
	observer := func(f *ycbt.Frame, err error) {
		if f == nil || !f.Valid() {
			invalid.Add(1)
			return
		}
		select {
		case frames <- f:
		default:
		}
	}

	s, err := openSession(ctx, sessionOptions{observer: observer, wait: true})
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintf(os.Stderr, "TIMEOUT: ring not operational within %d seconds\n", packetTestTimeout)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer s.Close()

	fmt.Printf("Annulus - Packet Test\n")
	fmt.Printf("Connection: %s\n", s.link.Describe())
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for valid YCBT frame...\n\n")

	if err := s.client.SubmitRequest(ycbt.DeviceInfoRequest(nil)); err != nil {
		fmt.Fprintf(os.Stderr, "Send error: %v\n", err)
		os.Exit(2)
	}

	select {
	case f := <-frames:
		if n := invalid.Load(); n > 0 {
			fmt.Printf("(skipped %d invalid frames)\n", n)
		}
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Type: %s (0x%04X)\n", f.CommandType(), uint16(f.CommandType()))
		fmt.Printf("  Length: %d bytes\n", f.Length())
		fmt.Printf("  Checksum: 0x%04X\n", f.Checksum())
		s.Close()
		os.Exit(0)

	case <-ctx.Done():
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", packetTestTimeout)
		s.Close()
		os.Exit(1)
	}

	return nil
}
