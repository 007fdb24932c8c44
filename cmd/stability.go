// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/annulus/pkg/transport"
	"github.com/Thermoquad/annulus/pkg/ycbt"
)

var stabilityDuration int

var stabilityCmd = &cobra.Command{
	Use:   "stability",
	Short: "Test raw link stability",
	Long: `Open the link and just wait, without sending any YCBT requests.

Every notification chunk and state change is logged. Useful for debugging
BLE drops, serial bridge resets or WebSocket relays that close idle
connections.

Exit codes:
  0 - Test completed normally
  1 - Link dropped during the test
  2 - Connection error`,
	RunE: runStability,
}

func init() {
	rootCmd.AddCommand(stabilityCmd)
	stabilityCmd.Flags().IntVar(&stabilityDuration, "duration", 30, "Test duration in seconds")
}

// chunkCounter is a transport.Handler that only counts and prints
type chunkCounter struct {
	chunks  atomic.Uint64
	bytes   atomic.Uint64
	dropped chan ycbt.ConnectionState
}

func (c *chunkCounter) HandleNotification(chunk []byte) {
	c.chunks.Add(1)
	c.bytes.Add(uint64(len(chunk)))
	fmt.Printf("[%s] Received %d bytes: %x\n", time.Now().Format("15:04:05.000"), len(chunk), chunk)
}

func (c *chunkCounter) HandleStateChange(state ycbt.ConnectionState) {
	fmt.Printf("[%s] State: %s\n", time.Now().Format("15:04:05.000"), ycbt.FormatState(state))
	if state == ycbt.StateDisconnected || state == ycbt.StateTimedOut {
		select {
		case c.dropped <- state:
		default:
		}
	}
}

var _ transport.Handler = (*chunkCounter)(nil)

func runStability(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	link, err := OpenLink(cfg.Link, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	counter := &chunkCounter{dropped: make(chan ycbt.ConnectionState, 1)}

	fmt.Printf("Link Stability Test\n")
	fmt.Printf("Connection: %s\n", link.Describe())
	fmt.Printf("Duration: %d seconds\n\n", stabilityDuration)

	if err := link.Start(ctx, counter); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	start := time.Now()
	endTime := start.Add(time.Duration(stabilityDuration) * time.Second)
	heartbeat := time.NewTicker(time.Second)
	defer heartbeat.Stop()

	fmt.Printf("Listening for data...\n\n")

	results := func() {
		fmt.Printf("\n--- Test Results ---\n")
		fmt.Printf("Duration: %v\n", time.Since(start).Round(time.Second))
		fmt.Printf("Chunks received: %d\n", counter.chunks.Load())
		fmt.Printf("Bytes received: %d\n", counter.bytes.Load())
	}

	for time.Now().Before(endTime) {
		select {
		case state := <-counter.dropped:
			results()
			fmt.Printf("Result: FAILED (%s)\n", ycbt.FormatState(state))
			link.Close()
			os.Exit(1)

		case <-ctx.Done():
			results()
			fmt.Printf("Result: INTERRUPTED\n")
			return link.Close()

		case <-heartbeat.C:
			remaining := time.Until(endTime).Seconds()
			fmt.Printf("[%s] Still connected... (%.0fs remaining)\n",
				time.Now().Format("15:04:05.000"), remaining)
		}
	}

	results()
	fmt.Printf("Result: PASSED (link stable)\n")
	return link.Close()
}
