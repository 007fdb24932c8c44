// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/annulus/pkg/ycbt"
)

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure request round trips with GET_DEVICE_INFO",
	Long: `Send GET_DEVICE_INFO requests and time each response.

This exercises the whole request path: write, notification, reassembly,
checksum, routing and correlation. Each ping gets its own deadline; the
client's own retries happen inside it.

This is useful for verifying:
  - The link reaches the fully operational state
  - Writes reach the ring
  - Notifications come back and correlate

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "wait", 5, "Seconds to wait for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	s, err := openSession(ctx, sessionOptions{wait: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer s.Close()

	fmt.Printf("Annulus - Ping Test\n")
	fmt.Printf("Connection: %s\n", s.link.Describe())
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	successCount := 0
	failCount := 0
	var total time.Duration

	for i := 1; i <= pingCount && ctx.Err() == nil; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		pingCtx, stop := context.WithTimeout(ctx, time.Duration(pingTimeout)*time.Second)
		start := time.Now()
		resp, err := s.client.DoRequest(pingCtx, ycbt.DeviceInfoRequest(nil))
		rtt := time.Since(start)
		stop()

		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
			failCount++
		} else {
			fmt.Printf("reply %d bytes, rtt=%v\n", len(resp.Data), rtt.Round(time.Millisecond))
			successCount++
			total += rtt
		}

		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	sent := successCount + failCount
	fmt.Printf("\n--- Ping statistics ---\n")
	if sent > 0 {
		fmt.Printf("%d pings sent, %d responses received, %.0f%% loss\n",
			sent, successCount, float64(failCount)/float64(sent)*100)
	}
	if successCount > 0 {
		fmt.Printf("avg rtt=%v\n", (total / time.Duration(successCount)).Round(time.Millisecond))
	}
	fmt.Printf("retries=%d\n", s.client.Statistics().Retries)

	if failCount > 0 || sent < pingCount {
		os.Exit(1)
	}
	return nil
}
