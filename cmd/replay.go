// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/annulus/pkg/capture"
	"github.com/Thermoquad/annulus/pkg/ycbt"
)

var replaySpeed float64

var replayCmd = &cobra.Command{
	Use:   "replay FILE",
	Short: "Decode a capture file recorded with raw_log --capture",
	Long: `Feed a capture file back through the client as if a ring were
connected, printing every decoded frame and state change.

--speed scales the recorded gaps between chunks: 1 is real time, 10 is ten
times faster and 0 replays without any delay. Writes recorded in the file
are listed in the summary but never sent anywhere.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 0, "Replay speed factor (0 = as fast as possible)")
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	records, err := capture.ReadAll(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("failed to read capture: %w", err)
	}

	counts := map[capture.Direction]int{}
	for _, r := range records {
		counts[r.Direction]++
	}

	ctx, cancel := signalContext()
	defer cancel()

	player := capture.NewPlayer(records, cfg.Link.MTU, replaySpeed)

	client := ycbt.New(player,
		ycbt.WithLogger(logger.Named("ycbt")),
		ycbt.WithStrictChecksum(cfg.Protocol.StrictChecksum),
		ycbt.WithFrameObserver(printFrame),
	)
	client.OnConnectionStateChange(printState)

	fmt.Printf("Annulus - Replay\n")
	fmt.Printf("File: %s (%d records: %d RX, %d TX, %d state)\n\n", args[0], len(records),
		counts[capture.RX], counts[capture.TX], counts[capture.State])

	if err := player.Start(ctx, client); err != nil {
		return err
	}

	select {
	case <-player.Done():
	case <-ctx.Done():
	}
	player.Close()

	fmt.Printf("\n%s", client.Statistics())
	return nil
}
