// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/annulus/pkg/ycbt"
)

var rawLogCapture string

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw frame log in human-readable format",
	Long: `Continuously decode and display YCBT frames as they arrive.

Each frame is shown with timestamp, command type and payload. Frames with a
bad checksum are shown and flagged unless --strict-checksum is set. Connection
state changes are printed as they happen.

With --capture every notify chunk, write and state change is also recorded
to a CBOR capture file that the replay command can play back.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().StringVar(&rawLogCapture, "capture", "", "Record traffic to a capture file")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	s, err := openSession(ctx, sessionOptions{
		capturePath: rawLogCapture,
		observer:    printFrame,
		listener:    printState,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("Annulus - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", s.link.Describe())
	if rawLogCapture != "" {
		fmt.Printf("Capture: %s\n", rawLogCapture)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	<-ctx.Done()
	fmt.Printf("\n%s", s.client.Statistics())
	return nil
}

// printFrame is a FrameObserver that prints every frame and decode error
func printFrame(f *ycbt.Frame, err error) {
	if f == nil {
		fmt.Printf("[ERROR] %v\n", err)
		return
	}
	fmt.Print(ycbt.FormatFrame(f))
}
