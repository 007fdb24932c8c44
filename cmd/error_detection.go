// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/annulus/pkg/ycbt"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var errorDetectionCmd = &cobra.Command{
	Use:   "error_detection",
	Short: "Detect and analyze malformed frames and errors",
	Long: `Track frame errors, malformed data and device error frames with statistics.

This command validates each frame and detects:
  - Checksum mismatches and frames too short to decode
  - Declared lengths that disagree with the payload
  - Device error frames (unsupported command, key, length, data, checksum)
  - Responses missing their status byte and unknown command types

By default, only errors are displayed. Use --show-all to display valid frames too.

Frames are validated in real-time, with errors highlighted immediately and
periodic statistics summaries displayed at configurable intervals. Pair with
--strict-checksum=false (the default) so corrupt frames reach the validator.`,
	RunE: runErrorDetection,
}

func init() {
	rootCmd.AddCommand(errorDetectionCmd)
	errorDetectionCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just errors)")
	errorDetectionCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	errorDetectionCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

// frameMsg carries one observed frame, or a decode error, to the display
type frameMsg struct {
	frame            *ycbt.Frame
	decodeErr        error
	validationErrors []ycbt.ValidationError
}

func newFrameMsg(f *ycbt.Frame, err error) frameMsg {
	msg := frameMsg{frame: f, decodeErr: err}
	if f != nil {
		msg.validationErrors = ycbt.ValidateFrame(f)
	}
	return msg
}

func runErrorDetection(cmd *cobra.Command, args []string) error {
	if useTUI {
		return runTUIMode()
	}
	return runTextMode()
}

// printDecodeError prints a decode error in highlighted format
func printDecodeError(err error) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", timestamp, err)
	fmt.Printf("  >>> DECODE FAILED <<<\n\n")
}

// printValidationErrors prints validation errors for a frame
func printValidationErrors(f *ycbt.Frame, errors []ycbt.ValidationError) {
	timestamp := f.Timestamp().Format("15:04:05.000")

	fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m %s (0x%04X)\n", timestamp, f.CommandType(), uint16(f.CommandType()))
	if f.Valid() {
		fmt.Printf("  Checksum: \033[1;32mOK\033[0m\n")
	}

	for i, err := range errors {
		switch err.Type {
		case ycbt.AnomalyChecksum:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)

		case ycbt.AnomalyErrorFrame:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)
			if code, ok := err.Details["code"].(byte); ok {
				fmt.Printf("    kind=%s\n", ycbt.ClassifyErrorCode(code))
			}

		case ycbt.AnomalyLengthMismatch:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)

		default:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)
		}
	}

	fmt.Printf("  Payload: % X\n", f.Payload())
	fmt.Printf("  >>> FRAME REJECTED <<<\n\n")
}

// runTUIMode runs error detection in TUI mode
func runTUIMode() error {
	ctx, cancel := signalContext()
	defer cancel()

	events := make(chan tea.Msg, 256)
	forward := func(msg tea.Msg) {
		select {
		case events <- msg:
		case <-ctx.Done():
		}
	}

	s, err := openSession(ctx, sessionOptions{
		observer: func(f *ycbt.Frame, err error) { forward(newFrameMsg(f, err)) },
		listener: func(_, next ycbt.ConnectionState) { forward(stateMsg(next)) },
	})
	if err != nil {
		return err
	}
	defer s.Close()

	m := initialModel(s.link.Describe(), statsInterval, showAll, s.client, events)
	p := tea.NewProgram(m, tea.WithContext(ctx))

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// runTextMode runs error detection in text mode
func runTextMode() error {
	ctx, cancel := signalContext()
	defer cancel()

	frames := make(chan frameMsg, 64)
	s, err := openSession(ctx, sessionOptions{
		observer: func(f *ycbt.Frame, err error) {
			select {
			case frames <- newFrameMsg(f, err):
			case <-ctx.Done():
			}
		},
		listener: printState,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("Annulus - Error Detection Mode\n")
	fmt.Printf("Connection: %s\n", s.link.Describe())
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case msg := <-frames:
			switch {
			case msg.frame == nil:
				printDecodeError(msg.decodeErr)
			case len(msg.validationErrors) > 0:
				printValidationErrors(msg.frame, msg.validationErrors)
			case showAll:
				fmt.Print(ycbt.FormatFrame(msg.frame))
			}

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(s.client.Statistics())
			fmt.Println()

		case <-ctx.Done():
			fmt.Printf("\n%s", s.client.Statistics())
			return nil
		}
	}
}
