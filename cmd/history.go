// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/annulus/pkg/ycbt"
)

var (
	historyKind string
	historyOut  string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Download one block of health history",
	Long: `Request a health history block from the ring and dump it.

History blocks are usually larger than one notification and arrive as a
fragmented frame; the client reassembles them before the dump is printed.

Kinds: ` + strings.Join(historyKindNames(), ", ") + `

With --out the raw block is written to a file instead of printed.`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyKind, "kind", "all", "History kind")
	historyCmd.Flags().StringVar(&historyOut, "out", "", "Write the raw block to a file")
}

func historyKindNames() []string {
	names := make([]string, 0, len(ycbt.HistoryKinds))
	for name := range ycbt.HistoryKinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func runHistory(cmd *cobra.Command, args []string) error {
	ct, ok := ycbt.HistoryKinds[historyKind]
	if !ok {
		return fmt.Errorf("unknown history kind %q (valid: %s)", historyKind, strings.Join(historyKindNames(), ", "))
	}
	req, err := ycbt.HealthHistoryRequest(ct, nil)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	s, err := openSession(ctx, sessionOptions{wait: true})
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("Annulus - Health History\n")
	fmt.Printf("Connection: %s\n", s.link.Describe())
	fmt.Printf("Kind: %s (%s)\n\n", historyKind, ct)

	resp, err := s.client.DoRequest(ctx, req)
	if err != nil {
		return err
	}

	if historyOut != "" {
		if err := os.WriteFile(historyOut, resp.Data, 0o644); err != nil {
			return fmt.Errorf("failed to write history: %w", err)
		}
		fmt.Printf("Wrote %d bytes to %s\n", len(resp.Data), historyOut)
		return nil
	}

	fmt.Printf("%d bytes\n", len(resp.Data))
	fmt.Print(hex.Dump(resp.Data))
	return nil
}
