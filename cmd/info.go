// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/annulus/pkg/ycbt"
)

var infoFind bool

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Read device info, supported functions and name",
	Long: `Connect to the ring and read its device info block, supported
function map and advertised name.

With --find the ring also vibrates so you can tell which one you are
talking to.`,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().BoolVar(&infoFind, "find", false, "Make the ring vibrate")
}

type infoStep struct {
	label string
	req   ycbt.Request
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	s, err := openSession(ctx, sessionOptions{wait: true})
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("Annulus - Device Info\n")
	fmt.Printf("Connection: %s\n\n", s.link.Describe())

	requests := []infoStep{
		{"Device info", ycbt.DeviceInfoRequest(nil)},
		{"Functions", ycbt.SupportFunctionRequest(nil)},
		{"Name", ycbt.DeviceNameRequest(nil)},
	}
	if infoFind {
		requests = append(requests, infoStep{"Find", ycbt.FindDeviceRequest(nil)})
	}

	failed := 0
	for _, r := range requests {
		resp, err := s.client.DoRequest(ctx, r.req)
		if err != nil {
			fmt.Printf("%-12s \033[1;31mFAILED\033[0m %v\n", r.label+":", err)
			failed++
			continue
		}
		fmt.Printf("%-12s %s\n", r.label+":", formatData(resp.Data))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d requests failed", failed, len(requests))
	}
	return nil
}

// formatData renders response data as text when printable, hex otherwise
func formatData(data []byte) string {
	if len(data) == 0 {
		return "OK"
	}
	printable := true
	for _, r := range string(data) {
		if !unicode.IsPrint(r) {
			printable = false
			break
		}
	}
	if printable {
		return fmt.Sprintf("%q", strings.TrimSpace(string(data)))
	}
	return fmt.Sprintf("% X", data)
}
