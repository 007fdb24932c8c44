// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/annulus/pkg/ycbt"
)

var (
	sendType    string
	sendPayload string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send one arbitrary command and print the response",
	Long: `Send a single command to the ring and print the decoded response.

--type accepts a command name (GET_DEVICE_NAME) or a 16-bit hex value
(0x0203). --payload is hex; spaces and colons are ignored.
Commands with a canonical payload are corrected before they are sent.

Examples:
  annulus --ble AA:BB:CC:DD:EE:FF send --type GET_DEVICE_INFO --payload 4743
  annulus --loopback send --type 0x0300`,
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVar(&sendType, "type", "", "Command type (name or number)")
	sendCmd.Flags().StringVar(&sendPayload, "payload", "", "Payload as hex")
	_ = sendCmd.MarkFlagRequired("type")
}

func runSend(cmd *cobra.Command, args []string) error {
	ct, err := ycbt.ParseCommandType(sendType)
	if err != nil {
		return err
	}
	payload, err := parseHex(sendPayload)
	if err != nil {
		return fmt.Errorf("invalid --payload: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	s, err := openSession(ctx, sessionOptions{wait: true})
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("Annulus - Send\n")
	fmt.Printf("Connection: %s\n", s.link.Describe())
	fmt.Printf("Command: %s\n", ct)
	fmt.Printf("Payload: % X\n\n", payload)

	resp, err := s.client.Do(ctx, ct, payload)
	if err != nil {
		return err
	}
	fmt.Printf("Response: %s\n", formatData(resp.Data))
	return nil
}

// parseHex accepts "4743", "47 43" and "47:43"
func parseHex(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "", "0x", "").Replace(s)
	return hex.DecodeString(s)
}
