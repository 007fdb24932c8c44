// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Annulus - YCBT Smart Ring Protocol Client
//
// A CLI tool for talking to YCBT smart rings over BLE, a serial BLE bridge
// or a WebSocket relay.

package main

import (
	"os"

	"github.com/Thermoquad/annulus/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
