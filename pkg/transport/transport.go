// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport provides the links a ycbt.Client runs over: the BLE
// radio itself, and WebSocket and serial bridges that relay the ring's
// write and notify characteristics from another host.
package transport

import (
	"context"
	"errors"

	"github.com/Thermoquad/annulus/pkg/ycbt"
)

// Handler receives notify chunks and lifecycle events from a link.
// *ycbt.Client satisfies it.
type Handler interface {
	HandleNotification(chunk []byte)
	HandleStateChange(state ycbt.ConnectionState)
}

// Link is a transport that can be started and closed
type Link interface {
	ycbt.Transport

	// Start opens the link and begins delivering events to h. Lifecycle
	// states are reported to h as they happen; events keep flowing until
	// Close or link loss.
	Start(ctx context.Context, h Handler) error

	// Close tears the link down. It is safe to call more than once.
	Close() error

	// Describe returns a one-line description for status output
	Describe() string
}

// ErrClosed is returned when writing to a closed link
var ErrClosed = errors.New("link closed")

// ErrNotStarted is returned when writing before Start
var ErrNotStarted = errors.New("link not started")

// ChunkSize returns the notify payload limit for an ATT MTU
func ChunkSize(mtu int) int {
	if mtu <= ycbt.ATTOverhead {
		mtu = ycbt.DefaultMTU
	}
	return mtu - ycbt.ATTOverhead
}

// bringUp reports the lifecycle states of a link whose GATT setup happens
// on the far side of a bridge
func bringUp(h Handler) {
	for _, s := range []ycbt.ConnectionState{
		ycbt.StateConnecting,
		ycbt.StateConnected,
		ycbt.StateServicesDiscovered,
		ycbt.StateCharacteristicsDiscovered,
		ycbt.StateNotificationsReady,
		ycbt.StateFullyOperational,
	} {
		h.HandleStateChange(s)
	}
}
