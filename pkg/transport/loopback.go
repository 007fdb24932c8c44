// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"sync"

	"github.com/Thermoquad/annulus/pkg/ycbt"
)

// Responder produces the notify chunks a device would send for one write.
// Returning nil sends nothing.
type Responder func(written []byte) [][]byte

// Loopback is an in-process link. Writes are recorded and passed to an
// optional Responder whose chunks are fed back as notifications.
type Loopback struct {
	mtu       int
	responder Responder

	mu      sync.Mutex
	handler Handler
	writes  [][]byte
	closed  bool
}

// NewLoopback creates a loopback link. responder may be nil.
func NewLoopback(mtu int, responder Responder) *Loopback {
	return &Loopback{mtu: mtu, responder: responder}
}

func (l *Loopback) Describe() string { return "Loopback" }

func (l *Loopback) MaxChunkSize() int { return ChunkSize(l.mtu) }

// Start reports a full bring-up to h
func (l *Loopback) Start(_ context.Context, h Handler) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.handler = h
	l.mu.Unlock()

	bringUp(h)
	return nil
}

// Write records p and delivers the responder's chunks asynchronously
func (l *Loopback) Write(p []byte) error {
	l.mu.Lock()
	h, closed := l.handler, l.closed
	if !closed && h != nil {
		l.writes = append(l.writes, append([]byte(nil), p...))
	}
	l.mu.Unlock()

	switch {
	case closed:
		return ErrClosed
	case h == nil:
		return ErrNotStarted
	}

	if l.responder != nil {
		chunks := l.responder(append([]byte(nil), p...))
		if len(chunks) > 0 {
			go func() {
				for _, c := range chunks {
					h.HandleNotification(c)
				}
			}()
		}
	}
	return nil
}

// Inject delivers a notify chunk as if the device had sent it
func (l *Loopback) Inject(chunk []byte) {
	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()
	if h != nil {
		h.HandleNotification(chunk)
	}
}

// SetState reports a lifecycle change
func (l *Loopback) SetState(s ycbt.ConnectionState) {
	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()
	if h != nil {
		h.HandleStateChange(s)
	}
}

// Writes returns a copy of everything written so far
func (l *Loopback) Writes() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]byte, len(l.writes))
	copy(out, l.writes)
	return out
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	h := l.handler
	l.mu.Unlock()

	if h != nil {
		h.HandleStateChange(ycbt.StateDisconnecting)
		h.HandleStateChange(ycbt.StateDisconnected)
	}
	return nil
}

// SimulatedRing answers requests the way a healthy ring does. Each written
// frame gets a status-OK response of the same type, split into chunks of
// chunkSize bytes. Device info and name queries return canned data.
func SimulatedRing(chunkSize int) Responder {
	return func(written []byte) [][]byte {
		frame, err := ycbt.Decode(written, len(written))
		if err != nil || !frame.Valid() {
			return nil
		}

		payload := []byte{0x00}
		switch frame.CommandType() {
		case ycbt.GetDeviceInfo:
			// device id, firmware 1.2, battery 87%
			payload = append(payload, 0x12, 0x34, 0x01, 0x02, 0x00, 0x57)
		case ycbt.GetDeviceName:
			payload = append(payload, []byte("Annulus Ring")...)
		case ycbt.HealthHistorySleep, ycbt.HealthHistoryHeart, ycbt.HealthHistorySport,
			ycbt.HealthHistoryBlood, ycbt.HealthHistoryAll:
			payload = make([]byte, 1+640)
			for i := range payload[1:] {
				payload[1+i] = byte(i)
			}
		}

		raw := ycbt.MustEncode(frame.CommandType(), payload)
		var chunks [][]byte
		for off := 0; off < len(raw); off += chunkSize {
			end := min(off+chunkSize, len(raw))
			chunks = append(chunks, raw[off:end])
		}
		return chunks
	}
}
