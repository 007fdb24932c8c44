// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Thermoquad/annulus/pkg/ycbt"
)

// fakeHandler records everything a link delivers
type fakeHandler struct {
	mu     sync.Mutex
	chunks [][]byte
	states []ycbt.ConnectionState
}

func (f *fakeHandler) HandleNotification(chunk []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, append([]byte(nil), chunk...))
}

func (f *fakeHandler) HandleStateChange(s ycbt.ConnectionState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, s)
}

func (f *fakeHandler) snapshot() ([][]byte, []ycbt.ConnectionState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.chunks...), append([]ycbt.ConnectionState(nil), f.states...)
}

// ============================================================
// Bridge Framing Tests
// ============================================================

func decodeAll(t *testing.T, wire []byte) []*BridgeFrame {
	t.Helper()
	d := NewBridgeDecoder()
	var out []*BridgeFrame
	for _, b := range wire {
		f, err := d.DecodeByte(b)
		if err != nil {
			t.Fatalf("unexpected decode error: %v", err)
		}
		if f != nil {
			out = append(out, f)
		}
	}
	return out
}

func TestBridge_RoundTrip(t *testing.T) {
	data := []byte{0x02, 0x00, 0x08, 0x00, 0x47, 0x43, 0x6F, 0xEC}
	wire, err := EncodeBridgeFrame(BridgeNotify, data)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	if wire[0] != BridgeStart || wire[len(wire)-1] != BridgeEnd {
		t.Errorf("expected START/END framing, got % X", wire)
	}

	frames := decodeAll(t, wire)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0].Kind != BridgeNotify {
		t.Errorf("expected kind NOTIFY, got %s", frames[0].Kind)
	}
	if !bytes.Equal(frames[0].Data, data) {
		t.Errorf("expected % X, got % X", data, frames[0].Data)
	}
}

func TestBridge_StuffsSpecialBytes(t *testing.T) {
	data := []byte{BridgeStart, BridgeEnd, BridgeEsc, 0x00}
	wire, err := EncodeBridgeFrame(BridgeWrite, data)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	for i, b := range wire[1 : len(wire)-1] {
		if b == BridgeStart || b == BridgeEnd {
			t.Errorf("unescaped framing byte 0x%02X at offset %d", b, i+1)
		}
	}

	frames := decodeAll(t, wire)
	require.Len(t, frames, 1)
	assert.Equal(t, data, frames[0].Data)
}

func TestBridge_EmptyData(t *testing.T) {
	wire, err := EncodeBridgeFrame(BridgeConnect, nil)
	require.NoError(t, err)

	frames := decodeAll(t, wire)
	require.Len(t, frames, 1)
	assert.Equal(t, BridgeConnect, frames[0].Kind)
	assert.Empty(t, frames[0].Data)
}

func TestBridge_TooLarge(t *testing.T) {
	_, err := EncodeBridgeFrame(BridgeWrite, make([]byte, MaxBridgeData+1))
	assert.Error(t, err)
}

func TestBridge_CRCMismatch(t *testing.T) {
	wire, _ := EncodeBridgeFrame(BridgeNotify, []byte{0x01, 0x02, 0x03})
	wire[4] ^= 0x01 // first data byte

	d := NewBridgeDecoder()
	var gotErr error
	for _, b := range wire {
		f, err := d.DecodeByte(b)
		if f != nil {
			t.Fatalf("corrupted frame decoded: % X", f.Data)
		}
		if err != nil {
			gotErr = err
		}
	}
	if !errors.Is(gotErr, ErrBridgeCRC) {
		t.Errorf("expected ErrBridgeCRC, got %v", gotErr)
	}
}

func TestBridge_ResyncOnStart(t *testing.T) {
	good, _ := EncodeBridgeFrame(BridgeState, []byte{byte(ycbt.StateConnected)})

	// a truncated frame followed by a good one
	wire := append([]byte{BridgeStart, 0x01, 0x05}, good...)
	frames := decodeAll(t, wire)
	require.Len(t, frames, 1)
	assert.Equal(t, BridgeState, frames[0].Kind)
}

func TestBridge_GarbageBetweenFrames(t *testing.T) {
	a, _ := EncodeBridgeFrame(BridgeNotify, []byte{0xAA})
	b, _ := EncodeBridgeFrame(BridgeNotify, []byte{0xBB})

	wire := append([]byte{0x11, 0x22}, a...)
	wire = append(wire, 0x33)
	wire = append(wire, b...)

	frames := decodeAll(t, wire)
	require.Len(t, frames, 2)
	assert.Equal(t, []byte{0xAA}, frames[0].Data)
	assert.Equal(t, []byte{0xBB}, frames[1].Data)
}

func TestBridge_LengthMismatch(t *testing.T) {
	d := NewBridgeDecoder()
	// kind, declared length 5, one data byte, bogus CRC
	wire := []byte{BridgeStart, 0x01, 0x05, 0x00, 0xAA, 0x00, 0x00, BridgeEnd}
	var gotErr error
	for _, b := range wire {
		if _, err := d.DecodeByte(b); err != nil {
			gotErr = err
		}
	}
	assert.ErrorIs(t, gotErr, ErrBridgeFraming)
}

func TestBridgeKind_String(t *testing.T) {
	assert.Equal(t, "NOTIFY", BridgeNotify.String())
	assert.Equal(t, "KIND(0x09)", BridgeKind(0x09).String())
}

// ============================================================
// Serial Bridge Tests
// ============================================================

// bridgePeer plays the MCU side of a serial bridge over a net.Pipe
type bridgePeer struct {
	conn net.Conn

	mu     sync.Mutex
	frames []*BridgeFrame
}

func newBridgePeer(conn net.Conn) *bridgePeer {
	p := &bridgePeer{conn: conn}
	go func() {
		d := NewBridgeDecoder()
		buf := make([]byte, 64)
		for {
			n, err := conn.Read(buf)
			for _, b := range buf[:n] {
				if f, _ := d.DecodeByte(b); f != nil {
					p.mu.Lock()
					p.frames = append(p.frames, f)
					p.mu.Unlock()
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return p
}

func (p *bridgePeer) send(t *testing.T, kind BridgeKind, data []byte) {
	t.Helper()
	wire, err := EncodeBridgeFrame(kind, data)
	require.NoError(t, err)
	_, err = p.conn.Write(wire)
	require.NoError(t, err)
}

func (p *bridgePeer) received() []*BridgeFrame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*BridgeFrame(nil), p.frames...)
}

func TestSerialBridge_Lifecycle(t *testing.T) {
	host, mcu := net.Pipe()
	peer := newBridgePeer(mcu)
	link := NewSerialBridge(host, "pipe", ycbt.DefaultMTU, zaptest.NewLogger(t))
	h := &fakeHandler{}

	assert.ErrorIs(t, link.Write([]byte{0x01}), ErrNotStarted)
	require.NoError(t, link.Start(context.Background(), h))

	require.Eventually(t, func() bool { return len(peer.received()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, BridgeConnect, peer.received()[0].Kind)

	for _, s := range []ycbt.ConnectionState{ycbt.StateConnecting, ycbt.StateConnected, ycbt.StateFullyOperational} {
		peer.send(t, BridgeState, []byte{byte(s)})
	}
	peer.send(t, BridgeNotify, []byte{0x02, 0x00})
	peer.send(t, BridgeState, []byte{0x63}) // out of range, dropped

	require.Eventually(t, func() bool {
		chunks, states := h.snapshot()
		return len(chunks) == 1 && len(states) == 3
	}, time.Second, time.Millisecond)

	chunks, states := h.snapshot()
	assert.Equal(t, []byte{0x02, 0x00}, chunks[0])
	assert.Equal(t, []ycbt.ConnectionState{
		ycbt.StateConnecting, ycbt.StateConnected, ycbt.StateFullyOperational,
	}, states)

	require.NoError(t, link.Write([]byte{0xDE, 0xAD}))
	require.Eventually(t, func() bool { return len(peer.received()) == 2 }, time.Second, time.Millisecond)
	w := peer.received()[1]
	assert.Equal(t, BridgeWrite, w.Kind)
	assert.Equal(t, []byte{0xDE, 0xAD}, w.Data)

	require.NoError(t, link.Close())
	require.NoError(t, link.Close())
	assert.ErrorIs(t, link.Write([]byte{0x01}), ErrClosed)

	_, states = h.snapshot()
	assert.Equal(t, ycbt.StateDisconnected, states[len(states)-1])
}

func TestSerialBridge_PeerHangup(t *testing.T) {
	host, mcu := net.Pipe()
	newBridgePeer(mcu)
	link := NewSerialBridge(host, "pipe", ycbt.DefaultMTU, nil)
	h := &fakeHandler{}
	require.NoError(t, link.Start(context.Background(), h))

	mcu.Close()
	require.Eventually(t, func() bool {
		_, states := h.snapshot()
		return len(states) > 0 && states[len(states)-1] == ycbt.StateDisconnected
	}, time.Second, time.Millisecond)
	link.Close()
}

// ============================================================
// WebSocket Tests
// ============================================================

func TestWebSocket_RejectsScheme(t *testing.T) {
	_, err := NewWebSocketBridge(WebSocketOptions{URL: "http://example.com"})
	assert.Error(t, err)

	_, err = NewWebSocketBridge(WebSocketOptions{URL: "wss://example.com/ring"})
	assert.NoError(t, err)
}

func TestWebSocket_ParseStateMessage(t *testing.T) {
	s, ok := parseStateMessage("state 10")
	assert.True(t, ok)
	assert.Equal(t, ycbt.StateFullyOperational, s)

	for _, bad := range []string{"", "state", "state x", "state 0", "state 11", "mode 3"} {
		_, ok := parseStateMessage(bad)
		assert.False(t, ok, bad)
	}
}

// ============================================================
// Loopback Tests
// ============================================================

func TestChunkSize(t *testing.T) {
	assert.Equal(t, 497, ChunkSize(500))
	assert.Equal(t, 20, ChunkSize(23))
	assert.Equal(t, 497, ChunkSize(0))
}

func TestLoopback_ClientRoundTrip(t *testing.T) {
	link := NewLoopback(23, SimulatedRing(20))
	client := ycbt.New(link, ycbt.WithSettleDelay(0), ycbt.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, link.Start(context.Background(), client))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.WaitOperational(ctx))

	resp, err := client.Do(ctx, ycbt.GetDeviceInfo, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x12, 0x34, 0x01, 0x02, 0x00, 0x57}, resp.Data)

	// corrected payload went out
	writes := link.Writes()
	require.NotEmpty(t, writes)
	assert.Equal(t, []byte{0x02, 0x00, 0x08, 0x00, 0x47, 0x43, 0x6F, 0xEC}, writes[len(writes)-1])

	// a 647 byte response arrives in 20 byte chunks
	resp, err = client.Do(ctx, ycbt.HealthHistorySleep, nil)
	require.NoError(t, err)
	assert.Len(t, resp.Data, 640)
}

func TestLoopback_CloseCancelsQueue(t *testing.T) {
	link := NewLoopback(ycbt.DefaultMTU, nil)
	client := ycbt.New(link, ycbt.WithSettleDelay(0))
	require.NoError(t, link.Start(context.Background(), client))

	errs := make(chan error, 1)
	go func() {
		_, err := client.Do(context.Background(), ycbt.GetDeviceName, nil)
		errs <- err
	}()

	require.Eventually(t, func() bool { return len(link.Writes()) == 1 }, time.Second, time.Millisecond)
	require.NoError(t, link.Close())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ycbt.ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("request not cancelled on close")
	}
	assert.ErrorIs(t, link.Write([]byte{0x00}), ErrClosed)
}
