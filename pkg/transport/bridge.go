// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/annulus/pkg/ycbt"
)

// Serial bridge framing. A bridge MCU relays the ring's characteristics
// over a UART using byte-stuffed frames:
//
//	START | stuffed(kind, len lo, len hi, data..., crc hi, crc lo) | END
//
// The CRC is CRC-16/CCITT-FALSE over the unstuffed kind, length and data.
const (
	BridgeStart  byte = 0x7E
	BridgeEnd    byte = 0x7F
	BridgeEsc    byte = 0x7D
	BridgeEscXor byte = 0x20

	// MaxBridgeData bounds a single bridge frame's data section
	MaxBridgeData = 4096
)

// BridgeKind identifies what a bridge frame carries
type BridgeKind byte

const (
	// BridgeNotify carries one notify chunk from the ring (bridge to host)
	BridgeNotify BridgeKind = 0x01
	// BridgeWrite carries one write-characteristic payload (host to bridge)
	BridgeWrite BridgeKind = 0x02
	// BridgeState carries one ConnectionState byte (bridge to host)
	BridgeState BridgeKind = 0x03
	// BridgeConnect asks the bridge to (re)connect to the ring (host to bridge)
	BridgeConnect BridgeKind = 0x04
)

func (k BridgeKind) String() string {
	switch k {
	case BridgeNotify:
		return "NOTIFY"
	case BridgeWrite:
		return "WRITE"
	case BridgeState:
		return "STATE"
	case BridgeConnect:
		return "CONNECT"
	default:
		return fmt.Sprintf("KIND(0x%02X)", byte(k))
	}
}

var (
	// ErrBridgeCRC is wrapped by decode errors for CRC mismatches
	ErrBridgeCRC = errors.New("bridge CRC mismatch")
	// ErrBridgeFraming is wrapped by decode errors for malformed frames
	ErrBridgeFraming = errors.New("bridge framing error")
)

// EncodeBridgeFrame returns the wire form of one bridge frame
func EncodeBridgeFrame(kind BridgeKind, data []byte) ([]byte, error) {
	if len(data) > MaxBridgeData {
		return nil, fmt.Errorf("bridge data too large: %d bytes (max %d)", len(data), MaxBridgeData)
	}

	body := make([]byte, 0, 3+len(data)+2)
	body = append(body, byte(kind), byte(len(data)), byte(len(data)>>8))
	body = append(body, data...)

	crc := ycbt.Checksum(body)
	body = append(body, byte(crc>>8), byte(crc))

	stuffed := stuffBytes(body)

	out := make([]byte, 0, len(stuffed)+2)
	out = append(out, BridgeStart)
	out = append(out, stuffed...)
	out = append(out, BridgeEnd)
	return out, nil
}

// stuffBytes escapes START, END and ESC as ESC + (byte ^ BridgeEscXor)
func stuffBytes(data []byte) []byte {
	result := make([]byte, 0, len(data)*2)
	for _, b := range data {
		if b == BridgeStart || b == BridgeEnd || b == BridgeEsc {
			result = append(result, BridgeEsc, b^BridgeEscXor)
		} else {
			result = append(result, b)
		}
	}
	return result
}

// BridgeFrame is one decoded bridge frame
type BridgeFrame struct {
	Kind BridgeKind
	Data []byte
}

// BridgeDecoder decoder states
const (
	bridgeIdle = iota
	bridgeBody
)

// BridgeDecoder is a byte-at-a-time bridge frame decoder
type BridgeDecoder struct {
	state      int
	escapeNext bool
	buffer     []byte
}

// NewBridgeDecoder creates a decoder waiting for a START byte
func NewBridgeDecoder() *BridgeDecoder {
	return &BridgeDecoder{buffer: make([]byte, 0, 512)}
}

// Reset discards any partial frame
func (d *BridgeDecoder) Reset() {
	d.state = bridgeIdle
	d.escapeNext = false
	d.buffer = d.buffer[:0]
}

// DecodeByte processes one byte. It returns a frame when END completes a
// valid one, and an error when END completes an invalid one.
func (d *BridgeDecoder) DecodeByte(b byte) (*BridgeFrame, error) {
	switch {
	case b == BridgeStart:
		d.Reset()
		d.state = bridgeBody
		return nil, nil

	case d.state == bridgeIdle:
		return nil, nil

	case b == BridgeEnd:
		defer d.Reset()
		if d.escapeNext {
			return nil, fmt.Errorf("%w: END after ESC", ErrBridgeFraming)
		}
		return d.finish()

	case b == BridgeEsc && !d.escapeNext:
		d.escapeNext = true
		return nil, nil
	}

	if d.escapeNext {
		b ^= BridgeEscXor
		d.escapeNext = false
	}

	if len(d.buffer) >= 3+MaxBridgeData+2 {
		d.Reset()
		return nil, fmt.Errorf("%w: buffer overflow", ErrBridgeFraming)
	}
	d.buffer = append(d.buffer, b)
	return nil, nil
}

func (d *BridgeDecoder) finish() (*BridgeFrame, error) {
	buf := d.buffer
	if len(buf) < 5 {
		return nil, fmt.Errorf("%w: %d byte frame", ErrBridgeFraming, len(buf))
	}

	n := int(buf[1]) | int(buf[2])<<8
	if n != len(buf)-5 {
		return nil, fmt.Errorf("%w: declared %d data bytes, have %d", ErrBridgeFraming, n, len(buf)-5)
	}

	body := buf[:len(buf)-2]
	got := uint16(buf[len(buf)-2])<<8 | uint16(buf[len(buf)-1])
	if want := ycbt.Checksum(body); got != want {
		return nil, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrBridgeCRC, want, got)
	}

	data := make([]byte, n)
	copy(data, buf[3:3+n])
	return &BridgeFrame{Kind: BridgeKind(buf[0]), Data: data}, nil
}
