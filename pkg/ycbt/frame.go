// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ycbt

import (
	"fmt"
	"time"
)

// CommandType is the 16-bit correlation key (commandId << 8) | key
type CommandType uint16

// NewCommandType builds a CommandType from its command id and key bytes
func NewCommandType(id, key byte) CommandType {
	return CommandType(uint16(id)<<8 | uint16(key))
}

// ID returns the command id (high byte)
func (c CommandType) ID() byte {
	return byte(c >> 8)
}

// Key returns the key (low byte)
func (c CommandType) Key() byte {
	return byte(c)
}

// String returns the command name if known, otherwise its hex value
func (c CommandType) String() string {
	return FormatCommandType(c)
}

// Frame represents one decoded YCBT frame. A Frame is immutable once
// produced by Decode.
type Frame struct {
	commandID byte
	key       byte
	length    uint16
	payload   []byte
	checksum  uint16
	valid     bool
	timestamp time.Time
}

// NewFrame creates a frame from its fields. The checksum is taken as given;
// valid reports whether it matched the recomputed value.
func NewFrame(ct CommandType, payload []byte, checksum uint16, valid bool) *Frame {
	p := make([]byte, len(payload))
	copy(p, payload)
	return &Frame{
		commandID: ct.ID(),
		key:       ct.Key(),
		length:    uint16(len(payload) + FrameOverhead),
		payload:   p,
		checksum:  checksum,
		valid:     valid,
		timestamp: time.Now(),
	}
}

// CommandID returns the frame's command id byte
func (f *Frame) CommandID() byte {
	return f.commandID
}

// Key returns the frame's key byte
func (f *Frame) Key() byte {
	return f.key
}

// CommandType returns the frame's correlation key
func (f *Frame) CommandType() CommandType {
	return NewCommandType(f.commandID, f.key)
}

// Length returns the declared frame length including header and trailer
func (f *Frame) Length() uint16 {
	return f.length
}

// Payload returns a copy of the frame payload
func (f *Frame) Payload() []byte {
	p := make([]byte, len(f.payload))
	copy(p, f.payload)
	return p
}

// PayloadLen returns the payload size without copying
func (f *Frame) PayloadLen() int {
	return len(f.payload)
}

// Checksum returns the checksum read from the frame trailer
func (f *Frame) Checksum() uint16 {
	return f.checksum
}

// Valid reports whether the trailer matched the recomputed checksum
func (f *Frame) Valid() bool {
	return f.valid
}

// Timestamp returns the frame's decode timestamp
func (f *Frame) Timestamp() time.Time {
	return f.timestamp
}

// IsErrorFrame returns true if the payload is a single byte with the high
// nibble set
func (f *Frame) IsErrorFrame() bool {
	return len(f.payload) == 1 && f.payload[0]&errorFrameMask == errorFrameMask
}

// Bytes re-encodes the frame to wire format, keeping the original trailer
func (f *Frame) Bytes() []byte {
	out := make([]byte, 0, int(f.length))
	out = append(out, f.commandID, f.key, byte(f.length), byte(f.length>>8))
	out = append(out, f.payload...)
	out = append(out, byte(f.checksum), byte(f.checksum>>8))
	return out
}

// GoString implements fmt.GoStringer for debugging output
func (f *Frame) GoString() string {
	return fmt.Sprintf("ycbt.Frame{%s len=%d payload=% X crc=0x%04X valid=%t}",
		f.CommandType(), f.length, f.payload, f.checksum, f.valid)
}
