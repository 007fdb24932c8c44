// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ycbt

import (
	"fmt"
	"time"
)

// header holds the fixed fields at the start of every frame
type header struct {
	commandID byte
	key       byte
	length    int
}

// readHeader parses the first four bytes of raw. raw must hold at least
// FrameOverhead bytes, the smallest legal frame.
func readHeader(raw []byte) (header, error) {
	if len(raw) < FrameOverhead {
		return header{}, fmt.Errorf("%w: %d bytes (min %d)", ErrTooShort, len(raw), FrameOverhead)
	}
	return header{
		commandID: raw[0],
		key:       raw[1],
		length:    int(raw[2]) | int(raw[3])<<8,
	}, nil
}

// Decode parses one complete frame from raw.
//
// When the declared length differs from len(raw), Decode returns
// ErrFragmentStart if len(raw) equals fragmentSize (the first chunk of a
// fragmented frame) and ErrIncomplete otherwise. No frame is returned in
// either case; the caller should hand the bytes to a Reassembler.
//
// When the trailer does not match the recomputed checksum Decode returns
// the frame together with a *ChecksumError. The frame is otherwise fully
// decoded so permissive callers can still deliver it.
func Decode(raw []byte, fragmentSize int) (*Frame, error) {
	h, err := readHeader(raw)
	if err != nil {
		return nil, err
	}

	if h.length != len(raw) {
		if len(raw) == fragmentSize {
			return nil, ErrFragmentStart
		}
		return nil, fmt.Errorf("%w: declared %d, have %d", ErrIncomplete, h.length, len(raw))
	}

	body := raw[:h.length-TrailerSize]
	actual := uint16(raw[h.length-2]) | uint16(raw[h.length-1])<<8
	expected := Checksum(body)

	payload := make([]byte, h.length-FrameOverhead)
	copy(payload, raw[HeaderSize:h.length-TrailerSize])

	frame := &Frame{
		commandID: h.commandID,
		key:       h.key,
		length:    uint16(h.length),
		payload:   payload,
		checksum:  actual,
		valid:     actual == expected,
		timestamp: time.Now(),
	}

	if !frame.valid {
		return frame, &ChecksumError{Expected: expected, Actual: actual}
	}
	return frame, nil
}
