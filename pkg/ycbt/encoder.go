// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ycbt

import "fmt"

// Encode builds the wire frame for a command type and payload:
// header, payload, then the little-endian checksum of header+payload.
func Encode(ct CommandType, payload []byte) ([]byte, error) {
	length := len(payload) + FrameOverhead
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), MaxFrameSize-FrameOverhead)
	}

	frame := make([]byte, 0, length)
	frame = append(frame, ct.ID(), ct.Key(), byte(length), byte(length>>8))
	frame = append(frame, payload...)

	crc := Checksum(frame)
	frame = append(frame, byte(crc), byte(crc>>8))

	return frame, nil
}

// MustEncode is like Encode but panics on error. Use it for payloads known
// to fit, such as the fixed request builders in this package.
func MustEncode(ct CommandType, payload []byte) []byte {
	data, err := Encode(ct, payload)
	if err != nil {
		panic(fmt.Sprintf("ycbt: encode error: %v", err))
	}
	return data
}
