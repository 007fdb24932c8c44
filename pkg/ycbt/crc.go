// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ycbt

// Checksum computes the 16-bit frame checksum over data.
//
// Each byte is folded in with a byte swap followed by three shift/xor
// steps. The result is identical to CRC-16/CCITT-FALSE (poly 0x1021, init
// 0xFFFF) but needs no loop over bits.
func Checksum(data []byte) uint16 {
	crc := uint16(checksumInitial)
	for _, b := range data {
		crc = crc>>8 | crc<<8
		crc ^= uint16(b)
		crc ^= (crc & 0xFF) >> 4
		crc ^= crc << 12
		crc ^= (crc & 0xFF) << 5
	}
	return crc
}
