// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ycbt

import (
	"errors"
	"fmt"
)

// Decode and reassembly errors
var (
	ErrTooShort           = errors.New("frame too short")
	ErrIncomplete         = errors.New("frame incomplete")
	ErrFragmentStart      = errors.New("fragmented frame start")
	ErrChecksumMismatch   = errors.New("checksum mismatch")
	ErrLengthMismatch     = errors.New("declared length does not match chunk size")
	ErrReassemblyOverflow = errors.New("reassembled data exceeds declared length")
	ErrPayloadTooLarge    = errors.New("payload too large")
)

// Request errors returned by Client.Do
var (
	ErrTimeout      = errors.New("no response after retries")
	ErrCancelled    = errors.New("request cancelled")
	ErrWriteFailed  = errors.New("transport write failed")
	ErrNotConnected = errors.New("device not connected")
)

// ChecksumError reports a trailer that does not match the recomputed
// checksum. It matches ErrChecksumMismatch with errors.Is.
type ChecksumError struct {
	Expected uint16 // computed over header and payload
	Actual   uint16 // read from the trailer
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected 0x%04X, got 0x%04X", e.Expected, e.Actual)
}

// Is reports whether target is ErrChecksumMismatch
func (e *ChecksumError) Is(target error) bool {
	return target == ErrChecksumMismatch
}

// ErrorKind classifies the code carried by a device error frame
type ErrorKind int

// Error kinds
const (
	KindUnknown ErrorKind = iota
	KindUnsupportedCommandID
	KindUnsupportedKey
	KindLength
	KindData
	KindChecksum
)

// String returns the human-readable name of the error kind
func (k ErrorKind) String() string {
	switch k {
	case KindUnsupportedCommandID:
		return "unsupported command id"
	case KindUnsupportedKey:
		return "unsupported key"
	case KindLength:
		return "length error"
	case KindData:
		return "data error"
	case KindChecksum:
		return "checksum error"
	default:
		return "unknown error"
	}
}

// ClassifyErrorCode maps an error frame code to its kind
func ClassifyErrorCode(code byte) ErrorKind {
	switch code {
	case ErrCodeUnsupportedCommandID:
		return KindUnsupportedCommandID
	case ErrCodeUnsupportedKey:
		return KindUnsupportedKey
	case ErrCodeLength:
		return KindLength
	case ErrCodeData:
		return KindData
	case ErrCodeChecksum:
		return KindChecksum
	default:
		return KindUnknown
	}
}

// ProtocolError is a device error frame surfaced to the caller
type ProtocolError struct {
	Code        byte
	Kind        ErrorKind
	CommandType CommandType
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: device rejected %s (code 0x%02X)", e.Kind, e.CommandType, e.Code)
}

// StatusError is a nonzero status returned in an otherwise well-formed
// response
type StatusError struct {
	Status      Status
	CommandType CommandType
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d", e.CommandType, e.Status)
}
