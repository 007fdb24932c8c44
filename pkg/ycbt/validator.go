// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ycbt

import "fmt"

// AnomalyType represents different types of frame anomalies
type AnomalyType int

const (
	AnomalyChecksum AnomalyType = iota
	AnomalyErrorFrame
	AnomalyMissingStatus
	AnomalyLengthMismatch
	AnomalyUnknownCommand
)

// ValidationError represents a frame validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateFrame checks a decoded frame for anomalies.
// Returns a slice of validation errors (empty if the frame is clean).
func ValidateFrame(f *Frame) []ValidationError {
	errors := []ValidationError{}

	if !f.valid {
		errors = append(errors, ValidationError{
			Type:    AnomalyChecksum,
			Message: fmt.Sprintf("checksum mismatch (trailer 0x%04X)", f.checksum),
			Details: map[string]interface{}{"checksum": f.checksum},
		})
	}

	if int(f.length) != len(f.payload)+FrameOverhead {
		errors = append(errors, ValidationError{
			Type:    AnomalyLengthMismatch,
			Message: fmt.Sprintf("declared length %d, payload %d bytes", f.length, len(f.payload)),
			Details: map[string]interface{}{"length": f.length, "payload": len(f.payload)},
		})
	}

	if f.IsErrorFrame() {
		code := f.payload[0]
		errors = append(errors, ValidationError{
			Type:    AnomalyErrorFrame,
			Message: fmt.Sprintf("device error frame: %s (0x%02X)", ClassifyErrorCode(code), code),
			Details: map[string]interface{}{"code": code},
		})
		return errors
	}

	switch f.commandID {
	case CmdSetting, CmdGet, CmdAppControl:
		if len(f.payload) == 0 {
			errors = append(errors, ValidationError{
				Type:    AnomalyMissingStatus,
				Message: fmt.Sprintf("%s response has no status byte", f.CommandType()),
			})
		}
	}

	if _, known := commandNames[f.CommandType()]; !known {
		errors = append(errors, ValidationError{
			Type:    AnomalyUnknownCommand,
			Message: fmt.Sprintf("unknown command type 0x%04X", uint16(f.CommandType())),
			Details: map[string]interface{}{"command_type": uint16(f.CommandType())},
		})
	}

	return errors
}
