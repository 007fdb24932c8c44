// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ycbt

import "fmt"

// Reassembler joins notify chunks that the transport split at its MTU.
//
// Only the first chunk of a fragmented frame carries the header; the rest
// are appended verbatim until the declared length is reached. At most one
// frame is reassembled at a time.
type Reassembler struct {
	state        int
	buffer       []byte
	fragmentSize int
}

// NewReassembler creates a reassembler. fragmentSize is the largest notify
// payload the transport delivers (MTU minus ATT overhead); only a chunk of
// exactly that size may start a fragmented frame.
func NewReassembler(fragmentSize int) *Reassembler {
	return &Reassembler{
		state:        reassemblyIdle,
		fragmentSize: fragmentSize,
	}
}

// FragmentSize returns the chunk size that starts a fragmented frame
func (r *Reassembler) FragmentSize() int {
	return r.fragmentSize
}

// Pending returns true while a fragmented frame is being accumulated
func (r *Reassembler) Pending() bool {
	return r.state == reassemblyAccumulating
}

// Buffered returns the number of bytes held for the pending frame
func (r *Reassembler) Buffered() int {
	return len(r.buffer)
}

// Reset drops any partially accumulated frame
func (r *Reassembler) Reset() {
	r.state = reassemblyIdle
	r.buffer = nil
}

// Feed processes one notify chunk.
// Returns the complete frame bytes, or nil while more chunks are needed.
// Returns an error when the chunk is dropped; the reassembler is idle
// again afterwards and the error is never fatal.
func (r *Reassembler) Feed(chunk []byte) ([]byte, error) {
	if len(chunk) == 0 {
		return nil, nil
	}

	switch r.state {
	case reassemblyAccumulating:
		combined := make([]byte, 0, len(r.buffer)+len(chunk))
		combined = append(combined, r.buffer...)
		combined = append(combined, chunk...)

		h, err := readHeader(combined)
		if err != nil {
			r.Reset()
			return nil, err
		}

		switch {
		case h.length == len(combined):
			r.Reset()
			return combined, nil
		case h.length > len(combined):
			r.buffer = combined
			return nil, nil
		default:
			r.Reset()
			return nil, fmt.Errorf("%w: declared %d, accumulated %d", ErrReassemblyOverflow, h.length, len(combined))
		}

	default:
		h, err := readHeader(chunk)
		if err != nil {
			return nil, err
		}

		if h.length == len(chunk) {
			out := make([]byte, len(chunk))
			copy(out, chunk)
			return out, nil
		}

		if len(chunk) != r.fragmentSize {
			return nil, fmt.Errorf("%w: declared %d, chunk %d", ErrLengthMismatch, h.length, len(chunk))
		}

		r.state = reassemblyAccumulating
		r.buffer = make([]byte, len(chunk))
		copy(r.buffer, chunk)
		return nil, nil
	}
}
