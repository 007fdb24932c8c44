// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ycbt

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Snapshot is a point-in-time copy of the engine counters
type Snapshot struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Receive path
	TotalFrames        uint64
	ValidFrames        uint64
	ChecksumErrors     uint64
	DecodeErrors       uint64
	ReassemblyErrors   uint64
	ErrorFrames        uint64
	UncorrelatedFrames uint64
	BytesIn            uint64

	// Send path
	Writes        uint64
	WriteFailures uint64
	Timeouts      uint64
	Retries       uint64
	Exhausted     uint64
	Cancelled     uint64
	BytesOut      uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// Statistics tracks frame and request counters for one client. It is safe
// for concurrent use.
type Statistics struct {
	mu sync.Mutex
	s  Snapshot
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{s: Snapshot{StartTime: now, LastUpdateTime: now}}
}

// RecordChunk counts raw notify bytes
func (st *Statistics) RecordChunk(n int) {
	st.mu.Lock()
	st.s.BytesIn += uint64(n)
	st.mu.Unlock()
}

// RecordFrame updates the receive counters for one decode attempt.
// frame may be nil when decoding failed outright.
func (st *Statistics) RecordFrame(frame *Frame, decodeErr error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.s.TotalFrames++
	st.s.LastUpdateTime = time.Now()

	switch {
	case errors.Is(decodeErr, ErrChecksumMismatch):
		st.s.ChecksumErrors++
	case decodeErr != nil:
		st.s.DecodeErrors++
	case frame != nil && frame.IsErrorFrame():
		st.s.ErrorFrames++
	default:
		st.s.ValidFrames++
	}
}

// RecordReassemblyError counts a dropped chunk or discarded buffer
func (st *Statistics) RecordReassemblyError() {
	st.mu.Lock()
	st.s.ReassemblyErrors++
	st.mu.Unlock()
}

// RecordUncorrelated counts a frame that matched no in-flight request
func (st *Statistics) RecordUncorrelated() {
	st.mu.Lock()
	st.s.UncorrelatedFrames++
	st.mu.Unlock()
}

func (st *Statistics) recordWrite(n int, retry bool) {
	st.mu.Lock()
	st.s.Writes++
	st.s.BytesOut += uint64(n)
	if retry {
		st.s.Retries++
	}
	st.mu.Unlock()
}

func (st *Statistics) recordWriteFailure() {
	st.mu.Lock()
	st.s.WriteFailures++
	st.mu.Unlock()
}

func (st *Statistics) recordTimeout() {
	st.mu.Lock()
	st.s.Timeouts++
	st.mu.Unlock()
}

func (st *Statistics) recordExhausted() {
	st.mu.Lock()
	st.s.Exhausted++
	st.mu.Unlock()
}

func (st *Statistics) recordCancelled() {
	st.mu.Lock()
	st.s.Cancelled++
	st.mu.Unlock()
}

// Snapshot returns a copy of the counters with rates calculated
func (st *Statistics) Snapshot() Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := st.s
	elapsed := time.Since(out.StartTime).Seconds()
	if elapsed > 0 {
		out.FrameRate = float64(out.TotalFrames) / elapsed
		out.ErrorRate = float64(out.errorCount()) / elapsed
	}
	return out
}

// Reset resets all statistics counters
func (st *Statistics) Reset() {
	now := time.Now()
	st.mu.Lock()
	st.s = Snapshot{StartTime: now, LastUpdateTime: now}
	st.mu.Unlock()
}

// String returns a formatted statistics summary
func (st *Statistics) String() string {
	return st.Snapshot().String()
}

func (s Snapshot) errorCount() uint64 {
	return s.ChecksumErrors + s.DecodeErrors + s.ReassemblyErrors + s.ErrorFrames + s.WriteFailures + s.Exhausted
}

// String returns a formatted statistics summary
func (s Snapshot) String() string {
	percent := func(n uint64) float64 {
		if s.TotalFrames == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(s.TotalFrames)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== Statistics (%.0f seconds) ===\n", time.Since(s.StartTime).Seconds())
	fmt.Fprintf(&b, "Total Frames:    %8d\n", s.TotalFrames)
	fmt.Fprintf(&b, "Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, percent(s.ValidFrames))

	if s.ChecksumErrors > 0 {
		fmt.Fprintf(&b, "Checksum Errors: %8d (%.1f%%)\n", s.ChecksumErrors, percent(s.ChecksumErrors))
	}
	if s.DecodeErrors > 0 {
		fmt.Fprintf(&b, "Decode Errors:   %8d (%.1f%%)\n", s.DecodeErrors, percent(s.DecodeErrors))
	}
	if s.ErrorFrames > 0 {
		fmt.Fprintf(&b, "Error Frames:    %8d (%.1f%%)\n", s.ErrorFrames, percent(s.ErrorFrames))
	}
	if s.ReassemblyErrors > 0 {
		fmt.Fprintf(&b, "Reassembly Errs: %8d\n", s.ReassemblyErrors)
	}
	if s.UncorrelatedFrames > 0 {
		fmt.Fprintf(&b, "Uncorrelated:    %8d\n", s.UncorrelatedFrames)
	}

	fmt.Fprintf(&b, "Writes:          %8d (%d bytes)\n", s.Writes, s.BytesOut)
	if s.Retries > 0 {
		fmt.Fprintf(&b, "  Retries:          %5d\n", s.Retries)
	}
	if s.Timeouts > 0 {
		fmt.Fprintf(&b, "  Timeouts:         %5d\n", s.Timeouts)
	}
	if s.Exhausted > 0 {
		fmt.Fprintf(&b, "  Abandoned:        %5d\n", s.Exhausted)
	}
	if s.WriteFailures > 0 {
		fmt.Fprintf(&b, "  Write Failures:   %5d\n", s.WriteFailures)
	}
	if s.Cancelled > 0 {
		fmt.Fprintf(&b, "  Cancelled:        %5d\n", s.Cancelled)
	}

	fmt.Fprintf(&b, "Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	fmt.Fprintf(&b, "Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	b.WriteString("================================\n")

	return b.String()
}
