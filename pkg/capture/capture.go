// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package capture records link traffic to a CBOR stream and plays it back.
//
// A capture file is a sequence of CBOR arrays, one per event:
//
//	[direction, unix_nanos, data]
//
// Direction RX holds a notify chunk, TX a written frame and STATE a single
// ConnectionState byte.
package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Direction of a captured event
type Direction uint8

const (
	RX    Direction = 1
	TX    Direction = 2
	State Direction = 3
)

func (d Direction) String() string {
	switch d {
	case RX:
		return "RX"
	case TX:
		return "TX"
	case State:
		return "STATE"
	default:
		return fmt.Sprintf("DIR(%d)", uint8(d))
	}
}

// Record is one captured event
type Record struct {
	_         struct{} `cbor:",toarray"`
	Direction Direction
	UnixNanos int64
	Data      []byte
}

// Time returns the record timestamp
func (r Record) Time() time.Time {
	return time.Unix(0, r.UnixNanos)
}

// Writer appends records to a stream. It is safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	enc *cbor.Encoder
	now func() time.Time
}

// NewWriter creates a writer on w
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: cbor.NewEncoder(w), now: time.Now}
}

// Write records one event stamped with the current time
func (w *Writer) Write(dir Direction, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(Record{Direction: dir, UnixNanos: w.now().UnixNano(), Data: data})
}

// Reader reads records from a stream
type Reader struct {
	dec *cbor.Decoder
}

// NewReader creates a reader on r
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record, or io.EOF at the end of the stream
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("failed to decode capture record: %w", err)
	}
	return rec, nil
}

// ReadAll reads every record in r
func ReadAll(r io.Reader) ([]Record, error) {
	reader := NewReader(r)
	var out []Record
	for {
		rec, err := reader.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
