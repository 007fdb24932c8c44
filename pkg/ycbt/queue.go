// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ycbt

import (
	"bytes"
	"sync"
	"time"

	"go.uber.org/zap"
)

// canonicalPayloads lists command types that accept exactly one payload.
// Anything else supplied by the caller is replaced before encoding.
var canonicalPayloads = map[CommandType][]byte{
	GetDeviceInfo:            {0x47, 0x43},
	GetDeviceSupportFunction: {0x47, 0x46},
	GetDeviceName:            {0x47, 0x50},
}

// CanonicalPayload returns the fixed payload for ct, if it has one
func CanonicalPayload(ct CommandType) ([]byte, bool) {
	p, ok := canonicalPayloads[ct]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(p))
	copy(out, p)
	return out, true
}

// Request is an outbound command as submitted by a caller. It is plain
// data; Encode turns it into wire bytes when it reaches the queue head.
type Request struct {
	CommandType CommandType
	Payload     []byte
	Group       byte // carried, never used for ordering
	Callback    Callback

	// exhausted runs ahead of Callback when retries ran out
	exhausted func()
}

// PendingRequest is a Request owned by the SendQueue from submission until
// it is popped
type PendingRequest struct {
	Request

	finished bool
	owed     bool // a retry waits for the stalled write to return
	retries  int
}

// Retries returns how many times the request has been re-sent
func (p *PendingRequest) Retries() int {
	return p.retries
}

// Completion describes what the queue did with a routed frame
type Completion int

const (
	// Completed means the frame resolved the head request
	Completed Completion = iota
	// Unsolicited means nothing was in flight
	Unsolicited
	// Mismatched means strict correlation rejected the frame
	Mismatched
	// Duplicate means the head was already resolved and awaits its write
	Duplicate
)

// QueueConfig holds the timing and policy knobs of a SendQueue
type QueueConfig struct {
	Timeout       time.Duration
	SettleDelay   time.Duration
	MaxRetries    int
	FireAndForget map[CommandType]bool
	Logger        *zap.Logger
	Stats         *Statistics
}

// SendQueue is the single-flight FIFO of outbound requests. It encodes the
// head request, hands the bytes to the write function and retries on
// timeout. At most one request is awaiting a response at any time.
type SendQueue struct {
	mu sync.Mutex

	cfg   QueueConfig
	write func([]byte) error
	log   *zap.Logger
	stats *Statistics

	items     []*PendingRequest
	ready     bool
	streaming bool
	inFlight  bool
	writing   bool
	settling  bool

	// busy is set while a write call is outstanding, whatever its cycle.
	// Nothing new is written until it returns.
	busy bool

	// gen changes whenever the head's in-flight cycle ends so stale timers
	// and write completions can recognise themselves
	gen    uint64
	timer  *time.Timer
	settle *time.Timer
}

// NewSendQueue creates a queue that writes encoded frames with write.
// write may block; it is never called with the queue lock held.
func NewSendQueue(write func([]byte) error, cfg QueueConfig) *SendQueue {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Stats == nil {
		cfg.Stats = NewStatistics()
	}
	return &SendQueue{
		cfg:   cfg,
		write: write,
		log:   cfg.Logger,
		stats: cfg.Stats,
	}
}

// Len returns the number of queued requests including the in-flight one
func (q *SendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// InFlight returns the command type awaiting a response, if any
func (q *SendQueue) InFlight() (CommandType, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.inFlight || len(q.items) == 0 {
		return 0, false
	}
	return q.items[0].CommandType, true
}

// Push appends a request to the tail and advances if the queue is idle
func (q *SendQueue) Push(r Request) {
	req := &PendingRequest{Request: r}
	q.mu.Lock()
	q.items = append(q.items, req)
	q.log.Debug("request queued",
		zap.Stringer("command_type", req.CommandType),
		zap.Int("len", len(req.Payload)),
		zap.Int("depth", len(q.items)))
	q.advanceLocked()
	q.mu.Unlock()
}

// PushFront places a request ahead of every request that is not yet in
// flight
func (q *SendQueue) PushFront(r Request) {
	req := &PendingRequest{Request: r}
	q.mu.Lock()
	at := 0
	if q.inFlight {
		at = 1
	}
	q.items = append(q.items, nil)
	copy(q.items[at+1:], q.items[at:])
	q.items[at] = req
	q.log.Debug("request queued at front",
		zap.Stringer("command_type", req.CommandType),
		zap.Int("depth", len(q.items)))
	q.advanceLocked()
	q.mu.Unlock()
}

// SetReady opens or closes the write gate. Opening it advances the queue.
func (q *SendQueue) SetReady(ready bool) {
	q.mu.Lock()
	q.ready = ready
	q.advanceLocked()
	q.mu.Unlock()
}

// SetStreaming suppresses advancing while the device streams unsolicited
// data. Clearing it advances the queue.
func (q *SendQueue) SetStreaming(on bool) {
	q.mu.Lock()
	q.streaming = on
	q.advanceLocked()
	q.mu.Unlock()
}

// Streaming reports whether advancing is suppressed
func (q *SendQueue) Streaming() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.streaming
}

// Kick attempts to advance an idle queue
func (q *SendQueue) Kick() {
	q.mu.Lock()
	q.advanceLocked()
	q.mu.Unlock()
}

// Reset abandons every queued request and cancels all timers. Callbacks of
// abandoned requests receive StatusCancelled once the lock is released.
// Reset on an empty queue is a no-op.
func (q *SendQueue) Reset() {
	q.mu.Lock()
	abandoned := q.items
	q.items = nil
	q.stopTimersLocked()
	q.gen++
	q.inFlight = false
	q.writing = false
	q.settling = false
	q.mu.Unlock()

	if len(abandoned) > 0 {
		q.log.Debug("queue reset", zap.Int("abandoned", len(abandoned)))
	}

	for _, req := range abandoned {
		if req.finished {
			continue
		}
		q.stats.recordCancelled()
		if req.Callback != nil {
			req.Callback(StatusCancelled, nil)
		}
	}
}

// Complete resolves the in-flight request with a routed outcome. With
// strict set, a frame whose command type differs from the head is
// rejected; otherwise the mismatch is logged and the head still resolves.
func (q *SendQueue) Complete(o Outcome, strict bool) Completion {
	q.mu.Lock()

	if !q.inFlight || len(q.items) == 0 {
		q.mu.Unlock()
		return Unsolicited
	}

	head := q.items[0]
	if head.finished {
		q.mu.Unlock()
		return Duplicate
	}

	if head.CommandType != o.CommandType {
		if strict {
			q.mu.Unlock()
			return Mismatched
		}
		q.log.Debug("response does not match in-flight request",
			zap.Stringer("command_type", o.CommandType),
			zap.Stringer("expected", head.CommandType))
	}

	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}

	if q.writing {
		// popped once the write completes
		head.finished = true
	} else {
		q.popLocked()
		q.scheduleAdvanceLocked()
	}
	q.mu.Unlock()

	if head.Callback != nil {
		head.Callback(o.Status, o.Result)
	}
	return Completed
}

// advanceLocked writes the head request if nothing is in flight
func (q *SendQueue) advanceLocked() {
	if !q.ready || q.streaming || q.inFlight || q.settling || q.busy || len(q.items) == 0 {
		return
	}

	head := q.items[0]
	payload := q.correctPayload(head)

	frame, err := Encode(head.CommandType, payload)
	if err != nil {
		q.log.Warn("dropping unencodable request",
			zap.Stringer("command_type", head.CommandType),
			zap.Error(err))
		q.popLocked()
		q.stats.recordWriteFailure()
		if head.Callback != nil {
			go head.Callback(StatusWriteFailed, nil)
		}
		q.scheduleAdvanceLocked()
		return
	}

	q.gen++
	gen := q.gen
	q.inFlight = true
	q.writing = true
	q.busy = true

	if !q.cfg.FireAndForget[head.CommandType] {
		q.timer = time.AfterFunc(q.cfg.Timeout, func() { q.onTimeout(gen) })
	}

	q.log.Debug("writing request",
		zap.Stringer("command_type", head.CommandType),
		zap.Int("len", len(frame)),
		zap.Int("retry", head.retries))
	q.stats.recordWrite(len(frame), head.retries > 0)

	go func() {
		q.mu.Lock()
		stale := gen != q.gen
		q.mu.Unlock()
		if stale {
			// reset before the write started
			q.onWriteDone(gen, nil)
			return
		}
		err := q.write(frame)
		q.onWriteDone(gen, err)
	}()
}

// correctPayload applies the canonical payload table to the head request
func (q *SendQueue) correctPayload(req *PendingRequest) []byte {
	canonical, ok := canonicalPayloads[req.CommandType]
	if !ok || bytes.Equal(canonical, req.Payload) {
		return req.Payload
	}
	q.log.Debug("substituting canonical payload",
		zap.Stringer("command_type", req.CommandType),
		zap.Binary("supplied", req.Payload),
		zap.Binary("sent", canonical))
	return canonical
}

// onWriteDone finishes the write half of an in-flight cycle
func (q *SendQueue) onWriteDone(gen uint64, err error) {
	q.mu.Lock()
	q.busy = false
	if gen != q.gen || !q.writing || len(q.items) == 0 {
		// a retry or the next request may be waiting on this write
		q.advanceLocked()
		q.mu.Unlock()
		return
	}
	q.writing = false
	head := q.items[0]

	var status Status
	var notify bool

	switch {
	case err != nil:
		q.log.Warn("transport write failed",
			zap.Stringer("command_type", head.CommandType),
			zap.Error(err))
		q.stats.recordWriteFailure()
		q.stopTimersLocked()
		q.popLocked()
		q.scheduleAdvanceLocked()
		if !head.finished {
			status, notify = StatusWriteFailed, true
		}

	case head.finished:
		q.popLocked()
		q.scheduleAdvanceLocked()

	case head.owed:
		head.owed = false
		q.gen++
		q.inFlight = false
		q.advanceLocked()

	case q.cfg.FireAndForget[head.CommandType]:
		q.popLocked()
		q.scheduleAdvanceLocked()
		status, notify = StatusOK, true
	}
	q.mu.Unlock()

	if notify && head.Callback != nil {
		head.Callback(status, nil)
	}
}

// onTimeout retries or abandons the head request
func (q *SendQueue) onTimeout(gen uint64) {
	q.mu.Lock()
	if gen != q.gen || !q.inFlight || len(q.items) == 0 {
		q.mu.Unlock()
		return
	}
	head := q.items[0]
	if head.finished {
		q.mu.Unlock()
		return
	}

	q.timer = nil
	q.stats.recordTimeout()

	if head.retries < q.cfg.MaxRetries {
		head.retries++
		q.log.Debug("request timed out, retrying",
			zap.Stringer("command_type", head.CommandType),
			zap.Int("retry", head.retries))
		if q.writing {
			// resent from onWriteDone
			head.owed = true
			q.mu.Unlock()
			return
		}
		q.gen++
		q.inFlight = false
		q.writing = false
		q.advanceLocked()
		q.mu.Unlock()
		return
	}

	q.log.Warn("request abandoned after retries",
		zap.Stringer("command_type", head.CommandType),
		zap.Int("retry", head.retries))
	q.stats.recordExhausted()
	q.popLocked()
	q.scheduleAdvanceLocked()
	q.mu.Unlock()

	if head.exhausted != nil {
		head.exhausted()
	}
	if head.Callback != nil {
		head.Callback(StatusFailed, nil)
	}
}

// popLocked removes the head and ends its in-flight cycle
func (q *SendQueue) popLocked() {
	q.items[0] = nil
	q.items = q.items[1:]
	q.gen++
	q.inFlight = false
	q.writing = false
}

// scheduleAdvanceLocked advances after the settle delay
func (q *SendQueue) scheduleAdvanceLocked() {
	if q.cfg.SettleDelay == 0 {
		q.advanceLocked()
		return
	}
	if q.settle != nil {
		q.settle.Stop()
	}
	q.settling = true
	gen := q.gen
	q.settle = time.AfterFunc(q.cfg.SettleDelay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if gen != q.gen {
			return
		}
		q.settling = false
		q.settle = nil
		q.advanceLocked()
	})
}

func (q *SendQueue) stopTimersLocked() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	if q.settle != nil {
		q.settle.Stop()
		q.settle = nil
	}
	q.settling = false
}
