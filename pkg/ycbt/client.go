// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ycbt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Transport is the write side of the link. Notify chunks and lifecycle
// events flow the other way through Client.HandleNotification and
// Client.HandleStateChange.
type Transport interface {
	// Write sends one encoded frame to the write characteristic
	Write(data []byte) error

	// MaxChunkSize is the largest notify chunk the transport delivers
	MaxChunkSize() int
}

// Client is one protocol session with one device. It owns the
// reassembler, router, send queue and state tracker for that connection.
type Client struct {
	transport Transport
	cfg       Config
	log       *zap.Logger
	stats     *Statistics

	router  *Router
	queue   *SendQueue
	tracker *StateTracker

	// notifyMu serialises the receive path and guards reassembler
	notifyMu    sync.Mutex
	reassembler *Reassembler
}

// New creates a client writing through t
func New(t Transport, opts ...Option) *Client {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Client{
		transport:   t,
		cfg:         cfg,
		log:         cfg.Logger,
		stats:       NewStatistics(),
		router:      NewRouter(),
		reassembler: NewReassembler(t.MaxChunkSize()),
	}

	c.queue = NewSendQueue(t.Write, QueueConfig{
		Timeout:       cfg.Timeout,
		SettleDelay:   cfg.SettleDelay,
		MaxRetries:    cfg.MaxRetries,
		FireAndForget: cfg.FireAndForget,
		Logger:        cfg.Logger,
		Stats:         c.stats,
	})
	c.tracker = NewStateTracker(c.queue, cfg.Bootstrap, cfg.Logger)

	c.tracker.Subscribe(func(_, next ConnectionState) {
		if next == StateConnected || next.Down() || next == StateDisconnecting {
			c.notifyMu.Lock()
			c.reassembler.Reset()
			c.notifyMu.Unlock()
		}
	})

	return c
}

// Router returns the client's router so callers can register handlers
// for additional command families
func (c *Client) Router() *Router {
	return c.router
}

// Submit queues a request. cb runs once with the outcome, from a transport
// or timer goroutine. Submit never blocks on the transport.
func (c *Client) Submit(ct CommandType, payload []byte, cb Callback) error {
	return c.SubmitRequest(Request{CommandType: ct, Payload: payload, Callback: cb})
}

// SubmitRequest queues a prepared request
func (c *Client) SubmitRequest(r Request) error {
	if len(r.Payload)+FrameOverhead > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(r.Payload), MaxFrameSize-FrameOverhead)
	}
	p := make([]byte, len(r.Payload))
	copy(p, r.Payload)
	r.Payload = p

	c.queue.Push(r)
	return nil
}

// Do submits a request and waits for its outcome.
//
// The returned error is a *ProtocolError for device error frames,
// ErrTimeout after the last retry, ErrCancelled if the queue was reset,
// ErrWriteFailed if the transport rejected the write and a *StatusError
// for any other nonzero status. Cancelling ctx stops the wait but leaves
// the request queued.
func (c *Client) Do(ctx context.Context, ct CommandType, payload []byte) (*Response, error) {
	return c.DoRequest(ctx, Request{CommandType: ct, Payload: payload})
}

// DoRequest is Do for a prepared request. r.Callback, if set, is still
// called with the outcome.
func (c *Client) DoRequest(ctx context.Context, r Request) (*Response, error) {
	type result struct {
		status Status
		resp   *Response
	}
	done := make(chan result, 1)

	var expired atomic.Bool
	r.exhausted = func() { expired.Store(true) }
	cb := r.Callback
	r.Callback = func(status Status, resp *Response) {
		if cb != nil {
			cb(status, resp)
		}
		done <- result{status, resp}
	}
	if err := c.SubmitRequest(r); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if err := statusError(r.CommandType, res.status, res.resp, expired.Load()); err != nil {
			return res.resp, err
		}
		if res.resp == nil {
			return &Response{CommandType: r.CommandType}, nil
		}
		return res.resp, nil
	}
}

// statusError maps a callback status to the error Do returns. expired
// tells a retry timeout apart from a device reporting status 1.
func statusError(ct CommandType, status Status, resp *Response, expired bool) error {
	switch {
	case status == StatusOK:
		return nil
	case status == StatusCancelled:
		return fmt.Errorf("%w: %s", ErrCancelled, ct)
	case status == StatusWriteFailed:
		return fmt.Errorf("%w: %s", ErrWriteFailed, ct)
	case status == StatusFailed && expired:
		return fmt.Errorf("%w: %s", ErrTimeout, ct)
	case status >= Status(ErrCodeUnsupportedCommandID) && status <= Status(ErrCodeChecksum) && resp == nil:
		code := byte(status)
		return &ProtocolError{Code: code, Kind: ClassifyErrorCode(code), CommandType: ct}
	default:
		return &StatusError{Status: status, CommandType: ct}
	}
}

// HandleNotification processes one notify chunk from the transport.
// Callbacks of resolved requests run before it returns and must not call
// HandleNotification themselves.
func (c *Client) HandleNotification(chunk []byte) {
	c.stats.RecordChunk(len(chunk))

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	raw, err := c.reassembler.Feed(chunk)
	if err != nil {
		c.stats.RecordReassemblyError()
		c.log.Debug("dropping notify chunk", zap.Int("len", len(chunk)), zap.Error(err))
		return
	}
	if raw == nil {
		return
	}

	frame, err := Decode(raw, c.reassembler.FragmentSize())
	c.stats.RecordFrame(frame, err)
	if c.cfg.Observer != nil {
		c.cfg.Observer(frame, err)
	}
	if frame == nil {
		c.log.Debug("dropping undecodable frame", zap.Int("len", len(raw)), zap.Error(err))
		return
	}

	var crcErr *ChecksumError
	if errors.As(err, &crcErr) {
		c.log.Warn("checksum mismatch",
			zap.Stringer("command_type", frame.CommandType()),
			zap.Uint16("expected", crcErr.Expected),
			zap.Uint16("actual", crcErr.Actual))
		if c.cfg.StrictChecksum {
			return
		}
	}

	c.dispatch(frame)
}

// dispatch routes a decoded frame and resolves the in-flight request
func (c *Client) dispatch(frame *Frame) {
	o := c.router.Route(frame)
	if o.Error != nil {
		c.log.Info("device error frame",
			zap.Stringer("command_type", o.CommandType),
			zap.Stringer("kind", o.Error.Kind))
	}

	switch c.queue.Complete(o, c.cfg.StrictCorrelation) {
	case Unsolicited, Mismatched:
		c.stats.RecordUncorrelated()
		if c.cfg.Unsolicited != nil {
			c.cfg.Unsolicited(frame, o)
		}
	case Duplicate:
		c.log.Debug("ignoring frame for resolved request",
			zap.Stringer("command_type", o.CommandType))
	}
}

// HandleStateChange feeds a transport lifecycle event to the state tracker
func (c *Client) HandleStateChange(state ConnectionState) {
	c.tracker.Transition(state)
}

// OnConnectionStateChange registers a listener and returns its unsubscribe
// func
func (c *Client) OnConnectionStateChange(listener StateListener) func() {
	return c.tracker.Subscribe(listener)
}

// ResetQueue cancels every queued request
func (c *Client) ResetQueue() {
	c.queue.Reset()
}

// CurrentState returns the connection state
func (c *Client) CurrentState() ConnectionState {
	return c.tracker.Current()
}

// SetStreaming holds the queue while the device streams real-time data
func (c *Client) SetStreaming(on bool) {
	c.queue.SetStreaming(on)
}

// WaitOperational blocks until the connection is fully operational
func (c *Client) WaitOperational(ctx context.Context) error {
	return c.tracker.WaitOperational(ctx)
}

// Statistics returns a snapshot of the client counters
func (c *Client) Statistics() Snapshot {
	return c.stats.Snapshot()
}

// QueueLen returns the number of queued requests
func (c *Client) QueueLen() int {
	return c.queue.Len()
}
