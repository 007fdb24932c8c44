// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ycbt

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// ConnectionState mirrors the transport lifecycle. The numeric values are
// the codes reported by the device SDK.
type ConnectionState int

// Connection states
const (
	StateTimedOut                  ConnectionState = 1
	StateNotOpen                   ConnectionState = 2
	StateDisconnected              ConnectionState = 3
	StateDisconnecting             ConnectionState = 4
	StateConnecting                ConnectionState = 5
	StateConnected                 ConnectionState = 6
	StateServicesDiscovered        ConnectionState = 7
	StateCharacteristicsDiscovered ConnectionState = 8
	StateNotificationsReady        ConnectionState = 9
	StateFullyOperational          ConnectionState = 10
)

// String returns the state name
func (s ConnectionState) String() string {
	return FormatState(s)
}

// Ready reports whether requests may be written in this state
func (s ConnectionState) Ready() bool {
	return s == StateNotificationsReady || s == StateFullyOperational
}

// Down reports whether the link is gone
func (s ConnectionState) Down() bool {
	return s >= StateTimedOut && s <= StateDisconnected
}

// StateListener is notified of every transition
type StateListener func(prev, next ConnectionState)

// BootstrapFunc returns the request written first after notifications are
// enabled. Returning false skips the bootstrap for this connection.
type BootstrapFunc func() (Request, bool)

type listenerEntry struct {
	id uint64
	fn StateListener
}

// StateTracker is the connection state machine. Transitions drive the
// send queue: disconnect-type states reset it, ready states open it and
// NotificationsReady queues the bootstrap request ahead of everything else.
type StateTracker struct {
	// transMu serializes whole transitions so queue side effects and
	// listener dispatch of one state never interleave with the next
	transMu sync.Mutex

	mu        sync.Mutex
	state     ConnectionState
	listeners []listenerEntry
	nextID    uint64

	queue     *SendQueue
	bootstrap BootstrapFunc
	log       *zap.Logger
}

// NewStateTracker creates a tracker in StateNotOpen driving queue
func NewStateTracker(queue *SendQueue, bootstrap BootstrapFunc, log *zap.Logger) *StateTracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &StateTracker{
		state:     StateNotOpen,
		queue:     queue,
		bootstrap: bootstrap,
		log:       log,
	}
}

// Current returns the current state
func (t *StateTracker) Current() ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Subscribe registers a listener and returns a func that removes it.
// Listeners run synchronously in registration order.
func (t *StateTracker) Subscribe(fn StateListener) func() {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.listeners = append(t.listeners, listenerEntry{id: id, fn: fn})
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			for i, l := range t.listeners {
				if l.id == id {
					t.listeners = append(t.listeners[:i:i], t.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Transition moves to next, applies queue side effects and notifies
// listeners. Repeating the current state is a no-op. Concurrent calls run
// one after another; listeners and bootstrap hooks must not call it.
func (t *StateTracker) Transition(next ConnectionState) {
	t.transMu.Lock()
	defer t.transMu.Unlock()

	t.mu.Lock()
	prev := t.state
	if prev == next {
		t.mu.Unlock()
		return
	}
	t.state = next
	listeners := make([]StateListener, len(t.listeners))
	for i, l := range t.listeners {
		listeners[i] = l.fn
	}
	t.mu.Unlock()

	t.log.Debug("connection state",
		zap.Stringer("from", prev),
		zap.Stringer("to", next))

	t.apply(prev, next)

	for _, fn := range listeners {
		fn(prev, next)
	}
}

// apply performs the queue side effects of entering next
func (t *StateTracker) apply(prev, next ConnectionState) {
	if t.queue == nil {
		return
	}

	if !next.Ready() {
		t.queue.SetReady(false)
	}

	switch next {
	case StateConnected:
		t.queue.Reset()
		t.queue.SetStreaming(false)

	case StateDisconnected, StateDisconnecting, StateTimedOut, StateNotOpen:
		t.queue.Reset()

	case StateNotificationsReady:
		if t.bootstrap != nil {
			if req, ok := t.bootstrap(); ok {
				t.log.Debug("queueing bootstrap request",
					zap.Stringer("command_type", req.CommandType))
				t.queue.PushFront(req)
			}
		}

	case StateFullyOperational:
		// the bootstrap request queued one step earlier must survive
		if prev != StateNotificationsReady {
			t.queue.Reset()
		}
		t.queue.SetStreaming(false)
	}

	if next.Ready() {
		t.queue.SetReady(true)
	}
}

// WaitOperational blocks until the tracker reaches StateFullyOperational.
// Returns ErrNotConnected if a transition into a down state is observed
// first, or ctx.Err().
func (t *StateTracker) WaitOperational(ctx context.Context) error {
	ch := make(chan ConnectionState, 16)
	unsubscribe := t.Subscribe(func(_, next ConnectionState) {
		select {
		case ch <- next:
		default:
		}
	})
	defer unsubscribe()

	check := func(s ConnectionState) (bool, error) {
		switch {
		case s == StateFullyOperational:
			return true, nil
		case s.Down():
			return true, ErrNotConnected
		}
		return false, nil
	}

	// the initial state is only checked for success so callers may wait
	// before the transport has started
	if t.Current() == StateFullyOperational {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-ch:
			if done, err := check(s); done {
				return err
			}
		}
	}
}
