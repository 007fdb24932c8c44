// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capture

import (
	"context"
	"sync"
	"time"

	"github.com/Thermoquad/annulus/pkg/transport"
	"github.com/Thermoquad/annulus/pkg/ycbt"
)

// Player is a link that replays captured RX and STATE records. Writes are
// accepted and discarded.
type Player struct {
	records []Record
	mtu     int
	speed   float64

	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

// NewPlayer replays records. speed scales the recorded gaps: 1 is real
// time, 0 replays as fast as possible.
func NewPlayer(records []Record, mtu int, speed float64) *Player {
	return &Player{records: records, mtu: mtu, speed: speed, done: make(chan struct{})}
}

func (p *Player) Describe() string { return "Replay" }

func (p *Player) MaxChunkSize() int { return transport.ChunkSize(p.mtu) }

func (p *Player) Write([]byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return transport.ErrClosed
	}
	return nil
}

// Start plays the records on a background goroutine
func (p *Player) Start(ctx context.Context, h transport.Handler) error {
	go p.play(ctx, h)
	return nil
}

// Done is closed when playback finishes or the player is closed
func (p *Player) Done() <-chan struct{} { return p.done }

func (p *Player) play(ctx context.Context, h transport.Handler) {
	defer p.Close()

	var last int64
	for i, rec := range p.records {
		if i > 0 && p.speed > 0 {
			gap := time.Duration(float64(rec.UnixNanos-last) / p.speed)
			if gap > 0 {
				select {
				case <-ctx.Done():
					return
				case <-p.done:
					return
				case <-time.After(gap):
				}
			}
		}
		last = rec.UnixNanos

		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		default:
		}

		switch rec.Direction {
		case RX:
			h.HandleNotification(rec.Data)
		case State:
			if len(rec.Data) == 1 {
				h.HandleStateChange(ycbt.ConnectionState(rec.Data[0]))
			}
		}
	}
}

func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	return nil
}
