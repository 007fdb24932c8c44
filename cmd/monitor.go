// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/annulus/pkg/ycbt"
)

var monitorCmd = &cobra.Command{
	Use:     "monitor",
	Aliases: []string{"control"},
	Short:   "Interactive TUI for talking to a ring",
	Long: `Monitor and control a ring via an interactive terminal UI.

Features:
  - Connection state and bring-up progress
  - Device info, name and find-my-ring
  - Time sync and health history download
  - Heart rate and SpO2 measurements with real-time upload
  - Raw commands typed as "TYPE [HEX PAYLOAD]"
  - Statistics, queue depth and an event log
  - Automatic reconnection on connection loss

Tab switches between the command list and the raw command input. Arrow keys
navigate the command list and Enter runs the selected command.

Supports BLE, serial bridge, WebSocket relay and loopback links.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

// sessionManager owns the current session and replaces it on reconnect
type sessionManager struct {
	mu      sync.RWMutex
	current *session
	ctx     context.Context
	events  chan tea.Msg
	lost    chan struct{}

	minBackoff time.Duration
	maxBackoff time.Duration
}

func newSessionManager(ctx context.Context) *sessionManager {
	return &sessionManager{
		ctx:        ctx,
		events:     make(chan tea.Msg, 256),
		lost:       make(chan struct{}, 1),
		minBackoff: 1 * time.Second,
		maxBackoff: 30 * time.Second,
	}
}

func (sm *sessionManager) get() *session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

func (sm *sessionManager) set(s *session) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.current = s
}

// adopt makes s current. A session that dropped before it was adopted is
// reported lost at once.
func (sm *sessionManager) adopt(s *session) {
	sm.set(s)
	if s.client.CurrentState().Down() {
		sm.signalLost()
	}
}

func (sm *sessionManager) signalLost() {
	select {
	case sm.lost <- struct{}{}:
	default:
	}
}

// forward hands a message to the TUI without blocking past shutdown
func (sm *sessionManager) forward(msg tea.Msg) {
	select {
	case sm.events <- msg:
	case <-sm.ctx.Done():
	}
}

// open starts a session whose callbacks feed the TUI. Only the current
// session can signal a lost connection; closing a replaced one cannot.
func (sm *sessionManager) open() (*session, error) {
	var owner atomic.Pointer[session]
	s, err := openSession(sm.ctx, sessionOptions{
		observer: func(f *ycbt.Frame, err error) {
			if err != nil {
				sm.forward(newFrameMsg(f, err))
			}
		},
		unsolicited: func(f *ycbt.Frame, o ycbt.Outcome) {
			sm.forward(unsolicitedMsg{frame: f, outcome: o})
		},
		listener: func(_, next ycbt.ConnectionState) {
			sm.forward(stateMsg(next))
			if next == ycbt.StateDisconnected {
				if self := owner.Load(); self == nil || self != sm.get() {
					return
				}
				sm.signalLost()
			}
		},
	})
	if err != nil {
		return nil, err
	}
	owner.Store(s)
	return s, nil
}

// superviseLoop waits for connection loss and reconnects
func (sm *sessionManager) superviseLoop() {
	for {
		select {
		case <-sm.ctx.Done():
			return
		case <-sm.lost:
		}

		sm.forward(connectionLostMsg{})
		if s := sm.get(); s != nil {
			sm.set(nil)
			s.Close()
		}
		if !sm.reconnect() {
			return
		}
	}
}

// reconnect attempts to reconnect with exponential backoff.
// Returns false if shutdown was requested during reconnection.
func (sm *sessionManager) reconnect() bool {
	backoff := sm.minBackoff

	for {
		select {
		case <-sm.ctx.Done():
			return false
		case <-time.After(backoff):
		}

		s, err := sm.open()
		if err == nil {
			sm.adopt(s)
			sm.forward(reconnectedMsg{client: s.client, connInfo: s.link.Describe()})
			return true
		}
		logger.Debug("reconnect failed", zap.Error(err), zap.Duration("backoff", backoff))

		backoff *= 2
		if backoff > sm.maxBackoff {
			backoff = sm.maxBackoff
		}
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	sm := newSessionManager(ctx)

	s, err := sm.open()
	if err != nil {
		return err
	}
	sm.adopt(s)
	defer func() {
		if s := sm.get(); s != nil {
			s.Close()
		}
	}()

	go sm.superviseLoop()

	m := initialMonitorModel(ctx, s.client, s.link.Describe(), sm.events)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}
