// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/Thermoquad/annulus/internal/config"
	"github.com/Thermoquad/annulus/pkg/capture"
	"github.com/Thermoquad/annulus/pkg/transport"
	"github.com/Thermoquad/annulus/pkg/ycbt"
)

// useLoopback points the command globals at a simulated ring
func useLoopback(t *testing.T) {
	t.Helper()
	cfg = &config.Config{
		Link: config.LinkConfig{Loopback: true, MTU: 23},
		Protocol: config.ProtocolConfig{
			Timeout:           time.Second,
			MaxRetries:        3,
			SyncTimeOnConnect: true,
		},
		Metrics: config.MetricsConfig{Path: "/metrics"},
	}
	logger = zaptest.NewLogger(t)
}

func TestParseHex(t *testing.T) {
	for _, in := range []string{"4743", "47 43", "47:43", "0x47 0x43"} {
		got, err := parseHex(in)
		require.NoError(t, err, in)
		assert.Equal(t, []byte{0x47, 0x43}, got, in)
	}

	got, err := parseHex("")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = parseHex("4G")
	assert.Error(t, err)
}

func TestParseRawCommand(t *testing.T) {
	ct, payload, err := parseRawCommand("GET_DEVICE_NAME 47 43")
	require.NoError(t, err)
	assert.Equal(t, ycbt.GetDeviceName, ct)
	assert.Equal(t, []byte{0x47, 0x43}, payload)

	ct, payload, err = parseRawCommand("0x0300")
	require.NoError(t, err)
	assert.Equal(t, ycbt.AppFindDevice, ct)
	assert.Empty(t, payload)

	_, _, err = parseRawCommand("   ")
	assert.Error(t, err)
	_, _, err = parseRawCommand("NOT_A_COMMAND")
	assert.Error(t, err)
}

func TestFormatData(t *testing.T) {
	assert.Equal(t, "OK", formatData(nil))
	assert.Equal(t, `"Annulus Ring"`, formatData([]byte("Annulus Ring")))
	assert.Equal(t, "12 34 00", formatData([]byte{0x12, 0x34, 0x00}))
}

func TestWaitFlagsKeepGlobalTimeout(t *testing.T) {
	for _, c := range []*cobra.Command{scanCmd, pingCmd, packetTestCmd} {
		assert.NotNil(t, c.LocalFlags().Lookup("wait"), c.Name())
		assert.Nil(t, c.LocalFlags().Lookup("timeout"), c.Name())
		assert.NotNil(t, c.InheritedFlags().Lookup("timeout"), c.Name())
	}
}

func TestOpenLink_RequiresMode(t *testing.T) {
	_, err := OpenLink(config.LinkConfig{MTU: 23}, zaptest.NewLogger(t))
	assert.Error(t, err)

	link, err := OpenLink(config.LinkConfig{Loopback: true, MTU: 23}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "Loopback", link.Describe())
}

func TestOpenSession_Loopback(t *testing.T) {
	useLoopback(t)
	capturePath := filepath.Join(t.TempDir(), "session.cbor")

	var mu sync.Mutex
	var states []ycbt.ConnectionState
	listener := func(_, next ycbt.ConnectionState) {
		mu.Lock()
		states = append(states, next)
		mu.Unlock()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := openSession(ctx, sessionOptions{
		capturePath: capturePath,
		listener:    listener,
		wait:        true,
	})
	require.NoError(t, err)

	resp, err := s.client.DoRequest(ctx, ycbt.DeviceNameRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "Annulus Ring", string(resp.Data))
	s.Close()

	mu.Lock()
	assert.Contains(t, states, ycbt.StateFullyOperational)
	mu.Unlock()

	f, err := os.Open(capturePath)
	require.NoError(t, err)
	defer f.Close()
	records, err := capture.ReadAll(f)
	require.NoError(t, err)

	var tx int
	for _, r := range records {
		if r.Direction == capture.TX {
			tx++
		}
	}
	// time sync bootstrap plus the name request
	assert.GreaterOrEqual(t, tx, 2)
}

func TestOpenSession_CaptureCreateFailsClosesLink(t *testing.T) {
	useLoopback(t)
	lb := transport.NewLoopback(23, nil)
	openLink = func(config.LinkConfig, *zap.Logger) (transport.Link, error) { return lb, nil }
	t.Cleanup(func() { openLink = OpenLink })

	_, err := openSession(context.Background(), sessionOptions{
		capturePath: filepath.Join(t.TempDir(), "missing", "session.cbor"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capture file")
	assert.ErrorIs(t, lb.Write([]byte{0x00}), transport.ErrClosed)
}

func TestSessionManager_ReconnectsOnce(t *testing.T) {
	useLoopback(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sm := newSessionManager(ctx)
	sm.minBackoff = 5 * time.Millisecond
	sm.maxBackoff = 20 * time.Millisecond

	s, err := sm.open()
	require.NoError(t, err)
	sm.adopt(s)
	go sm.superviseLoop()
	defer func() {
		cancel()
		if cur := sm.get(); cur != nil {
			cur.Close()
		}
	}()

	lb, ok := s.link.(*transport.Loopback)
	require.True(t, ok)
	lb.SetState(ycbt.StateDisconnected)

	// closing the dropped session must not count as a second loss
	var lost, reconnected int
	deadline := time.After(500 * time.Millisecond)
collect:
	for {
		select {
		case msg := <-sm.events:
			switch msg.(type) {
			case connectionLostMsg:
				lost++
			case reconnectedMsg:
				reconnected++
			}
		case <-deadline:
			break collect
		}
	}
	assert.Equal(t, 1, lost)
	assert.Equal(t, 1, reconnected)

	cur := sm.get()
	require.NotNil(t, cur)
	assert.NotSame(t, s, cur)
	assert.Equal(t, ycbt.StateFullyOperational, cur.client.CurrentState())
}

func TestMonitorModel_Focus(t *testing.T) {
	useLoopback(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := openSession(ctx, sessionOptions{wait: true})
	require.NoError(t, err)
	defer s.Close()

	m := initialMonitorModel(ctx, s.client, s.link.Describe(), make(chan tea.Msg))
	assert.Equal(t, focusActionList, m.focused)

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = next.(monitorModel)
	assert.Equal(t, focusRawInput, m.focused)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = next.(monitorModel)
	assert.Equal(t, focusActionList, m.focused)
}

func TestMonitorModel_RunsSelectedAction(t *testing.T) {
	useLoopback(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := openSession(ctx, sessionOptions{wait: true})
	require.NoError(t, err)
	defer s.Close()

	m := initialMonitorModel(ctx, s.client, s.link.Describe(), make(chan tea.Msg))
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(monitorModel)
	require.NotNil(t, cmd)
	assert.True(t, m.busy)

	// the first action is device info
	msg := cmd()
	result, ok := msg.(actionResultMsg)
	require.True(t, ok)
	require.NoError(t, result.err)
	assert.Equal(t, "12 34 01 02 00 57", result.result)

	next, _ = m.Update(result)
	m = next.(monitorModel)
	assert.False(t, m.busy)
	require.NotEmpty(t, m.errorLog)
	assert.Contains(t, m.errorLog[len(m.errorLog)-1].message, "Device info")
}

func TestMonitorModel_ConnectionLost(t *testing.T) {
	useLoopback(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := openSession(ctx, sessionOptions{wait: true})
	require.NoError(t, err)
	defer s.Close()

	m := initialMonitorModel(ctx, s.client, s.link.Describe(), make(chan tea.Msg, 1))
	next, _ := m.Update(connectionLostMsg{})
	m = next.(monitorModel)
	assert.True(t, m.connectionLost)

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(monitorModel)
	assert.Nil(t, cmd)
	assert.Contains(t, m.errorLog[len(m.errorLog)-1].message, "connection lost")
}

func TestErrorDetectionModel_CountsAnomalies(t *testing.T) {
	src := &staticSource{state: ycbt.StateFullyOperational}
	m := initialModel("Loopback", 10, false, src, make(chan tea.Msg, 1))

	bad := ycbt.NewFrame(ycbt.GetDeviceName, []byte{0x00}, 0xBEEF, false)
	next, _ := m.Update(newFrameMsg(bad, &ycbt.ChecksumError{Expected: 1, Actual: 0xBEEF}))
	m = next.(model)
	assert.Equal(t, uint64(1), m.anomalies[ycbt.AnomalyChecksum])

	next, _ = m.Update(newFrameMsg(nil, ycbt.ErrTooShort))
	m = next.(model)
	last := m.errorLog[len(m.errorLog)-1]
	assert.True(t, last.isError)
	assert.Contains(t, last.message, "DECODE ERROR")

	assert.Contains(t, m.View(), "ERROR DETECTION")
}

type staticSource struct {
	snap  ycbt.Snapshot
	state ycbt.ConnectionState
}

func (s *staticSource) Statistics() ycbt.Snapshot          { return s.snap }
func (s *staticSource) QueueLen() int                      { return 0 }
func (s *staticSource) CurrentState() ycbt.ConnectionState { return s.state }
