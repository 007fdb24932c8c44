// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/annulus/pkg/ycbt"
)

// Focus states
const (
	focusActionList = iota
	focusRawInput
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// action is one entry of the command list. Actions without run act on
// the client directly from the UI goroutine.
type action struct {
	title string
	desc  string
	run   func(ctx context.Context, c *ycbt.Client) (string, error)
}

// Implement list.Item interface
func (a action) Title() string       { return a.title }
func (a action) Description() string { return a.desc }
func (a action) FilterValue() string { return a.title }

// request wraps a prepared request as an action body
func request(r ycbt.Request) func(context.Context, *ycbt.Client) (string, error) {
	return func(ctx context.Context, c *ycbt.Client) (string, error) {
		resp, err := c.DoRequest(ctx, r)
		if err != nil {
			return "", err
		}
		return formatData(resp.Data), nil
	}
}

func history(ct ycbt.CommandType) func(context.Context, *ycbt.Client) (string, error) {
	return func(ctx context.Context, c *ycbt.Client) (string, error) {
		r, err := ycbt.HealthHistoryRequest(ct, nil)
		if err != nil {
			return "", err
		}
		resp, err := c.DoRequest(ctx, r)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d bytes", len(resp.Data)), nil
	}
}

// measure starts or stops a measurement and toggles real-time upload with it
func measure(start bool, kind byte) func(context.Context, *ycbt.Client) (string, error) {
	return func(ctx context.Context, c *ycbt.Client) (string, error) {
		if _, err := c.DoRequest(ctx, ycbt.MeasurementRequest(start, kind, nil)); err != nil {
			return "", err
		}
		if _, err := c.DoRequest(ctx, ycbt.RealTimeRequest(start, nil)); err != nil {
			return "", err
		}
		c.SetStreaming(start)
		if start {
			return "started", nil
		}
		return "stopped", nil
	}
}

func monitorActions() []action {
	return []action{
		{"Device info", "GET_DEVICE_INFO", request(ycbt.DeviceInfoRequest(nil))},
		{"Device name", "GET_DEVICE_NAME", request(ycbt.DeviceNameRequest(nil))},
		{"Functions", "GET_DEVICE_SUPPORT_FUNCTION", request(ycbt.SupportFunctionRequest(nil))},
		{"Find ring", "Vibrate the ring", request(ycbt.FindDeviceRequest(nil))},
		{"Sync time", "Set clock and zone from host", func(ctx context.Context, c *ycbt.Client) (string, error) {
			if _, err := c.DoRequest(ctx, ycbt.TimeSyncRequest(time.Now, nil)); err != nil {
				return "", err
			}
			if _, err := c.DoRequest(ctx, ycbt.TimeZoneRequest(time.Now, nil)); err != nil {
				return "", err
			}
			return time.Now().Format("15:04:05 MST"), nil
		}},
		{"Heart rate", "Start measurement", measure(true, ycbt.MeasureHeartRate)},
		{"SpO2", "Start measurement", measure(true, ycbt.MeasureSpO2)},
		{"Stop", "Stop measurement", measure(false, ycbt.MeasureHeartRate)},
		{"Sleep history", "HEALTH_HISTORY_SLEEP", history(ycbt.HealthHistorySleep)},
		{"Heart history", "HEALTH_HISTORY_HEART", history(ycbt.HealthHistoryHeart)},
		{title: "Reset queue", desc: "Cancel all pending requests"},
	}
}

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	ctx      context.Context
	client   *ycbt.Client
	connInfo string
	events   <-chan tea.Msg

	actions  list.Model
	rawInput textinput.Model
	focused  int

	state         ycbt.ConnectionState
	snap          ycbt.Snapshot
	queueLen      int
	busy          bool
	lastReal      *ycbt.Frame
	errorLog      []errorLogEntry
	maxLogEntries int

	width          int
	height         int
	quitting       bool
	connectionLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type monitorTickMsg time.Time

type unsolicitedMsg struct {
	frame   *ycbt.Frame
	outcome ycbt.Outcome
}

type actionResultMsg struct {
	title  string
	result string
	err    error
	rtt    time.Duration
}

type connectionLostMsg struct{}

type reconnectedMsg struct {
	client   *ycbt.Client
	connInfo string
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialMonitorModel(ctx context.Context, client *ycbt.Client, connInfo string, events <-chan tea.Msg) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "GET_DEVICE_NAME 4743"
	ti.CharLimit = 256
	ti.Width = 40

	items := []list.Item{}
	for _, a := range monitorActions() {
		items = append(items, a)
	}
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	actions := list.New(items, delegate, 32, 14)
	actions.Title = "Commands"
	actions.SetShowStatusBar(false)
	actions.SetShowHelp(false)
	actions.SetFilteringEnabled(false)

	return monitorModel{
		ctx:           ctx,
		client:        client,
		connInfo:      connInfo,
		events:        events,
		actions:       actions,
		rawInput:      ti,
		focused:       focusActionList,
		state:         client.CurrentState(),
		snap:          client.Statistics(),
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(monitorTickCmd(), waitForEvent(m.events))
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.actions.SetHeight(max(6, m.height-20))

	case monitorTickMsg:
		m.snap = m.client.Statistics()
		m.queueLen = m.client.QueueLen()
		return m, monitorTickCmd()

	case stateMsg:
		m.state = ycbt.ConnectionState(msg)
		m.addLogEntry("Connection "+ycbt.FormatState(m.state), m.state == ycbt.StateDisconnected)
		return m, waitForEvent(m.events)

	case frameMsg:
		m.addLogEntry(fmt.Sprintf("DECODE ERROR: %v", msg.decodeErr), true)
		return m, waitForEvent(m.events)

	case unsolicitedMsg:
		m.handleUnsolicited(msg)
		return m, waitForEvent(m.events)

	case connectionLostMsg:
		m.connectionLost = true
		m.addLogEntry("Connection lost, reconnecting...", true)
		return m, waitForEvent(m.events)

	case reconnectedMsg:
		m.connectionLost = false
		m.client = msg.client
		m.connInfo = msg.connInfo
		m.addLogEntry("Reconnected to "+msg.connInfo, false)
		return m, waitForEvent(m.events)

	case actionResultMsg:
		m.busy = false
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("%s: %v", msg.title, msg.err), true)
		} else {
			m.addLogEntry(fmt.Sprintf("%s: %s (%v)", msg.title, msg.result, msg.rtt.Round(time.Millisecond)), false)
		}
	}

	return m, nil
}

func (m monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "q":
		if m.focused != focusRawInput {
			m.quitting = true
			return m, tea.Quit
		}

	case "tab", "shift+tab":
		if m.focused == focusActionList {
			m.focused = focusRawInput
			m.rawInput.Focus()
		} else {
			m.focused = focusActionList
			m.rawInput.Blur()
		}
		return m, nil

	case "enter":
		return m.handleEnter()
	}

	var cmd tea.Cmd
	if m.focused == focusRawInput {
		m.rawInput, cmd = m.rawInput.Update(msg)
	} else {
		m.actions, cmd = m.actions.Update(msg)
	}
	return m, cmd
}

func (m monitorModel) handleEnter() (tea.Model, tea.Cmd) {
	if m.connectionLost {
		m.addLogEntry("Cannot send command: connection lost", true)
		return m, nil
	}
	if m.busy {
		m.addLogEntry("Command still running", true)
		return m, nil
	}

	if m.focused == focusRawInput {
		ct, payload, err := parseRawCommand(m.rawInput.Value())
		if err != nil {
			m.addLogEntry(err.Error(), true)
			return m, nil
		}
		m.rawInput.SetValue("")
		m.busy = true
		return m, m.runAction(action{
			title: ycbt.FormatCommandType(ct),
			run: func(ctx context.Context, c *ycbt.Client) (string, error) {
				resp, err := c.Do(ctx, ct, payload)
				if err != nil {
					return "", err
				}
				return formatData(resp.Data), nil
			},
		})
	}

	selected, ok := m.actions.SelectedItem().(action)
	if !ok {
		return m, nil
	}
	if selected.run == nil {
		m.client.ResetQueue()
		m.addLogEntry("Queue reset", false)
		return m, nil
	}
	m.busy = true
	return m, m.runAction(selected)
}

// runAction executes a on the current client off the UI goroutine
func (m monitorModel) runAction(a action) tea.Cmd {
	client := m.client
	ctx := m.ctx
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		start := time.Now()
		result, err := a.run(ctx, client)
		return actionResultMsg{title: a.title, result: result, err: err, rtt: time.Since(start)}
	}
}

// parseRawCommand parses "TYPE [HEX PAYLOAD]"
func parseRawCommand(s string) (ycbt.CommandType, []byte, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, nil, fmt.Errorf("empty command")
	}
	ct, err := ycbt.ParseCommandType(fields[0])
	if err != nil {
		return 0, nil, err
	}
	payload, err := parseHex(strings.Join(fields[1:], ""))
	if err != nil {
		return 0, nil, fmt.Errorf("invalid payload: %w", err)
	}
	return ct, payload, nil
}

func (m *monitorModel) handleUnsolicited(msg unsolicitedMsg) {
	f := msg.frame
	if f.CommandID() == ycbt.CmdRealData {
		m.lastReal = f
		return
	}
	if msg.outcome.Error != nil {
		m.addLogEntry(fmt.Sprintf("%s: %v", f.CommandType(), msg.outcome.Error), true)
		return
	}
	m.addLogEntry(fmt.Sprintf("Unsolicited %s: %s", f.CommandType(), formatData(f.Payload())), false)
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.errorLog = append(m.errorLog, errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

var (
	focusedBoxStyle = boxStyle.BorderForeground(lipgloss.Color("12"))
	buttonStyle     = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("12")).
			Padding(0, 1)
)

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	s.WriteString(titleStyle.Render("ANNULUS MONITOR"))
	s.WriteString(" ")
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | q=quit Tab=switch Enter=run", connStatus)))
	s.WriteString("\n\n")

	leftWidth := 34
	rightWidth := m.width - leftWidth - 6

	listStyle := boxStyle.Width(leftWidth)
	if m.focused == focusActionList {
		listStyle = focusedBoxStyle.Width(leftWidth)
	}
	left := listStyle.Render(m.actions.View())
	right := boxStyle.Width(max(rightWidth, 20)).Render(m.renderStatusPanel())

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right))
	s.WriteString("\n")

	inputStyle := boxStyle.Width(m.width - 4)
	if m.focused == focusRawInput {
		inputStyle = focusedBoxStyle.Width(m.width - 4)
	}
	s.WriteString(inputStyle.Render(statsLabelStyle.Render("Raw: ") + m.rawInput.View()))
	s.WriteString("\n")

	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")
	s.WriteString(renderLog(m.errorLog, 8, m.width))

	return s.String()
}

func (m monitorModel) renderStatusPanel() string {
	var s strings.Builder

	fmt.Fprintf(&s, "%s %s\n", statsLabelStyle.Render("Link:"), stateStyle(m.state).Render(ycbt.FormatState(m.state)))
	if m.busy {
		s.WriteString(buttonStyle.Render("BUSY"))
		s.WriteString("\n")
	}
	s.WriteString("\n")
	s.WriteString(renderStats(m.snap, m.queueLen))
	s.WriteString("\n\n")

	s.WriteString(statsLabelStyle.Render("Real-time: "))
	if m.lastReal == nil {
		s.WriteString(headerStyle.Render("no data"))
	} else {
		age := time.Since(m.lastReal.Timestamp()).Round(time.Second)
		fmt.Fprintf(&s, "%s %s %s",
			statsValueStyle.Render(ycbt.FormatCommandType(m.lastReal.CommandType())),
			statsValueStyle.Render(fmt.Sprintf("% X", m.lastReal.Payload())),
			headerStyle.Render(fmt.Sprintf("(%v ago)", age)))
	}
	return s.String()
}
