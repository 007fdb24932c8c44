// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/annulus/pkg/ycbt"
)

// statsSource is the part of the client the TUIs read on every tick
type statsSource interface {
	Statistics() ycbt.Snapshot
	QueueLen() int
	CurrentState() ycbt.ConnectionState
}

// Error log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for info
}

// TUI model
type model struct {
	connInfo      string
	statsInterval int
	showAll       bool
	source        statsSource
	events        <-chan tea.Msg
	snap          ycbt.Snapshot
	state         ycbt.ConnectionState
	anomalies     map[ycbt.AnomalyType]uint64
	errorLog      []errorLogEntry
	maxLogEntries int
	lastFrame     *ycbt.Frame
	width         int
	height        int
	quitting      bool
}

// Messages
type tickMsg time.Time
type stateMsg ycbt.ConnectionState

func anomalyName(t ycbt.AnomalyType) string {
	switch t {
	case ycbt.AnomalyChecksum:
		return "checksum"
	case ycbt.AnomalyErrorFrame:
		return "error frame"
	case ycbt.AnomalyMissingStatus:
		return "missing status"
	case ycbt.AnomalyLengthMismatch:
		return "length mismatch"
	case ycbt.AnomalyUnknownCommand:
		return "unknown command"
	default:
		return "other"
	}
}

func initialModel(connInfo string, statsInterval int, showAll bool, source statsSource, events <-chan tea.Msg) model {
	return model{
		connInfo:      connInfo,
		statsInterval: statsInterval,
		showAll:       showAll,
		source:        source,
		events:        events,
		snap:          source.Statistics(),
		state:         source.CurrentState(),
		anomalies:     make(map[ycbt.AnomalyType]uint64),
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		waitForEvent(m.events),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForEvent delivers the next message produced by the client callbacks
func waitForEvent(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-events
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.snap = m.source.Statistics()
		return m, tickCmd()

	case stateMsg:
		m.state = ycbt.ConnectionState(msg)
		m.addLogEntry("Connection "+ycbt.FormatState(m.state), m.state == ycbt.StateDisconnected)
		return m, waitForEvent(m.events)

	case frameMsg:
		m.applyFrame(msg)
		return m, waitForEvent(m.events)
	}

	return m, nil
}

func (m *model) applyFrame(msg frameMsg) {
	if msg.frame == nil {
		m.addLogEntry(fmt.Sprintf("DECODE ERROR: %v", msg.decodeErr), true)
		return
	}
	m.lastFrame = msg.frame

	name := ycbt.FormatCommandType(msg.frame.CommandType())
	if len(msg.validationErrors) > 0 {
		for _, err := range msg.validationErrors {
			m.anomalies[err.Type]++
			m.addLogEntry(fmt.Sprintf("%s: %s", name, err.Message), true)
		}
	} else if m.showAll {
		m.addLogEntry(fmt.Sprintf("%s (valid, %d bytes)", name, msg.frame.PayloadLen()), false)
	}
}

func (m *model) addLogEntry(message string, isError bool) {
	entry := errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.errorLog = append(m.errorLog, entry)

	// Keep only last N entries
	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statsLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	statsValueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warningStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// stateStyle colours a connection state by how usable the link is
func stateStyle(s ycbt.ConnectionState) lipgloss.Style {
	switch {
	case s == ycbt.StateFullyOperational:
		return statsValueStyle
	case s == ycbt.StateDisconnected || s == ycbt.StateTimedOut || s == ycbt.StateNotOpen:
		return errorStyle
	default:
		return warningStyle
	}
}

// renderStats renders the counters box shared by both TUIs
func renderStats(snap ycbt.Snapshot, queueLen int) string {
	var validPercent, errorPercent float64
	errors := snap.ChecksumErrors + snap.DecodeErrors + snap.ErrorFrames
	if snap.TotalFrames > 0 {
		validPercent = float64(snap.ValidFrames) * 100.0 / float64(snap.TotalFrames)
		errorPercent = float64(errors) * 100.0 / float64(snap.TotalFrames)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Frames:"), statsValueStyle.Render(fmt.Sprintf("%d", snap.TotalFrames)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", snap.ValidFrames, validPercent)),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", errors, errorPercent)),
	)

	if snap.ChecksumErrors > 0 || snap.DecodeErrors > 0 || snap.ReassemblyErrors > 0 {
		fmt.Fprintf(&b, "%s %s   %s %s   %s %s\n",
			statsLabelStyle.Render("Checksum:"), errorStyle.Render(fmt.Sprintf("%d", snap.ChecksumErrors)),
			statsLabelStyle.Render("Decode:"), errorStyle.Render(fmt.Sprintf("%d", snap.DecodeErrors)),
			statsLabelStyle.Render("Reassembly:"), errorStyle.Render(fmt.Sprintf("%d", snap.ReassemblyErrors)),
		)
	}

	fmt.Fprintf(&b, "%s %s   %s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Writes:"), statsValueStyle.Render(fmt.Sprintf("%d", snap.Writes)),
		statsLabelStyle.Render("Retries:"), warningStyle.Render(fmt.Sprintf("%d", snap.Retries)),
		statsLabelStyle.Render("Timeouts:"), warningStyle.Render(fmt.Sprintf("%d", snap.Timeouts)),
		statsLabelStyle.Render("Queue:"), statsValueStyle.Render(fmt.Sprintf("%d", queueLen)),
	)

	rate := statsValueStyle.Render(fmt.Sprintf("%.1f err/s", snap.ErrorRate))
	if snap.ErrorRate > 0 {
		rate = errorStyle.Render(fmt.Sprintf("%.1f err/s", snap.ErrorRate))
	}
	fmt.Fprintf(&b, "%s %s   %s %s",
		statsLabelStyle.Render("Frame Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f frames/s", snap.FrameRate)),
		statsLabelStyle.Render("Error Rate:"), rate,
	)
	return b.String()
}

// renderLog renders the newest entries that fit in height lines
func renderLog(entries []errorLogEntry, height, width int) string {
	if height < 5 {
		height = 5
	}
	start := len(entries) - height
	if start < 0 {
		start = 0
	}

	var b strings.Builder
	if len(entries) == 0 {
		b.WriteString(headerStyle.Render("  (no events yet)"))
	}
	for _, entry := range entries[start:] {
		timestamp := headerStyle.Render(entry.timestamp.Format("15:04:05.000"))
		if entry.isError {
			fmt.Fprintf(&b, "%s %s\n", timestamp, errorStyle.Render("✗ "+entry.message))
		} else {
			fmt.Fprintf(&b, "%s %s\n", timestamp, warningStyle.Render("ℹ "+entry.message))
		}
	}
	return boxStyle.Width(width - 4).Render(b.String())
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	mode := "Errors only"
	if m.showAll {
		mode = "All frames"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("ANNULUS - ERROR DETECTION"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Mode: %s | Press 'q' to quit", m.connInfo, mode)))
	s.WriteString("\n\n")

	s.WriteString(statsLabelStyle.Render("Link: "))
	s.WriteString(stateStyle(m.state).Render(ycbt.FormatState(m.state)))
	s.WriteString("\n\n")

	s.WriteString(boxStyle.Render(renderStats(m.snap, m.source.QueueLen())))
	s.WriteString("\n\n")

	if len(m.anomalies) > 0 {
		var a strings.Builder
		for t := ycbt.AnomalyChecksum; t <= ycbt.AnomalyUnknownCommand; t++ {
			if n := m.anomalies[t]; n > 0 {
				fmt.Fprintf(&a, "%s %s  ", statsLabelStyle.Render(anomalyName(t)+":"), warningStyle.Render(fmt.Sprintf("%d", n)))
			}
		}
		s.WriteString(boxStyle.Render(a.String()))
		s.WriteString("\n\n")
	}

	if m.lastFrame != nil {
		s.WriteString(statsLabelStyle.Render("Last Frame: "))
		payload := m.lastFrame.Payload()
		if len(payload) > 32 {
			payload = payload[:32]
		}
		s.WriteString(headerStyle.Render(fmt.Sprintf("%s (%d bytes) % X",
			ycbt.FormatCommandType(m.lastFrame.CommandType()), m.lastFrame.PayloadLen(), payload)))
		s.WriteString("\n\n")
	}

	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")
	s.WriteString(renderLog(m.errorLog, m.height-18, m.width))

	return s.String()
}
