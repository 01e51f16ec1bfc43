// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/loragate/loragate/pkg/bridge"
	"github.com/loragate/loragate/pkg/display"
)

// Error log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for warnings
}

// nodeState is the latest view of one gateway node ID in the stream
type nodeState struct {
	id       string
	last     bridge.Telemetry
	lastSeen time.Time
	records  uint64
	missed   uint64
}

// Implement list.Item interface
type nodeItem struct{ n *nodeState }

func (i nodeItem) Title() string { return "Node " + i.n.id }
func (i nodeItem) Description() string {
	return fmt.Sprintf("%.1f°C %.1f%% rx=%d", i.n.last.Remote.Temperature, i.n.last.Remote.Humidity, i.n.last.Stats.PacketsReceived)
}
func (i nodeItem) FilterValue() string { return i.n.id }

// monitorStats counts stream lines
type monitorStats struct {
	StartTime time.Time
	Records   uint64
	Rejected  uint64
	Missed    uint64
	Restarts  uint64
}

// TUI model
type model struct {
	source        string
	stats         monitorStats
	nodes         map[string]*nodeState
	nodeList      list.Model
	errorLog      []errorLogEntry
	maxLogEntries int
	width         int
	height        int
	quitting      bool
	sourceClosed  bool
	now           func() time.Time
}

// Messages
type tickMsg time.Time

// lineMsg carries one line of the telemetry stream
type lineMsg struct {
	line string
}

type sourceClosedMsg struct {
	err error
}

func initialModel(source string) model {
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	nodeList := list.New([]list.Item{}, delegate, 30, 10)
	nodeList.Title = "Nodes"
	nodeList.SetShowStatusBar(false)
	nodeList.SetShowHelp(false)
	nodeList.SetFilteringEnabled(false)

	return model{
		source:        source,
		stats:         monitorStats{StartTime: time.Now()},
		nodes:         make(map[string]*nodeState),
		nodeList:      nodeList,
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
		now:           time.Now,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.nodeList, cmd = m.nodeList.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.nodeList.SetSize(30, max(4, m.height/3))

	case tickMsg:
		return m, tickCmd()

	case lineMsg:
		m.handleLine(msg.line)

	case sourceClosedMsg:
		m.sourceClosed = true
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Source closed: %v", msg.err), true)
		} else {
			m.addLogEntry("Source closed", true)
		}
	}

	return m, nil
}

// handleLine decodes one stream line and updates the node it belongs to
func (m *model) handleLine(line string) {
	t, err := bridge.ParseLine(line)
	switch {
	case err == nil:
	case errors.Is(err, bridge.ErrNotTelemetry):
		if msg, isErr, ok := gatewayLogLine(line); ok {
			m.addLogEntry(msg, isErr)
		}
		return
	default:
		m.stats.Rejected++
		m.addLogEntry(fmt.Sprintf("PARSE ERROR: %v", err), true)
		return
	}

	m.stats.Records++
	n, ok := m.nodes[t.NodeID]
	if !ok {
		n = &nodeState{id: t.NodeID}
		m.nodes[t.NodeID] = n
		m.addLogEntry(fmt.Sprintf("Node %s online", t.NodeID), false)
	} else {
		m.compare(n, t)
	}
	n.last = t
	n.lastSeen = m.now()
	n.records++
	m.refreshList()
}

// compare reports what changed between two consecutive records of a node
func (m *model) compare(n *nodeState, t bridge.Telemetry) {
	prev := n.last
	if t.TimestampMS < prev.TimestampMS || t.Stats.PacketsReceived < prev.Stats.PacketsReceived {
		m.stats.Restarts++
		m.addLogEntry(fmt.Sprintf("Node %s restarted (uptime %s)", n.id, display.FormatUptime(uint64(t.TimestampMS))), true)
		return
	}
	if gap := t.Stats.PacketsReceived - prev.Stats.PacketsReceived; gap > 1 {
		n.missed += uint64(gap - 1)
		m.stats.Missed += uint64(gap - 1)
		m.addLogEntry(fmt.Sprintf("Node %s: %d record(s) missing from the stream", n.id, gap-1), true)
	}
	if d := t.Stats.CRCErrors - prev.Stats.CRCErrors; d > 0 {
		m.addLogEntry(fmt.Sprintf("Node %s: %d CRC error(s) since last record", n.id, d), true)
	}
}

func (m *model) refreshList() {
	ids := make([]string, 0, len(m.nodes))
	for id := range m.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	items := make([]list.Item, len(ids))
	for i, id := range ids {
		items[i] = nodeItem{m.nodes[id]}
	}
	m.nodeList.SetItems(items)
}

func (m *model) selected() *nodeState {
	if it, ok := m.nodeList.SelectedItem().(nodeItem); ok {
		return it.n
	}
	return nil
}

func (m *model) addLogEntry(message string, isError bool) {
	entry := errorLogEntry{
		timestamp: m.now(),
		message:   message,
		isError:   isError,
	}
	m.errorLog = append(m.errorLog, entry)

	// Keep only last N entries
	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

// gatewayLogLine recognizes warnings and errors in gateway log output
func gatewayLogLine(line string) (msg string, isError bool, ok bool) {
	line = strings.TrimSpace(line)
	switch {
	case strings.Contains(line, "[ERROR]") || strings.Contains(line, " ERR "):
		return line, true, true
	case strings.Contains(line, "[WARN]") || strings.Contains(line, " WRN "):
		return line, false, true
	}
	return "", false, false
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("LORAGATE - TELEMETRY MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("Source: %s | Press 'q' to quit", m.source)))
	s.WriteString("\n\n")

	if m.sourceClosed {
		s.WriteString(errorStyle.Render("✗ Source closed"))
	} else if m.stats.Records == 0 {
		s.WriteString(warningStyle.Render("⏳ Waiting for telemetry..."))
	} else {
		s.WriteString(statsValueStyle.Render("✓ Receiving"))
	}
	s.WriteString("\n\n")

	// Statistics
	elapsed := m.now().Sub(m.stats.StartTime).Seconds()
	rate := 0.0
	if elapsed > 0 {
		rate = float64(m.stats.Records) * 60 / elapsed
	}
	problems := func(n uint64) string {
		if n > 0 {
			return errorStyle.Render(fmt.Sprintf("%d", n))
		}
		return statsValueStyle.Render("0")
	}
	statsContent := fmt.Sprintf("%s %s   %s %s   %s %s   %s %s\n%s %s",
		statsLabelStyle.Render("Records:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.Records)),
		statsLabelStyle.Render("Rejected:"), problems(m.stats.Rejected),
		statsLabelStyle.Render("Missing:"), problems(m.stats.Missed),
		statsLabelStyle.Render("Restarts:"), problems(m.stats.Restarts),
		statsLabelStyle.Render("Record Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f rec/min", rate)),
	)
	s.WriteString(boxStyle.Render(statsContent))
	s.WriteString("\n\n")

	// Nodes and the selected node's latest record
	if n := m.selected(); n != nil {
		t := n.last
		var detail strings.Builder
		row := func(label, value string) {
			detail.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render(label), statsValueStyle.Render(value)))
		}
		row("Remote:", fmt.Sprintf("%.1f°C  %.1f%%  %.0fk", t.Remote.Temperature, t.Remote.Humidity, float64(t.Remote.GasResistance)/1000))
		if t.Local.Temperature != nil && t.Local.Humidity != nil {
			row("Local:", fmt.Sprintf("%.1f°C  %.1f%%", *t.Local.Temperature, *t.Local.Humidity))
		} else {
			detail.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Local:"), headerStyle.Render("warming up")))
		}
		row("Signal:", fmt.Sprintf("RSSI %d dBm  SNR %d dB", t.Signal.RSSI, t.Signal.SNR))
		row("Received:", fmt.Sprintf("%d", t.Stats.PacketsReceived))
		detail.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("CRC errors:"), problems(uint64(t.Stats.CRCErrors))))
		row("Uptime:", display.FormatUptime(uint64(t.TimestampMS)))
		detail.WriteString(headerStyle.Render(fmt.Sprintf("last seen %s ago", m.now().Sub(n.lastSeen).Truncate(time.Second))))

		s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
			m.nodeList.View(), "  ", boxStyle.Render(detail.String())))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	// Calculate how many log entries we can show
	logHeight := m.height - 15 - m.nodeList.Height()
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.errorLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.errorLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.errorLog); i++ {
			entry := m.errorLog[i]
			timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}
