// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package display renders the gateway status panel on a terminal.
package display

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/loragate/loragate/internal/node"
)

// Radio settings shown on the panel
const (
	DefaultNetworkID    = 18
	DefaultFrequencyMHz = 915
)

// clearScreen moves the cursor home and clears the terminal
const clearScreen = "\x1b[H\x1b[2J"

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// Panel draws node.StatusView frames to a terminal
type Panel struct {
	mu        sync.Mutex
	w         io.Writer
	networkID int
	freqMHz   int
	clear     bool
}

// NewPanel creates a panel writing to w. When clear is set every frame
// replaces the previous one.
func NewPanel(w io.Writer, networkID, freqMHz int, clear bool) *Panel {
	return &Panel{w: w, networkID: networkID, freqMHz: freqMHz, clear: clear}
}

// Lines returns the five fixed status lines
func (p *Panel) Lines(v node.StatusView) []string {
	d := v.Packet.SensorData
	return []string{
		fmt.Sprintf("T:%.1fC H:%.0f%%", d.Temperature, d.Humidity),
		fmt.Sprintf("Gas:%.0fk", float32(d.GasResistance)/1000.0),
		fmt.Sprintf("%s RX #%04d", v.NodeID, d.PacketNum),
		fmt.Sprintf("Net:%d %dMHz", p.networkID, p.freqMHz),
		fmt.Sprintf("RSSI:%d SNR:%d #%d", v.Packet.RSSI, v.Packet.SNR, v.PacketsReceived),
	}
}

// Render draws one frame
func (p *Panel) Render(v node.StatusView) error {
	var s strings.Builder
	if p.clear {
		s.WriteString(clearScreen)
	}
	s.WriteString(titleStyle.Render("LORAGATE " + v.NodeID))
	s.WriteString("\n")

	lines := p.Lines(v)
	for i := range lines {
		lines[i] = valueStyle.Render(lines[i])
	}

	local := dimStyle.Render("local sensor warming up")
	if v.LocalTemp.Valid && v.LocalHumidity.Valid {
		local = fmt.Sprintf("%s %s", labelStyle.Render("Local:"),
			valueStyle.Render(fmt.Sprintf("%.1f°C %.0f%%", v.LocalTemp.Float32, v.LocalHumidity.Float32)))
	}
	errs := valueStyle.Render("0")
	if v.CRCErrors > 0 {
		errs = errorStyle.Render(fmt.Sprintf("%d", v.CRCErrors))
	}
	lines = append(lines,
		local,
		fmt.Sprintf("%s %s", labelStyle.Render("CRC errors:"), errs),
		fmt.Sprintf("%s %s", labelStyle.Render("Uptime:"), dimStyle.Render(FormatUptime(uint64(v.UptimeMS)))),
	)

	s.WriteString(boxStyle.Render(strings.Join(lines, "\n")))
	s.WriteString("\n")

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := io.WriteString(p.w, s.String())
	return err
}

// FormatUptime formats uptime in milliseconds to human-friendly string
func FormatUptime(ms uint64) string {
	if ms < 1000 {
		return "0 seconds"
	}

	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	parts := []string{}
	for _, u := range []struct {
		n    uint64
		name string
	}{{days, "day"}, {hours, "hour"}, {minutes, "minute"}, {seconds, "second"}} {
		switch {
		case u.n == 1:
			parts = append(parts, "1 "+u.name)
		case u.n > 1:
			parts = append(parts, fmt.Sprintf("%d %ss", u.n, u.name))
		}
	}
	return strings.Join(parts, ", ")
}
