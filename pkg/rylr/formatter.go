// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rylr

import (
	"fmt"
	"strings"
	"time"
)

// FormatMessage formats a decoded message into a human-readable string
func FormatMessage(ts time.Time, m ParsedMessage) string {
	d := m.SensorData
	result := fmt.Sprintf("[%s] SENSOR_DATA #%d rssi=%d snr=%d\n", ts.Format("15:04:05.000"), d.PacketNum, m.RSSI, m.SNR)
	result += fmt.Sprintf("  Temperature: %.1f°C\n", d.Temperature)
	result += fmt.Sprintf("  Humidity:    %.1f%%\n", d.Humidity)
	result += fmt.Sprintf("  Gas:         %d Ω (%.0fk)\n", d.GasResistance, float64(d.GasResistance)/1000.0)
	return result
}

// FormatAck formats an acknowledgment
func FormatAck(ts time.Time, a AckPacket) string {
	kind := "ACK"
	if !a.IsAck() {
		kind = "NACK"
	}
	return fmt.Sprintf("[%s] %s for packet #%d\n", ts.Format("15:04:05.000"), kind, a.SeqNum)
}

// FormatFrame renders a raw frame for logs: printable ASCII is kept and
// everything else is shown as \xNN.
func FormatFrame(frame []byte) string {
	var b strings.Builder
	for _, c := range frame {
		switch {
		case c == '\r':
			b.WriteString(`\r`)
		case c == '\n':
			b.WriteString(`\n`)
		case c >= 0x20 && c < 0x7F:
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, `\x%02X`, c)
		}
	}
	return b.String()
}

// HexDump formats bytes as space separated hex, 16 per line
func HexDump(data []byte) string {
	var b strings.Builder
	for i, c := range data {
		if i > 0 && i%16 == 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%02X ", c)
	}
	return b.String()
}
