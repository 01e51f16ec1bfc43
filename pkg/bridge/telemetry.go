// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bridge consumes the gateway's telemetry stream and republishes
// each record to an MQTT broker and an InfluxDB bucket.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Marker precedes the telemetry record in a gateway log line
const Marker = "JSON sent via VCP: "

// lineEscape is the two-character escape that ends every record
const lineEscape = `\n`

// ErrNotTelemetry is returned for lines that carry no record
var ErrNotTelemetry = errors.New("not a telemetry line")

// Telemetry is one gateway record. CBOR uses integer keys.
type Telemetry struct {
	TimestampMS uint32        `json:"ts" cbor:"1,keyasint"`
	NodeID      string        `json:"id" cbor:"2,keyasint"`
	Remote      RemoteReading `json:"n1" cbor:"3,keyasint"`
	Local       LocalReading  `json:"n2" cbor:"4,keyasint"`
	Signal      Signal        `json:"sig" cbor:"5,keyasint"`
	Stats       Stats         `json:"sts" cbor:"6,keyasint"`
}

// RemoteReading is the remote node's sensor data
type RemoteReading struct {
	Temperature   float32 `json:"t" cbor:"1,keyasint"`
	Humidity      float32 `json:"h" cbor:"2,keyasint"`
	GasResistance uint32  `json:"g" cbor:"3,keyasint"`
}

// LocalReading is the gateway's own sensor data, absent during warm-up
type LocalReading struct {
	Temperature *float32 `json:"t,omitempty" cbor:"1,keyasint,omitempty"`
	Humidity    *float32 `json:"h,omitempty" cbor:"2,keyasint,omitempty"`
}

// Signal is the link quality of the last packet
type Signal struct {
	RSSI int16 `json:"rssi" cbor:"1,keyasint"`
	SNR  int16 `json:"snr" cbor:"2,keyasint"`
}

// Stats are the gateway counters
type Stats struct {
	PacketsReceived uint32 `json:"rx" cbor:"1,keyasint"`
	CRCErrors       uint32 `json:"err" cbor:"2,keyasint"`
}

// ExtractJSON returns the record embedded in a gateway log line: the text
// after Marker, up to any " (file:line)" location suffix or trailing log
// fields, without the escaped newline.
func ExtractJSON(line string) (string, bool) {
	idx := strings.Index(line, Marker)
	if idx < 0 {
		return "", false
	}
	s := line[idx+len(Marker):]

	if i := strings.Index(s, " ("); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	// Records contain no whitespace; anything after it is a log field
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSuffix(s, lineEscape)
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSpace(s), true
}

// ParseLine decodes a telemetry record from either a raw VCP line or a
// gateway log line. Lines with neither form return ErrNotTelemetry.
func ParseLine(line string) (Telemetry, error) {
	raw, ok := ExtractJSON(line)
	if !ok {
		raw = strings.TrimSpace(line)
		if !strings.HasPrefix(raw, "{") {
			return Telemetry{}, ErrNotTelemetry
		}
		raw = strings.TrimSpace(strings.TrimSuffix(raw, lineEscape))
	}

	var t Telemetry
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return Telemetry{}, fmt.Errorf("invalid telemetry %q: %w", raw, err)
	}
	if t.NodeID == "" {
		return Telemetry{}, fmt.Errorf("invalid telemetry %q: missing node id", raw)
	}
	return t, nil
}
