// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rylr

import (
	"math"
	"strconv"
)

// TelemetryBufferSize is the capacity of the encoder output buffer.
const TelemetryBufferSize = 512

// LineEscape terminates each telemetry record. It is the two-character
// escape sequence, not a newline byte.
const LineEscape = `\n`

// Worst-case field widths used by MaxTelemetryLen
const (
	maxUint32Len   = 10 // 4294967295
	maxInt16Len    = 6  // -32768
	maxRemoteTemp  = 7  // -3276.8
	maxRemoteHum   = 5  // 655.4
	maxFloat32FLen = 42 // -340282346638528859811704183484516925440.0
	telemetryFixed = len(`{"ts":`) + len(`,"id":"`) + len(`",`) +
		len(`"n1":{"t":`) + len(`,"h":`) + len(`,"g":`) + len(`},`) +
		len(`"n2":{"t":`) + len(`,"h":`) + len(`},`) +
		len(`"sig":{"rssi":`) + len(`,"snr":`) + len(`},`) +
		len(`"sts":{"rx":`) + len(`,"err":`) + len(`}}`) + len(LineEscape)
)

// NullFloat32 is a float32 reading that may not be available yet.
type NullFloat32 struct {
	Float32 float32
	Valid   bool
}

// TelemetryRecord is everything one telemetry line reports.
type TelemetryRecord struct {
	TimestampMS     uint32
	NodeID          string
	Message         ParsedMessage
	LocalTemp       NullFloat32
	LocalHumidity   NullFloat32
	PacketsReceived uint32
	CRCErrors       uint32
}

// MaxTelemetryLen returns the longest line AppendTelemetry can produce for
// a node ID of the given length, over every representable field value.
func MaxTelemetryLen(nodeIDLen int) int {
	return telemetryFixed + nodeIDLen +
		maxUint32Len + // ts
		maxRemoteTemp + maxRemoteHum + maxUint32Len + // n1
		2*maxFloat32FLen + // n2
		2*maxInt16Len + // sig
		2*maxUint32Len // sts
}

// TelemetryEncoder renders records into a fixed-capacity buffer.
type TelemetryEncoder struct {
	buf [TelemetryBufferSize]byte
}

// Encode renders rec. The result aliases the encoder buffer and is valid
// until the next call.
func (e *TelemetryEncoder) Encode(rec TelemetryRecord) []byte {
	return AppendTelemetry(e.buf[:0], rec)
}

// AppendTelemetry appends the compact JSON form of rec to dst:
//
//	{"ts":..,"id":"..","n1":{"t":..,"h":..,"g":..},"n2":{..},"sig":{"rssi":..,"snr":..},"sts":{"rx":..,"err":..}}\n
//
// Temperatures and humidities have exactly one decimal place. Local
// readings that are not available (or not finite) are omitted from n2.
// The node ID is written verbatim and must not need JSON escaping.
func AppendTelemetry(dst []byte, rec TelemetryRecord) []byte {
	d := rec.Message.SensorData

	dst = append(dst, `{"ts":`...)
	dst = strconv.AppendUint(dst, uint64(rec.TimestampMS), 10)
	dst = append(dst, `,"id":"`...)
	dst = append(dst, rec.NodeID...)
	dst = append(dst, `",`...)

	// Remote node
	dst = append(dst, `"n1":{"t":`...)
	dst = appendFixed1(dst, d.Temperature)
	dst = append(dst, `,"h":`...)
	dst = appendFixed1(dst, d.Humidity)
	dst = append(dst, `,"g":`...)
	dst = strconv.AppendUint(dst, uint64(d.GasResistance), 10)
	dst = append(dst, `},`...)

	// Local node
	dst = append(dst, `"n2":{`...)
	hasTemp := available(rec.LocalTemp)
	if hasTemp {
		dst = append(dst, `"t":`...)
		dst = appendFixed1(dst, rec.LocalTemp.Float32)
	}
	if available(rec.LocalHumidity) {
		if hasTemp {
			dst = append(dst, ',')
		}
		dst = append(dst, `"h":`...)
		dst = appendFixed1(dst, rec.LocalHumidity.Float32)
	}
	dst = append(dst, `},`...)

	dst = append(dst, `"sig":{"rssi":`...)
	dst = strconv.AppendInt(dst, int64(rec.Message.RSSI), 10)
	dst = append(dst, `,"snr":`...)
	dst = strconv.AppendInt(dst, int64(rec.Message.SNR), 10)
	dst = append(dst, `},`...)

	dst = append(dst, `"sts":{"rx":`...)
	dst = strconv.AppendUint(dst, uint64(rec.PacketsReceived), 10)
	dst = append(dst, `,"err":`...)
	dst = strconv.AppendUint(dst, uint64(rec.CRCErrors), 10)
	dst = append(dst, `}}`...)

	return append(dst, LineEscape...)
}

func available(v NullFloat32) bool {
	f := float64(v.Float32)
	return v.Valid && !math.IsNaN(f) && !math.IsInf(f, 0)
}

func appendFixed1(dst []byte, v float32) []byte {
	return strconv.AppendFloat(dst, float64(v), 'f', 1, 32)
}
