// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rylr

import (
	"math"
	"strings"
	"testing"
)

func scenarioMessage() ParsedMessage {
	return ParsedMessage{SensorData: scenarioPacket.ToSensorData(), RSSI: -42, SNR: 11}
}

func TestAppendTelemetry(t *testing.T) {
	tests := []struct {
		name string
		rec  TelemetryRecord
		want string
	}{
		{
			name: "no local readings",
			rec: TelemetryRecord{
				TimestampMS:     12000,
				NodeID:          DefaultNodeID,
				Message:         scenarioMessage(),
				PacketsReceived: 1,
			},
			want: `{"ts":12000,"id":"N2","n1":{"t":27.1,"h":56.0,"g":100},"n2":{},"sig":{"rssi":-42,"snr":11},"sts":{"rx":1,"err":0}}\n`,
		},
		{
			name: "local readings",
			rec: TelemetryRecord{
				TimestampMS:     500,
				NodeID:          "GW",
				Message:         scenarioMessage(),
				LocalTemp:       NullFloat32{Float32: 21.5, Valid: true},
				LocalHumidity:   NullFloat32{Float32: 45, Valid: true},
				PacketsReceived: 7,
				CRCErrors:       2,
			},
			want: `{"ts":500,"id":"GW","n1":{"t":27.1,"h":56.0,"g":100},"n2":{"t":21.5,"h":45.0},"sig":{"rssi":-42,"snr":11},"sts":{"rx":7,"err":2}}\n`,
		},
		{
			name: "humidity only",
			rec: TelemetryRecord{
				NodeID:        "N2",
				Message:       scenarioMessage(),
				LocalTemp:     NullFloat32{Float32: float32(math.NaN()), Valid: true},
				LocalHumidity: NullFloat32{Float32: 45, Valid: true},
			},
			want: `{"ts":0,"id":"N2","n1":{"t":27.1,"h":56.0,"g":100},"n2":{"h":45.0},"sig":{"rssi":-42,"snr":11},"sts":{"rx":0,"err":0}}\n`,
		},
		{
			name: "invalid readings omitted",
			rec: TelemetryRecord{
				NodeID:        "N2",
				Message:       scenarioMessage(),
				LocalTemp:     NullFloat32{Float32: 21.5},
				LocalHumidity: NullFloat32{Float32: float32(math.Inf(1)), Valid: true},
			},
			want: `{"ts":0,"id":"N2","n1":{"t":27.1,"h":56.0,"g":100},"n2":{},"sig":{"rssi":-42,"snr":11},"sts":{"rx":0,"err":0}}\n`,
		},
		{
			name: "negative temperature",
			rec: TelemetryRecord{
				NodeID: "N2",
				Message: ParsedMessage{
					SensorData: SensorDataPacket{Temperature: -105, Humidity: 3}.ToSensorData(),
					RSSI:       -120,
					SNR:        -7,
				},
			},
			want: `{"ts":0,"id":"N2","n1":{"t":-10.5,"h":0.0,"g":0},"n2":{},"sig":{"rssi":-120,"snr":-7},"sts":{"rx":0,"err":0}}\n`,
		},
	}

	var enc TelemetryEncoder
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(enc.Encode(tt.rec))
			if got != tt.want {
				t.Errorf("got\n%s\nwant\n%s", got, tt.want)
			}
		})
	}
}

func TestAppendTelemetry_EndsWithEscape(t *testing.T) {
	out := AppendTelemetry(nil, TelemetryRecord{NodeID: "N2", Message: scenarioMessage()})
	if !strings.HasSuffix(string(out), `}\n`) {
		t.Errorf("record should end with the two-character escape: %q", out)
	}
	if strings.IndexByte(string(out), '\n') >= 0 {
		t.Errorf("record must not contain a newline byte: %q", out)
	}
}

func TestMaxTelemetryLen_FitsBuffer(t *testing.T) {
	if MaxTelemetryLen(MaxNodeIDLength) > TelemetryBufferSize {
		t.Fatalf("worst case %d exceeds buffer %d", MaxTelemetryLen(MaxNodeIDLength), TelemetryBufferSize)
	}
}

func TestMaxTelemetryLen_Extremes(t *testing.T) {
	nodeID := strings.Repeat("X", MaxNodeIDLength)
	extremes := []TelemetryRecord{
		{
			TimestampMS: math.MaxUint32,
			NodeID:      nodeID,
			Message: ParsedMessage{
				SensorData: SensorDataPacket{SeqNum: 0xFFFF, Temperature: math.MinInt16, Humidity: 0xFFFF, GasResistance: math.MaxUint32}.ToSensorData(),
				RSSI:       math.MinInt16,
				SNR:        math.MinInt16,
			},
			LocalTemp:       NullFloat32{Float32: -math.MaxFloat32, Valid: true},
			LocalHumidity:   NullFloat32{Float32: -math.MaxFloat32, Valid: true},
			PacketsReceived: math.MaxUint32,
			CRCErrors:       math.MaxUint32,
		},
		{
			TimestampMS: math.MaxUint32,
			NodeID:      nodeID,
			Message: ParsedMessage{
				SensorData: SensorDataPacket{Temperature: math.MaxInt16, Humidity: 0xFFFF, GasResistance: math.MaxUint32}.ToSensorData(),
				RSSI:       math.MaxInt16,
				SNR:        math.MaxInt16,
			},
			LocalTemp:       NullFloat32{Float32: math.MaxFloat32, Valid: true},
			LocalHumidity:   NullFloat32{Float32: math.SmallestNonzeroFloat32, Valid: true},
			PacketsReceived: math.MaxUint32,
			CRCErrors:       math.MaxUint32,
		},
	}

	var enc TelemetryEncoder
	for i, rec := range extremes {
		out := enc.Encode(rec)
		if len(out) > MaxTelemetryLen(len(nodeID)) {
			t.Errorf("record %d: length %d exceeds bound %d\n%s", i, len(out), MaxTelemetryLen(len(nodeID)), out)
		}
		if cap(out) != TelemetryBufferSize {
			t.Errorf("record %d: encoder grew its buffer (cap %d)", i, cap(out))
		}
	}
}
