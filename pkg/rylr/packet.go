// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rylr

// SensorDataPacket is the binary record transmitted by the remote node.
type SensorDataPacket struct {
	SeqNum        uint16 // Sequence number for duplicate detection
	Temperature   int16  // Temperature, raw/10 = °C (271 = 27.1°C)
	Humidity      uint16 // Humidity in basis points (5600 = 56.0%)
	GasResistance uint32 // Gas resistance in ohms
}

// AckPacket acknowledges a received SensorDataPacket.
type AckPacket struct {
	MsgType uint8 // MsgTypeAck or MsgTypeNack
	SeqNum  uint16
}

// IsAck returns true for a positive acknowledgment
func (a AckPacket) IsAck() bool {
	return a.MsgType == MsgTypeAck
}

// SensorData holds a record converted to physical units.
type SensorData struct {
	Temperature   float32 // °C
	Humidity      float32 // %
	GasResistance uint32  // ohms
	PacketNum     uint16
}

// ParsedMessage is the result of decoding one valid receive envelope.
type ParsedMessage struct {
	SensorData SensorData
	RSSI       int16 // dBm
	SNR        int16 // dB
}

// ToSensorData converts the raw fixed-point fields to physical units.
func (p SensorDataPacket) ToSensorData() SensorData {
	return SensorData{
		Temperature:   float32(p.Temperature) / TemperatureDivisor,
		Humidity:      float32(p.Humidity) / HumidityDivisor,
		GasResistance: p.GasResistance,
		PacketNum:     p.SeqNum,
	}
}
