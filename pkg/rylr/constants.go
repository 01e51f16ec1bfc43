// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package rylr implements the LoRa telemetry link spoken between a remote
// sensor node and the receiving gateway through an RYLR998-class modem.
//
// The modem wraps every received radio payload in an ASCII envelope
// (+RCV=<addr>,<len>,<payload>,<rssi>,<snr>\r\n). The payload itself is binary:
// a compact varint-encoded sensor record followed by a big-endian CRC-16.
// This package provides frame scanning, envelope decoding, CRC validation,
// the record codec, acknowledgment framing and the NDJSON telemetry encoder.
package rylr

// Envelope framing
const (
	RecvPrefix = "+RCV="
	SendPrefix = "AT+SEND="
	Separator  = ','
	Terminator = '\n'
	LineEnding = "\r\n"
)

// Frame size limits
//
// The modem accepts payloads up to 240 bytes; 255 leaves room for the
// envelope around current payloads with headroom for growth.
const (
	RxBufferSize    = 255
	MinFrameSize    = 10
	MinPayloadSize  = 3 // at least 1 data byte + 2 CRC bytes
	CRCSize         = 2
	DefaultAckDest  = 1
	DefaultNodeID   = "N2"
	MaxNodeIDLength = 16
)

// Message types carried in AckPacket.MsgType
const (
	MsgTypeAck  = 1
	MsgTypeNack = 2
)

// Fixed-point scale factors of the wire record
const (
	TemperatureDivisor = 10.0
	HumidityDivisor    = 100.0
)
