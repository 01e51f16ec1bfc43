// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rylr

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	// ErrMalformed covers every envelope that cannot be located or split:
	// bad prefix, missing separators, bad length, payload out of bounds,
	// missing signal fields.
	ErrMalformed = errors.New("malformed envelope")
	// ErrIntegrity is matched by *IntegrityError.
	ErrIntegrity = errors.New("CRC mismatch")
	// ErrDeserialize is returned when the CRC passed but the record does
	// not decode.
	ErrDeserialize = errors.New("record deserialization failed")

	errPayloadOverrun = fmt.Errorf("%w: payload exceeds frame", ErrMalformed)
)

// IntegrityError reports a payload whose carried CRC does not match.
type IntegrityError struct {
	Received   uint16
	Calculated uint16
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("CRC mismatch: received 0x%04X, calculated 0x%04X", e.Received, e.Calculated)
}

// Is makes errors.Is(err, ErrIntegrity) true
func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}

// DecodeEnvelope decodes a complete receive envelope:
//
//	+RCV=<addr>,<len>,<data bytes><crc_hi><crc_lo>,<rssi>,<snr>\r\n
//
// The CRC is checked before the record and the trailing signal fields are
// parsed, so a corrupted payload is always reported as an integrity error.
func DecodeEnvelope(frame []byte) (ParsedMessage, error) {
	payload, rest, err := locatePayload(frame)
	if err != nil {
		return ParsedMessage{}, err
	}

	if len(payload) < MinPayloadSize {
		return ParsedMessage{}, fmt.Errorf("%w: payload too short for CRC (%d bytes)", ErrMalformed, len(payload))
	}

	dataLen := len(payload) - CRCSize
	data := payload[:dataLen]
	received := uint16(payload[dataLen])<<8 | uint16(payload[dataLen+1])
	calculated := CalculateCRC(data)
	if received != calculated {
		return ParsedMessage{}, &IntegrityError{Received: received, Calculated: calculated}
	}

	record, err := UnmarshalSensorData(data)
	if err != nil {
		return ParsedMessage{}, fmt.Errorf("%w: %w", ErrDeserialize, err)
	}

	rssi, snr, err := parseSignal(rest)
	if err != nil {
		return ParsedMessage{}, err
	}

	return ParsedMessage{
		SensorData: record.ToSensorData(),
		RSSI:       rssi,
		SNR:        snr,
	}, nil
}

// DecodeAckEnvelope decodes a receive envelope whose payload is a bare
// AckPacket. Acknowledgments carry no CRC.
func DecodeAckEnvelope(frame []byte) (AckPacket, error) {
	payload, rest, err := locatePayload(frame)
	if err != nil {
		return AckPacket{}, err
	}
	ack, err := UnmarshalAck(payload)
	if err != nil {
		return AckPacket{}, fmt.Errorf("%w: %w", ErrDeserialize, err)
	}
	if _, _, err := parseSignal(rest); err != nil {
		return AckPacket{}, err
	}
	return ack, nil
}

// locatePayload finds the binary payload by its declared length and
// returns it together with the bytes that follow it.
func locatePayload(frame []byte) (payload, rest []byte, err error) {
	if len(frame) < MinFrameSize || !bytes.HasPrefix(frame, []byte(RecvPrefix)) {
		return nil, nil, fmt.Errorf("%w: missing %s prefix", ErrMalformed, RecvPrefix)
	}

	comma1, comma2 := -1, -1
	for i := len(RecvPrefix); i < len(frame); i++ {
		if frame[i] != Separator {
			continue
		}
		if comma1 < 0 {
			comma1 = i
		} else {
			comma2 = i
			break
		}
	}
	if comma2 < 0 {
		return nil, nil, fmt.Errorf("%w: missing separators", ErrMalformed)
	}

	length, err := strconv.ParseUint(string(frame[comma1+1:comma2]), 10, 16)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: invalid length %q", ErrMalformed, frame[comma1+1:comma2])
	}

	start := comma2 + 1
	end := start + int(length)
	if end > len(frame) {
		return nil, nil, fmt.Errorf("%w (%d > %d)", errPayloadOverrun, end, len(frame))
	}

	return frame[start:end], frame[end:], nil
}

// parseSignal parses the ",<rssi>,<snr>\r\n" text after the payload
func parseSignal(rest []byte) (rssi, snr int16, err error) {
	if !utf8.Valid(rest) {
		return 0, 0, fmt.Errorf("%w: signal fields are not text", ErrMalformed)
	}
	parts := strings.Split(string(rest), string(Separator))
	if len(parts) < 3 {
		return 0, 0, fmt.Errorf("%w: missing RSSI/SNR fields", ErrMalformed)
	}

	r, err := strconv.ParseInt(parts[1], 10, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: invalid RSSI %q", ErrMalformed, parts[1])
	}
	s, err := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: invalid SNR %q", ErrMalformed, parts[2])
	}

	return int16(r), int16(s), nil
}

// BuildPayload encodes a record and appends its big-endian CRC.
func BuildPayload(p SensorDataPacket) []byte {
	data := AppendSensorData(make([]byte, 0, MaxSensorDataSize+CRCSize), p)
	crc := CalculateCRC(data)
	return append(data, byte(crc>>8), byte(crc&0xFF))
}

// EncodeEnvelope builds the receive envelope the modem would deliver for
// a record sent from addr.
func EncodeEnvelope(addr uint16, p SensorDataPacket, rssi, snr int16) []byte {
	return EncodeRecvEnvelope(addr, BuildPayload(p), rssi, snr)
}

// EncodeRecvEnvelope wraps an arbitrary payload in a receive envelope.
func EncodeRecvEnvelope(addr uint16, payload []byte, rssi, snr int16) []byte {
	out := make([]byte, 0, len(payload)+32)
	out = append(out, RecvPrefix...)
	out = strconv.AppendUint(out, uint64(addr), 10)
	out = append(out, Separator)
	out = strconv.AppendInt(out, int64(len(payload)), 10)
	out = append(out, Separator)
	out = append(out, payload...)
	out = append(out, Separator)
	out = strconv.AppendInt(out, int64(rssi), 10)
	out = append(out, Separator)
	out = strconv.AppendInt(out, int64(snr), 10)
	return append(out, LineEnding...)
}

// AppendSendCommand appends AT+SEND=<dest>,<len>,<payload>\r\n to dst.
func AppendSendCommand(dst []byte, dest uint16, payload []byte) []byte {
	dst = append(dst, SendPrefix...)
	dst = strconv.AppendUint(dst, uint64(dest), 10)
	dst = append(dst, Separator)
	dst = strconv.AppendInt(dst, int64(len(payload)), 10)
	dst = append(dst, Separator)
	dst = append(dst, payload...)
	return append(dst, LineEnding...)
}

// EncodeSendCommand builds a modem transmit command
func EncodeSendCommand(dest uint16, payload []byte) []byte {
	return AppendSendCommand(make([]byte, 0, len(payload)+24), dest, payload)
}
