// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rylr

import "errors"

// Record encoding
//
// Fields are written in declaration order with no framing. Unsigned
// integers wider than a byte are LEB128 varints, signed integers are
// zig-zag encoded first, and u8 is a raw byte. This is the encoding the
// remote node's serializer produces.

// Maximum encoded sizes
const (
	maxVarint16       = 3
	maxVarint32       = 5
	MaxSensorDataSize = maxVarint16 + maxVarint16 + maxVarint16 + maxVarint32
	MaxAckSize        = 1 + maxVarint16
)

var (
	// ErrUnexpectedEnd is returned when the input ends inside a field.
	ErrUnexpectedEnd = errors.New("unexpected end of record")
	// ErrBadVarint is returned for an over-long varint or one that does not
	// fit the field type.
	ErrBadVarint = errors.New("malformed varint")
)

// MarshalSensorData encodes a SensorDataPacket.
func MarshalSensorData(p SensorDataPacket) []byte {
	return AppendSensorData(make([]byte, 0, MaxSensorDataSize), p)
}

// AppendSensorData appends the encoding of p to dst.
func AppendSensorData(dst []byte, p SensorDataPacket) []byte {
	dst = appendUvarint(dst, uint64(p.SeqNum))
	dst = appendUvarint(dst, uint64(zigzag16(p.Temperature)))
	dst = appendUvarint(dst, uint64(p.Humidity))
	dst = appendUvarint(dst, uint64(p.GasResistance))
	return dst
}

// UnmarshalSensorData decodes a SensorDataPacket. Bytes after the record
// are ignored.
func UnmarshalSensorData(data []byte) (SensorDataPacket, error) {
	r := recordReader{buf: data}
	p := SensorDataPacket{
		SeqNum:        uint16(r.uvarint(maxVarint16, 0xFFFF)),
		Temperature:   unzigzag16(uint16(r.uvarint(maxVarint16, 0xFFFF))),
		Humidity:      uint16(r.uvarint(maxVarint16, 0xFFFF)),
		GasResistance: uint32(r.uvarint(maxVarint32, 0xFFFFFFFF)),
	}
	if r.err != nil {
		return SensorDataPacket{}, r.err
	}
	return p, nil
}

// MarshalAck encodes an AckPacket.
func MarshalAck(a AckPacket) []byte {
	return AppendAck(make([]byte, 0, MaxAckSize), a)
}

// AppendAck appends the encoding of a to dst.
func AppendAck(dst []byte, a AckPacket) []byte {
	dst = append(dst, a.MsgType)
	return appendUvarint(dst, uint64(a.SeqNum))
}

// UnmarshalAck decodes an AckPacket.
func UnmarshalAck(data []byte) (AckPacket, error) {
	r := recordReader{buf: data}
	a := AckPacket{
		MsgType: r.u8(),
		SeqNum:  uint16(r.uvarint(maxVarint16, 0xFFFF)),
	}
	if r.err != nil {
		return AckPacket{}, r.err
	}
	return a, nil
}

// recordReader reads fields sequentially and keeps the first error.
type recordReader struct {
	buf []byte
	off int
	err error
}

func (r *recordReader) u8() uint8 {
	if r.err != nil {
		return 0
	}
	if r.off >= len(r.buf) {
		r.err = ErrUnexpectedEnd
		return 0
	}
	b := r.buf[r.off]
	r.off++
	return b
}

func (r *recordReader) uvarint(maxBytes int, max uint64) uint64 {
	if r.err != nil {
		return 0
	}
	var v uint64
	for i := 0; i < maxBytes; i++ {
		if r.off >= len(r.buf) {
			r.err = ErrUnexpectedEnd
			return 0
		}
		b := r.buf[r.off]
		r.off++
		v |= uint64(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			if v > max {
				r.err = ErrBadVarint
				return 0
			}
			return v
		}
	}
	r.err = ErrBadVarint
	return 0
}

func appendUvarint(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

func zigzag16(v int16) uint16 {
	return uint16((v << 1) ^ (v >> 15))
}

func unzigzag16(u uint16) int16 {
	return int16(u>>1) ^ -int16(u&1)
}
