// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sht3x

import (
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tx struct {
	addr uint16
	w    []byte
	r    int
}

type fakeBus struct {
	txs   []tx
	reply []byte
	err   error
}

func (b *fakeBus) Tx(addr uint16, w, r []byte) error {
	b.txs = append(b.txs, tx{addr: addr, w: append([]byte(nil), w...), r: len(r)})
	if b.err != nil {
		return b.err
	}
	copy(r, b.reply)
	return nil
}

func word(v uint16) []byte {
	b := []byte{byte(v >> 8), byte(v)}
	return append(b, CRC8(b))
}

func TestCRC8_Datasheet(t *testing.T) {
	assert.Equal(t, byte(0x92), CRC8([]byte{0xBE, 0xEF}))
	assert.Equal(t, byte(0xFF), CRC8(nil))
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		rawT  uint16
		rawRH uint16
		temp  float32
		hum   float32
	}{
		{"minimum", 0, 0, -45, 0},
		{"maximum", 0xFFFF, 0xFFFF, 130, 100},
		{"room", 0x6666, 0x8000, 25, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var raw [6]byte
			copy(raw[:3], word(tt.rawT))
			copy(raw[3:], word(tt.rawRH))

			temp, hum, err := Decode(raw)
			require.NoError(t, err)
			assert.InDelta(t, tt.temp, temp, 0.01)
			assert.InDelta(t, tt.hum, hum, 0.01)
		})
	}
}

func TestDecode_CRCFailure(t *testing.T) {
	var raw [6]byte
	copy(raw[:3], word(0x6666))
	copy(raw[3:], word(0x8000))
	raw[5] ^= 0x01

	_, _, err := Decode(raw)
	require.Error(t, err)
	assert.Equal(t, ErrCRC, errors.Cause(err))
}

func TestMeasure(t *testing.T) {
	bus := &fakeBus{reply: append(word(0x6666), word(0x8000)...)}
	var slept []time.Duration
	d := New(bus, DefaultAddr)
	d.sleep = func(dur time.Duration) { slept = append(slept, dur) }

	temp, hum, err := d.Measure()
	require.NoError(t, err)
	assert.InDelta(t, 25, temp, 0.01)
	assert.InDelta(t, 50, hum, 0.01)

	require.Len(t, bus.txs, 2)
	assert.Equal(t, tx{addr: DefaultAddr, w: []byte{0x24, 0x00}, r: 0}, bus.txs[0])
	assert.Equal(t, tx{addr: DefaultAddr, w: nil, r: 6}, bus.txs[1])
	assert.Equal(t, []time.Duration{16 * time.Millisecond}, slept)
}

func TestMeasure_Repeatability(t *testing.T) {
	bus := &fakeBus{reply: append(word(0), word(0)...)}
	d := New(bus, AlternateAddr)
	d.sleep = func(time.Duration) {}
	d.SetRepeatability(RepeatabilityLow)

	_, _, err := d.Measure()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x24, 0x16}, bus.txs[0].w)
	assert.Equal(t, uint16(AlternateAddr), bus.txs[0].addr)
}

func TestMeasure_BusError(t *testing.T) {
	cause := errors.New("nack")
	d := New(&fakeBus{err: cause}, DefaultAddr)
	d.sleep = func(time.Duration) {}

	_, _, err := d.Measure()
	require.Error(t, err)
	assert.Equal(t, cause, errors.Cause(err))
}
