// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sht3x reads temperature and relative humidity from a Sensirion
// SHT3x sensor over I²C.
package sht3x

import (
	"time"

	"github.com/juju/errors"
)

// I²C addresses (ADDR pin low / high)
const (
	DefaultAddr   = 0x44
	AlternateAddr = 0x45
)

// Single-shot measurement commands without clock stretching
var (
	cmdMeasureHigh   = []byte{0x24, 0x00}
	cmdMeasureMedium = []byte{0x24, 0x0B}
	cmdMeasureLow    = []byte{0x24, 0x16}
	cmdSoftReset     = []byte{0x30, 0xA2}
)

// Repeatability selects measurement accuracy against duration
type Repeatability int

const (
	RepeatabilityHigh Repeatability = iota
	RepeatabilityMedium
	RepeatabilityLow
)

// Bus is the transaction interface the driver needs; *sharedbus.Proxy
// satisfies it.
type Bus interface {
	Tx(addr uint16, w, r []byte) error
}

// ErrCRC is returned when a measurement word fails its checksum
var ErrCRC = errors.New("sht3x: CRC mismatch")

// Dev is one SHT3x sensor
type Dev struct {
	bus           Bus
	addr          uint16
	repeatability Repeatability
	sleep         func(time.Duration)
}

// New creates a driver for the sensor at addr
func New(bus Bus, addr uint16) *Dev {
	return &Dev{bus: bus, addr: addr, sleep: time.Sleep}
}

// SetRepeatability changes the measurement mode
func (d *Dev) SetRepeatability(r Repeatability) {
	d.repeatability = r
}

// Reset issues a soft reset
func (d *Dev) Reset() error {
	if err := d.bus.Tx(d.addr, cmdSoftReset, nil); err != nil {
		return errors.Annotate(err, "sht3x soft reset")
	}
	d.sleep(2 * time.Millisecond)
	return nil
}

// Measure runs one single-shot measurement and returns temperature in °C
// and relative humidity in %.
func (d *Dev) Measure() (temperature, humidity float32, err error) {
	cmd, wait := d.command()
	if err := d.bus.Tx(d.addr, cmd, nil); err != nil {
		return 0, 0, errors.Annotate(err, "sht3x start measurement")
	}
	d.sleep(wait)

	var raw [6]byte
	if err := d.bus.Tx(d.addr, nil, raw[:]); err != nil {
		return 0, 0, errors.Annotate(err, "sht3x read measurement")
	}
	return Decode(raw)
}

func (d *Dev) command() ([]byte, time.Duration) {
	switch d.repeatability {
	case RepeatabilityLow:
		return cmdMeasureLow, 5 * time.Millisecond
	case RepeatabilityMedium:
		return cmdMeasureMedium, 7 * time.Millisecond
	default:
		return cmdMeasureHigh, 16 * time.Millisecond
	}
}

// Decode converts a 6-byte measurement (T word, CRC, RH word, CRC).
func Decode(raw [6]byte) (temperature, humidity float32, err error) {
	if CRC8(raw[0:2]) != raw[2] {
		return 0, 0, errors.Annotatef(ErrCRC, "temperature word %02X%02X crc=%02X", raw[0], raw[1], raw[2])
	}
	if CRC8(raw[3:5]) != raw[5] {
		return 0, 0, errors.Annotatef(ErrCRC, "humidity word %02X%02X crc=%02X", raw[3], raw[4], raw[5])
	}

	rawT := float32(uint16(raw[0])<<8 | uint16(raw[1]))
	rawRH := float32(uint16(raw[3])<<8 | uint16(raw[4]))
	temperature = -45 + 175*rawT/65535
	humidity = 100 * rawRH / 65535
	return temperature, humidity, nil
}

// CRC8 is the sensor's checksum: polynomial 0x31, init 0xFF, no reflection
func CRC8(data []byte) byte {
	crc := byte(0xFF)
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
