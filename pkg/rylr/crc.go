// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rylr

import "github.com/sigurn/crc16"

var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// CalculateCRC computes the CRC-16/IBM-3740 checksum for the given data.
// The sender computes the same value over the record bytes and appends it
// big-endian after them.
func CalculateCRC(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}
