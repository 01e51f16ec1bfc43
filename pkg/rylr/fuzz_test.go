// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rylr

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

func randomPacket(rng *rand.Rand) SensorDataPacket {
	return SensorDataPacket{
		SeqNum:        uint16(rng.Intn(1 << 16)),
		Temperature:   int16(rng.Intn(1<<16) - 1<<15),
		Humidity:      uint16(rng.Intn(1 << 16)),
		GasResistance: rng.Uint32(),
	}
}

func TestFuzz_EnvelopeRoundTrip(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		p := randomPacket(rng)
		rssi := int16(-rng.Intn(140))
		snr := int16(rng.Intn(40) - 20)

		frame := EncodeEnvelope(uint16(rng.Intn(65536)), p, rssi, snr)
		if len(frame) > RxBufferSize {
			t.Fatalf("round %d: frame of %d bytes exceeds receive buffer", i, len(frame))
		}

		msg, err := DecodeEnvelope(frame)
		if err != nil {
			t.Fatalf("round %d: DecodeEnvelope(%s) failed: %v", i, FormatFrame(frame), err)
		}
		if msg.SensorData != p.ToSensorData() || msg.RSSI != rssi || msg.SNR != snr {
			t.Fatalf("round %d: got %+v, want %+v rssi=%d snr=%d", i, msg, p.ToSensorData(), rssi, snr)
		}
	}
}

func TestFuzz_ByteCorruptionDetected(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		p := randomPacket(rng)
		payload := BuildPayload(p)
		frame := EncodeRecvEnvelope(1, payload, -50, 5)

		start := bytes.IndexByte(frame[len(RecvPrefix):], Separator) + len(RecvPrefix)
		start = bytes.IndexByte(frame[start+1:], Separator) + start + 2

		pos := start + rng.Intn(len(payload))
		frame[pos] ^= byte(rng.Intn(255) + 1)

		if _, err := DecodeEnvelope(frame); !errors.Is(err, ErrIntegrity) {
			t.Fatalf("round %d: corruption at %d not detected: %v", i, pos-start, err)
		}
	}
}

func TestFuzz_RandomFramesDoNotPanic(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	s := NewFrameScanner()
	for i := 0; i < rounds; i++ {
		n := rng.Intn(2 * RxBufferSize)
		junk := make([]byte, n)
		rng.Read(junk)
		if rng.Intn(2) == 0 {
			junk = append([]byte("+RCV="), junk...)
		}

		for _, b := range junk {
			if s.Push(b) {
				DecodeEnvelope(s.Bytes())
				DecodeAckEnvelope(s.Bytes())
				s.Reset()
			}
		}
	}
}
