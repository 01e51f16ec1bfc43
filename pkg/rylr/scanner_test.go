// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rylr

import (
	"bytes"
	"errors"
	"testing"
)

func TestFrameScanner_CompletesOnTerminator(t *testing.T) {
	s := NewFrameScanner()
	frame := EncodeEnvelope(1, scenarioPacket, -42, 11)

	complete := false
	for i, b := range frame {
		complete = s.Push(b)
		if complete && i != len(frame)-1 {
			t.Fatalf("terminator reported early at byte %d", i)
		}
	}
	if !complete {
		t.Fatal("frame was not completed")
	}
	if !bytes.Equal(s.Bytes(), frame) {
		t.Errorf("buffer mismatch:\n got %q\nwant %q", s.Bytes(), frame)
	}

	s.Reset()
	if s.Len() != 0 {
		t.Errorf("Len after Reset: got %d, want 0", s.Len())
	}
}

func TestFrameScanner_Overflow(t *testing.T) {
	s := NewFrameScanner()
	for i := 0; i < RxBufferSize+45; i++ {
		if s.Push('A') {
			t.Fatal("unexpected terminator")
		}
	}
	if s.Len() != RxBufferSize {
		t.Errorf("Len: got %d, want %d", s.Len(), RxBufferSize)
	}
	if s.Dropped() != 45 {
		t.Errorf("Dropped: got %d, want 45", s.Dropped())
	}

	// The terminator is still recognized when it no longer fits
	if !s.Push('\n') {
		t.Error("terminator not recognized on a full buffer")
	}
	if s.Dropped() != 46 {
		t.Errorf("Dropped: got %d, want 46", s.Dropped())
	}
	if _, err := DecodeEnvelope(s.Bytes()); err == nil {
		t.Error("oversized frame should not decode")
	}
}

func scanFrames(s *FrameScanner, data []byte) [][]byte {
	var frames [][]byte
	for _, b := range data {
		if f, ok := s.Next(b); ok {
			frames = append(frames, append([]byte(nil), f...))
			s.Reset()
		}
	}
	return frames
}

func TestFrameScanner_NextTruncatedLength(t *testing.T) {
	truncated := []byte("+RCV=1,40,\x01\x02\x03,-42,11\r\n")
	valid := EncodeEnvelope(1, scenarioPacket, -42, 11)

	frames := scanFrames(NewFrameScanner(), append(append([]byte(nil), truncated...), valid...))
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if !bytes.Equal(frames[0], truncated) {
		t.Errorf("first frame: got %q, want %q", frames[0], truncated)
	}
	if _, err := DecodeEnvelope(frames[0]); !errors.Is(err, ErrMalformed) {
		t.Errorf("truncated frame: got %v, want ErrMalformed", err)
	}
	m, err := DecodeEnvelope(frames[1])
	if err != nil {
		t.Fatalf("valid frame: %v", err)
	}
	if m.SensorData.PacketNum != scenarioPacket.SeqNum {
		t.Errorf("seq: got %d, want %d", m.SensorData.PacketNum, scenarioPacket.SeqNum)
	}
}

func TestFrameScanner_NextEmbeddedTerminator(t *testing.T) {
	// Sequence number 10 encodes as a single 0x0A byte
	p := SensorDataPacket{SeqNum: 10, Temperature: 271, Humidity: 5600, GasResistance: 100}
	frame := EncodeEnvelope(1, p, -42, 11)
	valid := EncodeEnvelope(1, scenarioPacket, -42, 11)

	frames := scanFrames(NewFrameScanner(), append(append([]byte(nil), frame...), valid...))
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	for i, f := range frames[:2] {
		if _, err := DecodeEnvelope(f); !errors.Is(err, ErrMalformed) {
			t.Errorf("fragment %d %q: got %v, want ErrMalformed", i, FormatFrame(f), err)
		}
	}
	if _, err := DecodeEnvelope(frames[2]); err != nil {
		t.Errorf("frame after the rejected one: %v", err)
	}
}
