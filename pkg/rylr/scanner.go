// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rylr

// FrameScanner accumulates received bytes into a bounded buffer until the
// line terminator is seen. Bytes beyond capacity are dropped, but the
// terminator is still recognized so an oversized frame completes and can
// be discarded by the decoder.
type FrameScanner struct {
	buf     [RxBufferSize]byte
	n       int
	dropped uint64
}

// NewFrameScanner creates an empty scanner
func NewFrameScanner() *FrameScanner {
	return &FrameScanner{}
}

// Push appends one byte and reports whether it was the frame terminator.
func (s *FrameScanner) Push(b byte) bool {
	if s.n < len(s.buf) {
		s.buf[s.n] = b
		s.n++
	} else {
		s.dropped++
	}
	return b == Terminator
}

// Bytes returns the retained bytes of the current frame. The slice aliases
// the scanner buffer and is only valid until the next Push or Reset.
func (s *FrameScanner) Bytes() []byte {
	return s.buf[:s.n]
}

// Len returns the number of retained bytes
func (s *FrameScanner) Len() int {
	return s.n
}

// Dropped returns the number of bytes discarded because the buffer was full
func (s *FrameScanner) Dropped() uint64 {
	return s.dropped
}

// Reset clears the buffer for the next frame
func (s *FrameScanner) Reset() {
	s.n = 0
}

// Next pushes b and returns the frame it completes, if any. Every
// terminator completes a frame, including one inside a binary payload; such
// a frame is cut short and rejected by the decoder. The frame is valid until
// Reset, which the caller invokes once done with it.
func (s *FrameScanner) Next(b byte) ([]byte, bool) {
	if !s.Push(b) {
		return nil, false
	}
	return s.Bytes(), true
}
