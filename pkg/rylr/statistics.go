// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rylr

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks frame statistics and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames       uint64
	ValidFrames       uint64
	CRCErrors         uint64
	MalformedFrames   uint64
	DeserializeErrors uint64
	AnomalousValues   uint64
	SequenceGaps      uint64
	LinkErrors        uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update updates statistics based on a decode result and its anomalies
func (s *Statistics) Update(decodeErr error, validationErrors []ValidationError) {
	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		switch {
		case errors.Is(decodeErr, ErrIntegrity):
			s.CRCErrors++
		case errors.Is(decodeErr, ErrDeserialize):
			s.DeserializeErrors++
		default:
			s.MalformedFrames++
		}
		return
	}

	if len(validationErrors) == 0 {
		s.ValidFrames++
		return
	}
	for _, v := range validationErrors {
		if v.Type == AnomalySequenceGap {
			s.SequenceGaps++
		} else {
			s.AnomalousValues++
		}
	}
}

// RecordLinkError counts a read error on the underlying link
func (s *Statistics) RecordLinkError() {
	s.LinkErrors++
}

// Errors returns the number of frames that failed to decode
func (s *Statistics) Errors() uint64 {
	return s.CRCErrors + s.MalformedFrames + s.DeserializeErrors
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	percent := func(n uint64) float64 {
		if s.TotalFrames == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, percent(s.ValidFrames))

	if s.CRCErrors > 0 {
		result += fmt.Sprintf("CRC Errors:      %8d (%.1f%%)\n", s.CRCErrors, percent(s.CRCErrors))
	}
	if s.MalformedFrames > 0 {
		result += fmt.Sprintf("Malformed:       %8d (%.1f%%)\n", s.MalformedFrames, percent(s.MalformedFrames))
	}
	if s.DeserializeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d (%.1f%%)\n", s.DeserializeErrors, percent(s.DeserializeErrors))
	}
	if s.AnomalousValues > 0 {
		result += fmt.Sprintf("Anomalous Values:%8d\n", s.AnomalousValues)
	}
	if s.SequenceGaps > 0 {
		result += fmt.Sprintf("Sequence Gaps:   %8d\n", s.SequenceGaps)
	}
	if s.LinkErrors > 0 {
		result += fmt.Sprintf("Link Errors:     %8d\n", s.LinkErrors)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
