// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rylr

import "fmt"

// AnomalyType represents different types of message anomalies
type AnomalyType int

const (
	AnomalyInvalidTemp AnomalyType = iota
	AnomalyInvalidHumidity
	AnomalyInvalidGas
	AnomalyWeakSignal
	AnomalySequenceGap
)

// Plausible physical ranges for the remote sensor
const (
	MinTemperature = -40.0
	MaxTemperature = 85.0
	MaxHumidity    = 100.0
	MinRSSI        = -130
)

// ValidationError represents an implausible value in a decoded message
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateMessage checks a decoded message against the sensor's physical
// ranges. A message can pass the CRC and still carry nonsense when the
// sender's sensor misbehaves.
func ValidateMessage(m ParsedMessage) []ValidationError {
	errors := []ValidationError{}
	d := m.SensorData

	if d.Temperature < MinTemperature || d.Temperature > MaxTemperature {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidTemp,
			Message: fmt.Sprintf("Temperature out of range: %.1f°C (valid %.0f to %.0f)", d.Temperature, MinTemperature, MaxTemperature),
			Details: map[string]interface{}{"value": d.Temperature},
		})
	}

	if d.Humidity < 0 || d.Humidity > MaxHumidity {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidHumidity,
			Message: fmt.Sprintf("Humidity out of range: %.1f%%", d.Humidity),
			Details: map[string]interface{}{"value": d.Humidity},
		})
	}

	if d.GasResistance == 0 {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidGas,
			Message: "Gas resistance is zero (sensor not heated?)",
			Details: map[string]interface{}{"value": d.GasResistance},
		})
	}

	if m.RSSI < MinRSSI {
		errors = append(errors, ValidationError{
			Type:    AnomalyWeakSignal,
			Message: fmt.Sprintf("RSSI below sensitivity floor: %d dBm", m.RSSI),
			Details: map[string]interface{}{"rssi": m.RSSI, "snr": m.SNR},
		})
	}

	return errors
}

// SequenceTracker detects gaps in the sender's sequence numbers
type SequenceTracker struct {
	last  uint16
	valid bool
}

// Observe records seq and returns a validation error when packets were
// skipped. Repeated sequence numbers are retransmissions and are not gaps.
func (t *SequenceTracker) Observe(seq uint16) *ValidationError {
	defer func() {
		t.last = seq
		t.valid = true
	}()
	if !t.valid || seq == t.last || seq == t.last+1 {
		return nil
	}
	missed := seq - t.last - 1
	return &ValidationError{
		Type:    AnomalySequenceGap,
		Message: fmt.Sprintf("Sequence gap: %d packet(s) missing before #%d", missed, seq),
		Details: map[string]interface{}{"missed": missed, "seq": seq},
	}
}
