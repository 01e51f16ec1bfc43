// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

import (
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/loragate/loragate/pkg/rylr"
)

// VCPMarker precedes every telemetry line in the diagnostic log.
const VCPMarker = "JSON sent via VCP: "

// Pause after a failed read, doubled while the error persists
const (
	readRetryDelay    = 10 * time.Millisecond
	maxReadRetryDelay = time.Second
)

// Receiver is the receive handler. It owns the frame buffer, the ACK
// responder and the telemetry encoder; nothing else touches them.
type Receiver struct {
	nodeID  string
	state   *State
	link    io.Reader
	ack     *rylr.AckResponder
	vcp     io.Writer
	log     zerolog.Logger
	scanner *rylr.FrameScanner
	enc     rylr.TelemetryEncoder
	chunk   [rylr.RxBufferSize]byte

	retryDelay    time.Duration
	maxRetryDelay time.Duration
}

// NewReceiver creates a receive handler reading frames from modem and
// writing ACKs back to it. Telemetry lines go to vcp.
func NewReceiver(nodeID string, state *State, modem io.ReadWriter, ackDest uint16, vcp io.Writer, log zerolog.Logger) *Receiver {
	return &Receiver{
		nodeID:  nodeID,
		state:   state,
		link:    modem,
		ack:     rylr.NewAckResponder(modem, ackDest),
		vcp:     vcp,
		log:     log.With().Str("task", TaskReceive.String()).Logger(),
		scanner: rylr.NewFrameScanner(),

		retryDelay:    readRetryDelay,
		maxRetryDelay: maxReadRetryDelay,
	}
}

// Run reads the modem link until it ends. Transient read errors are logged
// and reading continues after a pause that grows while the error persists.
// stop is polled after every read error so a link closed during shutdown
// ends the loop.
func (r *Receiver) Run(stop <-chan struct{}) error {
	delay := r.retryDelay
	for {
		n, err := r.link.Read(r.chunk[:])
		if n > 0 {
			r.Feed(r.chunk[:n])
		}
		if err == nil {
			delay = r.retryDelay
			continue
		}
		if isLinkClosed(err) {
			r.log.Info().Err(err).Msg("modem link closed")
			return nil
		}
		r.log.Warn().Err(err).Dur("retry_in", delay).Msg("modem link error cleared")
		select {
		case <-stop:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > r.maxRetryDelay {
			delay = r.maxRetryDelay
		}
	}
}

// Feed pushes every byte of one link read through the frame scanner and
// processes each frame as its terminator arrives.
func (r *Receiver) Feed(data []byte) {
	if len(data) > 0 {
		r.log.Trace().Int("bytes", len(data)).Msg("modem data")
	}
	for _, b := range data {
		if frame, ok := r.scanner.Next(b); ok {
			r.HandleFrame(frame)
			r.scanner.Reset()
		}
	}
}

// HandleFrame decodes one complete frame and, when valid, updates state,
// acknowledges it and emits the telemetry line, in that order.
func (r *Receiver) HandleFrame(frame []byte) {
	msg, err := rylr.DecodeEnvelope(frame)
	if err != nil {
		r.reject(frame, err)
		return
	}

	seq := msg.SensorData.PacketNum
	r.log.Info().
		Uint16("seq", seq).
		Float32("temp", msg.SensorData.Temperature).
		Float32("humidity", msg.SensorData.Humidity).
		Uint32("gas", msg.SensorData.GasResistance).
		Int16("rssi", msg.RSSI).
		Int16("snr", msg.SNR).
		Msg("sensor data received")

	Lock(TaskReceive, r.state.LastPacket, func(p **rylr.ParsedMessage) {
		m := msg
		*p = &m
	})
	Lock(TaskReceive, r.state.PacketsReceived, func(c *uint32) { *c++ })

	if _, err := r.ack.Ack(seq); err != nil {
		r.log.Warn().Err(err).Uint16("seq", seq).Msg("ACK not sent")
	}

	rec := rylr.TelemetryRecord{
		TimestampMS:     Load(TaskReceive, r.state.UptimeMS),
		NodeID:          r.nodeID,
		Message:         msg,
		PacketsReceived: Load(TaskReceive, r.state.PacketsReceived),
		CRCErrors:       Load(TaskReceive, r.state.CRCErrors),
		LocalTemp:       Load(TaskReceive, r.state.LocalTemp),
		LocalHumidity:   Load(TaskReceive, r.state.LocalHumidity),
	}
	line := r.enc.Encode(rec)

	// The encoder buffer always has room for the newline
	if _, err := r.vcp.Write(append(line, '\n')); err != nil {
		r.log.Warn().Err(err).Msg("VCP write failed")
	}
	r.log.Info().Msg(VCPMarker + string(line))
}

func (r *Receiver) reject(frame []byte, err error) {
	switch {
	case errors.Is(err, rylr.ErrIntegrity):
		Lock(TaskReceive, r.state.CRCErrors, func(c *uint32) { *c++ })
		var ie *rylr.IntegrityError
		if errors.As(err, &ie) {
			r.log.Warn().
				Uint16("crc_received", ie.Received).
				Uint16("crc_calculated", ie.Calculated).
				Msg("CRC check failed")
		}
	case errors.Is(err, rylr.ErrDeserialize):
		r.log.Warn().Err(err).Str("frame", rylr.FormatFrame(frame)).Msg("record rejected")
	default:
		r.log.Debug().Err(err).Str("frame", rylr.FormatFrame(frame)).Msg("frame dropped")
	}
}

func isLinkClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrClosed)
}
