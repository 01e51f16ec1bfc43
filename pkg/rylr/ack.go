// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rylr

import (
	"fmt"
	"io"
)

// AckResponder frames acknowledgments as modem transmit commands and writes
// them to the modem link. The whole command is assembled in a fixed buffer
// and handed to the writer in one blocking call.
type AckResponder struct {
	w    io.Writer
	dest uint16
	buf  [len(SendPrefix) + 16 + MaxAckSize + len(LineEnding)]byte
}

// NewAckResponder creates a responder addressing acknowledgments to dest
func NewAckResponder(w io.Writer, dest uint16) *AckResponder {
	return &AckResponder{w: w, dest: dest}
}

// Dest returns the modem address acknowledgments are sent to
func (r *AckResponder) Dest() uint16 {
	return r.dest
}

// Ack acknowledges a successfully received packet
func (r *AckResponder) Ack(seq uint16) ([]byte, error) {
	return r.send(AckPacket{MsgType: MsgTypeAck, SeqNum: seq})
}

// Nack rejects a packet. The receive path never sends one today; the sender
// infers failure from a missing ACK.
func (r *AckResponder) Nack(seq uint16) ([]byte, error) {
	return r.send(AckPacket{MsgType: MsgTypeNack, SeqNum: seq})
}

// send writes the framed command and returns the bytes written. The
// returned slice aliases the responder buffer.
func (r *AckResponder) send(a AckPacket) ([]byte, error) {
	var payload [MaxAckSize]byte
	p := AppendAck(payload[:0], a)
	cmd := AppendSendCommand(r.buf[:0], r.dest, p)

	n, err := r.w.Write(cmd)
	if err != nil {
		return cmd[:n], fmt.Errorf("failed to send ACK for packet #%d: %w", a.SeqNum, err)
	}
	return cmd, nil
}
