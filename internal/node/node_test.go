// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loragate/loragate/pkg/rylr"
)

var scenarioPacket = rylr.SensorDataPacket{SeqNum: 300, Temperature: 271, Humidity: 5600, GasResistance: 100}

const scenarioJSON = `{"ts":0,"id":"N2","n1":{"t":27.1,"h":56.0,"g":100},"n2":{},"sig":{"rssi":-42,"snr":11},"sts":{"rx":1,"err":0}}\n`

type fakeModem struct {
	mu  sync.Mutex
	in  io.Reader
	out bytes.Buffer
}

func (m *fakeModem) Read(p []byte) (int, error) {
	if m.in == nil {
		return 0, io.EOF
	}
	return m.in.Read(p)
}

func (m *fakeModem) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.out.Write(p)
}

func (m *fakeModem) Sent() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bytes.Clone(m.out.Bytes())
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fixture struct {
	node  *Node
	modem *fakeModem
	vcp   *syncBuffer
	logs  *syncBuffer
}

func newFixture(t *testing.T, in io.Reader, sensor LocalSensor, status StatusRenderer) *fixture {
	t.Helper()
	f := &fixture{
		modem: &fakeModem{in: in},
		vcp:   &syncBuffer{},
		logs:  &syncBuffer{},
	}
	log := zerolog.New(f.logs).Level(zerolog.DebugLevel)
	n, err := New(DefaultConfig(), Links{Modem: f.modem, VCP: f.vcp, Sensor: sensor, Status: status}, log)
	require.NoError(t, err)
	f.node = n
	return f
}

func withCRC(data []byte) []byte {
	crc := rylr.CalculateCRC(data)
	return append(bytes.Clone(data), byte(crc>>8), byte(crc))
}

func ackCommand(seq uint16) []byte {
	return rylr.EncodeSendCommand(rylr.DefaultAckDest, rylr.MarshalAck(rylr.AckPacket{MsgType: rylr.MsgTypeAck, SeqNum: seq}))
}

func TestReceiver_Scenario(t *testing.T) {
	f := newFixture(t, nil, nil, nil)

	f.node.Receiver().Feed(rylr.EncodeEnvelope(1, scenarioPacket, -42, 11))

	assert.Equal(t, []byte("AT+SEND=1,3,\x01\xAC\x02\r\n"), f.modem.Sent())
	assert.Equal(t, scenarioJSON+"\n", f.vcp.String())
	assert.Contains(t, f.logs.String(), VCPMarker)

	snap := f.node.State().Snapshot()
	assert.Equal(t, uint32(1), snap.PacketsReceived)
	assert.Equal(t, uint32(0), snap.CRCErrors)
	require.NotNil(t, snap.LastPacket)
	assert.Equal(t, int16(-42), snap.LastPacket.RSSI)
	assert.Equal(t, int16(11), snap.LastPacket.SNR)
	assert.Equal(t, uint16(300), snap.LastPacket.SensorData.PacketNum)
}

func TestReceiver_CorruptPayload(t *testing.T) {
	f := newFixture(t, nil, nil, nil)

	frame := rylr.EncodeEnvelope(1, scenarioPacket, -42, 11)
	frame[len("+RCV=1,9,")+2] ^= 0x10
	f.node.Receiver().Feed(frame)

	snap := f.node.State().Snapshot()
	assert.Equal(t, uint32(1), snap.CRCErrors)
	assert.Equal(t, uint32(0), snap.PacketsReceived)
	assert.Nil(t, snap.LastPacket)
	assert.Empty(t, f.modem.Sent(), "no ACK or NACK after a CRC failure")
	assert.Empty(t, f.vcp.String())

	// The error count shows up in the next telemetry line
	f.node.Receiver().Feed(rylr.EncodeEnvelope(1, scenarioPacket, -42, 11))
	assert.Contains(t, f.vcp.String(), `"sts":{"rx":1,"err":1}`)
}

func TestReceiver_RejectedFramesNotCounted(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{"truncated length", []byte("+RCV=1,40,\x01\x02\x03,-42,11\r\n")},
		{"wrong prefix", []byte("+OK=1,9,xxxxxxxxx,-42,11\r\n")},
		{"short", []byte("+RCV=\r\n")},
		{"checksum only", []byte("+RCV=1,2,\xFF\xFF,-42,11\r\n")},
		{"undecodable record", rylr.EncodeRecvEnvelope(1, withCRC([]byte{0x80}), -42, 11)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, nil, nil)
			f.node.Receiver().Feed(tt.frame)

			snap := f.node.State().Snapshot()
			assert.Equal(t, uint32(0), snap.CRCErrors)
			assert.Equal(t, uint32(0), snap.PacketsReceived)
			assert.Empty(t, f.modem.Sent())
			assert.Empty(t, f.vcp.String())

			// The rejected frame does not swallow the one after it
			f.node.Receiver().Feed(rylr.EncodeEnvelope(1, scenarioPacket, -42, 11))

			snap = f.node.State().Snapshot()
			assert.Equal(t, uint32(1), snap.PacketsReceived)
			assert.Equal(t, uint32(0), snap.CRCErrors)
			assert.Equal(t, ackCommand(300), f.modem.Sent())
			assert.Equal(t, scenarioJSON+"\n", f.vcp.String())
		})
	}
}

func TestReceiver_TruncatedThenValidStream(t *testing.T) {
	f := newFixture(t, nil, nil, nil)

	stream := []byte("+RCV=1,40,\x01\x02\x03,-42,11\r\n")
	var want []byte
	for seq := uint16(1); seq <= 3; seq++ {
		p := scenarioPacket
		p.SeqNum = seq
		stream = append(stream, rylr.EncodeEnvelope(1, p, -42, 11)...)
		want = append(want, ackCommand(seq)...)
	}
	f.node.Receiver().Feed(stream)

	snap := f.node.State().Snapshot()
	assert.Equal(t, uint32(3), snap.PacketsReceived)
	assert.Equal(t, uint32(0), snap.CRCErrors)
	assert.Equal(t, want, f.modem.Sent())
}

func TestReceiver_ByteAtATime(t *testing.T) {
	f := newFixture(t, nil, nil, nil)

	for _, b := range rylr.EncodeEnvelope(1, scenarioPacket, -42, 11) {
		f.node.Receiver().Feed([]byte{b})
	}

	snap := f.node.State().Snapshot()
	assert.Equal(t, uint32(1), snap.PacketsReceived)
	assert.Equal(t, uint32(0), snap.CRCErrors)
	assert.Equal(t, ackCommand(300), f.modem.Sent())
}

func TestReceiver_EmbeddedTerminatorRejected(t *testing.T) {
	f := newFixture(t, nil, nil, nil)

	// Temperature 5 zig-zags to the terminator byte, splitting the frame
	p := rylr.SensorDataPacket{SeqNum: 7, Temperature: 5, Humidity: 4000, GasResistance: 9}
	f.node.Receiver().Feed(rylr.EncodeEnvelope(1, p, -80, 3))

	snap := f.node.State().Snapshot()
	assert.Equal(t, uint32(0), snap.PacketsReceived)
	assert.Equal(t, uint32(0), snap.CRCErrors)
	assert.Empty(t, f.modem.Sent())

	f.node.Receiver().Feed(rylr.EncodeEnvelope(1, scenarioPacket, -42, 11))
	assert.Equal(t, uint32(1), f.node.State().Snapshot().PacketsReceived)
	assert.Equal(t, ackCommand(300), f.modem.Sent())
}

func TestReceiver_SeveralFramesInOneRead(t *testing.T) {
	f := newFixture(t, nil, nil, nil)

	var chunk []byte
	for seq := uint16(1); seq <= 3; seq++ {
		p := scenarioPacket
		p.SeqNum = seq
		chunk = append(chunk, rylr.EncodeEnvelope(1, p, -42, 11)...)
	}
	f.node.Receiver().Feed(chunk)

	want := append(append(ackCommand(1), ackCommand(2)...), ackCommand(3)...)
	assert.Equal(t, want, f.modem.Sent())
	assert.Equal(t, uint32(3), f.node.State().Snapshot().PacketsReceived)
	assert.Equal(t, 3, bytes.Count([]byte(f.vcp.String()), []byte("\n")))
}

func TestReceiver_OverflowRecovers(t *testing.T) {
	f := newFixture(t, nil, nil, nil)

	junk := bytes.Repeat([]byte{'Z'}, rylr.RxBufferSize+20)
	f.node.Receiver().Feed(append(junk, '\n'))
	f.node.Receiver().Feed(rylr.EncodeEnvelope(1, scenarioPacket, -42, 11))

	assert.Equal(t, uint32(1), f.node.State().Snapshot().PacketsReceived)
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("unplugged") }

func TestReceiver_VCPFailureDoesNotStopProcessing(t *testing.T) {
	modem := &fakeModem{}
	n, err := New(DefaultConfig(), Links{Modem: modem, VCP: failingWriter{}}, zerolog.Nop())
	require.NoError(t, err)

	n.Receiver().Feed(rylr.EncodeEnvelope(1, scenarioPacket, -42, 11))
	assert.Equal(t, ackCommand(300), modem.Sent())
	assert.Equal(t, uint32(1), n.State().Snapshot().PacketsReceived)
}

type flakyReader struct {
	steps []func(p []byte) (int, error)
}

func (r *flakyReader) Read(p []byte) (int, error) {
	if len(r.steps) == 0 {
		return 0, io.EOF
	}
	step := r.steps[0]
	r.steps = r.steps[1:]
	return step(p)
}

func TestNode_RunUntilLinkEnds(t *testing.T) {
	frame := rylr.EncodeEnvelope(1, scenarioPacket, -42, 11)
	in := &flakyReader{steps: []func([]byte) (int, error){
		func(p []byte) (int, error) { return copy(p, frame[:12]), nil },
		func(p []byte) (int, error) { return 0, errors.New("framing error") },
		func(p []byte) (int, error) { return copy(p, frame[12:]), nil },
	}}
	f := newFixture(t, in, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.node.Run(ctx))

	assert.Equal(t, uint32(1), f.node.State().Snapshot().PacketsReceived)
	assert.Contains(t, f.logs.String(), "modem link error cleared")
	assert.Equal(t, uint32(0), f.node.State().Snapshot().CRCErrors, "link errors are never counted")
}

type failingReader struct {
	reads atomic.Int32
}

func (r *failingReader) Read(p []byte) (int, error) {
	r.reads.Add(1)
	return 0, errors.New("input/output error")
}

func TestReceiver_PersistentReadErrorBacksOff(t *testing.T) {
	in := &failingReader{}
	f := newFixture(t, in, nil, nil)
	rx := f.node.Receiver()
	rx.retryDelay = 5 * time.Millisecond
	rx.maxRetryDelay = 20 * time.Millisecond

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- rx.Run(stop) }()

	time.Sleep(100 * time.Millisecond)
	close(stop)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after stop")
	}

	reads := in.reads.Load()
	assert.GreaterOrEqual(t, reads, int32(2), "reading resumes after an error")
	assert.Less(t, reads, int32(30), "a persistent error must not spin")
	assert.Contains(t, f.logs.String(), `"retry_in"`)
}

type blockingReader struct {
	release chan struct{}
}

func (r *blockingReader) Read(p []byte) (int, error) {
	<-r.release
	return 0, io.ErrClosedPipe
}

func TestNode_RunCancelled(t *testing.T) {
	in := &blockingReader{release: make(chan struct{})}
	f := newFixture(t, in, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.node.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	close(in.release)
	f.node.Wait()
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty node id", func(c *Config) { c.NodeID = "" }},
		{"long node id", func(c *Config) { c.NodeID = "ABCDEFGHIJKLMNOPQ" }},
		{"quote in node id", func(c *Config) { c.NodeID = `N"2` }},
		{"space in node id", func(c *Config) { c.NodeID = "N 2" }},
		{"zero tick", func(c *Config) { c.TickInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
