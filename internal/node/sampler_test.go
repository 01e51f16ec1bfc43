// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loragate/loragate/pkg/rylr"
)

type fakeSensor struct {
	calls int
	temp  float32
	hum   float32
	err   error
}

func (s *fakeSensor) Measure() (float32, float32, error) {
	s.calls++
	return s.temp, s.hum, s.err
}

type fakeStatus struct {
	views []StatusView
}

func (s *fakeStatus) Render(v StatusView) error {
	s.views = append(s.views, v)
	return nil
}

func TestSampler_WarmupSuppressesSampling(t *testing.T) {
	sensor := &fakeSensor{temp: 21.5, hum: 45}
	f := newFixture(t, nil, sensor, nil)
	s := f.node.Sampler()

	for i := 0; i < DefaultWarmupTicks; i++ {
		s.Tick()
		assert.Equal(t, 0, sensor.calls, "tick %d sampled during warm-up", i+1)
	}
	assert.False(t, f.node.State().Snapshot().LocalTemp.Valid)

	s.Tick()
	assert.Equal(t, 1, sensor.calls)

	snap := f.node.State().Snapshot()
	assert.Equal(t, uint8(0), snap.SensorWarmup)
	assert.Equal(t, uint32(500*(DefaultWarmupTicks+1)), snap.UptimeMS)
	assert.Equal(t, rylr.NullFloat32{Float32: 21.5, Valid: true}, snap.LocalTemp)
	assert.Equal(t, rylr.NullFloat32{Float32: 45, Valid: true}, snap.LocalHumidity)

	s.Tick()
	assert.Equal(t, 2, sensor.calls, "samples every tick after warm-up")
}

func TestSampler_SensorFailureKeepsPreviousReading(t *testing.T) {
	sensor := &fakeSensor{temp: 20, hum: 50}
	f := newFixture(t, nil, sensor, nil)
	s := f.node.Sampler()

	for i := 0; i <= DefaultWarmupTicks; i++ {
		s.Tick()
	}
	sensor.err = errors.New("NACK from 0x44")
	sensor.temp = 99
	s.Tick()

	snap := f.node.State().Snapshot()
	assert.Equal(t, float32(20), snap.LocalTemp.Float32)
	assert.Equal(t, float32(50), snap.LocalHumidity.Float32)
	assert.Contains(t, f.logs.String(), "local sensor read failed")
}

func TestSampler_LocalReadingInTelemetry(t *testing.T) {
	sensor := &fakeSensor{temp: 21.5, hum: 45}
	f := newFixture(t, nil, sensor, nil)

	for i := 0; i <= DefaultWarmupTicks; i++ {
		f.node.Sampler().Tick()
	}
	f.node.Receiver().Feed(rylr.EncodeEnvelope(1, scenarioPacket, -42, 11))

	assert.Contains(t, f.vcp.String(), `{"ts":2500,"id":"N2",`)
	assert.Contains(t, f.vcp.String(), `"n2":{"t":21.5,"h":45.0}`)
}

func TestSampler_RendersOnlyWithPacket(t *testing.T) {
	status := &fakeStatus{}
	f := newFixture(t, nil, nil, status)
	s := f.node.Sampler()

	s.Tick()
	assert.Empty(t, status.views)

	f.node.Receiver().Feed(rylr.EncodeEnvelope(1, scenarioPacket, -42, 11))
	s.Tick()

	require.Len(t, status.views, 1)
	v := status.views[0]
	assert.Equal(t, "N2", v.NodeID)
	assert.Equal(t, uint16(300), v.Packet.SensorData.PacketNum)
	assert.Equal(t, uint32(1), v.PacketsReceived)
	assert.Equal(t, uint32(1000), v.UptimeMS)
}

func TestSampler_NoSensor(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	for i := 0; i < 10; i++ {
		f.node.Sampler().Tick()
	}
	snap := f.node.State().Snapshot()
	assert.False(t, snap.LocalTemp.Valid)
	assert.Equal(t, uint32(5000), snap.UptimeMS)
}
