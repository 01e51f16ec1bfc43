// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/loragate/loragate/pkg/rylr"
)

// LocalSensor measures the gateway's own temperature (°C) and relative
// humidity (%). Measure may block for the duration of a bus transaction.
type LocalSensor interface {
	Measure() (temperature, humidity float32, err error)
}

// StatusView is what the status panel shows
type StatusView struct {
	NodeID          string
	Packet          rylr.ParsedMessage
	PacketsReceived uint32
	CRCErrors       uint32
	LocalTemp       rylr.NullFloat32
	LocalHumidity   rylr.NullFloat32
	UptimeMS        uint32
}

// StatusRenderer draws the status panel. Render may be slow.
type StatusRenderer interface {
	Render(v StatusView) error
}

// Sampler is the timer handler
type Sampler struct {
	nodeID   string
	state    *State
	interval time.Duration
	sensor   LocalSensor
	status   StatusRenderer
	log      zerolog.Logger
}

// NewSampler creates a timer handler ticking every interval. sensor and
// status may be nil.
func NewSampler(nodeID string, state *State, interval time.Duration, sensor LocalSensor, status StatusRenderer, log zerolog.Logger) *Sampler {
	return &Sampler{
		nodeID:   nodeID,
		state:    state,
		interval: interval,
		sensor:   sensor,
		status:   status,
		log:      log.With().Str("task", TaskTimer.String()).Logger(),
	}
}

// Run ticks until stop is closed
func (s *Sampler) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Tick()
		case <-stop:
			return
		}
	}
}

// Tick runs one timer event: advance uptime, sample the local sensor once
// warm-up has elapsed, then render status from copied state.
func (s *Sampler) Tick() {
	step := uint32(s.interval / time.Millisecond)
	Lock(TaskTimer, s.state.UptimeMS, func(u *uint32) { *u += step })

	eligible := false
	Lock(TaskTimer, s.state.SensorWarmup, func(w *uint8) {
		if *w > 0 {
			*w--
			return
		}
		eligible = true
	})

	if eligible && s.sensor != nil {
		s.sample()
	}

	packet := Load(TaskTimer, s.state.LastPacket)
	total := Load(TaskTimer, s.state.PacketsReceived)
	s.log.Trace().Uint32("total_count", total).Bool("has_packet", packet != nil).Msg("tick")

	if packet == nil || s.status == nil {
		return
	}
	view := StatusView{
		NodeID:          s.nodeID,
		Packet:          *packet,
		PacketsReceived: total,
		CRCErrors:       Load(TaskTimer, s.state.CRCErrors),
		LocalTemp:       Load(TaskTimer, s.state.LocalTemp),
		LocalHumidity:   Load(TaskTimer, s.state.LocalHumidity),
		UptimeMS:        Load(TaskTimer, s.state.UptimeMS),
	}
	if err := s.status.Render(view); err != nil {
		s.log.Warn().Err(err).Msg("status render failed")
	}
}

func (s *Sampler) sample() {
	temp, hum, err := s.sensor.Measure()
	if err != nil {
		s.log.Warn().Err(err).Msg("local sensor read failed")
		return
	}
	Store(TaskTimer, s.state.LocalTemp, rylr.NullFloat32{Float32: temp, Valid: true})
	Store(TaskTimer, s.state.LocalHumidity, rylr.NullFloat32{Float32: hum, Valid: true})
	s.log.Debug().Float32("temp", temp).Float32("humidity", hum).Msg("local sensor read")
}
