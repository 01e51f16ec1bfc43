// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

import "github.com/loragate/loragate/pkg/rylr"

// State is the telemetry state shared by the receive and timer handlers.
type State struct {
	LastPacket      *Resource[*rylr.ParsedMessage]
	PacketsReceived *Resource[uint32]
	CRCErrors       *Resource[uint32]
	LocalTemp       *Resource[rylr.NullFloat32]
	LocalHumidity   *Resource[rylr.NullFloat32]
	SensorWarmup    *Resource[uint8]
	UptimeMS        *Resource[uint32]
}

// NewState creates zeroed state whose sensor warm-up starts at warmupTicks.
func NewState(table *TaskTable, warmupTicks uint8) *State {
	return &State{
		LastPacket:      newResource[*rylr.ParsedMessage](table, ResLastPacket, nil),
		PacketsReceived: newResource[uint32](table, ResPacketsReceived, 0),
		CRCErrors:       newResource[uint32](table, ResCRCErrors, 0),
		LocalTemp:       newResource(table, ResLocalTemp, rylr.NullFloat32{}),
		LocalHumidity:   newResource(table, ResLocalHumidity, rylr.NullFloat32{}),
		SensorWarmup:    newResource(table, ResSensorWarmup, warmupTicks),
		UptimeMS:        newResource[uint32](table, ResUptime, 0),
	}
}

// Snapshot is a copy of State. Fields are read under separate locks, so
// a snapshot taken while handlers run is not one atomic view.
type Snapshot struct {
	LastPacket      *rylr.ParsedMessage
	PacketsReceived uint32
	CRCErrors       uint32
	LocalTemp       rylr.NullFloat32
	LocalHumidity   rylr.NullFloat32
	SensorWarmup    uint8
	UptimeMS        uint32
}

// Snapshot copies every field
func (s *State) Snapshot() Snapshot {
	out := Snapshot{
		PacketsReceived: peek(s.PacketsReceived),
		CRCErrors:       peek(s.CRCErrors),
		LocalTemp:       peek(s.LocalTemp),
		LocalHumidity:   peek(s.LocalHumidity),
		SensorWarmup:    peek(s.SensorWarmup),
		UptimeMS:        peek(s.UptimeMS),
	}
	if p := peek(s.LastPacket); p != nil {
		cp := *p
		out.LastPacket = &cp
	}
	return out
}
