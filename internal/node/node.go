// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/temoto/alive/v2"

	"github.com/loragate/loragate/pkg/rylr"
)

// Defaults
const (
	DefaultTickInterval = 500 * time.Millisecond
	DefaultWarmupTicks  = 4
)

// Config holds the node settings
type Config struct {
	NodeID       string
	AckDest      uint16
	TickInterval time.Duration
	WarmupTicks  uint8
}

// DefaultConfig returns the gateway defaults
func DefaultConfig() Config {
	return Config{
		NodeID:       rylr.DefaultNodeID,
		AckDest:      rylr.DefaultAckDest,
		TickInterval: DefaultTickInterval,
		WarmupTicks:  DefaultWarmupTicks,
	}
}

// Validate checks c
func (c Config) Validate() error {
	if c.NodeID == "" || len(c.NodeID) > rylr.MaxNodeIDLength {
		return fmt.Errorf("node ID must be 1-%d bytes, got %q", rylr.MaxNodeIDLength, c.NodeID)
	}
	for _, ch := range []byte(c.NodeID) {
		if ch <= 0x20 || ch > 0x7E || ch == '"' || ch == '\\' {
			return fmt.Errorf("node ID %q must be printable ASCII without spaces, quotes or backslashes", c.NodeID)
		}
	}
	if c.TickInterval < time.Millisecond {
		return fmt.Errorf("tick interval must be at least 1ms, got %s", c.TickInterval)
	}
	return nil
}

// Links are the node's collaborators. Sensor and Status are optional.
type Links struct {
	Modem  io.ReadWriter
	VCP    io.Writer
	Sensor LocalSensor
	Status StatusRenderer
}

// Node wires the receive and timer handlers around one State.
type Node struct {
	cfg      Config
	state    *State
	receiver *Receiver
	sampler  *Sampler
	log      zerolog.Logger
	alive    *alive.Alive
}

// New builds a node using DefaultTasks
func New(cfg Config, links Links, log zerolog.Logger) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if links.Modem == nil || links.VCP == nil {
		return nil, fmt.Errorf("modem and VCP links are required")
	}
	table, err := NewTaskTable(DefaultTasks)
	if err != nil {
		return nil, err
	}

	state := NewState(table, cfg.WarmupTicks)
	return &Node{
		cfg:      cfg,
		state:    state,
		receiver: NewReceiver(cfg.NodeID, state, links.Modem, cfg.AckDest, links.VCP, log),
		sampler:  NewSampler(cfg.NodeID, state, cfg.TickInterval, links.Sensor, links.Status, log),
		log:      log,
		alive:    alive.NewAlive(),
	}, nil
}

// State returns the shared state
func (n *Node) State() *State {
	return n.state
}

// Receiver returns the receive handler
func (n *Node) Receiver() *Receiver {
	return n.receiver
}

// Sampler returns the timer handler
func (n *Node) Sampler() *Sampler {
	return n.sampler
}

// Run starts both handlers and blocks until ctx is cancelled, Stop is
// called or the modem link ends. If the receive handler is still blocked in
// Read when Run returns, the caller closes the link and then calls Wait.
func (n *Node) Run(ctx context.Context) error {
	if !n.alive.Add(2) {
		return fmt.Errorf("node already stopped")
	}
	n.log.Info().
		Str("node_id", n.cfg.NodeID).
		Uint16("ack_dest", n.cfg.AckDest).
		Dur("tick", n.cfg.TickInterval).
		Uint8("warmup_ticks", n.cfg.WarmupTicks).
		Msg("gateway started")

	errc := make(chan error, 1)
	go func() {
		defer n.alive.Done()
		defer n.alive.Stop()
		errc <- n.receiver.Run(n.alive.StopChan())
	}()
	go func() {
		defer n.alive.Done()
		n.sampler.Run(n.alive.StopChan())
	}()

	select {
	case <-ctx.Done():
		n.alive.Stop()
	case <-n.alive.StopChan():
	}

	select {
	case err := <-errc:
		n.alive.Wait()
		n.log.Info().Msg("gateway stopped")
		return err
	default:
		// Receive handler is still blocked in Read; closing the link ends it
		return ctx.Err()
	}
}

// Wait blocks until both handlers have returned
func (n *Node) Wait() {
	n.alive.Wait()
}

// Stop asks both handlers to finish
func (n *Node) Stop() {
	n.alive.Stop()
}

// StopChan is closed once the node begins stopping
func (n *Node) StopChan() <-chan struct{} {
	return n.alive.StopChan()
}
