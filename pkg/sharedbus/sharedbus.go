// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sharedbus lets several device drivers share one I²C bus. Each
// driver holds a Proxy; every transaction takes the bus lock for exactly
// its own duration, and the bus is closed when the last proxy is released.
package sharedbus

import (
	"io"
	"sync"

	"github.com/juju/errors"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/host"
)

// Bus performs one combined write/read transaction with a device.
type Bus interface {
	Tx(addr uint16, w, r []byte) error
}

// ErrClosed is returned by operations on a released proxy or closed manager.
var ErrClosed = errors.New("shared bus closed")

// Manager owns the underlying bus
type Manager struct {
	mu     sync.Mutex // serializes transactions
	refMu  sync.Mutex
	bus    Bus
	closer io.Closer
	refs   int
	closed bool
	name   string
}

// New wraps bus. closer, if not nil, is closed with the last proxy.
func New(name string, bus Bus, closer io.Closer) *Manager {
	return &Manager{name: name, bus: bus, closer: closer}
}

// Open initializes the host drivers and opens the named I²C bus ("" for
// the first one available).
func Open(name string) (*Manager, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Annotate(err, "periph/init")
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, errors.Annotatef(err, "I2C open bus=%q", name)
	}
	return New(bus.String(), bus, bus), nil
}

// Name returns the bus name
func (m *Manager) Name() string {
	return m.name
}

// Refs returns the number of live proxies
func (m *Manager) Refs() int {
	m.refMu.Lock()
	defer m.refMu.Unlock()
	return m.refs
}

// Acquire returns a new proxy for one driver
func (m *Manager) Acquire() (*Proxy, error) {
	m.refMu.Lock()
	defer m.refMu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	m.refs++
	return &Proxy{m: m}, nil
}

func (m *Manager) release() error {
	m.refMu.Lock()
	defer m.refMu.Unlock()
	m.refs--
	if m.refs > 0 || m.closed {
		return nil
	}
	m.closed = true
	if m.closer == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return errors.Annotatef(m.closer.Close(), "I2C close bus=%s", m.name)
}

// Proxy is one driver's handle on the shared bus
type Proxy struct {
	m        *Manager
	released bool
	relMu    sync.Mutex
}

// Tx runs one transaction under the bus lock
func (p *Proxy) Tx(addr uint16, w, r []byte) error {
	p.relMu.Lock()
	released := p.released
	p.relMu.Unlock()
	if released {
		return ErrClosed
	}

	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	if err := p.m.bus.Tx(addr, w, r); err != nil {
		return errors.Annotatef(err, "I2C tx addr=0x%02x", addr)
	}
	return nil
}

// Release drops this proxy's reference. Releasing twice is a no-op.
func (p *Proxy) Release() error {
	p.relMu.Lock()
	if p.released {
		p.relMu.Unlock()
		return nil
	}
	p.released = true
	p.relMu.Unlock()
	return p.m.release()
}
