// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/temoto/alive/v2"
)

// DefaultChannelCapacity bounds the records queued between reader and sinks
const DefaultChannelCapacity = 100

// Sink receives every decoded record
type Sink interface {
	Name() string
	Write(ctx context.Context, t Telemetry, received time.Time) error
	Close() error
}

type record struct {
	t        Telemetry
	received time.Time
}

// Bridge reads lines, decodes telemetry and fans each record out to the
// sinks. A failing sink is logged and does not stop the others.
type Bridge struct {
	sinks       []Sink
	capacity    int
	passthrough io.Writer
	log         zerolog.Logger
	now         func() time.Time

	// Counters may be read while Run is in progress
	Received  atomic.Uint64
	Rejected  atomic.Uint64
	SinkFails atomic.Uint64
}

// New creates a bridge. Lines that are not telemetry but look like gateway
// log output ([INFO], [WARN], [ERROR]) are copied to passthrough when it is
// not nil.
func New(sinks []Sink, capacity int, passthrough io.Writer, log zerolog.Logger) *Bridge {
	if capacity <= 0 {
		capacity = DefaultChannelCapacity
	}
	return &Bridge{
		sinks:       sinks,
		capacity:    capacity,
		passthrough: passthrough,
		log:         log,
		now:         time.Now,
	}
}

// Run consumes r until EOF or ctx is cancelled, then drains queued records.
// A reader blocked in Read is not interrupted by ctx; the caller closes
// the source to end it.
func (b *Bridge) Run(ctx context.Context, r io.Reader) error {
	a := alive.NewAlive()
	a.Add(2)
	queue := make(chan record, b.capacity)
	readErr := make(chan error, 1)

	go func() {
		defer a.Done()
		defer close(queue)
		readErr <- b.read(ctx, a, r, queue)
	}()
	go func() {
		defer a.Done()
		defer a.Stop()
		for rec := range queue {
			b.dispatch(ctx, rec)
		}
	}()

	select {
	case <-ctx.Done():
		a.Stop()
	case <-a.WaitChan():
	}
	a.Wait()
	b.log.Info().
		Uint64("received", b.Received.Load()).
		Uint64("rejected", b.Rejected.Load()).
		Uint64("sink_failures", b.SinkFails.Load()).
		Msg("telemetry processor stopped")
	return <-readErr
}

func (b *Bridge) read(ctx context.Context, a *alive.Alive, r io.Reader, queue chan<- record) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if !a.IsRunning() {
			return nil
		}
		line := sc.Text()
		t, err := ParseLine(line)
		switch {
		case err == nil:
			b.Received.Add(1)
			b.log.Info().
				Str("node_id", t.NodeID).
				Uint32("timestamp_ms", t.TimestampMS).
				Float32("temp_c", t.Remote.Temperature).
				Float32("humidity_pct", t.Remote.Humidity).
				Int16("rssi_dbm", t.Signal.RSSI).
				Msg("telemetry received")
			select {
			case queue <- record{t: t, received: b.now()}:
			case <-ctx.Done():
				return nil
			}
		case errors.Is(err, ErrNotTelemetry):
			b.passThrough(line)
		default:
			b.Rejected.Add(1)
			b.log.Warn().Err(err).Msg("failed to parse telemetry")
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return err
	}
	b.log.Warn().Msg("telemetry source ended")
	return nil
}

func (b *Bridge) dispatch(ctx context.Context, rec record) {
	for _, s := range b.sinks {
		if err := s.Write(ctx, rec.t, rec.received); err != nil {
			b.SinkFails.Add(1)
			b.log.Error().Err(err).Str("sink", s.Name()).Msg("failed to publish telemetry")
		}
	}
}

func (b *Bridge) passThrough(line string) {
	if b.passthrough == nil {
		return
	}
	if strings.Contains(line, "[INFO]") || strings.Contains(line, "[WARN]") || strings.Contains(line, "[ERROR]") ||
		strings.Contains(line, " INF ") || strings.Contains(line, " WRN ") || strings.Contains(line, " ERR ") {
		io.WriteString(b.passthrough, line+"\n")
	}
}

// Close closes every sink
func (b *Bridge) Close() error {
	var first error
	for _, s := range b.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
