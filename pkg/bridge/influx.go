// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/juju/errors"
	"github.com/rs/zerolog"
)

// InfluxConfig holds the InfluxDB 2 connection settings
type InfluxConfig struct {
	URL    string
	Org    string
	Bucket string
	Token  string
}

// PointWriter writes points synchronously; api.WriteAPIBlocking
// satisfies it.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Points converts t to one point per metric. The measurement is the metric
// name, the field is "value" and the tags are node and, where one exists,
// unit.
func Points(t Telemetry, ts time.Time) []*write.Point {
	points := make([]*write.Point, 0, 9)
	add := func(measurement string, value float64, node, unit string) {
		tags := map[string]string{"node": node}
		if unit != "" {
			tags["unit"] = unit
		}
		points = append(points, influxdb2.NewPoint(measurement, tags, map[string]interface{}{"value": value}, ts))
	}

	add("temperature", float64(t.Remote.Temperature), "node1", "celsius")
	add("humidity", float64(t.Remote.Humidity), "node1", "percent")
	add("gas_resistance", float64(t.Remote.GasResistance), "node1", "ohms")
	if t.Local.Temperature != nil {
		add("temperature", float64(*t.Local.Temperature), "node2", "celsius")
	}
	if t.Local.Humidity != nil {
		add("humidity", float64(*t.Local.Humidity), "node2", "percent")
	}
	add("rssi", float64(t.Signal.RSSI), "signal", "dbm")
	add("snr", float64(t.Signal.SNR), "signal", "db")
	add("packets_received", float64(t.Stats.PacketsReceived), "stats", "")
	add("crc_errors", float64(t.Stats.CRCErrors), "stats", "")
	return points
}

// InfluxSink writes telemetry points to a bucket
type InfluxSink struct {
	client influxdb2.Client
	writer PointWriter
	log    zerolog.Logger
}

// NewInfluxSink creates the client and checks server health
func NewInfluxSink(ctx context.Context, cfg InfluxConfig, log zerolog.Logger) (*InfluxSink, error) {
	log.Info().Str("url", cfg.URL).Str("org", cfg.Org).Str("bucket", cfg.Bucket).Msg("creating InfluxDB client")
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, errors.Annotatef(err, "InfluxDB health check url=%s", cfg.URL)
	}
	if health.Status != domain.HealthCheckStatusPass {
		client.Close()
		return nil, errors.Errorf("InfluxDB health check failed with status: %s", health.Status)
	}
	log.Info().Msg("InfluxDB health check passed")

	s := newInfluxSink(client.WriteAPIBlocking(cfg.Org, cfg.Bucket), log)
	s.client = client
	return s, nil
}

func newInfluxSink(w PointWriter, log zerolog.Logger) *InfluxSink {
	return &InfluxSink{writer: w, log: log.With().Str("sink", "influxdb").Logger()}
}

// Name implements Sink
func (s *InfluxSink) Name() string { return "influxdb" }

// Write stores t as points stamped with ts
func (s *InfluxSink) Write(ctx context.Context, t Telemetry, ts time.Time) error {
	points := Points(t, ts)
	if err := s.writer.WritePoint(ctx, points...); err != nil {
		return errors.Annotate(err, "InfluxDB write")
	}
	s.log.Debug().Int("points", len(points)).Msg("wrote points")
	return nil
}

// Close releases the client
func (s *InfluxSink) Close() error {
	if s.client != nil {
		s.client.Close()
	}
	return nil
}
