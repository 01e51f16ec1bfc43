// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/fxamacker/cbor/v2"
	"github.com/juju/errors"
	"github.com/rs/zerolog"
)

// Default MQTT settings
const (
	DefaultMQTTPort    = 1883
	DefaultTopicPrefix = "iiot"
	defaultMQTTTimeout = 10 * time.Second
)

// MQTTConfig holds the broker connection settings
type MQTTConfig struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	Timeout     time.Duration
}

// ParseBrokerURL splits an mqtt:// or mqtts:// URL into host and port. The
// port defaults to 1883.
func ParseBrokerURL(raw string) (host string, port uint16, tls bool, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, false, errors.Annotatef(err, "MQTT broker URL %q", raw)
	}
	switch u.Scheme {
	case "mqtt":
	case "mqtts":
		tls = true
	default:
		return "", 0, false, errors.Errorf("invalid MQTT URL %q: must start with mqtt:// or mqtts://", raw)
	}
	host = u.Hostname()
	if host == "" {
		return "", 0, false, errors.Errorf("invalid MQTT URL %q: missing host", raw)
	}
	port = DefaultMQTTPort
	if p := u.Port(); p != "" {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return "", 0, false, errors.Errorf("invalid port number in MQTT URL %q", raw)
		}
		port = uint16(n)
	}
	return host, port, tls, nil
}

// Topic builds <prefix>/<node>/<metric>
func Topic(prefix, node, metric string) string {
	return fmt.Sprintf("%s/%s/%s", prefix, node, metric)
}

// Message is one MQTT publication
type Message struct {
	Topic   string
	Payload []byte
	Retain  bool
}

// Messages returns the publications for t: retained per-metric sensor
// values, non-retained signal and statistics values, and a retained CBOR
// snapshot of the whole record at <prefix>/telemetry.
func Messages(prefix string, t Telemetry) ([]Message, error) {
	out := make([]Message, 0, 10)
	add := func(node, metric, value string, retain bool) {
		out = append(out, Message{Topic: Topic(prefix, node, metric), Payload: []byte(value), Retain: retain})
	}

	add("node1", "temperature", formatFloat(t.Remote.Temperature), true)
	add("node1", "humidity", formatFloat(t.Remote.Humidity), true)
	add("node1", "gas_resistance", strconv.FormatUint(uint64(t.Remote.GasResistance), 10), true)
	if t.Local.Temperature != nil {
		add("node2", "temperature", formatFloat(*t.Local.Temperature), true)
	}
	if t.Local.Humidity != nil {
		add("node2", "humidity", formatFloat(*t.Local.Humidity), true)
	}
	add("signal", "rssi", strconv.Itoa(int(t.Signal.RSSI)), false)
	add("signal", "snr", strconv.Itoa(int(t.Signal.SNR)), false)
	add("stats", "packets_received", strconv.FormatUint(uint64(t.Stats.PacketsReceived), 10), false)
	add("stats", "crc_errors", strconv.FormatUint(uint64(t.Stats.CRCErrors), 10), false)

	snapshot, err := cbor.Marshal(t)
	if err != nil {
		return nil, errors.Annotate(err, "telemetry CBOR")
	}
	out = append(out, Message{Topic: prefix + "/telemetry", Payload: snapshot, Retain: true})
	return out, nil
}

func formatFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'f', -1, 32)
}

// MQTTSink publishes telemetry to a broker
type MQTTSink struct {
	client  mqtt.Client
	prefix  string
	qos     byte
	timeout time.Duration
	log     zerolog.Logger
}

// NewMQTTSink connects to the broker. The status topic <prefix>/status is
// set to "online" and the broker publishes "offline" if the bridge drops.
func NewMQTTSink(cfg MQTTConfig, log zerolog.Logger) (*MQTTSink, error) {
	host, port, tls, err := ParseBrokerURL(cfg.BrokerURL)
	if err != nil {
		return nil, err
	}
	scheme := "tcp"
	if tls {
		scheme = "ssl"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultMQTTTimeout
	}
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	statusTopic := prefix + "/status"

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, host, port)).
		SetAutoReconnect(true).
		SetBinaryWill(statusTopic, []byte("offline"), 1, true).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(timeout).
		SetKeepAlive(30 * time.Second).
		SetOrderMatters(false).
		SetWriteTimeout(timeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}

	s := newMQTTSink(mqtt.NewClient(opts), prefix, cfg.QoS, timeout, log)
	log.Info().Str("broker", cfg.BrokerURL).Str("client_id", cfg.ClientID).Msg("connecting to MQTT broker")
	if err := s.wait(s.client.Connect(), "connect"); err != nil {
		return nil, err
	}
	if err := s.wait(s.client.Publish(statusTopic, 1, true, "online"), "publish status"); err != nil {
		s.client.Disconnect(250)
		return nil, err
	}
	log.Info().Msg("MQTT client connected")
	return s, nil
}

func newMQTTSink(client mqtt.Client, prefix string, qos byte, timeout time.Duration, log zerolog.Logger) *MQTTSink {
	return &MQTTSink{
		client:  client,
		prefix:  prefix,
		qos:     qos,
		timeout: timeout,
		log:     log.With().Str("sink", "mqtt").Logger(),
	}
}

// Name implements Sink
func (s *MQTTSink) Name() string { return "mqtt" }

// Write publishes every message for t
func (s *MQTTSink) Write(ctx context.Context, t Telemetry, _ time.Time) error {
	msgs, err := Messages(s.prefix, t)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.wait(s.client.Publish(m.Topic, s.qos, m.Retain, m.Payload), "publish "+m.Topic); err != nil {
			return err
		}
		s.log.Debug().Str("topic", m.Topic).Int("payload_len", len(m.Payload)).Msg("published")
	}
	return nil
}

// Close disconnects from the broker
func (s *MQTTSink) Close() error {
	s.client.Disconnect(uint(s.timeout / time.Millisecond))
	return nil
}

func (s *MQTTSink) wait(t mqtt.Token, tag string) error {
	if !t.WaitTimeout(s.timeout) {
		return errors.Errorf("MQTT %s timeout", tag)
	}
	if err := t.Error(); err != nil {
		return errors.Annotatef(err, "MQTT %s", tag)
	}
	return nil
}
