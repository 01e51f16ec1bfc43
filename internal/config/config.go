// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the optional YAML configuration shared by the
// gateway and bridge commands.
package config

import (
	"bytes"
	"io"
	"os"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/loragate/loragate/internal/node"
	"github.com/loragate/loragate/pkg/bridge"
	"github.com/loragate/loragate/pkg/sht3x"
)

// Environment variables that override secrets in the file
const (
	EnvInfluxToken  = "INFLUXDB_TOKEN"
	EnvMQTTPassword = "MQTT_PASSWORD"
)

// Config is the file layout; every section is optional
type Config struct {
	Node     Node     `yaml:"node"`
	VCP      VCP      `yaml:"vcp"`
	Sensor   Sensor   `yaml:"sensor"`
	MQTT     MQTT     `yaml:"mqtt"`
	InfluxDB InfluxDB `yaml:"influxdb"`
	Bridge   Bridge   `yaml:"bridge"`
	Log      Log      `yaml:"log"`
}

type Node struct {
	ID           string        `yaml:"id"`
	AckDest      uint16        `yaml:"ack_dest"`
	TickInterval time.Duration `yaml:"tick_interval"`
	WarmupTicks  uint8         `yaml:"warmup_ticks"`
}

// VCP is the telemetry output link. An empty port writes to stdout.
type VCP struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// Sensor is the local SHT3x. An empty bus disables it.
type Sensor struct {
	I2CBus        string `yaml:"i2c_bus"`
	Address       uint16 `yaml:"address"`
	Repeatability string `yaml:"repeatability"`
}

type MQTT struct {
	Enabled     bool          `yaml:"enabled"`
	BrokerURL   string        `yaml:"broker_url"`
	ClientID    string        `yaml:"client_id"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	TopicPrefix string        `yaml:"topic_prefix"`
	QoS         byte          `yaml:"qos"`
	Timeout     time.Duration `yaml:"timeout"`
}

type InfluxDB struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
	Token   string `yaml:"token"`
}

type Bridge struct {
	ChannelCapacity int `yaml:"channel_capacity"`
}

type Log struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	nc := node.DefaultConfig()
	return Config{
		Node: Node{
			ID:           nc.NodeID,
			AckDest:      nc.AckDest,
			TickInterval: nc.TickInterval,
			WarmupTicks:  nc.WarmupTicks,
		},
		VCP:    VCP{Baud: 115200},
		Sensor: Sensor{Address: sht3x.DefaultAddr, Repeatability: "high"},
		MQTT: MQTT{
			Enabled:     true,
			BrokerURL:   "mqtt://localhost:1883",
			ClientID:    "loragate-bridge",
			TopicPrefix: bridge.DefaultTopicPrefix,
			QoS:         1,
			Timeout:     10 * time.Second,
		},
		InfluxDB: InfluxDB{
			Enabled: true,
			URL:     "http://localhost:8086",
			Org:     "loragate",
			Bucket:  "telemetry",
		},
		Bridge: Bridge{ChannelCapacity: bridge.DefaultChannelCapacity},
		Log:    Log{Level: "info"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Annotatef(err, "read config file %s", path)
		}
		if err := Parse(data, &cfg); err != nil {
			return Config{}, errors.Annotatef(err, "parse config file %s", path)
		}
	}
	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg; keys missing from data keep their values
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvInfluxToken); ok {
		c.InfluxDB.Token = v
	}
	if v, ok := lookup(EnvMQTTPassword); ok {
		c.MQTT.Password = v
	}
}

// Validate checks every section
func (c Config) Validate() error {
	if err := c.NodeConfig().Validate(); err != nil {
		return errors.Annotate(err, "node")
	}
	if c.Sensor.I2CBus != "" {
		if _, err := c.SensorRepeatability(); err != nil {
			return err
		}
	}
	if c.MQTT.Enabled {
		if c.MQTT.QoS > 2 {
			return errors.Errorf("invalid MQTT QoS level: %d (must be 0, 1, or 2)", c.MQTT.QoS)
		}
		if !strings.HasPrefix(c.MQTT.BrokerURL, "mqtt://") && !strings.HasPrefix(c.MQTT.BrokerURL, "mqtts://") {
			return errors.Errorf("invalid MQTT broker URL: %s (must start with mqtt:// or mqtts://)", c.MQTT.BrokerURL)
		}
	}
	if c.InfluxDB.Enabled {
		if !strings.HasPrefix(c.InfluxDB.URL, "http://") && !strings.HasPrefix(c.InfluxDB.URL, "https://") {
			return errors.Errorf("invalid InfluxDB URL: %s (must start with http:// or https://)", c.InfluxDB.URL)
		}
	}
	if c.Bridge.ChannelCapacity <= 0 {
		return errors.New("bridge channel_capacity must be greater than 0")
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// NodeConfig converts the node section
func (c Config) NodeConfig() node.Config {
	return node.Config{
		NodeID:       c.Node.ID,
		AckDest:      c.Node.AckDest,
		TickInterval: c.Node.TickInterval,
		WarmupTicks:  c.Node.WarmupTicks,
	}
}

// MQTTConfig converts the mqtt section
func (c Config) MQTTConfig() bridge.MQTTConfig {
	return bridge.MQTTConfig{
		BrokerURL:   c.MQTT.BrokerURL,
		ClientID:    c.MQTT.ClientID,
		Username:    c.MQTT.Username,
		Password:    c.MQTT.Password,
		TopicPrefix: c.MQTT.TopicPrefix,
		QoS:         c.MQTT.QoS,
		Timeout:     c.MQTT.Timeout,
	}
}

// InfluxConfig converts the influxdb section
func (c Config) InfluxConfig() bridge.InfluxConfig {
	return bridge.InfluxConfig{
		URL:    c.InfluxDB.URL,
		Org:    c.InfluxDB.Org,
		Bucket: c.InfluxDB.Bucket,
		Token:  c.InfluxDB.Token,
	}
}

// SensorRepeatability maps the sensor repeatability name
func (c Config) SensorRepeatability() (sht3x.Repeatability, error) {
	switch strings.ToLower(c.Sensor.Repeatability) {
	case "", "high":
		return sht3x.RepeatabilityHigh, nil
	case "medium":
		return sht3x.RepeatabilityMedium, nil
	case "low":
		return sht3x.RepeatabilityLow, nil
	}
	return 0, errors.Errorf("invalid sensor repeatability %q (must be high, medium or low)", c.Sensor.Repeatability)
}

// LogLevel parses the log level
func (c Config) LogLevel() (zerolog.Level, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level))
	if err != nil {
		return zerolog.NoLevel, errors.Annotatef(err, "log level")
	}
	return lvl, nil
}
