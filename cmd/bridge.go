// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loragate/loragate/pkg/bridge"
)

var (
	bridgeExec        bool
	bridgeNoMQTT      bool
	bridgeNoInflux    bool
	bridgePassthrough bool
	bridgeCapacity    int
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge [--exec -- command [args...]]",
	Short: "Republish gateway telemetry to MQTT and InfluxDB",
	Long: `Read the gateway's output line by line, extract every telemetry record and
publish it to an MQTT broker and an InfluxDB 2 bucket.

Lines may be raw NDJSON records or log lines containing
"JSON sent via VCP: {...}". Other gateway log lines are passed through to
stderr; everything else is dropped.

Sources:
  --port/--url          the gateway's VCP serial port or a WebSocket bridge
  --exec -- cmd args    stdout of a spawned command (a probe or the gateway)
  (none)                stdin

MQTT topics: <prefix>/node1/{temperature,humidity,gas_resistance},
<prefix>/node2/{temperature,humidity}, <prefix>/signal/{rssi,snr},
<prefix>/stats/{packets_received,crc_errors}, a CBOR snapshot of the whole
record at <prefix>/telemetry and an online/offline status at <prefix>/status.`,
	RunE: runBridge,
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
	f := bridgeCmd.Flags()
	f.BoolVar(&bridgeExec, "exec", false, "Spawn the command given after -- and read its stdout")
	f.BoolVar(&bridgeNoMQTT, "no-mqtt", false, "Do not publish to MQTT")
	f.BoolVar(&bridgeNoInflux, "no-influx", false, "Do not write to InfluxDB")
	f.BoolVar(&bridgePassthrough, "passthrough", true, "Copy gateway log lines to stderr")
	f.IntVar(&bridgeCapacity, "channel-capacity", 0, "Records queued between reader and sinks")
}

func runBridge(cmd *cobra.Command, args []string) error {
	if bridgeNoMQTT {
		cfg.MQTT.Enabled = false
	}
	if bridgeNoInflux {
		cfg.InfluxDB.Enabled = false
	}
	if cmd.Flags().Changed("channel-capacity") {
		cfg.Bridge.ChannelCapacity = bridgeCapacity
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, srcInfo, err := openLineSource(ctx, bridgeExec, args)
	if err != nil {
		return err
	}
	defer src.Close()

	var sinks []bridge.Sink
	if cfg.MQTT.Enabled {
		s, err := bridge.NewMQTTSink(cfg.MQTTConfig(), logger)
		if err != nil {
			return err
		}
		sinks = append(sinks, s)
	}
	if cfg.InfluxDB.Enabled {
		s, err := bridge.NewInfluxSink(ctx, cfg.InfluxConfig(), logger)
		if err != nil {
			closeSinks(sinks)
			return err
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		logger.Warn().Msg("no sinks enabled, records are only logged")
	}

	var passthrough io.Writer
	if bridgePassthrough {
		passthrough = os.Stderr
	}
	b := bridge.New(sinks, cfg.Bridge.ChannelCapacity, passthrough, logger)
	defer b.Close()

	logger.Info().Str("source", srcInfo).Int("sinks", len(sinks)).Msg("bridge started")

	// A blocked Read only returns once the source is closed
	go func() {
		<-ctx.Done()
		src.Close()
	}()
	return b.Run(ctx, src)
}

const stdinSource = "stdin"

// openLineSource opens the gateway output for the line-oriented commands:
// a spawned command, the --port/--url link, or stdin
func openLineSource(ctx context.Context, execMode bool, args []string) (io.ReadCloser, string, error) {
	if execMode {
		if len(args) == 0 {
			return nil, "", fmt.Errorf("--exec needs a command after --")
		}
		src, err := bridge.StartCommand(ctx, args[0], args[1:]...)
		if err != nil {
			return nil, "", err
		}
		return src, fmt.Sprintf("Command: %v", args), nil
	}
	if len(args) > 0 {
		return nil, "", fmt.Errorf("unexpected arguments %v (use --exec to spawn a command)", args)
	}
	if portName != "" || wsURL != "" {
		return OpenConnection()
	}
	return io.NopCloser(os.Stdin), stdinSource, nil
}

func closeSinks(sinks []bridge.Sink) {
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			logger.Warn().Err(err).Str("sink", s.Name()).Msg("close failed")
		}
	}
}
