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
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/loragate/loragate/internal/node"
	"github.com/loragate/loragate/pkg/display"
	"github.com/loragate/loragate/pkg/sharedbus"
	"github.com/loragate/loragate/pkg/sht3x"
)

var (
	gwNodeID     string
	gwAckDest    uint16
	gwTick       time.Duration
	gwWarmup     uint8
	gwVCPPort    string
	gwVCPBaud    int
	gwI2CBus     string
	gwSensorAddr uint16
	gwStatus     bool
	gwNetworkID  int
	gwFreqMHz    int
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the receiving gateway",
	Long: `Receive +RCV frames from the modem, validate and decode each sensor record,
acknowledge it with AT+SEND and emit one JSON line per record on the VCP link.

Without --vcp-port the telemetry stream goes to stdout, which makes the
gateway directly usable as the source of the bridge command:

  loragate bridge --exec -- loragate gateway --port /dev/ttyUSB0

A local SHT3x humidity sensor is sampled when --i2c-bus is given. Its values
appear in the records once the warm-up ticks have elapsed.`,
	RunE: runGateway,
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
	f := gatewayCmd.Flags()
	f.StringVar(&gwNodeID, "node-id", "", "Node ID written into every record")
	f.Uint16Var(&gwAckDest, "ack-dest", 0, "Modem address acknowledgments are sent to")
	f.DurationVar(&gwTick, "tick", 0, "Timer tick interval")
	f.Uint8Var(&gwWarmup, "warmup", 0, "Ticks before the local sensor is first sampled")
	f.StringVar(&gwVCPPort, "vcp-port", "", "Serial port for the telemetry stream (default stdout)")
	f.IntVar(&gwVCPBaud, "vcp-baud", 0, "Baud rate of the telemetry port")
	f.StringVar(&gwI2CBus, "i2c-bus", "", "I2C bus of the local SHT3x sensor")
	f.Uint16Var(&gwSensorAddr, "sensor-addr", 0, "I2C address of the local SHT3x sensor")
	f.BoolVar(&gwStatus, "status", false, "Draw the status panel on stderr")
	f.IntVar(&gwNetworkID, "network-id", display.DefaultNetworkID, "Modem network ID shown on the status panel")
	f.IntVar(&gwFreqMHz, "freq", display.DefaultFrequencyMHz, "Modem band in MHz shown on the status panel")
}

// applyGatewayFlags overrides the config file with flags given explicitly
func applyGatewayFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	if f.Changed("node-id") {
		cfg.Node.ID = gwNodeID
	}
	if f.Changed("ack-dest") {
		cfg.Node.AckDest = gwAckDest
	}
	if f.Changed("tick") {
		cfg.Node.TickInterval = gwTick
	}
	if f.Changed("warmup") {
		cfg.Node.WarmupTicks = gwWarmup
	}
	if f.Changed("vcp-port") {
		cfg.VCP.Port = gwVCPPort
	}
	if f.Changed("vcp-baud") {
		cfg.VCP.Baud = gwVCPBaud
	}
	if f.Changed("i2c-bus") {
		cfg.Sensor.I2CBus = gwI2CBus
	}
	if f.Changed("sensor-addr") {
		cfg.Sensor.Address = gwSensorAddr
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	applyGatewayFlags(cmd)
	if err := cfg.Validate(); err != nil {
		return err
	}

	modem, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer modem.Close()

	var vcp io.Writer = os.Stdout
	vcpInfo := "stdout"
	if cfg.VCP.Port != "" {
		port, err := openSerial(cfg.VCP.Port, cfg.VCP.Baud)
		if err != nil {
			return err
		}
		defer port.Close()
		vcp = port
		vcpInfo = fmt.Sprintf("Serial: %s @ %d baud", cfg.VCP.Port, cfg.VCP.Baud)
	}

	links := node.Links{Modem: modem, VCP: vcp}

	if cfg.Sensor.I2CBus != "" {
		sensor, release, err := openSensor()
		if err != nil {
			return err
		}
		defer release()
		links.Sensor = sensor
	}

	if gwStatus {
		links.Status = display.NewPanel(os.Stderr, gwNetworkID, gwFreqMHz, term.IsTerminal(int(os.Stderr.Fd())))
	}

	n, err := node.New(cfg.NodeConfig(), links, logger)
	if err != nil {
		return err
	}

	logger.Info().Str("modem", connInfo).Str("vcp", vcpInfo).Msg("links open")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = n.Run(ctx)
	// Unblocks a receive handler still waiting in Read
	modem.Close()
	n.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

// openSensor opens the shared I²C bus and the SHT3x on it
func openSensor() (node.LocalSensor, func(), error) {
	bus, err := sharedbus.Open(cfg.Sensor.I2CBus)
	if err != nil {
		return nil, nil, err
	}
	proxy, err := bus.Acquire()
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		if err := proxy.Release(); err != nil {
			logger.Warn().Err(err).Str("bus", bus.Name()).Msg("I2C bus release failed")
		}
	}

	r, err := cfg.SensorRepeatability()
	if err != nil {
		release()
		return nil, nil, err
	}
	dev := sht3x.New(proxy, cfg.Sensor.Address)
	dev.SetRepeatability(r)
	if err := dev.Reset(); err != nil {
		// A missing sensor only costs the local reading
		logger.Warn().Err(err).Str("bus", bus.Name()).Msgf("SHT3x reset failed at 0x%02X", cfg.Sensor.Address)
	}
	logger.Info().Str("bus", bus.Name()).Msgf("SHT3x at 0x%02X", cfg.Sensor.Address)
	return dev, release, nil
}
