// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/loragate/loragate/pkg/rylr"
)

var (
	showAll       bool
	statsInterval int
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Decode modem traffic in human-readable format",
	Long: `Continuously decode and display +RCV frames as they arrive from the modem.

Each frame is checked exactly as the gateway checks it (envelope, CRC, record)
and then validated for implausible values:
  - CRC errors, malformed envelopes and undecodable records
  - Out-of-range temperature or humidity, zero gas resistance, weak signal
  - Gaps in the sender's sequence numbers

By default, only errors are displayed. Use --show-all to display valid frames
and modem responses too. Periodic statistics summaries are printed at the
configured interval. Nothing is acknowledged; this command only listens.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just errors)")
	rawLogCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Loragate - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	l := newFrameLog(showAll)

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	// Channels for non-blocking link reads
	chunks := make(chan []byte, 10)
	readErrs := make(chan error, 10)
	go func() {
		buf := make([]byte, 128)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				chunks <- data
			}
			if err != nil {
				readErrs <- err
				if errors.Is(err, io.EOF) {
					return
				}
			}
		}
	}()

	for {
		select {
		case data := <-chunks:
			l.Feed(data)

		case err := <-readErrs:
			if errors.Is(err, io.EOF) {
				for len(chunks) > 0 {
					l.Feed(<-chunks)
				}
				logger.Info().Msg("connection closed")
				fmt.Print(l.stats.String())
				return nil
			}
			logger.Warn().Err(err).Msg("read error")
			l.stats.RecordLinkError()

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(l.stats.String())
			fmt.Println()
		}
	}
}

// frameLog decodes frames and prints them with their anomalies
type frameLog struct {
	scanner *rylr.FrameScanner
	stats   *rylr.Statistics
	seq     rylr.SequenceTracker
	showAll bool
	out     io.Writer
	now     func() time.Time
}

func newFrameLog(showAll bool) *frameLog {
	return &frameLog{
		scanner: rylr.NewFrameScanner(),
		stats:   rylr.NewStatistics(),
		showAll: showAll,
		out:     stdout,
		now:     time.Now,
	}
}

// Feed processes one chunk of link data
func (l *frameLog) Feed(data []byte) {
	for _, b := range data {
		if frame, ok := l.scanner.Next(b); ok {
			l.handle(frame)
			l.scanner.Reset()
		}
	}
}

func (l *frameLog) handle(frame []byte) {
	ts := l.now()
	line := bytes.TrimRight(frame, "\r\n")
	if len(line) == 0 {
		return
	}
	if !bytes.HasPrefix(line, []byte(rylr.RecvPrefix)) {
		// +OK, +ERR=, +READY and other modem responses
		if l.showAll {
			fmt.Fprintf(l.out, "[%s] MODEM: %s\n\n", ts.Format("15:04:05.000"), rylr.FormatFrame(line))
		}
		return
	}

	msg, err := rylr.DecodeEnvelope(frame)
	if err != nil {
		l.stats.Update(err, nil)
		printDecodeError(l.out, ts, frame, err)
		return
	}

	anomalies := rylr.ValidateMessage(msg)
	if gap := l.seq.Observe(msg.SensorData.PacketNum); gap != nil {
		anomalies = append(anomalies, *gap)
	}
	l.stats.Update(nil, anomalies)

	if len(anomalies) > 0 {
		printValidationErrors(l.out, ts, msg, anomalies)
	} else if l.showAll {
		fmt.Fprint(l.out, rylr.FormatMessage(ts, msg))
		fmt.Fprintln(l.out)
	}
}

// printDecodeError prints a decode error in highlighted format
func printDecodeError(w io.Writer, ts time.Time, frame []byte, err error) {
	kind := "MALFORMED FRAME"
	switch {
	case errors.Is(err, rylr.ErrIntegrity):
		kind = "CRC ERROR"
	case errors.Is(err, rylr.ErrDeserialize):
		kind = "DECODE ERROR"
	}
	fmt.Fprintf(w, "[%s] \033[1;31m%s:\033[0m %v\n", ts.Format("15:04:05.000"), kind, err)
	fmt.Fprintf(w, "  Frame: %s\n", rylr.FormatFrame(frame))
	fmt.Fprintf(w, "  >>> FRAME REJECTED <<<\n\n")
}

// printValidationErrors prints the anomalies of a decoded message
func printValidationErrors(w io.Writer, ts time.Time, msg rylr.ParsedMessage, anomalies []rylr.ValidationError) {
	fmt.Fprintf(w, "[%s] \033[1;33mVALIDATION ERROR:\033[0m SENSOR_DATA #%d\n", ts.Format("15:04:05.000"), msg.SensorData.PacketNum)
	fmt.Fprintf(w, "  CRC: \033[1;32mOK\033[0m\n")

	for i, a := range anomalies {
		switch a.Type {
		case rylr.AnomalySequenceGap:
			fmt.Fprintf(w, "  Issue %d: \033[1;33m%s\033[0m\n", i+1, a.Message)
		case rylr.AnomalyWeakSignal:
			fmt.Fprintf(w, "  Issue %d: \033[1;33m%s\033[0m\n", i+1, a.Message)
			fmt.Fprintf(w, "    RSSI=%d dBm, SNR=%d dB\n", msg.RSSI, msg.SNR)
		default:
			fmt.Fprintf(w, "  Issue %d: \033[1;31m%s\033[0m\n", i+1, a.Message)
		}
	}
	fmt.Fprint(w, rylr.FormatMessage(ts, msg))
	fmt.Fprintln(w)
}
