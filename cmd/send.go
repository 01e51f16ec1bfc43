// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loragate/loragate/pkg/rylr"
)

var (
	sendDest     uint16
	sendSeq      uint16
	sendTemp     float64
	sendHumidity float64
	sendGas      uint32
	sendCount    int
	sendInterval time.Duration
	sendTimeout  int
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Simulate the remote node: send records and wait for ACKs",
	Long: `Transmit sensor records through a modem the way the remote node does and
wait for the gateway's acknowledgment of each one.

Every record is encoded, protected with its CRC and sent with AT+SEND. The
command then waits for a +RCV frame carrying an ACK for the same sequence
number, ignoring the modem's +OK responses and unrelated traffic.

Exit codes:
  0 - Every record was acknowledged
  1 - Timeout or NACK for at least one record
  2 - Connection error

Useful for testing a gateway end to end with a second modem.`,
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	f := sendCmd.Flags()
	f.Uint16Var(&sendDest, "dest", 2, "Modem address of the gateway")
	f.Uint16Var(&sendSeq, "seq", 1, "Sequence number of the first record")
	f.Float64Var(&sendTemp, "temp", 27.1, "Temperature in °C")
	f.Float64Var(&sendHumidity, "humidity", 56.0, "Relative humidity in %")
	f.Uint32Var(&sendGas, "gas", 100, "Gas resistance in ohms")
	f.IntVar(&sendCount, "count", 1, "Number of records to send")
	f.DurationVar(&sendInterval, "interval", 5*time.Second, "Delay between records")
	f.IntVar(&sendTimeout, "timeout", 10, "Timeout in seconds to wait for each ACK")
}

// sensorPacket converts physical values to the fixed-point record
func sensorPacket(seq uint16, temp, humidity float64, gas uint32) (rylr.SensorDataPacket, error) {
	t := math.Round(temp * rylr.TemperatureDivisor)
	if t < math.MinInt16 || t > math.MaxInt16 {
		return rylr.SensorDataPacket{}, fmt.Errorf("temperature %.1f°C out of range", temp)
	}
	h := math.Round(humidity * rylr.HumidityDivisor)
	if h < 0 || h > math.MaxUint16 {
		return rylr.SensorDataPacket{}, fmt.Errorf("humidity %.2f%% out of range", humidity)
	}
	return rylr.SensorDataPacket{
		SeqNum:        seq,
		Temperature:   int16(t),
		Humidity:      uint16(h),
		GasResistance: gas,
	}, nil
}

func runSend(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Loragate - Sender Simulator\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Destination: %d, ACK timeout: %d seconds\n\n", sendDest, sendTimeout)

	acks := newAckWaiter(conn)
	failed := 0
	for i := 0; i < sendCount; i++ {
		if i > 0 {
			time.Sleep(sendInterval)
		}
		p, err := sensorPacket(sendSeq+uint16(i), sendTemp, sendHumidity, sendGas)
		if err != nil {
			return err
		}

		command := rylr.EncodeSendCommand(sendDest, rylr.BuildPayload(p))
		if _, err := conn.Write(command); err != nil {
			fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
			os.Exit(2)
		}
		logger.Debug().Str("command", rylr.FormatFrame(command)).Msg("sent")
		fmt.Printf("[%s] SENT #%d (%d bytes)\n", time.Now().Format("15:04:05.000"), p.SeqNum, len(command))

		ack, err := acks.Wait(p.SeqNum, time.Duration(sendTimeout)*time.Second)
		switch {
		case errors.Is(err, errAckTimeout):
			fmt.Fprintf(os.Stderr, "TIMEOUT: No ACK for #%d within %d seconds\n", p.SeqNum, sendTimeout)
			failed++
		case err != nil:
			fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
			os.Exit(2)
		default:
			fmt.Print(rylr.FormatAck(time.Now(), ack))
			if !ack.IsAck() {
				failed++
			}
		}
	}

	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d records not acknowledged\n", failed, sendCount)
		os.Exit(1)
	}
	fmt.Printf("SUCCESS: %d record(s) acknowledged\n", sendCount)
	return nil
}

var errAckTimeout = errors.New("timed out waiting for ACK")

// ackWaiter reads modem frames in the background and hands out
// acknowledgments
type ackWaiter struct {
	acks chan rylr.AckPacket
	errc chan error
}

func newAckWaiter(r io.Reader) *ackWaiter {
	w := &ackWaiter{
		acks: make(chan rylr.AckPacket, 8),
		errc: make(chan error, 1),
	}
	go w.read(r)
	return w
}

func (w *ackWaiter) read(r io.Reader) {
	scanner := rylr.NewFrameScanner()
	buf := make([]byte, 128)
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			frame, ok := scanner.Next(b)
			if !ok {
				continue
			}
			if ack, err := rylr.DecodeAckEnvelope(frame); err == nil {
				w.acks <- ack
			} else {
				logger.Debug().Err(err).Str("frame", rylr.FormatFrame(frame)).Msg("ignored")
			}
			scanner.Reset()
		}
		if err != nil {
			w.errc <- err
			return
		}
	}
}

// Wait returns the first acknowledgment for seq. Acknowledgments for other
// sequence numbers are stale and skipped.
func (w *ackWaiter) Wait(seq uint16, timeout time.Duration) (rylr.AckPacket, error) {
	deadline := time.After(timeout)
	for {
		select {
		case ack := <-w.acks:
			if ack.SeqNum == seq {
				return ack, nil
			}
			logger.Debug().Uint16("seq", ack.SeqNum).Msg("stale ACK")
		case err := <-w.errc:
			return rylr.AckPacket{}, err
		case <-deadline:
			return rylr.AckPacket{}, errAckTimeout
		}
	}
}
