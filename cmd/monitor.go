// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var monitorExec bool

var monitorCmd = &cobra.Command{
	Use:   "monitor [--exec -- command [args...]]",
	Short: "Terminal UI over the gateway telemetry stream",
	Long: `Show the latest record of every node ID in the gateway's telemetry stream,
with stream statistics and an event log.

Events include parse failures, gateway warnings and errors, CRC errors
reported by the gateway, records missing from the stream (gaps in the
received counter) and gateway restarts.

The source is chosen as for the bridge command: --port/--url, a command
given after --exec --, or stdin.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorExec, "exec", false, "Spawn the command given after -- and read its stdout")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src, srcInfo, err := openLineSource(ctx, monitorExec, args)
	if err != nil {
		return err
	}
	defer src.Close()

	var opts []tea.ProgramOption
	if srcInfo == stdinSource {
		// Keys come from the terminal while stdin carries telemetry
		opts = append(opts, tea.WithInputTTY())
	}
	p := tea.NewProgram(initialModel(srcInfo), opts...)

	// Line reader goroutine
	go func() {
		p.Send(sourceClosedMsg{err: readLines(src, func(line string) {
			p.Send(lineMsg{line: line})
		})})
	}()

	// Run TUI
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}

	return nil
}

// readLines calls fn for every line of r and returns the read error, if any
func readLines(r io.Reader, fn func(string)) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fn(sc.Text())
	}
	return sc.Err()
}
