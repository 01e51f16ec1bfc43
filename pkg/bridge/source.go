// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/juju/errors"
)

// CommandSource runs a program whose stdout carries gateway output, such
// as a debug probe streaming the gateway's log.
type CommandSource struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser

	closeOnce sync.Once
	closeErr  error
}

// StartCommand starts name with args. The process is killed when ctx is
// cancelled; its stderr is passed through.
func StartCommand(ctx context.Context, name string, args ...string) (*CommandSource, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = os.Stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Annotatef(err, "%s stdout", name)
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Annotatef(err, "failed to spawn %s", name)
	}
	return &CommandSource{cmd: cmd, stdout: stdout}, nil
}

// Read implements io.Reader
func (c *CommandSource) Read(p []byte) (int, error) {
	return c.stdout.Read(p)
}

// Close kills the process if it is still running and reaps it. Only the
// first call has an effect.
func (c *CommandSource) Close() error {
	c.closeOnce.Do(func() {
		_ = c.cmd.Process.Kill()
		err := c.cmd.Wait()
		if _, exited := err.(*exec.ExitError); exited {
			err = nil
		}
		c.closeErr = err
	})
	return c.closeErr
}
