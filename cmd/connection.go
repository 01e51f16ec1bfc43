// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"go.bug.st/serial"
	"golang.org/x/term"
)

// PasswordEnv holds the WebSocket bridge password
const PasswordEnv = "LORAGATE_PASSWORD"

const (
	wsHandshakeTimeout = 10 * time.Second
	wsDialTimeout      = 15 * time.Second
)

// Connection is a byte link to a modem or VCP, either a local serial port
// or a WebSocket bridge in front of one. Reads return an error matching
// io.EOF once the link is gone.
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
}

type serialLink struct {
	port serial.Port
}

func openSerial(name string, baud int) (*serialLink, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, errors.Annotatef(err, "open serial port %s", name)
	}
	return &serialLink{port: port}, nil
}

func (s *serialLink) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	var pe *serial.PortError
	if errors.As(err, &pe) && pe.Code() == serial.PortClosed {
		return n, io.EOF
	}
	if err == nil && n == 0 {
		// No read timeout is set, so an empty read means the adapter is gone
		return 0, io.EOF
	}
	return n, err
}

func (s *serialLink) Write(p []byte) (int, error) { return s.port.Write(p) }
func (s *serialLink) Close() error                { return s.port.Close() }

// ErrLinkClosed is returned by reads on a WebSocket link that has ended
var ErrLinkClosed = fmt.Errorf("websocket link closed: %w", io.EOF)

// wsLink streams the bytes of consecutive WebSocket messages. A frame may
// span messages, so message boundaries are not preserved.
type wsLink struct {
	conn *websocket.Conn
	msg  io.Reader
	err  error
}

func dialWebSocket(rawURL, username, password string, insecure bool) (*wsLink, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Annotate(err, "invalid URL")
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, errors.Errorf("unsupported URL scheme %q (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: insecure}
	}
	header := http.Header{}
	if username != "" && password != "" {
		header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(username+":"+password)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), wsDialTimeout)
	defer cancel()
	conn, resp, err := dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if resp != nil {
			return nil, errors.Annotatef(err, "websocket handshake with %s (HTTP %d)", u.Host, resp.StatusCode)
		}
		return nil, errors.Annotatef(err, "websocket dial %s", u.Host)
	}
	return &wsLink{conn: conn}, nil
}

func (w *wsLink) Read(p []byte) (int, error) {
	for w.err == nil {
		if w.msg == nil {
			_, r, err := w.conn.NextReader()
			if err != nil {
				w.err = fmt.Errorf("%w (%v)", ErrLinkClosed, err)
				break
			}
			w.msg = r
		}
		n, err := w.msg.Read(p)
		if err == io.EOF {
			w.msg = nil
			err = nil
		}
		if n > 0 || err != nil {
			return n, err
		}
	}
	return 0, w.err
}

// Write sends p as one binary message. Callers write from a single
// goroutine, as gorilla/websocket requires.
func (w *wsLink) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsLink) Close() error { return w.conn.Close() }

// readPassword takes the bridge password from the environment, or prompts
// for it without echo when stdin is a terminal.
func readPassword(stdin *os.File, prompt io.Writer) (string, error) {
	if pw := os.Getenv(PasswordEnv); pw != "" {
		return pw, nil
	}
	fmt.Fprint(prompt, "Password: ")
	defer fmt.Fprintln(prompt)

	if fd := int(stdin.Fd()); term.IsTerminal(fd) {
		pw, err := term.ReadPassword(fd)
		if err != nil {
			return "", errors.Annotate(err, "read password")
		}
		return string(pw), nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", errors.Annotate(err, "read password")
	}
	return strings.TrimSpace(line), nil
}

// OpenConnection opens the modem link selected by --url or --port and
// returns it with a one-line description for banners.
func OpenConnection() (Connection, string, error) {
	switch {
	case wsURL != "":
		var password string
		if wsUsername != "" {
			var err error
			if password, err = readPassword(os.Stdin, os.Stderr); err != nil {
				return nil, "", err
			}
		}
		link, err := dialWebSocket(wsURL, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return link, "WebSocket: " + wsURL, nil
	case portName != "":
		link, err := openSerial(portName, baudRate)
		if err != nil {
			return nil, "", err
		}
		return link, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}
	return nil, "", errors.New("either --port or --url must be specified")
}
