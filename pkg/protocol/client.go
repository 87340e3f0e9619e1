package protocol

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"
)

// ConnectStatus classifies the outcome of dialing the control channel,
// so callers distinguish "not running" from "running but stuck"
// without string-matching errors.
type ConnectStatus int

const (
	Connected ConnectStatus = iota
	NotRunning
	TimedOut
)

func (s ConnectStatus) String() string {
	switch s {
	case Connected:
		return "connected"
	case NotRunning:
		return "not running"
	case TimedOut:
		return "timed out"
	}
	return "unknown"
}

// Client performs one request/response exchange per connection against
// a running group manager.
type Client struct {
	Addr    string
	Timeout time.Duration
}

func NewClient() *Client {
	return &Client{Addr: SocketPath, Timeout: DefaultTimeout * time.Second}
}

// Dial connects to the control channel and classifies the failure mode.
func (c *Client) Dial() (net.Conn, ConnectStatus, error) {
	conn, err := net.DialTimeout("unix", c.Addr, c.Timeout)
	if err == nil {
		return conn, Connected, nil
	}
	switch {
	case errors.Is(err, os.ErrNotExist), errors.Is(err, syscall.ENOENT),
		errors.Is(err, syscall.ECONNREFUSED):
		return nil, NotRunning, fmt.Errorf("server not reachable at %s: %s", c.Addr, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return nil, TimedOut, fmt.Errorf("connect to %s timed out: %s", c.Addr, err)
	}
	return nil, NotRunning, fmt.Errorf("server not reachable at %s: %s", c.Addr, err)
}

// Exchange sends one message and waits for the single response, then
// closes the connection.
func (c *Client) Exchange(m *ControlMessage) (*ControlMessage, error) {
	conn, _, err := c.Dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if err := WriteMessage(conn, m, c.Timeout); err != nil {
		return nil, err
	}
	return ReadMessage(conn, c.Timeout)
}

// Probe is a liveness check: a GREETING exchange that succeeds with no
// captured error.
func (c *Client) Probe() (ConnectStatus, error) {
	conn, status, err := c.Dial()
	if err != nil {
		return status, err
	}
	defer conn.Close()
	if err := WriteMessage(conn, &ControlMessage{Signal: Greeting}, c.Timeout); err != nil {
		return Connected, err
	}
	resp, err := ReadMessage(conn, c.Timeout)
	if err != nil {
		return Connected, err
	}
	if resp.Error != "" {
		return Connected, errors.New(resp.Error)
	}
	return Connected, nil
}
