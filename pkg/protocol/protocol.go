package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/doma-dev/doma/pkg/config"
)

// SocketPath is the well-known control channel address. Its presence
// on the filesystem means a daemon is (or claims to be) running.
const SocketPath = "/tmp/doma/doma.sock"

// DefaultTimeout bounds each connect/send/receive operation of a
// client exchange.
const DefaultTimeout = 5 // seconds

// Signal is the closed set of control message kinds. Nothing else is
// valid on the wire.
type Signal int

const (
	Start Signal = iota
	Stop
	Restart
	Shutdown
	Greeting
)

var signalNames = map[Signal]string{
	Start:    "START",
	Stop:     "STOP",
	Restart:  "RESTART",
	Shutdown: "SHUTDOWN",
	Greeting: "GREETING",
}

func (s Signal) String() string {
	if name, ok := signalNames[s]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(s))
}

func (s Signal) MarshalJSON() ([]byte, error) {
	name, ok := signalNames[s]
	if !ok {
		return nil, fmt.Errorf("cannot encode unknown signal %d", int(s))
	}
	return json.Marshal(name)
}

func (s *Signal) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	for sig, n := range signalNames {
		if n == name {
			*s = sig
			return nil
		}
	}
	return fmt.Errorf("unknown signal %q", name)
}

// ControlMessage is both the request and the response of one control
// exchange. Requests carry a signal and optionally a config; responses
// always carry Greeting and optionally a captured error string.
type ControlMessage struct {
	Signal Signal                   `json:"signal"`
	Config *config.ControllerConfig `json:"config,omitempty"`
	Error  string                   `json:"error,omitempty"`
}

// Response builds the reply for a finished dispatch, capturing err if
// any.
func Response(err error) *ControlMessage {
	m := &ControlMessage{Signal: Greeting}
	if err != nil {
		m.Error = err.Error()
	}
	return m
}
