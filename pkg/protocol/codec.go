package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"
)

// Frames are a 4-byte big-endian length followed by a JSON-encoded
// ControlMessage. Length-prefixed framing sidesteps the classic
// sentinel-in-payload hazard of delimiter scanning.

// MaxFrameSize caps a frame body. A control message is tiny; anything
// bigger is a corrupt or hostile stream.
const MaxFrameSize = 1 << 20

func Encode(m *ControlMessage) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)
	return frame, nil
}

func Decode(body []byte) (*ControlMessage, error) {
	m := &ControlMessage{}
	if err := json.Unmarshal(body, m); err != nil {
		return nil, fmt.Errorf("undecodable control message: %s", err)
	}
	return m, nil
}

// WriteMessage sends one framed message. A non-zero timeout applies to
// the whole write and is cleared afterwards so the connection can be
// reused for further blocking operations.
func WriteMessage(conn net.Conn, m *ControlMessage, timeout time.Duration) error {
	frame, err := Encode(m)
	if err != nil {
		return err
	}
	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
		defer conn.SetWriteDeadline(time.Time{})
	}
	_, err = conn.Write(frame)
	return err
}

// ReadMessage receives one framed message, with the same timeout
// semantics as WriteMessage.
func ReadMessage(conn net.Conn, timeout time.Duration) (*ControlMessage, error) {
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
		defer conn.SetReadDeadline(time.Time{})
	}
	var header [4]byte
	if _, err := io.ReadFull(conn, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit of %d", size, MaxFrameSize)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, err
	}
	return Decode(body)
}
