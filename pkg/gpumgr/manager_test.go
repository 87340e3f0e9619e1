package gpumgr

import (
	"encoding/binary"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doma-dev/doma/pkg/device"
	"github.com/doma-dev/doma/pkg/protocol"
)

func startTestManager(t *testing.T, rt device.Runtime) (*GpuGroupManager, *protocol.Client, chan error) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "doma.sock")
	logger := log.New()
	logger.SetOutput(io.Discard)
	mgr, err := NewGpuGroupManager(testControllerConfig(), rt, logger, sock)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- mgr.Run() }()
	client := &protocol.Client{Addr: sock, Timeout: 2 * time.Second}
	return mgr, client, done
}

func shutdownTestManager(t *testing.T, client *protocol.Client, done chan error) {
	t.Helper()
	_, err := client.Exchange(&protocol.ControlMessage{Signal: protocol.Shutdown})
	require.NoError(t, err)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listener loop did not exit after SHUTDOWN")
	}
}

func TestGreetingWithoutControllers(t *testing.T) {
	_, client, done := startTestManager(t, device.NewSimulated(2, 16, 0))

	resp, err := client.Exchange(&protocol.ControlMessage{Signal: protocol.Greeting})
	require.NoError(t, err)
	assert.Equal(t, protocol.Greeting, resp.Signal)
	assert.Empty(t, resp.Error)

	shutdownTestManager(t, client, done)
}

func TestStartReplacesControllerSet(t *testing.T) {
	mgr, client, done := startTestManager(t, device.NewSimulated(2, 16, 0))

	resp, err := client.Exchange(&protocol.ControlMessage{Signal: protocol.Start, Config: testControllerConfig()})
	require.NoError(t, err)
	require.Empty(t, resp.Error)
	first := mgr.Controllers()
	require.Len(t, first, 2)

	resp, err = client.Exchange(&protocol.ControlMessage{Signal: protocol.Restart, Config: testControllerConfig()})
	require.NoError(t, err)
	require.Empty(t, resp.Error)
	second := mgr.Controllers()
	require.Len(t, second, 2)

	for i := range first {
		assert.NotSame(t, first[i], second[i])
	}
	// the old set was joined before the new one started: Stop on an
	// already-stopped controller returns immediately
	for _, c := range first {
		joined := make(chan struct{})
		go func(c *GpuController) {
			c.Stop()
			close(joined)
		}(c)
		select {
		case <-joined:
		case <-time.After(time.Second):
			t.Fatal("old controller was not joined by RESTART")
		}
	}

	shutdownTestManager(t, client, done)
}

func TestStopKeepsListenerServing(t *testing.T) {
	mgr, client, done := startTestManager(t, device.NewSimulated(1, 16, 0))

	resp, err := client.Exchange(&protocol.ControlMessage{Signal: protocol.Start, Config: testControllerConfig()})
	require.NoError(t, err)
	require.Empty(t, resp.Error)
	require.Len(t, mgr.Controllers(), 1)

	resp, err = client.Exchange(&protocol.ControlMessage{Signal: protocol.Stop})
	require.NoError(t, err)
	assert.Empty(t, resp.Error)
	assert.Empty(t, mgr.Controllers())

	// the listener keeps serving after STOP
	resp, err = client.Exchange(&protocol.ControlMessage{Signal: protocol.Greeting})
	require.NoError(t, err)
	assert.Empty(t, resp.Error)

	shutdownTestManager(t, client, done)
}

func TestShutdownStopsControllersAndRemovesSocket(t *testing.T) {
	mgr, client, done := startTestManager(t, device.NewSimulated(2, 16, 0))

	resp, err := client.Exchange(&protocol.ControlMessage{Signal: protocol.Start, Config: testControllerConfig()})
	require.NoError(t, err)
	require.Empty(t, resp.Error)
	controllers := mgr.Controllers()
	require.Len(t, controllers, 2)

	shutdownTestManager(t, client, done)

	_, statErr := os.Stat(client.Addr)
	assert.True(t, os.IsNotExist(statErr), "socket file should be removed after shutdown")
	assert.Empty(t, mgr.Controllers())
	// every controller was joined
	for _, c := range controllers {
		joined := make(chan struct{})
		go func(c *GpuController) {
			c.Stop()
			close(joined)
		}(c)
		select {
		case <-joined:
		case <-time.After(time.Second):
			t.Fatal("controller still running after SHUTDOWN")
		}
	}
}

func TestDispatchErrorDoesNotKillListener(t *testing.T) {
	// a runtime with no visible devices makes START fail
	_, client, done := startTestManager(t, device.NewSimulated(0, 16, 0))

	resp, err := client.Exchange(&protocol.ControlMessage{Signal: protocol.Start, Config: testControllerConfig()})
	require.NoError(t, err)
	assert.Contains(t, resp.Error, "no gpu devices visible")

	// the next connection is still served
	resp, err = client.Exchange(&protocol.ControlMessage{Signal: protocol.Greeting})
	require.NoError(t, err)
	assert.Empty(t, resp.Error)

	shutdownTestManager(t, client, done)
}

func TestInvalidConfigIsRejected(t *testing.T) {
	_, client, done := startTestManager(t, device.NewSimulated(1, 16, 0))

	bad := testControllerConfig()
	bad.HoldUtil = 2
	resp, err := client.Exchange(&protocol.ControlMessage{Signal: protocol.Start, Config: bad})
	require.NoError(t, err)
	assert.Contains(t, resp.Error, "hold-util")

	shutdownTestManager(t, client, done)
}

func TestMalformedFrameDoesNotKillListener(t *testing.T) {
	_, client, done := startTestManager(t, device.NewSimulated(1, 16, 0))

	// oversized length prefix
	conn, err := net.Dial("unix", client.Addr)
	require.NoError(t, err)
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], 0xFFFFFFFF)
	_, err = conn.Write(header[:])
	require.NoError(t, err)
	// the server drops the connection without responding
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	assert.Equal(t, io.EOF, err)
	conn.Close()

	// undecodable body
	conn, err = net.Dial("unix", client.Addr)
	require.NoError(t, err)
	binary.BigEndian.PutUint32(header[:], 3)
	_, err = conn.Write(append(header[:], []byte("???")...))
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	assert.Equal(t, io.EOF, err)
	conn.Close()

	// the listener is still alive
	resp, err := client.Exchange(&protocol.ControlMessage{Signal: protocol.Greeting})
	require.NoError(t, err)
	assert.Empty(t, resp.Error)

	shutdownTestManager(t, client, done)
}

func TestExistingSocketFileIsFatal(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "doma.sock")
	require.NoError(t, os.WriteFile(sock, []byte{}, 0o644))

	_, err := NewGpuGroupManager(testControllerConfig(), device.NewSimulated(1, 16, 0), log.New(), sock)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}
