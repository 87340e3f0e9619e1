package gpumgr

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/doma-dev/doma/pkg/config"
	"github.com/doma-dev/doma/pkg/device"
	"github.com/doma-dev/doma/pkg/protocol"
)

// acceptPoll bounds a single Accept so the loop can periodically check
// that the socket file is still in place.
const acceptPoll = 10 * time.Second

// GpuGroupManager owns one controller per visible device and the
// control channel listener. Signals are handled strictly one at a
// time, in connection-accept order.
type GpuGroupManager struct {
	cfg        *config.ControllerConfig
	runtime    device.Runtime
	log        *log.Logger
	socketPath string
	listener   *net.UnixListener

	// the listener loop is the only writer; the metrics exporter reads
	// concurrently
	mu          sync.Mutex
	controllers []*GpuController
}

// NewGpuGroupManager binds the control channel. A pre-existing socket
// file means another instance is running (or died uncleanly) and is a
// fatal startup error.
func NewGpuGroupManager(cfg *config.ControllerConfig, rt device.Runtime, logger *log.Logger, socketPath string) (*GpuGroupManager, error) {
	if _, err := os.Stat(socketPath); err == nil {
		return nil, fmt.Errorf("socket file %s already exists: doma may already be running, or the previous instance did not shut down cleanly", socketPath)
	}
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		return nil, err
	}
	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: socketPath, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("failed to bind control channel %s: %s", socketPath, err)
	}
	return &GpuGroupManager{
		cfg:        cfg,
		runtime:    rt,
		log:        logger,
		socketPath: socketPath,
		listener:   listener,
	}, nil
}

// Controllers returns the current controller set for read-only use.
func (m *GpuGroupManager) Controllers() []*GpuController {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*GpuController, len(m.controllers))
	copy(out, m.controllers)
	return out
}

func (m *GpuGroupManager) setControllers(cs []*GpuController) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.controllers = cs
}

// Run serves the control channel until SHUTDOWN (or until the socket
// file vanishes from under us), then closes the listener and removes
// the socket file.
func (m *GpuGroupManager) Run() error {
	defer func() {
		m.listener.Close()
		if err := os.Remove(m.socketPath); err != nil && !os.IsNotExist(err) {
			m.log.Errorf("failed to remove socket file: %s", err)
		}
	}()
	m.log.Infof("listening on %s", m.socketPath)
	for {
		if !m.addressAlive() {
			return fmt.Errorf("socket file %s disappeared, shutting down", m.socketPath)
		}
		if err := m.listener.SetDeadline(time.Now().Add(acceptPoll)); err != nil {
			return err
		}
		conn, err := m.listener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("accept failed: %s", err)
		}
		if shutdown := m.handleConn(conn); shutdown {
			m.log.Info("shutdown requested, exiting listener loop")
			return nil
		}
	}
}

func (m *GpuGroupManager) addressAlive() bool {
	if _, err := os.Stat(m.socketPath); err != nil {
		m.log.Errorf("socket file %s does not exist, doma may have been shut down externally", m.socketPath)
		return false
	}
	return true
}

func (m *GpuGroupManager) handleConn(conn net.Conn) (shutdown bool) {
	defer conn.Close()
	msg, err := protocol.ReadMessage(conn, protocol.DefaultTimeout*time.Second)
	if err != nil {
		m.log.Errorf("failed to read control message: %s", err)
		return false
	}
	m.log.Infof("received signal: %s", msg.Signal)
	var dispatchErr error
	shutdown, dispatchErr = m.dispatch(msg)
	if dispatchErr != nil {
		m.log.Errorf("dispatch of %s failed: %s", msg.Signal, dispatchErr)
	}
	if err := protocol.WriteMessage(conn, protocol.Response(dispatchErr), protocol.DefaultTimeout*time.Second); err != nil {
		m.log.Errorf("failed to send response: %s", err)
	}
	return shutdown
}

// dispatch mutates manager state for one signal. Panics are captured
// like errors so a misbehaving handler cannot take down the loop.
func (m *GpuGroupManager) dispatch(msg *protocol.ControlMessage) (shutdown bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during dispatch: %v", r)
		}
	}()
	switch msg.Signal {
	case protocol.Start, protocol.Restart:
		if err = m.updateConfig(msg.Config); err == nil {
			err = m.resetControllers()
		}
	case protocol.Stop:
		m.stopControllers()
	case protocol.Shutdown:
		m.stopControllers()
		shutdown = true
	case protocol.Greeting:
		// liveness probe, nothing to do
	default:
		err = fmt.Errorf("unhandled signal: %s", msg.Signal)
	}
	return shutdown, err
}

func (m *GpuGroupManager) updateConfig(cfg *config.ControllerConfig) error {
	if cfg == nil {
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("rejecting config: %s", err)
	}
	m.cfg = cfg
	return nil
}

// resetControllers stops and joins the old controller set, then builds
// and starts one fresh controller per visible device. Old and new
// occupation of the same device never overlap.
func (m *GpuGroupManager) resetControllers() error {
	m.stopControllers()
	count, err := m.runtime.Count()
	if err != nil {
		return fmt.Errorf("failed to count devices: %s", err)
	}
	if count == 0 {
		return fmt.Errorf("no gpu devices visible")
	}
	controllers := make([]*GpuController, 0, count)
	for i := 0; i < count; i++ {
		controllers = append(controllers, NewGpuController(i, m.cfg, m.runtime, m.log))
	}
	m.setControllers(controllers)
	for _, c := range controllers {
		c.Start()
	}
	return nil
}

func (m *GpuGroupManager) stopControllers() {
	for _, c := range m.Controllers() {
		m.log.Infof("stopping controller %d", c.Index)
		c.Stop()
	}
	m.setControllers(nil)
}
