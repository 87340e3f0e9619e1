package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PidFilePath is the well-known identity file of the running daemon.
// Absence means "not running".
const PidFilePath = "/tmp/doma/doma.pid"

// WritePidFile persists the calling process id.
func WritePidFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

// ReadPidFile returns the recorded pid. A missing file surfaces as an
// os.IsNotExist error so callers can treat it as "not running".
func ReadPidFile(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("corrupt pid file %s: %s", path, err)
	}
	return pid, nil
}

// RemovePidFile deletes the identity file; a missing file is fine.
func RemovePidFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
