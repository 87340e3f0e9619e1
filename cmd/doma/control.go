package main

import (
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/doma-dev/doma/pkg/config"
	"github.com/doma-dev/doma/pkg/daemon"
	"github.com/doma-dev/doma/pkg/protocol"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the doma daemon is running",
	Run: func(cmd *cobra.Command, args []string) {
		client := protocol.NewClient()
		if _, err := client.Probe(); err != nil {
			log.Infof("server is not running: %s", err)
			return
		}
		log.Info("server is running")
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start waiting for idle GPUs and hold them with the given config",
	Run: func(cmd *cobra.Command, args []string) {
		sendConfigSignal(cmd, protocol.Start, "started")
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Release all GPUs and wait to hold them again with the given config",
	Run: func(cmd *cobra.Command, args []string) {
		sendConfigSignal(cmd, protocol.Restart, "restarted")
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop holding and release all GPUs",
	Run: func(cmd *cobra.Command, args []string) {
		if err := exchange(&protocol.ControlMessage{Signal: protocol.Stop}); err != nil {
			log.Fatalf("failed to stop server: %s", err)
		}
		log.Info("server stopped")
	},
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Shut the doma daemon down",
	Run: func(cmd *cobra.Command, args []string) {
		shutdownDaemon()
	},
}

func sendConfigSignal(cmd *cobra.Command, sig protocol.Signal, verb string) {
	cfg, err := config.ControllerFromViper(commandViper(cmd))
	if err != nil {
		log.Fatalf("invalid config: %s", err)
	}
	if err := exchange(&protocol.ControlMessage{Signal: sig, Config: cfg}); err != nil {
		log.Fatalf("failed to %s server: %s", cmd.Use, err)
	}
	log.Infof("server %s with config:", verb)
	renderConfigTable(cfg)
}

func exchange(m *protocol.ControlMessage) error {
	resp, err := protocol.NewClient().Exchange(m)
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return errors.New(resp.Error)
	}
	return nil
}

// shutdownDaemon escalates: SHUTDOWN over the control channel, then
// SIGTERM, then SIGKILL, re-checking liveness after each step.
func shutdownDaemon() {
	shutdownErr := exchange(&protocol.ControlMessage{Signal: protocol.Shutdown})
	if shutdownErr == nil {
		log.Info("server shutdown")
	} else {
		log.Warnf("graceful shutdown failed: %s", shutdownErr)
	}

	pid, err := daemon.ReadPidFile(daemon.PidFilePath)
	if err != nil {
		if shutdownErr != nil {
			log.Info("no pid file found, server is not running")
		}
		return
	}
	if shutdownErr == nil {
		// give the daemon a moment to clean up after responding
		if waitStopped(pid, 5*time.Second) {
			return
		}
		log.Warnf("process %d is still alive after shutdown, escalating", pid)
	}
	if err := daemon.EnsureStopped(pid, 5*time.Second); err != nil {
		log.Fatalf("failed to shut down: %s", err)
	}
	// a killed daemon could not clean up after itself
	if err := daemon.RemovePidFile(daemon.PidFilePath); err != nil {
		log.Errorf("failed to remove pid file: %s", err)
	}
	log.Info("server killed")
}

func waitStopped(pid int, grace time.Duration) bool {
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !daemon.Alive(pid) {
			return true
		}
		time.Sleep(200 * time.Millisecond)
	}
	return false
}
