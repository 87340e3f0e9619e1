package main

import (
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/doma-dev/doma/pkg/config"
	"github.com/doma-dev/doma/pkg/daemon"
	"github.com/doma-dev/doma/pkg/protocol"
)

const launchRetries = 10

var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Launch the doma daemon in the background",
	Run: func(cmd *cobra.Command, args []string) {
		v := commandViper(cmd)
		lc := config.LaunchFromViper(v)
		launchDaemon(lc)
	},
}

func launchDaemon(lc *config.LaunchConfig) {
	serveArgs := []string{"serve"}
	if lc.MetricsAddr != "" {
		serveArgs = append(serveArgs, "--metrics-addr", lc.MetricsAddr)
	}
	if lc.Simulate {
		serveArgs = append(serveArgs, "--simulate")
	}
	pid, err := daemon.Daemonize(lc.LogPath, serveArgs...)
	if err != nil {
		log.Fatalf("failed to launch daemon: %s", err)
	}
	log.Infof("daemon starting with pid %d, logging to %s", pid, lc.LogPath)

	client := protocol.NewClient()
	var probeErr error
	for i := 0; i < launchRetries; i++ {
		time.Sleep(time.Second)
		if _, probeErr = client.Probe(); probeErr == nil {
			log.Info("server launched")
			return
		}
	}
	log.Fatalf("failed to launch server: %s (see %s)", probeErr, lc.LogPath)
}
