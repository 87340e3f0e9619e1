package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/doma-dev/doma/pkg/config"
	"github.com/doma-dev/doma/pkg/daemon"
	"github.com/doma-dev/doma/pkg/device"
	"github.com/doma-dev/doma/pkg/exporter"
	"github.com/doma-dev/doma/pkg/gpumgr"
	"github.com/doma-dev/doma/pkg/protocol"
)

// simulated runtime shape for --simulate runs
const (
	simDeviceCount = 2
	simTotalMemGb  = 16.0
)

var serveParams = []config.Param{
	{Name: "metrics-addr", Value: "", Usage: "address to expose prometheus metrics on, empty disables the exporter"},
	{Name: "simulate", Value: false, Usage: "use a simulated gpu runtime instead of nvml"},
}

// serveCmd is the detached daemon's entry point; `launch` re-executes
// the binary with this command. It can also be run in the foreground
// for debugging.
var serveCmd = &cobra.Command{
	Use:    "serve",
	Short:  "Run the group manager in the foreground (used internally by launch)",
	Hidden: true,
	Run: func(cmd *cobra.Command, args []string) {
		v := commandViper(cmd)
		runManager(v.GetString("metrics-addr"), v.GetBool("simulate"))
	},
}

func runManager(metricsAddr string, simulate bool) {
	var rt device.Runtime
	if simulate {
		log.Warn("running against a simulated gpu runtime")
		rt = device.NewSimulated(simDeviceCount, simTotalMemGb, 0)
	} else {
		nvmlRt, err := device.NewNvmlRuntime()
		if err != nil {
			log.Fatalf("failed to initialize nvml: %s", err)
		}
		rt = nvmlRt
	}
	defer rt.Close()

	mgr, err := gpumgr.NewGpuGroupManager(config.NewControllerConfig(), rt, log.StandardLogger(), protocol.SocketPath)
	if err != nil {
		log.Fatalf("failed to start group manager: %s", err)
	}
	if err := daemon.WritePidFile(daemon.PidFilePath); err != nil {
		log.Fatalf("failed to write pid file: %s", err)
	}
	if metricsAddr != "" {
		exporter.New(mgr, rt, metricsAddr, log.StandardLogger()).Start()
	}

	err = mgr.Run()
	if rmErr := daemon.RemovePidFile(daemon.PidFilePath); rmErr != nil {
		log.Errorf("failed to remove pid file: %s", rmErr)
	}
	if err != nil {
		log.Errorf("listener loop failed: %s", err)
		os.Exit(1)
	}
}
