package exporter

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/doma-dev/doma/pkg/device"
	"github.com/doma-dev/doma/pkg/gpumgr"
)

var (
	deviceMemTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "doma",
		Subsystem: "device",
		Name:      "memory_total_gb",
		Help:      "total memory per device in GB",
	}, []string{"device_index"})

	deviceMemUsed = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "doma",
		Subsystem: "device",
		Name:      "memory_used_gb",
		Help:      "used memory per device in GB",
	}, []string{"device_index"})

	deviceMemFree = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "doma",
		Subsystem: "device",
		Name:      "memory_free_gb",
		Help:      "free memory per device in GB",
	}, []string{"device_index"})

	deviceUtilization = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "doma",
		Subsystem: "device",
		Name:      "utilization",
		Help:      "instantaneous device utilization, 0-1",
	}, []string{"device_index"})

	controllerHolding = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "doma",
		Subsystem: "controller",
		Name:      "holding",
		Help:      "1 while the controller occupies its device",
	}, []string{"device_index"})

	windowMemUsedMax = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "doma",
		Subsystem: "controller",
		Name:      "window_memory_used_max_gb",
		Help:      "max used memory over the idle-detection window in GB",
	}, []string{"device_index"})

	windowUtilAvg = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "doma",
		Subsystem: "controller",
		Name:      "window_utilization_avg",
		Help:      "average utilization over the idle-detection window, 0-1",
	}, []string{"device_index"})
)

// Exporter republishes device telemetry and controller state as
// prometheus metrics. It lives for the whole daemon process.
type Exporter struct {
	mgr     *gpumgr.GpuGroupManager
	runtime device.Runtime
	addr    string
	log     *log.Logger
}

func New(mgr *gpumgr.GpuGroupManager, rt device.Runtime, addr string, logger *log.Logger) *Exporter {
	return &Exporter{mgr: mgr, runtime: rt, addr: addr, log: logger}
}

// Start registers the collectors and serves /metrics in the
// background.
func (e *Exporter) Start() {
	prometheus.MustRegister(
		deviceMemTotal, deviceMemUsed, deviceMemFree, deviceUtilization,
		controllerHolding, windowMemUsedMax, windowUtilAvg,
	)
	go e.refreshLoop()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		e.log.Infof("serving metrics on %s/metrics", e.addr)
		if err := http.ListenAndServe(e.addr, mux); err != nil {
			e.log.Errorf("metrics listener failed: %s", err)
		}
	}()
}

func (e *Exporter) refreshLoop() {
	for {
		e.setDeviceGauges()
		e.setControllerGauges()
		time.Sleep(15 * time.Second)
	}
}

func (e *Exporter) setDeviceGauges() {
	count, err := e.runtime.Count()
	if err != nil {
		e.log.Errorf("failed to count devices: %s", err)
		return
	}
	for i := 0; i < count; i++ {
		labels := prometheus.Labels{"device_index": fmt.Sprintf("%d", i)}
		if total, err := e.runtime.TotalMemGb(i); err == nil {
			deviceMemTotal.With(labels).Set(total)
		}
		if used, err := e.runtime.UsedMemGb(i); err == nil {
			deviceMemUsed.With(labels).Set(used)
		}
		if free, err := device.FreeMemGb(e.runtime, i); err == nil {
			deviceMemFree.With(labels).Set(free)
		}
		if util, err := e.runtime.Utilization(i); err == nil {
			deviceUtilization.With(labels).Set(util)
		}
	}
}

func (e *Exporter) setControllerGauges() {
	for _, c := range e.mgr.Controllers() {
		labels := prometheus.Labels{"device_index": fmt.Sprintf("%d", c.Index)}
		holding := 0.0
		if c.IsHolding() {
			holding = 1
		}
		controllerHolding.With(labels).Set(holding)
		if maxUsed, err := c.HistoryMetric(gpumgr.MetricUsedMem, gpumgr.Max); err == nil {
			windowMemUsedMax.With(labels).Set(maxUsed)
		}
		if avgUtil, err := c.HistoryMetric(gpumgr.MetricUtil, gpumgr.Avg); err == nil {
			windowUtilAvg.With(labels).Set(avgUtil)
		}
	}
}
