package gpumgr

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/doma-dev/doma/pkg/config"
	"github.com/doma-dev/doma/pkg/device"
)

// GpuController supervises one device: it samples it at 1Hz into a
// bounded history window, waits for the idle condition to hold over
// the whole window, then occupies the device until stopped.
//
// Lifecycle: Sampling -> Holding -> Stopped. The sampler keeps running
// while holding so the history stays fresh; Stop joins both goroutines
// before returning.
type GpuController struct {
	Index int

	cfg     *config.ControllerConfig
	runtime device.Runtime
	history *snapshotHistory
	log     *log.Entry

	// intervals are fields so tests can compress time
	sampleInterval time.Duration
	pollInterval   time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	holding  int32
}

func NewGpuController(index int, cfg *config.ControllerConfig, rt device.Runtime, logger *log.Logger) *GpuController {
	return &GpuController{
		Index:          index,
		cfg:            cfg,
		runtime:        rt,
		history:        newSnapshotHistory(cfg.WindowSize()),
		log:            logger.WithField("gpu", index),
		sampleInterval: time.Second,
		pollInterval:   time.Second,
		stop:           make(chan struct{}),
	}
}

// Start launches the sampler and the idle-wait/hold loop.
func (c *GpuController) Start() {
	c.wg.Add(2)
	go c.sampler()
	go c.run()
}

// Stop requests cooperative shutdown and blocks until both the sampler
// and the hold loop have exited. Safe to call more than once.
func (c *GpuController) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
}

// IsHolding reports whether the controller currently occupies its
// device.
func (c *GpuController) IsHolding() bool {
	return atomic.LoadInt32(&c.holding) == 1
}

// HistoryMetric folds the retained sample window, e.g. the max used
// memory or the average utilization over the idle window.
func (c *GpuController) HistoryMetric(m Metric, agg Aggregate) (float64, error) {
	return c.history.metric(m, agg)
}

// HistoryFull reports whether a full idle window of samples has been
// collected.
func (c *GpuController) HistoryFull() bool {
	return c.history.full()
}

// sleepOrStop waits d and reports false if a stop request arrived
// first.
func (c *GpuController) sleepOrStop(d time.Duration) bool {
	if d <= 0 {
		select {
		case <-c.stop:
			return false
		default:
			return true
		}
	}
	select {
	case <-c.stop:
		return false
	case <-time.After(d):
		return true
	}
}

func (c *GpuController) sampler() {
	defer c.wg.Done()
	for {
		c.takeSnapshot()
		if !c.sleepOrStop(c.sampleInterval) {
			return
		}
	}
}

func (c *GpuController) takeSnapshot() {
	used, err := c.runtime.UsedMemGb(c.Index)
	if err != nil {
		c.log.Errorf("failed to read used memory: %s", err)
		return
	}
	free, err := device.FreeMemGb(c.runtime, c.Index)
	if err != nil {
		c.log.Errorf("failed to read free memory: %s", err)
		return
	}
	util, err := c.runtime.Utilization(c.Index)
	if err != nil {
		c.log.Errorf("failed to read utilization: %s", err)
		return
	}
	c.history.add(GpuSnapshot{UsedMemGb: used, FreeMemGb: free, Util: util})
}

// idleConfirmed is true once the window is full and every retained
// sample stayed below the memory threshold.
func (c *GpuController) idleConfirmed() bool {
	if !c.history.full() {
		return false
	}
	maxUsed, err := c.history.metric(MetricUsedMem, Max)
	if err != nil {
		return false
	}
	return maxUsed < c.cfg.MemThresholdGb
}

func (c *GpuController) run() {
	defer c.wg.Done()
	for !c.idleConfirmed() {
		if !c.sleepOrStop(c.pollInterval) {
			return
		}
	}
	c.log.Infof("device idle for %.1f minutes, start holding", c.cfg.IdleWaitMinutes)
	atomic.StoreInt32(&c.holding, 1)
	if err := c.hold(); err != nil {
		c.log.Errorf("hold failed: %s", err)
	}
	atomic.StoreInt32(&c.holding, 0)
}

// hold occupies the device: a holder buffer consumes memory up to the
// target footprint, an operator buffer is repeatedly squared to keep
// utilization non-zero, and the sleep between iterations is tuned to
// track the target utilization.
func (c *GpuController) hold() error {
	gb := c.cfg.HoldMemGb
	if gb == 0 {
		total, err := c.runtime.TotalMemGb(c.Index)
		if err != nil {
			return err
		}
		gb = total * 0.5
	}

	operator, err := c.runtime.Alloc(c.Index, c.cfg.Algorithm.OperatorSizeGb/2)
	if err != nil {
		return err
	}
	var holder device.Buffer
	defer func() {
		if holder != nil {
			if err := holder.Free(); err != nil {
				c.log.Errorf("failed to free holder: %s", err)
			}
		}
		if err := operator.Free(); err != nil {
			c.log.Errorf("failed to free operator: %s", err)
		}
		if err := c.runtime.ReleaseCache(c.Index); err != nil {
			c.log.Errorf("failed to release device cache: %s", err)
		}
	}()

	tuner := newSleepTuner(c.cfg.Algorithm, c.cfg.HoldUtil)
	inspectInterval := time.Duration(c.cfg.Algorithm.InspectInterval * float64(time.Second))
	tic := time.Now()
	first := true
	measuring := false

	for {
		select {
		case <-c.stop:
			return nil
		default:
		}
		if err := operator.Square(); err != nil {
			return err
		}
		if first {
			used, err := c.runtime.UsedMemGb(c.Index)
			if err != nil {
				return err
			}
			holderGb := gb - used
			if holderGb < 0 {
				return fmt.Errorf("target footprint %.2f GB is below the %.2f GB already in use, raise hold-mem-gb or reduce operator-size-gb", gb, used)
			}
			if holder, err = c.runtime.Alloc(c.Index, holderGb); err != nil {
				return err
			}
			first = false
			tic = time.Now()
			continue
		}
		if !tuner.Converged() && (measuring || time.Since(tic) >= inspectInterval) {
			measuring = true
			util, err := c.runtime.Utilization(c.Index)
			if err != nil {
				return err
			}
			if tuner.Observe(util) {
				measuring = false
				tic = time.Now()
			}
		}
		if !c.sleepOrStop(time.Duration(tuner.SleepTime() * float64(time.Second))) {
			return nil
		}
	}
}
