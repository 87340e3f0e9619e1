package gpumgr

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	log "github.com/sirupsen/logrus"

	"github.com/doma-dev/doma/pkg/config"
	"github.com/doma-dev/doma/pkg/device"
)

func testControllerConfig() *config.ControllerConfig {
	cfg := config.NewControllerConfig()
	cfg.IdleWaitMinutes = 0.1 // 6-sample window
	cfg.MemThresholdGb = 1
	cfg.HoldMemGb = 2
	cfg.HoldUtil = 0.5
	cfg.Algorithm.OperatorSizeGb = 0.1
	cfg.Algorithm.UtilizationEpsilon = 0.4
	cfg.Algorithm.MaxSleepTime = 0.01
	cfg.Algorithm.InspectInterval = 0.02
	cfg.Algorithm.SamplesPerCheck = 2
	return cfg
}

// fastController compresses the 1Hz rhythms so the specs run in
// milliseconds.
func fastController(cfg *config.ControllerConfig, rt device.Runtime) *GpuController {
	c := NewGpuController(0, cfg, rt, log.New())
	c.sampleInterval = 5 * time.Millisecond
	c.pollInterval = 5 * time.Millisecond
	return c
}

var _ = Describe("gpu controller", func() {

	It("holds the device once the idle window confirms", func() {
		sim := device.NewSimulated(1, 16, 0.2)
		c := fastController(testControllerConfig(), sim)
		c.Start()
		defer c.Stop()

		Eventually(c.IsHolding, 3*time.Second, 10*time.Millisecond).Should(BeTrue())

		// holder tops the footprint up to the configured 2 GB
		Eventually(func() float64 {
			used, _ := sim.UsedMemGb(0)
			return used
		}, time.Second, 10*time.Millisecond).Should(BeNumerically("~", 2, 0.01))

		c.Stop()
		Expect(c.IsHolding()).To(BeFalse())
		// allocations are released synchronously on stop
		used, err := sim.UsedMemGb(0)
		Expect(err).NotTo(HaveOccurred())
		Expect(used).To(BeNumerically("~", 0.2, 0.001))
	})

	It("never holds while the memory threshold is exceeded", func() {
		sim := device.NewSimulated(1, 16, 0.2)
		cfg := testControllerConfig()
		cfg.MemThresholdGb = 0.1 // baseline 0.2 GB is already above it
		c := fastController(cfg, sim)
		c.Start()

		Consistently(c.IsHolding, 300*time.Millisecond, 20*time.Millisecond).Should(BeFalse())
		c.Stop()
	})

	It("stops promptly before the idle window ever fills", func() {
		sim := device.NewSimulated(1, 16, 0)
		cfg := testControllerConfig()
		c := NewGpuController(0, cfg, sim, log.New()) // real 1Hz rhythms
		c.Start()

		done := make(chan struct{})
		go func() {
			c.Stop()
			close(done)
		}()
		Eventually(done, 3*time.Second).Should(BeClosed())
		Expect(c.IsHolding()).To(BeFalse())
	})

	It("tolerates repeated stops", func() {
		sim := device.NewSimulated(1, 16, 0)
		c := fastController(testControllerConfig(), sim)
		c.Start()
		c.Stop()
		done := make(chan struct{})
		go func() {
			c.Stop()
			c.Stop()
			close(done)
		}()
		Eventually(done, time.Second).Should(BeClosed())
	})

	It("fails the run when the baseline already exceeds the target footprint", func() {
		sim := device.NewSimulated(1, 16, 3)
		cfg := testControllerConfig()
		cfg.HoldMemGb = 2      // below the 3 GB baseline
		cfg.MemThresholdGb = 4 // still counts as idle
		c := fastController(cfg, sim)
		c.Start()
		defer c.Stop()

		// wait until the idle window confirms, then give the hold
		// attempt time to abort
		Eventually(c.HistoryFull, 3*time.Second, 10*time.Millisecond).Should(BeTrue())
		time.Sleep(200 * time.Millisecond)
		Expect(c.IsHolding()).To(BeFalse())
		// the aborted attempt released its operator allocation
		used, err := sim.UsedMemGb(0)
		Expect(err).NotTo(HaveOccurred())
		Expect(used).To(BeNumerically("~", 3, 0.001))
	})

	It("keeps sampling while holding", func() {
		sim := device.NewSimulated(1, 16, 0.2)
		c := fastController(testControllerConfig(), sim)
		c.Start()
		defer c.Stop()

		Eventually(c.IsHolding, 3*time.Second, 10*time.Millisecond).Should(BeTrue())
		// the window keeps turning over: used memory in fresh samples
		// reflects the held footprint
		Eventually(func() float64 {
			maxUsed, err := c.HistoryMetric(MetricUsedMem, Max)
			if err != nil {
				return 0
			}
			return maxUsed
		}, 2*time.Second, 20*time.Millisecond).Should(BeNumerically(">", 1))
	})
})
