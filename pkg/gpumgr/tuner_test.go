package gpumgr

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/doma-dev/doma/pkg/config"
)

// driveWindow feeds one full measurement window of samples where the
// device utilization is a deterministic function of the trial sleep.
func driveWindow(t *sleepTuner, samples int, utilOf func(sleep float64) float64) {
	for i := 0; i < samples; i++ {
		t.Observe(utilOf(t.SleepTime()))
	}
}

var _ = Describe("sleep tuner", func() {

	alg := func() config.AlgorithmConfig {
		a := config.NewAlgorithmConfig()
		a.MinSleepTime = 0
		a.MaxSleepTime = 1
		a.SamplesPerCheck = 5
		return a
	}

	// a device where one compute op costs 10ms: util = 0.01/(0.01+sleep)
	simUtil := func(sleep float64) float64 {
		return 0.01 / (0.01 + sleep)
	}

	It("converges to the target utilization on a deterministic device", func() {
		a := alg()
		a.UtilizationEpsilon = 0.05
		t := newSleepTuner(a, 0.8)
		for w := 0; w < maxTuneWindows && !t.Converged(); w++ {
			driveWindow(t, a.SamplesPerCheck, simUtil)
		}
		Expect(t.Converged()).To(BeTrue())
		Expect(simUtil(t.SleepTime())).To(BeNumerically("~", 0.8, 0.05))
	})

	It("keeps min <= mid <= max and only narrows the bracket", func() {
		a := alg()
		a.UtilizationEpsilon = 0.0001
		t := newSleepTuner(a, 0.3)
		prevWidth := t.max - t.min
		for w := 0; w < 20 && !t.Converged(); w++ {
			driveWindow(t, a.SamplesPerCheck, simUtil)
			Expect(t.mid).To(BeNumerically(">=", t.min))
			Expect(t.mid).To(BeNumerically("<=", t.max))
			width := t.max - t.min
			Expect(width).To(BeNumerically("<=", prevWidth))
			prevWidth = width
		}
	})

	It("freezes the sleep time after convergence", func() {
		a := alg()
		a.UtilizationEpsilon = 0.5
		t := newSleepTuner(a, 0.5)
		driveWindow(t, a.SamplesPerCheck, simUtil)
		Expect(t.Converged()).To(BeTrue())
		frozen := t.SleepTime()
		Expect(t.Observe(0)).To(BeFalse())
		Expect(t.SleepTime()).To(Equal(frozen))
	})

	It("gives up after the window cap when the target is unreachable", func() {
		a := alg()
		a.UtilizationEpsilon = 0.001
		t := newSleepTuner(a, 0.8)
		// a dead device: utilization never moves
		for w := 0; w < maxTuneWindows; w++ {
			driveWindow(t, a.SamplesPerCheck, func(float64) float64 { return 0 })
		}
		Expect(t.Converged()).To(BeTrue())
		Expect(t.SleepTime()).To(BeNumerically(">=", a.MinSleepTime))
		Expect(t.SleepTime()).To(BeNumerically("<=", a.MaxSleepTime))
	})

	It("collapses to a constant sleep when min equals max", func() {
		a := alg()
		a.MinSleepTime = 0.25
		a.MaxSleepTime = 0.25
		a.UtilizationEpsilon = 0.001
		t := newSleepTuner(a, 0.9)
		for w := 0; w < 5; w++ {
			driveWindow(t, a.SamplesPerCheck, simUtil)
			Expect(t.SleepTime()).To(Equal(0.25))
		}
	})

	It("treats a single sample per check as the window average", func() {
		a := alg()
		a.SamplesPerCheck = 1
		a.UtilizationEpsilon = 0.05
		t := newSleepTuner(a, 0.8)
		for w := 0; w < maxTuneWindows && !t.Converged(); w++ {
			Expect(t.Observe(simUtil(t.SleepTime()))).To(BeTrue())
		}
		Expect(t.Converged()).To(BeTrue())
	})
})
