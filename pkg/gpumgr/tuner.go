package gpumgr

import (
	"math"

	"github.com/doma-dev/doma/pkg/config"
)

// maxTuneWindows bounds the binary search. The target utilization can
// be unreachable at the allowed sleep bounds (a saturated or dead-cold
// device), in which case the search would otherwise bounce forever; we
// give up after this many measurement windows and keep the sleep time
// whose measured utilization came closest.
const maxTuneWindows = 64

// sleepTuner binary-searches the inter-iteration sleep time that makes
// the measured utilization match the target. The bracket only narrows;
// once |cur-target| <= epsilon the sleep time is frozen for good.
type sleepTuner struct {
	target  float64
	epsilon float64
	min     float64
	max     float64
	mid     float64

	samples   []float64
	wanted    int
	windows   int
	converged bool

	best     float64
	bestDiff float64
}

func newSleepTuner(alg config.AlgorithmConfig, target float64) *sleepTuner {
	mid := (alg.MinSleepTime + alg.MaxSleepTime) / 2
	return &sleepTuner{
		target:   target,
		epsilon:  alg.UtilizationEpsilon,
		min:      alg.MinSleepTime,
		max:      alg.MaxSleepTime,
		mid:      mid,
		wanted:   alg.SamplesPerCheck,
		best:     mid,
		bestDiff: math.Inf(1),
	}
}

// SleepTime is the current trial sleep in seconds.
func (t *sleepTuner) SleepTime() float64 { return t.mid }

func (t *sleepTuner) Converged() bool { return t.converged }

// Observe feeds one utilization sample into the current measurement
// window. It returns true when the window completed (and the bracket
// was adjusted or convergence declared), so the caller can restart its
// inspect-interval clock.
func (t *sleepTuner) Observe(util float64) bool {
	if t.converged {
		return false
	}
	t.samples = append(t.samples, util)
	if len(t.samples) < t.wanted {
		return false
	}
	var sum float64
	for _, s := range t.samples {
		sum += s
	}
	cur := sum / float64(len(t.samples))
	t.samples = t.samples[:0]
	t.windows++

	diff := math.Abs(cur - t.target)
	if diff < t.bestDiff {
		t.bestDiff = diff
		t.best = t.mid
	}
	if diff <= t.epsilon {
		t.converged = true
		return true
	}
	if cur < t.target {
		// sleeping less raises utilization
		t.max = t.mid
	} else {
		t.min = t.mid
	}
	t.mid = (t.min + t.max) / 2
	if t.windows >= maxTuneWindows {
		t.converged = true
		t.mid = t.best
	}
	return true
}
