package gpumgr

import (
	"fmt"
	"sync"
)

// GpuSnapshot is one 1Hz observation of a device.
type GpuSnapshot struct {
	UsedMemGb float64
	FreeMemGb float64
	Util      float64
}

// Metric selects a GpuSnapshot field for history queries.
type Metric int

const (
	MetricUsedMem Metric = iota
	MetricFreeMem
	MetricUtil
)

// Aggregate selects how a history window is folded into one value.
type Aggregate int

const (
	Avg Aggregate = iota
	Max
	Min
)

// snapshotHistory is a fixed-capacity ring buffer of snapshots, shared
// between the sampler (writer) and the idle predicate / metric queries
// (readers). The mutex is held only across the buffer access itself.
type snapshotHistory struct {
	mu    sync.Mutex
	buf   []GpuSnapshot
	next  int
	count int
}

func newSnapshotHistory(capacity int) *snapshotHistory {
	if capacity < 1 {
		capacity = 1
	}
	return &snapshotHistory{buf: make([]GpuSnapshot, capacity)}
}

func (h *snapshotHistory) add(s GpuSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = s
	h.next = (h.next + 1) % len(h.buf)
	if h.count < len(h.buf) {
		h.count++
	}
}

func (h *snapshotHistory) full() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count == len(h.buf)
}

func (h *snapshotHistory) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *snapshotHistory) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next = 0
	h.count = 0
}

// metric folds the retained window. Errors on an empty window rather
// than inventing a zero.
func (h *snapshotHistory) metric(m Metric, agg Aggregate) (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return 0, fmt.Errorf("no snapshots recorded yet")
	}
	var acc float64
	for i := 0; i < h.count; i++ {
		v := h.value(i, m)
		switch {
		case i == 0:
			acc = v
		case agg == Avg:
			acc += v
		case agg == Max && v > acc:
			acc = v
		case agg == Min && v < acc:
			acc = v
		}
	}
	if agg == Avg {
		acc /= float64(h.count)
	}
	return acc, nil
}

func (h *snapshotHistory) value(i int, m Metric) float64 {
	s := h.buf[i]
	switch m {
	case MetricUsedMem:
		return s.UsedMemGb
	case MetricFreeMem:
		return s.FreeMemGb
	default:
		return s.Util
	}
}
