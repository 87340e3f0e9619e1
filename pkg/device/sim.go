package device

import (
	"fmt"
	"sync"
	"time"
)

// Sim is a deterministic in-memory Runtime. Utilization is a pure
// function of the gap between consecutive compute operations:
// opCost / (opCost + gap), so a longer sleep between operations reads
// as a lower utilization, mirroring a real device driven by the hold
// loop. Used by tests and by the daemon's --simulate mode.
type Sim struct {
	mu      sync.Mutex
	opCost  time.Duration
	devices []*simDevice
}

type simDevice struct {
	totalGb float64
	baseGb  float64
	allocGb float64
	lastOp  time.Time
	lastGap time.Duration
}

func NewSimulated(count int, totalGb, baseUsedGb float64) *Sim {
	s := &Sim{opCost: 10 * time.Millisecond}
	for i := 0; i < count; i++ {
		s.devices = append(s.devices, &simDevice{totalGb: totalGb, baseGb: baseUsedGb})
	}
	return s
}

// SetOpCost overrides the modeled duration of one compute operation.
func (s *Sim) SetOpCost(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opCost = d
}

// SetBaseUsed overrides the baseline memory usage of one device,
// simulating a foreign workload appearing or leaving.
func (s *Sim) SetBaseUsed(index int, gb float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.device(index)
	if err != nil {
		return err
	}
	d.baseGb = gb
	return nil
}

func (s *Sim) device(index int) (*simDevice, error) {
	if index < 0 || index >= len(s.devices) {
		return nil, fmt.Errorf("no such device: %d", index)
	}
	return s.devices[index], nil
}

func (s *Sim) Count() (int, error) {
	return len(s.devices), nil
}

func (s *Sim) TotalMemGb(index int) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.device(index)
	if err != nil {
		return 0, err
	}
	return d.totalGb, nil
}

func (s *Sim) UsedMemGb(index int) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.device(index)
	if err != nil {
		return 0, err
	}
	return d.baseGb + d.allocGb, nil
}

func (s *Sim) Utilization(index int) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.device(index)
	if err != nil {
		return 0, err
	}
	if d.lastOp.IsZero() {
		return 0, nil
	}
	gap := d.lastGap
	if gap < 0 {
		gap = 0
	}
	return float64(s.opCost) / float64(s.opCost+gap), nil
}

func (s *Sim) Alloc(index int, gb float64) (Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.device(index)
	if err != nil {
		return nil, err
	}
	if d.baseGb+d.allocGb+gb > d.totalGb {
		return nil, fmt.Errorf("device %d out of memory: %.2f GB requested, %.2f GB free",
			index, gb, d.totalGb-d.baseGb-d.allocGb)
	}
	d.allocGb += gb
	return &simBuffer{sim: s, index: index, gb: gb}, nil
}

func (s *Sim) ReleaseCache(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.device(index)
	if err != nil {
		return err
	}
	d.lastOp = time.Time{}
	d.lastGap = 0
	return nil
}

func (s *Sim) Close() error { return nil }

type simBuffer struct {
	sim   *Sim
	index int
	gb    float64
	freed bool
}

func (b *simBuffer) Square() error {
	b.sim.mu.Lock()
	defer b.sim.mu.Unlock()
	d, err := b.sim.device(b.index)
	if err != nil {
		return err
	}
	now := time.Now()
	if !d.lastOp.IsZero() {
		d.lastGap = now.Sub(d.lastOp)
	}
	d.lastOp = now
	return nil
}

func (b *simBuffer) Free() error {
	b.sim.mu.Lock()
	defer b.sim.mu.Unlock()
	if b.freed {
		return nil
	}
	d, err := b.sim.device(b.index)
	if err != nil {
		return err
	}
	d.allocGb -= b.gb
	b.freed = true
	return nil
}
