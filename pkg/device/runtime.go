package device

// GiB is one gibibyte in bytes.
const GiB = 1024 * 1024 * 1024

// Buffer is a device memory allocation. Holder buffers are only ever
// freed; operator buffers are repeatedly operated on to generate load.
type Buffer interface {
	// Square performs an elementwise pass over the buffer, purely to
	// keep the device busy.
	Square() error
	Free() error
}

// Runtime is the GPU driver surface the controllers consume: telemetry
// plus synchronous allocation and a trivial compute operation.
// Implementations: NVML-backed (production), simulated (tests and
// --simulate).
type Runtime interface {
	Count() (int, error)
	TotalMemGb(index int) (float64, error)
	UsedMemGb(index int) (float64, error)
	Utilization(index int) (float64, error) // 0..1
	Alloc(index int, gb float64) (Buffer, error)
	// ReleaseCache drops any freed-but-cached device memory and resets
	// peak usage counters, so a stopped controller leaves no trace.
	ReleaseCache(index int) error
	Close() error
}

// FreeMemGb derives free memory from total and used.
func FreeMemGb(r Runtime, index int) (float64, error) {
	total, err := r.TotalMemGb(index)
	if err != nil {
		return 0, err
	}
	used, err := r.UsedMemGb(index)
	if err != nil {
		return 0, err
	}
	return total - used, nil
}
