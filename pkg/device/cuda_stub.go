//go:build !cuda
// +build !cuda

package device

import "errors"

// ErrCudaUnavailable is returned by allocation paths when the binary
// was built without the cuda tag. Telemetry still works through NVML.
var ErrCudaUnavailable = errors.New("built without cuda support, rebuild with -tags cuda")

func cudaAlloc(index int, gb float64) (Buffer, error) {
	return nil, ErrCudaUnavailable
}

func cudaReleaseCache(index int) error {
	return nil
}
