package device

import (
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	log "github.com/sirupsen/logrus"
)

// NvmlRuntime implements Runtime on top of NVML for telemetry; memory
// allocation and compute go through the CUDA runtime (see cuda.go,
// built with -tags cuda).
type NvmlRuntime struct{}

func NewNvmlRuntime() (*NvmlRuntime, error) {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return nil, fmt.Errorf("nvml init failed: %s", nvml.ErrorString(ret))
	}
	return &NvmlRuntime{}, nil
}

func nvmlError(op string, ret nvml.Return) error {
	if ret == nvml.SUCCESS {
		return nil
	}
	return fmt.Errorf("nvml %s failed: %s", op, nvml.ErrorString(ret))
}

func (r *NvmlRuntime) Count() (int, error) {
	count, ret := nvml.DeviceGetCount()
	return count, nvmlError("device count", ret)
}

func (r *NvmlRuntime) memInfo(index int) (nvml.Memory, error) {
	dev, ret := nvml.DeviceGetHandleByIndex(index)
	if ret != nvml.SUCCESS {
		return nvml.Memory{}, nvmlError("device handle", ret)
	}
	mem, ret := dev.GetMemoryInfo()
	return mem, nvmlError("memory info", ret)
}

func (r *NvmlRuntime) TotalMemGb(index int) (float64, error) {
	mem, err := r.memInfo(index)
	return float64(mem.Total) / GiB, err
}

func (r *NvmlRuntime) UsedMemGb(index int) (float64, error) {
	mem, err := r.memInfo(index)
	return float64(mem.Used) / GiB, err
}

func (r *NvmlRuntime) Utilization(index int) (float64, error) {
	dev, ret := nvml.DeviceGetHandleByIndex(index)
	if ret != nvml.SUCCESS {
		return 0, nvmlError("device handle", ret)
	}
	util, ret := dev.GetUtilizationRates()
	return float64(util.Gpu) / 100, nvmlError("utilization rates", ret)
}

func (r *NvmlRuntime) Alloc(index int, gb float64) (Buffer, error) {
	return cudaAlloc(index, gb)
}

func (r *NvmlRuntime) ReleaseCache(index int) error {
	return cudaReleaseCache(index)
}

func (r *NvmlRuntime) Close() error {
	if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
		log.Warnf("nvml shutdown failed: %s", nvml.ErrorString(ret))
	}
	return nil
}
