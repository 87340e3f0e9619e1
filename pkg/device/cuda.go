//go:build cuda
// +build cuda

package device

/*
#cgo LDFLAGS: -lcudart
#include <cuda_runtime_api.h>
*/
import "C"

import (
	"fmt"
	"unsafe"
)

func cudaError(op string, rc C.cudaError_t) error {
	if rc == C.cudaSuccess {
		return nil
	}
	return fmt.Errorf("cuda %s failed: %s", op, C.GoString(C.cudaGetErrorString(rc)))
}

type cudaBuffer struct {
	index int
	ptr   unsafe.Pointer
	size  C.size_t
}

func cudaAlloc(index int, gb float64) (Buffer, error) {
	if rc := C.cudaSetDevice(C.int(index)); rc != C.cudaSuccess {
		return nil, cudaError("set device", rc)
	}
	b := &cudaBuffer{index: index, size: C.size_t(gb * GiB)}
	if rc := C.cudaMalloc(&b.ptr, b.size); rc != C.cudaSuccess {
		return nil, cudaError("malloc", rc)
	}
	return b, nil
}

// Square sweeps the whole buffer and synchronizes, which is enough to
// register as device activity in the utilization counters.
func (b *cudaBuffer) Square() error {
	if rc := C.cudaSetDevice(C.int(b.index)); rc != C.cudaSuccess {
		return cudaError("set device", rc)
	}
	if rc := C.cudaMemset(b.ptr, 1, b.size); rc != C.cudaSuccess {
		return cudaError("memset", rc)
	}
	return cudaError("synchronize", C.cudaDeviceSynchronize())
}

func (b *cudaBuffer) Free() error {
	if b.ptr == nil {
		return nil
	}
	if rc := C.cudaSetDevice(C.int(b.index)); rc != C.cudaSuccess {
		return cudaError("set device", rc)
	}
	rc := C.cudaFree(b.ptr)
	b.ptr = nil
	return cudaError("free", rc)
}

// cudaReleaseCache synchronizes the device after frees. The raw CUDA
// runtime has no caching allocator, so there is nothing further to
// drop; peak counters are per-process and die with the controller's
// allocations.
func cudaReleaseCache(index int) error {
	if rc := C.cudaSetDevice(C.int(index)); rc != C.cudaSuccess {
		return cudaError("set device", rc)
	}
	return cudaError("synchronize", C.cudaDeviceSynchronize())
}
