// Package webgpu exposes the GPU backend: tuned kernels compile to WGSL
// compute shaders and dispatch through WebGPU. Works wherever a WebGPU
// adapter is present (Vulkan, Metal, D3D12).
package webgpu

import (
	internalwebgpu "github.com/lamng3/gojax/internal/backend/webgpu"
)

// Backend compiles and dispatches kernels on a WebGPU device.
type Backend = internalwebgpu.Backend

// New initializes the WebGPU device and returns a backend ready for
// dispatch. Call Close when done to release the device. Returns an error
// when no compatible adapter is present.
func New() (*Backend, error) {
	return internalwebgpu.New()
}
