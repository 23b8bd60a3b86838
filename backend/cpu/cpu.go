// Package cpu exposes the host backend: kernels interpret on the CPU with
// the output loop spread across cores. It is the default backend and the
// reference semantics for the code-generating ones.
package cpu

import (
	internalcpu "github.com/lamng3/gojax/internal/backend/cpu"
)

// Backend interprets kernels on the host.
type Backend = internalcpu.Backend

// New returns a CPU backend with default parallelism.
func New() *Backend {
	return internalcpu.New()
}

// NewSequential returns a single-threaded CPU backend.
func NewSequential() *Backend {
	return internalcpu.NewSequential()
}
