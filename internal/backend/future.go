package backend

import "context"

// Future resolves to an optional byte payload. Execute futures resolve
// with nil data; Read futures carry the copied bytes.
type Future struct {
	done chan struct{}
	data []byte
	err  error
}

// NewFuture returns an unresolved future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved returns a future already carrying its result.
func Resolved(data []byte, err error) *Future {
	f := NewFuture()
	f.Complete(data, err)
	return f
}

// Complete resolves the future. It must be called exactly once.
func (f *Future) Complete(data []byte, err error) {
	f.data = data
	f.err = err
	close(f.done)
}

// Wait blocks until the future resolves or ctx is cancelled. On
// cancellation the result is the context error; an in-flight kernel then
// drops without partial writes visible to later steps.
func (f *Future) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-f.done:
		return f.data, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
