package httputil

import "context"

// Semaphore caps concurrent operations. The analyzer holds one slot per
// in-flight LLM escalation call so a burst of ambiguous inputs cannot
// stampede the provider.
type Semaphore struct {
	sem chan struct{}
}

// NewSemaphore creates a semaphore with the given capacity. Non-positive
// capacities get a generous default rather than deadlocking every caller.
func NewSemaphore(capacity int) *Semaphore {
	if capacity <= 0 {
		capacity = 100
	}
	return &Semaphore{sem: make(chan struct{}, capacity)}
}

// Acquire blocks until a slot is free or ctx ends, returning ctx.Err()
// in the latter case.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot. Releasing more than was acquired is a no-op.
func (s *Semaphore) Release() {
	select {
	case <-s.sem:
	default:
	}
}
