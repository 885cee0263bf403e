package agent

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Admission bounds the number of concurrently running turns. Waiters are
// served in arrival order.
type Admission struct {
	sem *semaphore.Weighted
	max int
}

// NewAdmission creates a controller with the given concurrency cap.
func NewAdmission(maxConcurrency int) *Admission {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Admission{sem: semaphore.NewWeighted(int64(maxConcurrency)), max: maxConcurrency}
}

// Max returns the configured cap.
func (a *Admission) Max() int { return a.max }

// Acquire blocks until a slot frees or ctx ends. The release func must
// be called exactly once.
func (a *Admission) Acquire(ctx context.Context) (func(), error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { a.sem.Release(1) }, nil
}
