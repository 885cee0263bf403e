package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmissionCapsConcurrency(t *testing.T) {
	const limit = 3
	a := NewAdmission(limit)

	var (
		running atomic.Int32
		peak    atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < limit+1; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := a.Acquire(context.Background())
			require.NoError(t, err)
			defer release()

			now := running.Add(1)
			for {
				old := peak.Load()
				if now <= old || peak.CompareAndSwap(old, now) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			running.Add(-1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(limit))
	assert.GreaterOrEqual(t, peak.Load(), int32(limit-1))
}

func TestAdmissionQueuedReleasedInArrivalOrder(t *testing.T) {
	a := NewAdmission(1)

	first, err := a.Acquire(context.Background())
	require.NoError(t, err)

	order := make(chan int, 2)
	started := make(chan struct{})
	go func() {
		close(started)
		release, err := a.Acquire(context.Background())
		if err != nil {
			return
		}
		order <- 1
		release()
	}()
	<-started
	time.Sleep(50 * time.Millisecond)

	go func() {
		release, err := a.Acquire(context.Background())
		if err != nil {
			return
		}
		order <- 2
		release()
	}()
	time.Sleep(50 * time.Millisecond)

	first()
	assert.Equal(t, 1, <-order)
	assert.Equal(t, 2, <-order)
}

func TestAdmissionAcquireCancelled(t *testing.T) {
	a := NewAdmission(1)
	release, err := a.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = a.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAdmissionClampsCap(t *testing.T) {
	a := NewAdmission(0)
	assert.Equal(t, 1, a.Max())
}
