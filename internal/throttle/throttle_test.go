package throttle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestLoad_StaggeredDelays(t *testing.T) {
	th := New(Config{})
	ctx := context.Background()

	want := []time.Duration{0, 20, 40, 60, 80, 0, 20}
	for i, w := range want {
		delay, err := th.RequestLoad(ctx)
		require.NoError(t, err)
		assert.Equal(t, w*time.Millisecond, delay, "admission %d", i)
		th.ReleaseLoad()
	}
}

func TestRequestLoad_DelayUnderCapacity(t *testing.T) {
	th := New(Config{})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := th.RequestLoad(ctx)
		require.NoError(t, err)
	}
	require.Equal(t, 4, th.Active())

	delay, err := th.RequestLoad(ctx)
	require.NoError(t, err)
	assert.Equal(t, 80*time.Millisecond, delay)
	assert.Equal(t, 5, th.Active())
}

func TestDo_BoundsConcurrency(t *testing.T) {
	th := New(Config{BaseDelay: time.Millisecond})

	var current, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := th.Do(context.Background(), func(context.Context) error {
				n := current.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				current.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(MaxConcurrentLoads))
	assert.Equal(t, 0, th.Active())
}

func TestReleaseLoad_NoUnderflow(t *testing.T) {
	th := New(Config{MaxConcurrent: 2, MaxWait: 20 * time.Millisecond})
	ctx := context.Background()

	_, err := th.RequestLoad(ctx)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		th.ReleaseLoad()
	}
	assert.Equal(t, 0, th.Active())

	// Extra releases must not have widened the gate.
	for i := 0; i < 2; i++ {
		_, err := th.RequestLoad(ctx)
		require.NoError(t, err)
	}
	_, err = th.RequestLoad(ctx)
	assert.ErrorIs(t, err, ErrWaitTimeout)
}

func TestRequestLoad_Cancelled(t *testing.T) {
	th := New(Config{MaxConcurrent: 1})
	_, err := th.RequestLoad(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = th.RequestLoad(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrWaitTimeout)
	assert.Equal(t, 1, th.Active())

	th.ReleaseLoad()
	_, err = th.RequestLoad(context.Background())
	assert.NoError(t, err)
}

func TestDo_ReleasesOnFailure(t *testing.T) {
	th := New(Config{MaxConcurrent: 2, BaseDelay: time.Hour})
	boom := errors.New("decode failed")

	// First admission has no delay.
	err := th.Do(context.Background(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, th.Active())

	// Second admission waits an hour; cancellation must still free the slot.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = th.Do(ctx, func(context.Context) error {
		t.Error("fn should not run after cancellation")
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, th.Active())
}

func TestRequestLoad_FIFO(t *testing.T) {
	th := New(Config{MaxConcurrent: 1, BaseDelay: time.Millisecond})
	_, err := th.RequestLoad(context.Background())
	require.NoError(t, err)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := th.RequestLoad(context.Background())
			assert.NoError(t, err)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			th.ReleaseLoad()
		}(i)
		// Let each waiter queue before the next one.
		time.Sleep(5 * time.Millisecond)
	}
	th.ReleaseLoad()
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}
