// Package throttle bounds concurrent media decoding and staggers the start
// of admitted loads so bursts do not all begin at once.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	// MaxConcurrentLoads is the default number of simultaneous loads.
	MaxConcurrentLoads = 5
	// BaseDelay is the default stagger step between admitted loads.
	BaseDelay = 20 * time.Millisecond
)

// ErrWaitTimeout is returned when a slot did not free up within Config.MaxWait.
var ErrWaitTimeout = errors.New("timed out waiting for a load slot")

// Metrics receives throttle events. A nil Metrics disables reporting.
type Metrics interface {
	ObserveWait(d time.Duration)
	RecordActive(n int)
}

// Config configures a Throttle. Zero values select the defaults.
type Config struct {
	MaxConcurrent int
	BaseDelay     time.Duration
	// MaxWait bounds how long RequestLoad may wait for a slot. Zero waits
	// until the context is done.
	MaxWait time.Duration
	Metrics Metrics
}

// Throttle is an admission gate for media loads.
//
// Waiters are admitted in FIFO order. Each admission also returns a delay
// that cycles through 0, BaseDelay, ... (MaxConcurrent-1)*BaseDelay; the
// caller should wait that long before starting work.
type Throttle struct {
	sem     *semaphore.Weighted
	max     int
	base    time.Duration
	maxWait time.Duration
	metrics Metrics

	mu      sync.Mutex
	active  int
	counter uint64
}

func New(cfg Config) *Throttle {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = MaxConcurrentLoads
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = 0
	} else if cfg.BaseDelay == 0 {
		cfg.BaseDelay = BaseDelay
	}
	return &Throttle{
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		max:     cfg.MaxConcurrent,
		base:    cfg.BaseDelay,
		maxWait: cfg.MaxWait,
		metrics: cfg.Metrics,
	}
}

// RequestLoad blocks until a slot is free and returns the stagger delay.
// Every successful call must be paired with ReleaseLoad.
func (t *Throttle) RequestLoad(ctx context.Context) (time.Duration, error) {
	start := time.Now()

	waitCtx := ctx
	if t.maxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, t.maxWait)
		defer cancel()
	}

	if err := t.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return 0, fmt.Errorf("%w after %s", ErrWaitTimeout, t.maxWait)
		}
		return 0, err
	}

	t.mu.Lock()
	t.active++
	delay := time.Duration(t.counter%uint64(t.max)) * t.base
	t.counter++
	active := t.active
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.ObserveWait(time.Since(start))
		t.metrics.RecordActive(active)
	}
	return delay, nil
}

// ReleaseLoad frees a slot. Releases without a matching RequestLoad are ignored.
func (t *Throttle) ReleaseLoad() {
	t.mu.Lock()
	if t.active == 0 {
		t.mu.Unlock()
		slog.Debug("Ignoring load release without an active load")
		return
	}
	t.active--
	active := t.active
	t.mu.Unlock()

	t.sem.Release(1)
	if t.metrics != nil {
		t.metrics.RecordActive(active)
	}
}

// Active returns the number of admitted loads that have not been released.
func (t *Throttle) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Do runs fn inside a slot: it waits for admission, sleeps the stagger
// delay and always releases the slot, even when ctx is cancelled or fn fails.
func (t *Throttle) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	delay, err := t.RequestLoad(ctx)
	if err != nil {
		return err
	}
	defer t.ReleaseLoad()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fn(ctx)
}
