package eviction_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ricardo-duarte-av/andromuks-sub007/internal/eviction"
)

type fakeSweeper struct {
	mu       sync.Mutex
	enforced int
	cleaned  []time.Duration
	flushed  int
}

func (f *fakeSweeper) Enforce() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enforced++
}

func (f *fakeSweeper) CleanupOlderThan(maxAge time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleaned = append(f.cleaned, maxAge)
	return 1
}

func (f *fakeSweeper) Flush(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushed++
	return nil
}

func (f *fakeSweeper) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enforced, len(f.cleaned), f.flushed
}

func TestManager_RunOnce(t *testing.T) {
	sw := &fakeSweeper{}
	mgr := eviction.NewManager(sw, time.Minute, time.Hour)

	mgr.RunOnce(context.Background())

	enforced, cleaned, flushed := sw.counts()
	if enforced != 1 || cleaned != 1 || flushed != 1 {
		t.Errorf("expected one of each, got enforce=%d cleanup=%d flush=%d", enforced, cleaned, flushed)
	}
	if sw.cleaned[0] != time.Hour {
		t.Errorf("expected max age 1h, got %v", sw.cleaned[0])
	}
}

func TestManager_NoMaxAge(t *testing.T) {
	sw := &fakeSweeper{}
	mgr := eviction.NewManager(sw, time.Minute, 0)

	mgr.RunOnce(context.Background())

	if _, cleaned, _ := sw.counts(); cleaned != 0 {
		t.Errorf("cleanup should be disabled, ran %d times", cleaned)
	}
}

func TestManager_Start(t *testing.T) {
	sw := &fakeSweeper{}
	mgr := eviction.NewManager(sw, 5*time.Millisecond, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mgr.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if enforced, _, _ := sw.counts(); enforced >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("maintenance loop did not run")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	<-done

	enforced, _, flushed := sw.counts()
	if flushed != enforced+1 {
		t.Errorf("expected a final flush on shutdown, got %d flushes for %d passes", flushed, enforced)
	}
}
