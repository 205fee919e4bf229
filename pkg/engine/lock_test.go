package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLocalLocker_MutualExclusion(t *testing.T) {
	l := NewLocalLocker()
	var holders, maxHolders atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "customer/a@b.c")
			if err != nil {
				t.Errorf("lock failed: %v", err)
				return
			}
			n := holders.Add(1)
			if n > maxHolders.Load() {
				maxHolders.Store(n)
			}
			time.Sleep(time.Millisecond)
			holders.Add(-1)
			_ = unlock(context.Background())
		}()
	}
	wg.Wait()

	if maxHolders.Load() != 1 {
		t.Errorf("expected one holder at a time, saw %d", maxHolders.Load())
	}
	if l.Held() != 0 {
		t.Errorf("expected all slots released, %d left", l.Held())
	}
}

func TestLocalLocker_DistinctKeysDoNotBlock(t *testing.T) {
	l := NewLocalLocker()
	unlockA, err := l.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("lock a failed: %v", err)
	}
	defer func() { _ = unlockA(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	unlockB, err := l.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("lock b must not wait for a: %v", err)
	}
	_ = unlockB(context.Background())
}

func TestLocalLocker_ContextCancel(t *testing.T) {
	l := NewLocalLocker()
	unlock, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "k"); !IsTransient(err) {
		t.Fatalf("expected transient lock error, got %v", err)
	}

	_ = unlock(context.Background())
	_ = unlock(context.Background())
	if l.Held() != 0 {
		t.Errorf("expected slot to be released, %d left", l.Held())
	}
}

func TestNopLocker(t *testing.T) {
	unlock, err := NopLocker{}.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := unlock(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
