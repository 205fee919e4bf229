package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestSerialQueue_FIFO(t *testing.T) {
	q := NewSerialQueue()
	defer q.Close()

	var mu sync.Mutex
	var order []int
	var pending []<-chan error
	for i := 0; i < 20; i++ {
		pending = append(pending, q.Schedule(context.Background(), func(context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}
	for _, ch := range pending {
		if err := <-ch; err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	for i, v := range order {
		if v != i {
			t.Fatalf("jobs ran out of order: %v", order)
		}
	}
}

func TestSerialQueue_PropagatesErrors(t *testing.T) {
	q := NewSerialQueue()
	defer q.Close()
	boom := errors.New("boom")

	err := <-q.Schedule(context.Background(), func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestSerialQueue_CancelledJobDoesNotRun(t *testing.T) {
	q := NewSerialQueue()
	defer q.Close()

	release := make(chan struct{})
	blocker := q.Schedule(context.Background(), func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	ran := false
	waiting := q.Schedule(ctx, func(context.Context) error {
		ran = true
		return nil
	})
	cancel()
	close(release)

	if err := <-blocker; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := <-waiting; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if ran {
		t.Error("cancelled job must not run")
	}
}

func TestSerialQueue_Close(t *testing.T) {
	q := NewSerialQueue()

	done := q.Schedule(context.Background(), func(context.Context) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	q.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("pending job failed: %v", err)
		}
	default:
		t.Fatal("Close must wait for pending jobs")
	}

	if err := <-q.Schedule(context.Background(), func(context.Context) error { return nil }); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}

func ExampleSerialQueue() {
	q := NewSerialQueue()
	defer q.Close()

	first := q.Schedule(context.Background(), func(context.Context) error {
		fmt.Println("first")
		return nil
	})
	second := q.Schedule(context.Background(), func(context.Context) error {
		fmt.Println("second")
		return nil
	})
	<-first
	<-second
	// Output:
	// first
	// second
}
