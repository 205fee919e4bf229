package engine

import (
	"context"
	"sync"
)

// NopLocker never blocks. Two concurrent creates of the same unique key
// with different payloads derive different idempotency keys and may both
// succeed; callers that need a barrier configure a real KeyLocker.
type NopLocker struct{}

// Lock implements KeyLocker.
func (NopLocker) Lock(context.Context, string) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

// LocalLocker serializes callers sharing a key within one process.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates an in-process KeyLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*lockSlot)}
}

// Lock implements KeyLocker.
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(context.Context) error, error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, slot, false)
		return nil, NewTransientError("lock wait cancelled", ctx.Err()).
			WithCode(ErrCodeLockFailed).WithResource(key)
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() { l.release(key, slot, true) })
		return nil
	}, nil
}

func (l *LocalLocker) release(key string, slot *lockSlot, held bool) {
	if held {
		<-slot.ch
	}
	l.mu.Lock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
	l.mu.Unlock()
}

// Held returns the number of keys currently tracked.
func (l *LocalLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
