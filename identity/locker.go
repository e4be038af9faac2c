package identity

import (
	"context"
	"sync"
)

// Locker serialises writers per key. The identity index uses the topic map
// ID as key.
type Locker interface {
	// Lock blocks until the lock for key is held or ctx is done. The
	// returned function releases the lock.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// LocalLocker is a Locker for writers within one process.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocalLocker creates a LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{})}
}

// Lock implements Locker.
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[key] = slot
	}
	l.mu.Unlock()

	select {
	case slot <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-slot }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
