package state

import (
	"context"
	"errors"
	"sync"
)

// ErrLockTimeout is returned when a lock cannot be acquired before the
// context is done.
var ErrLockTimeout = errors.New("lock not acquired")

// Locker hands out exclusive locks by key. The returned unlock function must
// be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// LocalLocker serializes holders of the same key inside one process
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates an empty in-process locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is free or ctx is done
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl)
		return nil, errors.Join(ErrLockTimeout, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.release(key, kl)
		})
	}, nil
}

// release drops one reference and forgets the key when nobody holds or
// waits for it.
func (l *LocalLocker) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// Len reports how many keys are currently held or awaited
func (l *LocalLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
