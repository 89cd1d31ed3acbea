package availability

import (
	"context"
	"fmt"
	"sync"
)

// Locker hands out a mutual-exclusion scope per key.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// MutexLocker serializes callers per key inside one process.
type MutexLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

func NewMutexLocker() *MutexLocker {
	//nolint:exhaustruct
	return &MutexLocker{locks: make(map[string]*keyLock)}
}

func (m *MutexLocker) acquireRef(key string) *keyLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	kl, ok := m.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[key] = kl
	}

	kl.refs++

	return kl
}

func (m *MutexLocker) releaseRef(key string, kl *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kl.refs--
	if kl.refs == 0 {
		delete(m.locks, key)
	}
}

func (m *MutexLocker) Lock(ctx context.Context, key string) (func(), error) {
	kl := m.acquireRef(key)

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		m.releaseRef(key, kl)

		return nil, fmt.Errorf("lock %s: %w: %w", key, ErrLockTimeout, ctx.Err())
	}

	var once sync.Once

	return func() {
		once.Do(func() {
			<-kl.ch
			m.releaseRef(key, kl)
		})
	}, nil
}
