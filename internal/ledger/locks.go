package ledger

import (
	"context"
	"sync"
)

// walletLocks serializes mutations per wallet inside one process. The database
// row lock remains the cross-process guard; this only keeps goroutines from
// piling onto the same row. Each key gets its own lock, so unrelated tenants
// never wait on each other.
type walletLocks struct {
	mu    sync.Mutex
	locks map[string]*walletLock
}

// walletLock is a channel mutex so waiters can give up on ctx. refs counts the
// holder and every waiter; the entry is dropped when it reaches zero.
type walletLock struct {
	token chan struct{}
	refs  int
}

func newWalletLocks() *walletLocks {
	return &walletLocks{locks: make(map[string]*walletLock)}
}

// acquire blocks until the lock for key is free or ctx is done. The returned
// func must be called exactly once.
func (l *walletLocks) acquire(ctx context.Context, key string) (func(), error) {
	lock := l.ref(key)
	select {
	case <-lock.token:
		return func() {
			lock.token <- struct{}{}
			l.unref(key, lock)
		}, nil
	case <-ctx.Done():
		l.unref(key, lock)
		return nil, ctx.Err()
	}
}

func (l *walletLocks) ref(key string) *walletLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &walletLock{token: make(chan struct{}, 1)}
		lock.token <- struct{}{}
		l.locks[key] = lock
	}
	lock.refs++
	return lock
}

func (l *walletLocks) unref(key string, lock *walletLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, key)
	}
}
