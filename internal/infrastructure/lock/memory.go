package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/garyjia/expense-reconciler/internal/application/port"
	"go.uber.org/zap"
)

// ErrNotHeld is returned when releasing a lease twice
var ErrNotHeld = errors.New("lock not held")

// DefaultWait bounds how long Obtain waits for a held key
const DefaultWait = 10 * time.Second

// MemoryLocker is a keyed mutex for a single process
type MemoryLocker struct {
	mu     sync.Mutex
	keys   map[string]*keyLock
	wait   time.Duration
	logger *zap.Logger
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewMemoryLocker creates an in-process locker. wait <= 0 uses DefaultWait.
func NewMemoryLocker(wait time.Duration, logger *zap.Logger) *MemoryLocker {
	if wait <= 0 {
		wait = DefaultWait
	}
	return &MemoryLocker{
		keys:   make(map[string]*keyLock),
		wait:   wait,
		logger: logger,
	}
}

// Obtain blocks until the key is free, the wait budget runs out or ctx is done
func (l *MemoryLocker) Obtain(ctx context.Context, key string) (port.Lease, error) {
	k := l.acquireRef(key)

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case k.ch <- struct{}{}:
		return &memoryLease{locker: l, key: key, lock: k}, nil
	case <-ctx.Done():
		l.releaseRef(key, k)
		return nil, ctx.Err()
	case <-timer.C:
		l.releaseRef(key, k)
		l.logger.Warn("Lock wait budget exhausted", zap.String("key", key), zap.Duration("wait", l.wait))
		return nil, fmt.Errorf("%w: %s", port.ErrLockNotObtained, key)
	}
}

func (l *MemoryLocker) acquireRef(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	k, ok := l.keys[key]
	if !ok {
		k = &keyLock{ch: make(chan struct{}, 1)}
		l.keys[key] = k
	}
	k.refs++
	return k
}

func (l *MemoryLocker) releaseRef(key string, k *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k.refs--
	if k.refs == 0 {
		delete(l.keys, key)
	}
}

// held returns the number of keys with a holder or a waiter
func (l *MemoryLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

type memoryLease struct {
	locker   *MemoryLocker
	key      string
	lock     *keyLock
	released atomic.Bool
}

func (m *memoryLease) Release(ctx context.Context) error {
	if !m.released.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s", ErrNotHeld, m.key)
	}
	<-m.lock.ch
	m.locker.releaseRef(m.key, m.lock)
	return nil
}

var _ port.Locker = (*MemoryLocker)(nil)
