// Package lock keeps a single settlement attempt in flight per pool.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrLocked is returned when another attempt already holds the pool.
var ErrLocked = errors.New("lock: pool is locked")

// Release gives a held lock back. It is safe to call more than once.
type Release func(ctx context.Context) error

// Locker hands out per-pool exclusive locks.
type Locker interface {
	Acquire(ctx context.Context, poolID string) (Release, error)
}

// LocalLocker serializes attempts inside one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) Acquire(ctx context.Context, poolID string) (Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[poolID]; ok {
		return nil, ErrLocked
	}
	l.held[poolID] = struct{}{}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, poolID)
			l.mu.Unlock()
		})
		return nil
	}, nil
}
