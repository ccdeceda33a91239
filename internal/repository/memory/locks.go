package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"corebank/internal/repository"
)

// rowLocks hands out one exclusive, non-reentrant slot per row key. A slot
// lives while someone holds or waits for it.
type rowLocks struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int // holder plus waiters
}

func newRowLocks() *rowLocks {
	return &rowLocks{slots: make(map[string]*slot)}
}

func (l *rowLocks) ref(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

// unref must be called with l.mu held.
func (l *rowLocks) unref(key string, s *slot) {
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *rowLocks) acquire(ctx context.Context, key string, timeout time.Duration) error {
	s := l.ref(key)

	select {
	case s.ch <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var err error
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-timer.C:
		err = fmt.Errorf("%w: %s", repository.ErrLockTimeout, key)
	case <-ctx.Done():
		err = ctx.Err()
	}
	l.mu.Lock()
	l.unref(key, s)
	l.mu.Unlock()
	return err
}

func (l *rowLocks) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.slots[key]
	<-s.ch
	l.unref(key, s)
}

func (l *rowLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
