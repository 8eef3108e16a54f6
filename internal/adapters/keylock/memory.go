package keylock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/psyche/pkg/metrics"
)

// Memory is an in-process Locker built on one-slot channels. Entries are
// reference counted and removed once no goroutine holds or waits for them.
type Memory struct {
	mu    sync.Mutex
	locks map[string]*memEntry
}

type memEntry struct {
	slot chan struct{}
	refs int
}

var _ Locker = (*Memory)(nil)

// NewMemory returns an empty in-process locker.
func NewMemory() *Memory {
	return &Memory{locks: make(map[string]*memEntry)}
}

// Lock waits for key.
func (m *Memory) Lock(ctx context.Context, key string) (func(), error) {
	start := time.Now()
	e := m.acquireRef(key)

	select {
	case e.slot <- struct{}{}:
	case <-ctx.Done():
		m.releaseRef(key, e)
		return nil, fmt.Errorf("%w: %s: %w", ErrLockTimeout, key, ctx.Err())
	}
	metrics.RecordLockWait("memory", float64(time.Since(start).Microseconds())/1000)

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.slot
			m.releaseRef(key, e)
		})
	}, nil
}

// Len returns the number of keys currently held or awaited.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func (m *Memory) acquireRef(key string) *memEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.locks[key]
	if !ok {
		e = &memEntry{slot: make(chan struct{}, 1)}
		m.locks[key] = e
	}
	e.refs++
	return e
}

func (m *Memory) releaseRef(key string, e *memEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
}
