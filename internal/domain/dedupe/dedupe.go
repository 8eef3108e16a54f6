// Package dedupe tracks recently ingested events so replays are refused before
// a profile is loaded. It is a process-local fast path; the durable check is the
// profile's own recent-event window.
package dedupe

import (
	"container/list"
	"context"
	"strings"
	"sync"
)

// DefaultMaxSize bounds the number of remembered keys.
const DefaultMaxSize = 50000

// Deduper records seen event keys to ensure at-most-once processing.
type Deduper interface {
	// SeenAndRecord reports whether key was already recorded and records it if not.
	SeenAndRecord(ctx context.Context, key string) bool
	// Unrecord forgets key so the event can be retried after a failed save.
	Unrecord(ctx context.Context, key string)
	// Forget drops every key with the given prefix, e.g. when a profile is deleted.
	Forget(ctx context.Context, prefix string) int
	Size() int64
}

// Key scopes an event id to its user.
func Key(userID, eventID string) string {
	return userID + "/" + eventID
}

// fifoDeduper evicts the oldest key once maxSize is reached.
type fifoDeduper struct {
	mu      sync.Mutex
	maxSize int
	order   *list.List
	index   map[string]*list.Element
}

// New returns an in-memory Deduper. A max size <= 0 disables eviction.
func New(opts ...Option) Deduper {
	d := &fifoDeduper{
		maxSize: DefaultMaxSize,
		order:   list.New(),
		index:   make(map[string]*list.Element),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *fifoDeduper) SeenAndRecord(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.index[key]; ok {
		return true
	}
	if d.maxSize > 0 && d.order.Len() >= d.maxSize {
		oldest := d.order.Front()
		d.order.Remove(oldest)
		delete(d.index, oldest.Value.(string))
	}
	d.index[key] = d.order.PushBack(key)
	return false
}

func (d *fifoDeduper) Unrecord(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.index[key]; ok {
		d.order.Remove(el)
		delete(d.index, key)
	}
}

func (d *fifoDeduper) Forget(_ context.Context, prefix string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for el := d.order.Front(); el != nil; {
		next := el.Next()
		if key := el.Value.(string); strings.HasPrefix(key, prefix) {
			d.order.Remove(el)
			delete(d.index, key)
			n++
		}
		el = next
	}
	return n
}

func (d *fifoDeduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(d.order.Len())
}
