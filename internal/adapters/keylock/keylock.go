// Package keylock serializes work per key. The in-process Memory locker is used
// by single-node deployments; Redis extends the same contract across processes
// that share a storage backend.
package keylock

import "context"

// Locker grants exclusive ownership of a key until unlock is called.
// Lock blocks until the key is free or ctx is done. unlock is idempotent.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
