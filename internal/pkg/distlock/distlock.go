// Package distlock provides a Redis-backed distributed lock. The poll
// scheduler takes one per cycle so two replicas never fetch the same
// mailbox window concurrently.
package distlock

import "context"

// DistLock is the interface for distributed locking.
// Implementations must be safe for use from a single goroutine;
// concurrent use across goroutines requires separate lock instances.
type DistLock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// Nop always grants the lock. Used in single-replica deployments without
// Redis.
type Nop struct{}

func (Nop) Acquire(context.Context) (bool, error) { return true, nil }
func (Nop) Release(context.Context) error         { return nil }
