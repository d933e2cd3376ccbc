// Package lease provides named, time-bounded mutual exclusion so that a job
// runs on at most one instance at a time.
package lease

import (
	"context"
	"errors"
	"time"
)

// ErrNotHeld is returned by Release when the lease lapsed and was taken by
// another holder before it was released.
var ErrNotHeld = errors.New("lease no longer held")

// Locker grants named leases.
type Locker interface {
	// Acquire tries to take the lease called name. It returns ok=false
	// without error when another holder has it. The lease lapses on its own
	// after maxHold. Once released it stays taken until at least minHold has
	// passed since acquisition, so that a fast run on one instance is not
	// repeated by another instance whose clock is slightly behind.
	Acquire(ctx context.Context, name string, maxHold, minHold time.Duration) (Lease, bool, error)
}

// Lease is a held lease.
type Lease interface {
	Release(ctx context.Context) error
}

// remainingHold is how much longer a lease must stay taken after release.
func remainingHold(acquired, now time.Time, minHold time.Duration) time.Duration {
	left := minHold - now.Sub(acquired)
	if left < 0 {
		return 0
	}
	return left
}
