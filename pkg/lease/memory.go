package lease

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// MemoryLocker implements Locker within one process.
type MemoryLocker struct {
	clock clockwork.Clock

	mu     sync.Mutex
	held   map[string]time.Time // name to expiry
	owners map[string]*memoryLease
}

var _ Locker = (*MemoryLocker)(nil)

// NewMemoryLocker returns an in-process Locker.
func NewMemoryLocker(clock clockwork.Clock) *MemoryLocker {
	return &MemoryLocker{
		clock:  clock,
		held:   make(map[string]time.Time),
		owners: make(map[string]*memoryLease),
	}
}

// Acquire implements Locker.
func (m *MemoryLocker) Acquire(ctx context.Context, name string, maxHold, minHold time.Duration) (Lease, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if exp, ok := m.held[name]; ok && now.Before(exp) {
		return nil, false, nil
	}
	l := &memoryLease{locker: m, name: name, acquired: now, minHold: minHold}
	m.held[name] = now.Add(maxHold)
	m.owners[name] = l
	return l, true, nil
}

type memoryLease struct {
	locker   *MemoryLocker
	name     string
	acquired time.Time
	minHold  time.Duration
}

func (l *memoryLease) Release(ctx context.Context) error {
	m := l.locker
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.owners[l.name] != l {
		return ErrNotHeld
	}
	now := m.clock.Now()
	if keep := remainingHold(l.acquired, now, l.minHold); keep > 0 {
		m.held[l.name] = now.Add(keep)
	} else {
		delete(m.held, l.name)
	}
	delete(m.owners, l.name)
	return nil
}
