package sync

import (
	gosync "sync"

	"github.com/kdwycz/certimate-webhook/internal/domain"
)

// DomainLocks serializes sync attempts per domain. TryAcquire never
// blocks; a busy domain is reported immediately so the webhook caller
// can retry on its own schedule.
type DomainLocks struct {
	mu     gosync.Mutex
	locked map[string]struct{}
}

// NewDomainLocks returns an empty lock table.
func NewDomainLocks() *DomainLocks {
	return &DomainLocks{locked: make(map[string]struct{})}
}

// LockToken proves ownership of one domain lock. Release is safe to
// call more than once; only the first call unlocks.
type LockToken struct {
	locks  *DomainLocks
	domain string
	once   gosync.Once
}

// TryAcquire claims the lock for a domain. The second return value is
// false when a sync for that domain is already in flight.
func (l *DomainLocks) TryAcquire(dom string) (*LockToken, bool) {
	key := domain.NormalizeDomain(dom)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.locked[key]; busy {
		return nil, false
	}
	l.locked[key] = struct{}{}
	return &LockToken{locks: l, domain: key}, true
}

// Release returns the domain lock. Exactly one release takes effect no
// matter how many exit paths call it.
func (t *LockToken) Release() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		t.locks.mu.Lock()
		delete(t.locks.locked, t.domain)
		t.locks.mu.Unlock()
	})
}
