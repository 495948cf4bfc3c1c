// Package ledger records which webhook event ids have already been applied so
// that gateway redeliveries are acknowledged without touching the order again.
package ledger

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL bounds how long an applied event id is remembered. Gateways stop
// redelivering well before this.
const DefaultTTL = 72 * time.Hour

// Ledger is a set of applied webhook event ids.
type Ledger interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

// MemoryLedger is an in-process Ledger. Entries are lost on restart.
type MemoryLedger struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryLedger creates a MemoryLedger; ttl <= 0 uses DefaultTTL.
func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryLedger{
		ttl:     ttl,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (l *MemoryLedger) Seen(_ context.Context, eventID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	expires, ok := l.entries[eventID]
	if !ok {
		return false, nil
	}
	if l.now().After(expires) {
		delete(l.entries, eventID)
		return false, nil
	}
	return true, nil
}

func (l *MemoryLedger) Mark(_ context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[eventID] = l.now().Add(l.ttl)
	return nil
}
