package reminder

import (
	"context"
	"sync"
	"time"
)

// MemoryDeduper is an in-process Deduper. It is best-effort: state is
// lost on restart, so a restarted scanner may re-emit a reminder that the
// persisted ledger (storage/postgres) would have suppressed. The scanner
// stacks both: this ledger cuts store round-trips on the 30-second poll,
// the persisted one is authoritative.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryDeduper creates an empty in-memory ledger.
func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]time.Time)}
}

// Claim marks the key as emitted, returning true only on first sight.
func (d *MemoryDeduper) Claim(ctx context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[key]; ok {
		return false, nil
	}
	d.seen[key] = time.Now()
	return true, nil
}

// Prune drops entries older than the retention period. Keys embed the
// calendar day, so yesterday's entries can never match again and only
// waste memory.
func (d *MemoryDeduper) Prune(olderThan time.Duration) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for key, at := range d.seen {
		if at.Before(cutoff) {
			delete(d.seen, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (d *MemoryDeduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
