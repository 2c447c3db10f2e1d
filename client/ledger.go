// Package client is the browser-side half of the ordering engine: a local
// ordered store, the optimistic update ledger that protects in-flight drags
// from stale polls, the executor that dispatches moves and the polling loop.
package client

import (
	"sync"
	"time"

	"github.com/AINF-EPAMIG/gestao-sub001/domain"
)

// DefaultFreshness is how long a local move outranks server data.
const DefaultFreshness = 10 * time.Second

// Record is the optimistic placement of one item, as dropped locally.
type Record struct {
	Key       domain.ItemKey
	Bucket    domain.Bucket
	Position  int
	Timestamp time.Time
	Sequence  uint64
}

// Ledger remembers recent local moves per item. Entries expire after the
// freshness window whether or not the server confirmed them.
type Ledger struct {
	mu      sync.Mutex
	window  time.Duration
	now     func() time.Time
	records map[domain.ItemKey]Record
}

// NewLedger returns an empty ledger. A non-positive window selects
// DefaultFreshness and a nil clock selects time.Now.
func NewLedger(window time.Duration, now func() time.Time) *Ledger {
	if window <= 0 {
		window = DefaultFreshness
	}
	if now == nil {
		now = time.Now
	}
	return &Ledger{window: window, now: now, records: make(map[domain.ItemKey]Record)}
}

// Record stores r unless a record with a higher sequence is already held for
// the same key. A zero timestamp is stamped with the ledger clock.
func (l *Ledger) Record(r Record) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.records[r.Key]; ok && cur.Sequence > r.Sequence {
		return false
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = l.now()
	}
	l.records[r.Key] = r
	return true
}

// Lookup returns the record for key while it is fresh.
func (l *Ledger) Lookup(key domain.ItemKey) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[key]
	if !ok {
		return Record{}, false
	}
	if l.now().Sub(r.Timestamp) >= l.window {
		delete(l.records, key)
		return Record{}, false
	}
	return r, true
}

// Forget drops the record for key if it still carries seq.
func (l *Ledger) Forget(key domain.ItemKey, seq uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[key]
	if !ok || r.Sequence != seq {
		return false
	}
	delete(l.records, key)
	return true
}

// Len counts held records, expired or not.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
