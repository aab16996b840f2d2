// ABOUTME: Thread-safe, fixed-capacity LRU store of deduplicated error entries
// ABOUTME: Keyed by canonical signature; owns the observed/dropped stats

package dedupe

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/2389/errorlog/internal/sanitize"
	"github.com/2389/errorlog/internal/stats"
)

const (
	MinCapacity = 1
	MaxCapacity = 10_000
)

// ErrInvalidCapacity is returned for capacities outside [MinCapacity, MaxCapacity].
var ErrInvalidCapacity = errors.New("invalid capacity")

// Entry is one deduplicated error: every observation with the same signature
// is collapsed into it.
type Entry struct {
	Message       string        `json:"message"`
	Data          sanitize.Data `json:"data"`
	Signature     string        `json:"signature"`
	Timestamp     time.Time     `json:"timestamp"`
	LastTimestamp time.Time     `json:"last_timestamp"`
	Count         int64         `json:"count"`
}

func (e *Entry) clone() Entry {
	c := *e
	c.Data = sanitize.Clone(e.Data)
	return c
}

// UpsertResult describes what a single Upsert did.
type UpsertResult struct {
	Entry    Entry   // copy of the entry after the update
	Inserted bool    // false when an existing entry was deduplicated
	Evicted  []Entry // entries dropped to make room, least recently used first
	Len      int     // entries stored after the call
}

// Store holds at most capacity entries in access order (least recently used
// at the front of the list). The signature index is derived state: it is
// dropped after bulk changes and rebuilt from the list on next use.
type Store struct {
	mu       sync.RWMutex
	order    *list.List               // *Entry values
	index    map[string]*list.Element // nil means "rebuild before use"
	capacity int
	stats    stats.Tracker
}

// ValidateCapacity reports whether n is an acceptable store capacity.
func ValidateCapacity(n int) error {
	if n < MinCapacity || n > MaxCapacity {
		return fmt.Errorf("%w: %d (must be between %d and %d)", ErrInvalidCapacity, n, MinCapacity, MaxCapacity)
	}
	return nil
}

// New creates an empty store with the given capacity.
func New(capacity int) (*Store, error) {
	if err := ValidateCapacity(capacity); err != nil {
		return nil, err
	}
	return &Store{
		order:    list.New(),
		index:    make(map[string]*list.Element),
		capacity: capacity,
	}, nil
}

// Upsert records one observation of signature. An existing entry has its
// count and last timestamp bumped and becomes most recently used; otherwise a
// new entry is inserted, evicting the least recently used one if the store is
// full. data must not be retained by the caller.
func (s *Store) Upsert(signature, message string, data sanitize.Data, now time.Time) UpsertResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.RecordObserved()

	if elem, ok := s.lookupLocked(signature); ok {
		e, _ := elem.Value.(*Entry)
		e.Count = stats.SaturatingIncrement(e.Count)
		e.LastTimestamp = now
		s.order.MoveToBack(elem)
		return UpsertResult{Entry: e.clone(), Len: s.order.Len()}
	}

	var evicted []Entry
	if s.order.Len() >= s.capacity {
		evicted = s.evictLocked(s.order.Len() - s.capacity + 1)
	}

	e := &Entry{
		Message:       message,
		Data:          data,
		Signature:     signature,
		Timestamp:     now,
		LastTimestamp: now,
		Count:         1,
	}
	elem := s.order.PushBack(e)
	if s.index != nil {
		s.index[signature] = elem
	}

	return UpsertResult{Entry: e.clone(), Inserted: true, Evicted: evicted, Len: s.order.Len()}
}

// SetCapacity changes the capacity, evicting least recently used entries
// until the new bound holds. The evicted entries are returned.
func (s *Store) SetCapacity(n int) ([]Entry, error) {
	if err := ValidateCapacity(n); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.capacity = n
	if over := s.order.Len() - n; over > 0 {
		return s.evictLocked(over), nil
	}
	return nil, nil
}

// Capacity returns the maximum number of entries.
func (s *Store) Capacity() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capacity
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.order.Len()
}

// All returns copies of every entry, least recently used first.
func (s *Store) All() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, s.order.Len())
	for elem := s.order.Front(); elem != nil; elem = elem.Next() {
		e, _ := elem.Value.(*Entry)
		out = append(out, e.clone())
	}
	return out
}

// Drain atomically removes every entry and returns them together with the
// current stats. Stats are left untouched.
func (s *Store) Drain() ([]Entry, stats.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, s.order.Len())
	for elem := s.order.Front(); elem != nil; elem = elem.Next() {
		e, _ := elem.Value.(*Entry)
		out = append(out, *e)
	}
	s.clearLocked()
	return out, s.stats.Snapshot()
}

// Stats returns the observed/dropped counters.
func (s *Store) Stats() stats.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats.Snapshot()
}

// ClearEntries removes all entries but keeps the stats.
func (s *Store) ClearEntries() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

// ClearAll removes all entries and resets the stats.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
	s.stats.Reset()
}

func (s *Store) clearLocked() {
	s.order.Init()
	s.index = nil
}

// lookupLocked finds the element for signature, rebuilding the index first if
// it was invalidated. Must be called with mu held for writing.
func (s *Store) lookupLocked(signature string) (*list.Element, bool) {
	if s.index == nil {
		s.rebuildIndexLocked()
	}
	elem, ok := s.index[signature]
	return elem, ok
}

// rebuildIndexLocked derives the signature index from the list alone.
func (s *Store) rebuildIndexLocked() {
	s.index = make(map[string]*list.Element, s.order.Len())
	for elem := s.order.Front(); elem != nil; elem = elem.Next() {
		e, _ := elem.Value.(*Entry)
		s.index[e.Signature] = elem
	}
}

// evictLocked removes the n least recently used entries and counts each as
// dropped. A single eviction patches the index in place; larger trims
// invalidate it for a lazy rebuild. Must be called with mu held.
func (s *Store) evictLocked(n int) []Entry {
	evicted := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		front := s.order.Front()
		if front == nil {
			break
		}
		e, _ := s.order.Remove(front).(*Entry)
		evicted = append(evicted, *e)
		s.stats.RecordDropped()
		if n == 1 && s.index != nil {
			delete(s.index, e.Signature)
		}
	}
	if n > 1 {
		s.index = nil
	}
	return evicted
}
