// ABOUTME: Overflow-safe observed/dropped counters for the error log
// ABOUTME: Counters wrap to zero at MaxSafeInteger instead of overflowing

package stats

// MaxSafeInteger is the largest integer every JSON consumer can represent
// exactly (2^53 - 1). Counters never exceed it.
const MaxSafeInteger = 1<<53 - 1

// Snapshot is a point-in-time copy of the tracker's counters.
type Snapshot struct {
	TotalObserved uint64 `json:"total_observed"`
	TotalDropped  uint64 `json:"total_dropped"`
}

// Tracker counts observations and evictions. It has no locking of its own;
// the owning store serializes access.
type Tracker struct {
	observed uint64
	dropped  uint64
}

// RecordObserved bumps the observed counter by one.
func (t *Tracker) RecordObserved() {
	t.observed = Increment(t.observed)
}

// RecordDropped bumps the dropped counter by one.
func (t *Tracker) RecordDropped() {
	t.dropped = Increment(t.dropped)
}

// Reset zeroes both counters.
func (t *Tracker) Reset() {
	t.observed = 0
	t.dropped = 0
}

// Snapshot returns the current counter values.
func (t *Tracker) Snapshot() Snapshot {
	return Snapshot{TotalObserved: t.observed, TotalDropped: t.dropped}
}

// Increment returns v+1, or zero once v has reached MaxSafeInteger.
// Callers see a visible reset rather than a corrupted value.
func Increment(v uint64) uint64 {
	if v >= MaxSafeInteger {
		return 0
	}
	return v + 1
}

// SaturatingIncrement returns v+1, stopping at MaxSafeInteger.
func SaturatingIncrement(v int64) int64 {
	if v >= MaxSafeInteger {
		return MaxSafeInteger
	}
	return v + 1
}
