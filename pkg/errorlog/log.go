// ABOUTME: Public error log facade tying sanitizer, signatures, store and alerts together
// ABOUTME: Validates input, records errors and exposes counters and the process-wide default log

package errorlog

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/2389/errorlog/internal/alert"
	"github.com/2389/errorlog/internal/canonical"
	"github.com/2389/errorlog/internal/config"
	"github.com/2389/errorlog/internal/dedupe"
	"github.com/2389/errorlog/internal/logging"
	"github.com/2389/errorlog/internal/sanitize"
	"github.com/2389/errorlog/internal/stats"
)

// MaxMessageLength is the longest accepted message, in characters.
const MaxMessageLength = 10_000

// category tags every event the Log itself emits.
const category = "errorlog"

var (
	// ErrInvalidMessage is returned by AddError for over-long messages.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrInvalidCapacity is returned for a store capacity outside [1, 10000].
	ErrInvalidCapacity = dedupe.ErrInvalidCapacity

	// ErrInvalidHandler is returned by SetCriticalHandler for unsupported handler types.
	ErrInvalidHandler = alert.ErrInvalidHandler

	// ErrInvalidThreshold is returned by New for a critical threshold below 1.
	ErrInvalidThreshold = errors.New("invalid critical threshold")
)

type (
	// Entry is one deduplicated error with its occurrence count.
	Entry = dedupe.Entry

	// Payload is what a critical handler receives.
	Payload = alert.Payload

	// Handler is the canonical critical handler shape. SetCriticalHandler
	// also accepts func(Payload), func(Payload) error and
	// func(Payload) <-chan error.
	Handler = alert.Handler

	// Stats holds the lifetime counters.
	Stats = stats.Snapshot
)

// Notifier receives best-effort observability events.
type Notifier interface {
	Notify(category, event string, metadata map[string]any)
}

// Clock returns the current time.
type Clock func() time.Time

// Log is a bounded, deduplicating error log. Safe for concurrent use.
type Log struct {
	store      *dedupe.Store
	dispatcher *alert.Dispatcher
	notifier   Notifier
	clock      Clock
}

// New creates a Log. Invalid option values are reported as errors.
func New(opts ...Option) (*Log, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	store, err := dedupe.New(o.maxErrorsStored)
	if err != nil {
		return nil, fmt.Errorf("errorlog: %w", err)
	}
	if o.criticalThreshold < 1 {
		return nil, fmt.Errorf("errorlog: %w: %d", ErrInvalidThreshold, o.criticalThreshold)
	}

	notifier := o.notifier
	if notifier == nil {
		notifier = logging.NewNotifier(o.logger)
	}
	clock := o.clock
	if clock == nil {
		clock = time.Now
	}

	cooldown := o.cooldown
	if cooldown <= 0 {
		cooldown = -1
	}

	dispatcher := alert.New(store, alert.Config{
		Threshold: o.criticalThreshold,
		Cooldown:  cooldown,
		Timeout:   o.handlerTimeout,
	}, notifier)

	return &Log{
		store:      store,
		dispatcher: dispatcher,
		notifier:   notifier,
		clock:      clock,
	}, nil
}

// FromConfig creates a Log from a loaded configuration section. opts are
// applied after the configuration values.
func FromConfig(cfg config.ErrorLogConfig, opts ...Option) (*Log, error) {
	return New(append(configOptions(cfg), opts...)...)
}

// AddError records message with optional auxiliary data. data may be any
// value; only string-keyed maps contribute, everything else is stored as
// empty data. Invalid UTF-8 in message is replaced with U+FFFD. An alert is
// dispatched in the background when the threshold is reached.
func (l *Log) AddError(message string, data any) error {
	message = strings.ToValidUTF8(message, "\uFFFD")
	if n := utf8.RuneCountInString(message); n > MaxMessageLength {
		return fmt.Errorf("%w: %d characters exceeds %d", ErrInvalidMessage, n, MaxMessageLength)
	}

	safe := sanitize.Sanitize(data)
	signature := canonical.Signature(message, safe)
	now := l.clock()

	res := l.store.Upsert(signature, message, safe, now)

	for _, e := range res.Evicted {
		l.notifier.Notify(category, "entry_evicted", map[string]any{
			"message": e.Message,
			"count":   e.Count,
		})
	}
	if res.Inserted {
		l.notifier.Notify(category, "entry_added", map[string]any{
			"message": message,
			"stored":  res.Len,
		})
	}

	l.dispatcher.Evaluate(now)
	return nil
}

// HasErrors reports whether any entries are stored.
func (l *Log) HasErrors() bool {
	return l.store.Len() > 0
}

// GetAllErrors returns copies of the stored entries, least recently used first.
func (l *Log) GetAllErrors() []Entry {
	return l.store.All()
}

// Clear removes all entries and resets the counters.
func (l *Log) Clear() {
	l.store.ClearAll()
	l.notifier.Notify(category, "cleared", nil)
}

// ClearErrorsOnly removes all entries and keeps the counters.
func (l *Log) ClearErrorsOnly() {
	l.store.ClearEntries()
	l.notifier.Notify(category, "entries_cleared", nil)
}

// SetMaxErrorsStored changes the capacity, evicting least recently used
// entries if the store is over the new bound.
func (l *Log) SetMaxErrorsStored(n int) error {
	evicted, err := l.store.SetCapacity(n)
	if err != nil {
		return err
	}
	if len(evicted) > 0 {
		l.notifier.Notify(category, "entries_trimmed", map[string]any{
			"evicted":  len(evicted),
			"capacity": n,
		})
	}
	return nil
}

// SetCriticalHandler registers the alert handler. nil clears it.
func (l *Log) SetCriticalHandler(h any) error {
	return l.dispatcher.SetHandler(h)
}

// TotalErrorCount is the number of AddError calls recorded since the last Clear.
func (l *Log) TotalErrorCount() int64 {
	return int64(l.store.Stats().TotalObserved)
}

// DroppedCount is the number of entries evicted since the last Clear.
func (l *Log) DroppedCount() int64 {
	return int64(l.store.Stats().TotalDropped)
}

// MaxErrorsStored is the current capacity.
func (l *Log) MaxErrorsStored() int {
	return l.store.Capacity()
}

// Stats returns both counters at once.
func (l *Log) Stats() Stats {
	return l.store.Stats()
}

// Wait blocks until in-flight alert handlers finish or time out.
func (l *Log) Wait() {
	l.dispatcher.Wait()
}

// Close cancels in-flight alert handlers and waits for them to return.
func (l *Log) Close() {
	l.dispatcher.Close()
}

var defaultLog atomic.Pointer[Log]

// Default returns the process-wide Log, creating one with default settings
// on first use.
func Default() *Log {
	if l := defaultLog.Load(); l != nil {
		return l
	}
	l, err := New(WithLogger(slog.Default()))
	if err != nil {
		panic(err)
	}
	if defaultLog.CompareAndSwap(nil, l) {
		return l
	}
	l.Close()
	return defaultLog.Load()
}

// SetDefault replaces the process-wide Log. nil resets it so the next
// Default call creates a fresh one.
func SetDefault(l *Log) {
	defaultLog.Store(l)
}
