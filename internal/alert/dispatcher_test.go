// ABOUTME: Tests for the alert dispatcher and handler adaptation
// ABOUTME: Covers threshold, cooldown, timeout, failure isolation and reentrancy

package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/errorlog/internal/dedupe"
	"github.com/2389/errorlog/internal/sanitize"
	"github.com/2389/errorlog/internal/stats"
)

var t0 = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

type event struct {
	category string
	name     string
	metadata map[string]any
}

type recordingSink struct {
	mu     sync.Mutex
	events []event
}

func (s *recordingSink) Notify(category, name string, metadata map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event{category: category, name: name, metadata: metadata})
}

func (s *recordingSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.name
	}
	return out
}

func newStore(t *testing.T) *dedupe.Store {
	t.Helper()
	s, err := dedupe.New(100)
	require.NoError(t, err)
	return s
}

func fill(s *dedupe.Store, n int) {
	for i := 0; i < n; i++ {
		sig := fmt.Sprintf("sig-%d", i)
		s.Upsert(sig, "msg", sanitize.Data{}, t0)
	}
}

func TestDispatcher_BelowThresholdDoesNothing(t *testing.T) {
	store := newStore(t)
	d := New(store, Config{Threshold: 3}, nil)
	defer d.Close()

	called := false
	require.NoError(t, d.SetHandler(func(Payload) { called = true }))

	fill(store, 2)
	assert.False(t, d.Evaluate(t0))
	d.Wait()

	assert.False(t, called)
	assert.Equal(t, 2, store.Len())
}

func TestDispatcher_NoHandlerDoesNothing(t *testing.T) {
	store := newStore(t)
	d := New(store, Config{Threshold: 1}, nil)
	defer d.Close()

	fill(store, 5)

	assert.False(t, d.Evaluate(t0))
	assert.Equal(t, 5, store.Len(), "entries are kept when nobody is listening")
}

func TestDispatcher_FiresWithSnapshotAndClearsEntries(t *testing.T) {
	store := newStore(t)
	sink := &recordingSink{}
	d := New(store, Config{Threshold: 3}, sink)
	defer d.Close()

	got := make(chan Payload, 1)
	require.NoError(t, d.SetHandler(func(p Payload) { got <- p }))

	fill(store, 3)
	require.True(t, d.Evaluate(t0))

	select {
	case p := <-got:
		assert.NotEmpty(t, p.ID)
		assert.Equal(t, t0, p.AlertedAt)
		assert.Equal(t, 3, p.Threshold)
		require.Len(t, p.Entries, 3)
		assert.Equal(t, "sig-0", p.Entries[0].Signature)
		assert.Equal(t, uint64(3), p.Stats.TotalObserved)
	case <-time.After(time.Second):
		t.Fatal("handler not invoked")
	}

	d.Wait()
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, uint64(3), store.Stats().TotalObserved, "stats survive the alert")
	assert.Equal(t, []string{"alert_dispatched", "handler_completed"}, sink.names())
}

func TestDispatcher_CooldownSuppressesRepeatAlerts(t *testing.T) {
	store := newStore(t)
	d := New(store, Config{Threshold: 1, Cooldown: time.Minute}, nil)
	defer d.Close()

	var mu sync.Mutex
	calls := 0
	require.NoError(t, d.SetHandler(func(Payload) {
		mu.Lock()
		calls++
		mu.Unlock()
	}))

	fill(store, 1)
	assert.True(t, d.Evaluate(t0))

	fill(store, 1)
	assert.False(t, d.Evaluate(t0.Add(30*time.Second)), "still cooling down")
	assert.Equal(t, 1, store.Len(), "suppressed alert does not clear entries")

	assert.True(t, d.Evaluate(t0.Add(61*time.Second)))
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
}

func TestDispatcher_NegativeCooldownDisablesRateLimit(t *testing.T) {
	store := newStore(t)
	d := New(store, Config{Threshold: 1, Cooldown: -1}, nil)
	defer d.Close()
	require.NoError(t, d.SetHandler(func(Payload) {}))

	for i := 0; i < 3; i++ {
		fill(store, 1)
		assert.True(t, d.Evaluate(t0), "evaluation %d", i)
	}
	d.Wait()
}

func TestDispatcher_HandlerTimeoutDoesNotBlock(t *testing.T) {
	store := newStore(t)
	sink := &recordingSink{}
	d := New(store, Config{Threshold: 1, Timeout: 20 * time.Millisecond}, sink)
	defer d.Close()

	release := make(chan struct{})
	defer close(release)
	require.NoError(t, d.SetHandler(func(Payload) { <-release }))

	fill(store, 1)
	start := time.Now()
	require.True(t, d.Evaluate(t0))
	assert.Less(t, time.Since(start), 100*time.Millisecond, "Evaluate must not wait for the handler")

	d.Wait()
	assert.Equal(t, []string{"alert_dispatched", "handler_timeout"}, sink.names())
}

func TestDispatcher_ContextHandlerSeesCancellation(t *testing.T) {
	store := newStore(t)
	d := New(store, Config{Threshold: 1, Timeout: 20 * time.Millisecond}, nil)
	defer d.Close()

	cancelled := make(chan error, 1)
	require.NoError(t, d.SetHandler(func(ctx context.Context, _ Payload) error {
		<-ctx.Done()
		cancelled <- ctx.Err()
		return ctx.Err()
	}))

	fill(store, 1)
	require.True(t, d.Evaluate(t0))

	select {
	case err := <-cancelled:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("handler context was never cancelled")
	}
	d.Wait()
}

func TestDispatcher_HandlerErrorIsContained(t *testing.T) {
	store := newStore(t)
	sink := &recordingSink{}
	d := New(store, Config{Threshold: 1}, sink)
	defer d.Close()

	require.NoError(t, d.SetHandler(func(Payload) error { return errors.New("pager down") }))

	fill(store, 1)
	assert.True(t, d.Evaluate(t0))
	d.Wait()

	require.Equal(t, []string{"alert_dispatched", "handler_failed"}, sink.names())
	assert.Equal(t, "pager down", sink.events[1].metadata["error"])
}

func TestDispatcher_HandlerPanicIsContained(t *testing.T) {
	store := newStore(t)
	sink := &recordingSink{}
	d := New(store, Config{Threshold: 1}, sink)
	defer d.Close()

	require.NoError(t, d.SetHandler(func(Payload) { panic("boom") }))

	fill(store, 1)
	assert.NotPanics(t, func() { d.Evaluate(t0) })
	d.Wait()

	require.Equal(t, []string{"alert_dispatched", "handler_failed"}, sink.names())
	assert.Contains(t, sink.events[1].metadata["error"], "boom")
}

func TestDispatcher_AsyncHandler(t *testing.T) {
	store := newStore(t)
	sink := &recordingSink{}
	d := New(store, Config{Threshold: 1}, sink)
	defer d.Close()

	require.NoError(t, d.SetHandler(func(Payload) <-chan error {
		ch := make(chan error, 1)
		go func() {
			time.Sleep(5 * time.Millisecond)
			ch <- errors.New("rejected")
		}()
		return ch
	}))

	fill(store, 1)
	require.True(t, d.Evaluate(t0))
	d.Wait()

	assert.Equal(t, []string{"alert_dispatched", "handler_failed"}, sink.names())
}

func TestDispatcher_ReentrantHandlerDoesNotDeadlock(t *testing.T) {
	store := newStore(t)
	d := New(store, Config{Threshold: 1, Cooldown: -1}, nil)
	defer d.Close()

	done := make(chan struct{})
	require.NoError(t, d.SetHandler(func(p Payload) {
		if p.Entries[0].Signature == "from-handler" {
			close(done)
			return
		}
		store.Upsert("from-handler", "logged by handler", sanitize.Data{}, t0)
		d.Evaluate(t0)
	}))

	fill(store, 1)
	require.True(t, d.Evaluate(t0))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reentrant handler deadlocked")
	}
	d.Wait()
}

func TestDispatcher_SetHandlerNilClears(t *testing.T) {
	store := newStore(t)
	d := New(store, Config{Threshold: 1}, nil)
	defer d.Close()

	require.NoError(t, d.SetHandler(func(Payload) {}))
	assert.True(t, d.HasHandler())

	require.NoError(t, d.SetHandler(nil))
	assert.False(t, d.HasHandler())

	fill(store, 1)
	assert.False(t, d.Evaluate(t0))
}

func TestDispatcher_ClosedKeepsEntries(t *testing.T) {
	store := newStore(t)
	d := New(store, Config{Threshold: 2}, nil)

	called := make(chan struct{}, 1)
	require.NoError(t, d.SetHandler(func(Payload) { called <- struct{}{} }))
	d.Close()

	fill(store, 2)
	assert.False(t, d.Evaluate(t0))
	d.Wait()

	assert.Equal(t, 2, store.Len(), "entries recorded after Close are not drained")
	select {
	case <-called:
		t.Fatal("handler ran after Close")
	default:
	}
}

func TestDispatcher_CloseIsIdempotent(t *testing.T) {
	d := New(newStore(t), Config{}, nil)
	d.Close()
	assert.NotPanics(t, d.Close)
}

func TestDispatcher_ThresholdCappedAtCapacity(t *testing.T) {
	store, err := dedupe.New(5)
	require.NoError(t, err)
	d := New(store, Config{Threshold: 10}, nil)
	defer d.Close()

	got := make(chan Payload, 1)
	require.NoError(t, d.SetHandler(func(p Payload) { got <- p }))

	fill(store, 4)
	assert.False(t, d.Evaluate(t0))

	fill(store, 5)
	require.True(t, d.Evaluate(t0))
	d.Wait()

	p := <-got
	assert.Len(t, p.Entries, 5)
	assert.Equal(t, 5, p.Threshold, "payload reports the threshold that fired")
}

// emptySource claims to be full but has nothing left when drained, as when
// the entries are cleared between the size check and the drain.
type emptySource struct{}

func (emptySource) Len() int                                { return 10 }
func (emptySource) Capacity() int                           { return 10 }
func (emptySource) Drain() ([]dedupe.Entry, stats.Snapshot) { return nil, stats.Snapshot{} }

func TestDispatcher_EmptyDrainKeepsCooldown(t *testing.T) {
	d := New(emptySource{}, Config{Threshold: 1, Cooldown: time.Minute}, nil)
	defer d.Close()
	require.NoError(t, d.SetHandler(func(Payload) {}))
	assert.False(t, d.Evaluate(t0))

	// Same limiter, real entries: the cooldown token must still be there.
	store := newStore(t)
	d.source = store
	fill(store, 1)
	assert.True(t, d.Evaluate(t0.Add(time.Second)))
	d.Wait()
}

func TestDispatcher_Defaults(t *testing.T) {
	d := New(newStore(t), Config{}, nil)
	defer d.Close()

	assert.Equal(t, Config{
		Threshold: DefaultThreshold,
		Cooldown:  DefaultCooldown,
		Timeout:   DefaultTimeout,
	}, d.Config())
}

func TestAdapt(t *testing.T) {
	var nilFunc func(Payload)
	var nilHandler Handler

	valid := []any{
		Handler(func(context.Context, Payload) error { return nil }),
		func(context.Context, Payload) error { return nil },
		func(Payload) error { return nil },
		func(Payload) {},
		func(Payload) <-chan error { return nil },
	}
	for _, h := range valid {
		got, err := Adapt(h)
		require.NoError(t, err, "%T", h)
		require.NotNil(t, got, "%T", h)
		assert.NoError(t, got(context.Background(), Payload{}), "%T", h)
	}

	for _, h := range []any{nil, nilFunc, nilHandler} {
		got, err := Adapt(h)
		assert.NoError(t, err)
		assert.Nil(t, got)
	}

	for _, h := range []any{"handler", 42, func() {}, func(string) error { return nil }} {
		_, err := Adapt(h)
		assert.ErrorIs(t, err, ErrInvalidHandler, "%T", h)
	}
}

func TestAdapt_ChannelCloseMeansSuccess(t *testing.T) {
	h, err := Adapt(func(Payload) <-chan error {
		ch := make(chan error)
		close(ch)
		return ch
	})
	require.NoError(t, err)
	assert.NoError(t, h(context.Background(), Payload{}))
}
