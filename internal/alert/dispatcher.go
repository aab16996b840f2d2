// ABOUTME: Threshold-triggered, rate-limited, timeout-bounded alert dispatch
// ABOUTME: Drains the watched store atomically and runs the handler outside all locks

package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/2389/errorlog/internal/dedupe"
	"github.com/2389/errorlog/internal/logging"
	"github.com/2389/errorlog/internal/stats"
)

const (
	DefaultThreshold = 10
	DefaultCooldown  = time.Minute
	DefaultTimeout   = 5 * time.Second
)

// category is the sink category for every dispatcher event.
const category = "alert"

// Source is the store a dispatcher watches.
type Source interface {
	Len() int
	Capacity() int
	Drain() ([]dedupe.Entry, stats.Snapshot)
}

// Config controls when and how alerts fire. Zero values select defaults; a
// negative Cooldown disables rate limiting.
type Config struct {
	Threshold int
	Cooldown  time.Duration
	Timeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.Cooldown == 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Dispatcher decides when to alert and runs the handler.
type Dispatcher struct {
	source Source
	cfg    Config
	sink   logging.Sink

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	idle     *sync.Cond // signalled when inflight drops to zero
	inflight int
	closed   bool
	handler  Handler
	limiter  *rate.Limiter
}

// New creates a dispatcher watching source. Pass nil sink to discard events.
func New(source Source, cfg Config, sink logging.Sink) *Dispatcher {
	cfg = cfg.withDefaults()
	if sink == nil {
		sink = logging.Discard
	}

	limit := rate.Inf
	if cfg.Cooldown > 0 {
		limit = rate.Every(cfg.Cooldown)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		source:  source,
		cfg:     cfg,
		sink:    sink,
		ctx:     ctx,
		cancel:  cancel,
		limiter: rate.NewLimiter(limit, 1),
	}
	d.idle = sync.NewCond(&d.mu)
	return d
}

// Config returns the effective configuration.
func (d *Dispatcher) Config() Config {
	return d.cfg
}

// SetHandler registers h (see Adapt for accepted shapes). nil clears it.
func (d *Dispatcher) SetHandler(h any) error {
	handler, err := Adapt(h)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.handler = handler
	d.mu.Unlock()
	return nil
}

// HasHandler reports whether a handler is registered.
func (d *Dispatcher) HasHandler() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handler != nil
}

// Evaluate fires an alert if a handler is registered, the source is at or
// above the threshold and the cooldown has elapsed. The threshold is capped
// at the source capacity so a shrunken store can still alert. It returns
// true when an alert was dispatched. It never blocks on the handler and
// does nothing once the dispatcher is closed.
func (d *Dispatcher) Evaluate(now time.Time) bool {
	d.mu.Lock()
	threshold := min(d.cfg.Threshold, d.source.Capacity())
	if d.closed || d.handler == nil || d.source.Len() < threshold {
		d.mu.Unlock()
		return false
	}

	// Reserve rather than spend the cooldown token so it can be handed back
	// when there turns out to be nothing to send.
	r := d.limiter.ReserveN(now, 1)
	if !r.OK() || r.DelayFrom(now) > 0 {
		r.CancelAt(now)
		d.mu.Unlock()
		return false
	}

	entries, snap := d.source.Drain()
	if len(entries) == 0 {
		r.CancelAt(now)
		d.mu.Unlock()
		return false
	}
	handler := d.handler
	d.inflight++
	d.mu.Unlock()

	p := Payload{
		ID:        uuid.NewString(),
		AlertedAt: now,
		Threshold: threshold,
		Entries:   entries,
		Stats:     snap,
	}

	d.sink.Notify(category, "alert_dispatched", map[string]any{
		"alert_id":  p.ID,
		"entries":   len(p.Entries),
		"threshold": p.Threshold,
	})

	go func() {
		defer d.finish()
		d.invoke(handler, p)
	}()
	return true
}

// invoke runs h with a deadline. The handler goroutine reports into a
// buffered channel so a late result never blocks and is simply dropped.
func (d *Dispatcher) invoke(h Handler, p Payload) {
	ctx, cancel := context.WithTimeout(d.ctx, d.cfg.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panicked: %v", r)
			}
		}()
		done <- h(ctx, p)
	}()

	select {
	case err := <-done:
		switch {
		case err == nil:
			d.sink.Notify(category, "handler_completed", map[string]any{"alert_id": p.ID})
		case ctx.Err() != nil:
			// The handler gave up because its context ended.
			d.timedOut(ctx, p)
		default:
			d.sink.Notify(category, "handler_failed", map[string]any{
				"alert_id": p.ID,
				"error":    err.Error(),
			})
		}
	case <-ctx.Done():
		d.timedOut(ctx, p)
	}
}

func (d *Dispatcher) timedOut(ctx context.Context, p Payload) {
	d.sink.Notify(category, "handler_timeout", map[string]any{
		"alert_id": p.ID,
		"timeout":  d.cfg.Timeout.String(),
		"error":    ctx.Err().Error(),
	})
}

func (d *Dispatcher) finish() {
	d.mu.Lock()
	d.inflight--
	if d.inflight == 0 {
		d.idle.Broadcast()
	}
	d.mu.Unlock()
}

// Wait blocks until every dispatched handler has finished or timed out.
func (d *Dispatcher) Wait() {
	d.mu.Lock()
	for d.inflight > 0 {
		d.idle.Wait()
	}
	d.mu.Unlock()
}

// Close stops new alerts, cancels running handlers and waits for their
// dispatch goroutines. Entries recorded after Close stay in the source.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	d.Wait()
}
