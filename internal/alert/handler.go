// ABOUTME: Alert payload and handler types for threshold alerts
// ABOUTME: Adapt normalizes the accepted handler shapes into a single Handler

package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/2389/errorlog/internal/dedupe"
	"github.com/2389/errorlog/internal/stats"
)

// ErrInvalidHandler is returned when a handler value has an unsupported type.
var ErrInvalidHandler = errors.New("invalid handler")

// Payload is what a handler receives when the threshold is crossed.
type Payload struct {
	ID        string         `json:"id"`
	AlertedAt time.Time      `json:"alerted_at"`
	Threshold int            `json:"threshold"`
	Entries   []dedupe.Entry `json:"entries"`
	Stats     stats.Snapshot `json:"stats"`
}

// Handler processes an alert. ctx is cancelled when the handler timeout
// elapses or the dispatcher is closed.
type Handler func(ctx context.Context, p Payload) error

// Adapt converts h into a Handler. Accepted values:
//
//   - nil, or a nil function of any accepted type: clears the handler
//   - Handler or func(context.Context, Payload) error
//   - func(Payload) error
//   - func(Payload)
//   - func(Payload) <-chan error: deferred result; the first value received
//     (or channel close, meaning success) completes the call
//
// Anything else yields ErrInvalidHandler.
func Adapt(h any) (Handler, error) {
	switch fn := h.(type) {
	case nil:
		return nil, nil
	case Handler:
		return fn, nil
	case func(context.Context, Payload) error:
		if fn == nil {
			return nil, nil
		}
		return fn, nil
	case func(Payload) error:
		if fn == nil {
			return nil, nil
		}
		return func(_ context.Context, p Payload) error { return fn(p) }, nil
	case func(Payload):
		if fn == nil {
			return nil, nil
		}
		return func(_ context.Context, p Payload) error {
			fn(p)
			return nil
		}, nil
	case func(Payload) <-chan error:
		if fn == nil {
			return nil, nil
		}
		return func(ctx context.Context, p Payload) error {
			ch := fn(p)
			if ch == nil {
				return nil
			}
			select {
			case err := <-ch:
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidHandler, h)
	}
}
