// ABOUTME: Fire-and-forget notification sink used by the error log core
// ABOUTME: Notifier maps Notify calls onto slog records; Discard drops them

package logging

import (
	"context"
	"log/slog"
	"sort"
	"strings"
)

// Sink receives best-effort observability events. Implementations must not
// block for long and must not panic.
type Sink interface {
	Notify(category, event string, metadata map[string]any)
}

// Discard is a Sink that drops every event.
var Discard Sink = discardSink{}

type discardSink struct{}

func (discardSink) Notify(string, string, map[string]any) {}

// Notifier writes events to a slog.Logger.
type Notifier struct {
	logger *slog.Logger
}

// NewNotifier creates a Notifier. Pass nil logger for default.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{logger: logger}
}

// Notify logs event as the message with category as the component attribute.
// Metadata keys are emitted in sorted order.
func (n *Notifier) Notify(category, event string, metadata map[string]any) {
	ctx := context.Background()
	level := EventLevel(event)
	if !n.logger.Enabled(ctx, level) {
		return
	}

	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, 2+2*len(keys))
	args = append(args, "component", category)
	for _, k := range keys {
		args = append(args, k, metadata[k])
	}
	n.logger.Log(ctx, level, event, args...)
}

// EventLevel picks the log level for an event name.
func EventLevel(event string) slog.Level {
	switch {
	case strings.HasSuffix(event, "_failed"), strings.HasSuffix(event, "_timeout"):
		return slog.LevelWarn
	case event == "alert_dispatched":
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
