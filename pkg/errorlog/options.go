package errorlog

import (
	"log/slog"
	"time"

	"github.com/2389/errorlog/internal/alert"
	"github.com/2389/errorlog/internal/config"
)

type options struct {
	maxErrorsStored   int
	criticalThreshold int
	cooldown          time.Duration
	handlerTimeout    time.Duration
	notifier          Notifier
	logger            *slog.Logger
	clock             Clock
}

// Option configures a Log.
type Option func(*options)

// WithMaxErrorsStored sets how many distinct entries are kept (1-10000).
// Default: 100.
func WithMaxErrorsStored(n int) Option {
	return func(o *options) {
		o.maxErrorsStored = n
	}
}

// WithCriticalThreshold sets the number of distinct stored entries that
// triggers an alert, capped at the store capacity. Default: 10.
func WithCriticalThreshold(n int) Option {
	return func(o *options) {
		o.criticalThreshold = n
	}
}

// WithCooldown sets the minimum time between alerts. Zero or negative
// disables rate limiting. Default: 1m.
func WithCooldown(d time.Duration) Option {
	return func(o *options) {
		o.cooldown = d
	}
}

// WithHandlerTimeout bounds each alert handler call. Default: 5s.
func WithHandlerTimeout(d time.Duration) Option {
	return func(o *options) {
		o.handlerTimeout = d
	}
}

// WithNotifier sets the sink for observability events. It takes precedence
// over WithLogger.
func WithNotifier(n Notifier) Option {
	return func(o *options) {
		o.notifier = n
	}
}

// WithLogger routes observability events to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock replaces time.Now for entry and alert timestamps.
func WithClock(c Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

func defaultOptions() options {
	return options{
		maxErrorsStored:   config.DefaultMaxErrorsStored,
		criticalThreshold: alert.DefaultThreshold,
		cooldown:          alert.DefaultCooldown,
		handlerTimeout:    alert.DefaultTimeout,
		clock:             time.Now,
	}
}

// configOptions turns a loaded configuration into options. Explicit options
// passed alongside it are applied afterwards and win.
func configOptions(cfg config.ErrorLogConfig) []Option {
	return []Option{
		WithMaxErrorsStored(cfg.MaxErrorsStored),
		WithCriticalThreshold(cfg.CriticalThreshold),
		WithCooldown(cfg.Cooldown),
		WithHandlerTimeout(cfg.HandlerTimeout),
	}
}
