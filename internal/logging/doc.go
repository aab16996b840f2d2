// Package logging sets up slog loggers for errorlog binaries and adapts them
// to the fire-and-forget notification sink the error log reports through.
//
// Loggers come in two formats: "json" uses slog's JSON handler, anything else
// uses ColorHandler, a compact colorized text handler for terminals:
//
//	logger := logging.New(os.Stderr, logging.ParseLevel("debug"), "text")
//
// Notifier turns Notify(category, event, metadata) calls into log records.
// The category becomes the "component" attribute and the event name becomes
// the message. Failure events (suffix _failed or _timeout) log at warn,
// dispatched alerts at info, everything else at debug.
package logging
