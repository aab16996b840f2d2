// Package alert invokes a user-registered handler when the error log holds
// enough unique entries.
//
// # Dispatch
//
// After every AddError the log calls Evaluate. When a handler is registered,
// the watched Source holds at least Threshold entries and the cooldown
// allows it, the dispatcher drains the source (snapshot then clear, atomic
// with respect to concurrent writers) and hands the Payload to the handler
// in a background goroutine:
//
//	d := alert.New(store, alert.Config{Threshold: 10, Cooldown: time.Minute}, sink)
//	_ = d.SetHandler(func(p alert.Payload) { page(p) })
//
// # Failure isolation
//
// Handlers run with no locks held and under a context deadline
// (Config.Timeout). Errors, panics and timeouts are reported to the sink and
// never reach the caller of Evaluate. A result that arrives after the
// deadline is discarded.
//
// # Handler shapes
//
// SetHandler accepts nil (clears the registration), Handler, and the plain
// function shapes listed on Adapt, so synchronous callbacks and handlers
// that report completion later through a channel are dispatched the same way.
package alert
