// Package errorlog provides a bounded, deduplicating, in-memory error log
// with threshold-triggered alerts.
//
// Quick start:
//
//	log, err := errorlog.New(errorlog.WithMaxErrorsStored(500))
//	if err != nil {
//	    panic(err)
//	}
//	defer log.Close()
//
//	_ = log.SetCriticalHandler(func(p errorlog.Payload) {
//	    fmt.Printf("%d distinct errors\n", len(p.Entries))
//	})
//	_ = log.AddError("db timeout", map[string]any{"host": "db-1"})
//
// Identical messages with equal data collapse into one entry with a count.
// When the store is full the least recently used entry is evicted. Auxiliary
// data is sanitized before it is stored: cycles, excessive nesting, oversized
// payloads and unsupported values degrade into markers instead of failing.
//
// A Log is safe for concurrent use. Alert handlers run in their own goroutine
// and may call back into the Log.
package errorlog
