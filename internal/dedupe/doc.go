// Package dedupe provides the bounded, signature-keyed entry store behind the
// error log. Entries are kept in access order so the least recently used one
// is always the first to be evicted when the store is full.
package dedupe
