// Package report renders alert payloads as human-readable digests.
//
// Markdown produces a CommonMark document; HTML converts that document with
// goldmark. NewHandler wraps either format into an alert.Handler that writes
// one digest per alert to an io.Writer.
package report
