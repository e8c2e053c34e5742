// Package progress carries typed pipeline events from the filter, download,
// archive and sort stages to pluggable sinks. Emitting never blocks the
// pipeline; a background goroutine batches events and fans them out.
package progress
