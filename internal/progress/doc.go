// Package progress defines run progress events and a non-blocking hub that
// batches them on a background goroutine before fanning them out to sinks
// (logs, Prometheus, the run history store and the live tracker).
package progress
