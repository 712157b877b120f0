// Package sinks implements progress consumers: structured logging, Prometheus
// run metrics, the run history store and an in-memory tracker of the active
// run. Each sink satisfies progress.Sink.
package sinks
