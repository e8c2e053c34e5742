// Package sinks implements concrete progress consumers: structured logging,
// Prometheus collectors and Pub/Sub fanout. Each sink satisfies the
// progress.Sink interface.
package sinks
