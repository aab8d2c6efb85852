// Package sinks holds the progress consumers wired into the hub: a zap logger,
// Prometheus counters for task outcomes, and a run repository writer that
// accumulates per-provider task statistics.
package sinks
