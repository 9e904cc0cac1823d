// Package degrade decides when generation quality must be lowered to
// protect latency under load. The decision combines queue depth with a
// rolling average of recent job latencies and applies hysteresis so the
// mode does not oscillate under borderline load.
package degrade
