package degrade

import (
	"sync"
	"time"

	"easel/internal/config"
	"easel/internal/quality"
)

// Controller tracks recent job latencies and applies the degrade-mode
// hysteresis. Callers supply the current queue depth on every evaluation;
// the controller never inspects the queue itself.
type Controller struct {
	mu sync.Mutex

	overload int
	recovery int
	target   time.Duration
	window   int

	latencies []time.Duration
	active    bool
}

// NewController builds a controller from scheduler configuration.
func NewController(cfg *config.Config) *Controller {
	return &Controller{
		overload: cfg.Scheduler.OverloadThreshold,
		recovery: cfg.Scheduler.RecoveryThreshold,
		target:   cfg.TargetLatency(),
		window:   cfg.Scheduler.LatencyWindow,
	}
}

// RecordLatency appends a completed-job duration to the rolling window,
// dropping the oldest sample when the window is full.
func (c *Controller) RecordLatency(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latencies = append(c.latencies, d)
	if len(c.latencies) > c.window {
		c.latencies = c.latencies[len(c.latencies)-c.window:]
	}
}

// Evaluate updates the degrade state for the given queue depth and
// reports whether the mode is active.
//
// Once off, the mode turns on when depth reaches the overload threshold,
// or when any work is pending and the rolling average latency exceeds
// the target. Once on, it turns off only when depth has drained to the
// recovery threshold and the average latency is back at or under target.
func (c *Controller) Evaluate(depth int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	avg := c.averageLocked()
	if c.active {
		if depth <= c.recovery && avg <= c.target {
			c.active = false
		}
	} else {
		if depth >= c.overload || (depth > 0 && avg > c.target) {
			c.active = true
		}
	}
	return c.active
}

// Active reports the current mode without re-evaluating.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// AverageLatency returns the rolling mean, or zero with no samples.
func (c *Controller) AverageLatency() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.averageLocked()
}

// EffectiveQuality decides the quality a new submission receives given
// the queue depth as if that job were already pending. The second return
// reports whether a downgrade occurred.
func (c *Controller) EffectiveQuality(requested quality.Level, depth int) (quality.Level, bool) {
	if !c.Evaluate(depth) {
		return requested, false
	}
	effective := quality.Fallback(requested)
	return effective, effective != requested
}

func (c *Controller) averageLocked() time.Duration {
	if len(c.latencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range c.latencies {
		total += d
	}
	return total / time.Duration(len(c.latencies))
}
