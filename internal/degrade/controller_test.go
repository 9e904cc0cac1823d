package degrade_test

import (
	"testing"
	"time"

	"easel/internal/degrade"
	"easel/internal/quality"
	"easel/internal/testsupport"
)

func newController(t *testing.T) *degrade.Controller {
	t.Helper()
	return degrade.NewController(testsupport.NewConfig(t))
}

func TestEvaluateQueueDepthHysteresis(t *testing.T) {
	c := newController(t)

	if c.Evaluate(2) {
		t.Fatal("expected inactive below overload threshold")
	}
	if !c.Evaluate(3) {
		t.Fatal("expected active at overload threshold")
	}
	// Still above the recovery threshold, so the mode holds.
	if !c.Evaluate(2) {
		t.Fatal("expected active while draining above recovery threshold")
	}
	if c.Evaluate(1) {
		t.Fatal("expected inactive at recovery threshold")
	}
}

func TestEvaluateLatencyTrigger(t *testing.T) {
	c := newController(t)
	for i := 0; i < 10; i++ {
		c.RecordLatency(5 * time.Second)
	}

	if c.Evaluate(0) {
		t.Fatal("high latency with empty queue must not activate")
	}
	if !c.Evaluate(1) {
		t.Fatal("expected active with pending work and latency over target")
	}

	// Recovery requires both depth and latency back under target.
	if c.Evaluate(1) != true {
		t.Fatal("expected active while latency stays over target")
	}
	for i := 0; i < 50; i++ {
		c.RecordLatency(time.Second)
	}
	if c.Evaluate(1) {
		t.Fatal("expected inactive once window refilled with fast samples")
	}
}

func TestLatencyWindowBounded(t *testing.T) {
	c := newController(t)
	for i := 0; i < 60; i++ {
		c.RecordLatency(10 * time.Second)
	}
	for i := 0; i < 50; i++ {
		c.RecordLatency(time.Second)
	}
	if got := c.AverageLatency(); got != time.Second {
		t.Fatalf("expected old samples evicted, average = %v", got)
	}
}

func TestEffectiveQuality(t *testing.T) {
	c := newController(t)

	if level, degraded := c.EffectiveQuality(quality.High, 1); degraded || level != quality.High {
		t.Fatalf("unloaded: got %s degraded=%v", level, degraded)
	}

	if level, degraded := c.EffectiveQuality(quality.High, 4); !degraded || level != quality.Normal {
		t.Fatalf("overloaded high: got %s degraded=%v", level, degraded)
	}
	if level, degraded := c.EffectiveQuality(quality.Normal, 4); !degraded || level != quality.Fast {
		t.Fatalf("overloaded normal: got %s degraded=%v", level, degraded)
	}
	// Fast has no lower tier; the mode is active but nothing changes.
	if level, degraded := c.EffectiveQuality(quality.Fast, 4); degraded || level != quality.Fast {
		t.Fatalf("overloaded fast: got %s degraded=%v", level, degraded)
	}
}
