// Package scheduler owns the job table, the global FIFO queue, and the
// single worker that drives every job through its status state machine.
// Per-session admission is enforced at submission; the one-at-a-time
// worker is the only gate on actual inference work.
package scheduler
