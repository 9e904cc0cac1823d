// Package notify fans job lifecycle messages out to per-job subscriber
// sets. Delivery is best effort: a subscriber whose transport fails is
// dropped so it never blocks the rest.
package notify

import (
	"log/slog"
	"sync"

	"easel/internal/logging"
)

// Subscriber receives job messages. Send returning an error marks the
// subscriber dead and removes it from every set it belongs to.
type Subscriber interface {
	Send(payload any) error
}

// StatusMessage reports a non-terminal transition, and cancellation.
type StatusMessage struct {
	Type             string `json:"type"`
	JobID            string `json:"job_id"`
	Value            string `json:"value"`
	QualityEffective string `json:"quality_effective"`
	QualityDegraded  bool   `json:"quality_degraded"`
}

// ResultMessage reports successful completion.
type ResultMessage struct {
	Type             string `json:"type"`
	JobID            string `json:"job_id"`
	ResultURL        string `json:"result_url"`
	Seed             *int64 `json:"seed"`
	QualityEffective string `json:"quality_effective"`
	QualityDegraded  bool   `json:"quality_degraded"`
	DownloadToken    string `json:"download_token"`
}

// ErrorMessage reports a failed job.
type ErrorMessage struct {
	Type    string `json:"type"`
	JobID   string `json:"job_id"`
	Message string `json:"message"`
}

// Hub tracks subscribers per job.
type Hub struct {
	mu     sync.Mutex
	jobs   map[string]map[Subscriber]struct{}
	logger *slog.Logger
}

// NewHub constructs an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		jobs:   make(map[string]map[Subscriber]struct{}),
		logger: logging.NewComponentLogger(logger, "notify"),
	}
}

// Subscribe registers sub for jobID and immediately replays the given
// payloads so a late subscriber still sees the job's current state.
// Replay failures drop the subscriber the same way publish failures do.
func (h *Hub) Subscribe(jobID string, sub Subscriber, replay ...any) {
	h.mu.Lock()
	set, ok := h.jobs[jobID]
	if !ok {
		set = make(map[Subscriber]struct{})
		h.jobs[jobID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	for _, payload := range replay {
		if payload == nil {
			continue
		}
		if err := sub.Send(payload); err != nil {
			h.drop(jobID, sub, err)
			return
		}
	}
}

// Publish delivers payload to every live subscriber of jobID, pruning
// any whose Send fails.
func (h *Hub) Publish(jobID string, payload any) {
	h.mu.Lock()
	subs := make([]Subscriber, 0, len(h.jobs[jobID]))
	for sub := range h.jobs[jobID] {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Send(payload); err != nil {
			h.drop(jobID, sub, err)
		}
	}
}

// UnsubscribeAll detaches sub from every job, typically on transport
// close.
func (h *Hub) UnsubscribeAll(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for jobID, set := range h.jobs {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.jobs, jobID)
		}
	}
}

// RemoveJob discards the subscriber set of a finished job.
func (h *Hub) RemoveJob(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.jobs, jobID)
}

// Subscribers returns the live subscriber count for a job.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.jobs[jobID])
}

func (h *Hub) drop(jobID string, sub Subscriber, err error) {
	h.mu.Lock()
	if set, ok := h.jobs[jobID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.jobs, jobID)
		}
	}
	h.mu.Unlock()

	h.logger.Debug("subscriber dropped",
		logging.String(logging.FieldJobID, jobID),
		logging.Error(err),
	)
}
