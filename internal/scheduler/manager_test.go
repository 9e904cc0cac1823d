package scheduler_test

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"easel/internal/config"
	"easel/internal/degrade"
	"easel/internal/inference"
	"easel/internal/logging"
	"easel/internal/notify"
	"easel/internal/quality"
	"easel/internal/scheduler"
	"easel/internal/session"
	"easel/internal/testsupport"
)

type fakeGenerator struct {
	calls   atomic.Int32
	block   chan struct{}
	failErr error
}

func (f *fakeGenerator) Generate(ctx context.Context, req *inference.GenerateRequest) (*inference.GenerateResult, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-f.block:
		}
	}
	if f.failErr != nil {
		return nil, f.failErr
	}
	seed := int64(99)
	return &inference.GenerateResult{Image: []byte("png-bytes"), Seed: &seed}, nil
}

type fixture struct {
	cfg     *config.Config
	store   *session.Store
	hub     *notify.Hub
	manager *scheduler.Manager
	gen     *fakeGenerator
	sess    *session.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := session.NewStore(cfg, logging.NewNop())
	hub := notify.NewHub(logging.NewNop())
	gen := &fakeGenerator{}
	manager := scheduler.NewManager(cfg, store, hub, degrade.NewController(cfg), gen, logging.NewNop())

	sess, err := store.Create("test")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return &fixture{cfg: cfg, store: store, hub: hub, manager: manager, gen: gen, sess: sess}
}

func (f *fixture) submit(t *testing.T) *scheduler.Job {
	t.Helper()
	job, err := f.manager.Submit(context.Background(), f.sess, scheduler.SubmitRequest{
		BaseImage:     []byte("base"),
		ScribbleImage: []byte("scribble"),
		BaseName:      "base.png",
		SketchName:    "sketch.png",
		Prompt:        "a castle on a hill",
		Quality:       quality.Normal,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return job
}

func (f *fixture) waitForStatus(t *testing.T, jobID string, want scheduler.Status) scheduler.Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snapshot, err := f.manager.Snapshot(f.sess, jobID)
		if err == nil && snapshot.Status == want {
			return snapshot
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", jobID, want)
	return scheduler.Snapshot{}
}

func TestAdmissionLimit(t *testing.T) {
	f := newFixture(t)
	// No worker running, so both jobs stay queued and hold their slots.
	f.submit(t)
	f.submit(t)

	_, err := f.manager.Submit(context.Background(), f.sess, scheduler.SubmitRequest{
		Prompt: "third", Quality: quality.Normal,
	})
	if !errors.Is(err, scheduler.ErrTooManyJobs) {
		t.Fatalf("third submit: %v", err)
	}
	if got := f.store.ActiveJobs(f.sess.SID); got != 2 {
		t.Fatalf("active jobs after rejection = %d", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.manager.Run(ctx)

	// Once one of the first two finishes, a third submission succeeds.
	deadline := time.Now().Add(5 * time.Second)
	for f.store.ActiveJobs(f.sess.SID) > 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := f.manager.Submit(context.Background(), f.sess, scheduler.SubmitRequest{
		Prompt: "third again", Quality: quality.Normal,
	}); err != nil {
		t.Fatalf("submit after drain: %v", err)
	}
}

func TestJobCompletesAndStoresResult(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.manager.Run(ctx)

	job := f.submit(t)
	snapshot := f.waitForStatus(t, job.ID, scheduler.StatusDone)

	if snapshot.ResultURL == nil || *snapshot.ResultURL != "/api/result/result_"+job.ID+".png" {
		t.Fatalf("result url = %v", snapshot.ResultURL)
	}
	if snapshot.Seed == nil || *snapshot.Seed != 99 {
		t.Fatalf("seed = %v", snapshot.Seed)
	}
	if snapshot.DownloadToken == "" {
		t.Fatal("expected lazily issued download token")
	}

	meta, err := f.store.Result(f.sess.SID, job.ID)
	if err != nil {
		t.Fatalf("result meta: %v", err)
	}
	data, err := os.ReadFile(meta.Path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Fatalf("artifact = %q", data)
	}
	if got := f.store.ActiveJobs(f.sess.SID); got != 0 {
		t.Fatalf("active jobs after completion = %d", got)
	}
}

func TestCancelQueuedNeverCallsInference(t *testing.T) {
	f := newFixture(t)

	job := f.submit(t)
	if outcome := f.manager.Cancel(f.sess, job.ID); outcome != scheduler.CancelCancelled {
		t.Fatalf("cancel outcome = %s", outcome)
	}

	snapshot, err := f.manager.Snapshot(f.sess, job.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.Status != scheduler.StatusCancelled {
		t.Fatalf("status = %s", snapshot.Status)
	}

	// Run the worker so the cancelled job is dequeued and finalized.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.manager.Run(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for f.manager.Stats().QueueDepth > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if f.gen.calls.Load() != 0 {
		t.Fatalf("inference called %d times for cancelled job", f.gen.calls.Load())
	}
}

func TestCancelRunningJob(t *testing.T) {
	f := newFixture(t)
	f.gen.block = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.manager.Run(ctx)

	job := f.submit(t)
	f.waitForStatus(t, job.ID, scheduler.StatusRunning)

	if outcome := f.manager.Cancel(f.sess, job.ID); outcome != scheduler.CancelCancelled {
		t.Fatalf("cancel outcome = %s", outcome)
	}
	snapshot := f.waitForStatus(t, job.ID, scheduler.StatusCancelled)
	if snapshot.ErrorMessage != "" {
		t.Fatalf("cancellation recorded as error: %q", snapshot.ErrorMessage)
	}

	// A terminal job reports completed on re-cancel.
	if outcome := f.manager.Cancel(f.sess, job.ID); outcome != scheduler.CancelCompleted {
		t.Fatalf("re-cancel outcome = %s", outcome)
	}
}

func TestCancelUnknownOrForeignJob(t *testing.T) {
	f := newFixture(t)
	if outcome := f.manager.Cancel(f.sess, "job_missing"); outcome != scheduler.CancelNotFound {
		t.Fatalf("outcome = %s", outcome)
	}

	job := f.submit(t)
	other, err := f.store.Create("other")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if outcome := f.manager.Cancel(other, job.ID); outcome != scheduler.CancelNotFound {
		t.Fatalf("cross-session outcome = %s", outcome)
	}
}

func TestErrorFlow(t *testing.T) {
	f := newFixture(t)
	f.gen.failErr = errors.New("backend exploded")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.manager.Run(ctx)

	job := f.submit(t)
	snapshot := f.waitForStatus(t, job.ID, scheduler.StatusError)
	if snapshot.ErrorMessage != "backend exploded" {
		t.Fatalf("error message = %q", snapshot.ErrorMessage)
	}
	if got := f.store.ActiveJobs(f.sess.SID); got != 0 {
		t.Fatalf("active jobs after error = %d", got)
	}
}

type channelSubscriber struct {
	payloads chan any
}

func (c *channelSubscriber) Send(payload any) error {
	c.payloads <- payload
	return nil
}

func TestSubscriberSeesOrderedTransitions(t *testing.T) {
	f := newFixture(t)
	job := f.submit(t)

	sub := &channelSubscriber{payloads: make(chan any, 16)}
	if err := f.manager.Subscribe(f.sess.SID, job.ID, sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.manager.Run(ctx)

	var values []string
	deadline := time.After(5 * time.Second)
	for len(values) < 3 {
		select {
		case payload := <-sub.payloads:
			switch msg := payload.(type) {
			case notify.StatusMessage:
				values = append(values, msg.Value)
			case notify.ResultMessage:
				values = append(values, "result")
				if msg.DownloadToken == "" {
					t.Error("result message lacks download token")
				}
			}
		case <-deadline:
			t.Fatalf("transitions so far: %v", values)
		}
	}
	if values[0] != "queued" || values[1] != "running" || values[2] != "result" {
		t.Fatalf("transition order = %v", values)
	}
}

func TestSubscribeOwnershipCheck(t *testing.T) {
	f := newFixture(t)
	job := f.submit(t)

	sub := &channelSubscriber{payloads: make(chan any, 4)}
	if err := f.manager.Subscribe("sid_other", job.ID, sub); !errors.Is(err, scheduler.ErrNotFound) {
		t.Fatalf("cross-session subscribe: %v", err)
	}
	if err := f.manager.Subscribe(f.sess.SID, "job_missing", sub); !errors.Is(err, scheduler.ErrNotFound) {
		t.Fatalf("unknown job subscribe: %v", err)
	}
}

func TestSanitizerFeedsNegativePrompt(t *testing.T) {
	f := newFixture(t)
	job, err := f.manager.Submit(context.Background(), f.sess, scheduler.SubmitRequest{
		Prompt:  "sexy castle at night",
		Quality: quality.Normal,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.Prompt != "castle at night" {
		t.Fatalf("sanitized prompt = %q", job.Prompt)
	}
	if len(job.FilteredTerms) != 1 || job.FilteredTerms[0] != "sexy" {
		t.Fatalf("filtered terms = %v", job.FilteredTerms)
	}
}

func TestEvictTerminal(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.manager.Run(ctx)

	job := f.submit(t)
	f.waitForStatus(t, job.ID, scheduler.StatusDone)

	if evicted := f.manager.EvictTerminal(time.Hour); evicted != 0 {
		t.Fatalf("fresh job evicted: %d", evicted)
	}
	if evicted := f.manager.EvictTerminal(0); evicted != 1 {
		t.Fatalf("evicted = %d", evicted)
	}
	if _, err := f.manager.Snapshot(f.sess, job.ID); !errors.Is(err, scheduler.ErrNotFound) {
		t.Fatalf("snapshot after eviction: %v", err)
	}
}

func TestDegradedSubmissionUnderLoad(t *testing.T) {
	f := newFixture(t)
	f.gen.block = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.manager.Run(ctx)

	// Hold one job running and queue another; the next submission sees
	// depth 3 counting itself and lands degraded.
	first := f.submit(t)
	f.waitForStatus(t, first.ID, scheduler.StatusRunning)
	f.submit(t)

	other, err := f.store.Create("other")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	job, err := f.manager.Submit(context.Background(), other, scheduler.SubmitRequest{
		Prompt:  "busy scene",
		Quality: quality.High,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !job.Degraded || job.QualityEffective != quality.Normal {
		t.Fatalf("quality = %s degraded = %v", job.QualityEffective, job.Degraded)
	}
	close(f.gen.block)
}
