package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"easel/internal/config"
	"easel/internal/degrade"
	"easel/internal/inference"
	"easel/internal/journal"
	"easel/internal/logging"
	"easel/internal/notify"
	"easel/internal/quality"
	"easel/internal/safety"
	"easel/internal/session"
)

// baseNegativePrompt is always sent; sanitizer findings are appended to
// it with heavy weights.
const baseNegativePrompt = "text, caption, words, letters, handwriting, watermark, logo, signature, subtitles, " +
	"numbers, label, typography, blurry, noisy, lowres, artifacts, (((nsfw))), ((nudity)), " +
	"nude, naked, uncensored, explicit sexual content, erotic, porn, pornography, adult content, " +
	"fetish, bdsm, bondage, leash, collar, lingerie, underwear, panties, bra, bikini, swimsuit, " +
	"see-through, transparent clothing, sheer fabric, latex, leather outfit, harness, thong, g-string, " +
	"cleavage, sideboob, underboob, breasts, nipples, areola, cameltoe, bulge, genital, genitals, penis, " +
	"phallus, vagina, vulva, clitoris, anus, anal, butt, buttocks, ass, rear, crotch, pubic, pubes, " +
	"semen, cum, sperm, ejaculation, orgasm, intercourse, penetration, sexual act, blowjob, oral, handjob, " +
	"hand job, fingering, masturbation, self-pleasure, strip, stripper, lapdance, sensual, suggestive pose, " +
	"provocative, sexy, lewd, obscene, xxx, 18+, r18, nsfw_art, adult_only, profanity, curse, swear, fuck, shit, " +
	"bitch, cock, pussy, dick, slut, whore, hentai"

const defaultQueueCapacity = 128

// Generator produces an image for a generation request. Satisfied by
// *inference.Client.
type Generator interface {
	Generate(ctx context.Context, req *inference.GenerateRequest) (*inference.GenerateResult, error)
}

// PromptNormalizer rewrites a prompt into English when needed.
// Satisfied by *translate.Translator.
type PromptNormalizer interface {
	NormalizePrompt(ctx context.Context, prompt, uiLanguage string) string
}

// CancelOutcome describes what a cancellation request achieved.
type CancelOutcome string

const (
	CancelNotFound  CancelOutcome = "not_found"
	CancelCompleted CancelOutcome = "completed"
	CancelCancelled CancelOutcome = "cancelled"
)

// SubmitRequest is one generation submission.
type SubmitRequest struct {
	BaseImage     []byte
	ScribbleImage []byte
	BaseName      string
	SketchName    string
	Prompt        string
	UILanguage    string
	Quality       quality.Level
	Seed          *int64
}

// Stats summarizes scheduler state for status surfaces.
type Stats struct {
	QueueDepth     int           `json:"queue_depth"`
	DegradeActive  bool          `json:"degrade_active"`
	AverageLatency time.Duration `json:"average_latency"`
	JobsTracked    int           `json:"jobs_tracked"`
}

// Manager owns the job table and the single worker loop.
type Manager struct {
	cfg        *config.Config
	store      *session.Store
	hub        *notify.Hub
	degrade    *degrade.Controller
	generator  Generator
	translator PromptNormalizer
	journal    *journal.Store
	logger     *slog.Logger

	mu        sync.Mutex
	jobs      map[string]*Job
	queue     chan *Job
	activeID  string
	cancelRun context.CancelFunc
	now       func() time.Time
}

// Option customises manager construction.
type Option func(*Manager)

// WithJournal enables terminal-job journaling.
func WithJournal(store *journal.Store) Option {
	return func(m *Manager) {
		m.journal = store
	}
}

// WithTranslator enables prompt normalization before sanitizing.
func WithTranslator(translator PromptNormalizer) Option {
	return func(m *Manager) {
		m.translator = translator
	}
}

// WithQueueCapacity overrides the queue buffer size.
func WithQueueCapacity(capacity int) Option {
	return func(m *Manager) {
		m.queue = make(chan *Job, capacity)
	}
}

// NewManager constructs a manager; Run must be started for jobs to
// make progress.
func NewManager(
	cfg *config.Config,
	store *session.Store,
	hub *notify.Hub,
	controller *degrade.Controller,
	generator Generator,
	logger *slog.Logger,
	opts ...Option,
) *Manager {
	manager := &Manager{
		cfg:       cfg,
		store:     store,
		hub:       hub,
		degrade:   controller,
		generator: generator,
		logger:    logging.NewComponentLogger(logger, "scheduler"),
		jobs:      make(map[string]*Job),
		queue:     make(chan *Job, defaultQueueCapacity),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(manager)
	}
	return manager
}

// Submit admits, sanitizes, and enqueues a new job. Admission failure
// mutates nothing.
func (m *Manager) Submit(ctx context.Context, sess *session.Session, req SubmitRequest) (*Job, error) {
	jobID := "job_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	acquired, err := m.store.AcquireJobSlot(sess.SID, jobID, m.cfg.Sessions.MaxParallelJobs)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, ErrTooManyJobs
	}

	prompt := req.Prompt
	if m.translator != nil {
		prompt = m.translator.NormalizePrompt(ctx, prompt, req.UILanguage)
	}
	sanitized, filtered := safety.SanitizePrompt(prompt)
	negative := safety.AugmentNegativePrompt(baseNegativePrompt, filtered)

	if len(filtered) > 0 {
		m.logger.Info("filtered disallowed terms",
			logging.String(logging.FieldJobID, jobID),
			logging.String("terms", strings.Join(sortedTerms(filtered), ", ")),
		)
	}
	if sanitized == "" && strings.TrimSpace(req.Prompt) != "" {
		m.logger.Info("prompt cleared after sanitizing", logging.String(logging.FieldJobID, jobID))
	}

	// Depth counts the new job as already pending.
	effective, degraded := m.degrade.EffectiveQuality(req.Quality, m.queueDepth()+1)

	job := &Job{
		ID:               jobID,
		SessionID:        sess.SID,
		CreatedAt:        m.now(),
		BaseImage:        req.BaseImage,
		ScribbleImage:    req.ScribbleImage,
		BaseName:         req.BaseName,
		SketchName:       req.SketchName,
		Prompt:           sanitized,
		NegativePrompt:   negative,
		QualityRequested: req.Quality,
		QualityEffective: effective,
		Degraded:         degraded,
		FilteredTerms:    sortedTerms(filtered),
		Status:           StatusQueued,
		Seed:             req.Seed,
	}

	m.mu.Lock()
	m.jobs[jobID] = job
	m.mu.Unlock()

	select {
	case m.queue <- job:
	default:
		m.store.ReleaseJobSlot(sess.SID, jobID)
		m.mu.Lock()
		delete(m.jobs, jobID)
		m.mu.Unlock()
		return nil, ErrQueueFull
	}

	m.publishStatus(job)
	return job, nil
}

// Cancel requests cancellation of a session's job.
func (m *Manager) Cancel(sess *session.Session, jobID string) CancelOutcome {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok || job.SessionID != sess.SID {
		m.mu.Unlock()
		return CancelNotFound
	}
	if job.Status.Terminal() {
		m.mu.Unlock()
		return CancelCompleted
	}

	job.Cancelled = true
	wasQueued := job.Status == StatusQueued
	if wasQueued {
		job.Status = StatusCancelled
	}
	var abort context.CancelFunc
	if job.Status == StatusRunning && m.activeID == jobID {
		abort = m.cancelRun
	}
	m.mu.Unlock()

	m.store.ReleaseJobSlot(sess.SID, jobID)
	if wasQueued {
		m.publishStatus(job)
	}
	if abort != nil {
		abort()
	}
	return CancelCancelled
}

// Snapshot returns a session-scoped status DTO for polling clients. A
// finished job's download token is issued on first sight.
func (m *Manager) Snapshot(sess *session.Session, jobID string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.SessionID != sess.SID {
		return Snapshot{}, ErrNotFound
	}
	m.ensureTokenLocked(job)
	return m.snapshotLocked(job), nil
}

// Subscribe attaches a subscriber to a job after an ownership check,
// replaying the job's current state.
func (m *Manager) Subscribe(sessionID, jobID string, sub notify.Subscriber) error {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok || job.SessionID != sessionID {
		m.mu.Unlock()
		return ErrNotFound
	}
	replay := []any{m.statusPayloadLocked(job)}
	switch {
	case job.Status == StatusDone && job.ResultPath != "":
		m.ensureTokenLocked(job)
		replay = append(replay, m.resultPayloadLocked(job))
	case job.Status == StatusError:
		replay = append(replay, m.errorPayloadLocked(job))
	}
	m.mu.Unlock()

	m.hub.Subscribe(jobID, sub, replay...)
	return nil
}

// Run consumes the queue until ctx ends. One job runs at a time.
func (m *Manager) Run(ctx context.Context) {
	m.logger.Info("worker started")
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("worker stopped")
			return
		case job := <-m.queue:
			m.process(ctx, job)
		}
	}
}

// Stats reports queue and degrade state.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	tracked := len(m.jobs)
	m.mu.Unlock()
	return Stats{
		QueueDepth:     m.queueDepth(),
		DegradeActive:  m.degrade.Active(),
		AverageLatency: m.degrade.AverageLatency(),
		JobsTracked:    tracked,
	}
}

// EvictTerminal drops terminal jobs older than maxAge from the job
// table, along with their subscriber sets, and returns the count.
func (m *Manager) EvictTerminal(maxAge time.Duration) int {
	cutoff := m.now().Add(-maxAge)

	m.mu.Lock()
	var evicted []string
	for id, job := range m.jobs {
		if job.Status.Terminal() && !job.FinishedAt.IsZero() && job.FinishedAt.Before(cutoff) {
			evicted = append(evicted, id)
		}
	}
	for _, id := range evicted {
		delete(m.jobs, id)
	}
	m.mu.Unlock()

	for _, id := range evicted {
		m.hub.RemoveJob(id)
	}
	if len(evicted) > 0 {
		m.logger.Info("terminal jobs evicted", logging.Int("count", len(evicted)))
	}
	return len(evicted)
}

// RunEviction periodically evicts terminal jobs until ctx ends.
func (m *Manager) RunEviction(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.EvictTerminal(maxAge)
		}
	}
}

func (m *Manager) process(ctx context.Context, job *Job) {
	start := m.now()

	m.mu.Lock()
	m.activeID = job.ID
	cancelledPreRun := job.Cancelled
	alreadyNotified := job.Status == StatusCancelled
	m.mu.Unlock()

	if cancelledPreRun {
		if !alreadyNotified {
			m.transition(job, StatusCancelled)
		}
	} else {
		m.transition(job, StatusRunning)

		runCtx, cancel := context.WithCancel(ctx)
		m.mu.Lock()
		// Cancellation may have landed between dequeue and here.
		if job.Cancelled {
			cancel()
		}
		m.cancelRun = cancel
		m.mu.Unlock()

		err := m.produce(runCtx, job)
		cancel()

		m.mu.Lock()
		m.cancelRun = nil
		wasCancelled := job.Cancelled
		m.mu.Unlock()

		switch {
		case wasCancelled || errors.Is(err, context.Canceled):
			m.mu.Lock()
			job.Cancelled = true
			m.mu.Unlock()
			m.transition(job, StatusCancelled)
		case err != nil:
			m.mu.Lock()
			job.ErrorMessage = err.Error()
			m.mu.Unlock()
			m.logger.Error("job failed",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err),
			)
			m.transition(job, StatusError)
		default:
			m.transition(job, StatusDone)
		}
	}

	m.finalize(job, start)
}

// produce runs the inference call and persists the artifact. It is the
// cancellable unit of work.
func (m *Manager) produce(ctx context.Context, job *Job) error {
	m.mu.Lock()
	if job.Seed == nil {
		seed := rand.Int64N(1<<31 - 1)
		job.Seed = &seed
	}
	req := &inference.GenerateRequest{
		Prompt:         job.Prompt,
		NegativePrompt: job.NegativePrompt,
		Seed:           job.Seed,
		BaseImage:      job.BaseImage,
		ScribbleImage:  job.ScribbleImage,
	}
	effective := job.QualityEffective
	m.mu.Unlock()

	preset, ok := quality.PresetFor(effective)
	if !ok {
		return fmt.Errorf("unknown quality level %q", effective)
	}
	req.Preset = preset

	result, err := m.generator.Generate(ctx, req)
	if err != nil {
		return err
	}
	if len(result.Image) == 0 {
		return fmt.Errorf("%w: empty image payload", inference.ErrBadResponse)
	}

	dir := m.store.Dir(job.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create result directory: %w", err)
	}
	resultPath := filepath.Join(dir, "result_"+job.ID+".png")
	if err := os.WriteFile(resultPath, result.Image, 0o644); err != nil {
		return fmt.Errorf("write result artifact: %w", err)
	}

	m.mu.Lock()
	if result.Seed != nil {
		job.Seed = result.Seed
	}
	job.ResultPath = resultPath
	// Input buffers are dead weight once the artifact exists.
	job.BaseImage = nil
	job.ScribbleImage = nil
	meta := &session.ResultMeta{
		ResultID:         job.ID,
		Path:             resultPath,
		Seed:             job.Seed,
		QualityRequested: job.QualityRequested,
		QualityEffective: job.QualityEffective,
		CreatedAt:        m.now(),
	}
	m.mu.Unlock()

	return m.store.AddResult(job.SessionID, meta)
}

// transition moves the job to status and notifies subscribers.
func (m *Manager) transition(job *Job, status Status) {
	m.mu.Lock()
	job.Status = status
	m.mu.Unlock()
	m.publishStatus(job)
}

// finalize runs on every terminal path: frees the admission slot, feeds
// the latency window, re-evaluates degrade mode, and journals the job.
func (m *Manager) finalize(job *Job, start time.Time) {
	elapsed := m.now().Sub(start)

	m.mu.Lock()
	m.activeID = ""
	job.FinishedAt = m.now()
	entry := journal.Entry{
		JobID:            job.ID,
		SessionID:        job.SessionID,
		Status:           string(job.Status),
		QualityRequested: string(job.QualityRequested),
		QualityEffective: string(job.QualityEffective),
		Degraded:         job.Degraded,
		ErrorMessage:     job.ErrorMessage,
		Duration:         elapsed,
		FinishedAt:       job.FinishedAt,
	}
	m.mu.Unlock()

	m.store.ReleaseJobSlot(job.SessionID, job.ID)
	m.degrade.RecordLatency(elapsed)
	m.degrade.Evaluate(m.queueDepth())

	if m.journal != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.journal.Record(ctx, entry); err != nil {
			m.logger.Warn("journal terminal job",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err),
			)
		}
	}
}

// publishStatus emits the message matching the job's current state.
func (m *Manager) publishStatus(job *Job) {
	m.mu.Lock()
	var payload any
	switch {
	case job.Status == StatusDone && job.ResultPath != "":
		m.ensureTokenLocked(job)
		payload = m.resultPayloadLocked(job)
	case job.Status == StatusError:
		payload = m.errorPayloadLocked(job)
	default:
		payload = m.statusPayloadLocked(job)
	}
	m.mu.Unlock()

	m.hub.Publish(job.ID, payload)
}

func (m *Manager) statusPayloadLocked(job *Job) notify.StatusMessage {
	kind := "status"
	if job.Status.Terminal() {
		kind = string(job.Status)
	}
	return notify.StatusMessage{
		Type:             kind,
		JobID:            job.ID,
		Value:            string(job.Status),
		QualityEffective: string(job.QualityEffective),
		QualityDegraded:  job.Degraded,
	}
}

func (m *Manager) resultPayloadLocked(job *Job) notify.ResultMessage {
	return notify.ResultMessage{
		Type:             "result",
		JobID:            job.ID,
		ResultURL:        resultURL(job.ResultPath),
		Seed:             job.Seed,
		QualityEffective: string(job.QualityEffective),
		QualityDegraded:  job.Degraded,
		DownloadToken:    job.DownloadToken,
	}
}

func (m *Manager) errorPayloadLocked(job *Job) notify.ErrorMessage {
	message := job.ErrorMessage
	if message == "" {
		message = "generation failed"
	}
	return notify.ErrorMessage{Type: "error", JobID: job.ID, Message: message}
}

// ensureTokenLocked lazily issues the job's download token once a
// result exists.
func (m *Manager) ensureTokenLocked(job *Job) {
	if job.Status != StatusDone || job.ResultPath == "" || job.DownloadToken != "" {
		return
	}
	token, err := m.store.IssueDownloadToken(job.SessionID, job.ID)
	if err != nil {
		m.logger.Warn("issue download token",
			logging.String(logging.FieldJobID, job.ID),
			logging.Error(err),
		)
		return
	}
	job.DownloadToken = token
}

func (m *Manager) snapshotLocked(job *Job) Snapshot {
	snapshot := Snapshot{
		JobID:            job.ID,
		Status:           job.Status,
		QualityEffective: string(job.QualityEffective),
		QualityDegraded:  job.Degraded,
		Seed:             job.Seed,
		DownloadToken:    job.DownloadToken,
		ErrorMessage:     job.ErrorMessage,
	}
	if job.ResultPath != "" {
		url := resultURL(job.ResultPath)
		snapshot.ResultURL = &url
	}
	return snapshot
}

func (m *Manager) queueDepth() int {
	m.mu.Lock()
	active := 0
	if m.activeID != "" {
		active = 1
	}
	m.mu.Unlock()
	return len(m.queue) + active
}

func resultURL(resultPath string) string {
	return "/api/result/" + filepath.Base(resultPath)
}

func sortedTerms(terms map[string]struct{}) []string {
	out := make([]string, 0, len(terms))
	for term := range terms {
		out = append(out, term)
	}
	sort.Strings(out)
	return out
}
