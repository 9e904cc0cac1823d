package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"easel/internal/config"
	"easel/internal/logging"
)

// Store manages all live sessions and their on-disk artifact namespaces.
type Store struct {
	mu sync.Mutex

	dataDir     string
	ttl         time.Duration
	historySize int
	logger      *slog.Logger
	sessions    map[string]*Session
	now         func() time.Time
}

// NewStore constructs a session store rooted at the configured data directory.
func NewStore(cfg *config.Config, logger *slog.Logger) *Store {
	return &Store{
		dataDir:     cfg.Paths.DataDir,
		ttl:         cfg.SessionTTL(),
		historySize: cfg.Sessions.HistorySize,
		logger:      logging.NewComponentLogger(logger, "sessions"),
		sessions:    make(map[string]*Session),
		now:         time.Now,
	}
}

// Create materializes a new session with an unguessable id and a
// session-scoped storage directory.
func (s *Store) Create(userInfo string) (*Session, error) {
	sid := "sid_" + randomHex(16)
	userID := "user_" + randomHex(8)
	now := s.now()

	if userInfo == "" {
		userInfo = "unknown"
	}
	sess := &Session{
		SID:            sid,
		UserID:         userID,
		UserInfo:       userInfo,
		CreatedAt:      now,
		lastSeen:       now,
		baseImages:     make(map[string]string),
		results:        make(map[string]*ResultMeta),
		downloadTokens: make(map[string]*ResultMeta),
		activeJobs:     make(map[string]struct{}),
	}

	if err := os.MkdirAll(s.Dir(sid), 0o755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	s.mu.Lock()
	s.sessions[sid] = sess
	s.mu.Unlock()

	s.logger.Info("session created",
		logging.String(logging.FieldSessionID, sid),
		logging.String("user_id", userID),
	)
	return sess, nil
}

// Get returns the session for sid and refreshes its last-seen timestamp.
// Returns ErrUnauthorized when the session is absent.
func (s *Store) Get(sid string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sid]
	if sid == "" || !ok {
		return nil, ErrUnauthorized
	}
	sess.lastSeen = s.now()
	return sess, nil
}

// TryGet is the non-failing variant of Get for protocols where absence
// is not fatal.
func (s *Store) TryGet(sid string) *Session {
	sess, err := s.Get(sid)
	if err != nil {
		return nil
	}
	return sess
}

// Remove deletes a session and every artifact stored under its namespace.
func (s *Store) Remove(sid string) {
	s.mu.Lock()
	_, ok := s.sessions[sid]
	delete(s.sessions, sid)
	s.mu.Unlock()

	if ok {
		if err := os.RemoveAll(s.Dir(sid)); err != nil {
			s.logger.Warn("remove session directory",
				logging.String(logging.FieldSessionID, sid),
				logging.Error(err),
			)
		}
	}
}

// Cleanup removes every session whose last-seen age exceeds the TTL and
// returns the number removed.
func (s *Store) Cleanup() int {
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	var stale []string
	for sid, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) {
			stale = append(stale, sid)
		}
	}
	s.mu.Unlock()

	for _, sid := range stale {
		s.Remove(sid)
	}
	if len(stale) > 0 {
		s.logger.Info("expired sessions removed", logging.Int("count", len(stale)))
	}
	return len(stale)
}

// RunCleanup invokes Cleanup on the given interval until ctx ends.
func (s *Store) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Cleanup()
			return
		case <-ticker.C:
			s.Cleanup()
		}
	}
}

// Dir returns the artifact directory for a session.
func (s *Store) Dir(sid string) string {
	return filepath.Join(s.dataDir, sid)
}

// RegisterBaseImage records an uploaded base image and marks it current.
func (s *Store) RegisterBaseImage(sid, imageID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sid]
	if !ok {
		return ErrUnauthorized
	}
	sess.baseImages[imageID] = path
	sess.currentBase = imageID
	return nil
}

// BaseImage resolves a registered base image path.
func (s *Store) BaseImage(sid, imageID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sid]
	if !ok {
		return "", ErrUnauthorized
	}
	path, ok := sess.baseImages[imageID]
	if !ok {
		return "", fmt.Errorf("base image %s: %w", imageID, ErrNotFound)
	}
	return path, nil
}

// AddResult inserts a result into the session's results map and history
// ring. When the ring is at capacity the oldest entry is evicted and its
// artifact deleted before the new one is appended.
func (s *Store) AddResult(sid string, meta *ResultMeta) error {
	s.mu.Lock()
	sess, ok := s.sessions[sid]
	if !ok {
		s.mu.Unlock()
		return ErrUnauthorized
	}
	var evicted *ResultMeta
	if len(sess.history) >= s.historySize {
		oldestID := sess.history[0]
		sess.history = sess.history[1:]
		evicted = sess.results[oldestID]
		delete(sess.results, oldestID)
	}
	sess.results[meta.ResultID] = meta
	sess.history = append(sess.history, meta.ResultID)
	s.mu.Unlock()

	if evicted != nil {
		if err := os.Remove(evicted.Path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("delete evicted result",
				logging.String(logging.FieldSessionID, sid),
				logging.String("result_id", evicted.ResultID),
				logging.Error(err),
			)
		}
	}
	return nil
}

// Result looks up a result the session owns.
func (s *Store) Result(sid, resultID string) (*ResultMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sid]
	if !ok {
		return nil, ErrUnauthorized
	}
	meta, ok := sess.results[resultID]
	if !ok {
		return nil, fmt.Errorf("result %s: %w", resultID, ErrNotFound)
	}
	return meta, nil
}

// ResultByName finds a session result by its artifact file name.
func (s *Store) ResultByName(sid, name string) (*ResultMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sid]
	if !ok {
		return nil, ErrUnauthorized
	}
	for _, meta := range sess.results {
		if filepath.Base(meta.Path) == name {
			return meta, nil
		}
	}
	return nil, fmt.Errorf("result %s: %w", name, ErrNotFound)
}

// PopHistory removes the most recent ring entry and returns the new
// most-recent result. Fails with ErrNoHistory when fewer than two
// entries exist.
func (s *Store) PopHistory(sid string) (*ResultMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sid]
	if !ok {
		return nil, ErrUnauthorized
	}
	if len(sess.history) <= 1 {
		return nil, ErrNoHistory
	}
	sess.history = sess.history[:len(sess.history)-1]
	previousID := sess.history[len(sess.history)-1]
	return sess.results[previousID], nil
}

// IssueDownloadToken binds a result to a fresh single-use token.
func (s *Store) IssueDownloadToken(sid, resultID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sid]
	if !ok {
		return "", ErrUnauthorized
	}
	meta, ok := sess.results[resultID]
	if !ok {
		return "", fmt.Errorf("result %s: %w", resultID, ErrNotFound)
	}
	token := randomHex(16)
	sess.downloadTokens[token] = meta
	return token, nil
}

// ConsumeDownloadToken redeems a token, removing the mapping so a second
// consumption fails with ErrInvalidToken.
func (s *Store) ConsumeDownloadToken(sid, token string) (*ResultMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sid]
	if !ok {
		return nil, ErrUnauthorized
	}
	meta, ok := sess.downloadTokens[token]
	if !ok {
		return nil, ErrInvalidToken
	}
	delete(sess.downloadTokens, token)
	return meta, nil
}

// AcquireJobSlot reserves an admission slot for a job. It reports false
// when the session already holds max active jobs; no state is mutated in
// that case.
func (s *Store) AcquireJobSlot(sid, jobID string, max int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sid]
	if !ok {
		return false, ErrUnauthorized
	}
	if len(sess.activeJobs) >= max {
		return false, nil
	}
	sess.activeJobs[jobID] = struct{}{}
	return true, nil
}

// ReleaseJobSlot frees a job's admission slot. Safe to call repeatedly
// and after the session is gone.
func (s *Store) ReleaseJobSlot(sid, jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sid]; ok {
		delete(sess.activeJobs, jobID)
	}
}

// ActiveJobs returns the session's current active job count.
func (s *Store) ActiveJobs(sid string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sid]; ok {
		return len(sess.activeJobs)
	}
	return 0
}

// ResultCount returns how many results the session currently retains.
func (s *Store) ResultCount(sid string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sid]; ok {
		return len(sess.results)
	}
	return 0
}

// List summarizes all live sessions, most recently seen first.
func (s *Store) List() []Info {
	s.mu.Lock()
	infos := make([]Info, 0, len(s.sessions))
	for _, sess := range s.sessions {
		infos = append(infos, Info{
			SID:        sess.SID,
			UserID:     sess.UserID,
			UserInfo:   sess.UserInfo,
			CreatedAt:  sess.CreatedAt,
			LastSeen:   sess.lastSeen,
			ActiveJobs: len(sess.activeJobs),
			Results:    len(sess.results),
		})
	}
	s.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].LastSeen.After(infos[j].LastSeen) })
	return infos
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("read random bytes: %v", err))
	}
	return hex.EncodeToString(buf)
}
