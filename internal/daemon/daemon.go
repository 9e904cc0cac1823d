package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"easel/internal/config"
	"easel/internal/degrade"
	"easel/internal/inference"
	"easel/internal/journal"
	"easel/internal/logging"
	"easel/internal/notify"
	"easel/internal/scheduler"
	"easel/internal/server"
	"easel/internal/session"
	"easel/internal/translate"
)

// Terminal jobs older than this are dropped from the in-memory job
// table; the journal keeps the durable record.
const (
	jobRetention     = time.Hour
	evictionInterval = 5 * time.Minute
	journalRetention = 7 * 24 * time.Hour
	pruneInterval    = time.Hour
)

// Daemon coordinates the background services and enforces
// single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *session.Store
	manager *scheduler.Manager
	hub     *notify.Hub
	journal *journal.Store
	server  *server.Server

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// New constructs a daemon with all services wired.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("daemon requires config and logger")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	journalStore, err := journal.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	store := session.NewStore(cfg, logger)
	hub := notify.NewHub(logger)
	controller := degrade.NewController(cfg)
	client := inference.NewClient(cfg, logger)
	translator := translate.NewTranslator(logger)

	manager := scheduler.NewManager(cfg, store, hub, controller, client, logger,
		scheduler.WithJournal(journalStore),
		scheduler.WithTranslator(translator),
	)

	lockPath := filepath.Join(cfg.Paths.DataDir, "easeld.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		manager:  manager,
		hub:      hub,
		journal:  journalStore,
		server:   server.New(cfg, store, manager, hub, journalStore, logger),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock and launches the worker, the cleanup
// loops, and the API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another easel daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go d.manager.Run(runCtx)
	go d.store.RunCleanup(runCtx, d.cfg.CleanupInterval())
	go d.manager.RunEviction(runCtx, evictionInterval, jobRetention)
	go d.pruneJournal(runCtx)

	if err := d.server.Start(runCtx); err != nil {
		cancel()
		d.cancel = nil
		_ = d.lock.Unlock()
		return err
	}

	d.running.Store(true)
	d.logger.Info("easel daemon started", logging.String("lock", d.lockPath))
	return nil
}

func (d *Daemon) pruneJournal(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := d.journal.Prune(ctx, journalRetention)
			if err != nil {
				d.logger.Warn("prune journal", logging.Error(err))
				continue
			}
			if removed > 0 {
				d.logger.Info("journal pruned", logging.Int("removed", int(removed)))
			}
		}
	}
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.server.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("easel daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return d.journal.Close()
}

// Running reports whether the daemon is active.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Addr returns the API server's bound address once started.
func (d *Daemon) Addr() string {
	return d.server.Addr()
}
