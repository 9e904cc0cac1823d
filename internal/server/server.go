// Package server exposes the HTTP and websocket surface of the
// gateway: session auth, uploads, generation submission, result
// download, and the per-job notification stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"easel/internal/config"
	"easel/internal/journal"
	"easel/internal/logging"
	"easel/internal/notify"
	"easel/internal/scheduler"
	"easel/internal/session"
)

const sessionCookie = "sid"

// Server serves the public API.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *session.Store
	manager *scheduler.Manager
	hub     *notify.Hub
	journal *journal.Store

	listener net.Listener
	server   *http.Server
}

// New wires the API server. journalStore may be nil.
func New(
	cfg *config.Config,
	store *session.Store,
	manager *scheduler.Manager,
	hub *notify.Hub,
	journalStore *journal.Store,
	logger *slog.Logger,
) *Server {
	srv := &Server{
		cfg:     cfg,
		logger:  logging.NewComponentLogger(logger, "server"),
		store:   store,
		manager: manager,
		hub:     hub,
		journal: journalStore,
	}
	srv.server = &http.Server{
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

// Routes builds the request mux; exported so tests can drive handlers
// through httptest without a listener.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.HandleFunc("GET /api/auth/me", s.handleMe)
	mux.HandleFunc("POST /api/auth/refresh", s.handleRefresh)

	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("GET /api/image/{image_id}", s.handleImage)

	mux.HandleFunc("POST /api/generate", s.handleGenerate)
	mux.HandleFunc("POST /api/generate/cancel", s.handleCancel)
	mux.HandleFunc("GET /api/generate/status/{job_id}", s.handleJobStatus)

	mux.HandleFunc("POST /api/history/undo", s.handleHistoryUndo)
	mux.HandleFunc("GET /api/result/{name}", s.handleResult)

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/jobs", s.handleJobs)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)

	mux.HandleFunc("/ws", s.handleWebsocket)

	return mux
}

// Start begins serving and shuts down when ctx ends.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Server.Bind)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Server.Bind, err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
}

// Addr returns the bound address, useful when the port is dynamic.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// requireSession resolves the sid cookie, writing an unauthorized
// response when absent or unknown.
func (s *Server) requireSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "no session")
		return nil, false
	}
	sess, err := s.store.Get(cookie.Value)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unknown session")
		return nil, false
	}
	return sess, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
