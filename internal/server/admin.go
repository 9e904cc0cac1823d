package server

import (
	"net/http"
	"strconv"

	"easel/internal/journal"
	"easel/internal/scheduler"
)

// StatusResponse is the daemon status surface consumed by the CLI.
type StatusResponse struct {
	Scheduler scheduler.Stats  `json:"scheduler"`
	Sessions  int              `json:"sessions"`
	Journal   *journal.Summary `json:"journal,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	response := StatusResponse{
		Scheduler: s.manager.Stats(),
		Sessions:  len(s.store.List()),
	}
	if s.journal != nil {
		if summary, err := s.journal.Summary(r.Context()); err == nil {
			response.Journal = &summary
		}
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"jobs": []journal.Entry{}})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "JOURNAL_READ", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": entries})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": s.store.List()})
}
