package server

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"easel/internal/session"
)

type loginRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload loginRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}
	if payload.Password != s.cfg.Server.AuthPassword {
		s.writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid password")
		return
	}

	sess, err := s.store.Create(buildUserInfo(r))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "SESSION_CREATE", err.Error())
		return
	}
	s.setSessionCookie(w, sess)
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "user_id": sess.UserID})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		s.store.Remove(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"sid":       sess.SID,
		"user_id":   sess.UserID,
		"user_info": sess.UserInfo,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	s.setSessionCookie(w, sess)
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) setSessionCookie(w http.ResponseWriter, sess *session.Session) {
	ttl := s.cfg.SessionTTL()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.SID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.cfg.Server.CookieSecure,
		Expires:  time.Now().Add(ttl),
		MaxAge:   int(ttl.Seconds()),
	})
}

// buildUserInfo records where a session came from: client address plus
// a truncated user agent.
func buildUserInfo(r *http.Request) string {
	host := r.Header.Get("X-Forwarded-For")
	if host != "" {
		host = strings.TrimSpace(strings.Split(host, ",")[0])
	} else if remote, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = remote
	} else {
		host = r.RemoteAddr
	}

	var parts []string
	if host != "" {
		parts = append(parts, host)
	}
	if agent := r.Header.Get("User-Agent"); agent != "" {
		if len(agent) > 120 {
			agent = agent[:120]
		}
		parts = append(parts, agent)
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, " | ")
}
