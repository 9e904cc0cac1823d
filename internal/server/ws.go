package server

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"easel/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browser clients connect from the UI origin; session cookies are
	// the actual access control.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsSubscriber adapts one websocket connection to the notification
// hub. Writes are serialized; gorilla connections do not allow
// concurrent writers.
type wsSubscriber struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSubscriber) Send(payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(payload)
}

type wsRequest struct {
	Action string `json:"action"`
	JobID  string `json:"job_id"`
	SID    string `json:"sid"`
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()

	sub := &wsSubscriber{conn: conn}
	defer s.hub.UnsubscribeAll(sub)

	// Session can arrive via cookie, query parameter, or inside the
	// subscribe message itself.
	sidHint := ""
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		sidHint = cookie.Value
	}
	if sidHint == "" {
		sidHint = r.URL.Query().Get("sid")
	}
	sess := s.store.TryGet(sidHint)

	for {
		var msg wsRequest
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Action != "subscribe" || msg.JobID == "" {
			continue
		}

		if sess == nil && msg.SID != "" {
			sess = s.store.TryGet(msg.SID)
		}
		if sess == nil {
			sess = s.store.TryGet(sidHint)
		}
		if sess == nil {
			_ = sub.Send(wsError(msg.JobID, "unauthorized"))
			continue
		}

		if err := s.manager.Subscribe(sess.SID, msg.JobID, sub); err != nil {
			_ = sub.Send(wsError(msg.JobID, "job not found"))
		}
	}
}

func wsError(jobID, message string) map[string]string {
	return map[string]string{"type": "error", "job_id": jobID, "message": message}
}
