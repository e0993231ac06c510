package realtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// session binds one websocket connection to its authenticated user. Writes are
// serialized by the mutex: gorilla connections support one concurrent writer.
type session struct {
	userID   string
	username string

	mu     sync.Mutex
	ws     *websocket.Conn
	closed bool
}

func newSession(userID, username string, ws *websocket.Conn) *session {
	return &session{userID: userID, username: username, ws: ws}
}

func (s *session) UserID() string   { return s.userID }
func (s *session) Username() string { return s.username }

func (s *session) Send(event string, payload interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.ws.WriteJSON(Outbound{Event: event, Data: payload}); err != nil {
		slog.Warn("websocket write failed", "user", s.userID, "event", event, "err", err)
	}
}

func (s *session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	_ = s.ws.Close()
}
