package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"parley/internal/chat"
	"parley/internal/presence"
	"parley/pkg/errors"
)

const (
	maxMessageSize = 64 * 1024
	eventTimeout   = 15 * time.Second
)

// Authenticator resolves a bearer credential to an active user. It runs before
// the connection enters the event-handling phase; no handler is attached to an
// unauthenticated connection.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (userID, username string, err error)
}

// Hub owns the websocket endpoint: it authenticates handshakes, registers
// sessions with the presence directory and runs the per-connection dispatch
// loop. Events on one connection are processed in arrival order.
type Hub struct {
	auth     Authenticator
	chats    *chat.Service
	dir      *presence.Directory
	upgrader websocket.Upgrader

	handshakeWindow time.Duration
}

func NewHub(auth Authenticator, chats *chat.Service, dir *presence.Directory, handshakeWindow time.Duration) *Hub {
	h := &Hub{
		auth:  auth,
		chats: chats,
		dir:   dir,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		handshakeWindow: handshakeWindow,
	}
	dir.OnChange(h.broadcastStatus)
	return h
}

// ServeWS is the handshake entry point. The credential is validated within the
// handshake window and the connection is refused outright on failure.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.handshakeWindow)
	defer cancel()

	userID, username, err := h.auth.Authenticate(ctx, token)
	if err != nil {
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "user", userID, "err", err)
		return
	}
	ws.SetReadLimit(maxMessageSize)

	sess := newSession(userID, username, ws)
	if replaced := h.dir.Register(sess); replaced != nil {
		// Last connection wins; the superseded handle is closed so its read
		// loop exits without unregistering the fresh session.
		replaced.Close()
	}

	slog.Info("user connected", "user", userID, "username", username)
	go h.readLoop(sess)
}

func (h *Hub) readLoop(sess *session) {
	defer func() {
		sess.Close()
		if h.dir.Unregister(sess) {
			slog.Info("user disconnected", "user", sess.userID, "username", sess.username)
		}
	}()

	for {
		_, raw, err := sess.ws.ReadMessage()
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			sess.Send(EventError, ErrorPayload{Message: "malformed event"})
			continue
		}
		h.dispatch(sess, env)
	}
}

func (h *Hub) dispatch(sess *session, env Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	switch env.Event {
	case EventSendMessage:
		var payload SendMessagePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			sess.Send(EventError, ErrorPayload{Message: "malformed event"})
			return
		}
		h.handleSend(ctx, sess, payload)

	case EventTypingStart:
		var payload TypingPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return
		}
		if peer := h.dir.Lookup(payload.ReceiverID); peer != nil {
			peer.Send(EventUserTyping, TypingNotice{UserID: sess.userID, Username: sess.username})
		}

	case EventTypingStop:
		var payload TypingPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return
		}
		if peer := h.dir.Lookup(payload.ReceiverID); peer != nil {
			peer.Send(EventUserStopTyping, TypingNotice{UserID: sess.userID})
		}

	case EventMarkRead:
		var payload MarkReadPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			sess.Send(EventError, ErrorPayload{Message: "malformed event"})
			return
		}
		h.handleMarkRead(ctx, sess, payload)

	case EventMarkConversationRead:
		var payload MarkConversationReadPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			sess.Send(EventError, ErrorPayload{Message: "malformed event"})
			return
		}
		h.handleMarkConversationRead(ctx, sess, payload)

	default:
		sess.Send(EventError, ErrorPayload{Message: "unknown event"})
	}
}

// handleSend runs the full send path: persist atomically, ack the sender, fan
// out to reachable recipients. A failed send emits a single error event to the
// sender and nothing else.
func (h *Hub) handleSend(ctx context.Context, sess *session, payload SendMessagePayload) {
	result, err := h.chats.SendMessage(ctx, chat.SendMessageInput{
		SenderID:       sess.userID,
		SenderName:     sess.username,
		ReceiverID:     payload.ReceiverID,
		ConversationID: payload.ConversationID,
		Content:        payload.Content,
		MessageType:    payload.MessageType,
	})
	if err != nil {
		sess.Send(EventError, ErrorPayload{Message: errors.MessageOf(err)})
		return
	}

	msg := result.Message
	updated := ConversationUpdatedPayload{ConversationID: result.ConversationID, LastMessage: msg}

	sess.Send(EventMessageSent, msg)
	sess.Send(EventReceiveMessage, msg)
	sess.Send(EventConversationUpdated, updated)

	for _, recipientID := range result.RecipientIDs {
		peer := h.dir.Lookup(recipientID)
		if peer == nil {
			continue
		}
		if result.ConversationCreated {
			peer.Send(EventNewConversation, NewConversationPayload{ConversationID: result.ConversationID})
		}
		peer.Send(EventReceiveMessage, msg)
		peer.Send(EventConversationUpdated, updated)
	}
}

func (h *Hub) handleMarkRead(ctx context.Context, sess *session, payload MarkReadPayload) {
	notice, err := h.chats.MarkRead(ctx, payload.MessageID, payload.ConversationID, sess.userID)
	if err != nil {
		sess.Send(EventError, ErrorPayload{Message: errors.MessageOf(err)})
		return
	}
	h.notifyRead(*notice)
}

func (h *Hub) handleMarkConversationRead(ctx context.Context, sess *session, payload MarkConversationReadPayload) {
	notices, err := h.chats.MarkConversationRead(ctx, payload.ConversationID, sess.userID)
	if err != nil {
		sess.Send(EventError, ErrorPayload{Message: errors.MessageOf(err)})
		return
	}
	for _, notice := range notices {
		h.notifyRead(notice)
	}
}

// notifyRead pushes the receipt to the message's sender when reachable. An
// offline sender sees the receipt on their next fetch; the record is already
// durable.
func (h *Hub) notifyRead(notice chat.ReceiptNotice) {
	sender := h.dir.Lookup(notice.SenderID)
	if sender == nil {
		return
	}
	sender.Send(EventMessageRead, MessageReadPayload{
		MessageID:      notice.MessageID,
		UserID:         notice.ReaderID,
		ReadAt:         notice.ReadAt.Format(time.RFC3339Nano),
		ConversationID: notice.ConversationID,
	})
}

// broadcastStatus tells every other connected user about a presence change.
func (h *Hub) broadcastStatus(userID, username string, online bool) {
	status := "offline"
	if online {
		status = "online"
	}
	payload := StatusChangePayload{UserID: userID, Username: username, Status: status}
	for _, s := range h.dir.Sessions() {
		if s.UserID() == userID {
			continue
		}
		s.Send(EventUserStatusChange, payload)
	}
}

func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}
