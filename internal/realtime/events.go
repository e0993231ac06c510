package realtime

import (
	"encoding/json"

	"parley/internal/chat"
)

// Client -> server events.
const (
	EventSendMessage          = "send_message"
	EventTypingStart          = "typing_start"
	EventTypingStop           = "typing_stop"
	EventMarkRead             = "mark_read"
	EventMarkConversationRead = "mark_conversation_read"
)

// Server -> client events.
const (
	EventMessageSent         = "message_sent"
	EventReceiveMessage      = "receive_message"
	EventMessageRead         = "message_read"
	EventUserTyping          = "user_typing"
	EventUserStopTyping      = "user_stop_typing"
	EventUserStatusChange    = "user_status_change"
	EventConversationUpdated = "conversation_updated"
	EventNewConversation     = "new_conversation"
	EventError               = "error"
)

// Envelope is the wire frame for both directions. Data is decoded into the
// typed payload for the named event before any handler runs; unknown events
// and malformed payloads are rejected at this boundary.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type Outbound struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

type SendMessagePayload struct {
	ReceiverID     string `json:"receiverId"`
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	MessageType    string `json:"messageType"`
}

type TypingPayload struct {
	ReceiverID string `json:"receiverId"`
}

type MarkReadPayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

type MarkConversationReadPayload struct {
	ConversationID string `json:"conversationId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type StatusChangePayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Status   string `json:"status"`
}

type TypingNotice struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

type ConversationUpdatedPayload struct {
	ConversationID string           `json:"conversationId"`
	LastMessage    chat.MessageView `json:"lastMessage"`
}

type NewConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

type MessageReadPayload struct {
	MessageID      string `json:"messageId"`
	UserID         string `json:"userId"`
	ReadAt         string `json:"readAt"`
	ConversationID string `json:"conversationId"`
}
