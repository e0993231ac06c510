package chat

import (
	"time"

	"github.com/google/uuid"
)

func newID() string { return uuid.New().String() }

type SendMessageInput struct {
	SenderID       string
	SenderName     string
	ReceiverID     string
	ConversationID string
	Content        string
	MessageType    string
}

// MessageView is the wire shape of a message, shared by the realtime events and
// the HTTP surface.
type MessageView struct {
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	SenderID       string    `json:"senderId"`
	SenderName     string    `json:"senderName"`
	ConversationID string    `json:"conversationId"`
	MessageType    string    `json:"messageType"`
	CreatedAt      time.Time `json:"createdAt"`
}

// SendResult carries everything the dispatch layer needs for fan-out.
type SendResult struct {
	Message             MessageView
	ConversationID      string
	ConversationCreated bool
	RecipientIDs        []string
}

// ReceiptNotice pairs a created receipt with the id of the sender to notify.
type ReceiptNotice struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	ReaderID       string    `json:"userId"`
	ReadAt         time.Time `json:"readAt"`
	SenderID       string    `json:"-"`
}

type UserView struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	IsActive bool   `json:"isActive"`
}

type ConversationSummary struct {
	ID            string       `json:"id"`
	OtherUser     *UserView    `json:"otherUser"`
	LastMessage   *MessageView `json:"lastMessage"`
	LastMessageAt time.Time    `json:"lastMessageAt"`
	UnreadCount   int64        `json:"unreadCount"`
}

type ReceiptView struct {
	UserID string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

type MessageWithReceipts struct {
	MessageView
	ReadReceipts []ReceiptView `json:"readReceipts"`
	IsRead       bool          `json:"isRead"`
}
