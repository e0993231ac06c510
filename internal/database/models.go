package database

import "time"

const (
	ConversationPrivate = "private"
	ConversationGroup   = "group"
)

const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
)

// User rows are never hard-deleted; IsActive is flipped off instead so message
// attribution survives account removal.
type User struct {
	ID           string    `gorm:"type:uuid;primaryKey" json:"id"`
	Username     string    `gorm:"uniqueIndex;size:100;not null" json:"username"`
	Email        string    `gorm:"uniqueIndex;size:255;not null" json:"email"`
	PasswordHash string    `gorm:"not null" json:"-"`
	IsActive     bool      `gorm:"default:true" json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Conversation carries a MemberKey for private pairs: the two member ids joined
// in lexical order. The unique index makes concurrent find-or-create race-free
// at the store rather than by application-level luck.
type Conversation struct {
	ID            string    `gorm:"type:uuid;primaryKey" json:"id"`
	Type          string    `gorm:"size:10;index;not null" json:"type"`
	MemberKey     string    `gorm:"uniqueIndex;size:80" json:"-"`
	LastMessageAt time.Time `gorm:"index" json:"last_message_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type ConversationMember struct {
	ConversationID string    `gorm:"type:uuid;primaryKey" json:"conversation_id"`
	UserID         string    `gorm:"type:uuid;primaryKey;index" json:"user_id"`
	JoinedAt       time.Time `gorm:"autoCreateTime" json:"joined_at"`
}

// Message is immutable once created.
type Message struct {
	ID             string    `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID string    `gorm:"type:uuid;index;not null" json:"conversation_id"`
	SenderID       string    `gorm:"type:uuid;index;not null" json:"sender_id"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	MessageType    string    `gorm:"size:10;default:'text';not null" json:"message_type"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

// ReadReceipt is unique per (message, reader); re-marking updates ReadAt.
type ReadReceipt struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	MessageID string    `gorm:"type:uuid;uniqueIndex:idx_receipt_message_user;not null" json:"message_id"`
	UserID    string    `gorm:"type:uuid;uniqueIndex:idx_receipt_message_user;not null" json:"user_id"`
	ReadAt    time.Time `gorm:"not null" json:"read_at"`
}

// OutboxEntry is written in the same transaction as its Message and relayed to
// the redis queue out of band, so indexing is at-least-once even if the relay
// dies between commit and enqueue.
type OutboxEntry struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	MessageID    string     `gorm:"type:uuid;uniqueIndex;not null" json:"message_id"`
	Content      string     `gorm:"type:text;not null" json:"content"`
	MessageType  string     `gorm:"size:10;not null" json:"message_type"`
	DispatchedAt *time.Time `gorm:"index" json:"dispatched_at"`
	CreatedAt    time.Time  `json:"created_at"`
}

// MessageEmbedding is the search-index projection of a Message. It lags the
// message by the queue's processing latency and is never authoritative for
// delivery or read state.
type MessageEmbedding struct {
	MessageID      string    `gorm:"type:uuid;primaryKey" json:"message_id"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	SenderID       string    `gorm:"type:uuid;index;not null" json:"sender_id"`
	ConversationID string    `gorm:"type:uuid;index;not null" json:"conversation_id"`
	MessageType    string    `gorm:"size:10;not null" json:"message_type"`
	CreatedAt      int64     `gorm:"not null" json:"created_at"`
	Embedding      string    `gorm:"type:text;not null" json:"-"`
	IndexedAt      time.Time `gorm:"autoCreateTime" json:"indexed_at"`
}
