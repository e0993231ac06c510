package chat

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"parley/internal/database"
)

type Repository interface {
	// Conversation operations
	FindPrivateByMemberKey(ctx context.Context, memberKey string) (*database.Conversation, error)
	CreatePrivateConversation(ctx context.Context, conv *database.Conversation, memberIDs []string) error
	GetConversation(ctx context.Context, conversationID string) (*database.Conversation, error)
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
	GetMemberIDs(ctx context.Context, conversationID string) ([]string, error)
	MemberConversationIDs(ctx context.Context, userID string) ([]string, error)
	ListUserConversations(ctx context.Context, userID string) ([]database.Conversation, error)

	// Message operations
	CreateMessage(ctx context.Context, message *database.Message, enqueueForIndexing bool) ([]string, error)
	GetMessage(ctx context.Context, messageID string) (*database.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]database.Message, error)
	LatestMessage(ctx context.Context, conversationID string) (*database.Message, error)
	UnreadCount(ctx context.Context, conversationID, userID string) (int64, error)

	// Read receipt operations
	UpsertReadReceipt(ctx context.Context, messageID, userID string, readAt time.Time) (*database.ReadReceipt, error)
	ListUnreceiptedMessages(ctx context.Context, conversationID, readerID string) ([]database.Message, error)
	BulkCreateReceipts(ctx context.Context, receipts []database.ReadReceipt) error
	ReceiptsForMessages(ctx context.Context, messageIDs []string) ([]database.ReadReceipt, error)

	// User lookups for denormalized views
	UsersByIDs(ctx context.Context, userIDs []string) ([]database.User, error)
	GetActiveUser(ctx context.Context, userID string) (*database.User, error)
}

type gormRepository struct {
	db *database.Database
}

func NewRepository(db *database.Database) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) FindPrivateByMemberKey(ctx context.Context, memberKey string) (*database.Conversation, error) {
	var conv database.Conversation
	err := r.db.WithContext(ctx).
		Where("type = ? AND member_key = ?", database.ConversationPrivate, memberKey).
		First(&conv).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// CreatePrivateConversation inserts the conversation and its membership rows as
// one atomic unit. A concurrent creator loses to the unique member_key index
// and surfaces the violation to the caller.
func (r *gormRepository) CreatePrivateConversation(ctx context.Context, conv *database.Conversation, memberIDs []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		members := make([]database.ConversationMember, 0, len(memberIDs))
		for _, id := range memberIDs {
			members = append(members, database.ConversationMember{
				ConversationID: conv.ID,
				UserID:         id,
			})
		}
		return tx.Create(&members).Error
	})
}

func (r *gormRepository) GetConversation(ctx context.Context, conversationID string) (*database.Conversation, error) {
	var conv database.Conversation
	if err := r.db.WithContext(ctx).First(&conv, "id = ?", conversationID).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *gormRepository) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&database.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).Error
	return count > 0, err
}

func (r *gormRepository) GetMemberIDs(ctx context.Context, conversationID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&database.ConversationMember{}).
		Where("conversation_id = ?", conversationID).
		Pluck("user_id", &ids).Error
	return ids, err
}

func (r *gormRepository) MemberConversationIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&database.ConversationMember{}).
		Where("user_id = ?", userID).
		Pluck("conversation_id", &ids).Error
	return ids, err
}

func (r *gormRepository) ListUserConversations(ctx context.Context, userID string) ([]database.Conversation, error) {
	var convs []database.Conversation
	err := r.db.WithContext(ctx).
		Where("id IN (?)", r.db.Model(&database.ConversationMember{}).
			Select("conversation_id").Where("user_id = ?", userID)).
		Order("last_message_at DESC").
		Find(&convs).Error
	return convs, err
}

// CreateMessage persists the message, bumps the conversation's last-activity
// timestamp and, when enqueueForIndexing is set, writes the outbox row, all in
// one transaction. Either everything lands or nothing does. The conversation's
// member ids are read inside the same transaction so the caller's fan-out list
// is consistent with the committed message.
func (r *gormRepository) CreateMessage(ctx context.Context, message *database.Message, enqueueForIndexing bool) ([]string, error) {
	var memberIDs []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			return err
		}
		if err := tx.Model(&database.Conversation{}).
			Where("id = ?", message.ConversationID).
			Update("last_message_at", message.CreatedAt).Error; err != nil {
			return err
		}
		if err := tx.Model(&database.ConversationMember{}).
			Where("conversation_id = ?", message.ConversationID).
			Pluck("user_id", &memberIDs).Error; err != nil {
			return err
		}
		if enqueueForIndexing {
			entry := database.OutboxEntry{
				MessageID:   message.ID,
				Content:     message.Content,
				MessageType: message.MessageType,
			}
			if err := tx.Create(&entry).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return memberIDs, nil
}

func (r *gormRepository) GetMessage(ctx context.Context, messageID string) (*database.Message, error) {
	var msg database.Message
	if err := r.db.WithContext(ctx).First(&msg, "id = ?", messageID).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *gormRepository) ListMessages(ctx context.Context, conversationID string) ([]database.Message, error) {
	var messages []database.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&messages).Error
	return messages, err
}

func (r *gormRepository) LatestMessage(ctx context.Context, conversationID string) (*database.Message, error) {
	var msg database.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		First(&msg).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *gormRepository) UnreadCount(ctx context.Context, conversationID, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&database.Message{}).
		Where("conversation_id = ? AND sender_id <> ?", conversationID, userID).
		Where("id NOT IN (?)", r.db.Model(&database.ReadReceipt{}).
			Select("message_id").Where("user_id = ?", userID)).
		Count(&count).Error
	return count, err
}

// UpsertReadReceipt creates the receipt or, when the reader already marked the
// message, updates read_at in place. The (message_id, user_id) unique index
// guarantees at most one row either way.
func (r *gormRepository) UpsertReadReceipt(ctx context.Context, messageID, userID string, readAt time.Time) (*database.ReadReceipt, error) {
	receipt := database.ReadReceipt{
		ID:        newID(),
		MessageID: messageID,
		UserID:    userID,
		ReadAt:    readAt,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"read_at": readAt}),
	}).Create(&receipt).Error
	if err != nil {
		return nil, err
	}

	var stored database.ReadReceipt
	if err := r.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ?", messageID, userID).
		First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *gormRepository) ListUnreceiptedMessages(ctx context.Context, conversationID, readerID string) ([]database.Message, error) {
	var messages []database.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND sender_id <> ?", conversationID, readerID).
		Where("id NOT IN (?)", r.db.Model(&database.ReadReceipt{}).
			Select("message_id").Where("user_id = ?", readerID)).
		Order("created_at ASC").
		Find(&messages).Error
	return messages, err
}

func (r *gormRepository) BulkCreateReceipts(ctx context.Context, receipts []database.ReadReceipt) error {
	if len(receipts) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(&receipts).Error
}

func (r *gormRepository) ReceiptsForMessages(ctx context.Context, messageIDs []string) ([]database.ReadReceipt, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	var receipts []database.ReadReceipt
	err := r.db.WithContext(ctx).
		Where("message_id IN ?", messageIDs).
		Find(&receipts).Error
	return receipts, err
}

func (r *gormRepository) UsersByIDs(ctx context.Context, userIDs []string) ([]database.User, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var users []database.User
	err := r.db.WithContext(ctx).Where("id IN ?", userIDs).Find(&users).Error
	return users, err
}

func (r *gormRepository) GetActiveUser(ctx context.Context, userID string) (*database.User, error) {
	var user database.User
	err := r.db.WithContext(ctx).
		Where("id = ? AND is_active = ?", userID, true).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

