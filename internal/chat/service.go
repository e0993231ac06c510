package chat

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"

	"parley/internal/database"
	"parley/pkg/errors"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// pairKey normalizes an unordered user pair into the member_key used by the
// unique index on private conversations.
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

// FindOrCreatePrivate returns the unique private conversation between the two
// users, creating it when absent. Concurrent calls for the same pair race on
// the member_key unique index; the loser re-fetches the winner's row.
func (s *Service) FindOrCreatePrivate(ctx context.Context, userID, otherID string) (*database.Conversation, bool, error) {
	if userID == otherID {
		return nil, false, errors.InvalidArg("cannot create conversation with yourself")
	}

	if _, err := s.repo.GetActiveUser(ctx, otherID); err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, errors.NotFound("user not found or inactive")
		}
		return nil, false, errors.Wrap(errors.CodeInternal, "failed to resolve user", err)
	}

	key := pairKey(userID, otherID)

	conv, err := s.repo.FindPrivateByMemberKey(ctx, key)
	if err == nil {
		return conv, false, nil
	}
	if !stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, errors.Wrap(errors.CodeInternal, "failed to look up conversation", err)
	}

	now := time.Now().UTC()
	created := &database.Conversation{
		ID:            newID(),
		Type:          database.ConversationPrivate,
		MemberKey:     key,
		LastMessageAt: now,
	}
	if err := s.repo.CreatePrivateConversation(ctx, created, []string{userID, otherID}); err != nil {
		// Lost the race: the unique index rejected the duplicate, so the
		// conversation now exists. Return it instead of erroring.
		if existing, findErr := s.repo.FindPrivateByMemberKey(ctx, key); findErr == nil {
			return existing, false, nil
		}
		return nil, false, errors.Wrap(errors.CodeInternal, "failed to create conversation", err)
	}
	return created, true, nil
}

// SendMessage resolves the target conversation, persists the message together
// with its outbox entry as one atomic unit and reports who to fan out to. The
// recipient list is read in the same transaction, so it reflects exactly the
// membership the message was committed against. Nothing is delivered when
// persistence fails.
func (s *Service) SendMessage(ctx context.Context, in SendMessageInput) (*SendResult, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, errors.InvalidArg("missing required fields")
	}
	if in.ReceiverID == "" && in.ConversationID == "" {
		return nil, errors.InvalidArg("missing required fields")
	}
	if in.MessageType == "" {
		in.MessageType = database.MessageTypeText
	}
	switch in.MessageType {
	case database.MessageTypeText, database.MessageTypeImage, database.MessageTypeFile:
	default:
		return nil, errors.InvalidArg("unsupported message type")
	}

	var (
		conv    *database.Conversation
		created bool
		err     error
	)
	if in.ConversationID != "" {
		conv, err = s.repo.GetConversation(ctx, in.ConversationID)
		if err != nil {
			if stderrors.Is(err, gorm.ErrRecordNotFound) {
				return nil, errors.NotFound("conversation not found")
			}
			return nil, errors.Wrap(errors.CodeInternal, "failed to resolve conversation", err)
		}
		member, err := s.repo.IsMember(ctx, conv.ID, in.SenderID)
		if err != nil {
			return nil, errors.Wrap(errors.CodeInternal, "failed to check membership", err)
		}
		if !member {
			return nil, errors.Forbidden("not a member of this conversation")
		}
	} else {
		conv, created, err = s.FindOrCreatePrivate(ctx, in.SenderID, in.ReceiverID)
		if err != nil {
			return nil, err
		}
	}

	message := &database.Message{
		ID:             newID(),
		ConversationID: conv.ID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		MessageType:    in.MessageType,
		CreatedAt:      time.Now().UTC(),
	}

	// Only text messages are embeddable; everything else skips the pipeline.
	enqueue := in.MessageType == database.MessageTypeText
	memberIDs, err := s.repo.CreateMessage(ctx, message, enqueue)
	if err != nil {
		slog.Error("message persistence failed", "conversation", conv.ID, "err", err)
		return nil, errors.Wrap(errors.CodeInternal, "failed to send message", err)
	}

	recipients := make([]string, 0, len(memberIDs))
	for _, id := range memberIDs {
		if id != in.SenderID {
			recipients = append(recipients, id)
		}
	}

	return &SendResult{
		Message: MessageView{
			ID:             message.ID,
			Content:        message.Content,
			SenderID:       message.SenderID,
			SenderName:     in.SenderName,
			ConversationID: conv.ID,
			MessageType:    message.MessageType,
			CreatedAt:      message.CreatedAt,
		},
		ConversationID:      conv.ID,
		ConversationCreated: created,
		RecipientIDs:        recipients,
	}, nil
}

// MarkRead upserts the reader's receipt for one message. Re-marking refreshes
// read_at rather than duplicating the row.
func (s *Service) MarkRead(ctx context.Context, messageID, conversationID, readerID string) (*ReceiptNotice, error) {
	if messageID == "" || conversationID == "" {
		return nil, errors.InvalidArg("missing messageId or conversationId")
	}

	message, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound("message not found")
		}
		return nil, errors.Wrap(errors.CodeInternal, "failed to load message", err)
	}

	member, err := s.repo.IsMember(ctx, conversationID, readerID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, "failed to check membership", err)
	}
	if !member {
		return nil, errors.Forbidden("not a member of this conversation")
	}

	receipt, err := s.repo.UpsertReadReceipt(ctx, messageID, readerID, time.Now().UTC())
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, "failed to mark message as read", err)
	}

	return &ReceiptNotice{
		MessageID:      messageID,
		ConversationID: conversationID,
		ReaderID:       readerID,
		ReadAt:         receipt.ReadAt,
		SenderID:       message.SenderID,
	}, nil
}

// MarkConversationRead receipts every message in the conversation that the
// reader has not yet acknowledged, in one bulk write. The returned notices let
// the caller notify each affected sender.
func (s *Service) MarkConversationRead(ctx context.Context, conversationID, readerID string) ([]ReceiptNotice, error) {
	if conversationID == "" {
		return nil, errors.InvalidArg("missing conversationId")
	}

	member, err := s.repo.IsMember(ctx, conversationID, readerID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, "failed to check membership", err)
	}
	if !member {
		return nil, errors.Forbidden("not a member of this conversation")
	}

	unread, err := s.repo.ListUnreceiptedMessages(ctx, conversationID, readerID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, "failed to load unread messages", err)
	}
	if len(unread) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	receipts := make([]database.ReadReceipt, 0, len(unread))
	notices := make([]ReceiptNotice, 0, len(unread))
	for _, msg := range unread {
		receipts = append(receipts, database.ReadReceipt{
			ID:        newID(),
			MessageID: msg.ID,
			UserID:    readerID,
			ReadAt:    now,
		})
		notices = append(notices, ReceiptNotice{
			MessageID:      msg.ID,
			ConversationID: conversationID,
			ReaderID:       readerID,
			ReadAt:         now,
			SenderID:       msg.SenderID,
		})
	}

	if err := s.repo.BulkCreateReceipts(ctx, receipts); err != nil {
		return nil, errors.Wrap(errors.CodeInternal, "failed to mark conversation as read", err)
	}
	return notices, nil
}

// ListConversations returns the user's private conversations newest-activity
// first, with the peer, last message and unread count attached.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]ConversationSummary, error) {
	convs, err := s.repo.ListUserConversations(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, "failed to fetch conversations", err)
	}

	summaries := make([]ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		summary := ConversationSummary{
			ID:            conv.ID,
			LastMessageAt: conv.LastMessageAt,
		}

		memberIDs, err := s.repo.GetMemberIDs(ctx, conv.ID)
		if err != nil {
			return nil, errors.Wrap(errors.CodeInternal, "failed to fetch conversation members", err)
		}
		var otherID string
		for _, id := range memberIDs {
			if id != userID {
				otherID = id
				break
			}
		}
		if otherID != "" {
			users, err := s.repo.UsersByIDs(ctx, []string{otherID})
			if err == nil && len(users) == 1 {
				summary.OtherUser = &UserView{
					ID:       users[0].ID,
					Username: users[0].Username,
					IsActive: users[0].IsActive,
				}
			}
		}

		if last, err := s.repo.LatestMessage(ctx, conv.ID); err == nil {
			view := s.messageView(ctx, *last)
			summary.LastMessage = &view
		}

		unread, err := s.repo.UnreadCount(ctx, conv.ID, userID)
		if err != nil {
			return nil, errors.Wrap(errors.CodeInternal, "failed to count unread messages", err)
		}
		summary.UnreadCount = unread

		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// ListMessages returns the conversation history with read receipts attached.
// The requester must be a member.
func (s *Service) ListMessages(ctx context.Context, conversationID, userID string) ([]MessageWithReceipts, error) {
	member, err := s.repo.IsMember(ctx, conversationID, userID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, "failed to check membership", err)
	}
	if !member {
		return nil, errors.Forbidden("not a member of this conversation")
	}

	messages, err := s.repo.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, "failed to fetch messages", err)
	}

	ids := make([]string, 0, len(messages))
	senderIDs := make([]string, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.ID)
		senderIDs = append(senderIDs, msg.SenderID)
	}

	receipts, err := s.repo.ReceiptsForMessages(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, "failed to fetch read receipts", err)
	}
	receiptsByMessage := make(map[string][]ReceiptView)
	for _, receipt := range receipts {
		receiptsByMessage[receipt.MessageID] = append(receiptsByMessage[receipt.MessageID], ReceiptView{
			UserID: receipt.UserID,
			ReadAt: receipt.ReadAt,
		})
	}

	names := s.usernamesFor(ctx, senderIDs)

	out := make([]MessageWithReceipts, 0, len(messages))
	for _, msg := range messages {
		views := receiptsByMessage[msg.ID]
		out = append(out, MessageWithReceipts{
			MessageView: MessageView{
				ID:             msg.ID,
				Content:        msg.Content,
				SenderID:       msg.SenderID,
				SenderName:     names[msg.SenderID],
				ConversationID: msg.ConversationID,
				MessageType:    msg.MessageType,
				CreatedAt:      msg.CreatedAt,
			},
			ReadReceipts: views,
			IsRead:       len(views) > 0,
		})
	}
	return out, nil
}

// MemberConversationIDs exposes the requester's conversation scope to the
// search gateway.
func (s *Service) MemberConversationIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.repo.MemberConversationIDs(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, "failed to fetch conversation scope", err)
	}
	return ids, nil
}

// IsMember re-exports the membership check for collaborators that authorize
// against a conversation.
func (s *Service) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	member, err := s.repo.IsMember(ctx, conversationID, userID)
	if err != nil {
		return false, errors.Wrap(errors.CodeInternal, "failed to check membership", err)
	}
	return member, nil
}

// Usernames resolves display names for a set of user ids. Missing ids are
// simply absent from the map.
func (s *Service) Usernames(ctx context.Context, userIDs []string) map[string]string {
	return s.usernamesFor(ctx, userIDs)
}

func (s *Service) messageView(ctx context.Context, msg database.Message) MessageView {
	names := s.usernamesFor(ctx, []string{msg.SenderID})
	return MessageView{
		ID:             msg.ID,
		Content:        msg.Content,
		SenderID:       msg.SenderID,
		SenderName:     names[msg.SenderID],
		ConversationID: msg.ConversationID,
		MessageType:    msg.MessageType,
		CreatedAt:      msg.CreatedAt,
	}
}

func (s *Service) usernamesFor(ctx context.Context, userIDs []string) map[string]string {
	names := make(map[string]string, len(userIDs))
	users, err := s.repo.UsersByIDs(ctx, userIDs)
	if err != nil {
		slog.Warn("username lookup failed", "err", err)
		return names
	}
	for _, u := range users {
		names[u.ID] = u.Username
	}
	return names
}
