package search

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"parley/internal/chat"
	"parley/pkg/errors"
)

const (
	minQueryLength    = 2
	conversationLimit = 20
	globalLimit       = 50
)

// Embedder turns query text into the same vector space the indexer writes.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Gateway answers semantic search queries against the message index, scoped to
// what the requester is allowed to see. Index lag means very recent messages
// may be absent; that is accepted eventual consistency, not an error.
type Gateway struct {
	embedder Embedder
	index    Index
	chats    *chat.Service
}

func NewGateway(embedder Embedder, index Index, chats *chat.Service) *Gateway {
	return &Gateway{embedder: embedder, index: index, chats: chats}
}

// Result is one matched message. Similarity is 1 - vector distance.
type Result struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	SenderID    string    `json:"senderId"`
	SenderName  string    `json:"senderName"`
	MessageType string    `json:"messageType"`
	CreatedAt   time.Time `json:"createdAt"`
	Similarity  float64   `json:"similarity"`
}

// ConversationGroup bundles global-search results per conversation. BestMatch
// is the group's highest similarity; groups are not otherwise re-ranked.
type ConversationGroup struct {
	ConversationID string   `json:"conversationId"`
	Messages       []Result `json:"messages"`
	TotalMessages  int      `json:"totalMessages"`
	BestMatch      float64  `json:"bestMatch"`
}

// SearchConversation searches within one conversation. The requester must be a
// member; the authorization check runs before the index is touched.
func (g *Gateway) SearchConversation(ctx context.Context, userID, conversationID, query string) ([]Result, error) {
	query, err := validateQuery(query)
	if err != nil {
		return nil, err
	}

	member, err := g.chats.IsMember(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, errors.Forbidden("not a member of this conversation")
	}

	vector, err := g.embedder.Embed(ctx, query)
	if err != nil {
		return nil, errors.Unavailable("search is temporarily unavailable", err)
	}

	hits, err := g.index.Query(ctx, vector, []string{conversationID}, conversationLimit)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, "failed to search messages", err)
	}
	return g.toResults(ctx, hits), nil
}

// SearchAll searches every conversation the requester belongs to, grouped by
// conversation.
func (g *Gateway) SearchAll(ctx context.Context, userID, query string) ([]ConversationGroup, error) {
	query, err := validateQuery(query)
	if err != nil {
		return nil, err
	}

	scope, err := g.chats.MemberConversationIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(scope) == 0 {
		return []ConversationGroup{}, nil
	}

	vector, err := g.embedder.Embed(ctx, query)
	if err != nil {
		return nil, errors.Unavailable("search is temporarily unavailable", err)
	}

	hits, err := g.index.Query(ctx, vector, scope, globalLimit)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, "failed to search messages", err)
	}

	results := g.toResults(ctx, hits)
	grouped := make(map[string]*ConversationGroup)
	order := make([]string, 0)
	for i, hit := range hits {
		group, ok := grouped[hit.ConversationID]
		if !ok {
			group = &ConversationGroup{ConversationID: hit.ConversationID}
			grouped[hit.ConversationID] = group
			order = append(order, hit.ConversationID)
		}
		group.Messages = append(group.Messages, results[i])
	}

	out := make([]ConversationGroup, 0, len(order))
	for _, id := range order {
		group := grouped[id]
		sort.Slice(group.Messages, func(i, j int) bool {
			return group.Messages[i].Similarity > group.Messages[j].Similarity
		})
		group.TotalMessages = len(group.Messages)
		group.BestMatch = group.Messages[0].Similarity
		out = append(out, *group)
	}
	return out, nil
}

// validateQuery rejects short queries before any embedding call is made. The
// minimum counts characters, not bytes.
func validateQuery(query string) (string, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < minQueryLength {
		return "", errors.InvalidArg("search query must be at least 2 characters long")
	}
	return query, nil
}

func (g *Gateway) toResults(ctx context.Context, hits []Hit) []Result {
	senderIDs := make([]string, 0, len(hits))
	for _, hit := range hits {
		senderIDs = append(senderIDs, hit.SenderID)
	}
	names := g.chats.Usernames(ctx, senderIDs)

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		results = append(results, Result{
			ID:          hit.MessageID,
			Content:     hit.Content,
			SenderID:    hit.SenderID,
			SenderName:  names[hit.SenderID],
			MessageType: hit.MessageType,
			CreatedAt:   time.Unix(hit.CreatedAt, 0).UTC(),
			Similarity:  1 - hit.Distance,
		})
	}
	return results
}
