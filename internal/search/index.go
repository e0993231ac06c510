package search

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"gorm.io/gorm/clause"

	"parley/internal/database"
)

// Document is the denormalized index projection of a message.
type Document struct {
	MessageID      string
	Content        string
	SenderID       string
	ConversationID string
	MessageType    string
	CreatedAt      int64
	Embedding      []float64
}

// Hit is a document with its vector distance to the query (lower is closer).
type Hit struct {
	Document
	Distance float64
}

// Index is the nearest-neighbor store. Queries support equality filtering on
// conversation ids.
type Index interface {
	Upsert(ctx context.Context, doc Document) error
	Query(ctx context.Context, vector []float64, conversationIDs []string, limit int) ([]Hit, error)
}

// gormIndex keeps index documents as rows with JSON-encoded vectors and scans
// them with cosine distance. Plenty for a single-store deployment; the Index
// interface is the seam for an external ANN backend.
type gormIndex struct {
	db *database.Database
}

func NewIndex(db *database.Database) Index {
	return &gormIndex{db: db}
}

func (x *gormIndex) Upsert(ctx context.Context, doc Document) error {
	raw, err := json.Marshal(doc.Embedding)
	if err != nil {
		return fmt.Errorf("failed to encode embedding: %w", err)
	}

	row := database.MessageEmbedding{
		MessageID:      doc.MessageID,
		Content:        doc.Content,
		SenderID:       doc.SenderID,
		ConversationID: doc.ConversationID,
		MessageType:    doc.MessageType,
		CreatedAt:      doc.CreatedAt,
		Embedding:      string(raw),
	}
	return x.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func (x *gormIndex) Query(ctx context.Context, vector []float64, conversationIDs []string, limit int) ([]Hit, error) {
	if len(conversationIDs) == 0 {
		return nil, nil
	}

	var rows []database.MessageEmbedding
	err := x.db.WithContext(ctx).
		Where("conversation_id IN ?", conversationIDs).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load index documents: %w", err)
	}

	hits := make([]Hit, 0, len(rows))
	for _, row := range rows {
		var docVector []float64
		if err := json.Unmarshal([]byte(row.Embedding), &docVector); err != nil {
			continue
		}
		hits = append(hits, Hit{
			Document: Document{
				MessageID:      row.MessageID,
				Content:        row.Content,
				SenderID:       row.SenderID,
				ConversationID: row.ConversationID,
				MessageType:    row.MessageType,
				CreatedAt:      row.CreatedAt,
			},
			Distance: 1 - cosineSimilarity(vector, docVector),
		})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
