package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/database"
)

func TestIndexUpsertIsIdempotent(t *testing.T) {
	db := testDB(t)
	idx := NewIndex(db)
	ctx := context.Background()

	doc := Document{
		MessageID:      "m1",
		Content:        "original",
		SenderID:       "u1",
		ConversationID: "c1",
		MessageType:    database.MessageTypeText,
		CreatedAt:      1700000000,
		Embedding:      []float64{1, 0},
	}
	require.NoError(t, idx.Upsert(ctx, doc))

	// Re-delivery of the same message replaces the row in place.
	doc.Content = "replayed"
	require.NoError(t, idx.Upsert(ctx, doc))

	var count int64
	require.NoError(t, db.Model(&database.MessageEmbedding{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	hits, err := idx.Query(ctx, []float64{1, 0}, []string{"c1"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "replayed", hits[0].Content)
}

func TestIndexQueryOrdersByDistance(t *testing.T) {
	db := testDB(t)
	idx := NewIndex(db)
	ctx := context.Background()

	docs := []Document{
		{MessageID: "far", ConversationID: "c1", Content: "far", SenderID: "u1", MessageType: "text", Embedding: []float64{0, 1}},
		{MessageID: "exact", ConversationID: "c1", Content: "exact", SenderID: "u1", MessageType: "text", Embedding: []float64{1, 0}},
		{MessageID: "near", ConversationID: "c1", Content: "near", SenderID: "u1", MessageType: "text", Embedding: []float64{0.9, 0.1}},
	}
	for _, doc := range docs {
		require.NoError(t, idx.Upsert(ctx, doc))
	}

	hits, err := idx.Query(ctx, []float64{1, 0}, []string{"c1"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "exact", hits[0].MessageID)
	assert.Equal(t, "near", hits[1].MessageID)
	assert.Equal(t, "far", hits[2].MessageID)
	assert.InDelta(t, 0, hits[0].Distance, 1e-9)
	assert.InDelta(t, 1, hits[2].Distance, 1e-9)
}

func TestIndexQueryLimitAndScope(t *testing.T) {
	db := testDB(t)
	idx := NewIndex(db)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, idx.Upsert(ctx, Document{
			MessageID: id, ConversationID: "c1", Content: id,
			SenderID: "u1", MessageType: "text", Embedding: []float64{1, 0},
		}))
	}
	require.NoError(t, idx.Upsert(ctx, Document{
		MessageID: "d", ConversationID: "c2", Content: "d",
		SenderID: "u1", MessageType: "text", Embedding: []float64{1, 0},
	}))

	hits, err := idx.Query(ctx, []float64{1, 0}, []string{"c1"}, 2)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = idx.Query(ctx, []float64{1, 0}, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1, cosineSimilarity([]float64{1, 0}, []float64{2, 0}), 1e-9)
	assert.InDelta(t, 0, cosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, -1, cosineSimilarity([]float64{1, 0}, []float64{-1, 0}), 1e-9)

	// Mismatched or degenerate inputs score zero instead of panicking.
	assert.Zero(t, cosineSimilarity([]float64{1, 0}, []float64{1}))
	assert.Zero(t, cosineSimilarity(nil, nil))
	assert.Zero(t, cosineSimilarity([]float64{0, 0}, []float64{1, 0}))
}
