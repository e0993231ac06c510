package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"

	"parley/internal/cache"
)

const embeddingCacheTTL = 24 * time.Hour

type EmbeddingConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// EmbeddingService wraps the provider behind a content-addressed redis cache
// so re-sent or re-queried text never pays for a second provider call.
type EmbeddingService struct {
	embedder embedding.Embedder
	model    string
	cache    *cache.RedisCache
}

func NewEmbeddingService(cfg *EmbeddingConfig, redis *cache.RedisCache) (*EmbeddingService, error) {
	embedder, err := openai.NewEmbedder(context.Background(), &openai.EmbeddingConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: 30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	return &EmbeddingService{
		embedder: embedder,
		model:    cfg.Model,
		cache:    redis,
	}, nil
}

// NewEmbeddingServiceWith builds the service around an existing embedder.
func NewEmbeddingServiceWith(embedder embedding.Embedder, model string, redis *cache.RedisCache) *EmbeddingService {
	return &EmbeddingService{embedder: embedder, model: model, cache: redis}
}

func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float64, error) {
	key := s.cacheKey(text)

	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key); err == nil {
			var cached []float64
			if json.Unmarshal([]byte(raw), &cached) == nil && len(cached) > 0 {
				return cached, nil
			}
		}
	}

	vectors, err := s.embedder.EmbedStrings(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	result := vectors[0]

	if s.cache != nil {
		if raw, err := json.Marshal(result); err == nil {
			if err := s.cache.Set(ctx, key, raw, embeddingCacheTTL); err != nil {
				slog.Warn("failed to cache embedding", "err", err)
			}
		}
	}
	return result, nil
}

func (s *EmbeddingService) cacheKey(text string) string {
	hash := sha256.Sum256([]byte(s.model + ":" + text))
	return fmt.Sprintf("emb:%x", hash[:16])
}
