package adapter

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/zeebo/xxh3"

	"github.com/jinford/repo-indexer/internal/module/llm/domain"
)

// CachedEmbedder は同一テキストのEmbeddingを期限付きLRUで再利用します
type CachedEmbedder struct {
	next   domain.Embedder
	cache  *expirable.LRU[string, []float32]
	hits   atomic.Int64
	misses atomic.Int64
}

// WrapWithCache はEmbedderをLRUキャッシュで包みます
// sizeかttlが0以下の場合はnextをそのまま返します
func WrapWithCache(next domain.Embedder, size int, ttl time.Duration) domain.Embedder {
	if next == nil || size <= 0 || ttl <= 0 {
		return next
	}
	return &CachedEmbedder{
		next:  next,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

// Embed はキャッシュにあればそれを返し、なければ下位のEmbedderを呼び出します
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(c.next.ModelName(), c.next.Dimension(), text)
	if cached, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return cloneEmbedding(cached), nil
	}
	c.misses.Add(1)

	res, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, cloneEmbedding(res))
	return res, nil
}

// Dimension はEmbeddingベクトルの次元数を返す
func (c *CachedEmbedder) Dimension() int {
	return c.next.Dimension()
}

// ModelName はモデル名を返す
func (c *CachedEmbedder) ModelName() string {
	return c.next.ModelName()
}

// Stats はキャッシュのヒット数とミス数を返します
func (c *CachedEmbedder) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func cacheKey(model string, dimension int, text string) string {
	h := xxh3.HashString128(text)
	return fmt.Sprintf("%s:%d:%016x%016x", model, dimension, h.Hi, h.Lo)
}

func cloneEmbedding(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}

var _ domain.Embedder = (*CachedEmbedder)(nil)
