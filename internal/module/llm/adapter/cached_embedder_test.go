package adapter_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/repo-indexer/internal/module/llm/adapter"
)

type countingEmbedder struct {
	calls int
	err   error
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return []float32{float32(len(text)), 1, 2}, nil
}

func (e *countingEmbedder) Dimension() int    { return 3 }
func (e *countingEmbedder) ModelName() string { return "counting" }

func TestWrapWithCache_Disabled(t *testing.T) {
	next := &countingEmbedder{}

	assert.Same(t, next, adapter.WrapWithCache(next, 0, time.Minute))
	assert.Same(t, next, adapter.WrapWithCache(next, 10, 0))
}

func TestCachedEmbedder_HitAndMiss(t *testing.T) {
	next := &countingEmbedder{}
	embedder := adapter.WrapWithCache(next, 10, time.Minute)
	cached, ok := embedder.(*adapter.CachedEmbedder)
	require.True(t, ok)

	ctx := context.Background()
	first, err := embedder.Embed(ctx, "hello")
	require.NoError(t, err)
	second, err := embedder.Embed(ctx, "hello")
	require.NoError(t, err)
	_, err = embedder.Embed(ctx, "other text")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 2, next.calls)

	hits, misses := cached.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(2), misses)

	assert.Equal(t, 3, embedder.Dimension())
	assert.Equal(t, "counting", embedder.ModelName())
}

func TestCachedEmbedder_ReturnsCopies(t *testing.T) {
	embedder := adapter.WrapWithCache(&countingEmbedder{}, 10, time.Minute)
	ctx := context.Background()

	first, err := embedder.Embed(ctx, "hello")
	require.NoError(t, err)
	first[0] = 999

	second, err := embedder.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, float32(5), second[0])
}

func TestCachedEmbedder_ErrorsAreNotCached(t *testing.T) {
	next := &countingEmbedder{err: errors.New("unavailable")}
	embedder := adapter.WrapWithCache(next, 10, time.Minute)
	ctx := context.Background()

	_, err := embedder.Embed(ctx, "hello")
	require.Error(t, err)

	next.err = nil
	vec, err := embedder.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
	assert.Equal(t, 2, next.calls)
}
