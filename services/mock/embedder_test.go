package mock

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockEmbedder_Deterministic(t *testing.T) {
	embedder := NewMockEmbedder()
	ctx := context.Background()

	vec1, err := embedder.EmbedText(ctx, "hello world")
	require.NoError(t, err)
	vec2, err := embedder.EmbedText(ctx, "hello world")
	require.NoError(t, err)

	assert.Equal(t, vec1, vec2, "same text, same vector")
	assert.Len(t, vec1, 384)

	other, err := embedder.EmbedText(ctx, "different text")
	require.NoError(t, err)
	assert.NotEqual(t, vec1, other)
}

func TestMockEmbedder_Normalized(t *testing.T) {
	embedder := NewMockEmbedder()

	vec, err := embedder.EmbedText(context.Background(), "hello world")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-4)
}

func TestMockEmbedder_EmbedTexts(t *testing.T) {
	embedder := NewMockEmbedder()
	ctx := context.Background()

	vecs, err := embedder.EmbedTexts(ctx, []string{"one", "two", "three"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	single, err := embedder.EmbedText(ctx, "two")
	require.NoError(t, err)
	assert.Equal(t, single, vecs[1], "batch and single agree")
}

func TestMockEmbedder_Injection(t *testing.T) {
	embedder := NewMockEmbedder()
	wantErr := errors.New("embedding service down")
	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return nil, wantErr
	}

	_, err := embedder.EmbedText(context.Background(), "anything")
	assert.ErrorIs(t, err, wantErr)

	embedder.Reset()
	_, err = embedder.EmbedText(context.Background(), "anything")
	assert.NoError(t, err)
	assert.Equal(t, 1, embedder.CallCount())
}

func TestMockObjectStore_RoundTrip(t *testing.T) {
	store := NewMockObjectStore()
	ctx := context.Background()

	location, err := store.Put(ctx, "key", []byte("data"))
	require.NoError(t, err)

	data, err := store.Get(ctx, location)
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), data)
	assert.Equal(t, 1, store.Len())

	_, err = store.Get(ctx, "mem://missing")
	assert.Error(t, err)
}

func TestMockParser_Passthrough(t *testing.T) {
	parser := NewMockParser()

	result, err := parser.Parse(context.Background(), []byte("raw bytes"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "raw bytes", result.Text)
	assert.Equal(t, 1, parser.CallCount())
}
