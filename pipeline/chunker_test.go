package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecursiveChunker_Validation(t *testing.T) {
	tests := []struct {
		name      string
		chunkSize int
		overlap   int
		version   string
	}{
		{"zero chunk size", 0, 0, "v1"},
		{"negative chunk size", -1, 0, "v1"},
		{"negative overlap", 100, -1, "v1"},
		{"overlap equals chunk size", 100, 100, "v1"},
		{"overlap exceeds chunk size", 100, 150, "v1"},
		{"missing version", 100, 10, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRecursiveChunker(tt.chunkSize, tt.overlap, tt.version)
			assert.Error(t, err)
		})
	}
}

func TestRecursiveChunker_Split(t *testing.T) {
	chunker, err := NewRecursiveChunker(80, 10, "v1")
	require.NoError(t, err)

	assert.Equal(t, "recursive", chunker.Name())
	assert.Equal(t, "v1", chunker.Version())

	var sb strings.Builder
	for i := 0; i < 20; i++ {
		sb.WriteString("Each sentence adds a little more text to the document body.\n\n")
	}
	text := sb.String()

	pieces, err := chunker.Split(text)
	require.NoError(t, err)
	require.Greater(t, len(pieces), 1)
	for _, piece := range pieces {
		assert.NotEmpty(t, piece)
	}

	// Deterministic: the same text splits the same way every time.
	again, err := chunker.Split(text)
	require.NoError(t, err)
	assert.Equal(t, pieces, again)
}

func TestRecursiveChunker_ShortText(t *testing.T) {
	chunker, err := NewRecursiveChunker(500, 50, "v1")
	require.NoError(t, err)

	pieces, err := chunker.Split("a short note")
	require.NoError(t, err)
	require.Len(t, pieces, 1)
	assert.Equal(t, "a short note", pieces[0])
}
