package pipeline

import (
	"errors"

	"github.com/tmc/langchaingo/textsplitter"
)

// Chunker splits parsed text into ordered chunks. Name and Version together
// form the generation tag recorded on every chunk; bumping the version
// supersedes all chunks of older generations on the next chunk stage.
//
// Split must be deterministic: the same text always yields the same chunks
// in the same order.
type Chunker interface {
	Name() string
	Version() string
	Split(text string) ([]string, error)
}

// RecursiveChunker splits text with langchaingo's recursive character
// splitter: paragraphs first, then sentences, then words.
type RecursiveChunker struct {
	splitter  textsplitter.RecursiveCharacter
	version   string
	chunkSize int
}

var _ Chunker = (*RecursiveChunker)(nil)

// NewRecursiveChunker creates a chunker producing chunks of roughly chunkSize
// characters with the given overlap. version is the generation tag.
func NewRecursiveChunker(chunkSize, chunkOverlap int, version string) (*RecursiveChunker, error) {
	if chunkSize <= 0 {
		return nil, errors.New("chunk size must be positive")
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, errors.New("chunk overlap must be smaller than chunk size")
	}
	if version == "" {
		return nil, errors.New("chunker version required")
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)
	return &RecursiveChunker{
		splitter:  splitter,
		version:   version,
		chunkSize: chunkSize,
	}, nil
}

// Name identifies the chunking strategy.
func (c *RecursiveChunker) Name() string {
	return "recursive"
}

// Version is the generation tag for chunks this chunker produces.
func (c *RecursiveChunker) Version() string {
	return c.version
}

// Split divides text into chunks.
func (c *RecursiveChunker) Split(text string) ([]string, error) {
	return c.splitter.SplitText(text)
}
