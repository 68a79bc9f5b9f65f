package services

import "context"

// Embedder generates vector embeddings from text for semantic similarity
// search. Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a
	// batch. The returned slice contains embeddings in the same order as the
	// input texts.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Parser turns raw document bytes into extractable text.
// Implementations must be thread-safe for concurrent use.
type Parser interface {
	// Parse extracts text from a raw document. mimeType identifies the input
	// format. An unsupported format fails non-retryably; a parse service
	// outage fails retryably (see ServiceError).
	Parse(ctx context.Context, raw []byte, mimeType string) (*ParseResult, error)
}

// ParseResult is the output of a successful parse.
type ParseResult struct {
	// Text is the extracted plain text.
	Text string

	// Metadata carries parser-specific extras (page count, language).
	Metadata map[string]string
}

// ObjectStore holds raw and parsed document bytes, addressed by opaque
// location strings. Implementations must be thread-safe.
type ObjectStore interface {
	// Put stores data and returns its location.
	Put(ctx context.Context, key string, data []byte) (string, error)

	// Get retrieves the data at location.
	Get(ctx context.Context, location string) ([]byte, error)
}

// Provider aggregates the external services for convenient initialization
// and lifecycle management.
type Provider interface {
	// Embedder returns the text embedding service.
	Embedder() Embedder

	// Parser returns the document parse service.
	Parser() Parser

	// ObjectStore returns the byte store for raw and parsed documents.
	ObjectStore() ObjectStore

	// Close releases resources held by the provider and its services.
	Close() error
}
