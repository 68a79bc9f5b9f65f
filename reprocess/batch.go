package reprocess

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/poiesic/docstream/core"
	"github.com/poiesic/docstream/pipeline"
	"github.com/poiesic/docstream/services"
	"github.com/poiesic/docstream/storage"
)

// BatchProcessor re-chunks and re-embeds batches of documents under the
// configured chunker generation and embedding model.
type BatchProcessor struct {
	chunks         storage.ChunkRepository
	store          services.ObjectStore
	chunker        pipeline.Chunker
	embedder       services.Embedder
	embedModel     string
	embedVersion   string
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewBatchProcessor creates a new batch processor.
// maxRetries: maximum number of retry attempts for embedding API calls
// retryBaseDelay: base delay for exponential backoff
func NewBatchProcessor(
	chunks storage.ChunkRepository,
	store services.ObjectStore,
	chunker pipeline.Chunker,
	embedder services.Embedder,
	embedModel, embedVersion string,
	maxRetries int,
	retryBaseDelay time.Duration,
) *BatchProcessor {
	return &BatchProcessor{
		chunks:         chunks,
		store:          store,
		chunker:        chunker,
		embedder:       embedder,
		embedModel:     embedModel,
		embedVersion:   embedVersion,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
	}
}

// Process re-chunks and re-embeds one batch of documents. Documents without
// parsed text are skipped: they never finished ingestion and still belong to
// the pipeline. Returns how many documents were actually reprocessed.
func (bp *BatchProcessor) Process(ctx context.Context, docs []*core.Document) (int, error) {
	processed := 0
	for _, doc := range docs {
		if doc.ParsedLocation == "" {
			continue
		}
		if err := bp.processDocument(ctx, doc); err != nil {
			return processed, fmt.Errorf("reprocessing document %d: %w", doc.Id, err)
		}
		processed++
	}
	return processed, nil
}

func (bp *BatchProcessor) processDocument(ctx context.Context, doc *core.Document) error {
	parsed, err := bp.store.Get(ctx, doc.ParsedLocation)
	if err != nil {
		return fmt.Errorf("fetching parsed text: %w", err)
	}

	pieces, err := bp.chunker.Split(string(parsed))
	if err != nil {
		return err
	}
	if len(pieces) == 0 {
		return nil
	}

	chunks := make([]*core.Chunk, len(pieces))
	texts := make([]string, len(pieces))
	for i, text := range pieces {
		id, err := core.ChunkID(doc.Id, bp.chunker.Name(), bp.chunker.Version(), i)
		if err != nil {
			return err
		}
		sum := sha256.Sum256([]byte(text))
		chunks[i] = &core.Chunk{
			Id:             id,
			DocumentId:     doc.Id,
			Ordinal:        i,
			Text:           text,
			ContentHash:    hex.EncodeToString(sum[:]),
			ChunkerName:    bp.chunker.Name(),
			ChunkerVersion: bp.chunker.Version(),
		}
		texts[i] = text
	}

	if _, err := bp.chunks.UpsertChunks(ctx, chunks...); err != nil {
		return err
	}

	// Generate embeddings with retry
	var vectors [][]float32
	err = RetryWithBackoff(ctx, func() error {
		var err error
		vectors, err = bp.embedder.EmbedTexts(ctx, texts)
		return err
	}, bp.maxRetries, bp.retryBaseDelay)
	if err != nil {
		return fmt.Errorf("failed to generate embeddings after %d attempts: %w", bp.maxRetries, err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedding count mismatch: expected %d, got %d", len(chunks), len(vectors))
	}

	// Normalize vectors for cosine similarity compatibility
	for i := range chunks {
		chunks[i].Vector = NormalizeVector(vectors[i])
		chunks[i].EmbedModel = bp.embedModel
		chunks[i].EmbedVersion = bp.embedVersion
	}
	if err := bp.chunks.UpdateVectors(ctx, chunks...); err != nil {
		return fmt.Errorf("failed to update chunks: %w", err)
	}

	// Retire the previous chunker generation.
	keep := core.ChunkGeneration(bp.chunker.Name(), bp.chunker.Version())
	if _, err := bp.chunks.DeleteSuperseded(ctx, doc.Id, keep); err != nil {
		return err
	}
	return nil
}
