package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/poiesic/docstream/core"
	"github.com/poiesic/docstream/services"
	"github.com/poiesic/docstream/storage"
)

// chunkProcessor runs the chunk stage: split the parsed text, upsert chunks
// under their deterministic IDs, supersede older chunker generations.
type chunkProcessor struct {
	documents storage.DocumentRepository
	chunks    storage.ChunkRepository
	store     services.ObjectStore
	chunker   Chunker
	logger    *slog.Logger
}

var _ Processor = (*chunkProcessor)(nil)

func newChunkProcessor(documents storage.DocumentRepository, chunks storage.ChunkRepository, store services.ObjectStore, chunker Chunker, logger *slog.Logger) *chunkProcessor {
	return &chunkProcessor{
		documents: documents,
		chunks:    chunks,
		store:     store,
		chunker:   chunker,
		logger:    logger.With("processor", "chunk"),
	}
}

func (p *chunkProcessor) Stage() core.Stage {
	return core.StageChunk
}

// Process splits the document's parsed text into chunks. Chunk IDs derive
// from (document, chunker, ordinal), so re-running is a no-op upsert; chunks
// left over from an older chunker generation are removed afterwards.
func (p *chunkProcessor) Process(ctx context.Context, doc *core.Document, job *core.Job) error {
	if doc.ParsedLocation == "" {
		return services.NewPermanent("chunk", fmt.Errorf("%w: document has no parsed text", services.ErrMalformedInput))
	}

	parsed, err := p.store.Get(ctx, doc.ParsedLocation)
	if err != nil {
		return fmt.Errorf("fetching parsed text: %w", err)
	}

	pieces, err := p.chunker.Split(string(parsed))
	if err != nil {
		return err
	}
	if len(pieces) == 0 {
		p.logger.Warn("document produced no chunks", "document", doc.Id)
		return nil
	}

	chunks := make([]*core.Chunk, len(pieces))
	for i, text := range pieces {
		id, err := core.ChunkID(doc.Id, p.chunker.Name(), p.chunker.Version(), i)
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
			ChunkerName:    p.chunker.Name(),
			ChunkerVersion: p.chunker.Version(),
		}
	}

	if _, err := p.chunks.UpsertChunks(ctx, chunks...); err != nil {
		return err
	}

	keep := core.ChunkGeneration(p.chunker.Name(), p.chunker.Version())
	removed, err := p.chunks.DeleteSuperseded(ctx, doc.Id, keep)
	if err != nil {
		return err
	}

	p.logger.Info("document chunked",
		"document", doc.Id, "chunks", len(chunks), "superseded", removed)
	return nil
}
