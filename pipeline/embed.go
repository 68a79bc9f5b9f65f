package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/docstream/core"
	"github.com/poiesic/docstream/services"
	"github.com/poiesic/docstream/storage"
)

// embedBatchSize bounds how many chunk texts go to the embedding service in
// one call.
const embedBatchSize = 64

// embedProcessor runs the embed stage: batch-embed every chunk of the current
// generation that doesn't have a vector from the current model yet.
type embedProcessor struct {
	chunks       storage.ChunkRepository
	embedder     services.Embedder
	embedModel   string
	embedVersion string
	logger       *slog.Logger
}

var _ Processor = (*embedProcessor)(nil)

func newEmbedProcessor(chunks storage.ChunkRepository, embedder services.Embedder, model, version string, logger *slog.Logger) *embedProcessor {
	return &embedProcessor{
		chunks:       chunks,
		embedder:     embedder,
		embedModel:   model,
		embedVersion: version,
		logger:       logger.With("processor", "embed"),
	}
}

func (p *embedProcessor) Stage() core.Stage {
	return core.StageEmbed
}

// Process embeds the document's unembedded chunks. Chunks that already carry
// a vector from the current model and version are skipped, so a retried or
// reclaimed job only pays for what's missing.
func (p *embedProcessor) Process(ctx context.Context, doc *core.Document, job *core.Job) error {
	chunks, err := p.chunks.ListByDocument(ctx, doc.Id)
	if err != nil {
		return err
	}

	var pending []*core.Chunk
	for _, chunk := range chunks {
		if len(chunk.Vector) > 0 && chunk.EmbedModel == p.embedModel && chunk.EmbedVersion == p.embedVersion {
			continue
		}
		pending = append(pending, chunk)
	}
	if len(pending) == 0 {
		p.logger.Debug("no chunks to embed", "document", doc.Id)
		return nil
	}

	for start := 0; start < len(pending); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Text
		}

		vectors, err := p.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return err
		}
		if len(vectors) != len(batch) {
			return services.NewRetryable("embed",
				fmt.Errorf("embedding result mismatch. expected %d, received %d", len(batch), len(vectors)))
		}

		for i, chunk := range batch {
			chunk.Vector = vectors[i]
			chunk.EmbedModel = p.embedModel
			chunk.EmbedVersion = p.embedVersion
		}
		if err := p.chunks.UpdateVectors(ctx, batch...); err != nil {
			return err
		}
	}

	p.logger.Info("document embedded", "document", doc.Id, "chunks", len(pending))
	return nil
}
