package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/docstream/core"
	"github.com/poiesic/docstream/services"
	"github.com/poiesic/docstream/storage"
)

// parseProcessor runs the parse stage: fetch raw bytes, extract text, store
// the parsed representation, record its location.
type parseProcessor struct {
	documents storage.DocumentRepository
	parser    services.Parser
	store     services.ObjectStore
	logger    *slog.Logger
}

var _ Processor = (*parseProcessor)(nil)

func newParseProcessor(documents storage.DocumentRepository, parser services.Parser, store services.ObjectStore, logger *slog.Logger) *parseProcessor {
	return &parseProcessor{
		documents: documents,
		parser:    parser,
		store:     store,
		logger:    logger.With("processor", "parse"),
	}
}

func (p *parseProcessor) Stage() core.Stage {
	return core.StageParse
}

// Process parses the raw document. The parsed text is written to the object
// store only after a successful parse, so a failed attempt leaves no partial
// artifact; re-running overwrites the same key.
func (p *parseProcessor) Process(ctx context.Context, doc *core.Document, job *core.Job) error {
	raw, err := p.store.Get(ctx, doc.RawLocation)
	if err != nil {
		return fmt.Errorf("fetching raw document: %w", err)
	}

	result, err := p.parser.Parse(ctx, raw, doc.MimeType)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("%s/%016x/parsed.txt", doc.OwnerId, uint64(doc.Id))
	location, err := p.store.Put(ctx, key, []byte(result.Text))
	if err != nil {
		return fmt.Errorf("storing parsed text: %w", err)
	}

	if err := p.documents.SetParsedLocation(ctx, doc.Id, location); err != nil {
		return err
	}

	p.logger.Info("document parsed", "document", doc.Id, "chars", len(result.Text))
	return nil
}
