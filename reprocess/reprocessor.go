// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reprocess

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/poiesic/docstream/core"
	"github.com/poiesic/docstream/pipeline"
	"github.com/poiesic/docstream/services"
	"github.com/poiesic/docstream/storage"
)

// Config holds configuration for the reprocessing operation.
type Config struct {
	// BatchSize is the number of documents to process in each batch
	BatchSize int

	// ReportInterval is how often to report progress (number of documents)
	ReportInterval int

	// MaxRetries is the maximum number of retry attempts for failed operations
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      100,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
	}
}

// Reprocessor orchestrates re-chunking and re-embedding of every parsed
// document in the store under a new chunker generation or embedding model.
type Reprocessor struct {
	documents storage.DocumentRepository
	config    *Config
	progress  io.Writer
	processor *BatchProcessor
	iterator  *DocumentIterator
}

// NewReprocessor creates a new reprocessor.
// progress: where to write progress output (typically os.Stderr)
func NewReprocessor(
	documents storage.DocumentRepository,
	chunks storage.ChunkRepository,
	store services.ObjectStore,
	chunker pipeline.Chunker,
	embedder services.Embedder,
	embedModel, embedVersion string,
	config *Config,
	progress io.Writer,
) *Reprocessor {
	if config == nil {
		config = DefaultConfig()
	}

	processor := NewBatchProcessor(chunks, store, chunker, embedder,
		embedModel, embedVersion, config.MaxRetries, config.RetryDelay)
	iterator := NewDocumentIterator(documents, config.BatchSize)

	return &Reprocessor{
		documents: documents,
		config:    config,
		progress:  progress,
		processor: processor,
		iterator:  iterator,
	}
}

// Run executes the reprocessing operation. Every document with parsed text
// is re-chunked and re-embedded; chunks of older generations are superseded.
// Progress is reported to the configured writer.
func (r *Reprocessor) Run(ctx context.Context) error {
	total, err := r.iterator.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count documents: %w", err)
	}
	if total == 0 {
		fmt.Fprintf(r.progress, "No documents found (0 documents)\n")
		return nil
	}

	fmt.Fprintf(r.progress, "Starting reprocessing of %d documents (batch size: %d)\n",
		total, r.config.BatchSize)

	tracker := NewProgressTracker(r.progress, total, r.config.ReportInterval)
	tracker.Start()

	reprocessed := 0
	err = r.iterator.ForEach(ctx, func(docs []*core.Document) error {
		n, err := r.processor.Process(ctx, docs)
		reprocessed += n
		if err != nil {
			return fmt.Errorf("failed to process batch: %w", err)
		}
		tracker.Increment(len(docs))
		return nil
	})
	if err != nil {
		return err
	}

	tracker.Finish()

	elapsed := tracker.Elapsed()
	fmt.Fprintf(r.progress, "Reprocessing complete. %d of %d documents reprocessed in %v (%.1f documents/sec)\n",
		reprocessed, total, elapsed.Round(time.Second), float64(total)/elapsed.Seconds())
	return nil
}
