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

package docstream

import (
	"context"
	"io"
	"log/slog"

	"github.com/poiesic/docstream/pipeline"
	"github.com/poiesic/docstream/reprocess"
	"github.com/poiesic/docstream/search"
	"github.com/poiesic/docstream/services"
	"github.com/poiesic/docstream/services/mock"
	"github.com/poiesic/docstream/services/openai"
	"github.com/poiesic/docstream/storage"
	"github.com/poiesic/docstream/storage/badger"
	"github.com/poiesic/docstream/storage/sqlite"
)

// Database bundles a storage backend, the external service provider, and the
// job ledger behind one handle. It is the embedding point for applications:
// open it, then hang registries, coordinators, and searchers off it.
type Database struct {
	closer       io.Closer
	documentRepo storage.DocumentRepository
	jobRepo      storage.JobRepository
	chunkRepo    storage.ChunkRepository
	eventRepo    storage.EventRepository
	provider     services.Provider
	config       *services.Config
	ledger       *pipeline.Ledger
	chunker      pipeline.Chunker
	logger       *slog.Logger
}

// DatabaseOption configures a Database.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	serviceConfig *services.Config
	ledgerOpts    []pipeline.LedgerOption
	objectDir     string
	chunker       pipeline.Chunker
	useSQLite     bool
	mockServices  bool
}

// WithServiceConfig sets the external service configuration.
func WithServiceConfig(config *services.Config) DatabaseOption {
	return func(o *databaseOptions) {
		o.serviceConfig = config
	}
}

// WithLedgerOptions forwards options to the job ledger (retry budget,
// backoff, lease duration).
func WithLedgerOptions(opts ...pipeline.LedgerOption) DatabaseOption {
	return func(o *databaseOptions) {
		o.ledgerOpts = append(o.ledgerOpts, opts...)
	}
}

// WithObjectDir sets the directory for raw and parsed document bytes.
// Default is "objects" next to the database.
func WithObjectDir(dir string) DatabaseOption {
	return func(o *databaseOptions) {
		o.objectDir = dir
	}
}

// WithChunker replaces the default recursive chunker.
func WithChunker(chunker pipeline.Chunker) DatabaseOption {
	return func(o *databaseOptions) {
		o.chunker = chunker
	}
}

// WithSQLite stores state in a single SQLite file instead of a BadgerDB
// directory.
func WithSQLite() DatabaseOption {
	return func(o *databaseOptions) {
		o.useSQLite = true
	}
}

// WithMockServices swaps the external services for deterministic in-process
// doubles. Intended for tests and local smoke runs without a parse or
// embedding service.
func WithMockServices() DatabaseOption {
	return func(o *databaseOptions) {
		o.mockServices = true
	}
}

// NewDatabase opens the document store at filePath and wires the provider,
// ledger, and repositories.
func NewDatabase(filePath string, opts ...DatabaseOption) (*Database, error) {
	options := &databaseOptions{
		serviceConfig: services.DefaultConfig(),
		objectDir:     filePath + "-objects",
	}
	for _, opt := range opts {
		opt(options)
	}

	chunker := options.chunker
	if chunker == nil {
		var err error
		chunker, err = pipeline.NewRecursiveChunker(1000, 200, "v1")
		if err != nil {
			return nil, err
		}
	}

	db := &Database{
		config:  options.serviceConfig,
		chunker: chunker,
		logger:  slog.Default(),
	}

	if options.useSQLite {
		store, err := sqlite.Open(context.Background(), filePath)
		if err != nil {
			return nil, err
		}
		db.closer = store
		db.documentRepo = store.Documents()
		db.jobRepo = store.Jobs()
		db.chunkRepo = store.Chunks()
		db.eventRepo = store.Events()
	} else {
		repos, err := badger.NewRepositories(filePath, false)
		if err != nil {
			return nil, err
		}
		db.closer = repos
		db.documentRepo = repos.Documents
		db.jobRepo = repos.Jobs
		db.chunkRepo = repos.Chunks
		db.eventRepo = repos.Events
	}

	if options.mockServices {
		db.provider = mock.NewMockProvider()
	} else {
		provider, err := openai.NewProvider(options.serviceConfig, options.objectDir)
		if err != nil {
			db.closer.Close()
			return nil, err
		}
		db.provider = provider
	}

	ledger, err := pipeline.NewLedger(db.jobRepo, db.documentRepo, db.chunkRepo, db.eventRepo, options.ledgerOpts...)
	if err != nil {
		db.provider.Close()
		db.closer.Close()
		return nil, err
	}
	db.ledger = ledger

	return db, nil
}

// Close releases the provider and the storage backend.
func (db *Database) Close() error {
	if err := db.provider.Close(); err != nil {
		db.logger.Error("error closing services provider", "err", err)
	}
	if err := db.closer.Close(); err != nil {
		db.logger.Error("error closing storage", "err", err)
		return err
	}
	return nil
}

// DocumentRepository returns the document repository.
func (db *Database) DocumentRepository() storage.DocumentRepository {
	return db.documentRepo
}

// JobRepository returns the job repository.
func (db *Database) JobRepository() storage.JobRepository {
	return db.jobRepo
}

// ChunkRepository returns the chunk repository.
func (db *Database) ChunkRepository() storage.ChunkRepository {
	return db.chunkRepo
}

// EventRepository returns the event repository.
func (db *Database) EventRepository() storage.EventRepository {
	return db.eventRepo
}

// Ledger returns the job ledger.
func (db *Database) Ledger() *pipeline.Ledger {
	return db.ledger
}

// NewRegistry creates the document front door bound to this database.
func (db *Database) NewRegistry() (*pipeline.Registry, error) {
	return pipeline.NewRegistry(db.documentRepo, db.provider.ObjectStore(), db.ledger)
}

// NewCoordinator creates a worker coordinator bound to this database.
func (db *Database) NewCoordinator(opts ...pipeline.CoordinatorOption) (*pipeline.Coordinator, error) {
	return pipeline.NewCoordinator(db.ledger, db.documentRepo, db.chunkRepo, db.provider, db.config, db.chunker, opts...)
}

// NewReprocessor creates a batch reprocessor bound to this database.
// progress: where to write progress output (typically os.Stderr)
func (db *Database) NewReprocessor(config *reprocess.Config, progress io.Writer) *reprocess.Reprocessor {
	return reprocess.NewReprocessor(db.documentRepo, db.chunkRepo,
		db.provider.ObjectStore(), db.chunker, db.provider.Embedder(),
		db.config.EmbeddingModel, db.config.EmbeddingVersion, config, progress)
}

// NewSearcher creates a semantic searcher bound to this database.
func (db *Database) NewSearcher(opts ...search.Option) (*search.Searcher, error) {
	return search.NewSearcher(db.chunkRepo, db.provider.Embedder(), opts...)
}
