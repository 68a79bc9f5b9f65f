package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docstream/core"
	"github.com/poiesic/docstream/storage"
)

// DocumentRepository implements storage.DocumentRepository for BadgerDB.
type DocumentRepository struct {
	backend *Backend
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(backend *Backend) *DocumentRepository {
	return &DocumentRepository{
		backend: backend,
	}
}

// Close releases resources. DocumentRepository has no resources to release.
func (r *DocumentRepository) Close() error {
	return nil
}

// Upsert inserts the document if absent, or returns the existing row unchanged.
func (r *DocumentRepository) Upsert(ctx context.Context, doc *core.Document) (*core.Document, bool, error) {
	if err := core.ValidateDocument(doc); err != nil {
		return nil, false, err
	}

	var result *core.Document
	var created bool
	err := r.backend.WithWriteRetry(func(tx *badger.Txn) error {
		key := makeDocumentKey(doc.Id)

		existing, err := readDocument(tx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			// Dedup hit: the registered row wins, the request is a no-op.
			result = existing
			created = false
			return nil
		}

		stored := *doc
		if stored.Status == 0 {
			stored.Status = core.StatusPending
		}
		stored.CreatedAt = time.Now().UTC()
		stored.UpdatedAt = stored.CreatedAt

		if err := tx.Set(key, storage.MarshalDocument(&stored)); err != nil {
			return err
		}
		result = &stored
		created = true
		return tx.Commit()
	})

	return result, created, err
}

// Get retrieves a document by ID.
func (r *DocumentRepository) Get(ctx context.Context, id core.ID) (*core.Document, error) {
	var result *core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readDocument(tx, makeDocumentKey(id))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// UpdateStatus sets the denormalized processing status, last writer wins.
func (r *DocumentRepository) UpdateStatus(ctx context.Context, id core.ID, status core.ProcessingStatus) error {
	return r.mutate(id, func(doc *core.Document) {
		doc.Status = status
	})
}

// SetParsedLocation records where the parsed representation was stored.
func (r *DocumentRepository) SetParsedLocation(ctx context.Context, id core.ID, location string) error {
	return r.mutate(id, func(doc *core.Document) {
		doc.ParsedLocation = location
	})
}

// List returns up to limit documents with ID greater than after, ordered by ID.
func (r *DocumentRepository) List(ctx context.Context, after core.ID, limit int) ([]*core.Document, error) {
	var results []*core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(docRecordPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		seek := opts.Prefix
		if after > 0 {
			// Seek just past the after key.
			seek = makeDocumentKey(after)
			seek = append(seek, 0)
		}
		for iter.Seek(seek); iter.Valid(); iter.Next() {
			if limit > 0 && len(results) >= limit {
				break
			}
			var doc *core.Document
			err := iter.Item().Value(func(val []byte) error {
				var err error
				doc, err = storage.UnmarshalDocument(val)
				return err
			})
			if err != nil {
				return err
			}
			results = append(results, doc)
		}
		return nil
	}, false)
	return results, err
}

// mutate applies fn to the stored document and bumps UpdatedAt.
func (r *DocumentRepository) mutate(id core.ID, fn func(*core.Document)) error {
	return r.backend.WithWriteRetry(func(tx *badger.Txn) error {
		key := makeDocumentKey(id)
		doc, err := readDocument(tx, key)
		if err != nil {
			return err
		}
		if doc == nil {
			return storage.ErrNotFound
		}

		fn(doc)
		doc.UpdatedAt = time.Now().UTC()

		if err := tx.Set(key, storage.MarshalDocument(doc)); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// readDocument reads a document by key within a transaction.
// Returns nil, nil if the key doesn't exist.
func readDocument(tx *badger.Txn, key []byte) (*core.Document, error) {
	item, err := tx.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	var doc *core.Document
	err = item.Value(func(val []byte) error {
		var err error
		doc, err = storage.UnmarshalDocument(val)
		return err
	})
	return doc, err
}
